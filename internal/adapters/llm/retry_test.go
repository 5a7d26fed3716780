package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

func newTestRetrying(next ports.LLM, retries uint) *Retrying {
	r := NewRetrying(next, retries, zerolog.Nop())
	r.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return r
}

func TestRetrying_RecoversFromTransientError(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockLLM(ctrl)
	mock.EXPECT().Name().Return("mock").AnyTimes()
	gomock.InOrder(
		mock.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("503")),
		mock.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Return("SELECT 1", nil),
	)

	out, err := newTestRetrying(mock, 3).Complete(context.Background(),
		[]ports.Message{{Role: ports.RoleUser, Content: "q"}}, ports.WithJSONResponse())
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out)
}

func TestRetrying_GivesUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockLLM(ctrl)
	mock.EXPECT().Name().Return("mock").AnyTimes()
	mock.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("boom")).Times(3)

	_, err := newTestRetrying(mock, 2).Complete(context.Background(), nil)
	require.ErrorContains(t, err, "boom")
}

func TestRetrying_CancellationIsPermanent(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockLLM(ctrl)
	mock.EXPECT().Name().Return("mock").AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	mock.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, []ports.Message, ...ports.CompletionOption) (string, error) {
			cancel()
			return "", context.Canceled
		}).Times(1)

	_, err := newTestRetrying(mock, 5).Complete(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestApplyCompletionOptions(t *testing.T) {
	o := ports.ApplyCompletionOptions(ports.WithTemperature(0), ports.WithMaxTokens(64), ports.WithJSONResponse())
	require.NotNil(t, o.Temperature)
	assert.Zero(t, *o.Temperature)
	assert.EqualValues(t, 64, o.MaxTokens)
	assert.True(t, o.JSON)
	assert.EqualValues(t, 64, pick(o.MaxTokens, 2048))
	assert.EqualValues(t, 2048, pick(0, 2048))
}
