package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
)

func newResponse(id, question string, started time.Time) *domain.FinalResponse {
	task := domain.NewTask("task-0", domain.SQLAgent, "count sales", 5)
	plan := &domain.Plan{Question: question, Tasks: []*domain.Task{task}}
	plan.Analyze()
	return &domain.FinalResponse{
		RunID:    id,
		Question: question,
		Status:   domain.StatusSuccess,
		Plan:     plan,
		SQLResults: []*domain.TaskResult{{
			Task:    task,
			Status:  domain.StatusSuccess,
			Query:   "SELECT COUNT(*) AS n FROM sales",
			Columns: []string{"n"},
			Rows:    []map[string]any{{"n": 12}},
			Count:   1,
		}},
		NoSQLResults: []*domain.TaskResult{},
		StartedAt:    started,
		Duration:     1500 * time.Millisecond,
	}
}

func TestStore_RecordListGet(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, newResponse("run-1", "how many sales?", base)))
	require.NoError(t, store.Record(ctx, newResponse("run-2", "list users", base.Add(time.Minute))))

	runs, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID, "newest first")
	assert.Equal(t, "list users", runs[0].Question)
	assert.EqualValues(t, 1500, runs[0].DurationMS)

	runs, err = store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "how many sales?", got.Question)
	assert.Equal(t, base, got.StartedAt.UTC())
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	require.Len(t, got.SQLResults, 1)
	assert.Equal(t, "SELECT COUNT(*) AS n FROM sales", got.SQLResults[0].Query)
	require.NotNil(t, got.Plan)
	assert.Equal(t, 1, got.Plan.Analysis.TotalTasks)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestStore_RecordReplaces(t *testing.T) {
	ctx := t.Context()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	resp := newResponse("run-1", "q", time.Now())
	require.NoError(t, store.Record(ctx, resp))
	resp.Status = domain.StatusError
	require.NoError(t, store.Record(ctx, resp))

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.StatusError, runs[0].Status)
}

func TestStore_ReopenKeepsRuns(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, newResponse("run-1", "q", time.Now())))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()
	_, err = store.Get(ctx, "run-1")
	require.NoError(t, err)
}

func TestNop(t *testing.T) {
	var n Nop
	require.NoError(t, n.Record(t.Context(), newResponse("x", "q", time.Now())))
	runs, err := n.List(t.Context(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
	_, err = n.Get(t.Context(), "x")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}
