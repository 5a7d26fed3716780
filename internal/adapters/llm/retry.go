package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/metrics"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

// Retrying wraps a model and retries transient failures with exponential
// backoff. Context cancellation is never retried.
type Retrying struct {
	next       ports.LLM
	maxRetries uint
	newBackOff func() backoff.BackOff
	log        zerolog.Logger
}

// NewRetrying decorates next. maxRetries counts attempts after the first.
func NewRetrying(next ports.LLM, maxRetries uint, log zerolog.Logger) *Retrying {
	return &Retrying{
		next:       next,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		log: log,
	}
}

func (r *Retrying) Name() string { return r.next.Name() }

func (r *Retrying) Complete(ctx context.Context, messages []ports.Message, opts ...ports.CompletionOption) (string, error) {
	name := r.next.Name()
	attempt := 0

	op := func() (string, error) {
		attempt++
		start := time.Now()
		out, err := r.next.Complete(ctx, messages, opts...)
		metrics.LLMCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.LLMCallsTotal.WithLabelValues(name, "error").Inc()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", backoff.Permanent(err)
			}
			r.log.Warn().Err(err).Int("attempt", attempt).Str("llm", name).Msg("completion failed, retrying")
			return "", err
		}
		metrics.LLMCallsTotal.WithLabelValues(name, "success").Inc()
		return out, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(r.maxRetries+1),
	)
}
