package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/config"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

// Reporter publishes the outcome of a scheduled question, e.g. to a chat
// channel.
type Reporter interface {
	Report(ctx context.Context, channel, name string, resp *domain.FinalResponse, runErr error) error
}

// QuestionJob returns a cron job that asks s.Question through svc. Runs are
// recorded by the service itself; the reporter, when set, also gets each
// outcome.
func QuestionJob(ctx context.Context, s config.ScheduleConfig, svc ports.QueryService, reporter Reporter, channel string, log zerolog.Logger) *domain.ScheduledJob {
	log = log.With().Str("component", "schedules").Str("schedule", s.Name).Logger()
	return &domain.ScheduledJob{
		ID:       "question-" + s.Name,
		Name:     s.Name,
		Cron:     s.Cron,
		Priority: 1,
		Detached: true,
		Job: domain.RunnableFunc(func() error {
			log.Info().Str("question", s.Question).Msg("running scheduled question")
			resp, err := svc.Run(ctx, s.Question)
			switch {
			case err != nil:
				log.Error().Err(err).Msg("scheduled question failed")
			case resp != nil:
				log.Info().Str("run_id", resp.RunID).Str("status", resp.Status).Msg("scheduled question answered")
			}

			if reporter != nil && channel != "" {
				if rerr := reporter.Report(ctx, channel, s.Name, resp, err); rerr != nil {
					log.Warn().Err(rerr).Str("channel", channel).Msg("failed to report scheduled question")
				}
			}
			return err
		}),
	}
}

// StartScheduler queues every configured question, plus the schema refresh
// job when context.refreshCron is set, and starts the scheduler. Callers stop
// it with Stop.
func (a *App) StartScheduler(ctx context.Context, reporter Reporter) (*domain.TaskScheduler, error) {
	sched := domain.NewTaskScheduler(a.Pool, a.Bus, nil, a.Log)

	channel := strings.TrimSpace(a.Config.Slack.ReportChannel)
	for _, s := range a.Config.Schedules {
		if err := sched.Schedule(QuestionJob(ctx, s, a.Service, reporter, channel, a.Log)); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.Name, err)
		}
	}
	if cron := a.Config.Context.RefreshCron; cron != "" {
		if err := sched.Schedule(a.Schema.RefreshJob(ctx, cron)); err != nil {
			return nil, fmt.Errorf("schema refresh: %w", err)
		}
	}

	if sched.Pending() == 0 {
		a.Log.Debug().Msg("no scheduled jobs configured")
	}
	sched.Start(ctx)
	return sched, nil
}
