// Package supervisor plans a question into database tasks and runs them:
// the planner LLM call first, then the task DAG through the agents.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/agents"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/formatter"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/prompts"
	"github.com/ZanzyTHEbar/dbagent/internal/metrics"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
	"github.com/ZanzyTHEbar/dbagent/internal/utils"
)

const (
	defaultMaxRetries   = 3
	defaultHistoryTurns = 6
	historyContentLimit = 500
)

// SchemaProvider supplies the schema context and fits text to the prompt
// budget.
type SchemaProvider interface {
	ports.SchemaSource
	Truncate(text string) string
}

// Deps are the collaborators a Supervisor drives.
type Deps struct {
	LLM       ports.LLM
	Schema    SchemaProvider
	Guard     *agents.Guard
	Executor  *domain.DAGExecutor
	Formatter *formatter.Formatter
	History   ports.RunStore   // optional
	Bus       domain.Publisher // optional
	Clock     clockwork.Clock  // optional
}

// Options tunes a Supervisor.
type Options struct {
	MaxRetries   int // upper bound and default for per-task retries
	HistoryTurns int // chat turns included in planning
}

// Supervisor answers questions end to end.
type Supervisor struct {
	deps Deps
	opts Options
	log  zerolog.Logger
}

var _ ports.QueryService = (*Supervisor)(nil)

// New creates a Supervisor.
func New(deps Deps, opts Options, log zerolog.Logger) *Supervisor {
	if deps.Bus == nil {
		deps.Bus = domain.NopPublisher
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = defaultHistoryTurns
	}
	return &Supervisor{
		deps: deps,
		opts: opts,
		log:  log.With().Str("component", "supervisor").Logger(),
	}
}

// Schema returns the current schema context.
func (s *Supervisor) Schema(ctx context.Context) (*domain.SchemaContext, error) {
	return s.deps.Schema.Collect(ctx)
}

// Analyze plans question without running it.
func (s *Supervisor) Analyze(ctx context.Context, question string) (*domain.Plan, error) {
	plan, _, err := s.analyze(ctx, question, nil)
	return plan, err
}

func (s *Supervisor) analyze(ctx context.Context, question string, history []ports.Message) (*domain.Plan, *domain.SchemaContext, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, nil, domain.ErrEmptyQuestion
	}

	sc, err := s.deps.Schema.Collect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to collect schema context: %w", err)
	}

	system := prompts.Render(prompts.MustLoad(prompts.Supervisor), map[string]string{
		"SQL_SCHEMA":   s.deps.Schema.Truncate(sc.SQLText()),
		"NOSQL_SCHEMA": s.deps.Schema.Truncate(sc.NoSQLText()),
		"QUESTION":     question,
	})
	messages := make([]ports.Message, 0, len(history)+2)
	messages = append(messages, ports.Message{Role: ports.RoleSystem, Content: system})
	messages = append(messages, recentTurns(history, s.opts.HistoryTurns)...)
	messages = append(messages, ports.Message{Role: ports.RoleUser, Content: question})

	reply, err := s.deps.LLM.Complete(ctx, messages, ports.WithJSONResponse())
	if err != nil {
		return nil, sc, fmt.Errorf("%w: %w", domain.ErrLLMFailed, err)
	}
	plan, err := parsePlan(question, reply, s.opts.MaxRetries, s.log)
	if err != nil {
		return nil, sc, err
	}
	plan.CreatedAt = s.deps.Clock.Now()

	s.log.Info().
		Int("tasks", plan.Analysis.TotalTasks).
		Any("agents", plan.Analysis.TaskTypes).
		Int("retries", plan.Context.ErrorHandling.RetryCount).
		Msg("plan created")
	return plan, sc, nil
}

// Run answers question.
func (s *Supervisor) Run(ctx context.Context, question string) (*domain.FinalResponse, error) {
	return s.RunWithHistory(ctx, question, nil)
}

// RunWithHistory answers question with earlier chat turns as planning
// context. A planning failure still yields a response with status error,
// alongside the returned error.
func (s *Supervisor) RunWithHistory(ctx context.Context, question string, history []ports.Message) (*domain.FinalResponse, error) {
	runID := utils.NewRunID()
	started := s.deps.Clock.Now()
	log := s.log.With().Str("run", runID).Logger()
	s.publish(runID, domain.RunStarted, map[string]any{"question": question})
	log.Info().Str("question", question).Msg("run started")

	plan, sc, err := s.analyze(ctx, question, history)
	if err != nil {
		resp := &domain.FinalResponse{
			RunID:        runID,
			Question:     question,
			Status:       domain.StatusError,
			Error:        fmt.Sprintf("Failed to analyze query: %v", err),
			SQLResults:   []*domain.TaskResult{},
			NoSQLResults: []*domain.TaskResult{},
			StartedAt:    started,
		}
		return s.finish(ctx, resp, started, log), err
	}
	s.publish(runID, domain.PlanCreated, plan)

	results, err := s.execute(ctx, runID, plan, sc)
	if err != nil {
		log.Warn().Err(err).Msg("task execution did not finish")
	}

	resp := formatter.Merge(runID, plan, results)
	resp.StartedAt = started
	if err != nil && resp.Error == "" {
		resp.Error = err.Error()
	}
	s.deps.Formatter.Finish(ctx, resp)
	return s.finish(ctx, resp, started, log), nil
}

// execute runs the plan's tasks through the DAG executor and returns one
// result per task in plan order.
func (s *Supervisor) execute(ctx context.Context, runID string, plan *domain.Plan, sc *domain.SchemaContext) ([]*domain.TaskResult, error) {
	dag, err := domain.BuildDAG(runID, plan.Tasks)
	if err != nil {
		return nil, fmt.Errorf("invalid task graph: %w", err)
	}

	var mu sync.Mutex
	byID := make(map[string]*domain.TaskResult, len(plan.Tasks))
	retries := plan.Context.ErrorHandling.RetryCount

	run := func(ctx context.Context, task *domain.Task) error {
		mu.Lock()
		input := withDependencyResults(task, byID)
		mu.Unlock()

		res := s.deps.Guard.Run(ctx, input, sc, retries)
		res.Task = task

		mu.Lock()
		byID[task.ID] = res
		mu.Unlock()
		if !res.OK() {
			return errors.New(res.Error)
		}
		return nil
	}
	execErr := s.deps.Executor.Execute(ctx, dag, run)

	mu.Lock()
	defer mu.Unlock()
	results := make([]*domain.TaskResult, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		res, ok := byID[t.ID]
		if !ok {
			reason := t.Error
			if reason == "" {
				reason = "task did not run"
			}
			res = &domain.TaskResult{Task: t, Status: domain.StatusError, Error: reason}
		}
		results = append(results, res)
	}
	return results, execErr
}

// withDependencyResults returns task itself, or a copy whose definition
// carries the rows its dependencies produced.
func withDependencyResults(task *domain.Task, done map[string]*domain.TaskResult) *domain.Task {
	if len(task.Dependencies) == 0 {
		return task
	}
	var b strings.Builder
	for _, id := range task.Dependencies {
		res, ok := done[id]
		if !ok || res.Task == nil {
			continue
		}
		fmt.Fprintf(&b, "\n\nResult of %s (%s):\n%s", id, res.Task.Definition, formatter.FormatResult(res, 20))
	}
	if b.Len() == 0 {
		return task
	}
	cp := *task
	cp.Definition = task.Definition + "\n\nEarlier task results you may use:" + b.String()
	return &cp
}

func (s *Supervisor) finish(ctx context.Context, resp *domain.FinalResponse, started time.Time, log zerolog.Logger) *domain.FinalResponse {
	resp.Duration = s.deps.Clock.Since(started)
	metrics.RunsTotal.WithLabelValues(resp.Status).Inc()
	metrics.RunDuration.Observe(resp.Duration.Seconds())

	topic := domain.RunCompleted
	if resp.Status == domain.StatusError {
		topic = domain.RunFailed
	}
	s.publish(resp.RunID, topic, map[string]any{
		"status":      resp.Status,
		"duration_ms": resp.Duration.Milliseconds(),
		"error":       resp.Error,
	})

	if s.deps.History != nil {
		if err := s.deps.History.Record(context.WithoutCancel(ctx), resp); err != nil {
			log.Warn().Err(err).Msg("failed to record run")
		}
	}
	log.Info().
		Str("status", resp.Status).
		Str("duration", utils.FormatDuration(resp.Duration)).
		Msg("run finished")
	return resp
}

func (s *Supervisor) publish(runID, topic string, data any) {
	s.deps.Bus.Publish(domain.NewEvent(topic, data).WithRun(runID))
}

// recentTurns keeps the last n messages, shortening long assistant replies.
func recentTurns(history []ports.Message, n int) []ports.Message {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]ports.Message, 0, len(history))
	for _, m := range history {
		if m.Role == ports.RoleSystem {
			continue
		}
		if m.Role == ports.RoleAssistant {
			m.Content = utils.Truncate(m.Content, historyContentLimit)
		}
		out = append(out, m)
	}
	return out
}
