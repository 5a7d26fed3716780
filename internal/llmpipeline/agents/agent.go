// Package agents turns plan tasks into database queries. Each agent asks the
// LLM for a query in its store's language, runs it, and feeds errors back to
// the model until the query works or the retry budget is spent.
package agents

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/metrics"
)

// Agent answers one task against one kind of database. Failures are
// reported in the returned result, never as a Go error.
type Agent interface {
	Kind() domain.AgentKind
	Run(ctx context.Context, task *domain.Task, schema *domain.SchemaContext, retries int) *domain.TaskResult
}

// Registry maps agent kinds to agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[domain.AgentKind]Agent
	log    zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		agents: make(map[domain.AgentKind]Agent),
		log:    log.With().Str("component", "agents").Logger(),
	}
}

// Register adds an agent. Kinds must be unique.
func (r *Registry) Register(agent Agent) error {
	if agent == nil || agent.Kind() == "" {
		return fmt.Errorf("cannot register nil agent or agent with empty kind")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kind := agent.Kind()
	if _, exists := r.agents[kind]; exists {
		return fmt.Errorf("agent '%s' already registered", kind)
	}
	r.agents[kind] = agent
	r.log.Debug().Str("agent", string(kind)).Msg("agent registered")
	return nil
}

// Get returns the agent for kind, or ErrNoAgent.
func (r *Registry) Get(kind domain.AgentKind) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoAgent, kind)
	}
	return agent, nil
}

// Kinds lists the registered kinds alphabetically.
func (r *Registry) Kinds() []domain.AgentKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.AgentKind, 0, len(r.agents))
	for k := range r.agents {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

const defaultTaskTimeout = 60 * time.Second

// Guard dispatches tasks to registered agents under a per-task deadline.
// Unknown kinds, panics and timeouts all come back as error results.
type Guard struct {
	registry *Registry
	timeout  time.Duration
	log      zerolog.Logger
}

// NewGuard creates a Guard. A non-positive timeout uses 60s.
func NewGuard(registry *Registry, timeout time.Duration, log zerolog.Logger) *Guard {
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	return &Guard{
		registry: registry,
		timeout:  timeout,
		log:      log.With().Str("component", "agent_guard").Logger(),
	}
}

// Run executes task with the agent registered for its kind.
func (g *Guard) Run(ctx context.Context, task *domain.Task, schema *domain.SchemaContext, retries int) *domain.TaskResult {
	start := time.Now()
	res := g.run(ctx, task, schema, retries)
	if res.Task == nil {
		res.Task = task
	}
	res.Duration = time.Since(start)

	metrics.TasksTotal.WithLabelValues(string(task.Agent), res.Status).Inc()
	metrics.TaskDuration.WithLabelValues(string(task.Agent)).Observe(res.Duration.Seconds())

	ev := g.log.Debug()
	if !res.OK() {
		ev = g.log.Warn().Str("error", res.Error)
	}
	ev.Str("task", task.ID).
		Str("agent", string(task.Agent)).
		Int("attempts", res.Attempts).
		Dur("duration", res.Duration).
		Msg("task finished")
	return res
}

func (g *Guard) run(ctx context.Context, task *domain.Task, schema *domain.SchemaContext, retries int) *domain.TaskResult {
	agent, err := g.registry.Get(task.Agent)
	if err != nil {
		return domain.FailedResult(task, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan *domain.TaskResult, 1)
	go func() {
		var res *domain.TaskResult
		var pc panics.Catcher
		pc.Try(func() { res = agent.Run(ctx, task, schema, retries) })
		if r := pc.Recovered(); r != nil {
			res = domain.FailedResult(task, fmt.Errorf("agent %s panicked: %w", task.Agent, r.AsError()))
		}
		if res == nil {
			res = domain.FailedResult(task, fmt.Errorf("agent %s returned no result", task.Agent))
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.FailedResult(task, fmt.Errorf("task timed out after %s", g.timeout))
		}
		return domain.FailedResult(task, ctx.Err())
	}
}
