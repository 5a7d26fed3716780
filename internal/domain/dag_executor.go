package domain

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Submitter hands runnable jobs to an execution engine such as the worker pool.
type Submitter interface {
	Add(job Runnable) error
}

// TaskFunc executes a single task. A returned error marks the task failed.
type TaskFunc func(ctx context.Context, task *Task) error

const (
	defaultBaseTimeout    = 30 * time.Second
	defaultPerTaskTimeout = 60 * time.Second
	maxDAGTimeout         = 15 * time.Minute
)

// DAGExecutor runs the tasks of a DAG in dependency order. Independent tasks
// run concurrently; tasks whose dependency failed are skipped.
type DAGExecutor struct {
	pool           Submitter // nil runs every task on its own goroutine
	bus            Publisher
	log            zerolog.Logger
	perTaskTimeout time.Duration
}

// ExecutorOption configures a DAGExecutor.
type ExecutorOption func(*DAGExecutor)

// WithPerTaskTimeout sets the time budget added to the DAG deadline per task.
func WithPerTaskTimeout(d time.Duration) ExecutorOption {
	return func(de *DAGExecutor) {
		if d > 0 {
			de.perTaskTimeout = d
		}
	}
}

// NewDAGExecutor creates a new DAGExecutor.
func NewDAGExecutor(pool Submitter, bus Publisher, logger zerolog.Logger, opts ...ExecutorOption) *DAGExecutor {
	if bus == nil {
		bus = NopPublisher
	}
	de := &DAGExecutor{
		pool:           pool,
		bus:            bus,
		log:            logger.With().Str("component", "dag_executor").Logger(),
		perTaskTimeout: defaultPerTaskTimeout,
	}
	for _, opt := range opts {
		opt(de)
	}
	return de
}

type taskOutcome struct {
	id        string
	startedAt time.Time
	endedAt   time.Time
	err       error
}

// Execute runs every task in dag through run. It returns an error only when
// the DAG is invalid or ctx ends before all tasks settle; individual task
// failures are recorded on the tasks themselves.
func (de *DAGExecutor) Execute(ctx context.Context, dag *DAG, run TaskFunc) error {
	if dag == nil {
		return fmt.Errorf("cannot execute nil DAG")
	}
	if err := dag.Validate(); err != nil {
		return fmt.Errorf("DAG validation failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, de.timeoutFor(dag))
	defer cancel()

	critical := computeCriticalPath(dag)
	for _, t := range critical {
		t.Critical = true
	}
	successors := calculateSuccessorCounts(dag)
	order := func(a, b *Task) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		if a.Critical != b.Critical {
			if a.Critical {
				return -1
			}
			return 1
		}
		if successors[a.ID] != successors[b.ID] {
			return successors[b.ID] - successors[a.ID]
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	}

	de.log.Debug().
		Str("dag", dag.ID).
		Int("tasks", len(dag.Tasks)).
		Int("critical_path", len(critical)).
		Msg("executing DAG")

	remaining := make(map[string]int, len(dag.Tasks))
	for id := range dag.Tasks {
		remaining[id] = len(dag.ReverseEdges[id])
	}
	outcomes := make(chan taskOutcome, len(dag.Tasks))
	var wg conc.WaitGroup

	submit := func(ready []*Task) {
		slices.SortFunc(ready, order)
		for _, t := range ready {
			t.Status = Running
			de.publish(dag, TaskScheduled, t)
			job := de.wrap(ctx, t, run, outcomes)
			if de.pool == nil {
				wg.Go(func() { _ = job.Run() })
				continue
			}
			if err := de.pool.Add(job); err != nil {
				outcomes <- taskOutcome{id: t.ID, startedAt: time.Now(), endedAt: time.Now(), err: fmt.Errorf("submit task: %w", err)}
			}
		}
	}

	submit(dag.Sources())

	settled := 0
	for settled < len(dag.Tasks) {
		select {
		case <-ctx.Done():
			de.abandon(dag, ctx.Err())
			return fmt.Errorf("DAG %s did not finish: %w", dag.ID, ctx.Err())
		case out := <-outcomes:
			t := dag.Tasks[out.id]
			t.StartedAt = out.startedAt
			t.CompletedAt = out.endedAt
			settled++

			if out.err != nil {
				t.Status = Failed
				t.Error = out.err.Error()
				de.publish(dag, TaskFailed, t)
				de.log.Warn().Str("dag", dag.ID).Str("task", t.ID).Err(out.err).Msg("task failed")
				for _, id := range dag.Descendants(t.ID) {
					dep := dag.Tasks[id]
					if dep.Status != Pending {
						continue
					}
					dep.Status = Skipped
					dep.Error = fmt.Sprintf("dependency %s failed", t.ID)
					de.publish(dag, TaskSkipped, dep)
					settled++
				}
				continue
			}

			t.Status = Completed
			de.publish(dag, TaskCompleted, t)

			var ready []*Task
			for _, succ := range dag.Edges[t.ID] {
				remaining[succ]--
				if remaining[succ] == 0 && dag.Tasks[succ].Status == Pending {
					ready = append(ready, dag.Tasks[succ])
				}
			}
			if len(ready) > 0 {
				submit(ready)
			}
		}
	}

	wg.Wait()
	return nil
}

// wrap builds the runnable that executes one task and reports its outcome.
// Only the executor loop mutates the task; the job reports through out.
func (de *DAGExecutor) wrap(ctx context.Context, t *Task, run TaskFunc, out chan<- taskOutcome) Runnable {
	return RunnableFunc(func() error {
		res := taskOutcome{id: t.ID, startedAt: time.Now()}
		if err := ctx.Err(); err != nil {
			res.err = err
		} else {
			var pc panics.Catcher
			pc.Try(func() { res.err = run(ctx, t) })
			if r := pc.Recovered(); r != nil {
				res.err = fmt.Errorf("task %s panicked: %w", t.ID, r.AsError())
			}
		}
		res.endedAt = time.Now()
		out <- res
		return res.err
	})
}

// abandon marks every unsettled task once the DAG deadline has passed.
func (de *DAGExecutor) abandon(dag *DAG, cause error) {
	for _, id := range dag.sortedIDs() {
		t := dag.Tasks[id]
		switch t.Status {
		case Pending:
			t.Status = Skipped
			t.Error = cause.Error()
			de.publish(dag, TaskSkipped, t)
		case Running:
			t.Status = Failed
			t.Error = cause.Error()
			de.publish(dag, TaskFailed, t)
		}
	}
}

func (de *DAGExecutor) publish(dag *DAG, topic string, t *Task) {
	snapshot := *t
	de.bus.Publish(NewEvent(topic, &snapshot).WithRun(dag.ID))
}

// timeoutFor sizes the DAG deadline from its task count.
func (de *DAGExecutor) timeoutFor(dag *DAG) time.Duration {
	timeout := defaultBaseTimeout + time.Duration(len(dag.Tasks))*de.perTaskTimeout

	var estimated time.Duration
	for _, t := range dag.Tasks {
		estimated += t.EstimatedDuration
	}
	if 2*estimated > timeout {
		timeout = 2 * estimated
	}
	return min(timeout, maxDAGTimeout)
}

// computeCriticalPath returns the longest chain of dependent tasks, weighted
// by estimated duration (one unit per task when no estimate exists).
func computeCriticalPath(dag *DAG) []*Task {
	order, err := dag.TopologicalOrder()
	if err != nil || len(order) == 0 {
		return nil
	}

	weight := func(t *Task) time.Duration {
		if t.EstimatedDuration > 0 {
			return t.EstimatedDuration
		}
		return time.Second
	}

	ect := make(map[string]time.Duration, len(order))
	pred := make(map[string]string, len(order))
	for _, t := range order {
		best := weight(t)
		for _, dep := range dag.ReverseEdges[t.ID] {
			if c := ect[dep] + weight(t); c > best {
				best = c
				pred[t.ID] = dep
			}
		}
		ect[t.ID] = best
	}

	end := order[0].ID
	for _, t := range order {
		if ect[t.ID] > ect[end] {
			end = t.ID
		}
	}

	var path []*Task
	for cur := end; cur != ""; cur = pred[cur] {
		path = append(path, dag.Tasks[cur])
	}
	slices.Reverse(path)
	return path
}

// calculateSuccessorCounts counts direct and indirect dependents of each task.
func calculateSuccessorCounts(dag *DAG) map[string]int {
	counts := make(map[string]int, len(dag.Tasks))
	for id := range dag.Tasks {
		counts[id] = len(dag.Descendants(id))
	}
	return counts
}
