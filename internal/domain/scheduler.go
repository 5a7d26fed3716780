package domain

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ScheduledJob is a recurring (cron) or one-shot job owned by the scheduler.
type ScheduledJob struct {
	ID       string
	Name     string
	Cron     string // empty for one-shot jobs
	Priority int    // higher wins when two jobs are due at the same instant
	Next     time.Time
	Job      Runnable
	Runs     int

	// Detached jobs run on their own goroutine instead of the pool. Jobs
	// that submit work to the same pool and wait for it must be detached,
	// or they can hold every worker while their own tasks sit queued. A
	// detached job is skipped while its previous run is still going.
	Detached bool

	active atomic.Bool
}

// NextAfter computes the next cron tick strictly after ref.
func NextAfter(expr string, ref time.Time) (time.Time, error) {
	if !gronx.New().IsValid(expr) {
		return time.Time{}, fmt.Errorf("invalid cron expression %q", expr)
	}
	return gronx.NextTickAfter(expr, ref, false)
}

// jobHeap implements heap.Interface ordered by next run time, then priority.
type jobHeap []*ScheduledJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if !h[i].Next.Equal(h[j].Next) {
		return h[i].Next.Before(h[j].Next)
	}
	return h[i].Priority > h[j].Priority
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*ScheduledJob)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return item
}

// TaskScheduler dispatches due jobs to the worker pool.
type TaskScheduler struct {
	mu      sync.Mutex
	queue   *jobHeap
	wake    chan struct{} // nudges the loop when the queue head changes
	running bool
	cancel  context.CancelFunc
	eg      *errgroup.Group

	pool  Submitter
	bus   Publisher
	clock clockwork.Clock
	log   zerolog.Logger
}

// NewTaskScheduler creates a new TaskScheduler.
func NewTaskScheduler(pool Submitter, bus Publisher, clock clockwork.Clock, logger zerolog.Logger) *TaskScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if bus == nil {
		bus = NopPublisher
	}
	h := make(jobHeap, 0)
	heap.Init(&h)
	return &TaskScheduler{
		queue: &h,
		wake:  make(chan struct{}, 1),
		pool:  pool,
		bus:   bus,
		clock: clock,
		log:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Schedule queues job. Cron jobs get their first run time computed from now;
// one-shot jobs with a zero Next run immediately.
func (ts *TaskScheduler) Schedule(job *ScheduledJob) error {
	if job == nil || job.Job == nil {
		return fmt.Errorf("cannot schedule nil job")
	}
	if job.Cron != "" {
		next, err := NextAfter(job.Cron, ts.clock.Now())
		if err != nil {
			return err
		}
		job.Next = next
	} else if job.Next.IsZero() {
		job.Next = ts.clock.Now()
	}

	ts.mu.Lock()
	heap.Push(ts.queue, job)
	ts.mu.Unlock()
	ts.signal()

	ts.log.Debug().Str("job", job.Name).Time("next", job.Next).Msg("job scheduled")
	return nil
}

// Pending returns the number of queued jobs.
func (ts *TaskScheduler) Pending() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.queue.Len()
}

// Start begins the scheduler's main loop in a separate goroutine.
func (ts *TaskScheduler) Start(ctx context.Context) {
	ts.mu.Lock()
	if ts.running {
		ts.mu.Unlock()
		return
	}
	ts.running = true
	ctx, cancel := context.WithCancel(ctx)
	ts.cancel = cancel
	ts.eg, ctx = errgroup.WithContext(ctx)
	ts.mu.Unlock()

	ts.eg.Go(func() error {
		return ts.runLoop(ctx)
	})
}

// Stop signals the scheduler to stop and waits for the loop to exit.
func (ts *TaskScheduler) Stop() {
	ts.mu.Lock()
	if !ts.running {
		ts.mu.Unlock()
		return
	}
	ts.running = false
	ts.cancel()
	eg := ts.eg
	ts.mu.Unlock()

	if err := eg.Wait(); err != nil && err != context.Canceled {
		ts.log.Error().Err(err).Msg("scheduler loop exited with error")
	}
}

func (ts *TaskScheduler) signal() {
	select {
	case ts.wake <- struct{}{}:
	default:
	}
}

func (ts *TaskScheduler) runLoop(ctx context.Context) error {
	for {
		ts.mu.Lock()
		var next *ScheduledJob
		if ts.queue.Len() > 0 {
			next = (*ts.queue)[0]
		}

		if next == nil {
			ts.mu.Unlock()
			select {
			case <-ts.wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		now := ts.clock.Now()
		wait := next.Next.Sub(now)
		if wait <= 0 {
			job := heap.Pop(ts.queue).(*ScheduledJob)
			ts.mu.Unlock()
			ts.dispatch(job, now)
			continue
		}
		ts.mu.Unlock()

		timer := ts.clock.NewTimer(wait)
		select {
		case <-timer.Chan():
		case <-ts.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (ts *TaskScheduler) dispatch(job *ScheduledJob, now time.Time) {
	job.Runs++
	ts.bus.Publish(NewEvent(JobTriggered, map[string]any{
		"job":  job.Name,
		"id":   job.ID,
		"runs": job.Runs,
	}))

	if job.Detached {
		ts.runDetached(job)
	} else if err := ts.pool.Add(job.Job); err != nil {
		ts.log.Error().Err(err).Str("job", job.Name).Msg("failed to dispatch job")
	}

	if job.Cron == "" {
		return
	}
	next, err := NextAfter(job.Cron, now)
	if err != nil {
		ts.log.Error().Err(err).Str("job", job.Name).Msg("cannot compute next run, dropping job")
		return
	}
	job.Next = next
	ts.mu.Lock()
	heap.Push(ts.queue, job)
	ts.mu.Unlock()
}

// runDetached starts job on the scheduler's errgroup; Stop waits for it.
func (ts *TaskScheduler) runDetached(job *ScheduledJob) {
	if !job.active.CompareAndSwap(false, true) {
		ts.log.Warn().Str("job", job.Name).Msg("previous run still in progress, skipping")
		return
	}
	ts.eg.Go(func() error {
		defer job.active.Store(false)
		if err := job.Job.Run(); err != nil {
			ts.log.Debug().Err(err).Str("job", job.Name).Msg("detached job returned error")
		}
		return nil
	})
}
