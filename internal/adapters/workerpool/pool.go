package workerpool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/metrics"
)

const (
	defaultQueueSize       = 100
	defaultMonitorInterval = 10 * time.Second
	defaultCooldownPeriod  = 1 * time.Minute // Cooldown after any resize
	minWorkers             = 1
	cpuLowThreshold        = 0.5 // Threshold to consider scaling down
)

// ErrPoolStopped is returned by Add once Stop has been called.
var ErrPoolStopped = errors.New("worker pool stopped")

// WorkerPool manages a pool of goroutines to execute Runnable tasks.
type WorkerPool struct {
	minWorkers      int
	maxWorkers      int
	currentWorkers  int                  // Current number of active workers
	nextWorkerID    int                  // Monotonic id for log lines
	workerQueue     chan domain.Runnable // Channel to send tasks to workers
	retire          chan struct{}        // One receive retires one worker
	stopChan        chan struct{}        // Channel to signal workers and monitor to stop
	wg              sync.WaitGroup       // To wait for workers to finish
	monitor         *LoadMonitor         // System load monitor
	monitorInterval time.Duration        // How often to check load
	cooldownUntil   time.Time            // Time until resizing is allowed again
	monitorRunning  bool                 // Flag to track if monitor is active
	log             zerolog.Logger

	mu sync.Mutex // Protects currentWorkers, cooldownUntil, monitorRunning
}

// Option customises a WorkerPool.
type Option func(*WorkerPool)

// WithMonitorInterval changes how often load is sampled.
func WithMonitorInterval(d time.Duration) Option {
	return func(wp *WorkerPool) {
		if d > 0 {
			wp.monitorInterval = d
		}
	}
}

// NewWorkerPool creates a new WorkerPool with adaptive sizing.
func NewWorkerPool(initialWorkers, minPoolWorkers, maxPoolWorkers, queueSize int, monitor *LoadMonitor, log zerolog.Logger, opts ...Option) (*WorkerPool, error) {
	if minPoolWorkers <= 0 {
		minPoolWorkers = minWorkers
	}
	if maxPoolWorkers <= 0 {
		maxPoolWorkers = runtime.NumCPU() * 4
	}
	if maxPoolWorkers < minPoolWorkers {
		return nil, fmt.Errorf("maxWorkers (%d) below minWorkers (%d)", maxPoolWorkers, minPoolWorkers)
	}
	if initialWorkers <= 0 {
		initialWorkers = runtime.NumCPU()
	}
	initialWorkers = max(minPoolWorkers, min(initialWorkers, maxPoolWorkers))
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if monitor == nil {
		monitor = NewLoadMonitor(0.8, 0.9, log)
	}

	pool := &WorkerPool{
		minWorkers:      minPoolWorkers,
		maxWorkers:      maxPoolWorkers,
		workerQueue:     make(chan domain.Runnable, queueSize),
		retire:          make(chan struct{}, maxPoolWorkers),
		stopChan:        make(chan struct{}),
		monitor:         monitor,
		monitorInterval: defaultMonitorInterval,
		log:             log.With().Str("component", "workerpool").Logger(),
	}
	for _, opt := range opts {
		opt(pool)
	}

	pool.log.Debug().
		Int("min", minPoolWorkers).
		Int("max", maxPoolWorkers).
		Int("initial", initialWorkers).
		Int("queue", queueSize).
		Msg("initializing worker pool")

	pool.mu.Lock()
	for i := 0; i < initialWorkers; i++ {
		pool.startWorker()
	}
	pool.mu.Unlock()

	return pool, nil
}

// startWorker launches a new worker goroutine.
// Assumes mu lock is held by the caller.
func (wp *WorkerPool) startWorker() {
	wp.currentWorkers++
	wp.nextWorkerID++
	metrics.WorkerPoolSize.Set(float64(wp.currentWorkers))
	wp.wg.Add(1)
	go wp.worker(wp.nextWorkerID)
}

// Add submits a task to the worker pool queue, blocking while it is full.
func (wp *WorkerPool) Add(job domain.Runnable) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	select {
	case <-wp.stopChan:
		return ErrPoolStopped
	default:
	}
	select {
	case wp.workerQueue <- job:
		return nil
	case <-wp.stopChan:
		return ErrPoolStopped
	}
}

// TryAdd attempts to submit a task without blocking.
func (wp *WorkerPool) TryAdd(job domain.Runnable) bool {
	if job == nil {
		return false
	}
	select {
	case <-wp.stopChan:
		return false
	default:
	}
	select {
	case wp.workerQueue <- job:
		return true
	default:
		return false // Queue full
	}
}

// worker is the execution loop for a single worker goroutine.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for {
		select {
		case job := <-wp.workerQueue:
			wp.run(id, job)
		case <-wp.retire:
			wp.log.Debug().Int("worker", id).Msg("worker retired")
			return
		case <-wp.stopChan:
			return
		}
	}
}

func (wp *WorkerPool) run(id int, job domain.Runnable) {
	var pc panics.Catcher
	var err error
	pc.Try(func() { err = job.Run() })
	if rerr := pc.Recovered().AsError(); rerr != nil {
		wp.log.Error().Int("worker", id).Err(rerr).Msg("job panicked")
		return
	}
	if err != nil {
		wp.log.Debug().Int("worker", id).Err(err).Msg("job returned error")
	}
}

// Start implements the ports.TaskExecutor interface.
// It starts the pool's monitor if it's not already running.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	select {
	case <-wp.stopChan:
		return ErrPoolStopped
	default:
	}
	if wp.monitorRunning {
		return fmt.Errorf("worker pool monitor already started")
	}

	wp.wg.Add(1)
	go wp.adjustSizeLoop()
	wp.monitorRunning = true
	wp.log.Debug().Dur("interval", wp.monitorInterval).Msg("worker pool monitor started")
	return nil
}

// adjustSizeLoop periodically checks system load and adjusts the worker count.
func (wp *WorkerPool) adjustSizeLoop() {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wp.adjustSize(time.Now())
		case <-wp.stopChan:
			wp.mu.Lock()
			wp.monitorRunning = false
			wp.mu.Unlock()
			return
		}
	}
}

// adjustSize performs the logic for scaling the worker pool up or down.
func (wp *WorkerPool) adjustSize(now time.Time) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if now.Before(wp.cooldownUntil) {
		return
	}

	cpuUsage := wp.monitor.GetCPUUsage()
	memUsage := wp.monitor.GetMemUsage()
	queueLength := len(wp.workerQueue)
	capacity := cap(wp.workerQueue)
	queueUsage := 0.0
	if capacity > 0 {
		queueUsage = float64(queueLength) / float64(capacity)
	}

	// Scale Up
	scaleUpThresholdMet := cpuUsage > wp.monitor.GetCPUThreshold() || memUsage > wp.monitor.GetMemThreshold()
	if (scaleUpThresholdMet || queueUsage > 0.75) && wp.currentWorkers < wp.maxWorkers {
		wp.log.Info().
			Float64("cpu", cpuUsage).
			Float64("mem", memUsage).
			Float64("queue", queueUsage).
			Int("workers", wp.currentWorkers+1).
			Msg("scaling worker pool up")
		wp.startWorker()
		return
	}

	// Scale Down
	if cpuUsage < cpuLowThreshold && queueUsage < 0.1 && wp.currentWorkers > wp.minWorkers {
		select {
		case wp.retire <- struct{}{}:
			wp.currentWorkers--
			metrics.WorkerPoolSize.Set(float64(wp.currentWorkers))
			wp.cooldownUntil = now.Add(defaultCooldownPeriod)
			wp.log.Info().
				Float64("cpu", cpuUsage).
				Float64("queue", queueUsage).
				Int("workers", wp.currentWorkers).
				Msg("scaled worker pool down")
		default:
		}
	}
}

// Stop implements the ports.TaskExecutor interface.
// Signals shutdown and waits for workers and monitor. Jobs still queued are
// dropped.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	select {
	case <-wp.stopChan:
		wp.mu.Unlock()
		return // Already stopping/stopped
	default:
		close(wp.stopChan)
	}
	workers := wp.currentWorkers
	wp.mu.Unlock()

	wp.wg.Wait()

	wp.mu.Lock()
	wp.monitorRunning = false
	wp.currentWorkers = 0
	wp.mu.Unlock()
	metrics.WorkerPoolSize.Set(0)

	wp.log.Debug().Int("workers", workers).Int("dropped", len(wp.workerQueue)).Msg("worker pool stopped")
}

// GetCurrentWorkers returns the current number of active worker goroutines.
func (wp *WorkerPool) GetCurrentWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.currentWorkers
}
