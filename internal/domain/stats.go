package domain

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Stats is a point-in-time view of RunStatsCollector counters.
type Stats struct {
	Runs        int           `json:"runs"`
	FailedRuns  int           `json:"failed_runs"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	AvgLatency  time.Duration `json:"avg_latency_ns,format:nano"`
	Uptime      time.Duration `json:"uptime_ns,format:nano"`
	LastEventAt time.Time     `json:"last_event_at"`
}

// RunStatsCollector aggregates task and run events.
type RunStatsCollector struct {
	mu           sync.RWMutex
	stats        Stats
	totalLatency time.Duration
	startTime    time.Time
	log          zerolog.Logger
}

// NewRunStatsCollector creates a new RunStatsCollector.
func NewRunStatsCollector(logger zerolog.Logger) *RunStatsCollector {
	return &RunStatsCollector{
		startTime: time.Now(),
		log:       logger.With().Str("component", "stats").Logger(),
	}
}

// Record updates counters from a single event.
func (c *RunStatsCollector) Record(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.LastEventAt = event.Timestamp
	switch event.Topic {
	case RunCompleted:
		c.stats.Runs++
	case RunFailed:
		c.stats.Runs++
		c.stats.FailedRuns++
	case TaskCompleted:
		c.stats.Completed++
		if t, ok := event.Data.(*Task); ok {
			c.totalLatency += t.Duration()
		}
	case TaskFailed:
		c.stats.Failed++
	case TaskSkipped:
		c.stats.Skipped++
	}
}

// Snapshot returns the current statistics.
func (c *RunStatsCollector) Snapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	if s.Completed > 0 {
		s.AvgLatency = c.totalLatency / time.Duration(s.Completed)
	}
	s.Uptime = time.Since(c.startTime)
	return s
}

// LogStats writes the current statistics to the log.
func (c *RunStatsCollector) LogStats() {
	s := c.Snapshot()
	c.log.Info().
		Int("runs", s.Runs).
		Int("failed_runs", s.FailedRuns).
		Int("tasks_completed", s.Completed).
		Int("tasks_failed", s.Failed).
		Int("tasks_skipped", s.Skipped).
		Dur("avg_latency", s.AvgLatency).
		Msg("task stats")
}

// Consume records every event from events until the channel closes.
func (c *RunStatsCollector) Consume(events <-chan Event) {
	go func() {
		for event := range events {
			c.Record(event)
		}
	}()
}

// StartStatsMonitor periodically logs stats until stopCh closes.
func (c *RunStatsCollector) StartStatsMonitor(interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.LogStats()
			case <-stopCh:
				return
			}
		}
	}()
}

// TaskProgressBar renders plan execution progress on a terminal.
type TaskProgressBar struct {
	mu        sync.Mutex
	out       io.Writer
	total     int
	completed int
	failed    int
}

// NewTaskProgressBar creates a progress bar for totalTasks tasks.
func NewTaskProgressBar(out io.Writer, totalTasks int) *TaskProgressBar {
	return &TaskProgressBar{out: out, total: totalTasks}
}

// Observe updates the bar from a task event and redraws it.
func (p *TaskProgressBar) Observe(event Event) {
	p.mu.Lock()
	switch event.Topic {
	case TaskCompleted:
		p.completed++
	case TaskFailed, TaskSkipped:
		p.failed++
	default:
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.Print()
}

// Print draws the bar, ending the line once every task settled.
func (p *TaskProgressBar) Print() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total <= 0 {
		return
	}

	const width = 30
	done := min(p.completed+p.failed, p.total)
	okCells := width * p.completed / p.total
	badCells := width * p.failed / p.total
	rest := max(width-okCells-badCells, 0)
	bar := strings.Repeat("█", okCells) + strings.Repeat("▒", badCells) + strings.Repeat("░", rest)

	fmt.Fprintf(p.out, "\rtasks [%s] %d/%d (%d failed)", bar, done, p.total, p.failed)
	if done >= p.total {
		fmt.Fprintln(p.out)
	}
}
