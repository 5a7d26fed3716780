package workerpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

var _ ports.TaskExecutor = (*WorkerPool)(nil)

func fixedMonitor(cpu, mem float64) *LoadMonitor {
	m := NewLoadMonitor(0.8, 0.9, zerolog.Nop())
	m.readCPU = func() (float64, error) { return cpu, nil }
	m.readMem = func() (float64, error) { return mem, nil }
	return m
}

func TestWorkerPool_RunsJobs(t *testing.T) {
	pool, err := NewWorkerPool(2, 1, 4, 10, fixedMonitor(0.5, 0.5), zerolog.Nop())
	require.NoError(t, err)
	defer pool.Stop()

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, pool.Add(domain.RunnableFunc(func() error {
			defer wg.Done()
			ran.Add(1)
			return nil
		})))
	}
	wg.Wait()
	assert.EqualValues(t, 20, ran.Load())
	assert.Equal(t, 2, pool.GetCurrentWorkers())
}

func TestWorkerPool_SurvivesPanicsAndErrors(t *testing.T) {
	pool, err := NewWorkerPool(1, 1, 1, 4, fixedMonitor(0.5, 0.5), zerolog.Nop())
	require.NoError(t, err)
	defer pool.Stop()

	require.NoError(t, pool.Add(domain.RunnableFunc(func() error { panic("boom") })))
	require.NoError(t, pool.Add(domain.RunnableFunc(func() error { return errors.New("bad") })))

	done := make(chan struct{})
	require.NoError(t, pool.Add(domain.RunnableFunc(func() error { close(done); return nil })))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
}

func TestWorkerPool_AddAfterStop(t *testing.T) {
	pool, err := NewWorkerPool(1, 1, 2, 1, fixedMonitor(0.5, 0.5), zerolog.Nop())
	require.NoError(t, err)
	pool.Stop()
	pool.Stop()

	require.ErrorIs(t, pool.Add(domain.RunnableFunc(func() error { return nil })), ErrPoolStopped)
	assert.False(t, pool.TryAdd(domain.RunnableFunc(func() error { return nil })))
	require.ErrorIs(t, pool.Start(), ErrPoolStopped)
	require.Error(t, pool.Add(nil))
}

func TestWorkerPool_TryAddFullQueue(t *testing.T) {
	pool, err := NewWorkerPool(1, 1, 1, 1, fixedMonitor(0.5, 0.5), zerolog.Nop())
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Add(domain.RunnableFunc(func() error {
		close(started)
		<-release
		return nil
	})))
	<-started

	assert.True(t, pool.TryAdd(domain.RunnableFunc(func() error { return nil })))
	assert.False(t, pool.TryAdd(domain.RunnableFunc(func() error { return nil })), "queue of one is full")

	close(release)
	pool.Stop()
}

func TestWorkerPool_ScalesUpUnderLoad(t *testing.T) {
	pool, err := NewWorkerPool(1, 1, 3, 4, fixedMonitor(0.95, 0.2), zerolog.Nop())
	require.NoError(t, err)
	defer pool.Stop()

	now := time.Now()
	pool.adjustSize(now)
	pool.adjustSize(now)
	pool.adjustSize(now)
	assert.Equal(t, 3, pool.GetCurrentWorkers(), "capped at max")
}

func TestWorkerPool_ScalesDownWithCooldown(t *testing.T) {
	pool, err := NewWorkerPool(3, 1, 3, 4, fixedMonitor(0.1, 0.2), zerolog.Nop())
	require.NoError(t, err)
	defer pool.Stop()

	now := time.Now()
	pool.adjustSize(now)
	assert.Equal(t, 2, pool.GetCurrentWorkers())

	pool.adjustSize(now.Add(time.Second))
	assert.Equal(t, 2, pool.GetCurrentWorkers(), "cooldown blocks a second resize")

	pool.adjustSize(now.Add(defaultCooldownPeriod + time.Second))
	assert.Equal(t, 1, pool.GetCurrentWorkers())

	pool.adjustSize(now.Add(3 * defaultCooldownPeriod))
	assert.Equal(t, 1, pool.GetCurrentWorkers(), "never below min")
}

func TestLoadMonitor_FallbackOnError(t *testing.T) {
	m := NewLoadMonitor(0.8, 0.9, zerolog.Nop())
	m.readCPU = func() (float64, error) { return 0, errors.New("no /proc") }
	m.readMem = func() (float64, error) { return 0, errors.New("no /proc") }
	assert.InDelta(t, fallbackUsage, m.GetCPUUsage(), 1e-9)
	assert.InDelta(t, fallbackUsage, m.GetMemUsage(), 1e-9)
	assert.InDelta(t, 0.8, m.GetCPUThreshold(), 1e-9)
	assert.InDelta(t, 0.9, m.GetMemThreshold(), 1e-9)
}
