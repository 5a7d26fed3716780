package ports

import "github.com/ZanzyTHEbar/dbagent/internal/domain"

// TaskExecutor defines the port for submitting tasks to an execution engine (like a worker pool).
// This decouples the DAG executor and scheduler from the specific implementation of task execution.
type TaskExecutor interface {
	// Add submits a runnable job for execution, blocking while the queue is full.
	// It fails once the executor has been stopped.
	Add(job domain.Runnable) error

	// TryAdd attempts to submit a runnable job without blocking.
	// Returns false if the queue is full or the executor stopped.
	TryAdd(job domain.Runnable) bool

	// Start initializes the executor (e.g., starts the worker pool monitor).
	Start() error

	// Stop gracefully shuts down the executor, waiting for active jobs to complete.
	Stop()
}
