package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// AgentKind names the database agent a task is routed to.
type AgentKind string

const (
	// SQLAgent tasks generate and run SQL against the relational database.
	SQLAgent AgentKind = "sql_agent"
	// NoSQLAgent tasks generate and run MongoDB operations.
	NoSQLAgent AgentKind = "nosql_agent"
)

// TaskStatus defines the current state of a task.
type TaskStatus int

const (
	// Pending tasks are waiting for their dependencies or a free worker.
	Pending TaskStatus = iota
	// Running tasks are currently being executed by a worker.
	Running
	// Completed tasks have finished execution successfully.
	Completed
	// Failed tasks encountered an error during execution.
	Failed
	// Skipped tasks never ran because a dependency failed.
	Skipped
)

func (s TaskStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText renders the status by name so plans and responses stay readable.
func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *TaskStatus) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "pending", "":
		*s = Pending
	case "running":
		*s = Running
	case "completed":
		*s = Completed
	case "failed":
		*s = Failed
	case "skipped":
		*s = Skipped
	default:
		return fmt.Errorf("unknown task status %q", string(b))
	}
	return nil
}

// Runnable defines the interface for jobs that can be executed by the worker pool.
type Runnable interface {
	Run() error
}

// RunnableFunc adapts a plain function to Runnable.
type RunnableFunc func() error

// Run calls f.
func (f RunnableFunc) Run() error { return f() }

// Task is one unit of work in a plan: a natural-language sub-question
// answered by a single database agent.
type Task struct {
	ID                string        `json:"id"`
	Agent             AgentKind     `json:"agent"`
	Definition        string        `json:"taskDefinition"`
	Purpose           string        `json:"purpose,omitempty"`
	Priority          int           `json:"priority"` // 1..5, higher runs first
	Dependencies      []string      `json:"dependencies,omitempty"`
	Status            TaskStatus    `json:"status"`
	EstimatedDuration time.Duration `json:"-"` // used for critical path weighting
	Critical          bool          `json:"critical,omitempty"`
	CreatedAt         time.Time     `json:"-"`
	StartedAt         time.Time     `json:"-"`
	CompletedAt       time.Time     `json:"-"`
	Error             string        `json:"error,omitempty"`
}

const (
	MinPriority = 1
	MaxPriority = 5
)

// NewTask creates a pending task.
func NewTask(id string, agent AgentKind, definition string, priority int) *Task {
	return &Task{
		ID:           id,
		Agent:        agent,
		Definition:   definition,
		Priority:     ClampPriority(priority),
		Status:       Pending,
		Dependencies: make([]string, 0),
		CreatedAt:    time.Now(),
	}
}

// ClampPriority forces p into [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	return min(max(p, MinPriority), MaxPriority)
}

// Less orders tasks for dispatch: higher priority first, then ID.
func (t *Task) Less(other *Task) bool {
	if t.Priority != other.Priority {
		return t.Priority > other.Priority
	}
	return t.ID < other.ID
}

// Duration reports how long the task ran, or zero if it never started.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// DependsOn reports whether id is a direct dependency.
func (t *Task) DependsOn(id string) bool {
	return slices.Contains(t.Dependencies, id)
}
