package domain

import (
	"time"

	"github.com/ZanzyTHEbar/dbagent/internal/utils"
)

// Event topics published on the bus.
const (
	RunStarted    = "run.started"
	PlanCreated   = "plan.created"
	TaskScheduled = "task.scheduled"
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
	TaskSkipped   = "task.skipped"
	RunCompleted  = "run.completed"
	RunFailed     = "run.failed"
	JobTriggered  = "schedule.triggered"
)

// AllTopics lists every topic, for subscribers that want the full stream.
var AllTopics = []string{
	RunStarted, PlanCreated, TaskScheduled, TaskCompleted, TaskFailed,
	TaskSkipped, RunCompleted, RunFailed, JobTriggered,
}

// Event represents a message passed through the event bus.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	RunID     string    `json:"run_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates a new event.
func NewEvent(topic string, data any) Event {
	return Event{
		ID:        utils.GenerateEventID(),
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// WithRun tags the event with the run it belongs to.
func (e Event) WithRun(runID string) Event {
	e.RunID = runID
	return e
}

// Publisher is the half of the event bus the domain needs.
type Publisher interface {
	Publish(event Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// NopPublisher discards every event.
var NopPublisher Publisher = nopPublisher{}
