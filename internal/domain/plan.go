package domain

import (
	"slices"
	"time"
)

// ErrorHandling carries the retry policy the planner asked for.
type ErrorHandling struct {
	RetryCount       int    `json:"retry_count"`
	FallbackStrategy string `json:"fallback_strategy,omitempty"`
}

// PlanContext is the planner's description of the data a question needs.
type PlanContext struct {
	RequiredData  []string      `json:"required_data,omitempty"`
	Relationships []string      `json:"relationships,omitempty"`
	ErrorHandling ErrorHandling `json:"error_handling"`
}

// Analysis summarises a plan.
type Analysis struct {
	TotalTasks          int         `json:"total_tasks"`
	TaskTypes           []AgentKind `json:"task_types"`
	HighestPriorityTask *Task       `json:"highest_priority_task,omitempty"`
}

// Plan is the supervisor's decomposition of a question into agent tasks.
type Plan struct {
	Question         string      `json:"question"`
	Tasks            []*Task     `json:"tasks"`
	Context          PlanContext `json:"context"`
	CurrentTaskIndex int         `json:"current_task_index"`
	Analysis         Analysis    `json:"analysis"`
	CreatedAt        time.Time   `json:"created_at"`
}

// SortTasks orders the plan's tasks by priority, highest first. Ties keep
// the order the planner produced.
func (p *Plan) SortTasks() {
	slices.SortStableFunc(p.Tasks, func(a, b *Task) int {
		return b.Priority - a.Priority
	})
}

// Analyze recomputes the plan summary from its current tasks.
func (p *Plan) Analyze() {
	seen := make(map[AgentKind]struct{}, len(p.Tasks))
	types := make([]AgentKind, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		if _, ok := seen[t.Agent]; ok {
			continue
		}
		seen[t.Agent] = struct{}{}
		types = append(types, t.Agent)
	}
	slices.Sort(types)

	var top *Task
	for _, t := range p.Tasks {
		if top == nil || t.Priority > top.Priority {
			top = t
		}
	}

	p.Analysis = Analysis{
		TotalTasks:          len(p.Tasks),
		TaskTypes:           types,
		HighestPriorityTask: top,
	}
}

// TasksFor returns the tasks routed to agent, in plan order.
func (p *Plan) TasksFor(agent AgentKind) []*Task {
	var out []*Task
	for _, t := range p.Tasks {
		if t.Agent == agent {
			out = append(out, t)
		}
	}
	return out
}

// Task looks up a task by ID.
func (p *Plan) Task(id string) (*Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}
