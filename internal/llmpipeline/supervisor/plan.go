package supervisor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/llm"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
)

// planReply is the JSON the planner prompt asks for. Loosely typed members
// absorb the shapes models actually produce.
type planReply struct {
	Tasks   []taskReply  `json:"tasks"`
	Context contextReply `json:"context"`
}

type taskReply struct {
	Agent        string `json:"agent"`
	Definition   string `json:"taskDefinition"`
	SnakeDef     string `json:"task_definition"`
	Purpose      string `json:"purpose"`
	Priority     any    `json:"priority"`
	Dependencies []any  `json:"dependencies"`
}

type contextReply struct {
	RequiredData  []any `json:"required_data"`
	Relationships []any `json:"relationships"`
	ErrorHandling struct {
		RetryCount       *int   `json:"retry_count"`
		FallbackStrategy string `json:"fallback_strategy"`
	} `json:"error_handling"`
}

// parsePlan turns a planner reply into a sorted, analysed plan. Task IDs are
// task-<n> by reply order. Dependencies may be indices or IDs; self and
// unknown references are dropped.
func parsePlan(question, reply string, maxRetries int, log zerolog.Logger) (*domain.Plan, error) {
	raw, err := llm.ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	var pr planReply
	if err := json.Unmarshal([]byte(raw), &pr); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidLLMResponse, err)
	}
	if len(pr.Tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks in plan", domain.ErrInvalidLLMResponse)
	}

	plan := &domain.Plan{Question: question, Tasks: make([]*domain.Task, 0, len(pr.Tasks))}
	for i, tr := range pr.Tasks {
		def := strings.TrimSpace(tr.Definition)
		if def == "" {
			def = strings.TrimSpace(tr.SnakeDef)
		}
		if def == "" {
			return nil, fmt.Errorf("%w: task %d has no taskDefinition", domain.ErrInvalidLLMResponse, i)
		}
		t := domain.NewTask(taskID(i), domain.AgentKind(strings.TrimSpace(tr.Agent)), def, priorityOf(tr.Priority))
		t.Purpose = tr.Purpose
		plan.Tasks = append(plan.Tasks, t)
	}

	for i, tr := range pr.Tasks {
		t := plan.Tasks[i]
		for _, dep := range tr.Dependencies {
			id, ok := dependencyID(dep, len(pr.Tasks))
			if !ok || id == t.ID {
				log.Warn().Str("task", t.ID).Any("dependency", dep).Msg("dropping invalid dependency")
				continue
			}
			if !t.DependsOn(id) {
				t.Dependencies = append(t.Dependencies, id)
			}
		}
	}
	if _, err := domain.BuildDAG("plan", plan.Tasks); err != nil {
		log.Warn().Err(err).Msg("plan dependencies are unusable, running tasks independently")
		for _, t := range plan.Tasks {
			t.Dependencies = t.Dependencies[:0]
		}
	}

	retries := maxRetries
	if rc := pr.Context.ErrorHandling.RetryCount; rc != nil {
		retries = min(max(*rc, 0), maxRetries)
	}
	plan.Context = domain.PlanContext{
		RequiredData:  stringsOf(pr.Context.RequiredData),
		Relationships: stringsOf(pr.Context.Relationships),
		ErrorHandling: domain.ErrorHandling{
			RetryCount:       retries,
			FallbackStrategy: pr.Context.ErrorHandling.FallbackStrategy,
		},
	}

	plan.SortTasks()
	plan.Analyze()
	return plan, nil
}

func taskID(i int) string { return "task-" + strconv.Itoa(i) }

func priorityOf(v any) int {
	switch p := v.(type) {
	case float64:
		return domain.ClampPriority(int(p))
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			return domain.ClampPriority(n)
		}
	}
	return domain.MinPriority
}

func dependencyID(v any, n int) (string, bool) {
	var idx int
	switch d := v.(type) {
	case float64:
		idx = int(d)
		if float64(idx) != d {
			return "", false
		}
	case string:
		d = strings.TrimSpace(d)
		d = strings.TrimPrefix(d, "task-")
		i, err := strconv.Atoi(d)
		if err != nil {
			return "", false
		}
		idx = i
	default:
		return "", false
	}
	if idx < 0 || idx >= n {
		return "", false
	}
	return taskID(idx), true
}

func stringsOf(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		switch s := v.(type) {
		case string:
			out = append(out, s)
		case nil:
		default:
			b, err := json.Marshal(s, json.Deterministic(true))
			if err != nil {
				out = append(out, fmt.Sprint(s))
				continue
			}
			out = append(out, string(b))
		}
	}
	return out
}
