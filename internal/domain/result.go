package domain

import "time"

// Result statuses, shared by task results and final responses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// TaskResult is what an agent produced for one task. Agent failures are
// reported here rather than as Go errors so one failing database never
// hides another's rows.
type TaskResult struct {
	Task         *Task            `json:"task"`
	Status       string           `json:"status"`
	Operation    string           `json:"operation,omitempty"`
	Query        string           `json:"query,omitempty"`
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	Count        int              `json:"count"`
	RowsAffected int64            `json:"rows_affected,omitempty"`
	Truncated    bool             `json:"truncated,omitempty"`
	Message      string           `json:"message,omitempty"`
	Data         map[string]any   `json:"data,omitempty"`
	Error        string           `json:"error,omitempty"`
	Attempts     int              `json:"attempts"`
	Duration     time.Duration    `json:"duration_ns,format:nano"`
}

// OK reports whether the task succeeded.
func (r *TaskResult) OK() bool { return r.Status == StatusSuccess }

// FailedResult builds an error result for task.
func FailedResult(task *Task, err error) *TaskResult {
	return &TaskResult{
		Task:   task,
		Status: StatusError,
		Error:  err.Error(),
	}
}

// FinalResponse merges all task results for one question.
type FinalResponse struct {
	RunID        string        `json:"run_id"`
	Question     string        `json:"question"`
	Status       string        `json:"status"`
	Plan         *Plan         `json:"plan,omitempty"`
	SQLResults   []*TaskResult `json:"sql_results"`
	NoSQLResults []*TaskResult `json:"nosql_results"`
	OtherResults []*TaskResult `json:"other_results,omitempty"`
	Answer       string        `json:"answer,omitempty"`
	Error        string        `json:"error,omitempty"`
	RetryCount   int           `json:"retry_count"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns,format:nano"`
}

// Results returns every task result in plan order.
func (r *FinalResponse) Results() []*TaskResult {
	out := make([]*TaskResult, 0, len(r.SQLResults)+len(r.NoSQLResults)+len(r.OtherResults))
	out = append(out, r.SQLResults...)
	out = append(out, r.NoSQLResults...)
	out = append(out, r.OtherResults...)
	return out
}
