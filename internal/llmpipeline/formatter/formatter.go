// Package formatter merges task results into a final response and renders
// it for people: JSON, tables, or an LLM-written answer.
package formatter

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/prompts"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

const (
	defaultMaxRows = 50
	maxValueLen    = 100
)

// Formatter builds final responses and optionally asks the LLM to answer
// the question from the gathered rows.
type Formatter struct {
	model      ports.LLM
	synthesize bool
	maxRows    int
	log        zerolog.Logger
}

// Options tunes a Formatter.
type Options struct {
	Synthesize bool
	MaxRows    int // rows per result shown to the LLM
}

// New creates a Formatter. model may be nil when synthesis is off.
func New(model ports.LLM, opts Options, log zerolog.Logger) *Formatter {
	if opts.MaxRows <= 0 {
		opts.MaxRows = defaultMaxRows
	}
	return &Formatter{
		model:      model,
		synthesize: opts.Synthesize && model != nil,
		maxRows:    opts.MaxRows,
		log:        log.With().Str("component", "formatter").Logger(),
	}
}

// Merge groups results by agent and derives the overall status: success if
// every task succeeded, error if none did, partial otherwise.
func Merge(runID string, plan *domain.Plan, results []*domain.TaskResult) *domain.FinalResponse {
	resp := &domain.FinalResponse{
		RunID:        runID,
		Plan:         plan,
		SQLResults:   []*domain.TaskResult{},
		NoSQLResults: []*domain.TaskResult{},
	}
	if plan != nil {
		resp.Question = plan.Question
		resp.RetryCount = plan.Context.ErrorHandling.RetryCount
	}

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
		agent := domain.AgentKind("")
		if r.Task != nil {
			agent = r.Task.Agent
		}
		switch agent {
		case domain.SQLAgent:
			resp.SQLResults = append(resp.SQLResults, r)
		case domain.NoSQLAgent:
			resp.NoSQLResults = append(resp.NoSQLResults, r)
		default:
			resp.OtherResults = append(resp.OtherResults, r)
		}
	}

	switch {
	case len(results) == 0:
		resp.Status = domain.StatusError
		resp.Error = "no tasks were executed"
	case ok == len(results):
		resp.Status = domain.StatusSuccess
	case ok == 0:
		resp.Status = domain.StatusError
		resp.Error = "all tasks failed"
	default:
		resp.Status = domain.StatusPartial
	}
	return resp
}

// Finish fills resp.Answer when synthesis is enabled. A synthesis failure is
// logged and leaves the rows untouched.
func (f *Formatter) Finish(ctx context.Context, resp *domain.FinalResponse) {
	if !f.synthesize || resp.Status == domain.StatusError {
		return
	}
	answer, err := f.Synthesize(ctx, resp)
	if err != nil {
		f.log.Warn().Err(err).Str("run", resp.RunID).Msg("answer synthesis failed")
		return
	}
	resp.Answer = answer
}

// Synthesize asks the LLM for a prose answer to resp.Question.
func (f *Formatter) Synthesize(ctx context.Context, resp *domain.FinalResponse) (string, error) {
	if f.model == nil {
		return "", fmt.Errorf("no LLM configured for synthesis")
	}

	var b strings.Builder
	for i, r := range resp.Results() {
		fmt.Fprintf(&b, "## Task %d\n", i+1)
		if r.Task != nil {
			fmt.Fprintf(&b, "**Agent**: %s\n", r.Task.Agent)
			fmt.Fprintf(&b, "**Task**: %s\n", r.Task.Definition)
		}
		if r.Query != "" {
			fmt.Fprintf(&b, "**Query**: %s\n", r.Query)
		}
		fmt.Fprintf(&b, "**Results**:\n%s\n\n", FormatResult(r, f.maxRows))
	}

	user := fmt.Sprintf("User Question: %s\n\nData gathered:\n%s\nPlease answer the user's question based on the data above.",
		resp.Question, b.String())
	answer, err := f.model.Complete(ctx, []ports.Message{
		{Role: ports.RoleSystem, Content: prompts.MustLoad(prompts.Synthesize)},
		{Role: ports.RoleUser, Content: user},
	})
	if err != nil {
		return "", fmt.Errorf("LLM completion failed: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// FormatResult renders one result as text for an LLM prompt.
func FormatResult(r *domain.TaskResult, maxRows int) string {
	if r.Error != "" {
		return "Error: " + r.Error
	}
	if len(r.Rows) == 0 {
		if r.Message != "" {
			return r.Message
		}
		if len(r.Data) > 0 {
			return FormatValue(r.Data)
		}
		return "Query returned no results."
	}
	text := FormatRows(ColumnsOf(r), r.Rows, maxRows)
	if r.Truncated {
		text += "(results truncated by the row limit)\n"
	}
	return text
}

// FormatRows renders up to maxRows rows, one per line.
func FormatRows(columns []string, rows []map[string]any, maxRows int) string {
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Columns: %s\n", strings.Join(columns, ", "))
	fmt.Fprintf(&b, "Rows (%d total):\n", len(rows))

	for _, row := range rows[:min(maxRows, len(rows))] {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = FormatValue(row[col])
		}
		b.WriteString(strings.Join(values, " | ") + "\n")
	}
	if len(rows) > maxRows {
		fmt.Fprintf(&b, "... and %d more rows\n", len(rows)-maxRows)
	}
	return b.String()
}

// FormatValue renders a single value. Floats keep two decimals and long
// values are cut at 100 characters.
func FormatValue(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case float32:
		if val == float32(int32(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case string:
		s = val
	case time.Time:
		s = val.UTC().Format(time.RFC3339)
	case map[string]any, []any:
		b, err := json.Marshal(val, json.Deterministic(true))
		if err != nil {
			s = fmt.Sprintf("%v", val)
		} else {
			s = string(b)
		}
	default:
		s = fmt.Sprintf("%v", v)
	}
	if len(s) > maxValueLen {
		s = s[:maxValueLen-3] + "..."
	}
	return s
}

// ColumnsOf returns the result's columns, or the sorted union of row keys
// for results that carry none.
func ColumnsOf(r *domain.TaskResult) []string {
	if len(r.Columns) > 0 {
		return r.Columns
	}
	seen := make(map[string]struct{})
	var cols []string
	for _, row := range r.Rows {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	slices.SortFunc(cols, func(a, b string) int {
		// _id first, as the shell shows it
		switch {
		case a == b:
			return 0
		case a == "_id":
			return -1
		case b == "_id":
			return 1
		}
		return strings.Compare(a, b)
	})
	return cols
}
