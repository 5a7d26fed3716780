package formatter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/llm"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

func results() (*domain.Plan, []*domain.TaskResult) {
	sqlTask := domain.NewTask("task-0", domain.SQLAgent, "total sales by region", 5)
	docTask := domain.NewTask("task-1", domain.NoSQLAgent, "active users", 3)
	driveTask := domain.NewTask("task-2", "drive_agent", "list files", 1)
	plan := &domain.Plan{Question: "sales and users", Tasks: []*domain.Task{sqlTask, docTask, driveTask}}
	plan.Context.ErrorHandling.RetryCount = 2

	return plan, []*domain.TaskResult{
		{
			Task:    sqlTask,
			Status:  domain.StatusSuccess,
			Query:   "SELECT region, SUM(amount) AS total FROM sales GROUP BY region",
			Columns: []string{"region", "total"},
			Rows:    []map[string]any{{"region": "EU", "total": 1234.5678}, {"region": "US", "total": 99.0}},
			Count:   2,
		},
		{
			Task:   docTask,
			Status: domain.StatusSuccess,
			Rows:   []map[string]any{{"email": "a@example.com", "_id": "65f1", "tags": []any{"x", "y"}}},
			Count:  1,
		},
		domain.FailedResult(driveTask, errors.New("no agent registered for task: drive_agent")),
	}
}

func TestMerge(t *testing.T) {
	plan, res := results()
	resp := Merge("run-1", plan, res)

	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "sales and users", resp.Question)
	assert.Equal(t, domain.StatusPartial, resp.Status)
	assert.Equal(t, 2, resp.RetryCount)
	assert.Len(t, resp.SQLResults, 1)
	assert.Len(t, resp.NoSQLResults, 1)
	assert.Len(t, resp.OtherResults, 1)

	assert.Equal(t, domain.StatusSuccess, Merge("r", plan, res[:2]).Status)
	failed := Merge("r", plan, res[2:])
	assert.Equal(t, domain.StatusError, failed.Status)
	assert.Equal(t, "all tasks failed", failed.Error)

	empty := Merge("r", plan, nil)
	assert.Equal(t, domain.StatusError, empty.Status)
	assert.NotNil(t, empty.SQLResults)
	assert.NotNil(t, empty.NoSQLResults)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{3.0, "3"},
		{3.3333333333333335, "3.33"},
		{float32(2.5), "2.50"},
		{42, "42"},
		{"short", "short"},
		{map[string]any{"b": 1, "a": 2}, `{"a":2,"b":1}`},
		{time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), "2025-03-01T09:00:00Z"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.in), "%v", tt.in)
	}

	long := FormatValue(strings.Repeat("x", 150))
	assert.Len(t, long, 100)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestFormatRows_Caps(t *testing.T) {
	rows := make([]map[string]any, 60)
	for i := range rows {
		rows[i] = map[string]any{"n": i}
	}
	text := FormatRows([]string{"n"}, rows, 50)
	assert.Contains(t, text, "Rows (60 total):")
	assert.Contains(t, text, "... and 10 more rows")
	assert.NotContains(t, text, "\n55\n")
}

func TestColumnsOf(t *testing.T) {
	_, res := results()
	assert.Equal(t, []string{"region", "total"}, ColumnsOf(res[0]))
	if diff := cmp.Diff([]string{"_id", "email", "tags"}, ColumnsOf(res[1])); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatResult(t *testing.T) {
	_, res := results()
	assert.Equal(t, "Error: no agent registered for task: drive_agent", FormatResult(res[2], 50))
	assert.Contains(t, FormatResult(res[0], 50), "EU | 1234.57")
	assert.Equal(t, "Collection logs created", FormatResult(&domain.TaskResult{Status: domain.StatusSuccess, Message: "Collection logs created"}, 50))
	assert.Equal(t, "Query returned no results.", FormatResult(&domain.TaskResult{Status: domain.StatusSuccess}, 50))
}

func TestSynthesize(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := llm.NewMockLLM(ctrl)
	var prompt []ports.Message
	model.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msgs []ports.Message, _ ...ports.CompletionOption) (string, error) {
			prompt = msgs
			return "  EU leads with 1234.57 in sales.\n", nil
		})

	plan, res := results()
	resp := Merge("run-1", plan, res)
	New(model, Options{Synthesize: true}, zerolog.Nop()).Finish(t.Context(), resp)

	assert.Equal(t, "EU leads with 1234.57 in sales.", resp.Answer)
	require.Len(t, prompt, 2)
	assert.Contains(t, prompt[1].Content, "User Question: sales and users")
	assert.Contains(t, prompt[1].Content, "EU | 1234.57")
	assert.Contains(t, prompt[1].Content, "Error: no agent registered")
}

func TestFinish_SkipsWhenDisabledOrFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := llm.NewMockLLM(ctrl)
	model.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	plan, res := results()
	resp := Merge("run-1", plan, res)
	New(model, Options{}, zerolog.Nop()).Finish(t.Context(), resp)
	assert.Empty(t, resp.Answer)

	failed := Merge("run-2", plan, res[2:])
	New(model, Options{Synthesize: true}, zerolog.Nop()).Finish(t.Context(), failed)
	assert.Empty(t, failed.Answer)
}

func TestRender(t *testing.T) {
	plan, res := results()
	resp := Merge("run-1", plan, res)
	resp.Duration = 1500 * time.Millisecond

	var text bytes.Buffer
	require.NoError(t, Render(&text, OutputText, resp, 50))
	assert.Contains(t, text.String(), "Status: partial (1.50 s)")
	assert.Contains(t, text.String(), "== task-0 [sql_agent] success: total sales by region ==")
	assert.Contains(t, text.String(), "Query: SELECT region")

	var table bytes.Buffer
	require.NoError(t, Render(&table, OutputTable, resp, 50))
	assert.Contains(t, table.String(), "region")
	assert.Contains(t, table.String(), "1234.57")
	assert.Contains(t, table.String(), "a@example.com")

	var js bytes.Buffer
	require.NoError(t, Render(&js, OutputJSON, resp, 50))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, "partial", decoded["status"])

	require.Error(t, Render(&js, "yaml", resp, 50))
}

func TestRenderPlanAndRuns(t *testing.T) {
	plan, _ := results()
	plan.Tasks[1].Dependencies = []string{"task-0"}

	var b bytes.Buffer
	require.NoError(t, RenderPlan(&b, plan))
	assert.Contains(t, b.String(), "Question: sales and users")
	assert.Contains(t, b.String(), "nosql_agent")
	assert.Contains(t, b.String(), "Retries per task: 2")

	b.Reset()
	require.NoError(t, RenderRuns(&b, nil))
	assert.Equal(t, "No runs recorded.\n", b.String())

	b.Reset()
	require.NoError(t, RenderRuns(&b, []ports.RunSummary{{ID: "run-1", Question: "q", Status: "success", StartedAt: "2025-03-01T09:00:00Z", DurationMS: 120}}))
	assert.Contains(t, b.String(), "120ms")
}
