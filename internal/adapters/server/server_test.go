package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/eventbus"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

type stubService struct {
	resp    *domain.FinalResponse
	err     error
	history []ports.Message
}

func (s *stubService) Run(ctx context.Context, q string) (*domain.FinalResponse, error) {
	return s.RunWithHistory(ctx, q, nil)
}

func (s *stubService) RunWithHistory(_ context.Context, q string, history []ports.Message) (*domain.FinalResponse, error) {
	s.history = history
	if strings.TrimSpace(q) == "" {
		return &domain.FinalResponse{Question: q, Status: domain.StatusError, Error: "Failed to analyze query: question is empty"}, domain.ErrEmptyQuestion
	}
	if s.resp != nil {
		s.resp.Question = q
	}
	return s.resp, s.err
}

func (s *stubService) Analyze(_ context.Context, q string) (*domain.Plan, error) {
	if s.err != nil {
		return nil, s.err
	}
	task := domain.NewTask("task-0", domain.SQLAgent, "count users", 4)
	return &domain.Plan{Question: q, Tasks: []*domain.Task{task}}, nil
}

func (s *stubService) Schema(context.Context) (*domain.SchemaContext, error) {
	return &domain.SchemaContext{
		SQL: &domain.SQLSchema{Tables: []domain.Table{{Name: "users", DDL: "CREATE TABLE users (id INTEGER)"}}},
	}, nil
}

type stubRuns struct {
	limit int
}

func (r *stubRuns) Record(context.Context, *domain.FinalResponse) error { return nil }
func (r *stubRuns) Close() error                                       { return nil }

func (r *stubRuns) List(_ context.Context, limit int) ([]ports.RunSummary, error) {
	r.limit = limit
	return []ports.RunSummary{{ID: "run-1", Question: "q", Status: domain.StatusSuccess}}, nil
}

func (r *stubRuns) Get(_ context.Context, id string) (*domain.FinalResponse, error) {
	if id != "run-1" {
		return nil, domain.ErrRunNotFound
	}
	return &domain.FinalResponse{RunID: "run-1", Status: domain.StatusSuccess}, nil
}

func newTestServer(t *testing.T, cfg Config, deps Deps) *httptest.Server {
	t.Helper()
	s, err := New(cfg, deps, zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out map[string]any
	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		_ = json.UnmarshalRead(res.Body, &out)
	}
	return res, out
}

func TestQuery(t *testing.T) {
	svc := &stubService{resp: &domain.FinalResponse{RunID: "run-1", Status: domain.StatusSuccess, SQLResults: []*domain.TaskResult{}}}
	ts := newTestServer(t, Config{}, Deps{Service: svc})

	res, body := do(t, http.MethodPost, ts.URL+"/v1/query", `{"question": "how many users?"}`, "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "how many users?", body["question"])
	assert.Nil(t, svc.history)

	res, _ = do(t, http.MethodPost, ts.URL+"/v1/query",
		`{"question": "and admins?", "history": [{"role": "user", "content": "how many users?"}]}`, "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, svc.history, 1)
	assert.Equal(t, ports.RoleUser, svc.history[0].Role)
}

func TestQuery_Errors(t *testing.T) {
	svc := &stubService{
		resp: &domain.FinalResponse{RunID: "run-2", Status: domain.StatusError, Error: "Failed to analyze query: boom"},
		err:  errors.Join(domain.ErrLLMFailed, errors.New("boom")),
	}
	ts := newTestServer(t, Config{}, Deps{Service: svc})

	res, body := do(t, http.MethodPost, ts.URL+"/v1/query", `{"question": "q"}`, "")
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "error", body["status"], "the failed response is still returned")

	res, body = do(t, http.MethodPost, ts.URL+"/v1/query", `{"question": "  "}`, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "error", body["status"])

	res, body = do(t, http.MethodPost, ts.URL+"/v1/query", `{"question": `, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, body["error"], "invalid request body")

	res, _ = do(t, http.MethodGet, ts.URL+"/v1/query", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrEmptyQuestion, http.StatusBadRequest},
		{domain.ErrRunNotFound, http.StatusNotFound},
		{domain.ErrInvalidLLMResponse, http.StatusBadGateway},
		{domain.ErrConnectorUnavailable, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestPlanAndSchema(t *testing.T) {
	ts := newTestServer(t, Config{}, Deps{Service: &stubService{}})

	res, body := do(t, http.MethodPost, ts.URL+"/v1/plan", `{"question": "count users"}`, "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	tasks, ok := body["tasks"].([]any)
	require.True(t, ok)
	assert.Len(t, tasks, 1)

	res, body = do(t, http.MethodGet, ts.URL+"/v1/schema", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "CREATE TABLE users (id INTEGER)", body["sql"])
	assert.Equal(t, "No NoSQL schema available", body["nosql"])
}

func TestRuns(t *testing.T) {
	runs := &stubRuns{}
	ts := newTestServer(t, Config{}, Deps{Service: &stubService{}, Runs: runs})

	res, _ := do(t, http.MethodGet, ts.URL+"/v1/runs?limit=5", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 5, runs.limit)

	res, _ = do(t, http.MethodGet, ts.URL+"/v1/runs?limit=zero", "", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body := do(t, http.MethodGet, ts.URL+"/v1/runs/run-1", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "run-1", body["run_id"])

	res, body = do(t, http.MethodGet, ts.URL+"/v1/runs/missing", "", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "run not found", body["error"])
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, Config{Tokens: []string{"s3cret"}}, Deps{Service: &stubService{}})

	res, body := do(t, http.MethodGet, ts.URL+"/v1/schema", "", "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "Bearer", res.Header.Get("WWW-Authenticate"))
	assert.Contains(t, body["error"], "missing or malformed")

	res, _ = do(t, http.MethodGet, ts.URL+"/v1/schema", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = do(t, http.MethodGet, ts.URL+"/v1/schema", "", "s3cret")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = do(t, http.MethodGet, ts.URL+"/healthz", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode, "health checks skip auth")
}

func TestReadyz(t *testing.T) {
	var ready error
	ts := newTestServer(t, Config{}, Deps{
		Service: &stubService{},
		Ready:   func(context.Context) error { return ready },
	})

	res, _ := do(t, http.MethodGet, ts.URL+"/readyz", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	ready = errors.New("mongodb ping failed")
	res, _ = do(t, http.MethodGet, ts.URL+"/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	res, _ = do(t, http.MethodGet, ts.URL+"/metrics", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestEventStream(t *testing.T) {
	bus := eventbus.NewSimpleEventBus(8, zerolog.Nop())
	t.Cleanup(bus.Stop)
	ts := newTestServer(t, Config{}, Deps{Service: &stubService{}, Events: bus})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events?run=run-7&topics=task."
	conn, _, err := websocket.DefaultDialer.DialContext(t.Context(), url, nil)
	require.NoError(t, err)
	defer conn.Close()

	bus.Publish(domain.NewEvent(domain.TaskCompleted, "other run").WithRun("run-8"))
	bus.Publish(domain.NewEvent(domain.RunStarted, "wrong topic").WithRun("run-7"))
	bus.Publish(domain.NewEvent(domain.TaskCompleted, "wanted").WithRun("run-7"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var e domain.Event
	require.NoError(t, json.Unmarshal(msg, &e))
	assert.Equal(t, domain.TaskCompleted, e.Topic)
	assert.Equal(t, "run-7", e.RunID)
	assert.Equal(t, "wanted", e.Data)
}

func TestEventStream_Disabled(t *testing.T) {
	ts := newTestServer(t, Config{}, Deps{Service: &stubService{}})
	res, _ := do(t, http.MethodGet, ts.URL+"/v1/events", "", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestMCPTools(t *testing.T) {
	svc := &stubService{resp: &domain.FinalResponse{
		RunID:  "run-3",
		Status: domain.StatusSuccess,
		Answer: "There are 12 users.",
		SQLResults: []*domain.TaskResult{{
			Task:    domain.NewTask("task-0", domain.SQLAgent, "count users", 3),
			Status:  domain.StatusSuccess,
			Columns: []string{"n"},
			Rows:    []map[string]any{{"n": 12}},
			Count:   1,
		}},
	}}
	ts := newTestServer(t, Config{Version: "test"}, Deps{Service: svc})

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(t.Context(), &mcp.StreamableClientTransport{Endpoint: ts.URL + "/mcp"}, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(t.Context(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"ask_database", "plan_query", "describe_schema"}, names)

	res, err := session.CallTool(t.Context(), &mcp.CallToolParams{Name: "describe_schema", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, toolText(res), "CREATE TABLE users")

	res, err = session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      "ask_database",
		Arguments: map[string]any{"question": "how many users?"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, toolText(res), "There are 12 users.")
	assert.Contains(t, toolText(res), "run-3")

	res, err = session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      "ask_database",
		Arguments: map[string]any{"question": ""},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, toolText(res), "question is empty")
}

func toolText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
