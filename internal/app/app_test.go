package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/llm"
	"github.com/ZanzyTHEbar/dbagent/internal/adapters/sqlconn"
	"github.com/ZanzyTHEbar/dbagent/internal/config"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

const countPlan = `{"tasks": [{"agent": "sql_agent", "taskDefinition": "count customers", "priority": 5, "dependencies": []}],
"context": {"error_handling": {"retry_count": 1}}}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WorkerPool.InitialWorkers = 2
	cfg.WorkerPool.MinWorkers = 1
	cfg.WorkerPool.MaxWorkers = 2
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.Agents.TaskTimeout = 10 * time.Second
	return cfg
}

func seededStores(t *testing.T, cfg *config.Config) *Stores {
	t.Helper()
	store, err := sqlconn.Open(t.Context(), "sqlite:///"+filepath.Join(t.TempDir(), "sales.db"), sqlconn.OptionsFromConfig(cfg.SQL), zerolog.Nop())
	require.NoError(t, err)
	_, err = store.SeedDemo(t.Context())
	require.NoError(t, err)
	return &Stores{SQL: store}
}

func TestNew_RequiresRuntimeConfig(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(t.Context(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestAssemble_AnswersQuestionEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	stores := seededStores(t, cfg)

	ctrl := gomock.NewController(t)
	model := llm.NewMockLLM(ctrl)
	model.EXPECT().Name().Return("mock").AnyTimes()
	gomock.InOrder(
		model.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Return(countPlan, nil),
		model.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).
			Return("```sql\nSELECT COUNT(*) AS n FROM customers;\n```", nil),
	)

	a, err := assemble(t.Context(), cfg, model, stores, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []domain.AgentKind{domain.SQLAgent}, a.Registry.Kinds())
	require.NoError(t, a.Ready(t.Context()))

	resp, err := a.Service.Run(t.Context(), "How many customers do we have?")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, resp.Status)
	require.Len(t, resp.SQLResults, 1)
	assert.Equal(t, "SELECT COUNT(*) AS n FROM customers", resp.SQLResults[0].Query)
	assert.Equal(t, 1, resp.SQLResults[0].Count)

	runs, err := a.History.List(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, resp.RunID, runs[0].ID)

	require.Eventually(t, func() bool { return a.Stats.Snapshot().Runs == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestAssemble_HistoryDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Enabled = false
	stores := seededStores(t, cfg)

	a, err := assemble(t.Context(), cfg, llm.NewMockLLM(gomock.NewController(t)), stores, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.History.Get(t.Context(), "run-1")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

type fakeService struct {
	mu    sync.Mutex
	asked []string
	err   error
}

func (s *fakeService) Run(_ context.Context, q string) (*domain.FinalResponse, error) {
	s.mu.Lock()
	s.asked = append(s.asked, q)
	s.mu.Unlock()
	if s.err != nil {
		return &domain.FinalResponse{Question: q, Status: domain.StatusError, Error: s.err.Error()}, s.err
	}
	return &domain.FinalResponse{RunID: "run-1", Question: q, Status: domain.StatusSuccess}, nil
}

func (s *fakeService) RunWithHistory(ctx context.Context, q string, _ []ports.Message) (*domain.FinalResponse, error) {
	return s.Run(ctx, q)
}

func (s *fakeService) Analyze(context.Context, string) (*domain.Plan, error) { return nil, nil }
func (s *fakeService) Schema(context.Context) (*domain.SchemaContext, error) { return nil, nil }

type report struct {
	channel, name string
	status        string
	err           error
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *fakeReporter) Report(_ context.Context, channel, name string, resp *domain.FinalResponse, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{channel: channel, name: name, status: resp.Status, err: runErr})
	return nil
}

func TestQuestionJob(t *testing.T) {
	s := config.ScheduleConfig{Name: "daily-users", Cron: "0 9 * * *", Question: "How many users signed up yesterday?"}
	svc := &fakeService{}
	rep := &fakeReporter{}

	job := QuestionJob(t.Context(), s, svc, rep, "C-reports", zerolog.Nop())
	assert.Equal(t, "daily-users", job.Name)
	assert.Equal(t, "0 9 * * *", job.Cron)

	require.NoError(t, job.Job.Run())
	assert.Equal(t, []string{s.Question}, svc.asked)
	require.Len(t, rep.reports, 1)
	assert.Equal(t, report{channel: "C-reports", name: "daily-users", status: domain.StatusSuccess}, rep.reports[0])

	svc.err = errors.New("llm down")
	require.Error(t, job.Job.Run())
	require.Len(t, rep.reports, 2)
	assert.Equal(t, domain.StatusError, rep.reports[1].status)
	assert.EqualError(t, rep.reports[1].err, "llm down")
}

func TestQuestionJob_NoChannelSkipsReport(t *testing.T) {
	rep := &fakeReporter{}
	job := QuestionJob(t.Context(), config.ScheduleConfig{Name: "n", Cron: "* * * * *", Question: "q"}, &fakeService{}, rep, "", zerolog.Nop())
	require.NoError(t, job.Job.Run())
	assert.Empty(t, rep.reports)
}

func TestStartScheduler(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Enabled = false
	cfg.Context.RefreshCron = "*/5 * * * *"
	cfg.Schedules = []config.ScheduleConfig{
		{Name: "a", Cron: "0 * * * *", Question: "q1"},
		{Name: "b", Cron: "30 8 * * 1", Question: "q2"},
	}
	stores := seededStores(t, cfg)

	a, err := assemble(t.Context(), cfg, llm.NewMockLLM(gomock.NewController(t)), stores, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sched, err := a.StartScheduler(ctx, nil)
	require.NoError(t, err)
	defer sched.Stop()

	assert.Equal(t, 3, sched.Pending())
}

func TestStartScheduler_RejectsBadCron(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Enabled = false
	cfg.Schedules = []config.ScheduleConfig{{Name: "bad", Cron: "every day", Question: "q"}}
	stores := seededStores(t, cfg)

	a, err := assemble(t.Context(), cfg, llm.NewMockLLM(gomock.NewController(t)), stores, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.StartScheduler(t.Context(), nil)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "schedule bad:"))
}

func TestStartScheduler_QuestionOnSingleWorkerPool(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkerPool.InitialWorkers = 1
	cfg.WorkerPool.MaxWorkers = 1
	// No cron: the question is due as soon as the scheduler starts.
	cfg.Schedules = []config.ScheduleConfig{{Name: "customers", Question: "How many customers do we have?"}}
	stores := seededStores(t, cfg)

	ctrl := gomock.NewController(t)
	model := llm.NewMockLLM(ctrl)
	model.EXPECT().Name().Return("mock").AnyTimes()
	gomock.InOrder(
		model.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Return(countPlan, nil),
		model.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).
			Return("```sql\nSELECT COUNT(*) AS n FROM customers;\n```", nil),
	)

	a, err := assemble(t.Context(), cfg, model, stores, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	rep := &fakeReporter{}
	a.Config.Slack.ReportChannel = "C-reports"
	sched, err := a.StartScheduler(t.Context(), rep)
	require.NoError(t, err)
	defer sched.Stop()

	require.Eventually(t, func() bool {
		rep.mu.Lock()
		defer rep.mu.Unlock()
		return len(rep.reports) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, report{channel: "C-reports", name: "customers", status: domain.StatusSuccess}, rep.reports[0])

	runs, err := a.History.List(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.StatusSuccess, runs[0].Status)
}
