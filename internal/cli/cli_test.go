package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/history"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(BuildInfo{Version: "test", Commit: "abc123"})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env"), "--log-level", "error"}, args...))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

// unsetenv clears keys for the duration of the test.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd(BuildInfo{Version: "1.2.3", Commit: "abc"})
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"ask", "plan", "chat", "schema", "serve", "slack", "seed", "history"} {
		assert.Contains(t, names, want)
	}
	assert.Equal(t, "1.2.3 (abc)", root.Version)
}

func TestQuestion(t *testing.T) {
	q, err := question([]string{"how", "many", " users? "})
	require.NoError(t, err)
	assert.Equal(t, "how many  users?", q)

	_, err = question([]string{"  "})
	require.Error(t, err)
}

func TestAsk_RequiresRuntimeConfig(t *testing.T) {
	unsetenv(t, "OPENAI_API_KEY", "SQL_DATABASE_URL", "NOSQL_DATABASE_URL")

	_, err := execute(t, "ask", "how many users?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestHistoryCmd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(t.Context(), dbPath, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Record(t.Context(), &domain.FinalResponse{
		RunID:        "run-42",
		Question:     "How many customers are there?",
		Status:       domain.StatusSuccess,
		SQLResults:   []*domain.TaskResult{},
		NoSQLResults: []*domain.TaskResult{},
		StartedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Duration:     1200 * time.Millisecond,
	}))
	require.NoError(t, store.Close())

	cfg := writeConfig(t, `{"history": {"enabled": true, "path": "`+filepath.ToSlash(dbPath)+`"}}`)
	unsetenv(t, "DBAGENT_HISTORY_PATH", "DBAGENT_HISTORY_ENABLED")

	out, err := execute(t, "--config", cfg, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "How many customers are there?")

	out, err = execute(t, "--config", cfg, "history", "run-42", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"run_id"`)
	assert.Contains(t, out, `"run-42"`)

	_, err = execute(t, "--config", cfg, "history", "run-0")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestHistoryCmd_Disabled(t *testing.T) {
	t.Setenv("DBAGENT_HISTORY_ENABLED", "false")
	_, err := execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestSeedAndSchemaCmd(t *testing.T) {
	t.Setenv("SQL_DATABASE_URL", "sqlite:///"+filepath.Join(t.TempDir(), "sales.db"))
	unsetenv(t, "NOSQL_DATABASE_URL")

	out, err := execute(t, "seed", "sql")
	require.NoError(t, err)
	assert.Equal(t, "Applied 2 demo migrations to sqlite.\n", out)

	out, err = execute(t, "seed", "sql")
	require.NoError(t, err)
	assert.Equal(t, "Demo schema already applied.\n", out)

	out, err = execute(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE TABLE sales")
	assert.Contains(t, out, "CREATE TABLE customers")
}

func TestSeedNoSQL_RequiresURL(t *testing.T) {
	unsetenv(t, "NOSQL_DATABASE_URL")
	_, err := execute(t, "seed", "nosql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOSQL_DATABASE_URL")
}

func TestChatSession_Commands(t *testing.T) {
	var out bytes.Buffer
	s := &chatSession{out: &out}
	s.history = []ports.Message{{Role: ports.RoleUser, Content: "earlier question"}}

	assert.True(t, s.handle(t.Context(), ""))
	assert.True(t, s.handle(t.Context(), "/reset"))
	assert.Nil(t, s.history)
	assert.Contains(t, out.String(), "Conversation cleared.")

	assert.True(t, s.handle(t.Context(), "/frobnicate"))
	assert.Contains(t, out.String(), "unknown command /frobnicate")

	assert.False(t, s.handle(t.Context(), "/exit"))
	assert.False(t, s.handle(t.Context(), "/quit"))
}
