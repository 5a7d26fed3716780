package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAll(t *testing.T) {
	for _, name := range []string{Supervisor, SQLAgent, SQLRetry, NoSQLAgent, NoSQLRetry, Synthesize} {
		p, err := Load(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, p, name)
	}
	_, err := Load("MISSING.md")
	require.Error(t, err)
}

func TestRender(t *testing.T) {
	out := Render(MustLoad(SQLAgent), map[string]string{
		"SCHEMA":  "CREATE TABLE sales (id INTEGER)",
		"DIALECT": "postgres",
	})
	assert.Contains(t, out, "CREATE TABLE sales (id INTEGER)")
	assert.Contains(t, out, "compatible with postgres syntax")
	assert.NotContains(t, out, "{{")
}

func TestRender_DoesNotRescanValues(t *testing.T) {
	out := Render("Q: {{QUESTION}} S: {{SQL_SCHEMA}}", map[string]string{
		"QUESTION":   "what is {{SQL_SCHEMA}}?",
		"SQL_SCHEMA": "tables",
	})
	assert.Equal(t, "Q: what is {{SQL_SCHEMA}}? S: tables", out)
	assert.True(t, strings.HasPrefix(MustLoad(Supervisor), "You are a smart data analysis expert"))
}
