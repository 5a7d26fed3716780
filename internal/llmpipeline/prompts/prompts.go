// Package prompts holds the LLM prompt templates. Placeholders are written
// as {{NAME}} and filled with Render.
package prompts

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed *.md
var promptsFS embed.FS

// Prompt file names.
const (
	Supervisor = "SUPERVISOR.md"
	SQLAgent   = "SQL_AGENT.md"
	SQLRetry   = "SQL_RETRY.md"
	NoSQLAgent = "NOSQL_AGENT.md"
	NoSQLRetry = "NOSQL_RETRY.md"
	Synthesize = "SYNTHESIZE.md"
)

// Load returns the named template.
func Load(name string) (string, error) {
	data, err := promptsFS.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// MustLoad is Load for templates compiled into the binary.
func MustLoad(name string) string {
	p, err := Load(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Render replaces each {{KEY}} in template with vars[KEY]. Substituted
// text is never scanned again.
func Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
