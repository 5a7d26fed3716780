package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimatingCounter(t *testing.T) {
	c := EstimatingCounter()
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
}

func TestTruncate_KeepsWholeLines(t *testing.T) {
	c := EstimatingCounter()
	text := strings.Repeat("CREATE TABLE t (id INTEGER);\n", 20)

	assert.Equal(t, text, c.Truncate(text, 10_000))

	out := c.Truncate(text, 40)
	assert.LessOrEqual(t, c.Count(out), 40)
	assert.True(t, strings.HasSuffix(out, "... (schema truncated)"))
	for _, line := range strings.Split(strings.TrimSuffix(out, "... (schema truncated)"), "\n") {
		if line != "" {
			assert.Equal(t, "CREATE TABLE t (id INTEGER);", line)
		}
	}
}
