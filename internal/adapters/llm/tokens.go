package llm

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

const charsPerToken = 4

// TokenCounter counts prompt tokens for a model. When no BPE encoding can
// be loaded it estimates four characters per token.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter resolves the encoding for model, falling back to
// cl100k_base and then to the estimate.
func NewTokenCounter(model string, log zerolog.Logger) *TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		log.Warn().Err(err).Str("model", model).Msg("token encoding unavailable, estimating")
		return EstimatingCounter()
	}
	return &TokenCounter{enc: enc}
}

// EstimatingCounter never touches tiktoken.
func EstimatingCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if c == nil || c.enc == nil {
		n := utf8.RuneCountInString(text)
		return (n + charsPerToken - 1) / charsPerToken
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Truncate keeps whole lines of text while the total stays within budget
// tokens. A marker line is appended when anything was cut.
func (c *TokenCounter) Truncate(text string, budget int) string {
	if budget <= 0 || c.Count(text) <= budget {
		return text
	}

	const marker = "... (schema truncated)"
	limit := budget - c.Count(marker)
	var b strings.Builder
	used := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		n := c.Count(line)
		if used+n > limit {
			break
		}
		b.WriteString(line)
		used += n
	}
	out := b.String()
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out + marker
}
