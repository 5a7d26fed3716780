package llm

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/config"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

// New builds the configured provider wrapped in the retrying decorator.
func New(cfg config.LLMConfig, log zerolog.Logger) (ports.LLM, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("missing API key for llm provider %q", cfg.Provider)
	}

	var base ports.LLM
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		base = NewOpenAI(key, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens, log)
	case "anthropic":
		base = NewAnthropic(key, cfg.Model, cfg.Temperature, cfg.MaxTokens, log)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return NewRetrying(base, cfg.MaxRetries, log), nil
}
