package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

const defaultAnthropicMaxTokens = 4096

// Anthropic implements ports.LLM using the Messages API.
type Anthropic struct {
	client      anthropic.Client
	model       anthropic.Model
	temperature float64
	maxTokens   int64
	log         zerolog.Logger
}

// NewAnthropic creates a Claude-backed model.
func NewAnthropic(apiKey, model string, temperature float64, maxTokens int64, log zerolog.Logger) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &Anthropic{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       anthropic.Model(model),
		temperature: temperature,
		maxTokens:   maxTokens,
		log:         log.With().Str("provider", "anthropic").Str("model", model).Logger(),
	}
}

func (c *Anthropic) Name() string { return "anthropic/" + string(c.model) }

func (c *Anthropic) Complete(ctx context.Context, messages []ports.Message, opts ...ports.CompletionOption) (string, error) {
	o := ports.ApplyCompletionOptions(opts...)

	system, turns := splitSystem(messages)
	if o.JSON {
		system = append(system, "Respond with a single JSON object and nothing else.")
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   pick(o.MaxTokens, c.maxTokens),
		Messages:    turns,
		Temperature: anthropic.Float(c.temperature),
	}
	if o.Temperature != nil {
		params.Temperature = anthropic.Float(*o.Temperature)
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: strings.Join(system, "\n\n")},
		}
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		c.log.Warn().Err(err).Dur("duration", duration).Msg("anthropic API call failed")
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	c.log.Debug().Dur("duration", duration).Str("stop_reason", string(msg.StopReason)).Msg("anthropic API call completed")

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", ErrEmptyResponse
}

// splitSystem moves system messages into the separate system prompt the
// Messages API expects.
func splitSystem(messages []ports.Message) ([]string, []anthropic.MessageParam) {
	var system []string
	turns := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case ports.RoleSystem:
			system = append(system, m.Content)
		case ports.RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, turns
}
