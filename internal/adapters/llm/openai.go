package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("no text content in response")

// OpenAI implements ports.LLM using the chat completions API.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
	log         zerolog.Logger
}

// NewOpenAI creates an OpenAI-backed model. baseURL may point at any
// compatible endpoint; empty uses the public API.
func NewOpenAI(apiKey, baseURL, model string, temperature float64, maxTokens int64, log zerolog.Logger) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		log:         log.With().Str("provider", "openai").Str("model", model).Logger(),
	}
}

func (c *OpenAI) Name() string { return "openai/" + c.model }

func (c *OpenAI) Complete(ctx context.Context, messages []ports.Message, opts ...ports.CompletionOption) (string, error) {
	o := ports.ApplyCompletionOptions(opts...)

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(c.temperature),
	}
	if o.Temperature != nil {
		params.Temperature = openai.Float(*o.Temperature)
	}
	if n := pick(o.MaxTokens, c.maxTokens); n > 0 {
		params.MaxCompletionTokens = openai.Int(n)
	}
	if o.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	start := time.Now()
	c.log.Debug().Int("messages", len(messages)).Msg("chat completion starting")
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		c.log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("chat completion failed")
		return "", fmt.Errorf("openai API error: %w", err)
	}
	c.log.Debug().Dur("duration", time.Since(start)).Int64("tokens", resp.Usage.TotalTokens).Msg("chat completion done")

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []ports.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case ports.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case ports.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func pick(override, fallback int64) int64 {
	if override > 0 {
		return override
	}
	return fallback
}
