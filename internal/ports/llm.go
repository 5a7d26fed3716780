package ports

//go:generate go tool mockgen -source=llm.go -destination=../adapters/llm/mock_llm.go -package=llm

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions tunes a single completion call.
type CompletionOptions struct {
	Temperature *float64
	MaxTokens   int64
	JSON        bool // ask the provider for a JSON object response when supported
}

// CompletionOption mutates CompletionOptions.
type CompletionOption func(*CompletionOptions)

// WithTemperature overrides the provider's default temperature.
func WithTemperature(t float64) CompletionOption {
	return func(o *CompletionOptions) { o.Temperature = &t }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int64) CompletionOption {
	return func(o *CompletionOptions) { o.MaxTokens = n }
}

// WithJSONResponse requests a JSON object response.
func WithJSONResponse() CompletionOption {
	return func(o *CompletionOptions) { o.JSON = true }
}

// ApplyCompletionOptions folds opts into a CompletionOptions value.
func ApplyCompletionOptions(opts ...CompletionOption) CompletionOptions {
	var o CompletionOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LLM is a chat-completion model.
type LLM interface {
	// Complete sends messages and returns the assistant's text.
	Complete(ctx context.Context, messages []Message, opts ...CompletionOption) (string, error)
	// Name identifies the provider and model for logs and metrics.
	Name() string
}
