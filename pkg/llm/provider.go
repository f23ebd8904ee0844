package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hakim/nexo/pkg/mcp"
)

// Message is one turn of conversation history.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-requested tool invocation. Arguments are kept
// raw; decoding is the caller's concern because models sometimes emit
// malformed or string-wrapped payloads.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// TokenUsage tracks token consumption for one completion.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionRequest carries everything a provider needs for one call.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []mcp.ToolDescriptor
	Temperature  float64
	MaxTokens    int
}

// Completion is the model's reply: content and/or requested tool calls.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// Provider is a model endpoint.
type Provider interface {
	Complete(ctx context.Context, request CompletionRequest) (*Completion, error)
	Name() string
}

// Credentials configure one provider. Constructed from config and
// passed by value; there is no process-wide key state.
type Credentials struct {
	Provider string
	APIKey   string
	BaseURL  string
}

// NewProvider creates a provider from credentials.
func NewProvider(creds Credentials) (Provider, error) {
	switch creds.Provider {
	case "openai":
		return NewOpenAIProvider(creds.APIKey, creds.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(creds.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", creds.Provider)
	}
}

// ProviderForModel maps a model name to its provider.
func ProviderForModel(model string) string {
	if strings.HasPrefix(model, "claude") {
		return "anthropic"
	}
	return "openai"
}

// IsRetryable reports whether a provider error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	for _, marker := range []string{
		"connection reset", "timeout", "temporary",
		"429", "rate limit",
		"500", "502", "503", "504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
