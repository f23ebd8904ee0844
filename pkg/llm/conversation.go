package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/hakim/nexo/pkg/mcp"
	"github.com/rs/zerolog"
)

const defaultMaxRetries = 3

// ConversationConfig configures one conversation.
type ConversationConfig struct {
	Model        string
	SystemPrompt string
	Context      string // optional initial context, seeded as a user turn
	Temperature  float64
	MaxTokens    int
	MaxRetries   int
}

// Turn is what the model produced on one advance.
type Turn struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// Conversation owns the ordered history of one session and submits it,
// together with the available tool descriptors, for completion.
type Conversation struct {
	provider Provider
	config   ConversationConfig
	tools    []mcp.ToolDescriptor
	history  []Message
	logger   zerolog.Logger
}

// NewConversation creates a conversation seeded with the optional
// system prompt and initial context.
func NewConversation(provider Provider, config ConversationConfig, tools []mcp.ToolDescriptor, logger zerolog.Logger) *Conversation {
	conv := &Conversation{
		provider: provider,
		config:   config,
		tools:    tools,
		logger:   logger,
	}
	if config.SystemPrompt != "" {
		conv.history = append(conv.history, Message{Role: "system", Content: config.SystemPrompt})
	}
	if config.Context != "" {
		conv.history = append(conv.history, Message{Role: "user", Content: config.Context})
	}
	return conv
}

// Advance submits the history to the model and appends its reply. With
// a non-empty userText a user turn is appended first; with an empty one
// the model reacts to whatever was recorded since its last reply,
// typically tool results.
func (c *Conversation) Advance(ctx context.Context, userText string) (*Turn, error) {
	if userText != "" {
		c.history = append(c.history, Message{Role: "user", Content: userText})
	}

	completion, err := c.completeWithRetry(ctx)
	if err != nil {
		return nil, err
	}

	c.history = append(c.history, Message{
		Role:      "assistant",
		Content:   completion.Content,
		ToolCalls: completion.ToolCalls,
	})

	return &Turn{
		Content:   completion.Content,
		ToolCalls: completion.ToolCalls,
		Usage:     completion.Usage,
	}, nil
}

// RecordToolResult appends a tool-role message correlated by call id.
// The model must observe a result for every call it made, so this runs
// for failures too, with the error text as the payload.
func (c *Conversation) RecordToolResult(toolCallID, output string) {
	c.history = append(c.history, Message{
		Role:       "tool",
		Content:    output,
		ToolCallID: toolCallID,
	})
}

// History returns a copy of the conversation history.
func (c *Conversation) History() []Message {
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Conversation) completeWithRetry(ctx context.Context) (*Completion, error) {
	maxRetries := c.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	request := CompletionRequest{
		Model:        c.config.Model,
		SystemPrompt: c.config.SystemPrompt,
		Messages:     c.history,
		Tools:        c.tools,
		Temperature:  c.config.Temperature,
		MaxTokens:    c.config.MaxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		completion, err := c.provider.Complete(ctx, request)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == maxRetries-1 {
			break
		}

		delay := time.Duration(1<<attempt) * time.Second
		c.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying model call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}
