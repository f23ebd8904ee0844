package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hakim/nexo/pkg/llm"
	"github.com/rs/zerolog"
)

const defaultMaxRounds = 10

// Dispatcher routes a tool call by name to its backend. Satisfied by
// mcp.Manager.
type Dispatcher interface {
	Dispatch(ctx context.Context, toolName string, arguments map[string]interface{}) (json.RawMessage, error)
}

// Conversation is the slice of llm.Conversation the engine needs.
type Conversation interface {
	Advance(ctx context.Context, userText string) (*llm.Turn, error)
	RecordToolResult(toolCallID, output string)
}

// Engine runs the generate/execute/finalize loop over one State.
type Engine struct {
	conv      Conversation
	tools     Dispatcher
	maxRounds int
	logger    zerolog.Logger
}

// NewEngine creates an engine bound to one conversation and one
// dispatcher. maxRounds <= 0 selects the default cap.
func NewEngine(conv Conversation, tools Dispatcher, maxRounds int, logger zerolog.Logger) *Engine {
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	return &Engine{
		conv:      conv,
		tools:     tools,
		maxRounds: maxRounds,
		logger:    logger,
	}
}

// Run processes one user input to a terminal answer, emitting events as
// the run progresses. A model call failure is fatal to the run and is
// returned; tool-level failures are absorbed into the conversation.
func (e *Engine) Run(ctx context.Context, input string, emit EmitFunc) (*State, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	state := &State{Input: input}

	// Seam for future input normalization.
	state.ProcessedInput = state.Input

	turn, err := e.conv.Advance(ctx, state.ProcessedInput)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	state.Content = turn.Content
	state.ToolCalls = turn.ToolCalls

	if turn.Content != "" {
		emit(Event{Type: EventContent, Content: turn.Content})
	}

	if len(state.ToolCalls) == 0 {
		state.FinalContent = state.Content
		state.HasNewToolCalls = false
		emit(Event{Type: EventFinal, Content: state.FinalContent})
		return state, nil
	}

	for {
		if state.Rounds >= e.maxRounds {
			e.logger.Warn().
				Int("rounds", state.Rounds).
				Msg("Round cap reached, truncating run")
			state.Truncated = true
			// The pending calls must still be answered in the history,
			// or the session's next turn submits dangling tool calls
			// the model endpoints reject.
			for _, call := range state.ToolCalls {
				e.conv.RecordToolResult(call.ID, "skipped: round limit reached")
			}
			if state.FinalContent == "" {
				state.FinalContent = state.Content
			}
			break
		}

		e.executeTools(ctx, state, emit)
		state.Rounds++

		turn, err := e.conv.Advance(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("model call after tools: %w", err)
		}
		state.FinalContent = turn.Content
		state.FinalToolCalls = turn.ToolCalls
		state.HasNewToolCalls = len(turn.ToolCalls) > 0

		if !state.HasNewToolCalls {
			break
		}
		if turn.Content != "" {
			emit(Event{Type: EventContent, Content: turn.Content})
		}
		state.ToolCalls = state.FinalToolCalls
	}

	emit(Event{Type: EventFinal, Content: state.FinalContent, Truncated: state.Truncated})
	return state, nil
}

// executeTools runs the round's calls sequentially in request order.
// One failing call never aborts the rest, and every call leaves a
// tool-role message behind so the model observes each outcome.
func (e *Engine) executeTools(ctx context.Context, state *State, emit EmitFunc) {
	for _, call := range state.ToolCalls {
		arguments := e.decodeArguments(call)

		emit(Event{
			Type:      EventToolCall,
			Tool:      call.Name,
			Arguments: string(call.Arguments),
		})

		result, err := e.tools.Dispatch(ctx, call.Name, arguments)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("tool", call.Name).
				Msg("Tool execution failed")

			errText := fmt.Sprintf("Error: %s", err)
			state.ToolResults = append(state.ToolResults, ToolOutcome{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Error:      err.Error(),
			})
			e.conv.RecordToolResult(call.ID, errText)
			emit(Event{Type: EventToolResult, Tool: call.Name, Result: errText})
			continue
		}

		output := string(result)
		state.ToolResults = append(state.ToolResults, ToolOutcome{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Result:     output,
		})
		e.conv.RecordToolResult(call.ID, output)
		emit(Event{Type: EventToolResult, Tool: call.Name, Result: output})

		e.logger.Debug().Str("tool", call.Name).Msg("Tool execution succeeded")
	}
}

// decodeArguments decodes a call's argument payload best-effort. Models
// sometimes emit the object string-wrapped or malformed; a payload that
// cannot be decoded becomes an empty argument set so the round can
// continue.
func (e *Engine) decodeArguments(call llm.ToolCall) map[string]interface{} {
	if len(call.Arguments) == 0 {
		return map[string]interface{}{}
	}

	var arguments map[string]interface{}
	if err := json.Unmarshal(call.Arguments, &arguments); err == nil {
		return arguments
	}

	// Second chance: a JSON string containing the object.
	var wrapped string
	if err := json.Unmarshal(call.Arguments, &wrapped); err == nil {
		if err := json.Unmarshal([]byte(wrapped), &arguments); err == nil {
			return arguments
		}
	}

	e.logger.Error().
		Str("tool", call.Name).
		Str("arguments", string(call.Arguments)).
		Msg("Failed to decode tool arguments")
	return map[string]interface{}{}
}
