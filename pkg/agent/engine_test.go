package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/nexo/pkg/llm"
)

// scriptedConversation returns canned turns in order and records what
// the engine fed back into it.
type scriptedConversation struct {
	turns    []*llm.Turn
	errs     []error
	advances []string
	results  map[string]string
}

func (c *scriptedConversation) Advance(_ context.Context, userText string) (*llm.Turn, error) {
	c.advances = append(c.advances, userText)
	i := len(c.advances) - 1
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.turns) {
		return c.turns[i], nil
	}
	return &llm.Turn{Content: "done"}, nil
}

func (c *scriptedConversation) RecordToolResult(toolCallID, output string) {
	if c.results == nil {
		c.results = map[string]string{}
	}
	c.results[toolCallID] = output
}

// recordingDispatcher resolves every call from a fixed table.
type recordingDispatcher struct {
	replies map[string]string
	errs    map[string]error
	calls   []string
	args    []map[string]interface{}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, toolName string, arguments map[string]interface{}) (json.RawMessage, error) {
	d.calls = append(d.calls, toolName)
	d.args = append(d.args, arguments)
	if err, ok := d.errs[toolName]; ok {
		return nil, err
	}
	if reply, ok := d.replies[toolName]; ok {
		return json.RawMessage(reply), nil
	}
	return json.RawMessage(`{}`), nil
}

// loopingProvider always requests one more tool call, with a fresh id
// per turn.
type loopingProvider struct{ n int }

func (p *loopingProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.Completion, error) {
	p.n++
	return &llm.Completion{ToolCalls: []llm.ToolCall{{
		ID:        fmt.Sprintf("call-%d", p.n),
		Name:      "search",
		Arguments: []byte(`{}`),
	}}}, nil
}

func (p *loopingProvider) Name() string { return "looping" }

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func collectEvents(events *[]Event) EmitFunc {
	return func(e Event) { *events = append(*events, e) }
}

func TestEngineRun(t *testing.T) {
	t.Run("should finish in one model call without tool calls", func(t *testing.T) {
		conv := &scriptedConversation{turns: []*llm.Turn{{Content: "plain answer"}}}
		dispatcher := &recordingDispatcher{}
		engine := NewEngine(conv, dispatcher, 0, testLogger())

		var events []Event
		state, err := engine.Run(context.Background(), "hello", collectEvents(&events))
		require.NoError(t, err)

		assert.Equal(t, "plain answer", state.FinalContent)
		assert.False(t, state.Truncated)
		assert.Empty(t, dispatcher.calls)
		assert.Equal(t, []string{"hello"}, conv.advances)

		require.Len(t, events, 2)
		assert.Equal(t, EventContent, events[0].Type)
		assert.Equal(t, EventFinal, events[1].Type)
		assert.Equal(t, "plain answer", events[1].Content)
	})

	t.Run("should execute one tool round then finalize", func(t *testing.T) {
		conv := &scriptedConversation{turns: []*llm.Turn{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search", Arguments: []byte(`{"q":"go"}`)}}},
			{Content: "found it"},
		}}
		dispatcher := &recordingDispatcher{replies: map[string]string{"search": `{"hits":3}`}}
		engine := NewEngine(conv, dispatcher, 0, testLogger())

		var events []Event
		state, err := engine.Run(context.Background(), "look up go", collectEvents(&events))
		require.NoError(t, err)

		assert.Equal(t, "found it", state.FinalContent)
		assert.Equal(t, 1, state.Rounds)
		assert.Equal(t, []string{"search"}, dispatcher.calls)
		assert.Equal(t, map[string]interface{}{"q": "go"}, dispatcher.args[0])
		assert.Equal(t, `{"hits":3}`, conv.results["c1"])

		// Second advance continues without new user text.
		assert.Equal(t, []string{"look up go", ""}, conv.advances)

		require.Len(t, events, 3)
		assert.Equal(t, EventToolCall, events[0].Type)
		assert.Equal(t, "search", events[0].Tool)
		assert.Equal(t, EventToolResult, events[1].Type)
		assert.Equal(t, EventFinal, events[2].Type)
	})

	t.Run("should record an outcome for every call in the batch", func(t *testing.T) {
		conv := &scriptedConversation{turns: []*llm.Turn{
			{ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "search", Arguments: []byte(`{}`)},
				{ID: "c2", Name: "broken", Arguments: []byte(`{}`)},
				{ID: "c3", Name: "fetch", Arguments: []byte(`{}`)},
			}},
			{Content: "summary"},
		}}
		dispatcher := &recordingDispatcher{
			replies: map[string]string{"search": `"a"`, "fetch": `"b"`},
			errs:    map[string]error{"broken": fmt.Errorf("backend down")},
		}
		engine := NewEngine(conv, dispatcher, 0, testLogger())

		state, err := engine.Run(context.Background(), "go", nil)
		require.NoError(t, err)

		// The failure did not stop the batch.
		assert.Equal(t, []string{"search", "broken", "fetch"}, dispatcher.calls)
		require.Len(t, state.ToolResults, 3)
		assert.Equal(t, "backend down", state.ToolResults[1].Error)

		require.Len(t, conv.results, 3)
		assert.Equal(t, "Error: backend down", conv.results["c2"])
		assert.Equal(t, `"b"`, conv.results["c3"])
	})

	t.Run("should treat undecodable arguments as empty", func(t *testing.T) {
		conv := &scriptedConversation{turns: []*llm.Turn{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search", Arguments: []byte(`{broken`)}}},
			{Content: "ok"},
		}}
		dispatcher := &recordingDispatcher{}
		engine := NewEngine(conv, dispatcher, 0, testLogger())

		_, err := engine.Run(context.Background(), "go", nil)
		require.NoError(t, err)

		require.Len(t, dispatcher.args, 1)
		assert.Equal(t, map[string]interface{}{}, dispatcher.args[0])
	})

	t.Run("should unwrap string-wrapped arguments", func(t *testing.T) {
		conv := &scriptedConversation{turns: []*llm.Turn{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search", Arguments: []byte(`"{\"q\":\"go\"}"`)}}},
			{Content: "ok"},
		}}
		dispatcher := &recordingDispatcher{}
		engine := NewEngine(conv, dispatcher, 0, testLogger())

		_, err := engine.Run(context.Background(), "go", nil)
		require.NoError(t, err)

		require.Len(t, dispatcher.args, 1)
		assert.Equal(t, map[string]interface{}{"q": "go"}, dispatcher.args[0])
	})

	t.Run("should chain rounds while the model keeps calling tools", func(t *testing.T) {
		conv := &scriptedConversation{turns: []*llm.Turn{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search", Arguments: []byte(`{}`)}}},
			{Content: "checking further", ToolCalls: []llm.ToolCall{{ID: "c2", Name: "fetch", Arguments: []byte(`{}`)}}},
			{Content: "final answer"},
		}}
		dispatcher := &recordingDispatcher{}
		engine := NewEngine(conv, dispatcher, 0, testLogger())

		var events []Event
		state, err := engine.Run(context.Background(), "go", collectEvents(&events))
		require.NoError(t, err)

		assert.Equal(t, "final answer", state.FinalContent)
		assert.Equal(t, 2, state.Rounds)
		assert.Equal(t, []string{"search", "fetch"}, dispatcher.calls)

		// Intermediate content surfaced between the rounds.
		types := []EventType{}
		for _, e := range events {
			types = append(types, e.Type)
		}
		assert.Equal(t, []EventType{
			EventToolCall, EventToolResult,
			EventContent,
			EventToolCall, EventToolResult,
			EventFinal,
		}, types)
	})

	t.Run("should truncate a run that never stops calling tools", func(t *testing.T) {
		looping := &llm.Turn{ToolCalls: []llm.ToolCall{{ID: "c", Name: "search", Arguments: []byte(`{}`)}}}
		conv := &scriptedConversation{turns: []*llm.Turn{looping, looping, looping, looping}}
		dispatcher := &recordingDispatcher{}
		engine := NewEngine(conv, dispatcher, 3, testLogger())

		var events []Event
		state, err := engine.Run(context.Background(), "go", collectEvents(&events))
		require.NoError(t, err)

		assert.True(t, state.Truncated)
		assert.Equal(t, 3, state.Rounds)
		assert.Len(t, dispatcher.calls, 3)

		final := events[len(events)-1]
		assert.Equal(t, EventFinal, final.Type)
		assert.True(t, final.Truncated)
	})

	t.Run("should answer every pending tool call when truncating", func(t *testing.T) {
		conv := llm.NewConversation(&loopingProvider{}, llm.ConversationConfig{Model: "gpt-4o-mini"}, nil, testLogger())
		engine := NewEngine(conv, &recordingDispatcher{}, 2, testLogger())

		state, err := engine.Run(context.Background(), "go", nil)
		require.NoError(t, err)
		require.True(t, state.Truncated)

		// The session outlives the run, so the history it hands the
		// provider next turn must not end in unanswered tool calls.
		answered := map[string]bool{}
		for _, msg := range conv.History() {
			if msg.Role == "tool" {
				answered[msg.ToolCallID] = true
			}
		}
		for _, msg := range conv.History() {
			for _, call := range msg.ToolCalls {
				assert.True(t, answered[call.ID], "tool call %s has no recorded result", call.ID)
			}
		}
	})

	t.Run("should fail the run when the first model call fails", func(t *testing.T) {
		conv := &scriptedConversation{errs: []error{fmt.Errorf("api unavailable")}}
		engine := NewEngine(conv, &recordingDispatcher{}, 0, testLogger())

		var events []Event
		_, err := engine.Run(context.Background(), "go", collectEvents(&events))
		assert.ErrorContains(t, err, "api unavailable")
		assert.Empty(t, events)
	})

	t.Run("should fail the run when a follow-up model call fails", func(t *testing.T) {
		conv := &scriptedConversation{
			turns: []*llm.Turn{
				{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search", Arguments: []byte(`{}`)}}},
			},
			errs: []error{nil, fmt.Errorf("api unavailable")},
		}
		dispatcher := &recordingDispatcher{}
		engine := NewEngine(conv, dispatcher, 0, testLogger())

		_, err := engine.Run(context.Background(), "go", nil)
		assert.ErrorContains(t, err, "api unavailable")
		// The tool round still ran before the failure.
		assert.Equal(t, []string{"search"}, dispatcher.calls)
	})
}
