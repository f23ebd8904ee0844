package agent

import "github.com/hakim/nexo/pkg/llm"

// State accumulates one run of the loop. It is owned by exactly one
// in-flight run and never shared across sessions.
type State struct {
	Input          string
	ProcessedInput string

	// First model turn of the current cycle.
	Content   string
	ToolCalls []llm.ToolCall

	// Outcomes of every executed tool call, across all rounds.
	ToolResults []ToolOutcome

	// Model reaction after tool execution.
	FinalContent    string
	FinalToolCalls  []llm.ToolCall
	HasNewToolCalls bool

	// Rounds actually executed and whether the cap cut the run short.
	Rounds    int
	Truncated bool
}

// ToolOutcome records one dispatched tool call. Exactly one of Result
// and Error is meaningful.
type ToolOutcome struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}
