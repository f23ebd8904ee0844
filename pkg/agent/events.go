package agent

// EventType tags one entry of a run's event stream.
type EventType string

const (
	EventContent    EventType = "content"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventFinal      EventType = "final"
	EventError      EventType = "error"
)

// Event is one entry of the ordered stream a run publishes while it
// progresses. Which fields are set depends on the type.
type Event struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
	Result    string    `json:"result,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
}

// EmitFunc receives events in production order. A nil EmitFunc is
// valid and discards them.
type EmitFunc func(Event)
