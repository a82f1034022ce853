package models

// RuntimeEventType names one observable event in the engine's fixed
// OutputSink vocabulary. The iterative loop and batch executor emit these;
// sinks render them (human-readable lines or JSON) and never feed anything
// back.
type RuntimeEventType string

const (
	// EventIterationStart and EventIterationEnd bracket one pass of the
	// iterative loop: budget check, LLM round trip, display, persist.
	EventIterationStart RuntimeEventType = "iteration_start"
	EventIterationEnd   RuntimeEventType = "iteration_end"

	// EventThinkingStart and EventThinkingEnd bracket the model's thinking
	// output for one round trip, when the model produced any.
	EventThinkingStart RuntimeEventType = "thinking_start"
	EventThinkingEnd   RuntimeEventType = "thinking_end"

	// EventAssistantMessage carries the assistant's response text, emitted
	// before any tool calls from the same response are queued.
	EventAssistantMessage RuntimeEventType = "assistant_message"

	// EventToolQueued through EventToolTimeout trace one tool call through
	// the batch executor: queued when extracted from the response, started
	// at dispatch, then exactly one terminal event.
	EventToolQueued    RuntimeEventType = "tool_queued"
	EventToolStarted   RuntimeEventType = "tool_started"
	EventToolCompleted RuntimeEventType = "tool_completed"
	EventToolFailed    RuntimeEventType = "tool_failed"
	EventToolTimeout   RuntimeEventType = "tool_timeout"

	// EventSummarizing signals that conversation compaction is running and
	// the next round trip may see a shortened history.
	EventSummarizing RuntimeEventType = "summarizing"
)

// RuntimeEvent is one engine lifecycle observation delivered to an
// OutputSink. Only the fields relevant to the event type are set: tool
// events carry ToolName/ToolCallID, display events carry Message, and
// everything emitted from inside the loop carries the iteration number.
type RuntimeEvent struct {
	Type       RuntimeEventType `json:"type"`
	Message    string           `json:"message,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Iteration  int              `json:"iteration,omitempty"`
}
