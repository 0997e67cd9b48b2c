package engine

import "github.com/ashgrove-labs/orkestra"

// EventType names one kind of progress event a Run emits while it works.
// This is the engine's own event taxonomy — richer than orkestra.StreamEvent,
// which only models provider-side SSE events — so a caller surface (the WS
// gateway) can translate it into spec.md §6.1's start/plan/token/iteration/
// tool_call/tool_result/tool_progress/error/heartbeat/complete vocabulary
// without the engine depending on that wire format itself.
type EventType string

const (
	EventStart      EventType = "start"
	EventPlan       EventType = "plan"
	EventIteration  EventType = "iteration"
	EventToken      EventType = "token"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventHeartbeat  EventType = "heartbeat"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// Event is one progress notification from a Run. Only the fields relevant
// to Type are populated.
type Event struct {
	Type       EventType
	Text       string
	Iteration  int
	ToolName   string
	ToolCallID string
	Output     string
	Err        error

	// PersonaID/Model/Confidence/Reasoning/Steps are populated only on
	// EventPlan, once persona and model resolution has run — the earliest
	// point a caller surface can show the user which persona/model is about
	// to handle the turn and why.
	PersonaID  string
	Model      string
	Confidence float64
	Reasoning  string
	Steps      []string
}

// emit sends ev on events if the caller supplied a channel, dropping it
// silently otherwise — callers that only want the final Result (call_agent
// delegation, tests) pass a nil channel.
func emit(events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	events <- ev
}

// emitCalls announces every tool call in a batch, in call order, before
// any of them runs — per spec.md §5's "tool_call events in call order
// before dispatch" ordering rule.
func emitCalls(events chan<- Event, iteration int, calls []orkestra.FunctionCallPart) {
	for _, c := range calls {
		emit(events, Event{Type: EventToolCall, Iteration: iteration, ToolName: c.Name, ToolCallID: c.ID})
	}
}
