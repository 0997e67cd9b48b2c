// Package gateway exposes the execution engine over a WebSocket, the
// bidirectional text channel spec.md §6.1 leaves abstract. Concretized as a
// gorilla/websocket server grounded on vanducng-goclaw's
// internal/gateway/server.go shape: an upgrader with an origin allow-list, a
// mutex-guarded per-connection client registry, and a single /ws route on a
// plain http.ServeMux. The tagged-union {type, payload} envelope mirrors
// that pack's pkg/protocol constant-naming convention, reauthored here for
// this system's own client→server/server→client event vocabulary since the
// retrieval pack did not carry goclaw's event-frame/codec file itself (only
// its method-name constants) — see DESIGN.md.
package gateway

import "encoding/json"

// ClientEvent is the envelope every inbound message is decoded into before
// its Payload is unmarshalled against a type-specific struct.
type ClientEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client → server payload shapes, per spec.md §6.1.
const (
	ClientEventExecute     = "execute"
	ClientEventOrchestrate = "orchestrate"
	ClientEventCancel      = "cancel"
	ClientEventPing        = "ping"
)

// ExecutePayload drives one engine.Run turn.
type ExecutePayload struct {
	Prompt           string `json:"prompt"`
	Mode             string `json:"mode"`
	Model            string `json:"model,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	LanguageTag      string `json:"languageTag,omitempty"`
}

// OrchestratePayload fans one prompt out to named agents per pattern
// ("sequential" pipes each agent's output into the next as input;
// "parallel" gives every agent the same prompt and joins their outputs).
type OrchestratePayload struct {
	Prompt    string   `json:"prompt"`
	Pattern   string   `json:"pattern"`
	Agents    []string `json:"agents"`
	SessionID string   `json:"sessionId,omitempty"`
}

// Server → client event type names, per spec.md §6.1.
const (
	ServerEventStart        = "start"
	ServerEventPlan         = "plan"
	ServerEventToken        = "token"
	ServerEventIteration    = "iteration"
	ServerEventToolCall     = "tool_call"
	ServerEventToolResult   = "tool_result"
	ServerEventToolProgress = "tool_progress"
	ServerEventError        = "error"
	ServerEventHeartbeat    = "heartbeat"
	ServerEventComplete     = "complete"
	ServerEventPong         = "pong"
)

// Error codes the engine surface reports, per spec.md §6.1.
const (
	CodeNoAPIKey      = "NO_API_KEY"
	CodeCircuitOpen   = "CIRCUIT_OPEN"
	CodeSecurity      = "SECURITY"
	CodeGeminiError   = "GEMINI_ERROR"
	CodeRequestFailed = "REQUEST_FAILED"
	CodeStreamError   = "STREAM_ERROR"
	CodeTimeout       = "TIMEOUT"
	CodeParseError    = "PARSE_ERROR"
)

// ServerEvent is the outbound envelope every server → client message is
// encoded as. Payload is typed per event; callers build one with the
// newXxxEvent helpers below rather than constructing the map by hand, so
// the field names per event type stay in one place.
type ServerEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func newStartEvent(id, agent, model string, filesLoaded []string) ServerEvent {
	return ServerEvent{Type: ServerEventStart, Payload: map[string]any{
		"id": id, "agent": agent, "model": model, "filesLoaded": filesLoaded,
	}}
}

func newPlanEvent(agent string, confidence float64, steps []string, reasoning string) ServerEvent {
	return ServerEvent{Type: ServerEventPlan, Payload: map[string]any{
		"agent": agent, "confidence": confidence, "steps": steps, "reasoning": reasoning,
	}}
}

func newTokenEvent(content string) ServerEvent {
	return ServerEvent{Type: ServerEventToken, Payload: map[string]any{"content": content}}
}

func newIterationEvent(number, max int) ServerEvent {
	return ServerEvent{Type: ServerEventIteration, Payload: map[string]any{"number": number, "max": max}}
}

func newToolCallEvent(name string, iteration int) ServerEvent {
	return ServerEvent{Type: ServerEventToolCall, Payload: map[string]any{"name": name, "iteration": iteration}}
}

func newToolResultEvent(name string, success bool, summary string, iteration int) ServerEvent {
	return ServerEvent{Type: ServerEventToolResult, Payload: map[string]any{
		"name": name, "success": success, "summary": summary, "iteration": iteration,
	}}
}

func newErrorEvent(message, code string) ServerEvent {
	return ServerEvent{Type: ServerEventError, Payload: map[string]any{"message": message, "code": code}}
}

func newHeartbeatEvent() ServerEvent { return ServerEvent{Type: ServerEventHeartbeat, Payload: map[string]any{}} }

func newCompleteEvent(durationMs int64) ServerEvent {
	return ServerEvent{Type: ServerEventComplete, Payload: map[string]any{"durationMs": durationMs}}
}

func newPongEvent() ServerEvent { return ServerEvent{Type: ServerEventPong, Payload: map[string]any{}} }

// toolSummary caps a tool's raw output at 200 bytes (plus "…") for the tool_result
// event, per spec.md's cosmetic-only summary framing (the full output still
// goes to the model as a function response; only the wire event is capped).
func toolSummary(output string) string {
	const limit = 200
	if len(output) <= limit {
		return output
	}
	return output[:limit] + "…"
}
