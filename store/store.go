// Package store defines the narrow persistence interface the execution
// engine consumes. The engine never talks to SQL directly; it depends only
// on SessionStore so the storage backend (store/sqlite here, a different
// backend elsewhere) stays swappable, the same way the teacher's oasis.Store
// interface decoupled its agent loop from a concrete database.
package store

import "context"

// HistoryTurn is one persisted conversational turn, as read back for
// replay into a provider request. Content is the turn's flattened text;
// richer Part data (function calls, inline data) is not round-tripped
// through history — only the synthesized text survives a restart.
type HistoryTurn struct {
	Role    string
	Content string
	Model   string
	Agent   string
}

// SessionStore is the persistence contract the engine depends on: load a
// session's recent history, discover whether it is locked to a persona,
// append a finished turn, and record per-call usage for billing/limits.
type SessionStore interface {
	// LoadHistory returns up to the most recent n turns for sessionID,
	// oldest first. The engine applies its own 500-char truncation to
	// all but the newest 6 rows before sending them upstream.
	LoadHistory(ctx context.Context, sessionID string, n int) ([]HistoryTurn, error)

	// SessionAgent returns the persona locked to sessionID, or "" if the
	// session has not yet been assigned one.
	SessionAgent(ctx context.Context, sessionID string) (string, error)

	// SaveMessage appends one turn to sessionID's history.
	SaveMessage(ctx context.Context, requestID, sessionID, role, content, model, agent string) error

	// RecordUsage logs one provider call's cost and outcome.
	RecordUsage(ctx context.Context, agentID, model string, inputTokens, outputTokens int, latencyMS int64, success bool, tier string) error
}
