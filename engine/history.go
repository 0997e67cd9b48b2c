package engine

import (
	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/store"
)

// History compression constants per spec.md §3: load the most recent 20
// persisted rows, and truncate all but the newest 6 at 500 chars before
// replaying them upstream. Grounded on the teacher's agentmemory.go history
// load plus loop.go's compressMessages truncation-on-budget idiom, here
// applied as a fixed row-age rule instead of a whole-history rune budget.
const (
	historyWindow        = 20
	historyPreserveRecent = 6
	historyTruncateChars  = 500
)

// buildHistoryTurns converts persisted rows (oldest first) into ChatTurns,
// truncating every row older than the newest historyPreserveRecent.
func buildHistoryTurns(rows []store.HistoryTurn) []orkestra.ChatTurn {
	turns := make([]orkestra.ChatTurn, 0, len(rows))
	cutoff := len(rows) - historyPreserveRecent
	for i, row := range rows {
		content := row.Content
		if i < cutoff {
			content = truncateHistoryRow(content)
		}
		turns = append(turns, orkestra.ChatTurn{
			Role:  row.Role,
			Parts: []orkestra.Part{orkestra.TextPart{Text: content}},
		})
	}
	return turns
}

// truncateHistoryRow truncates s to historyTruncateChars runes, never
// splitting a multi-byte code point, and marks the cut with an ellipsis.
func truncateHistoryRow(s string) string {
	r := []rune(s)
	if len(r) <= historyTruncateChars {
		return s
	}
	return string(r[:historyTruncateChars]) + "…"
}
