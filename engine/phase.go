package engine

import (
	"fmt"
	"strings"
)

// fixIntentMarkers are the language-neutral substrings spec.md §9 names as
// evidence the model described a fix without applying it. Isolated behind
// looksLikeFixIntent so a future tool-based signal (the model explicitly
// declaring "I would edit X") is a one-function swap, per the Open
// Question decision recorded alongside this package.
var fixIntentMarkers = []string{
	"fix", "edit_file", "write_file", "napraw", "popraw",
}

// looksLikeFixIntent reports whether text reads like a described-but-not-
// applied fix.
func looksLikeFixIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range fixIntentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// needsEditPhase reports whether the post-loop edit-phase enforcement of
// spec.md §4.5 should run, as an explicit precondition rather than nested
// branches inside the loop, per the ProcessorChain-style redesign note.
func needsEditPhase(hasWrittenFile bool, accumulatedText string) bool {
	return !hasWrittenFile && accumulatedText != "" && looksLikeFixIntent(accumulatedText)
}

// synthesisMinChars is the minimum model-authored text length spec.md §4.5
// accepts as a standalone report; below it, synthesis-phase enforcement runs.
const synthesisMinChars = 100

// needsSynthesisPhase reports whether the post-loop synthesis-phase
// enforcement should run: some output was produced overall, but the
// model-authored text on its own is too short to stand as a report.
func needsSynthesisPhase(producedAnyOutput bool, modelAuthoredTextLen int) bool {
	return producedAnyOutput && modelAuthoredTextLen < synthesisMinChars
}

// Reminder thresholds per spec.md §4.5.
const (
	reminderFromIteration = 3
	editUrgeIteration     = 8
	wrapUpIteration       = 12
)

// buildReminder composes the system-note text appended to the next user
// turn once the loop has run a few iterations: a context-budget hint, an
// edit nudge, and iteration-count escalations.
func buildReminder(approxBytes, messageCount, iteration, ceiling int, hasWrittenFile bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[CONTEXT: ~%dkb across %d msgs, iter %d/%d]", approxBytes/1024, messageCount, iteration, ceiling)
	if hasWrittenFile {
		b.WriteString(" you have applied edits.")
	} else {
		b.WriteString(" remember to call edit_file/write_file if a change is needed.")
	}
	if iteration >= editUrgeIteration {
		b.WriteString(" consider applying edits now.")
	}
	if iteration >= wrapUpIteration {
		b.WriteString(" approaching iteration limit, wrap up.")
	}
	return b.String()
}
