package assemble

import "strings"

// Composition holds the optional hint blocks the assembler folds into one
// user prompt. Composition order is fixed per spec.md §4.2 and never
// reordered: fileContext, summaryHint, userPrompt, dirHint, skipWarning,
// styleHint, qualityWarning, collabHint. Empty fields contribute nothing
// (no stray blank lines).
type Composition struct {
	FileContext    string
	SummaryHint    string
	UserPrompt     string
	DirHint        string
	SkipWarning    string
	StyleHint      string
	QualityWarning string
	CollabHint     string
}

// Compose joins the non-empty blocks in spec.md §4.2's fixed order,
// separated by blank lines.
func Compose(c Composition) string {
	blocks := []string{c.FileContext, c.SummaryHint, c.UserPrompt, c.DirHint, c.SkipWarning, c.StyleHint, c.QualityWarning, c.CollabHint}
	var nonEmpty []string
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			nonEmpty = append(nonEmpty, strings.TrimRight(b, "\n"))
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}
