// Package classify maps an incoming prompt to a Persona id, confidence,
// and human-readable reasoning. The keyword-scoring pass is pure and
// deterministic; an optional LLM fallback (invoked by the engine, not by
// this package, when confidence is low) is layered in via LLMFallback.
//
// Grounded on the teacher's internal/app/intent.go ClassifyIntent/
// ParseIntent/extractJSON — generalized from a binary chat/action split to
// an N-way persona classifier, with a keyword-scoring pre-pass the teacher
// never had (its classifier was LLM-only). The diacritic-folding and
// length-gated matching idiom draws on guardrail.go's normalize-then-match
// phrase shape.
package classify

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/ashgrove-labs/orkestra"
)

// Result is the classifier's verdict for one prompt.
type Result struct {
	PersonaID  string
	Confidence float64
	Reasoning  string
}

const (
	llmFallbackThreshold = 0.65
	llmFallbackConfidence = 0.80
	llmUpstreamTimeout    = 5 * time.Second
	llmWallClockDeadline  = 8 * time.Second
)

// Classify implements spec.md §4.1's exact algorithm: fold diacritics,
// score each persona's keywords, pick the highest-scoring persona (ties
// broken by list order), and fall back to defaultID at confidence 0.4 when
// nothing matched. Pure and deterministic: two calls with the same
// (prompt, personas) return byte-identical results.
func Classify(prompt string, personas []orkestra.Persona, defaultID string) Result {
	folded := fold(prompt)
	words := splitWords(folded)

	bestIdx := -1
	var bestScore float64
	var bestMatches []string

	for i, p := range personas {
		score, matched := scorePersona(folded, words, p.Keywords)
		if score > bestScore {
			bestScore = score
			bestIdx = i
			bestMatches = matched
		}
	}

	if bestIdx == -1 || bestScore == 0 {
		return Result{
			PersonaID:  defaultID,
			Confidence: 0.4,
			Reasoning:  "no keyword matched any persona",
		}
	}

	confidence := 0.6 + min(bestScore/8, 0.35)
	if confidence > 0.95 {
		confidence = 0.95
	}

	return Result{
		PersonaID:  personas[bestIdx].ID,
		Confidence: confidence,
		Reasoning:  "matched keywords: " + strings.Join(bestMatches, ", "),
	}
}

func scorePersona(folded string, words map[string]bool, keywords []string) (float64, []string) {
	var score float64
	var matched []string
	for _, kw := range keywords {
		foldedKW := fold(kw)
		var hit bool
		if len(foldedKW) >= 4 {
			hit = strings.Contains(folded, foldedKW)
		} else {
			hit = words[foldedKW]
		}
		if !hit {
			continue
		}
		score += weight(len(foldedKW))
		matched = append(matched, kw)
	}
	return score, matched
}

func weight(length int) float64 {
	switch {
	case length >= 8:
		return 2.0
	case length >= 5:
		return 1.5
	default:
		return 1.0
	}
}

func splitWords(s string) map[string]bool {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// fold lowercases s and folds Polish diacritics per spec.md §4.1.
func fold(s string) string {
	s = strings.ToLower(s)
	replacer := strings.NewReplacer(
		"ą", "a", "ć", "c", "ę", "e", "ł", "l",
		"ń", "n", "ó", "o", "ś", "s", "ź", "z", "ż", "z",
	)
	return replacer.Replace(s)
}

// LLMFallback asks the given provider's smallest chat model to choose one
// persona id directly, per spec.md §4.1. It is the engine's (C5's)
// responsibility to invoke this only when the keyword result's confidence
// is below llmFallbackThreshold; this function itself does not gate on
// confidence, but it does apply llmUpstreamTimeout and llmWallClockDeadline
// to its own provider call.
//
// Mirrors ClassifyIntent's fail-open shape: on any error the keyword
// result is kept unchanged, never overridden by a fixed default — unlike
// the teacher, whose classifier has no pre-pass result to fall back to and
// so defaults to its safer of two choices instead.
func LLMFallback(ctx context.Context, provider orkestra.Provider, prompt string, personas []orkestra.Persona, keywordResult Result) Result {
	ctx, cancel := context.WithTimeout(ctx, llmWallClockDeadline)
	defer cancel()

	req := orkestra.ChatRequest{
		SystemPrompt: fallbackSystemPrompt(personas),
		History: []orkestra.ChatTurn{
			{Role: "user", Parts: []orkestra.Part{orkestra.TextPart{Text: prompt}}},
		},
		MaxOutputTokens: 64,
	}

	callCtx, callCancel := context.WithTimeout(ctx, llmUpstreamTimeout)
	defer callCancel()

	ch := make(chan orkestra.StreamEvent, 8)
	done := make(chan struct{})
	var text strings.Builder
	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Type == orkestra.EventTextToken {
				text.WriteString(ev.Text)
			}
		}
	}()

	_, err := provider.ChatStream(callCtx, req, ch)
	close(ch)
	<-done

	if err != nil {
		return keywordResult
	}

	id := parseIntentID(text.String())
	if id == "" || !knownID(id, personas) {
		return keywordResult
	}

	return Result{PersonaID: id, Confidence: llmFallbackConfidence, Reasoning: "llm fallback selected " + id}
}

func knownID(id string, personas []orkestra.Persona) bool {
	for _, p := range personas {
		if p.ID == id {
			return true
		}
	}
	return false
}

func fallbackSystemPrompt(personas []orkestra.Persona) string {
	var b strings.Builder
	b.WriteString("Classify the user message into exactly one of these persona ids:\n")
	ids := make([]string, 0, len(personas))
	for _, p := range personas {
		ids = append(ids, p.ID)
		b.WriteString("- ")
		b.WriteString(p.ID)
		b.WriteString(": ")
		b.WriteString(p.Description)
		b.WriteString("\n")
	}
	sort.Strings(ids)
	b.WriteString(`Return a JSON object with a single "persona" field holding exactly one lowercase id from the list above, and nothing else.`)
	return b.String()
}

// parseIntentID extracts the chosen persona id from the fallback model's
// JSON response, tolerating markdown code fences the same way the
// teacher's extractJSON does.
func parseIntentID(response string) string {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return ""
	}

	var parsed struct {
		Persona string `json:"persona"`
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &parsed); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parsed.Persona))
}
