// Package assemble builds the exact request envelope for one turn:
// persona resolution, model resolution, file-context auto-loading, fixed
// prompt composition, and the cached system prompt.
//
// Persona/model resolution is grounded on provider/resolve/resolve.go's
// "explicit > override > default" layered idiom, applied here to
// persona/model selection instead of provider config fields.
package assemble

import (
	"strconv"
	"strings"

	"github.com/ashgrove-labs/orkestra"
)

// PersonaResolution is the outcome of resolving a persona for one turn.
type PersonaResolution struct {
	Persona    orkestra.Persona
	Confidence float64
	Reasoning  string
	// Prompt is the caller's prompt with any leading "@name " prefix
	// stripped, for use by every later composition step.
	Prompt string
}

// ClassifyFunc matches classify.Classify's signature without importing the
// classify package, keeping assemble's only dependency a function value
// the caller wires in.
type ClassifyFunc func(prompt string, personas []orkestra.Persona, defaultID string) (personaID string, confidence float64, reasoning string)

// ResolvePersona implements spec.md §4.2's priority order: explicit
// override, then an "@name " prefix, then the session's locked persona,
// then the classifier. explicitID and sessionAgent are both optional
// ("" means absent); classify is invoked only when neither resolves it.
func ResolvePersona(prompt, explicitID, sessionAgent string, personas []orkestra.Persona, defaultID string, classify ClassifyFunc) PersonaResolution {
	if explicitID != "" {
		if p, ok := findPersona(personas, explicitID); ok {
			return PersonaResolution{Persona: p, Confidence: 1.0, Reasoning: "explicit override", Prompt: prompt}
		}
	}

	if name, rest, ok := stripAtPrefix(prompt); ok {
		if p, found := findPersonaByIDOrName(personas, name); found {
			return PersonaResolution{Persona: p, Confidence: 0.99, Reasoning: "@" + name + " prefix", Prompt: rest}
		}
	}

	if sessionAgent != "" {
		if p, ok := findPersona(personas, sessionAgent); ok {
			return PersonaResolution{Persona: p, Confidence: 0.95, Reasoning: "session lock", Prompt: prompt}
		}
	}

	id, confidence, reasoning := classify(prompt, personas, defaultID)
	p, _ := findPersona(personas, id)
	return PersonaResolution{Persona: p, Confidence: confidence, Reasoning: reasoning, Prompt: prompt}
}

func findPersona(personas []orkestra.Persona, id string) (orkestra.Persona, bool) {
	for _, p := range personas {
		if p.ID == id {
			return p, true
		}
	}
	return orkestra.Persona{}, false
}

func findPersonaByIDOrName(personas []orkestra.Persona, nameOrID string) (orkestra.Persona, bool) {
	lower := strings.ToLower(nameOrID)
	for _, p := range personas {
		if p.ID == lower || strings.ToLower(p.Name) == lower {
			return p, true
		}
	}
	return orkestra.Persona{}, false
}

// stripAtPrefix detects a leading "@name " token and returns the name and
// the remaining prompt with the prefix removed.
func stripAtPrefix(prompt string) (name, rest string, ok bool) {
	trimmed := strings.TrimSpace(prompt)
	if !strings.HasPrefix(trimmed, "@") {
		return "", "", false
	}
	fields := strings.SplitN(trimmed[1:], " ", 2)
	if fields[0] == "" {
		return "", "", false
	}
	rest = ""
	if len(fields) == 2 {
		rest = fields[1]
	}
	return fields[0], rest, true
}

// PromptTier classifies a prompt's length into simple/medium/complex for
// model auto-tiering.
type PromptTier string

const (
	TierSimple  PromptTier = "simple"
	TierMedium  PromptTier = "medium"
	TierComplex PromptTier = "complex"
)

const (
	simpleMaxChars  = 200
	complexMinChars = 1000
)

// ClassifyPromptTier buckets prompt by length per spec.md §4.2.
func ClassifyPromptTier(prompt string) PromptTier {
	n := len(prompt)
	switch {
	case n <= simpleMaxChars:
		return TierSimple
	case n >= complexMinChars:
		return TierComplex
	default:
		return TierMedium
	}
}

// ModelResolutionInput bundles the inputs to ResolveModel.
type ModelResolutionInput struct {
	ExplicitModel string
	Persona       orkestra.Persona
	Prompt        string
	FlashTier     string
	ThinkingTier  string
	GlobalDefault string
	// ABVariate is a caller-supplied uniform [0,1) draw, so resolution
	// stays deterministic and testable; production callers pass
	// rand.Float64().
	ABVariate float64
}

// ResolveModel implements spec.md §4.2's model resolution chain: explicit
// > persona override > auto-tier-by-prompt-length > global default, with
// the persona's A/B split applied last regardless of which tier of the
// chain produced the base model.
func ResolveModel(in ModelResolutionInput) string {
	model := in.GlobalDefault

	switch {
	case in.ExplicitModel != "":
		model = in.ExplicitModel
	case in.Persona.ModelOverride != "":
		model = in.Persona.ModelOverride
	default:
		switch ClassifyPromptTier(in.Prompt) {
		case TierSimple:
			if in.FlashTier != "" {
				model = in.FlashTier
			}
		case TierComplex:
			if in.ThinkingTier != "" {
				model = in.ThinkingTier
			}
		}
	}

	if in.Persona.ModelB != "" && in.ABVariate < in.Persona.ABSplit {
		model = in.Persona.ModelB
	}
	return model
}

// CacheKeyFor builds the system-prompt cache key for one resolved turn.
func CacheKeyFor(personaID, languageTag, model, workingDirectory string) CacheKey {
	return CacheKey{PersonaID: personaID, LanguageTag: languageTag, Model: model, WorkingDirectory: workingDirectory}
}

// formatFloat is a small helper kept for callers that need the AB variate
// in log lines without importing strconv themselves.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}
