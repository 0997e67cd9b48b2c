package assemble

import (
	"strings"

	"github.com/ashgrove-labs/orkestra"
)

// maxOutputTokens tier caps, keyed by a coarse tier name derived from the
// resolved model string (flash/pro/else), per spec.md §3.
const (
	flashOutputCap   = 8192
	proOutputCap     = 65536
	defaultOutputCap = 32768
)

// Credential identifies which secret a provider call authenticates with,
// without carrying the secret value itself into logs or the envelope's
// String/observability surface.
type Credential struct {
	Value   string
	IsOAuth bool
}

// Envelope is the fully-assembled request for one turn: everything
// ResolvePersona, ResolveModel, Loader.Load, Compose, and Cache produce,
// bundled for the engine to hand straight to a Provider. Building it is the
// entire job of this package; the engine never re-derives any of these
// fields itself.
type Envelope struct {
	PersonaID  string
	Confidence float64
	Reasoning  string

	Model      string
	Credential Credential

	SystemPrompt    string
	FinalUserPrompt string
	FilesLoaded     []string
	Steps           []string

	Temperature     float64
	TopP            float64
	MaxOutputTokens int
	MaxIterations   int
	ThinkingLevel   orkestra.ThinkingLevel
	ResponseStyle   string

	CallDepth        int
	WorkingDirectory string
}

// Input bundles everything Build needs to assemble one turn's Envelope.
type Input struct {
	Prompt           string
	ExplicitPersona  string
	SessionAgent     string
	Personas         []orkestra.Persona
	DefaultPersonaID string
	Classify         ClassifyFunc

	ExplicitModel string
	FlashTier     string
	ThinkingTier  string
	GlobalDefault string
	ABVariate     float64

	Credential Credential

	WorkingDirectory string
	LanguageTag      string
	Loader           *Loader
	Cache            *Cache
	RenderSystemPrompt func(persona orkestra.Persona, languageTag string) string

	SummaryHint    string
	DirHint        string
	SkipWarning    string
	StyleHint      string
	QualityWarning string
	CollabHint     string

	TopP          float64
	MaxIterations int
	CallDepth     int
}

// Build resolves persona and model, loads file context, composes the final
// prompt, and fills in the cached system prompt, returning the Envelope the
// engine drives one turn from.
func Build(in Input) Envelope {
	persona := ResolvePersona(in.Prompt, in.ExplicitPersona, in.SessionAgent, in.Personas, in.DefaultPersonaID, in.Classify)

	model := ResolveModel(ModelResolutionInput{
		ExplicitModel: in.ExplicitModel,
		Persona:       persona.Persona,
		Prompt:        persona.Prompt,
		FlashTier:     in.FlashTier,
		ThinkingTier:  in.ThinkingTier,
		GlobalDefault: in.GlobalDefault,
		ABVariate:     in.ABVariate,
	})

	var fileContext string
	var filesLoaded []string
	if in.Loader != nil {
		fileContext = in.Loader.Load(persona.Prompt)
		filesLoaded = ExtractPaths(persona.Prompt)
	}

	finalPrompt := Compose(Composition{
		FileContext:    fileContext,
		SummaryHint:    in.SummaryHint,
		UserPrompt:     persona.Prompt,
		DirHint:        in.DirHint,
		SkipWarning:    in.SkipWarning,
		StyleHint:      in.StyleHint,
		QualityWarning: in.QualityWarning,
		CollabHint:     in.CollabHint,
	})

	systemPrompt := renderCachedSystemPrompt(in, persona.Persona, model)

	const defaultTemperature = 0.7
	temp := defaultTemperature
	if persona.Persona.TemperatureOverride != nil {
		temp = *persona.Persona.TemperatureOverride
	}

	thinking := persona.Persona.ThinkingLevelOverride

	return Envelope{
		PersonaID:  persona.Persona.ID,
		Confidence: persona.Confidence,
		Reasoning:  persona.Reasoning,

		Model:      model,
		Credential: in.Credential,

		SystemPrompt:    systemPrompt,
		FinalUserPrompt: finalPrompt,
		FilesLoaded:     filesLoaded,
		Steps:           nil,

		Temperature:     temp,
		TopP:            in.TopP,
		MaxOutputTokens: maxOutputTokensFor(model),
		MaxIterations:   in.MaxIterations,
		ThinkingLevel:   thinking,
		ResponseStyle:   in.StyleHint,

		CallDepth:        in.CallDepth,
		WorkingDirectory: in.WorkingDirectory,
	}
}

func renderCachedSystemPrompt(in Input, persona orkestra.Persona, model string) string {
	if in.RenderSystemPrompt == nil || persona.SystemPromptOverride != "" {
		return persona.SystemPromptOverride
	}
	if in.Cache == nil {
		return in.RenderSystemPrompt(persona, in.LanguageTag)
	}
	key := CacheKeyFor(persona.ID, in.LanguageTag, model, in.WorkingDirectory)
	if cached, ok := in.Cache.Get(key); ok {
		return cached
	}
	rendered := in.RenderSystemPrompt(persona, in.LanguageTag)
	in.Cache.Put(key, rendered)
	return rendered
}

// maxOutputTokensFor applies spec.md §3's tier cap table by substring
// matching on the resolved model name (gemini-*-flash* -> flash tier,
// gemini-*-pro* -> pro tier, everything else -> the default cap).
func maxOutputTokensFor(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "flash"):
		return flashOutputCap
	case strings.Contains(lower, "pro"):
		return proOutputCap
	default:
		return defaultOutputCap
	}
}
