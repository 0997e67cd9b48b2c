package assemble

import (
	"testing"

	"github.com/ashgrove-labs/orkestra"
)

func testPersonas() []orkestra.Persona {
	return []orkestra.Persona{
		{ID: "eskel", Name: "Eskel"},
		{ID: "researcher", Name: "Researcher"},
		{ID: "coder", Name: "Coder", ModelOverride: "gemini-2.5-pro"},
	}
}

func noopClassify(prompt string, personas []orkestra.Persona, defaultID string) (string, float64, string) {
	return defaultID, 0.4, "no keyword matched"
}

func TestResolvePersonaExplicitOverrideWins(t *testing.T) {
	r := ResolvePersona("fix this bug", "coder", "researcher", testPersonas(), "eskel", noopClassify)
	if r.Persona.ID != "coder" || r.Confidence != 1.0 {
		t.Errorf("expected explicit override to coder at 1.0, got %+v", r)
	}
}

func TestResolvePersonaAtPrefixStripsAndResolves(t *testing.T) {
	r := ResolvePersona("@researcher find me papers on X", "", "", testPersonas(), "eskel", noopClassify)
	if r.Persona.ID != "researcher" || r.Confidence != 0.99 {
		t.Errorf("expected @prefix resolution to researcher at 0.99, got %+v", r)
	}
	if r.Prompt != "find me papers on X" {
		t.Errorf("expected prefix stripped from prompt, got %q", r.Prompt)
	}
}

func TestResolvePersonaSessionLockWhenNoOverrideOrPrefix(t *testing.T) {
	r := ResolvePersona("what's next", "", "coder", testPersonas(), "eskel", noopClassify)
	if r.Persona.ID != "coder" || r.Confidence != 0.95 {
		t.Errorf("expected session lock to coder at 0.95, got %+v", r)
	}
}

func TestResolvePersonaFallsBackToClassifier(t *testing.T) {
	r := ResolvePersona("hello", "", "", testPersonas(), "eskel", noopClassify)
	if r.Persona.ID != "eskel" || r.Confidence != 0.4 {
		t.Errorf("expected classifier fallback to default, got %+v", r)
	}
}

func TestResolveModelExplicitWins(t *testing.T) {
	model := ResolveModel(ModelResolutionInput{
		ExplicitModel: "gemini-3-pro",
		Persona:       orkestra.Persona{ModelOverride: "gemini-2.5-pro"},
		GlobalDefault: "gemini-2.5-flash",
	})
	if model != "gemini-3-pro" {
		t.Errorf("expected explicit model to win, got %q", model)
	}
}

func TestResolveModelPersonaOverrideBeatsAutoTier(t *testing.T) {
	model := ResolveModel(ModelResolutionInput{
		Persona:       orkestra.Persona{ModelOverride: "gemini-2.5-pro"},
		Prompt:        "short",
		FlashTier:     "gemini-2.5-flash",
		GlobalDefault: "gemini-2.5-flash-lite",
	})
	if model != "gemini-2.5-pro" {
		t.Errorf("expected persona override to win over auto-tier, got %q", model)
	}
}

func TestResolveModelAutoTiersByLength(t *testing.T) {
	short := ResolveModel(ModelResolutionInput{Prompt: "hi", FlashTier: "flash", ThinkingTier: "thinking", GlobalDefault: "default"})
	if short != "flash" {
		t.Errorf("expected short prompt to tier to flash, got %q", short)
	}

	long := ResolveModel(ModelResolutionInput{Prompt: string(make([]byte, 2000)), FlashTier: "flash", ThinkingTier: "thinking", GlobalDefault: "default"})
	if long != "thinking" {
		t.Errorf("expected long prompt to tier to thinking, got %q", long)
	}
}

func TestResolveModelABSplitAppliesLast(t *testing.T) {
	model := ResolveModel(ModelResolutionInput{
		Persona:       orkestra.Persona{ModelOverride: "gemini-2.5-pro", ModelB: "gemini-3-pro-preview", ABSplit: 0.5},
		ABVariate:     0.1,
		GlobalDefault: "default",
	})
	if model != "gemini-3-pro-preview" {
		t.Errorf("expected AB variate below split to pick ModelB, got %q", model)
	}

	model = ResolveModel(ModelResolutionInput{
		Persona:       orkestra.Persona{ModelOverride: "gemini-2.5-pro", ModelB: "gemini-3-pro-preview", ABSplit: 0.5},
		ABVariate:     0.9,
		GlobalDefault: "default",
	})
	if model != "gemini-2.5-pro" {
		t.Errorf("expected AB variate above split to keep the resolved model, got %q", model)
	}
}

func TestStripAtPrefixRequiresLeadingAt(t *testing.T) {
	if _, _, ok := stripAtPrefix("no prefix here"); ok {
		t.Error("expected no match without a leading @")
	}
}
