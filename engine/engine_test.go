package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/assemble"
	"github.com/ashgrove-labs/orkestra/toolkit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine builds an Engine whose persona list is a single "default"
// persona pinned to modelName via ModelOverride, so ResolveModel is
// deterministic regardless of prompt length.
func newTestEngine(modelName string, providers map[string]orkestra.Provider, tools *toolkit.Registry, st *fakeStore) *Engine {
	if tools == nil {
		tools = toolkit.NewRegistry()
	}
	return New(Config{
		Personas:           []orkestra.Persona{{ID: "default", Name: "Default", Status: "active", ModelOverride: modelName}},
		DefaultPersonaID:   "default",
		GlobalDefaultModel: modelName,
		FlashModel:         "flash-model",
		Tools:              tools,
		NewProvider: func(model string, _ assemble.Credential) orkestra.Provider {
			if p, ok := providers[model]; ok {
				return p
			}
			return providers["*"]
		},
		Store:  st,
		Logger: testLogger(),
	})
}

func TestRunFailsFastWithoutCredential(t *testing.T) {
	e := newTestEngine("model-x", nil, nil, nil)
	_, err := e.Run(context.Background(), Request{Prompt: "hi"}, nil)
	if err == nil {
		t.Fatal("expected an error with no credential set")
	}
	oerr, ok := err.(*orkestra.Error)
	if !ok || oerr.Code != orkestra.CodeNoCredential {
		t.Errorf("expected CodeNoCredential, got %v", err)
	}
}

func TestRunCancellationStopsTokensAndCompletesGracefully(t *testing.T) {
	provider := &scriptedProvider{
		modelName: "model-x",
		steps: []step{{
			events: []orkestra.StreamEvent{
				{Type: orkestra.EventTextToken, Text: "one "},
				{Type: orkestra.EventTextToken, Text: "two "},
				{Type: orkestra.EventTextToken, Text: "three "},
				{Type: orkestra.EventTextToken, Text: "four "},
			},
			resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.TextPart{Text: "one two three four "}}},
		}},
	}

	st := newFakeStore()
	e := newTestEngine("model-x", map[string]orkestra.Provider{"model-x": provider}, nil, st)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event, 32)

	var tokenCount int
	done := make(chan struct{})
	var result Result
	var runErr error
	go func() {
		result, runErr = e.Run(ctx, Request{
			Prompt:     "stream me some tokens",
			SessionID:  "sess-1",
			Credential: assemble.Credential{Value: "secret"},
		}, events)
		close(done)
	}()

	for ev := range events {
		if ev.Type == EventToken {
			tokenCount++
			if tokenCount == 3 {
				cancel()
			}
		}
		if ev.Type == EventComplete || ev.Type == EventError {
			break
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if runErr == nil {
		t.Error("expected Run to surface the cancellation error to its caller")
	}
	if result.Text == "" {
		t.Error("expected the partial text collected before cancellation to be kept")
	}

	select {
	case <-st.saveDone:
	case <-time.After(time.Second):
		t.Fatal("expected persistence to still run for a cancelled-but-not-failed request")
	}
}

func TestRunPersistsUserAndAssistantMessagesPlusUsage(t *testing.T) {
	provider := &scriptedProvider{
		modelName: "model-x",
		steps: []step{{
			resp: orkestra.ChatResponse{
				Parts: []orkestra.Part{orkestra.TextPart{Text: "a considered, complete answer to the question asked, long enough to count as a finished report on its own without another turn."}},
				Usage: orkestra.Usage{InputTokens: 42, OutputTokens: 17},
			},
		}},
	}
	st := newFakeStore()
	e := newTestEngine("model-x", map[string]orkestra.Provider{"model-x": provider}, nil, st)

	result, err := e.Run(context.Background(), Request{
		Prompt:     "what is the capital of France",
		SessionID:  "sess-1",
		Credential: assemble.Credential{Value: "secret"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text == "" {
		t.Fatal("expected non-empty result text")
	}

	for i := 0; i < 3; i++ {
		select {
		case <-st.saveDone:
		case <-time.After(time.Second):
			t.Fatalf("expected 3 persistence calls, only observed %d", i)
		}
	}

	if st.messageCount() != 2 {
		t.Errorf("expected 2 saved messages (user + assistant), got %d", st.messageCount())
	}
	if len(st.usage) != 1 {
		t.Fatalf("expected 1 recorded usage row, got %d", len(st.usage))
	}
	if st.usage[0].inputTokens != 42 || st.usage[0].outputTokens != 17 {
		t.Errorf("expected usage to carry the provider's reported token counts, got %+v", st.usage[0])
	}
	if !st.usage[0].success {
		t.Error("expected a successful run to record success=true")
	}
}
