package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/assemble"
	"github.com/ashgrove-labs/orkestra/dispatch"
	"github.com/ashgrove-labs/orkestra/toolkit"
)

// S1 — pure-text reply: a single stream with one text part and no tool
// calls completes in one iteration with no tool events.
func TestScenarioPureTextReply(t *testing.T) {
	answer := "Consistency, Availability, Partition tolerance: pick two."
	provider := &scriptedProvider{
		modelName: "model-s1",
		steps: []step{{
			events: []orkestra.StreamEvent{{Type: orkestra.EventTextToken, Text: answer}},
			resp:   orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.TextPart{Text: answer}}},
		}},
	}
	st := newFakeStore()
	e := newTestEngine("model-s1", map[string]orkestra.Provider{"model-s1": provider}, nil, st)

	events := make(chan Event, 32)
	var seen []EventType
	done := make(chan Result, 1)
	go func() {
		result, err := e.Run(context.Background(), Request{
			Prompt:     "Explain CAP theorem",
			SessionID:  "s1",
			Credential: assemble.Credential{Value: "k"},
		}, events)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- result
	}()

	for ev := range drain(events, EventComplete, EventError) {
		seen = append(seen, ev.Type)
	}
	result := <-done

	if result.Text != answer {
		t.Errorf("expected result text %q, got %q", answer, result.Text)
	}
	for _, forbidden := range []EventType{EventToolCall, EventToolResult} {
		for _, ev := range seen {
			if ev == forbidden {
				t.Errorf("did not expect a %s event for a pure-text reply", forbidden)
			}
		}
	}
	if provider.calls != 1 {
		t.Errorf("expected exactly 1 provider call, got %d", provider.calls)
	}
}

// S2 — single tool call then answer: the model calls list_directory, gets
// a result, and answers in its second turn. The function-response carries
// the original call's thought signature back upstream.
func TestScenarioSingleToolCallThenAnswer(t *testing.T) {
	callArgs, _ := json.Marshal(map[string]string{"path": "/tmp/x"})
	provider := &scriptedProvider{
		modelName: "model-s2",
		steps: []step{
			{
				resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.FunctionCallPart{
					ID: "call-1", Name: "list_directory", Args: callArgs, Signature: "Z",
				}}},
			},
			{
				resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.TextPart{Text: "Two files: foo.txt and bar.txt"}}},
			},
		},
	}

	var secondRequest orkestra.ChatRequest
	callCount := 0
	provider.onChat = func(req orkestra.ChatRequest) {
		callCount++
		if callCount == 2 {
			secondRequest = req
		}
	}

	tools := toolkit.NewRegistry()
	lsTool := &fakeTool{name: "list_directory", description: "list", output: "foo.txt\nbar.txt"}
	tools.Add(lsTool)

	st := newFakeStore()
	e := newTestEngine("model-s2", map[string]orkestra.Provider{"model-s2": provider}, tools, st)

	result, err := e.Run(context.Background(), Request{
		Prompt:     "List files in /tmp/x",
		SessionID:  "s2",
		Credential: assemble.Credential{Value: "k"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lsTool.calls != 1 {
		t.Errorf("expected list_directory to run once, got %d", lsTool.calls)
	}
	if result.Text != "Two files: foo.txt and bar.txt" {
		t.Errorf("unexpected result text %q", result.Text)
	}

	foundSignature := false
	for _, turn := range secondRequest.History {
		for _, p := range turn.Parts {
			if fr, ok := p.(orkestra.FunctionResponsePart); ok && fr.Signature == "Z" {
				foundSignature = true
			}
		}
	}
	if !foundSignature {
		t.Error("expected the replayed function-response to carry the original call's thought signature")
	}
}

// S3 — malformed function call: an empty, malformed first stream triggers
// one no-tools retry, which answers directly.
func TestScenarioMalformedFunctionCallRetriesWithoutTools(t *testing.T) {
	provider := &scriptedProvider{
		modelName: "model-s3",
		steps: []step{
			{events: []orkestra.StreamEvent{{Type: orkestra.EventMalformedFunctionCall}}},
			{resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.TextPart{Text: "Sorry, rephrasing: here is a direct answer."}}}},
		},
	}

	var retryReq orkestra.ChatRequest
	calls := 0
	provider.onChat = func(req orkestra.ChatRequest) {
		calls++
		if calls == 2 {
			retryReq = req
		}
	}

	tools := toolkit.NewRegistry()
	tools.Add(&fakeTool{name: "some_tool", description: "a tool"})

	e := newTestEngine("model-s3", map[string]orkestra.Provider{"model-s3": provider}, tools, newFakeStore())

	result, err := e.Run(context.Background(), Request{
		Prompt:     "do something odd",
		SessionID:  "s3",
		Credential: assemble.Credential{Value: "k"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "Sorry, rephrasing: here is a direct answer." {
		t.Errorf("unexpected result text %q", result.Text)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 provider calls (original + retry), got %d", calls)
	}
	if len(retryReq.Tools) != 0 {
		t.Error("expected the retry turn to offer no tools")
	}
}

// S4 — circuit open: the provider rejects immediately with CodeCircuitOpen.
// No assistant row is stored and the error surfaces to the caller.
func TestScenarioCircuitOpenFailsWithoutPersisting(t *testing.T) {
	provider := &scriptedProvider{
		modelName: "model-s4",
		steps: []step{{
			err: orkestra.NewError(orkestra.CodeCircuitOpen, "circuit breaker is open", nil),
		}},
	}
	st := newFakeStore()
	e := newTestEngine("model-s4", map[string]orkestra.Provider{"model-s4": provider}, nil, st)

	_, err := e.Run(context.Background(), Request{
		Prompt:     "anything",
		SessionID:  "s4",
		Credential: assemble.Credential{Value: "k"},
	}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	oerr, ok := err.(*orkestra.Error)
	if !ok || oerr.Code != orkestra.CodeCircuitOpen {
		t.Errorf("expected CodeCircuitOpen, got %v", err)
	}
	if st.messageCount() != 0 {
		t.Errorf("expected no messages persisted on a circuit-open failure, got %d", st.messageCount())
	}
}

// S6 — delegation depth: a four-deep call_agent chain is cut off at the
// configured maximum without ever contacting the deepest target's provider.
func TestScenarioDelegationDepthLimitStopsTheChain(t *testing.T) {
	personas := []orkestra.Persona{
		{ID: "a", Name: "A", Status: "active", ModelOverride: "model-a"},
		{ID: "b", Name: "B", Status: "active", ModelOverride: "model-b"},
		{ID: "c", Name: "C", Status: "active", ModelOverride: "model-c"},
		{ID: "d", Name: "D", Status: "active", ModelOverride: "model-d"},
	}

	callAgentArgs := func(target string) json.RawMessage {
		b, _ := json.Marshal(map[string]string{"target": target, "task": "continue the chain"})
		return b
	}

	providerE := &scriptedProvider{modelName: "model-e"}
	providers := map[string]orkestra.Provider{
		"model-a": &scriptedProvider{modelName: "model-a", steps: []step{
			{resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.FunctionCallPart{ID: "1", Name: "call_agent", Args: callAgentArgs("b")}}}},
			{resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.TextPart{Text: "a done"}}}},
		}},
		"model-b": &scriptedProvider{modelName: "model-b", steps: []step{
			{resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.FunctionCallPart{ID: "1", Name: "call_agent", Args: callAgentArgs("c")}}}},
			{resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.TextPart{Text: "b done"}}}},
		}},
		"model-c": &scriptedProvider{modelName: "model-c", steps: []step{
			{resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.FunctionCallPart{ID: "1", Name: "call_agent", Args: callAgentArgs("d")}}}},
			{resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.TextPart{Text: "c done"}}}},
		}},
		"model-d": &scriptedProvider{modelName: "model-d", steps: []step{
			{resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.FunctionCallPart{ID: "1", Name: "call_agent", Args: callAgentArgs("e")}}}},
			{resp: orkestra.ChatResponse{Parts: []orkestra.Part{orkestra.TextPart{Text: "d done"}}}},
		}},
		"model-e": providerE,
	}

	cred := assemble.Credential{Value: "k"}

	var e *Engine
	resolver := dispatch.AgentResolver(func(target string) (orkestra.Agent, bool) {
		for _, p := range personas {
			if p.ID == target {
				return &PersonaAgent{Engine: e, PersonaID: target, Credential: cred}, true
			}
		}
		return nil, false
	})

	e = New(Config{
		Personas:           personas,
		DefaultPersonaID:   "a",
		GlobalDefaultModel: "model-a",
		Tools:              toolkit.NewRegistry(),
		Agents:             resolver,
		NewProvider: func(model string, _ assemble.Credential) orkestra.Provider {
			return providers[model]
		},
		Logger: testLogger(),
	})

	result, err := e.Run(context.Background(), Request{
		ExplicitPersona: "a",
		Prompt:          "start the chain",
		Credential:      cred,
		CallDepth:       0,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Text, "a done") {
		t.Errorf("expected the top-level result to include A's own final text, got %q", result.Text)
	}
	if providerE.calls != 0 {
		t.Errorf("expected the depth-exceeding target's provider to never be called, got %d calls", providerE.calls)
	}
}

// drain relays events from in to a fresh channel, closing it once a
// terminal event type is observed, so range-based test loops don't block
// forever on a channel Run never closes.
func drain(in chan Event, terminal ...EventType) chan Event {
	out := make(chan Event, cap(in))
	go func() {
		defer close(out)
		for ev := range in {
			out <- ev
			for _, term := range terminal {
				if ev.Type == term {
					return
				}
			}
		}
	}()
	return out
}
