package orkestra

import (
	"context"
	"errors"
	"testing"
)

type appendNoteProcessor struct{ text string }

func (p *appendNoteProcessor) PreLLM(_ context.Context, req *ChatRequest) error {
	req.History = append(req.History, ChatTurn{Role: "system", Parts: []Part{SystemNotePart{Text: p.text}}})
	return nil
}

type markProcessor struct{}

func (p *markProcessor) PostLLM(_ context.Context, resp *ChatResponse) error {
	resp.Parts = append(resp.Parts, TextPart{Text: "[modified]"})
	return nil
}

type redactToolProcessor struct{}

func (p *redactToolProcessor) PostTool(_ context.Context, _ ToolCall, result *Output) error {
	result.Text = "[redacted] " + result.Text
	return nil
}

type haltProcessor struct{ response string }

func (p *haltProcessor) PreLLM(_ context.Context, _ *ChatRequest) error  { return &ErrHalt{Response: p.response} }
func (p *haltProcessor) PostLLM(_ context.Context, _ *ChatResponse) error { return &ErrHalt{Response: p.response} }
func (p *haltProcessor) PostTool(_ context.Context, _ ToolCall, _ *Output) error {
	return &ErrHalt{Response: p.response}
}

type errorProcessor struct{}

func (p *errorProcessor) PreLLM(_ context.Context, _ *ChatRequest) error { return errors.New("infra failure") }

type allPhasesProcessor struct {
	preCalled, postCalled, toolCalled bool
}

func (p *allPhasesProcessor) PreLLM(_ context.Context, _ *ChatRequest) error   { p.preCalled = true; return nil }
func (p *allPhasesProcessor) PostLLM(_ context.Context, _ *ChatResponse) error { p.postCalled = true; return nil }
func (p *allPhasesProcessor) PostTool(_ context.Context, _ ToolCall, _ *Output) error {
	p.toolCalled = true
	return nil
}

func TestProcessorChainRunPreLLM(t *testing.T) {
	chain := NewProcessorChain()
	chain.Add(&appendNoteProcessor{text: "first"})
	chain.Add(&appendNoteProcessor{text: "second"})

	req := ChatRequest{History: []ChatTurn{{Role: "user", Parts: []Part{TextPart{Text: "hello"}}}}}
	if err := chain.RunPreLLM(context.Background(), &req); err != nil {
		t.Fatal(err)
	}
	if len(req.History) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(req.History))
	}
}

func TestProcessorChainRunPostLLM(t *testing.T) {
	chain := NewProcessorChain()
	chain.Add(&markProcessor{})

	resp := ChatResponse{Parts: []Part{TextPart{Text: "hello"}}}
	if err := chain.RunPostLLM(context.Background(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(resp.Parts))
	}
}

func TestProcessorChainRunPostTool(t *testing.T) {
	chain := NewProcessorChain()
	chain.Add(&redactToolProcessor{})

	tc := ToolCall{ID: "1", Name: "test"}
	result := Output{Text: "secret data"}
	if err := chain.RunPostTool(context.Background(), tc, &result); err != nil {
		t.Fatal(err)
	}
	if result.Text != "[redacted] secret data" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestProcessorChainHaltStopsChain(t *testing.T) {
	chain := NewProcessorChain()
	chain.Add(&haltProcessor{response: "blocked"})
	chain.Add(&appendNoteProcessor{text: "should not run"})

	req := ChatRequest{History: []ChatTurn{{Role: "user", Parts: []Part{TextPart{Text: "hello"}}}}}
	err := chain.RunPreLLM(context.Background(), &req)

	var halt *ErrHalt
	if !errors.As(err, &halt) {
		t.Fatalf("expected ErrHalt, got %v", err)
	}
	if halt.Response != "blocked" {
		t.Errorf("halt response = %q", halt.Response)
	}
	if len(req.History) != 1 {
		t.Errorf("expected history unchanged, got %d turns", len(req.History))
	}
}

func TestProcessorChainInfraError(t *testing.T) {
	chain := NewProcessorChain()
	chain.Add(&errorProcessor{})

	req := ChatRequest{}
	err := chain.RunPreLLM(context.Background(), &req)
	if err == nil {
		t.Fatal("expected error")
	}
	var halt *ErrHalt
	if errors.As(err, &halt) {
		t.Error("expected non-halt error")
	}
}

func TestProcessorChainEmptyIsNoOp(t *testing.T) {
	chain := NewProcessorChain()
	req := ChatRequest{}
	if err := chain.RunPreLLM(context.Background(), &req); err != nil {
		t.Fatal(err)
	}
	resp := ChatResponse{}
	if err := chain.RunPostLLM(context.Background(), &resp); err != nil {
		t.Fatal(err)
	}
	result := Output{}
	if err := chain.RunPostTool(context.Background(), ToolCall{}, &result); err != nil {
		t.Fatal(err)
	}
}

func TestProcessorChainAllPhases(t *testing.T) {
	p := &allPhasesProcessor{}
	chain := NewProcessorChain()
	chain.Add(p)

	req := ChatRequest{}
	_ = chain.RunPreLLM(context.Background(), &req)
	resp := ChatResponse{}
	_ = chain.RunPostLLM(context.Background(), &resp)
	result := Output{}
	_ = chain.RunPostTool(context.Background(), ToolCall{}, &result)

	if !p.preCalled || !p.postCalled || !p.toolCalled {
		t.Errorf("expected all phases called, got %+v", p)
	}
}

func TestProcessorChainAddPanicsOnInvalidType(t *testing.T) {
	chain := NewProcessorChain()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for invalid processor type")
		}
	}()
	chain.Add("not a processor")
}

func TestProcessorChainLen(t *testing.T) {
	chain := NewProcessorChain()
	if chain.Len() != 0 {
		t.Errorf("Len() = %d, want 0", chain.Len())
	}
	chain.Add(&appendNoteProcessor{text: "a"})
	chain.Add(&markProcessor{})
	if chain.Len() != 2 {
		t.Errorf("Len() = %d, want 2", chain.Len())
	}
}

func TestErrHaltMessage(t *testing.T) {
	err := &ErrHalt{Response: "test halt"}
	if err.Error() != "processor halted: test halt" {
		t.Errorf("Error() = %q", err.Error())
	}
}
