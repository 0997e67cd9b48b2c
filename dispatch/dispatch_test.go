package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/toolkit"
)

type fakeTool struct {
	name  string
	delay time.Duration
	text  string
	err   error
	panicOn bool
}

func (f *fakeTool) Definitions() []orkestra.ToolDefinition {
	return []orkestra.ToolDefinition{{Name: f.name, Description: "fake", Parameters: json.RawMessage(`{}`)}}
}

func (f *fakeTool) Execute(ctx context.Context, name string, args json.RawMessage) (orkestra.Output, error) {
	if f.panicOn {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return orkestra.Output{}, ctx.Err()
		}
	}
	if f.err != nil {
		return orkestra.Output{}, f.err
	}
	return orkestra.Output{Text: f.text}, nil
}

func registryWith(tools ...*fakeTool) *toolkit.Registry {
	r := toolkit.NewRegistry()
	for _, t := range tools {
		r.Add(t)
	}
	return r
}

type fakeAgent struct {
	name   string
	output string
	err    error
	delay  time.Duration
}

func (a *fakeAgent) Name() string        { return a.name }
func (a *fakeAgent) Description() string { return "fake agent" }
func (a *fakeAgent) Execute(ctx context.Context, task orkestra.AgentTask) (orkestra.AgentResult, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return orkestra.AgentResult{}, ctx.Err()
		}
	}
	if a.err != nil {
		return orkestra.AgentResult{}, a.err
	}
	return orkestra.AgentResult{Output: a.output}, nil
}

func call(id, name, args string) orkestra.FunctionCallPart {
	return orkestra.FunctionCallPart{ID: id, Name: name, Args: json.RawMessage(args)}
}

func TestDispatchSingleCallFastPath(t *testing.T) {
	d := New(registryWith(&fakeTool{name: "echo", text: "hi"}), nil)
	parts := d.Dispatch(context.Background(), []orkestra.FunctionCallPart{call("1", "echo", `{}`)}, orkestra.AgentTask{}, 0, nil)
	if len(parts) != 1 || parts[0].Output.Text != "hi" {
		t.Fatalf("unexpected parts: %+v", parts)
	}
}

func TestDispatchPreservesOrderAcrossMultipleCalls(t *testing.T) {
	d := New(registryWith(
		&fakeTool{name: "slow", text: "slow-result", delay: 30 * time.Millisecond},
		&fakeTool{name: "fast", text: "fast-result"},
	), nil)
	calls := []orkestra.FunctionCallPart{call("1", "slow", `{}`), call("2", "fast", `{}`)}
	parts := d.Dispatch(context.Background(), calls, orkestra.AgentTask{}, 0, nil)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if parts[0].Output.Text != "slow-result" || parts[1].Output.Text != "fast-result" {
		t.Errorf("expected results in call order regardless of completion order, got %+v", parts)
	}
}

func TestDispatchToolErrorBecomesErrorOutput(t *testing.T) {
	d := New(registryWith(&fakeTool{name: "broken", err: errBoom}), nil)
	parts := d.Dispatch(context.Background(), []orkestra.FunctionCallPart{call("1", "broken", `{}`)}, orkestra.AgentTask{}, 0, nil)
	if !strings.HasPrefix(parts[0].Output.Text, "TOOL_ERROR: ") {
		t.Errorf("expected TOOL_ERROR-prefixed output, got %q", parts[0].Output.Text)
	}
}

func TestDispatchRecoversFromToolPanic(t *testing.T) {
	d := New(registryWith(&fakeTool{name: "panicky", panicOn: true}), nil)
	parts := d.Dispatch(context.Background(), []orkestra.FunctionCallPart{call("1", "panicky", `{}`)}, orkestra.AgentTask{}, 0, nil)
	if !strings.Contains(parts[0].Output.Text, "panic") {
		t.Errorf("expected panic to surface as an error output, got %q", parts[0].Output.Text)
	}
}

func TestDispatchUnknownToolReportsError(t *testing.T) {
	d := New(registryWith(), nil)
	parts := d.Dispatch(context.Background(), []orkestra.FunctionCallPart{call("1", "nope", `{}`)}, orkestra.AgentTask{}, 0, nil)
	if !strings.HasPrefix(parts[0].Output.Text, "TOOL_ERROR: ") {
		t.Errorf("expected TOOL_ERROR output for unknown tool, got %q", parts[0].Output.Text)
	}
}

func TestDispatchSignatureEchoedOntoResponse(t *testing.T) {
	d := New(registryWith(&fakeTool{name: "echo", text: "hi"}), nil)
	fc := call("1", "echo", `{}`)
	fc.Signature = "opaque-sig"
	parts := d.Dispatch(context.Background(), []orkestra.FunctionCallPart{fc}, orkestra.AgentTask{}, 0, nil)
	if parts[0].Signature != "opaque-sig" {
		t.Errorf("expected signature echoed, got %q", parts[0].Signature)
	}
}

func TestDispatchCallAgentDelegatesToResolvedAgent(t *testing.T) {
	agents := func(target string) (orkestra.Agent, bool) {
		if target == "researcher" {
			return &fakeAgent{name: "researcher", output: "papers found"}, true
		}
		return nil, false
	}
	d := New(registryWith(), agents)
	parts := d.Dispatch(context.Background(), []orkestra.FunctionCallPart{
		call("1", callAgentTool, `{"target":"researcher","task":"find papers"}`),
	}, orkestra.AgentTask{CallDepth: 0}, 0, nil)
	if parts[0].Output.Text != "papers found" {
		t.Errorf("expected delegated output, got %q", parts[0].Output.Text)
	}
}

func TestDispatchCallAgentUnknownTargetFailsFast(t *testing.T) {
	d := New(registryWith(), func(string) (orkestra.Agent, bool) { return nil, false })
	parts := d.Dispatch(context.Background(), []orkestra.FunctionCallPart{
		call("1", callAgentTool, `{"target":"ghost","task":"x"}`),
	}, orkestra.AgentTask{}, 0, nil)
	if !strings.Contains(parts[0].Output.Text, "AGENT_CALL_ERROR") {
		t.Errorf("expected AGENT_CALL_ERROR, got %q", parts[0].Output.Text)
	}
}

func TestDispatchCallAgentDepthLimitEnforced(t *testing.T) {
	called := false
	agents := func(target string) (orkestra.Agent, bool) {
		called = true
		return &fakeAgent{name: target, output: "should not run"}, true
	}
	d := New(registryWith(), agents)
	parts := d.Dispatch(context.Background(), []orkestra.FunctionCallPart{
		call("1", callAgentTool, `{"target":"researcher","task":"x"}`),
	}, orkestra.AgentTask{CallDepth: maxCallDepth}, 0, nil)
	if called {
		t.Error("expected depth-exceeding call_agent to fail before resolving an agent")
	}
	if !strings.Contains(parts[0].Output.Text, "AGENT_CALL_ERROR") || !strings.Contains(parts[0].Output.Text, "depth") {
		t.Errorf("expected a depth-limit AGENT_CALL_ERROR, got %q", parts[0].Output.Text)
	}
}

func TestDispatchCancelledContextFillsRemainingWithErrors(t *testing.T) {
	d := New(registryWith(
		&fakeTool{name: "a", text: "a", delay: 200 * time.Millisecond},
		&fakeTool{name: "b", text: "b", delay: 200 * time.Millisecond},
		&fakeTool{name: "c", text: "c", delay: 200 * time.Millisecond},
	), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	calls := []orkestra.FunctionCallPart{call("1", "a", `{}`), call("2", "b", `{}`), call("3", "c", `{}`)}
	parts := d.Dispatch(ctx, calls, orkestra.AgentTask{}, 0, nil)
	for _, p := range parts {
		if !strings.HasPrefix(p.Output.Text, "TOOL_ERROR: ") {
			t.Errorf("expected cancelled call to surface a TOOL_ERROR, got %+v", p)
		}
	}
}

func TestTruncateForIterationTiers(t *testing.T) {
	long := strings.Repeat("x", 30000)
	if got := len(truncateForIteration(long, 0)); got != 25000 {
		t.Errorf("iteration 0: expected 25000, got %d", got)
	}
	if got := len(truncateForIteration(long, 4)); got != 15000 {
		t.Errorf("iteration 4: expected 15000, got %d", got)
	}
	if got := len(truncateForIteration(long, 10)); got != 8000 {
		t.Errorf("iteration 10: expected 8000, got %d", got)
	}
}

func TestDispatchWithHeartbeatChannelStillCompletes(t *testing.T) {
	d := New(registryWith(&fakeTool{name: "quick", text: "done"}), nil)
	hb := make(chan struct{}, 4)
	parts := d.Dispatch(context.Background(), []orkestra.FunctionCallPart{call("1", "quick", `{}`)}, orkestra.AgentTask{}, 0, hb)
	if len(parts) != 1 || parts[0].Output.Text != "done" {
		t.Fatalf("unexpected parts: %+v", parts)
	}
}

var errBoom = boomErr{}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }
