// Package dispatch executes one iteration's worth of model-issued tool
// calls: direct tools through a toolkit.Registry, and call_agent delegation
// through orkestra.Spawn. Calls run concurrently via a fixed worker pool,
// each under its own deadline, with a heartbeat ticker so a caller streaming
// progress to a client is never starved by a single slow call.
//
// Grounded on the teacher's loop.go dispatchParallel/safeDispatch worker-pool
// shape and network.go's Network.dispatch agent_-prefix routing, generalized
// from one synthesized "agent_<name>" tool per subagent to a single
// call_agent tool carrying a target persona id, and from an unbounded
// one-goroutine-per-subagent Network.dispatchParallel to loop.go's capped
// worker pool (the teacher itself runs two different parallel-dispatch
// shapes for the two cases this package now unifies).
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/toolkit"
)

// CallAgentDefinition is the model-facing schema for call_agent delegation,
// advertised by the engine alongside the direct-tool catalog whenever a
// Dispatcher has a non-nil AgentResolver. Kept here rather than in toolkit
// since call_agent is not a toolkit.Tool — its args are interpreted by this
// package, not a registered Tool.Execute.
var CallAgentDefinition = orkestra.ToolDefinition{
	Name:        "call_agent",
	Description: "Delegate a sub-task to another persona's agent and wait for its final answer. Use for work outside your own expertise.",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"target":{"type":"string","description":"Persona id or name to delegate to"},"task":{"type":"string","description":"The sub-task to hand off, in enough detail to act on standalone"}},"required":["target","task"]}`),
}

const (
	// maxParallelDispatch caps concurrent tool goroutines, per loop.go.
	maxParallelDispatch = 10

	toolCallTimeout  = 30 * time.Second
	agentCallTimeout = 120 * time.Second
	maxCallDepth     = 3

	// HeartbeatInterval is how often Dispatch emits a progress heartbeat
	// while calls are still in flight.
	HeartbeatInterval = 15 * time.Second

	callAgentTool = "call_agent"
)

// AgentResolver looks up a delegation target (persona id or name) for
// call_agent. Returning ok=false fails the call without contacting any
// agent.
type AgentResolver func(target string) (orkestra.Agent, bool)

// Dispatcher executes one iteration's tool calls against a direct-tool
// catalog and an agent-delegation resolver.
type Dispatcher struct {
	Tools  *toolkit.Registry
	Agents AgentResolver
}

// New builds a Dispatcher. agents may be nil if call_agent delegation is not
// offered this run (the engine then leaves CallAgentDefinition out of the
// declared tools, so the model never sees the tool).
func New(tools *toolkit.Registry, agents AgentResolver) *Dispatcher {
	return &Dispatcher{Tools: tools, Agents: agents}
}

type callAgentArgs struct {
	Target string `json:"target"`
	Task   string `json:"task"`
}

// Dispatch runs calls concurrently and returns one FunctionResponsePart per
// call, in the same order as calls. parentTask carries the working
// directory, call depth, and context map propagated to any delegated
// sub-agent; iteration selects the output-truncation tier. heartbeats, if
// non-nil, receives a tick roughly every HeartbeatInterval while calls are
// outstanding — sends are non-blocking, so a slow consumer never stalls
// dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []orkestra.FunctionCallPart, parentTask orkestra.AgentTask, iteration int, heartbeats chan<- struct{}) []orkestra.FunctionResponsePart {
	if len(calls) == 0 {
		return nil
	}

	stopHeartbeat := d.startHeartbeat(ctx, heartbeats)
	defer stopHeartbeat()

	// Fast path: a single call needs no worker pool.
	if len(calls) == 1 {
		return []orkestra.FunctionResponsePart{d.dispatchOne(ctx, calls[0], parentTask, iteration)}
	}

	type indexed struct {
		idx  int
		part orkestra.FunctionResponsePart
	}
	resultCh := make(chan indexed, len(calls))

	type workItem struct {
		idx int
		fc  orkestra.FunctionCallPart
	}
	workCh := make(chan workItem, len(calls))
	for i, fc := range calls {
		workCh <- workItem{idx: i, fc: fc}
	}
	close(workCh)

	numWorkers := min(len(calls), maxParallelDispatch)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					resultCh <- indexed{w.idx, cancelledResponse(w.fc, ctx.Err())}
					continue
				}
				resultCh <- indexed{w.idx, d.dispatchOne(ctx, w.fc, parentTask, iteration)}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]orkestra.FunctionResponsePart, len(calls))
	seen := make([]bool, len(calls))
collect:
	for received := 0; received < len(calls); received++ {
		select {
		case r, ok := <-resultCh:
			if !ok {
				break collect
			}
			results[r.idx] = r.part
			seen[r.idx] = true
		case <-ctx.Done():
			for i, fc := range calls {
				if !seen[i] {
					results[i] = cancelledResponse(fc, ctx.Err())
				}
			}
			return results
		}
	}
	for i, fc := range calls {
		if !seen[i] {
			results[i] = toolErrorResponse(fc, "result not received")
		}
	}
	return results
}

// startHeartbeat starts a goroutine ticking every HeartbeatInterval into ch
// until the returned stop func is called. A nil ch is a no-op.
func (d *Dispatcher) startHeartbeat(ctx context.Context, ch chan<- struct{}) func() {
	if ch == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case ch <- struct{}{}:
				default:
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// dispatchOne executes a single call, recovering from a panicking tool or
// agent and converting it to an error response rather than crashing dispatch.
func (d *Dispatcher) dispatchOne(ctx context.Context, fc orkestra.FunctionCallPart, parentTask orkestra.AgentTask, iteration int) (resp orkestra.FunctionResponsePart) {
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("panic: %v", p)
			if fc.Name == callAgentTool {
				resp = agentErrorResponse(fc, msg)
			} else {
				resp = toolErrorResponse(fc, msg)
			}
		}
	}()

	if fc.Name == callAgentTool {
		return d.dispatchCallAgent(ctx, fc, parentTask, iteration)
	}
	return d.dispatchTool(ctx, fc, iteration)
}

func (d *Dispatcher) dispatchTool(ctx context.Context, fc orkestra.FunctionCallPart, iteration int) orkestra.FunctionResponsePart {
	callCtx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	defer cancel()

	out, err := d.Tools.Execute(callCtx, fc.Name, fc.Args)
	if err != nil {
		if callCtx.Err() != nil {
			return toolErrorResponse(fc, "timed out after "+toolCallTimeout.String())
		}
		return toolErrorResponse(fc, err.Error())
	}
	out.Text = truncateForIteration(out.Text, iteration)
	return orkestra.FunctionResponsePart{CallID: fc.ID, Name: fc.Name, Output: out, Signature: fc.Signature}
}

func (d *Dispatcher) dispatchCallAgent(ctx context.Context, fc orkestra.FunctionCallPart, parentTask orkestra.AgentTask, iteration int) orkestra.FunctionResponsePart {
	nextDepth := parentTask.CallDepth + 1
	if nextDepth > maxCallDepth {
		return agentErrorResponse(fc, fmt.Sprintf("delegation depth %d exceeds the maximum of %d", nextDepth, maxCallDepth))
	}

	var args callAgentArgs
	if err := json.Unmarshal(fc.Args, &args); err != nil {
		return agentErrorResponse(fc, "invalid call_agent arguments: "+err.Error())
	}

	if d.Agents == nil {
		return agentErrorResponse(fc, "no delegation targets available")
	}
	agent, ok := d.Agents(args.Target)
	if !ok {
		return agentErrorResponse(fc, fmt.Sprintf("unknown delegation target %q", args.Target))
	}

	callCtx, cancel := context.WithTimeout(ctx, agentCallTimeout)
	defer cancel()

	handle := orkestra.Spawn(callCtx, agent, orkestra.AgentTask{
		Input:      args.Task,
		CallDepth:  nextDepth,
		WorkingDir: parentTask.WorkingDir,
		Context:    parentTask.Context,
	})

	result, err := handle.Await(callCtx)
	if err != nil {
		if callCtx.Err() != nil {
			return agentErrorResponse(fc, fmt.Sprintf("agent %q timed out after %s", args.Target, agentCallTimeout))
		}
		return agentErrorResponse(fc, err.Error())
	}

	text := truncateForIteration(result.Output, iteration)
	return orkestra.FunctionResponsePart{CallID: fc.ID, Name: fc.Name, Output: orkestra.Output{Text: text}, Signature: fc.Signature}
}

// toolErrorResponse builds the spec-mandated TOOL_ERROR-prefixed output for
// a failed direct tool call.
func toolErrorResponse(fc orkestra.FunctionCallPart, msg string) orkestra.FunctionResponsePart {
	return orkestra.FunctionResponsePart{
		CallID:    fc.ID,
		Name:      fc.Name,
		Output:    orkestra.Output{Text: "TOOL_ERROR: " + msg},
		Signature: fc.Signature,
	}
}

// agentErrorResponse builds the spec-mandated AGENT_CALL_ERROR-prefixed
// output for a failed call_agent delegation.
func agentErrorResponse(fc orkestra.FunctionCallPart, msg string) orkestra.FunctionResponsePart {
	return orkestra.FunctionResponsePart{
		CallID:    fc.ID,
		Name:      fc.Name,
		Output:    orkestra.Output{Text: "AGENT_CALL_ERROR: " + msg},
		Signature: fc.Signature,
	}
}

func cancelledResponse(fc orkestra.FunctionCallPart, err error) orkestra.FunctionResponsePart {
	if fc.Name == callAgentTool {
		return agentErrorResponse(fc, "cancelled: "+err.Error())
	}
	return toolErrorResponse(fc, "cancelled: "+err.Error())
}

// truncateForIteration applies spec.md §4.4's per-iteration truncation
// tiers: early iterations keep more context, later ones compress harder so a
// long-running loop's history doesn't grow unbounded.
func truncateForIteration(s string, iteration int) string {
	switch {
	case iteration < 3:
		return truncateStr(s, 25000)
	case iteration < 6:
		return truncateStr(s, 15000)
	default:
		return truncateStr(s, 8000)
	}
}

// truncateStr truncates s to n runes, per loop.go's truncateStr.
func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
