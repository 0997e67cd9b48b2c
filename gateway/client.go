package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/engine"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	heartbeatEvery = 15 * time.Second
	maxMessageSize = 1 << 20
)

// Client is one WebSocket connection's read/write pumps and the execution
// state it drives. Grounded on vanducng-goclaw/internal/gateway/server.go's
// per-connection shape — a registered map entry plus a send queue drained by
// a dedicated writer goroutine — generalized here to also own the in-flight
// engine.Run cancellation so a "cancel" client event has something to act on.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	send chan ServerEvent

	mu         sync.Mutex
	cancelFunc context.CancelFunc

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     orkestra.NewID(),
		conn:   conn,
		server: server,
		send:   make(chan ServerEvent, 64),
	}
}

// run drives the connection until it closes, blocking the caller (the
// http.Handler goroutine) for the connection's lifetime.
func (c *Client) run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop(ctx)
	}()

	c.readPump(ctx)
	wg.Wait()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.cancelFunc != nil {
			c.cancelFunc()
		}
		c.mu.Unlock()
		close(c.send)
		c.conn.Close()
	})
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.trySend(newErrorEvent("malformed message: "+err.Error(), CodeParseError))
			continue
		}

		switch ev.Type {
		case ClientEventExecute:
			c.handleExecute(ctx, ev.Payload)
		case ClientEventOrchestrate:
			c.handleOrchestrate(ctx, ev.Payload)
		case ClientEventCancel:
			c.handleCancel()
		case ClientEventPing:
			c.trySend(newPongEvent())
		default:
			c.trySend(newErrorEvent("unknown event type: "+ev.Type, CodeParseError))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.trySend(newHeartbeatEvent())
		}
	}
}

// trySend enqueues ev for the write pump, dropping it rather than blocking
// forever against a stalled client.
func (c *Client) trySend(ev ServerEvent) {
	defer func() { recover() }() // send on a closed channel during shutdown races with close()
	select {
	case c.send <- ev:
	default:
		c.server.cfg.Logger.Warn("gateway: dropping server event, send buffer full", "client", c.id, "type", ev.Type)
	}
}

func (c *Client) handleCancel() {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) setCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
}

func (c *Client) handleExecute(parent context.Context, raw json.RawMessage) {
	var payload ExecutePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.trySend(newErrorEvent("bad execute payload: "+err.Error(), CodeParseError))
		return
	}
	if c.server.cfg.Engine == nil {
		c.trySend(newErrorEvent("engine not configured", CodeRequestFailed))
		return
	}

	ctx, cancel := context.WithCancel(parent)
	c.setCancel(cancel)
	defer cancel()

	req := engine.Request{
		RequestID:        orkestra.NewID(),
		Prompt:           payload.Prompt,
		ExplicitModel:    payload.Model,
		SessionID:        payload.SessionID,
		WorkingDirectory: payload.WorkingDirectory,
		LanguageTag:      payload.LanguageTag,
		Credential:       c.server.cfg.Credential,
	}

	events := make(chan engine.Event, 32)
	done := make(chan struct{})
	start := time.Now()

	go func() {
		defer close(done)
		for ev := range events {
			c.forwardEngineEvent(ev)
		}
	}()

	result, err := c.server.cfg.Engine.Run(ctx, req, events)
	close(events)
	<-done

	if err != nil {
		c.trySend(newErrorEvent(err.Error(), classifyEngineError(err)))
		return
	}
	_ = result
	c.trySend(newCompleteEvent(time.Since(start).Milliseconds()))
}

// forwardEngineEvent translates one engine.Event into its wire ServerEvent.
// EventHeartbeat is intentionally skipped here — the client's own
// heartbeatLoop owns the wire heartbeat cadence so two sources can't drift.
func (c *Client) forwardEngineEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EventStart:
		c.trySend(newStartEvent(c.id, ev.PersonaID, ev.Model, nil))
	case engine.EventPlan:
		c.trySend(newPlanEvent(ev.PersonaID, ev.Confidence, ev.Steps, ev.Reasoning))
	case engine.EventToken:
		c.trySend(newTokenEvent(ev.Text))
	case engine.EventIteration:
		c.trySend(newIterationEvent(ev.Iteration, 0))
	case engine.EventToolCall:
		c.trySend(newToolCallEvent(ev.ToolName, ev.Iteration))
	case engine.EventToolResult:
		success := !strings.HasPrefix(ev.Output, "TOOL_ERROR:") && !strings.HasPrefix(ev.Output, "AGENT_CALL_ERROR:")
		c.trySend(newToolResultEvent(ev.ToolName, success, toolSummary(ev.Output), ev.Iteration))
	case engine.EventError:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		c.trySend(newErrorEvent(msg, classifyEngineError(ev.Err)))
	case engine.EventComplete:
		// handled by the caller once Run returns, so durationMs reflects
		// the full wall-clock call including synthesis.
	}
}

// classifyEngineError maps an engine error to one of spec.md §6.1's error
// codes on a best-effort basis; engine errors that don't name a known
// failure class fall back to REQUEST_FAILED.
func classifyEngineError(err error) string {
	if err == nil {
		return CodeRequestFailed
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "circuit") && strings.Contains(msg, "open"):
		return CodeCircuitOpen
	case strings.Contains(msg, "no api key") || strings.Contains(msg, "missing credential"):
		return CodeNoAPIKey
	case strings.Contains(msg, "security") || strings.Contains(msg, "blocked"):
		return CodeSecurity
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "timeout"):
		return CodeTimeout
	case strings.Contains(msg, "gemini"):
		return CodeGeminiError
	case strings.Contains(msg, "stream"):
		return CodeStreamError
	default:
		return CodeRequestFailed
	}
}

// handleOrchestrate fans payload.Prompt out across payload.Agents, either
// sequentially (each agent's AgentResult.Text feeds the next agent's task)
// or in parallel (every agent gets the identical prompt, results join in
// agent order). There is no dedicated engine primitive for this — it is an
// A2A pipeline built directly on orkestra.Agent, the same interface
// dispatch.Dispatcher uses for call_agent.
func (c *Client) handleOrchestrate(parent context.Context, raw json.RawMessage) {
	var payload OrchestratePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.trySend(newErrorEvent("bad orchestrate payload: "+err.Error(), CodeParseError))
		return
	}
	if c.server.cfg.Agents == nil {
		c.trySend(newErrorEvent("no agents configured", CodeRequestFailed))
		return
	}
	if len(payload.Agents) == 0 {
		c.trySend(newErrorEvent("orchestrate requires at least one agent", CodeParseError))
		return
	}

	ctx, cancel := context.WithCancel(parent)
	c.setCancel(cancel)
	defer cancel()

	start := time.Now()
	agents := make([]orkestra.Agent, 0, len(payload.Agents))
	for _, name := range payload.Agents {
		a, ok := c.server.cfg.Agents(name)
		if !ok {
			c.trySend(newErrorEvent("unknown agent: "+name, CodeParseError))
			return
		}
		agents = append(agents, a)
	}

	switch payload.Pattern {
	case "parallel":
		c.runParallel(ctx, agents, payload)
	default:
		c.runSequential(ctx, agents, payload)
	}
	c.trySend(newCompleteEvent(time.Since(start).Milliseconds()))
}

func (c *Client) runSequential(ctx context.Context, agents []orkestra.Agent, payload OrchestratePayload) {
	input := payload.Prompt
	for i, a := range agents {
		c.trySend(newStartEvent(c.id, a.Name(), "", nil))
		result, err := a.Execute(ctx, orkestra.AgentTask{Input: input})
		if err != nil {
			c.trySend(newErrorEvent(fmt.Sprintf("agent %s: %s", a.Name(), err.Error()), CodeRequestFailed))
			return
		}
		c.trySend(newToolResultEvent(a.Name(), true, toolSummary(result.Output), i))
		input = result.Output
	}
	c.trySend(newTokenEvent(input))
}

func (c *Client) runParallel(ctx context.Context, agents []orkestra.Agent, payload OrchestratePayload) {
	results := make([]string, len(agents))
	errs := make([]error, len(agents))

	var wg sync.WaitGroup
	for i, a := range agents {
		wg.Add(1)
		go func(i int, a orkestra.Agent) {
			defer wg.Done()
			result, err := a.Execute(ctx, orkestra.AgentTask{Input: payload.Prompt})
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = result.Output
			c.trySend(newToolResultEvent(a.Name(), true, toolSummary(result.Output), i))
		}(i, a)
	}
	wg.Wait()

	var joined strings.Builder
	for i, a := range agents {
		if errs[i] != nil {
			c.trySend(newErrorEvent(fmt.Sprintf("agent %s: %s", a.Name(), errs[i].Error()), CodeRequestFailed))
			continue
		}
		if joined.Len() > 0 {
			joined.WriteString("\n\n")
		}
		joined.WriteString(results[i])
	}
	c.trySend(newTokenEvent(joined.String()))
}
