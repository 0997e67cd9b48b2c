// Package a2a exposes the execution engine over a minimal peer-interop HTTP
// surface: message/send, message/stream, tasks/{id}, tasks/{id}/cancel, and
// a well-known agent card. Grounded on vanducng-goclaw's internal/http
// handler idiom — one Handler struct per resource, RegisterRoutes(mux)
// wiring Go 1.22 method+pattern routes, a shared writeJSON helper — reauthored
// here since the retrieval pack's own handlers (agents.go, mcp.go,
// providers.go) are multi-tenant CRUD endpoints with no task-queue analogue
// to adapt directly.
//
// Per spec.md §6.4 this surface introduces no semantics beyond what the
// WebSocket gateway already runs: every route is a thin wrapper around one
// engine.Run call. Tasks live in an in-memory map, not a durable queue — a
// process restart loses in-flight task state. That is an accepted
// simplification: SPEC_FULL's persistence scope is SessionStore's
// conversational history, not a cross-restart task queue, and this surface
// is explicitly optional interop glue rather than a first-class subsystem.
package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/assemble"
	"github.com/ashgrove-labs/orkestra/engine"
	"github.com/ashgrove-labs/orkestra/gateway"
)

// TaskStatus is a task's lifecycle state.
type TaskStatus string

const (
	TaskSubmitted TaskStatus = "submitted"
	TaskWorking   TaskStatus = "working"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
)

// Task is the peer-visible shape of one message/send or message/stream
// invocation.
type Task struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId,omitempty"`
	Status    TaskStatus `json:"status"`
	Input     string     `json:"input"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt int64      `json:"createdAt"`
	UpdatedAt int64      `json:"updatedAt"`
}

type sendRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"sessionId,omitempty"`
	Persona   string `json:"persona,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Handler serves the A2A HTTP surface over Engine.
type Handler struct {
	Engine      gateway.StreamingEngine
	Credential  assemble.Credential
	Personas    func() []orkestra.Persona
	Name        string
	Description string
	URL         string
	Logger      *slog.Logger

	mu      sync.RWMutex
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc
}

// NewHandler builds a Handler. Name/Description/URL populate the agent
// card; Personas feeds its skills list.
func NewHandler(eng gateway.StreamingEngine, cred assemble.Credential, personas func() []orkestra.Persona, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:      eng,
		Credential:  cred,
		Personas:    personas,
		Name:        "orkestra",
		Description: "Multi-agent Gemini orchestration gateway",
		Logger:      logger,
		tasks:       make(map[string]*Task),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// RegisterRoutes wires every A2A route onto mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /message/send", h.handleSend)
	mux.HandleFunc("POST /message/stream", h.handleStream)
	mux.HandleFunc("GET /tasks/{id}", h.handleGetTask)
	mux.HandleFunc("POST /tasks/{id}/cancel", h.handleCancel)
	mux.HandleFunc("GET /.well-known/agent-card.json", h.handleAgentCard)
}

func (h *Handler) newTask(req sendRequest) *Task {
	now := time.Now().Unix()
	t := &Task{
		ID:        orkestra.NewID(),
		SessionID: req.SessionID,
		Status:    TaskSubmitted,
		Input:     req.Prompt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	h.mu.Lock()
	h.tasks[t.ID] = t
	h.mu.Unlock()
	return t
}

func (h *Handler) setStatus(id string, status TaskStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tasks[id]; ok {
		t.Status = status
		t.UpdatedAt = time.Now().Unix()
	}
}

func (h *Handler) finish(id string, status TaskStatus, output, errMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tasks[id]; ok {
		t.Status = status
		t.Output = output
		t.Error = errMsg
		t.UpdatedAt = time.Now().Unix()
	}
}

func (h *Handler) getTask(id string) (*Task, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tasks[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

func (h *Handler) setCancel(id string, cancel context.CancelFunc) {
	h.mu.Lock()
	h.cancels[id] = cancel
	h.mu.Unlock()
}

func (h *Handler) clearCancel(id string) {
	h.mu.Lock()
	delete(h.cancels, id)
	h.mu.Unlock()
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}

	task := h.newTask(req)
	ctx, cancel := context.WithCancel(r.Context())
	h.setCancel(task.ID, cancel)
	defer func() { cancel(); h.clearCancel(task.ID) }()
	h.setStatus(task.ID, TaskWorking)

	result, err := h.Engine.Run(ctx, engine.Request{
		RequestID:       task.ID,
		SessionID:       req.SessionID,
		Prompt:          req.Prompt,
		ExplicitPersona: req.Persona,
		ExplicitModel:   req.Model,
		Credential:      h.Credential,
	}, nil)

	if err != nil {
		h.finish(task.ID, TaskFailed, "", err.Error())
	} else {
		h.finish(task.ID, TaskCompleted, result.Text, "")
	}

	got, _ := h.getTask(task.ID)
	writeJSON(w, http.StatusOK, map[string]any{"task": got})
}

// handleStream runs the same turn as handleSend but forwards every
// engine.Event onto the response as a server-sent event, finishing with a
// "task" event carrying the completed Task.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}

	task := h.newTask(req)
	ctx, cancel := context.WithCancel(r.Context())
	h.setCancel(task.ID, cancel)
	defer func() { cancel(); h.clearCancel(task.ID) }()
	h.setStatus(task.ID, TaskWorking)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := make(chan engine.Event, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			writeSSE(w, flusher, eventName(ev.Type), ev)
		}
	}()

	result, err := h.Engine.Run(ctx, engine.Request{
		RequestID:       task.ID,
		SessionID:       req.SessionID,
		Prompt:          req.Prompt,
		ExplicitPersona: req.Persona,
		ExplicitModel:   req.Model,
		Credential:      h.Credential,
	}, events)
	close(events)
	<-done

	if err != nil {
		h.finish(task.ID, TaskFailed, "", err.Error())
	} else {
		h.finish(task.ID, TaskCompleted, result.Text, "")
	}
	got, _ := h.getTask(task.ID)
	writeSSE(w, flusher, "task", got)
}

func eventName(t engine.EventType) string { return string(t) }

// writeSSE writes one SSE frame with name as its event: line — the
// engine's own event type name for progress frames, "task" for the final
// frame — so a client can dispatch on addEventListener(name, ...) the way
// it would against any other named SSE stream.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", name)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, ok := h.getTask(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": t})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mu.RLock()
	cancel, ok := h.cancels[id]
	h.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not running"})
		return
	}
	cancel()
	h.setStatus(id, TaskCanceled)
	got, _ := h.getTask(id)
	writeJSON(w, http.StatusOK, map[string]any{"task": got})
}

// agentSkill is one persona surfaced in the agent card, per the A2A
// "skills" convention.
type agentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	var skills []agentSkill
	if h.Personas != nil {
		for _, p := range h.Personas() {
			skills = append(skills, agentSkill{ID: p.ID, Name: p.Name, Description: p.Description, Tags: p.Keywords})
		}
	}
	card := map[string]any{
		"name":        h.Name,
		"description": h.Description,
		"url":         h.URL,
		"version":     "1.0",
		"capabilities": map[string]bool{
			"streaming": true,
		},
		"skills": skills,
	}
	writeJSON(w, http.StatusOK, card)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
