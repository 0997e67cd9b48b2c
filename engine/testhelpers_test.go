package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/store"
)

// step is one scriptedProvider call's behavior: the events it streams
// before returning, the final aggregated response, and an optional error.
type step struct {
	events []orkestra.StreamEvent
	resp   orkestra.ChatResponse
	err    error
}

// scriptedProvider replays a fixed sequence of steps, one per call; the
// last step repeats for any call beyond the scripted sequence. Grounded on
// the teacher's callbackProvider, generalized from one fixed response to a
// queue and from Chat to ChatStream — and, unlike the teacher's fake, never
// closes ch itself, since that is the caller's job per orkestra.Provider's
// documented contract.
type scriptedProvider struct {
	modelName string
	onChat    func(orkestra.ChatRequest)

	mu    sync.Mutex
	steps []step
	calls int
}

func (p *scriptedProvider) Name() string { return p.modelName }

func (p *scriptedProvider) ChatStream(ctx context.Context, req orkestra.ChatRequest, ch chan<- orkestra.StreamEvent) (orkestra.ChatResponse, error) {
	if p.onChat != nil {
		p.onChat(req)
	}

	p.mu.Lock()
	idx := p.calls
	if idx >= len(p.steps) {
		idx = len(p.steps) - 1
	}
	p.calls++
	s := p.steps[idx]
	p.mu.Unlock()

	for _, ev := range s.events {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return orkestra.ChatResponse{}, ctx.Err()
		}
		// A short pause between sends gives a test time to observe a token
		// and cancel before the next one goes out, without relying on an
		// unbuffered channel to serialize send/receive.
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
			return orkestra.ChatResponse{}, ctx.Err()
		}
	}
	return s.resp, s.err
}

// fakeTool is a single-function toolkit.Tool returning a fixed output and
// counting invocations, for asserting dispatch actually ran.
type fakeTool struct {
	name, description, output string
	calls                      int
	mu                         sync.Mutex
}

func (t *fakeTool) Definitions() []orkestra.ToolDefinition {
	return []orkestra.ToolDefinition{{
		Name:        t.name,
		Description: t.description,
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}}
}

func (t *fakeTool) Execute(_ context.Context, _ string, _ json.RawMessage) (orkestra.Output, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return orkestra.Output{Text: t.output}, nil
}

// fakeStore is a recording store.SessionStore. saveDone receives a tick on
// every SaveMessage/RecordUsage call so a test can wait for Run's
// fire-and-forget persistence goroutine without sleeping.
type fakeStore struct {
	mu       sync.Mutex
	messages []savedMessage
	usage    []recordedUsage
	history  []store.HistoryTurn
	saveDone chan struct{}
}

type savedMessage struct {
	requestID, sessionID, role, content, model, agent string
}

type recordedUsage struct {
	agentID, model             string
	inputTokens, outputTokens  int
	latencyMS                  int64
	success                    bool
	tier                       string
}

func newFakeStore() *fakeStore {
	return &fakeStore{saveDone: make(chan struct{}, 16)}
}

func (s *fakeStore) LoadHistory(_ context.Context, _ string, _ int) ([]store.HistoryTurn, error) {
	return s.history, nil
}

func (s *fakeStore) SessionAgent(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (s *fakeStore) SaveMessage(_ context.Context, requestID, sessionID, role, content, model, agent string) error {
	s.mu.Lock()
	s.messages = append(s.messages, savedMessage{requestID, sessionID, role, content, model, agent})
	s.mu.Unlock()
	s.saveDone <- struct{}{}
	return nil
}

func (s *fakeStore) RecordUsage(_ context.Context, agentID, model string, inputTokens, outputTokens int, latencyMS int64, success bool, tier string) error {
	s.mu.Lock()
	s.usage = append(s.usage, recordedUsage{agentID, model, inputTokens, outputTokens, latencyMS, success, tier})
	s.mu.Unlock()
	s.saveDone <- struct{}{}
	return nil
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
