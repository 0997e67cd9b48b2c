// Package scheduler runs deferred and recurring tool-call plans in the
// background, independent of any live request. A registered Action fires
// at its NextRun time, replays its stored tool calls through the same
// dispatch.Dispatcher the execution loop uses, optionally asks a provider
// to turn the raw results into a short report, and persists the outcome as
// an assistant turn in the owning session.
//
// Grounded on the teacher's scheduler.go/schedule.go (ScheduledAction,
// cron-string NextRun computation, tool-call replay, once-vs-recurring
// advance), rewired from direct ToolRegistry.Execute + a Telegram Frontend
// to dispatch.Dispatcher (so call_agent delegation and the truncation/error
// conventions a live turn gets are available to a scheduled one too) and
// store.SessionStore (so a scheduled result lands in the session's history
// the same way a live turn's does, instead of a one-off chat message).
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/dispatch"
	"github.com/ashgrove-labs/orkestra/store"
)

// pollInterval mirrors the teacher's 60-second scheduler tick.
const pollInterval = 60 * time.Second

// Action is one registered deferred or recurring tool-call plan.
type Action struct {
	ID              string
	SessionID       string
	PersonaID       string
	Model           string
	Description     string
	Schedule        string // "HH:MM <recurrence>", see computeNextRun
	ToolCalls       string // JSON-encoded []ToolCall
	SynthesisPrompt string
	NextRun         int64 // unix UTC
	Enabled         bool
}

// ToolCall is one step of an Action's stored plan.
type ToolCall struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// Store is the persistence contract Scheduler depends on for the action
// catalog. Kept separate from store.SessionStore (which Scheduler also
// uses, for writing the fired action's result into history) because the
// two have unrelated lifecycles: sessions/messages are the engine's
// concern, scheduled actions are this package's own.
type Store interface {
	DueActions(ctx context.Context, nowUnix int64) ([]Action, error)
	UpdateAction(ctx context.Context, action Action) error
	SetActionEnabled(ctx context.Context, id string, enabled bool) error
}

// Scheduler polls Store every pollInterval for due actions and fires them.
type Scheduler struct {
	store    Store
	sessions store.SessionStore
	tools    *dispatch.Dispatcher
	provider orkestra.Provider // used for result synthesis only; never streams
	tzOffset int
	logger   *slog.Logger
}

// Config wires a Scheduler to its dependencies.
type Config struct {
	Store      Store
	Sessions   store.SessionStore
	Dispatcher *dispatch.Dispatcher
	// Provider synthesizes a scheduled action's tool output into a short
	// report when the action carries a SynthesisPrompt. Nil is fine for
	// deployments that only ever schedule tool calls with no synthesis.
	Provider orkestra.Provider
	TZOffset int
	Logger   *slog.Logger
}

// New builds a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		tools:    cfg.Dispatcher,
		provider: cfg.Provider,
		tzOffset: cfg.TZOffset,
		logger:   logger,
	}
}

// Run polls for due actions every pollInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "poll_interval", pollInterval)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if err := s.checkAndRun(ctx); err != nil {
				s.logger.Warn("scheduler poll failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) checkAndRun(ctx context.Context) error {
	now := time.Now().Unix()
	due, err := s.store.DueActions(ctx, now)
	if err != nil {
		return fmt.Errorf("load due actions: %w", err)
	}
	for _, action := range due {
		s.logger.Info("scheduler firing action", "id", action.ID, "description", action.Description)
		s.execute(ctx, action, now)
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, action Action, now int64) {
	logger := s.logger.With("action_id", action.ID)

	calls, ok := parseToolCalls(action.ToolCalls)
	if !ok {
		logger.Warn("invalid tool_calls payload", "description", action.Description)
		return
	}

	functionCalls := make([]orkestra.FunctionCallPart, len(calls))
	for i, c := range calls {
		functionCalls[i] = orkestra.FunctionCallPart{ID: fmt.Sprintf("sched-%s-%d", action.ID, i), Name: c.Tool, Args: c.Params}
	}

	parentTask := orkestra.AgentTask{Input: action.Description}
	responses := s.tools.Dispatch(ctx, functionCalls, parentTask, 0, nil)

	var parts []string
	for _, r := range responses {
		parts = append(parts, fmt.Sprintf("## %s\n%s", r.Name, r.Output.Text))
	}
	combined := strings.Join(parts, "\n\n")

	var message string
	if action.SynthesisPrompt != "" && s.provider != nil {
		message = s.synthesize(ctx, combined, action.SynthesisPrompt, action.Description)
	} else {
		message = fmt.Sprintf("**%s**\n\n%s", action.Description, combined)
	}

	if s.sessions != nil && action.SessionID != "" {
		requestID := orkestra.NewID()
		if err := s.sessions.SaveMessage(ctx, requestID, action.SessionID, "assistant", message, action.Model, action.PersonaID); err != nil {
			logger.Warn("persist scheduled result failed", "error", err)
		}
	}

	s.advance(ctx, action, now, logger)
}

func (s *Scheduler) advance(ctx context.Context, action Action, now int64, logger *slog.Logger) {
	if strings.HasSuffix(action.Schedule, " once") {
		if err := s.store.SetActionEnabled(ctx, action.ID, false); err != nil {
			logger.Warn("disable one-shot action failed", "error", err)
		}
		logger.Info("scheduled action done (once)", "description", action.Description)
		return
	}

	nextRun, ok := computeNextRun(action.Schedule, now, s.tzOffset)
	if !ok {
		nextRun = now + 86400 // malformed schedule: retry in 24h rather than never again
	}
	action.NextRun = nextRun
	if err := s.store.UpdateAction(ctx, action); err != nil {
		logger.Warn("advance schedule failed", "error", err)
		return
	}
	logger.Info("scheduled action done", "description", action.Description, "next_run", formatLocalTime(nextRun, s.tzOffset))
}

// synthesize asks provider for a short report over toolResults. This is a
// single non-streaming, no-tools call: a scheduled action's result message
// is produced once in the background, never incrementally displayed.
func (s *Scheduler) synthesize(ctx context.Context, toolResults, synthesisPrompt, description string) string {
	now := time.Now().UTC().Add(time.Duration(s.tzOffset) * time.Hour)
	system := fmt.Sprintf(
		"You are generating a scheduled report titled %q.\nCurrent time: %s (UTC%+d).\n"+
			"Formatting instruction: %s\n\nTool results:\n%s",
		description, now.Format("2006-01-02 15:04"), s.tzOffset, synthesisPrompt, toolResults,
	)

	ch := make(chan orkestra.StreamEvent, 16)
	done := make(chan struct{})
	var resp orkestra.ChatResponse
	var err error
	go func() {
		defer close(done)
		defer close(ch)
		resp, err = s.provider.ChatStream(ctx, orkestra.ChatRequest{
			SystemPrompt: system,
			History:      []orkestra.ChatTurn{{Role: "user", Parts: []orkestra.Part{orkestra.TextPart{Text: "Generate the report."}}}},
		}, ch)
	}()
	for range ch {
		// Synthesis is consumed whole; token-by-token progress has no
		// caller to stream to in the background.
	}
	<-done

	if err != nil {
		s.logger.Warn("scheduled synthesis failed", "error", err)
		return fmt.Sprintf("**%s**\n\n%s", description, toolResults)
	}
	var text strings.Builder
	for _, p := range resp.Parts {
		if tp, ok := p.(orkestra.TextPart); ok {
			text.WriteString(tp.Text)
		}
	}
	return text.String()
}

// parseToolCalls decodes an action's stored plan.
func parseToolCalls(raw string) ([]ToolCall, bool) {
	var calls []ToolCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil || len(calls) == 0 {
		return nil, false
	}
	return calls, true
}
