// Package engine drives one request through the full turn state machine:
// persona resolve, context assembly, the model/tool iteration loop, and
// post-loop edit/synthesis enforcement. It is the orkestra.Agent the rest of
// the system talks to — a WS gateway, an A2A handler, or a call_agent
// delegation target all end up calling Engine.Run (Execute and ExecuteStream
// are thin orkestra.Agent adapters over it).
//
// Grounded on the teacher's llmagent.go LLMAgent.Execute/ExecuteStream loop
// shape (max-iterations synthesis fallback, ProcessorChain hooks) plus
// loop.go's streaming accumulation idiom, generalized from one fixed system
// prompt and tool catalog per agent to a per-request persona/model resolved
// fresh by assemble.Build.
package engine

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/assemble"
	"github.com/ashgrove-labs/orkestra/classify"
	"github.com/ashgrove-labs/orkestra/dispatch"
	"github.com/ashgrove-labs/orkestra/store"
	"github.com/ashgrove-labs/orkestra/toolkit"

	"log/slog"
)

// globalDeadline is the hard wall-clock budget for one Run, per spec.md §5:
// no request, however many iterations or delegations it spawns, runs
// longer than this before being cancelled.
const globalDeadline = 300 * time.Second

const (
	earlyTerminationIteration = 8
	earlyTerminationMinChars  = 50

	persistTimeout = 5 * time.Second

	// classifierFallbackThreshold mirrors classify.llmFallbackThreshold,
	// which is unexported; duplicated here rather than exported purely to
	// save one constant, since the two packages have no other reason to
	// share state.
	classifierFallbackThreshold = 0.65

	defaultTopP = 0.95
)

// ProviderFactory builds (or returns a cached) Provider for a resolved
// model name and credential. The returned Provider is expected to already
// carry the breaker/backoff decorators the caller wants — Engine only
// caches the result, it never wraps a provider itself.
type ProviderFactory func(model string, cred assemble.Credential) orkestra.Provider

// Config wires an Engine to its persona catalog, tool/agent catalogs,
// provider construction, and persistence/observability backends.
type Config struct {
	Personas          []orkestra.Persona
	DefaultPersonaID  string
	GlobalDefaultModel string
	FlashModel        string
	ThinkingModel     string

	DisableClassifierFallback bool
	ClassifierLLM             orkestra.Provider

	Tools  *toolkit.Registry
	Agents dispatch.AgentResolver

	NewProvider ProviderFactory

	Store store.SessionStore
	Cache *assemble.Cache

	RenderSystemPrompt func(persona orkestra.Persona, languageTag string) string

	// DefaultCredential is used when Engine is invoked as a plain Agent
	// (Execute/ExecuteStream) rather than through Run directly, so a
	// call_agent delegation target doesn't need its own copy of the
	// upstream secret threaded through AgentTask.Context.
	DefaultCredential assemble.Credential

	Logger *slog.Logger
	Tracer orkestra.Tracer
}

// Request is one turn's input to Run.
type Request struct {
	RequestID       string
	SessionID       string
	Prompt          string
	ExplicitPersona string
	ExplicitModel   string
	Credential      assemble.Credential

	WorkingDirectory string
	LanguageTag      string

	CallDepth     int
	MaxIterations int
}

// Result is one turn's output.
type Result struct {
	Text       string
	PersonaID  string
	Model      string
	Iterations int
	Usage      orkestra.Usage
}

// Engine is the execution loop described by spec.md §4.5. The zero value is
// not usable; build one with New.
type Engine struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher

	mu        sync.Mutex
	providers map[string]orkestra.Provider
}

// New builds an Engine from cfg. cfg.Logger defaults to slog.Default() when
// nil — unlike Spawn's silent-by-default nopLogger, Engine is the primary
// caller-facing surface and a silent default here would hide production
// issues.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		dispatcher: dispatch.New(cfg.Tools, cfg.Agents),
		providers:  make(map[string]orkestra.Provider),
	}
}

// Name implements orkestra.Agent.
func (e *Engine) Name() string { return "orkestra-engine" }

// Description implements orkestra.Agent.
func (e *Engine) Description() string {
	return "Resolves a persona and model for a prompt, then runs the full tool-calling loop to completion."
}

// Execute implements orkestra.Agent, for use as a call_agent delegation
// target or any other generic caller that only has an AgentTask.
func (e *Engine) Execute(ctx context.Context, task orkestra.AgentTask) (orkestra.AgentResult, error) {
	req := e.requestFromTask(task)
	result, err := e.Run(ctx, req, nil)
	return orkestra.AgentResult{Output: result.Text, Usage: result.Usage}, err
}

// ExecuteStream implements orkestra.StreamingAgent: it runs the same loop as
// Execute but forwards every model text token onto ch as it is produced.
func (e *Engine) ExecuteStream(ctx context.Context, task orkestra.AgentTask, ch chan<- string) (orkestra.AgentResult, error) {
	req := e.requestFromTask(task)

	events := make(chan Event, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			if ev.Type == EventToken && ev.Text != "" {
				ch <- ev.Text
			}
		}
	}()

	result, err := e.Run(ctx, req, events)
	close(events)
	wg.Wait()
	return orkestra.AgentResult{Output: result.Text, Usage: result.Usage}, err
}

// requestFromTask adapts a generic AgentTask into a Request, reading
// routing hints out of its string-keyed Context map. The credential never
// travels through that map — callers that need a specific credential per
// delegation target use PersonaAgent instead of calling Engine directly.
func (e *Engine) requestFromTask(task orkestra.AgentTask) Request {
	return Request{
		Prompt:           task.Input,
		ExplicitPersona:  task.Context["persona"],
		ExplicitModel:    task.Context["model"],
		SessionID:        task.Context["session_id"],
		LanguageTag:      task.Context["language_tag"],
		Credential:       e.cfg.DefaultCredential,
		WorkingDirectory: task.WorkingDir,
		CallDepth:        task.CallDepth,
	}
}

// Run drives req through persona resolution, context assembly, the
// iteration loop, and post-loop enforcement, emitting progress onto events
// (nil is fine — callers that only want the final Result pass nil).
func (e *Engine) Run(ctx context.Context, req Request, events chan<- Event) (Result, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = orkestra.NewID()
	}
	logger := e.cfg.Logger.With("request_id", requestID)

	ctx, cancel := context.WithTimeout(ctx, globalDeadline)
	defer cancel()

	var span orkestra.Span
	if e.cfg.Tracer != nil {
		ctx, span = e.cfg.Tracer.Start(ctx, "engine.run", orkestra.StringAttr("request_id", requestID))
		defer span.End()
	}

	emit(events, Event{Type: EventStart})

	if req.Credential.Value == "" {
		err := orkestra.NewError(orkestra.CodeNoCredential, "no provider credential configured", nil)
		emit(events, Event{Type: EventError, Err: err})
		if span != nil {
			span.Error(err)
		}
		return Result{}, err
	}

	sessionAgent := ""
	var historyRows []store.HistoryTurn
	if e.cfg.Store != nil && req.SessionID != "" {
		if agent, err := e.cfg.Store.SessionAgent(ctx, req.SessionID); err != nil {
			logger.Warn("session agent lookup failed", "error", err)
		} else {
			sessionAgent = agent
		}
		if rows, err := e.cfg.Store.LoadHistory(ctx, req.SessionID, historyWindow); err != nil {
			logger.Warn("history load failed", "error", err)
		} else {
			historyRows = rows
		}
	}

	var loader *assemble.Loader
	if req.WorkingDirectory != "" {
		loader = assemble.NewLoader(req.WorkingDirectory)
	}

	env := assemble.Build(assemble.Input{
		Prompt:             req.Prompt,
		ExplicitPersona:    req.ExplicitPersona,
		SessionAgent:       sessionAgent,
		Personas:           e.cfg.Personas,
		DefaultPersonaID:   e.cfg.DefaultPersonaID,
		Classify:           e.classifyFunc(ctx, logger),
		ExplicitModel:      req.ExplicitModel,
		FlashTier:          e.cfg.FlashModel,
		ThinkingTier:       e.cfg.ThinkingModel,
		GlobalDefault:      e.cfg.GlobalDefaultModel,
		ABVariate:          rand.Float64(),
		Credential:         req.Credential,
		WorkingDirectory:   req.WorkingDirectory,
		LanguageTag:        req.LanguageTag,
		Loader:             loader,
		Cache:              e.cfg.Cache,
		RenderSystemPrompt: e.cfg.RenderSystemPrompt,
		TopP:               defaultTopP,
		MaxIterations:      req.MaxIterations,
		CallDepth:          req.CallDepth,
	})

	emit(events, Event{
		Type:       EventPlan,
		PersonaID:  env.PersonaID,
		Model:      env.Model,
		Confidence: env.Confidence,
		Reasoning:  env.Reasoning,
		Steps:      env.Steps,
	})

	if span != nil {
		span.SetAttr(orkestra.StringAttr("persona_id", env.PersonaID), orkestra.StringAttr("model", env.Model))
	}

	ceiling := iterationCeiling(len(env.FinalUserPrompt), len(env.FilesLoaded))
	if req.MaxIterations > 0 && req.MaxIterations < ceiling {
		ceiling = req.MaxIterations
	}

	turns := buildHistoryTurns(historyRows)
	turns = append(turns, orkestra.ChatTurn{Role: "user", Parts: []orkestra.Part{orkestra.TextPart{Text: env.FinalUserPrompt}}})

	toolDefs := e.cfg.Tools.Definitions()
	if e.cfg.Agents != nil {
		toolDefs = append(toolDefs, dispatch.CallAgentDefinition)
	}

	var (
		fullText          strings.Builder
		totalUsage        orkestra.Usage
		hasWrittenFile    bool
		fallbackUsed      bool
		runErr            error
		iterationsRun     int
		finishedNaturally bool
	)

	parentTask := orkestra.AgentTask{Input: req.Prompt, CallDepth: req.CallDepth, WorkingDir: req.WorkingDirectory}

loop:
	for i := 0; i < ceiling; i++ {
		iterationsRun = i + 1
		if ctx.Err() != nil {
			break loop
		}

		chatReq := buildChatRequest(env, turns, toolDefs)
		provider := e.providerFor(env.Model, req.Credential)
		resp, malformed, streamed, err := e.sendTurn(ctx, provider, chatReq, events, i)
		text := textOf(resp.Parts)
		calls := callsOf(resp.Parts)

		if err == nil && text == "" && len(calls) == 0 && !malformed && e.cfg.FlashModel != "" && env.Model != e.cfg.FlashModel && !fallbackUsed {
			fallbackUsed = true
			fbProvider := e.providerFor(e.cfg.FlashModel, req.Credential)
			resp, malformed, streamed, err = e.sendTurn(ctx, fbProvider, chatReq, events, i)
			text = textOf(resp.Parts)
			calls = callsOf(resp.Parts)
			env.Model = e.cfg.FlashModel
			provider = fbProvider
		}

		totalUsage.InputTokens += resp.Usage.InputTokens
		totalUsage.OutputTokens += resp.Usage.OutputTokens

		if err != nil {
			// A cancellation surfaces as complete with partial text, not as
			// a failure: only a genuine provider/infra error is a runErr.
			if ctx.Err() == nil {
				runErr = err
			} else if text == "" {
				appendText(&fullText, streamed)
			}
			break loop
		}

		if text != "" {
			appendText(&fullText, text)
		}

		if malformed && text == "" {
			noToolsReq := chatReq
			noToolsReq.Tools = nil
			noToolsReq.SystemPrompt = chatReq.SystemPrompt + "\nanswer directly, do not attempt to call tools"
			resp2, _, _, err2 := e.sendTurn(ctx, provider, noToolsReq, events, i)
			if err2 != nil {
				if ctx.Err() == nil {
					runErr = err2
				}
			} else {
				totalUsage.InputTokens += resp2.Usage.InputTokens
				totalUsage.OutputTokens += resp2.Usage.OutputTokens
				appendText(&fullText, textOf(resp2.Parts))
				finishedNaturally = true
			}
			break loop
		}

		if len(calls) == 0 {
			finishedNaturally = true
			break loop
		}

		emitCalls(events, i, calls)
		responses := e.dispatchCalls(ctx, calls, parentTask, i, events)
		for _, r := range responses {
			if r.Name == "write_file" || r.Name == "edit_file" {
				hasWrittenFile = true
			}
			emit(events, Event{Type: EventToolResult, Iteration: i, ToolName: r.Name, ToolCallID: r.CallID, Output: r.Output.Text})
		}

		turns = append(turns, orkestra.ChatTurn{Role: "model", Parts: resp.Parts})

		userParts := make([]orkestra.Part, 0, len(responses)+1)
		for _, r := range responses {
			userParts = append(userParts, r)
		}
		if i >= reminderFromIteration {
			reminder := buildReminder(fullText.Len(), len(turns), i, ceiling, hasWrittenFile)
			userParts = append(userParts, orkestra.SystemNotePart{Text: reminder})
		}
		turns = append(turns, orkestra.ChatTurn{Role: "user", Parts: userParts})

		if i >= earlyTerminationIteration && text == "" && fullText.Len() < earlyTerminationMinChars {
			appendText(&fullText, "ending this turn: no forward progress after the iteration budget was mostly spent.")
			break loop
		}

		emit(events, Event{Type: EventIteration, Iteration: i})
	}

	// Only a loop that never hit a natural no-calls stop (ceiling
	// exhaustion, early termination) needs the forced wrap-up turn — a
	// model that already chose to stop with a short-but-complete answer
	// (a plain "yes" or a one-line tool result summary) should not be
	// second-guessed into restating itself.
	if runErr == nil && ctx.Err() == nil {
		e.runEditPhase(ctx, &env, req, &turns, &fullText, &hasWrittenFile, &totalUsage, events, ceiling)
		if !finishedNaturally && needsSynthesisPhase(true, fullText.Len()) {
			e.runSynthesisPhase(ctx, &env, req, &turns, &fullText, &totalUsage, events, ceiling)
		}
	}

	result := Result{
		Text:       strings.TrimSpace(fullText.String()),
		PersonaID:  env.PersonaID,
		Model:      env.Model,
		Iterations: iterationsRun,
		Usage:      totalUsage,
	}

	// A genuine failure (runErr != nil, e.g. an open circuit breaker) never
	// reaches a provider call worth billing or a turn worth replaying —
	// nothing is persisted. Cancellation still persists the partial text.
	if runErr == nil {
		e.persist(requestID, req.SessionID, req.Prompt, result, logger, time.Since(start))
	}

	if runErr != nil {
		emit(events, Event{Type: EventError, Err: runErr})
		if span != nil {
			span.Error(runErr)
		}
		return result, runErr
	}
	if span != nil {
		span.SetAttr(orkestra.IntAttr("iterations", result.Iterations), orkestra.IntAttr("output_tokens", result.Usage.OutputTokens))
	}
	emit(events, Event{Type: EventComplete, Text: result.Text})
	return result, ctx.Err()
}

// sendTurn owns req's provider call end to end: it creates the event
// channel, runs the provider in a goroutine, forwards text tokens onto
// events as they stream, and closes the channel itself once the call
// returns — ch is closed by the caller, never the provider, per
// orkestra.Provider's contract.
// sendTurn returns the provider's aggregated response plus streamedText, the
// text tokens observed on ch before the call returned. streamedText is the
// only trace of a turn's output when the call itself errors out mid-stream
// (a cancellation never reaches a final ChatResponse to read Parts from) —
// callers fall back to it so a cancelled turn still contributes whatever it
// managed to say.
func (e *Engine) sendTurn(ctx context.Context, provider orkestra.Provider, req orkestra.ChatRequest, events chan<- Event, iteration int) (resp orkestra.ChatResponse, malformed bool, streamedText string, err error) {
	ch := make(chan orkestra.StreamEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(ch)
		resp, err = provider.ChatStream(ctx, req, ch)
	}()

	var text strings.Builder
	for ev := range ch {
		switch ev.Type {
		case orkestra.EventTextToken:
			text.WriteString(ev.Text)
			emit(events, Event{Type: EventToken, Iteration: iteration, Text: ev.Text})
		case orkestra.EventMalformedFunctionCall:
			malformed = true
		}
	}
	<-done
	return resp, malformed, text.String(), err
}

// dispatchCalls runs the dispatcher and translates its heartbeat ticks into
// EventHeartbeat notifications on events.
func (e *Engine) dispatchCalls(ctx context.Context, calls []orkestra.FunctionCallPart, parentTask orkestra.AgentTask, iteration int, events chan<- Event) []orkestra.FunctionResponsePart {
	heartbeatCh := make(chan struct{}, 1)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-heartbeatCh:
				emit(events, Event{Type: EventHeartbeat, Iteration: iteration})
			case <-stop:
				return
			}
		}
	}()
	responses := e.dispatcher.Dispatch(ctx, calls, parentTask, iteration, heartbeatCh)
	close(stop)
	return responses
}

// runEditPhase enforces spec.md §4.5's rule that a described-but-unapplied
// fix must be followed by one more turn offering only edit_file/write_file.
func (e *Engine) runEditPhase(ctx context.Context, env *assemble.Envelope, req Request, turns *[]orkestra.ChatTurn, fullText *strings.Builder, hasWrittenFile *bool, usage *orkestra.Usage, events chan<- Event, iteration int) {
	if !needsEditPhase(*hasWrittenFile, fullText.String()) {
		return
	}
	*turns = append(*turns, orkestra.ChatTurn{Role: "user", Parts: []orkestra.Part{
		orkestra.TextPart{Text: "You described a change but did not apply it. Call edit_file or write_file now."},
	}})

	restricted := e.cfg.Tools.Subset("edit_file", "write_file")
	chatReq := orkestra.ChatRequest{
		SystemPrompt:    env.SystemPrompt,
		History:         *turns,
		Tools:           restricted.Definitions(),
		Temperature:     env.Temperature,
		TopP:            env.TopP,
		MaxOutputTokens: env.MaxOutputTokens,
		ThinkingLevel:   env.ThinkingLevel,
	}
	provider := e.providerFor(env.Model, req.Credential)
	resp, _, _, err := e.sendTurn(ctx, provider, chatReq, events, iteration)
	if err != nil {
		return
	}
	usage.InputTokens += resp.Usage.InputTokens
	usage.OutputTokens += resp.Usage.OutputTokens

	if calls := callsOf(resp.Parts); len(calls) > 0 {
		editDispatcher := dispatch.New(restricted, nil)
		parentTask := orkestra.AgentTask{Input: req.Prompt, CallDepth: req.CallDepth, WorkingDir: req.WorkingDirectory}
		responses := editDispatcher.Dispatch(ctx, calls, parentTask, iteration, nil)
		for range responses {
			*hasWrittenFile = true
		}
	}
	appendText(fullText, textOf(resp.Parts))
}

// runSynthesisPhase enforces spec.md §4.5's rule that a turn producing
// output too short to stand as a report gets one more no-tools turn asking
// for a proper write-up.
func (e *Engine) runSynthesisPhase(ctx context.Context, env *assemble.Envelope, req Request, turns *[]orkestra.ChatTurn, fullText *strings.Builder, usage *orkestra.Usage, events chan<- Event, iteration int) {
	if !needsSynthesisPhase(fullText.Len() > 0, len(fullText.String())) {
		return
	}
	*turns = append(*turns, orkestra.ChatTurn{Role: "user", Parts: []orkestra.Part{
		orkestra.TextPart{Text: "Write your final report now, in full prose, without calling any tools."},
	}})
	chatReq := orkestra.ChatRequest{
		SystemPrompt:    env.SystemPrompt,
		History:         *turns,
		Temperature:     env.Temperature,
		TopP:            env.TopP,
		MaxOutputTokens: env.MaxOutputTokens,
		ThinkingLevel:   env.ThinkingLevel,
	}
	provider := e.providerFor(env.Model, req.Credential)
	resp, _, _, err := e.sendTurn(ctx, provider, chatReq, events, iteration)
	if err != nil {
		return
	}
	usage.InputTokens += resp.Usage.InputTokens
	usage.OutputTokens += resp.Usage.OutputTokens
	appendText(fullText, textOf(resp.Parts))
}

// persist saves the turn and its usage in the background. Failure is
// logged and swallowed: a slow or down store must never fail or delay a
// response the caller is already holding.
func (e *Engine) persist(requestID, sessionID, prompt string, result Result, logger *slog.Logger, latency time.Duration) {
	if e.cfg.Store == nil || sessionID == "" {
		return
	}
	success := result.Text != ""
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := e.cfg.Store.SaveMessage(ctx, requestID, sessionID, "user", prompt, result.Model, result.PersonaID); err != nil {
			logger.Warn("persist user message failed", "error", err)
		}
		if err := e.cfg.Store.SaveMessage(ctx, requestID, sessionID, "assistant", result.Text, result.Model, result.PersonaID); err != nil {
			logger.Warn("persist assistant message failed", "error", err)
		}

		inputTokens, outputTokens := result.Usage.InputTokens, result.Usage.OutputTokens
		if inputTokens == 0 && outputTokens == 0 {
			inputTokens = approxTokens(prompt)
			outputTokens = approxTokens(result.Text)
		}
		if err := e.cfg.Store.RecordUsage(ctx, result.PersonaID, result.Model, inputTokens, outputTokens, latency.Milliseconds(), success, tierFor(result.Model)); err != nil {
			logger.Warn("record usage failed", "error", err)
		}
	}()
}

// Providers returns a point-in-time copy of every Provider Engine has built
// so far, keyed by model name. Exposed for the process-wide watchdog to
// sweep breaker state across every model in use without Engine depending on
// the breaker package itself.
func (e *Engine) Providers() map[string]orkestra.Provider {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := make(map[string]orkestra.Provider, len(e.providers))
	for model, p := range e.providers {
		snapshot[model] = p
	}
	return snapshot
}

// providerFor returns a cached Provider for model, building one via
// cfg.NewProvider on first use. Cached by model name only: this assumes one
// credential per process, the typical single-tenant gateway deployment: a
// multi-tenant cache key would need to fold the credential in too, and is
// out of scope here.
func (e *Engine) providerFor(model string, cred assemble.Credential) orkestra.Provider {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.providers[model]; ok {
		return p
	}
	p := e.cfg.NewProvider(model, cred)
	e.providers[model] = p
	return p
}

// classifyFunc adapts classify.Classify (and, below the confidence
// threshold, classify.LLMFallback) into the tuple shape assemble.Build
// expects.
func (e *Engine) classifyFunc(ctx context.Context, logger *slog.Logger) assemble.ClassifyFunc {
	return func(prompt string, personas []orkestra.Persona, defaultID string) (string, float64, string) {
		result := classify.Classify(prompt, personas, defaultID)
		if e.cfg.DisableClassifierFallback || e.cfg.ClassifierLLM == nil || result.Confidence >= classifierFallbackThreshold {
			return result.PersonaID, result.Confidence, result.Reasoning
		}
		fallback := classify.LLMFallback(ctx, e.cfg.ClassifierLLM, prompt, personas, result)
		logger.Debug("classifier fallback invoked", "keyword_confidence", result.Confidence, "llm_persona", fallback.PersonaID)
		return fallback.PersonaID, fallback.Confidence, fallback.Reasoning
	}
}

func buildChatRequest(env assemble.Envelope, turns []orkestra.ChatTurn, toolDefs []orkestra.ToolDefinition) orkestra.ChatRequest {
	return orkestra.ChatRequest{
		SystemPrompt:    env.SystemPrompt,
		History:         turns,
		Tools:           toolDefs,
		Temperature:     env.Temperature,
		TopP:            env.TopP,
		MaxOutputTokens: env.MaxOutputTokens,
		ThinkingLevel:   env.ThinkingLevel,
	}
}

func textOf(parts []orkestra.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if tp, ok := p.(orkestra.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func callsOf(parts []orkestra.Part) []orkestra.FunctionCallPart {
	var calls []orkestra.FunctionCallPart
	for _, p := range parts {
		if fc, ok := p.(orkestra.FunctionCallPart); ok {
			calls = append(calls, fc)
		}
	}
	return calls
}

func appendText(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(s)
}

// tierFor buckets a resolved model name for usage accounting, matching
// envelope.go's maxOutputTokensFor substring heuristic (flash/pro/else)
// but naming the "else" bucket "chat" for RecordUsage's tier column.
func tierFor(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "flash"):
		return "flash"
	case strings.Contains(lower, "pro"):
		return "thinking"
	default:
		return "chat"
	}
}

// approxTokens estimates a token count from byte length when a provider
// response carried no usage data. ~4 bytes/token is the standard rough
// English estimate.
func approxTokens(s string) int {
	return len(s) / 4
}
