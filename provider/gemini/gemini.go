// Package gemini implements orkestra.Provider against Google's Gemini
// streamGenerateContent SSE endpoint.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashgrove-labs/orkestra"
	"github.com/ashgrove-labs/orkestra/ssestream"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements orkestra.Provider for a single Gemini model.
type Gemini struct {
	apiKey     string
	model      string
	httpClient *http.Client

	mediaResolution    string
	responseModalities []string
	functionCalling    bool
	codeExecution      bool
	googleSearch       bool
	urlContext         bool
	useThinkingLevel   bool // Gemini-3 generations: thinkingLevel; else thinkingBudget
}

// New creates a Gemini provider for model, with functional options.
func New(apiKey, model string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:           apiKey,
		model:            model,
		httpClient:       &http.Client{},
		functionCalling:  true,
		useThinkingLevel: strings.HasPrefix(model, "gemini-3"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gemini) Name() string { return "gemini" }

// ChatStream streams parsed events into ch as the model responds, then
// returns the fully aggregated response. ch is never closed here; the
// caller owns it per orkestra.Provider's contract.
func (g *Gemini) ChatStream(ctx context.Context, req orkestra.ChatRequest, ch chan<- orkestra.StreamEvent) (orkestra.ChatResponse, error) {
	body := g.buildBody(req)

	payload, err := json.Marshal(body)
	if err != nil {
		return orkestra.ChatResponse{}, orkestra.NewError(orkestra.CodeUpstreamFatal, "encode request body", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return orkestra.ChatResponse{}, orkestra.NewError(orkestra.CodeUpstreamFatal, "build http request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return orkestra.ChatResponse{}, &orkestra.ProviderError{Provider: "gemini", Status: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return orkestra.ChatResponse{}, httpErr(resp, string(b))
	}

	parser := ssestream.NewParser(resp.Body)
	var parts []orkestra.Part
	var textBuf strings.Builder
	var usage orkestra.Usage

	flushText := func() {
		if textBuf.Len() > 0 {
			parts = append(parts, orkestra.TextPart{Text: textBuf.String()})
			textBuf.Reset()
		}
	}

	for {
		ev, chunkUsage, done, err := parser.Next()
		if err != nil {
			return orkestra.ChatResponse{}, orkestra.NewError(orkestra.CodeUpstreamTransit, "stream decode failed", err)
		}
		if chunkUsage != nil {
			usage = *chunkUsage
		}
		if done {
			break
		}
		switch ev.Type {
		case orkestra.EventTextToken:
			textBuf.WriteString(ev.Text)
			select {
			case ch <- ev:
			case <-ctx.Done():
				return orkestra.ChatResponse{}, ctx.Err()
			}
		case orkestra.EventFunctionCall:
			flushText()
			parts = append(parts, ev.Call)
			select {
			case ch <- ev:
			case <-ctx.Done():
				return orkestra.ChatResponse{}, ctx.Err()
			}
		case orkestra.EventMalformedFunctionCall:
			select {
			case ch <- ev:
			case <-ctx.Done():
				return orkestra.ChatResponse{}, ctx.Err()
			}
		}
	}
	flushText()

	return orkestra.ChatResponse{Parts: parts, Usage: usage}, nil
}

// AnalyzeImage implements toolkit/vision's Analyzer: a one-shot,
// non-streaming multimodal call outside the conversational turn history.
func (g *Gemini) AnalyzeImage(ctx context.Context, prompt, mimeType string, data []byte) (string, error) {
	body := map[string]any{
		"contents": []map[string]any{{
			"role": "user",
			"parts": []map[string]any{
				{"text": prompt},
				{"inlineData": map[string]any{
					"mimeType": mimeType,
					"data":     base64.StdEncoding.EncodeToString(data),
				}},
			},
		}},
		"generationConfig": map[string]any{"temperature": 0.2},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", orkestra.NewError(orkestra.CodeUpstreamFatal, "encode vision request", err)
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return "", orkestra.NewError(orkestra.CodeUpstreamFatal, "build vision request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", &orkestra.ProviderError{Provider: "gemini", Status: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", orkestra.NewError(orkestra.CodeUpstreamTransit, "read vision response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", httpErr(resp, string(respBody))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", orkestra.NewError(orkestra.CodeUpstreamFatal, "parse vision response", err)
	}
	var sb strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, p := range parsed.Candidates[0].Content.Parts {
			if p.Thought {
				continue
			}
			if p.Text != nil {
				sb.WriteString(*p.Text)
			}
		}
	}
	return sb.String(), nil
}

// httpErr builds a ProviderError from a non-2xx HTTP response, preferring
// the Retry-After header and falling back to Gemini's RetryInfo error
// detail.
func httpErr(resp *http.Response, body string) *orkestra.ProviderError {
	ra := parseRetryAfterHeader(resp.Header.Get("Retry-After"))
	if ra == 0 {
		ra = parseRetryInfo(body)
	}
	return &orkestra.ProviderError{Provider: "gemini", Status: resp.StatusCode, Body: body, RetryAfter: ra}
}

func parseRetryAfterHeader(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 0
}

func parseRetryInfo(body string) time.Duration {
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &envelope) != nil {
		return 0
	}
	for _, raw := range envelope.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &detail) != nil {
			continue
		}
		if detail.Type == "type.googleapis.com/google.rpc.RetryInfo" && detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
	}
	return 0
}

// buildBody assembles a Gemini streamGenerateContent request body from a
// ChatRequest: system instruction, turn history (mapped through the Part
// sum type), function declarations, and generation config including the
// thinkingLevel/thinkingBudget split between Gemini-3 and Gemini-2.5.
func (g *Gemini) buildBody(req orkestra.ChatRequest) map[string]any {
	var contents []map[string]any
	for _, turn := range req.History {
		contents = append(contents, g.turnToContent(turn))
	}

	body := map[string]any{"contents": contents}

	if req.SystemPrompt != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemPrompt}},
		}
	}

	var toolEntries []map[string]any
	if len(req.Tools) > 0 {
		declarations := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			var params any
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &params); err != nil {
					params = map[string]any{}
				}
			} else {
				params = map[string]any{}
			}
			declarations = append(declarations, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			})
		}
		toolEntries = append(toolEntries, map[string]any{"functionDeclarations": declarations})
	}
	if g.codeExecution {
		toolEntries = append(toolEntries, map[string]any{"codeExecution": map[string]any{}})
	}
	if g.googleSearch {
		toolEntries = append(toolEntries, map[string]any{"googleSearch": map[string]any{}})
	}
	if g.urlContext {
		toolEntries = append(toolEntries, map[string]any{"urlContext": map[string]any{}})
	}
	if len(toolEntries) > 0 {
		body["tools"] = toolEntries
	}
	if !g.functionCalling && len(req.Tools) == 0 {
		body["toolConfig"] = map[string]any{
			"functionCallingConfig": map[string]any{"mode": "NONE"},
		}
	}

	genConfig := map[string]any{
		"temperature": req.Temperature,
		"topP":        req.TopP,
	}
	if req.MaxOutputTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxOutputTokens
	}
	if g.mediaResolution != "" {
		genConfig["mediaResolution"] = g.mediaResolution
	}
	if len(g.responseModalities) > 0 {
		genConfig["responseModalities"] = g.responseModalities
	}
	if cfg := thinkingConfig(req.ThinkingLevel, g.useThinkingLevel); cfg != nil {
		genConfig["thinkingConfig"] = cfg
	}
	body["generationConfig"] = genConfig

	return body
}

// thinkingConfig translates the model-tier-independent ThinkingLevel into
// whichever wire field the target generation expects: thinkingLevel for
// Gemini-3, thinkingBudget (in tokens) for Gemini-2.5.
func thinkingConfig(level orkestra.ThinkingLevel, useLevel bool) map[string]any {
	if level == orkestra.ThinkingNone {
		return nil
	}
	if useLevel {
		return map[string]any{"thinkingLevel": strings.ToUpper(string(level))}
	}
	budgets := map[orkestra.ThinkingLevel]int{
		orkestra.ThinkingMin:    1024,
		orkestra.ThinkingLow:    2048,
		orkestra.ThinkingMedium: 4096,
		orkestra.ThinkingHigh:   8192,
	}
	budget, ok := budgets[level]
	if !ok {
		return nil
	}
	return map[string]any{"thinkingBudget": budget}
}

// turnToContent maps one ChatTurn into a Gemini contents entry, switching
// exhaustively over the closed Part sum type.
func (g *Gemini) turnToContent(turn orkestra.ChatTurn) map[string]any {
	var parts []map[string]any
	for _, p := range turn.Parts {
		switch v := p.(type) {
		case orkestra.TextPart:
			parts = append(parts, map[string]any{"text": v.Text})
		case orkestra.SystemNotePart:
			parts = append(parts, map[string]any{"text": v.Text})
		case orkestra.FunctionCallPart:
			var args any
			if len(v.Args) > 0 {
				if err := json.Unmarshal(v.Args, &args); err != nil {
					args = map[string]any{}
				}
			} else {
				args = map[string]any{}
			}
			part := map[string]any{"functionCall": map[string]any{"name": v.Name, "args": args}}
			if v.Signature != "" {
				part["thoughtSignature"] = v.Signature
			}
			parts = append(parts, part)
		case orkestra.FunctionResponsePart:
			response := map[string]any{"result": v.Output.Text}
			part := map[string]any{"functionResponse": map[string]any{"name": v.Name, "response": response}}
			if v.Signature != "" {
				part["thoughtSignature"] = v.Signature
			}
			parts = append(parts, part)
			if v.Output.InlineData != nil {
				parts = append(parts, map[string]any{"inlineData": map[string]any{
					"mimeType": v.Output.InlineData.MimeType,
					"data":     v.Output.InlineData.Data,
				}})
			}
		}
	}
	if len(parts) == 0 {
		parts = append(parts, map[string]any{"text": ""})
	}
	return map[string]any{"role": mapRole(turn.Role), "parts": parts}
}

func mapRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return role
}

// ---- Response parsing types (non-streaming calls only; streaming uses ssestream) ----

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text             *string `json:"text,omitempty"`
	Thought          bool    `json:"thought,omitempty"`
	ThoughtSignature string  `json:"thoughtSignature,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

var _ orkestra.Provider = (*Gemini)(nil)
