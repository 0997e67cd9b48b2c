// Package ssestream parses a Gemini streamGenerateContent SSE body into
// StreamEvents, extracted from the inline scanning loop the teacher ran
// directly inside its ChatStream method.
package ssestream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/ashgrove-labs/orkestra"
)

// Parser incrementally decodes an SSE body, one "data: " line (or a
// multi-line accumulated JSON value) at a time.
type Parser struct {
	scanner   *bufio.Scanner
	jsonBuf   strings.Builder
	lastUsage *orkestra.Usage
}

// NewParser wraps r's SSE stream. The scanner carries a 16MiB buffer:
// image-generation responses return base64 image data as a single chunk
// that can reach several megabytes.
func NewParser(r io.Reader) *Parser {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 16*1024*1024), 16*1024*1024)
	return &Parser{scanner: scanner}
}

// Next returns the next decoded event. usage is the most recent usage
// metadata seen so far in the stream (nil until a chunk carries some), so
// the last chunk's usage wins across a stream.
// done is true once the underlying reader is exhausted and there is no
// event to return for this call.
func (p *Parser) Next() (orkestra.StreamEvent, *orkestra.Usage, bool, error) {
	tryDecode := func(raw string) (orkestra.StreamEvent, bool) {
		ev, usage, ok := decodeChunk(raw)
		if usage != nil {
			p.lastUsage = usage
		}
		return ev, ok
	}

	for p.scanner.Scan() {
		line := p.scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			if p.jsonBuf.Len() > 0 {
				p.jsonBuf.WriteString(line)
				if isCompleteJSON(p.jsonBuf.String()) {
					ev, ok := tryDecode(p.jsonBuf.String())
					p.jsonBuf.Reset()
					if ok {
						return ev, p.lastUsage, false, nil
					}
				}
			}
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}
		if isCompleteJSON(data) {
			if ev, ok := tryDecode(data); ok {
				return ev, p.lastUsage, false, nil
			}
			continue
		}
		p.jsonBuf.Reset()
		p.jsonBuf.WriteString(data)
	}
	if err := p.scanner.Err(); err != nil {
		return orkestra.StreamEvent{}, p.lastUsage, false, err
	}
	if p.jsonBuf.Len() > 0 && isCompleteJSON(p.jsonBuf.String()) {
		ev, ok := tryDecode(p.jsonBuf.String())
		p.jsonBuf.Reset()
		if ok {
			return ev, p.lastUsage, false, nil
		}
	}
	return orkestra.StreamEvent{}, p.lastUsage, true, nil
}

// decodeChunk parses one complete SSE JSON payload into at most one
// StreamEvent plus optional usage. ok is false when the chunk carried
// nothing event-worthy (e.g. a bare usage update or a thought-only part).
func decodeChunk(raw string) (orkestra.StreamEvent, *orkestra.Usage, bool) {
	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text             *string         `json:"text,omitempty"`
					Thought          bool            `json:"thought,omitempty"`
					ThoughtSignature string          `json:"thoughtSignature,omitempty"`
					FunctionCall     *functionCallRaw `json:"functionCall,omitempty"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata *struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return orkestra.StreamEvent{}, nil, false
	}

	var usage *orkestra.Usage
	if parsed.UsageMetadata != nil {
		usage = &orkestra.Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		}
	}

	if len(parsed.Candidates) == 0 {
		return orkestra.StreamEvent{}, usage, false
	}

	var textBuf strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			if part.FunctionCall.Name == "" {
				return orkestra.StreamEvent{Type: orkestra.EventMalformedFunctionCall, Raw: raw}, usage, true
			}
			return orkestra.StreamEvent{
				Type: orkestra.EventFunctionCall,
				Call: orkestra.FunctionCallPart{
					Name:      part.FunctionCall.Name,
					Args:      part.FunctionCall.Args,
					Signature: part.ThoughtSignature,
				},
			}, usage, true
		}
		if part.Text != nil {
			textBuf.WriteString(*part.Text)
		}
	}
	if textBuf.Len() > 0 {
		return orkestra.StreamEvent{Type: orkestra.EventTextToken, Text: textBuf.String()}, usage, true
	}
	return orkestra.StreamEvent{}, usage, false
}

type functionCallRaw struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// isCompleteJSON reports whether s has balanced braces/brackets outside
// string literals, i.e. is a complete JSON value.
func isCompleteJSON(s string) bool {
	depth := 0
	inString := false
	escape := false
	for _, ch := range s {
		if escape {
			escape = false
			continue
		}
		if ch == '\\' && inString {
			escape = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return depth == 0 && !inString
}
