// Package vision exposes image-understanding tools (analyze_image,
// ocr_document) that hand workspace image files to the provider's
// multimodal inlineData path — the same wire shape gemini.go already
// uses to parse inlineData out of a response, used here in the request
// direction instead.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashgrove-labs/orkestra"
)

const maxImageBytes = 8 << 20 // 8MB, Gemini inline-data limit with headroom

// Analyzer performs one-shot multimodal analysis outside the
// conversational turn history: the engine's Part sum type has no image
// part, so vision tools call the provider directly through this narrow
// contract rather than widening Part.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, prompt, mimeType string, data []byte) (string, error)
}

// Tool answers questions about, and extracts text from, image files in
// the workspace.
type Tool struct {
	workspacePath string
	analyzer      Analyzer
}

// New creates a vision Tool restricted to workspacePath, backed by analyzer.
func New(workspacePath string, analyzer Analyzer) *Tool {
	return &Tool{workspacePath: workspacePath, analyzer: analyzer}
}

func (t *Tool) Definitions() []orkestra.ToolDefinition {
	return []orkestra.ToolDefinition{
		{
			Name:        "analyze_image",
			Description: "Answer a question about an image file in the workspace (charts, screenshots, photos).",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"question":{"type":"string"}},"required":["path","question"]}`),
		},
		{
			Name:        "ocr_document",
			Description: "Extract the visible text from an image of a document or page.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (orkestra.Output, error) {
	var params struct {
		Path     string `json:"path"`
		Question string `json:"question"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orkestra.Output{Text: "error: invalid args: " + err.Error()}, nil
	}
	if strings.Contains(params.Path, "..") || filepath.IsAbs(params.Path) {
		return orkestra.Output{Text: "error: invalid path"}, nil
	}
	resolved := filepath.Join(t.workspacePath, params.Path)

	info, err := os.Stat(resolved)
	if err != nil {
		return orkestra.Output{Text: "error: stat: " + err.Error()}, nil
	}
	if info.Size() > maxImageBytes {
		return orkestra.Output{Text: fmt.Sprintf("error: image exceeds %d byte limit", maxImageBytes)}, nil
	}

	mimeType := mime.TypeByExtension(filepath.Ext(resolved))
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return orkestra.Output{Text: "error: read: " + err.Error()}, nil
	}

	var prompt string
	switch name {
	case "analyze_image":
		prompt = params.Question
		if prompt == "" {
			prompt = "Describe this image in detail."
		}
	case "ocr_document":
		prompt = "Transcribe all visible text in this image exactly, preserving line breaks. Output only the transcribed text."
	default:
		return orkestra.Output{Text: "error: unknown vision tool: " + name}, nil
	}

	text, err := t.analyzer.AnalyzeImage(ctx, prompt, mimeType, data)
	if err != nil {
		return orkestra.Output{Text: "error: analyze: " + err.Error()}, nil
	}
	return orkestra.Output{
		Text:       text,
		InlineData: &orkestra.InlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)},
	}, nil
}
