// Package pdf extracts text from PDF files in the workspace.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	gopdf "github.com/ledongthuc/pdf"

	"github.com/ashgrove-labs/orkestra"
)

const maxPages = 50
const maxChars = 12000

// Tool extracts text from PDF files within a sandboxed workspace.
type Tool struct {
	workspacePath string
}

// New creates a PDF Tool restricted to workspacePath.
func New(workspacePath string) *Tool {
	return &Tool{workspacePath: workspacePath}
}

func (t *Tool) Definitions() []orkestra.ToolDefinition {
	return []orkestra.ToolDefinition{{
		Name:        "read_pdf",
		Description: fmt.Sprintf("Extract text from a PDF file in the workspace, up to %d pages.", maxPages),
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (orkestra.Output, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orkestra.Output{Text: "error: invalid args: " + err.Error()}, nil
	}
	if strings.Contains(params.Path, "..") || filepath.IsAbs(params.Path) {
		return orkestra.Output{Text: "error: invalid path"}, nil
	}
	resolved := filepath.Join(t.workspacePath, params.Path)

	f, r, err := gopdf.Open(resolved)
	if err != nil {
		return orkestra.Output{Text: "error: open pdf: " + err.Error()}, nil
	}
	defer f.Close()

	var b strings.Builder
	n := r.NumPage()
	if n > maxPages {
		n = maxPages
	}
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			var line bytes.Buffer
			for _, word := range row.Content {
				line.WriteString(word.S)
			}
			b.WriteString(line.String())
			b.WriteByte('\n')
		}
	}

	content := b.String()
	if len(content) > maxChars {
		content = content[:maxChars] + "\n... (truncated)"
	}
	return orkestra.Output{Text: content}, nil
}
