// Package file provides sandboxed filesystem tools: directory listing,
// whole/partial reads, writes, single-occurrence edits, and file-name search,
// all confined to a workspace root.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashgrove-labs/orkestra"
)

const maxReadChars = 8000

// Tool provides file operations within a sandboxed workspace root.
type Tool struct {
	workspacePath string
}

// New creates a file Tool restricted to workspacePath.
func New(workspacePath string) *Tool {
	return &Tool{workspacePath: workspacePath}
}

func (t *Tool) Definitions() []orkestra.ToolDefinition {
	return []orkestra.ToolDefinition{
		{
			Name:        "list_directory",
			Description: "List files and directories under a workspace path. Returns one entry per line with a file/dir prefix.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory path relative to workspace (empty or '.' for root)"}}}`),
		},
		{
			Name:        "read_file",
			Description: fmt.Sprintf("Read a file from the workspace. Truncated to %d characters if large.", maxReadChars),
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		},
		{
			Name:        "read_file_section",
			Description: "Read a line range from a file (1-indexed, inclusive), for files too large to read whole.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"start_line":{"type":"integer"},"end_line":{"type":"integer"}},"required":["path","start_line","end_line"]}`),
		},
		{
			Name:        "find_file",
			Description: "Find files under the workspace whose name contains a substring.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"}},"required":["pattern"]}`),
		},
		{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories as needed. Overwrites the whole file.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
		},
		{
			Name:        "edit_file",
			Description: "Replace the single occurrence of old_text with new_text inside a file. Fails if old_text appears zero or more than once.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"old_text":{"type":"string"},"new_text":{"type":"string"}},"required":["path","old_text","new_text"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (orkestra.Output, error) {
	var params struct {
		Path      string `json:"path"`
		Content   string `json:"content"`
		OldText   string `json:"old_text"`
		NewText   string `json:"new_text"`
		Pattern   string `json:"pattern"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orkestra.Output{Text: "error: invalid args: " + err.Error()}, nil
	}

	switch name {
	case "list_directory":
		return t.list(params.Path)
	case "read_file":
		return t.read(params.Path)
	case "read_file_section":
		return t.readSection(params.Path, params.StartLine, params.EndLine)
	case "find_file":
		return t.find(params.Pattern)
	case "write_file":
		return t.write(params.Path, params.Content)
	case "edit_file":
		return t.edit(params.Path, params.OldText, params.NewText)
	default:
		return orkestra.Output{Text: "error: unknown file tool: " + name}, nil
	}
}

func (t *Tool) resolvePath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	resolved := filepath.Join(t.workspacePath, path)
	if resolved != t.workspacePath && !strings.HasPrefix(resolved, t.workspacePath+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

func (t *Tool) list(path string) (orkestra.Output, error) {
	resolved, err := t.resolvePath(path)
	if err != nil {
		return orkestra.Output{Text: "error: " + err.Error()}, nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return orkestra.Output{Text: "error: list: " + err.Error()}, nil
	}
	var b strings.Builder
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		fmt.Fprintf(&b, "%s\t%s\n", kind, e.Name())
	}
	return orkestra.Output{Text: b.String()}, nil
}

func (t *Tool) read(path string) (orkestra.Output, error) {
	resolved, err := t.resolvePath(path)
	if err != nil {
		return orkestra.Output{Text: "error: " + err.Error()}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return orkestra.Output{Text: "error: read: " + err.Error()}, nil
	}
	content := string(data)
	if len(content) > maxReadChars {
		content = content[:maxReadChars] + "\n... (truncated)"
	}
	return orkestra.Output{Text: content}, nil
}

func (t *Tool) readSection(path string, start, end int) (orkestra.Output, error) {
	if start < 1 || end < start {
		return orkestra.Output{Text: "error: invalid line range"}, nil
	}
	resolved, err := t.resolvePath(path)
	if err != nil {
		return orkestra.Output{Text: "error: " + err.Error()}, nil
	}
	f, err := os.Open(resolved)
	if err != nil {
		return orkestra.Output{Text: "error: read: " + err.Error()}, nil
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line < start {
			continue
		}
		if line > end {
			break
		}
		fmt.Fprintf(&b, "%d:%s\n", line, scanner.Text())
	}
	return orkestra.Output{Text: b.String()}, nil
}

func (t *Tool) find(pattern string) (orkestra.Output, error) {
	if pattern == "" {
		return orkestra.Output{Text: "error: empty pattern"}, nil
	}
	var matches []string
	err := filepath.WalkDir(t.workspacePath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.Contains(d.Name(), pattern) {
			rel, _ := filepath.Rel(t.workspacePath, p)
			matches = append(matches, rel)
		}
		if len(matches) >= 200 {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return orkestra.Output{Text: "error: find: " + err.Error()}, nil
	}
	return orkestra.Output{Text: strings.Join(matches, "\n")}, nil
}

func (t *Tool) write(path, content string) (orkestra.Output, error) {
	resolved, err := t.resolvePath(path)
	if err != nil {
		return orkestra.Output{Text: "error: " + err.Error()}, nil
	}
	if mkErr := os.MkdirAll(filepath.Dir(resolved), 0o755); mkErr != nil {
		return orkestra.Output{Text: "error: mkdir: " + mkErr.Error()}, nil
	}
	if wErr := os.WriteFile(resolved, []byte(content), 0o644); wErr != nil {
		return orkestra.Output{Text: "error: write: " + wErr.Error()}, nil
	}
	return orkestra.Output{Text: fmt.Sprintf("wrote %d bytes to %s", len(content), filepath.Base(resolved))}, nil
}

func (t *Tool) edit(path, oldText, newText string) (orkestra.Output, error) {
	resolved, err := t.resolvePath(path)
	if err != nil {
		return orkestra.Output{Text: "error: " + err.Error()}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return orkestra.Output{Text: "error: read: " + err.Error()}, nil
	}
	content := string(data)
	count := strings.Count(content, oldText)
	if count == 0 {
		return orkestra.Output{Text: "error: old_text not found"}, nil
	}
	if count > 1 {
		return orkestra.Output{Text: fmt.Sprintf("error: old_text is not unique (%d occurrences)", count)}, nil
	}
	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return orkestra.Output{Text: "error: write: " + err.Error()}, nil
	}
	return orkestra.Output{Text: fmt.Sprintf("edited %s", filepath.Base(resolved))}, nil
}
