// Package search grep-searches file contents under the workspace root,
// following the registration shape of the teacher's web search tool but
// replacing its Brave-backed implementation with a local regex search
// (falling back to literal substring matching when the pattern does not
// compile as a regular expression).
package search

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ashgrove-labs/orkestra"
)

const maxMatches = 200

// Tool searches file contents within a sandboxed workspace root.
type Tool struct {
	workspacePath string
}

// New creates a search Tool restricted to workspacePath.
func New(workspacePath string) *Tool {
	return &Tool{workspacePath: workspacePath}
}

func (t *Tool) Definitions() []orkestra.ToolDefinition {
	return []orkestra.ToolDefinition{{
		Name:        "search_files",
		Description: "Search file contents under the workspace for a pattern (regular expression, falling back to a literal substring match if the pattern doesn't compile). Returns matching lines as path:line:text.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"},"path":{"type":"string","description":"Subdirectory to restrict the search to (optional)"}},"required":["pattern"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (orkestra.Output, error) {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orkestra.Output{Text: "error: invalid args: " + err.Error()}, nil
	}
	if params.Pattern == "" {
		return orkestra.Output{Text: "error: empty pattern"}, nil
	}

	root := t.workspacePath
	if params.Path != "" {
		if strings.Contains(params.Path, "..") || filepath.IsAbs(params.Path) {
			return orkestra.Output{Text: "error: invalid path"}, nil
		}
		root = filepath.Join(t.workspacePath, params.Path)
	}

	re, reErr := regexp.Compile(params.Pattern)

	var matches []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || len(matches) >= maxMatches {
			return nil
		}
		if d.IsDir() || d.Name() == ".git" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		f, openErr := os.Open(p)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		rel, _ := filepath.Rel(t.workspacePath, p)
		for scanner.Scan() && len(matches) < maxMatches {
			line++
			text := scanner.Text()
			matched := false
			if reErr == nil {
				matched = re.MatchString(text)
			} else {
				matched = strings.Contains(text, params.Pattern)
			}
			if matched {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, line, strings.TrimSpace(text)))
			}
		}
		return nil
	})
	if err != nil {
		return orkestra.Output{Text: "error: search: " + err.Error()}, nil
	}
	if len(matches) == 0 {
		return orkestra.Output{Text: "no matches found"}, nil
	}
	return orkestra.Output{Text: strings.Join(matches, "\n")}, nil
}
