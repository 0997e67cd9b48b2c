// Package diffutil produces a unified diff between two workspace files.
// No library in the dependency corpus builds unified diffs, so this
// stays on a standard-library line-based implementation by design.
package diffutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashgrove-labs/orkestra"
)

const maxDiffLines = 200

// Tool computes a unified diff between two files within a sandboxed
// workspace.
type Tool struct {
	workspacePath string
}

// New creates a diffutil Tool restricted to workspacePath.
func New(workspacePath string) *Tool {
	return &Tool{workspacePath: workspacePath}
}

func (t *Tool) Definitions() []orkestra.ToolDefinition {
	return []orkestra.ToolDefinition{{
		Name:        "diff_files",
		Description: "Produce a unified diff between two files in the workspace.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path_a":{"type":"string"},"path_b":{"type":"string"}},"required":["path_a","path_b"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (orkestra.Output, error) {
	var params struct {
		PathA string `json:"path_a"`
		PathB string `json:"path_b"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orkestra.Output{Text: "error: invalid args: " + err.Error()}, nil
	}

	a, err := t.readLines(params.PathA)
	if err != nil {
		return orkestra.Output{Text: "error: " + err.Error()}, nil
	}
	b, err := t.readLines(params.PathB)
	if err != nil {
		return orkestra.Output{Text: "error: " + err.Error()}, nil
	}

	if strings.Join(a, "\n") == strings.Join(b, "\n") {
		return orkestra.Output{Text: "no differences"}, nil
	}
	hunks := unifiedDiff(params.PathA, params.PathB, a, b)
	if len(hunks) > maxDiffLines {
		hunks = append(hunks[:maxDiffLines], fmt.Sprintf("... (%d more lines truncated)", len(hunks)-maxDiffLines))
	}
	return orkestra.Output{Text: strings.Join(hunks, "\n")}, nil
}

func (t *Tool) readLines(path string) ([]string, error) {
	if strings.Contains(path, "..") || filepath.IsAbs(path) {
		return nil, fmt.Errorf("invalid path: %s", path)
	}
	resolved := filepath.Join(t.workspacePath, path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return strings.Split(string(data), "\n"), nil
}

// unifiedDiff computes a minimal-ish line-based diff using longest
// common subsequence, then renders it with +/-/space prefixes.
func unifiedDiff(nameA, nameB string, a, b []string) []string {
	lcs := longestCommonSubsequence(a, b)

	var out []string
	out = append(out, fmt.Sprintf("--- %s", nameA), fmt.Sprintf("+++ %s", nameB))

	i, j, k := 0, 0, 0
	for i < len(a) || j < len(b) {
		if k < len(lcs) && i < len(a) && j < len(b) && a[i] == lcs[k] && b[j] == lcs[k] {
			out = append(out, "  "+a[i])
			i++
			j++
			k++
			continue
		}
		if i < len(a) && (k >= len(lcs) || a[i] != lcs[k]) {
			out = append(out, "- "+a[i])
			i++
			continue
		}
		if j < len(b) && (k >= len(lcs) || b[j] != lcs[k]) {
			out = append(out, "+ "+b[j])
			j++
			continue
		}
	}
	return out
}

func longestCommonSubsequence(a, b []string) []string {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}
	var lcs []string
	i, j := 0, 0
	for i < n && j < m {
		if a[i] == b[j] {
			lcs = append(lcs, a[i])
			i++
			j++
		} else if dp[i+1][j] >= dp[i][j+1] {
			i++
		} else {
			j++
		}
	}
	return lcs
}
