// Package shell executes shell commands in a sandboxed workspace directory
// with a command blocklist and a hard timeout ceiling.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ashgrove-labs/orkestra"
)

var blockedSubstrings = []string{"rm -rf /", "sudo ", "mkfs", "> /dev/", "dd if="}

// Tool executes shell commands rooted at a workspace directory.
type Tool struct {
	workspacePath  string
	defaultTimeout int // seconds
}

// New creates a shell Tool. Commands run in workspacePath with the given
// default timeout (seconds); 0 defaults to 30.
func New(workspacePath string, defaultTimeout int) *Tool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30
	}
	return &Tool{workspacePath: workspacePath, defaultTimeout: defaultTimeout}
}

func (t *Tool) Definitions() []orkestra.ToolDefinition {
	return []orkestra.ToolDefinition{{
		Name:        "execute_command",
		Description: "Execute a shell command in the workspace directory. Returns combined stdout+stderr.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"},"timeout":{"type":"integer","description":"Timeout in seconds (default 30, max 300)"}},"required":["command"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (orkestra.Output, error) {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orkestra.Output{Text: "error: invalid args: " + err.Error()}, nil
	}
	if params.Command == "" {
		return orkestra.Output{Text: "error: command is required"}, nil
	}

	lower := strings.ToLower(params.Command)
	for _, b := range blockedSubstrings {
		if strings.Contains(lower, b) {
			return orkestra.Output{Text: "error: command blocked for safety: " + b}, nil
		}
	}

	timeout := t.defaultTimeout
	if params.Timeout > 0 {
		timeout = params.Timeout
	}
	if timeout > 300 {
		timeout = 300
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = t.workspacePath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var output string
	if stdout.Len() > 0 {
		output = stdout.String()
	}
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if len(output) > 4000 {
		output = output[:4000] + "\n... (truncated)"
	}

	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return orkestra.Output{Text: fmt.Sprintf("%s\nerror: command timed out after %ds", output, timeout)}, nil
		}
		if output == "" {
			output = err.Error()
		}
		return orkestra.Output{Text: fmt.Sprintf("%s\nerror: exit: %v", output, err)}, nil
	}

	if output == "" {
		output = "(no output)"
	}
	return orkestra.Output{Text: output}, nil
}
