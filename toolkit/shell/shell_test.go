package shell

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func execute(t *testing.T, tool *Tool, args map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	out, err := tool.Execute(context.Background(), "execute_command", raw)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return out.Text
}

func TestExecuteCommandReturnsStdout(t *testing.T) {
	tool := New(t.TempDir(), 5)
	out := execute(t, tool, map[string]any{"command": "echo hi"})
	if !strings.Contains(out, "hi") {
		t.Errorf("expected stdout to contain hi, got %q", out)
	}
}

func TestExecuteCommandRunsInWorkspace(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir, 5)
	out := execute(t, tool, map[string]any{"command": "pwd"})
	if !strings.Contains(out, dir) {
		t.Errorf("expected pwd to report workspace dir %q, got %q", dir, out)
	}
}

func TestExecuteCommandBlocklist(t *testing.T) {
	tool := New(t.TempDir(), 5)
	out := execute(t, tool, map[string]any{"command": "sudo rm -rf /"})
	if !strings.Contains(out, "blocked") {
		t.Errorf("expected blocked command, got %q", out)
	}
}

func TestExecuteCommandTimeout(t *testing.T) {
	tool := New(t.TempDir(), 1)
	out := execute(t, tool, map[string]any{"command": "sleep 5"})
	if !strings.Contains(out, "timed out") {
		t.Errorf("expected timeout error, got %q", out)
	}
}

func TestExecuteCommandMissingCommand(t *testing.T) {
	tool := New(t.TempDir(), 5)
	out := execute(t, tool, map[string]any{"command": ""})
	if !strings.Contains(out, "required") {
		t.Errorf("expected missing-command error, got %q", out)
	}
}

func TestExecuteCommandNonZeroExit(t *testing.T) {
	tool := New(t.TempDir(), 5)
	out := execute(t, tool, map[string]any{"command": "exit 1"})
	if !strings.Contains(out, "exit") {
		t.Errorf("expected exit error, got %q", out)
	}
}
