package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, tool *Tool, name string, args map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	out, err := tool.Execute(context.Background(), name, raw)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return out.Text
}

func TestWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	execute(t, tool, "write_file", map[string]any{"path": "test.txt", "content": "hello"})

	data, err := os.ReadFile(filepath.Join(dir, "test.txt"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("wrong content: %s", data)
	}

	text := execute(t, tool, "read_file", map[string]any{"path": "test.txt"})
	if text != "hello" {
		t.Errorf("read_file returned %q", text)
	}
}

func TestWriteCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	execute(t, tool, "write_file", map[string]any{"path": "sub/dir/file.txt", "content": "nested"})

	data, err := os.ReadFile(filepath.Join(dir, "sub/dir/file.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "nested" {
		t.Errorf("wrong content: %s", data)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	tool := New(t.TempDir())
	out := execute(t, tool, "read_file", map[string]any{"path": "../etc/passwd"})
	if !strings.HasPrefix(out, "error:") {
		t.Errorf("expected traversal error, got %q", out)
	}
}

func TestAbsolutePathRejected(t *testing.T) {
	tool := New(t.TempDir())
	out := execute(t, tool, "read_file", map[string]any{"path": "/etc/passwd"})
	if !strings.HasPrefix(out, "error:") {
		t.Errorf("expected absolute-path error, got %q", out)
	}
}

func TestSiblingDirectoryNotFooledByPrefix(t *testing.T) {
	parent := t.TempDir()
	workspace := filepath.Join(parent, "workspace")
	sibling := filepath.Join(parent, "workspace-evil")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(sibling, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sibling, "secret.txt"), []byte("leak"), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := New(workspace)
	out := execute(t, tool, "read_file", map[string]any{"path": "../workspace-evil/secret.txt"})
	if !strings.HasPrefix(out, "error:") {
		t.Errorf("expected sibling-directory escape to be rejected, got %q", out)
	}
}

func TestReadTruncatesLargeFiles(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("A", maxReadChars+500)
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := New(dir)
	out := execute(t, tool, "read_file", map[string]any{"path": "big.txt"})
	if !strings.HasSuffix(out, "... (truncated)") {
		t.Errorf("expected truncation marker, got suffix %q", out[max(0, len(out)-30):])
	}
}

func TestReadFileSection(t *testing.T) {
	dir := t.TempDir()
	content := "line1\nline2\nline3\nline4\n"
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := New(dir)
	out := execute(t, tool, "read_file_section", map[string]any{"path": "f.txt", "start_line": 2, "end_line": 3})
	if !strings.Contains(out, "2:line2") || !strings.Contains(out, "3:line3") {
		t.Errorf("section missing expected lines: %q", out)
	}
	if strings.Contains(out, "line1") || strings.Contains(out, "line4") {
		t.Errorf("section included out-of-range lines: %q", out)
	}
}

func TestFindFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "needle.go"), []byte(""), 0o644)
	os.WriteFile(filepath.Join(dir, "other.go"), []byte(""), 0o644)
	tool := New(dir)
	out := execute(t, tool, "find_file", map[string]any{"pattern": "needle"})
	if !strings.Contains(out, "needle.go") {
		t.Errorf("expected match, got %q", out)
	}
	if strings.Contains(out, "other.go") {
		t.Errorf("unexpected match, got %q", out)
	}
}

func TestEditFileRequiresUniqueOccurrence(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("foo foo"), 0o644)
	tool := New(dir)
	out := execute(t, tool, "edit_file", map[string]any{"path": "f.txt", "old_text": "foo", "new_text": "bar"})
	if !strings.Contains(out, "not unique") {
		t.Errorf("expected not-unique error, got %q", out)
	}
}

func TestEditFileReplacesSingleOccurrence(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("foo bar baz"), 0o644)
	tool := New(dir)
	execute(t, tool, "edit_file", map[string]any{"path": "f.txt", "old_text": "bar", "new_text": "QUX"})

	data, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	if string(data) != "foo QUX baz" {
		t.Errorf("wrong content after edit: %s", data)
	}
}

func TestListDirectory(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte(""), 0o644)
	os.MkdirAll(filepath.Join(dir, "sub"), 0o755)
	tool := New(dir)
	out := execute(t, tool, "list_directory", map[string]any{"path": "."})
	if !strings.Contains(out, "file\ta.txt") || !strings.Contains(out, "dir\tsub") {
		t.Errorf("unexpected listing: %q", out)
	}
}
