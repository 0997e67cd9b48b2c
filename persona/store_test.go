package persona

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeCatalog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "personas.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestReloadParsesPersonaCatalog(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), `
[[persona]]
id = "coder"
name = "Coder"
role = "software engineering"
tier = "flash"
keywords = ["code", "bug", "refactor"]
model = "gemini-2.5-flash"

[[persona]]
id = "researcher"
name = "Researcher"
role = "research"
keywords = ["research", "search"]
thinking_level = "high"
`)

	s := NewStore(path)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	got := s.Snapshot()
	if len(got) != 2 {
		t.Fatalf("len(snapshot) = %d, want 2", len(got))
	}
	if got[0].ID != "coder" || got[0].ModelOverride != "gemini-2.5-flash" {
		t.Fatalf("persona[0] = %+v", got[0])
	}
	if got[1].ID != "researcher" || string(got[1].ThinkingLevelOverride) != "high" {
		t.Fatalf("persona[1] = %+v", got[1])
	}
}

func TestReloadSkipsPersonaWithoutID(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), `
[[persona]]
name = "Nameless"

[[persona]]
id = "valid"
name = "Valid"
`)

	s := NewStore(path)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := s.Snapshot()
	if len(got) != 1 || got[0].ID != "valid" {
		t.Fatalf("snapshot = %+v, want only the valid persona", got)
	}
}

func TestReloadMissingFileLeavesSnapshotUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, `
[[persona]]
id = "coder"
name = "Coder"
`)
	s := NewStore(path)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload after removal should not error: %v", err)
	}

	got := s.Snapshot()
	if len(got) != 1 || got[0].ID != "coder" {
		t.Fatalf("snapshot should be unchanged, got %+v", got)
	}
}

func TestSnapshotEmptyBeforeReload(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.toml"))
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("snapshot before any Reload = %+v, want empty", got)
	}
}
