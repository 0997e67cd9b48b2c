package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.LLM.DefaultModel != "gemini-2.5-flash" {
		t.Errorf("expected gemini-2.5-flash, got %s", cfg.LLM.DefaultModel)
	}
	if cfg.Server.Addr != ":8090" {
		t.Errorf("expected :8090, got %s", cfg.Server.Addr)
	}
	if cfg.Persona.DefaultID != "generalist" {
		t.Errorf("expected generalist, got %s", cfg.Persona.DefaultID)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[server]
addr = ":9000"

[persona]
default_id = "eskel"
`), 0644)

	cfg := Load(path)
	if cfg.Server.Addr != ":9000" {
		t.Errorf("expected :9000, got %s", cfg.Server.Addr)
	}
	if cfg.Persona.DefaultID != "eskel" {
		t.Errorf("expected eskel, got %s", cfg.Persona.DefaultID)
	}
	// Defaults preserved for fields the file doesn't set.
	if cfg.LLM.DefaultModel != "gemini-2.5-flash" {
		t.Errorf("default should be preserved, got %s", cfg.LLM.DefaultModel)
	}
}

func TestEnvOverrideWinsOverTOMLAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[llm]
api_key = "toml-key"
`), 0644)

	t.Setenv("ORKESTRA_LLM_API_KEY", "env-key")
	t.Setenv("ORKESTRA_SERVER_ADDR", ":7000")

	cfg := Load(path)
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected env override to win, got %s", cfg.LLM.APIKey)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("expected env override, got %s", cfg.Server.Addr)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg := Load("/nonexistent/path.toml")
	if cfg.Workspace.Path == "" {
		t.Error("expected a default workspace path even with no config file")
	}
	if cfg.Scheduler.WatchdogInterval != "@every 1m" {
		t.Errorf("expected default watchdog interval, got %s", cfg.Scheduler.WatchdogInterval)
	}
}
