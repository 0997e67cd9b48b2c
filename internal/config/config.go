// Package config loads gateway configuration: defaults, then an optional
// TOML file, then environment variables (env wins), mirroring the teacher's
// own layered Load.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	LLM       LLMConfig       `toml:"llm"`
	Database  DatabaseConfig  `toml:"database"`
	Workspace WorkspaceConfig `toml:"workspace"`
	Persona   PersonaConfig   `toml:"persona"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Observer  ObserverConfig  `toml:"observer"`
}

// ServerConfig configures the WS gateway listener.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LLMConfig holds the single Gemini credential and the three model tiers
// assemble.ResolveModel auto-selects between.
type LLMConfig struct {
	APIKey       string `toml:"api_key"`
	DefaultModel string `toml:"default_model"`
	FlashTier    string `toml:"flash_tier"`
	ThinkingTier string `toml:"thinking_tier"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type WorkspaceConfig struct {
	Path string `toml:"path"`
}

// PersonaConfig points at the persona definition file loaded into the
// process-wide snapshot, plus the fallback id the classifier uses when
// nothing matches.
type PersonaConfig struct {
	ConfigPath string `toml:"config_path"`
	DefaultID  string `toml:"default_id"`
}

// SchedulerConfig is decoded from the [scheduler] table. cmd/gateway reads
// neither field: the scheduled-action runner always starts and polls on a
// fixed interval, and the watchdog runs on its own default intervals.
type SchedulerConfig struct {
	Enabled          bool   `toml:"enabled"`
	WatchdogInterval string `toml:"watchdog_interval"` // cron expression
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with every field set to its production default.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Server: ServerConfig{Addr: ":8090"},
		LLM: LLMConfig{
			DefaultModel: "gemini-2.5-flash",
			FlashTier:    "gemini-2.5-flash-lite",
			ThinkingTier: "gemini-3-pro-preview",
		},
		Database:  DatabaseConfig{Path: "orkestra.db"},
		Workspace: WorkspaceConfig{Path: filepath.Join(home, "orkestra-workspace")},
		Persona:   PersonaConfig{ConfigPath: "personas.toml", DefaultID: "generalist"},
		Scheduler: SchedulerConfig{Enabled: true, WatchdogInterval: "@every 1m"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "orkestra.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("ORKESTRA_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ORKESTRA_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ORKESTRA_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("ORKESTRA_WORKSPACE_PATH"); v != "" {
		cfg.Workspace.Path = v
	}
	if v := os.Getenv("ORKESTRA_PERSONA_CONFIG_PATH"); v != "" {
		cfg.Persona.ConfigPath = v
	}
	if os.Getenv("ORKESTRA_OBSERVER_ENABLED") == "true" || os.Getenv("ORKESTRA_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
