// Package persona loads the persona catalog from a TOML file and holds it
// as a process-wide, read-mostly snapshot — the §5 concurrency model's
// "persona snapshot → sync.RWMutex swap" rule made concrete. Grounded on
// internal/config.Load's own defaults → file → env layering idiom (same
// github.com/BurntSushi/toml dependency), generalized from one struct to a
// []orkestra.Persona catalog since the teacher never had more than one.
package persona

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/ashgrove-labs/orkestra"
)

// definition is the TOML wire shape for one persona entry. Field names are
// snake_case to match config.go's convention; ModelOverride's TOML key is
// "model" rather than "model_override" since it is the common case.
type definition struct {
	ID          string   `toml:"id"`
	Name        string   `toml:"name"`
	Role        string   `toml:"role"`
	Tier        string   `toml:"tier"`
	Status      string   `toml:"status"`
	Description string   `toml:"description"`
	Keywords    []string `toml:"keywords"`

	SystemPromptOverride string  `toml:"system_prompt_override"`
	Temperature          *float64 `toml:"temperature"`
	Model                string  `toml:"model"`
	ThinkingLevel        string  `toml:"thinking_level"`

	ModelB  string  `toml:"model_b"`
	ABSplit float64 `toml:"ab_split"`
}

type catalogFile struct {
	Persona []definition `toml:"persona"`
}

func (d definition) toPersona() orkestra.Persona {
	return orkestra.Persona{
		ID:                    d.ID,
		Name:                  d.Name,
		Role:                  d.Role,
		Tier:                  d.Tier,
		Status:                d.Status,
		Description:           d.Description,
		Keywords:              d.Keywords,
		SystemPromptOverride:  d.SystemPromptOverride,
		TemperatureOverride:   d.Temperature,
		ModelOverride:         d.Model,
		ThinkingLevelOverride: orkestra.ThinkingLevel(d.ThinkingLevel),
		ModelB:                d.ModelB,
		ABSplit:               d.ABSplit,
	}
}

// Store holds the currently loaded persona catalog behind a RWMutex so
// Snapshot (read path, every request) never blocks on Reload (write path,
// the watchdog's periodic refresh).
type Store struct {
	path string

	mu   sync.RWMutex
	snap []orkestra.Persona
}

// NewStore builds a Store that reads path on every Reload. The store starts
// empty; call Reload once before serving traffic.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Reload re-reads the persona file from disk and swaps the snapshot
// atomically. A missing file is not an error — it leaves the previous
// snapshot (or the empty initial one) in place, since an operator editing
// personas.toml may briefly leave it absent during a deploy.
func (s *Store) Reload(ctx context.Context) error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("persona: read %s: %w", s.path, err)
	}

	var file catalogFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("persona: parse %s: %w", s.path, err)
	}

	personas := make([]orkestra.Persona, 0, len(file.Persona))
	for _, d := range file.Persona {
		if d.ID == "" {
			continue
		}
		personas = append(personas, d.toPersona())
	}

	s.mu.Lock()
	s.snap = personas
	s.mu.Unlock()
	return nil
}

// Snapshot returns the currently loaded persona catalog. The returned slice
// must not be mutated by the caller.
func (s *Store) Snapshot() []orkestra.Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
