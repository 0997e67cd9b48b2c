package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashgrove-labs/orkestra/scheduler"
)

var _ scheduler.Store = (*Store)(nil)

// initScheduledActions creates the scheduled_actions table. Called from
// Init alongside the session/message/usage tables.
func (s *Store) initScheduledActions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS scheduled_actions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		persona_id TEXT,
		model TEXT,
		description TEXT NOT NULL,
		schedule TEXT NOT NULL,
		tool_calls TEXT NOT NULL,
		synthesis_prompt TEXT,
		next_run INTEGER NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1
	)`)
	if err != nil {
		return fmt.Errorf("create scheduled_actions table: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_scheduled_due ON scheduled_actions(enabled, next_run)`)
	return nil
}

// DueActions returns every enabled action whose next_run has passed.
func (s *Store) DueActions(ctx context.Context, nowUnix int64) ([]scheduler.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, persona_id, model, description, schedule, tool_calls, synthesis_prompt, next_run, enabled
		 FROM scheduled_actions WHERE enabled = 1 AND next_run <= ?`,
		nowUnix,
	)
	if err != nil {
		return nil, fmt.Errorf("due actions: %w", err)
	}
	defer rows.Close()

	var actions []scheduler.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// UpdateAction persists action's mutable fields (used to advance NextRun
// after a recurring action fires).
func (s *Store) UpdateAction(ctx context.Context, action scheduler.Action) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_actions SET next_run = ?, enabled = ? WHERE id = ?`,
		action.NextRun, boolToInt(action.Enabled), action.ID,
	)
	if err != nil {
		return fmt.Errorf("update scheduled action: %w", err)
	}
	return nil
}

// SetActionEnabled toggles an action without touching its other fields,
// used to retire a one-shot action once it has fired.
func (s *Store) SetActionEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_actions SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("set scheduled action enabled: %w", err)
	}
	return nil
}

// CreateAction inserts a new scheduled action, for callers (a tool, an API
// handler) registering one.
func (s *Store) CreateAction(ctx context.Context, action scheduler.Action) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_actions (id, session_id, persona_id, model, description, schedule, tool_calls, synthesis_prompt, next_run, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.SessionID, nullIfEmpty(action.PersonaID), nullIfEmpty(action.Model),
		action.Description, action.Schedule, action.ToolCalls, nullIfEmpty(action.SynthesisPrompt),
		action.NextRun, boolToInt(action.Enabled),
	)
	if err != nil {
		return fmt.Errorf("create scheduled action: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAction(row scannable) (scheduler.Action, error) {
	var a scheduler.Action
	var persona, model, synthesis sql.NullString
	var enabled int
	if err := row.Scan(&a.ID, &a.SessionID, &persona, &model, &a.Description, &a.Schedule, &a.ToolCalls, &synthesis, &a.NextRun, &enabled); err != nil {
		return scheduler.Action{}, fmt.Errorf("scan scheduled action: %w", err)
	}
	a.PersonaID, a.Model, a.SynthesisPrompt = persona.String, model.String, synthesis.String
	a.Enabled = enabled != 0
	return a, nil
}
