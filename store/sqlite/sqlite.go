// Package sqlite implements store.SessionStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashgrove-labs/orkestra/store"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements store.SessionStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.SessionStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			request_id TEXT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT,
			agent TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			success INTEGER NOT NULL,
			tier TEXT,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_usage_agent ON usage(agent_id, created_at)`)

	if err := s.initScheduledActions(ctx); err != nil {
		return err
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// LoadHistory returns up to n most recent turns for sessionID, oldest first.
func (s *Store) LoadHistory(ctx context.Context, sessionID string, n int) ([]store.HistoryTurn, error) {
	start := time.Now()
	s.logger.Debug("sqlite: load history", "session_id", sessionID, "n", n)

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, model, agent FROM messages
		 WHERE session_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		sessionID, n,
	)
	if err != nil {
		s.logger.Error("sqlite: load history failed", "session_id", sessionID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var turns []store.HistoryTurn
	for rows.Next() {
		var t store.HistoryTurn
		var model, agent sql.NullString
		if err := rows.Scan(&t.Role, &t.Content, &model, &agent); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		t.Model, t.Agent = model.String, agent.String
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	s.logger.Debug("sqlite: load history ok", "session_id", sessionID, "count", len(turns), "duration", time.Since(start))
	return turns, nil
}

// SessionAgent returns the persona locked to sessionID, or "" if unset.
func (s *Store) SessionAgent(ctx context.Context, sessionID string) (string, error) {
	var agent sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT agent FROM sessions WHERE id = ?`, sessionID).Scan(&agent)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session agent: %w", err)
	}
	return agent.String, nil
}

// SaveMessage appends one turn to sessionID's history, creating the session
// row (and locking its persona, if agent is non-empty and not already set)
// on first use.
func (s *Store) SaveMessage(ctx context.Context, requestID, sessionID, role, content, model, agent string) error {
	start := time.Now()
	s.logger.Debug("sqlite: save message", "request_id", requestID, "session_id", sessionID, "role", role)

	now := time.Now().Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save message: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, agent, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			agent = CASE WHEN sessions.agent IS NULL OR sessions.agent = '' THEN excluded.agent ELSE sessions.agent END`,
		sessionID, nullIfEmpty(agent), now, now,
	)
	if err != nil {
		return fmt.Errorf("save message: upsert session: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages (id, request_id, session_id, role, content, model, agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		requestID+":"+role, requestID, sessionID, role, content, nullIfEmpty(model), nullIfEmpty(agent), now,
	)
	if err != nil {
		s.logger.Error("sqlite: save message failed", "session_id", sessionID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save message: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save message: commit: %w", err)
	}
	s.logger.Debug("sqlite: save message ok", "session_id", sessionID, "duration", time.Since(start))
	return nil
}

// RecordUsage logs one provider call's cost and outcome.
func (s *Store) RecordUsage(ctx context.Context, agentID, model string, inputTokens, outputTokens int, latencyMS int64, success bool, tier string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage (agent_id, model, input_tokens, output_tokens, latency_ms, success, tier, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		agentID, model, inputTokens, outputTokens, latencyMS, boolToInt(success), tier, time.Now().Unix(),
	)
	if err != nil {
		s.logger.Error("sqlite: record usage failed", "agent_id", agentID, "error", err)
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// DB exposes the shared connection, for callers (e.g. tests, migrations)
// that need direct SQL access.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
