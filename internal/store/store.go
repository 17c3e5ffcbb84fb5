// Package store is the durable, transactional state store backing the
// task lifecycle, messages, drafts, corrections and skill state. It is
// a thin layer over SQLite: WAL journal mode, foreign keys enforced,
// busy-timeout retry with jittered backoff, and a checksum-gated
// schema_migrations ledger.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 4
	schemaChecksum = "coreclaw-v4-prompt-confidence-enum"
)

// Store wraps a SQLite connection configured for single-writer,
// durable, WAL-mode access.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the store location used when CORECLAW_STORE_PATH
// is not set: $CORECLAW_HOME/state.db, or ~/.coreclaw/state.db when
// CORECLAW_HOME is also unset.
func DefaultPath() string {
	if p := os.Getenv("CORECLAW_STORE_PATH"); p != "" {
		return p
	}
	home := os.Getenv("CORECLAW_HOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil && h != "" {
			home = filepath.Join(h, ".coreclaw")
		} else {
			home = "."
		}
	}
	return filepath.Join(home, "state.db")
}

// Open opens (creating if necessary) the SQLite-backed store at path
// and runs any pending schema migrations. Passing "" resolves path via
// DefaultPath, honoring CORECLAW_STORE_PATH.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	ctx := context.Background()
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying connection for packages that need raw
// access (e.g. the doctor's connectivity check).
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported %d", maxVersion, schemaVersion)
	}
	if maxVersion == schemaVersion {
		var checksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersion).Scan(&checksum); err != nil {
			return fmt.Errorf("read schema checksum: %w", err)
		}
		if checksum != schemaChecksum {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersion, checksum, schemaChecksum)
		}
		return tx.Commit()
	}

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema migration: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);
	`, schemaVersion, schemaChecksum); err != nil {
		return fmt.Errorf("record schema migration: %w", err)
	}
	return tx.Commit()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		external_ref TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		channel TEXT NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT,
		subject TEXT,
		body TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT 'inbound' CHECK(direction IN ('inbound','outbound')),
		status TEXT NOT NULL DEFAULT 'new' CHECK(status IN ('new','processing','handled','failed')),
		category TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		agent_type TEXT,
		triage_reason TEXT,
		external_id TEXT,
		task_id TEXT REFERENCES tasks(id),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		message_id TEXT REFERENCES messages(id),
		parent_task_id TEXT REFERENCES tasks(id),
		type TEXT NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('QUEUED','RUNNING','SUCCEEDED','FAILED','RETRY_WAIT','CANCELED')),
		priority INTEGER NOT NULL DEFAULT 0,
		attempt INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		available_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		payload TEXT NOT NULL DEFAULT '{}',
		result TEXT,
		error TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS task_events (
		event_id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL REFERENCES tasks(id),
		event_type TEXT NOT NULL,
		state_from TEXT,
		state_to TEXT NOT NULL,
		trace_id TEXT,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS agent_outputs (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id),
		status TEXT NOT NULL,
		body TEXT,
		error TEXT,
		raw_frame TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id),
		message_id TEXT REFERENCES messages(id),
		agent_type TEXT NOT NULL,
		subject TEXT,
		recipients TEXT,
		cc TEXT,
		priority TEXT NOT NULL DEFAULT 'normal',
		body TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending_review' CHECK(status IN ('pending_review','approved','rejected','sent','edited_and_sent','auto_approved')),
		edited_body TEXT,
		edit_ratio REAL,
		decision TEXT,
		reviewed_by TEXT,
		conductor_notes TEXT,
		quality_score INTEGER,
		quality_notes TEXT,
		auto_approve_match TEXT,
		external_draft_id TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		reviewed_at DATETIME,
		sent_at DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS corrections (
		id TEXT PRIMARY KEY,
		draft_id TEXT NOT NULL REFERENCES drafts(id),
		agent_type TEXT NOT NULL,
		original_body TEXT NOT NULL,
		corrected_body TEXT NOT NULL,
		classification TEXT NOT NULL,
		edit_ratio REAL NOT NULL,
		feedback TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS prompt_versions (
		id TEXT PRIMARY KEY,
		agent_type TEXT NOT NULL,
		version INTEGER NOT NULL,
		body TEXT NOT NULL,
		confidence TEXT NOT NULL DEFAULT 'medium' CHECK(confidence IN ('high','medium')),
		active INTEGER NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		positive_rating INTEGER NOT NULL DEFAULT 0,
		negative_rating INTEGER NOT NULL DEFAULT 0,
		correction_rate INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(agent_type, version)
	);`,
	`CREATE TABLE IF NOT EXISTS applied_skills (
		name TEXT PRIMARY KEY,
		version TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		backup_path TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		event_id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT,
		subject TEXT,
		action TEXT NOT NULL,
		decision TEXT NOT NULL,
		reason TEXT,
		policy_version TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_available ON tasks(status, available_at, priority);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_drafts_status ON drafts(status, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_corrections_agent_type ON corrections(agent_type, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id, event_id);`,
}

// retryOnBusy retries f while SQLite reports BUSY/LOCKED, using
// exponential backoff with jitter on top of the driver's own
// busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}
