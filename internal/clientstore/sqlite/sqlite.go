// Package sqlite is the client-side local store backing spec.md's
// offline engine: one modernc.org/sqlite database holding the entity
// mirror, the operations queue (§4.I), and the delta-token store
// (§4.J), so a queue-drain-and-token-advance can commit as a single SQL
// transaction the way internal/pull's Driver expects of
// deltatoken.Store.WithTx.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the client's local sqlite database. Its Queue, Tokens and
// Entities views implement internal/queue.Store, internal/deltatoken.Store,
// and the LocalStore contracts internal/push and internal/pull require,
// so one *Store value is the whole local side of the offline engine.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and
// brings its schema up to date. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("clientstore: create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("clientstore: open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("clientstore: enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("clientstore: set busy_timeout: %w", err)
	}
	db.Exec(`PRAGMA foreign_keys=ON`)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Entities returns the entity-mirror view of the store, satisfying
// internal/push.LocalStore and internal/pull.LocalStore.
func (s *Store) Entities() *Entities { return &Entities{s} }

// Queue returns the operations-queue view of the store, satisfying
// internal/queue.Store.
func (s *Store) Queue() *Queue { return &Queue{s} }

// Tokens returns the delta-token view of the store, satisfying
// internal/deltatoken.Store.
func (s *Store) Tokens() *Tokens { return &Tokens{s} }

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_info (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS local_entities (
	table_name TEXT NOT NULL,
	id         TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0,
	data       TEXT NOT NULL,
	PRIMARY KEY (table_name, id)
);

CREATE TABLE IF NOT EXISTS queue_operations (
	id              TEXT PRIMARY KEY,
	table_name      TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	sequence        INTEGER NOT NULL,
	op_type         TEXT NOT NULL,
	item            TEXT NOT NULL,
	state           TEXT NOT NULL,
	version         INTEGER NOT NULL,
	last_attempt    TEXT,
	server_response BLOB
);
CREATE INDEX IF NOT EXISTS idx_queue_table_entity ON queue_operations(table_name, entity_id);
CREATE INDEX IF NOT EXISTS idx_queue_table_sequence ON queue_operations(table_name, sequence);

CREATE TABLE IF NOT EXISTS queue_sequence (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	next INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS delta_tokens (
	id    TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("clientstore: create schema: %w", err)
	}
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO queue_sequence (id, next) VALUES (1, 1)`); err != nil {
		return fmt.Errorf("clientstore: seed sequence counter: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", schemaVersion),
	); err != nil {
		return fmt.Errorf("clientstore: record schema version: %w", err)
	}
	return nil
}

// txKey is the context key under which an in-flight *sql.Tx is stashed
// by WithTx, the same empty-struct context-key idiom as the pack's
// store context keys (hyperengineering-engram); internal/table's
// correlation/session ids use a string-based key type instead.
type txKey struct{}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithTx runs fn with a context carrying a single *sql.Tx; every Store
// method called with that context (queue, delta-token, or local-entity
// writes) participates in the same transaction, committing only if fn
// returns nil. This is what lets internal/pull apply a page of entity
// writes and advance the delta token atomically.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx) // already inside a transaction; nest by reuse
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clientstore: begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clientstore: commit transaction: %w", err)
	}
	return nil
}
