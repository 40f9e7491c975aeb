// Package postgres implements repository.Repository over a pgx
// connection pool, storing each table's rows as JSONB payloads keyed by
// (table name, id). It is a reference adapter: spec.md §4.D scopes only
// the abstract contract, but a concrete implementation is what lets the
// table controller and evaluator run against a real store instead of
// the in-memory test double.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Schema is the DDL for the engine-owned table. One physical table backs
// every entity type; TableName scopes rows the same way a dedicated
// table-per-type schema would, without requiring a migration per new
// synchronizable type.
const Schema = `
CREATE TABLE IF NOT EXISTS datasync_entities (
	table_name  text NOT NULL,
	id          text NOT NULL,
	updated_at  timestamptz NOT NULL,
	version     bytea NOT NULL,
	deleted     boolean NOT NULL DEFAULT false,
	payload     jsonb NOT NULL,
	PRIMARY KEY (table_name, id)
);
CREATE INDEX IF NOT EXISTS datasync_entities_updated_at_idx
	ON datasync_entities (table_name, updated_at);
`

// Repository implements repository.Repository for one table name.
type Repository struct {
	Pool      *pgxpool.Pool
	TableName string
}

var _ repository.Repository = (*Repository)(nil)

// New binds a Repository to one logical table within the shared
// datasync_entities store.
func New(pool *pgxpool.Pool, tableName string) *Repository {
	return &Repository{Pool: pool, TableName: tableName}
}

func (r *Repository) Queryable(ctx context.Context) ([]*entity.Record, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, updated_at, version, deleted, payload
		FROM datasync_entities WHERE table_name = $1`, r.TableName)
	if err != nil {
		return nil, fmt.Errorf("postgres: queryable: %w", err)
	}
	defer rows.Close()

	var out []*entity.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) Create(ctx context.Context, rec *entity.Record) (*entity.Record, error) {
	id := rec.Meta.ID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := readTx(ctx, tx, r.TableName, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, &repository.DuplicateIDError{Current: existing}
	}

	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal payload: %w", err)
	}
	version := uuid.New()
	versionBytes := version[:]

	updatedAt := nowFn()
	_, err = tx.Exec(ctx, `
		INSERT INTO datasync_entities (table_name, id, updated_at, version, deleted, payload)
		VALUES ($1, $2, $3, $4, false, $5)`,
		r.TableName, id, updatedAt, versionBytes, payload)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}

	stored := rec.Clone().(*entity.Record)
	stored.Meta = entity.Metadata{ID: id, UpdatedAt: updatedAt, Version: versionBytes, Deleted: false}
	log.Ctx(ctx).Debug().Str("table", r.TableName).Str("id", id).Msg("entity created")
	return stored, nil
}

func (r *Repository) Read(ctx context.Context, id string) (*entity.Record, error) {
	row := r.Pool.QueryRow(ctx, `
		SELECT id, updated_at, version, deleted, payload
		FROM datasync_entities WHERE table_name = $1 AND id = $2`, r.TableName, id)
	return scanRecordRow(row)
}

func (r *Repository) Replace(ctx context.Context, rec *entity.Record, expectedVersion []byte) (*entity.Record, error) {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := readTx(ctx, tx, r.TableName, rec.Meta.ID)
	if err != nil {
		return nil, err
	}
	if expectedVersion != nil && !entity.VersionsEqual(expectedVersion, existing.Meta.Version) {
		return nil, &repository.PreconditionFailedError{Current: existing}
	}

	updatedAt := nowFn()
	if !updatedAt.After(existing.Meta.UpdatedAt) {
		// A replay landing at the exact same instant as the write already
		// applied is a no-op: mirrors the teacher's
		// WHERE EXCLUDED.updated_at_ms > chat.updated_at_ms upsert guard,
		// so version never changes without updatedAt also changing.
		return existing, nil
	}

	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal payload: %w", err)
	}
	version := uuid.New()
	versionBytes := version[:]

	_, err = tx.Exec(ctx, `
		UPDATE datasync_entities
		SET updated_at = $3, version = $4, payload = $5
		WHERE table_name = $1 AND id = $2`,
		r.TableName, rec.Meta.ID, updatedAt, versionBytes, payload)
	if err != nil {
		return nil, fmt.Errorf("postgres: update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}

	stored := rec.Clone().(*entity.Record)
	stored.Meta = entity.Metadata{ID: rec.Meta.ID, UpdatedAt: updatedAt, Version: versionBytes, Deleted: existing.Meta.Deleted}
	return stored, nil
}

func (r *Repository) Delete(ctx context.Context, id string, expectedVersion []byte) (*entity.Record, error) {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := readTx(ctx, tx, r.TableName, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != nil && !entity.VersionsEqual(expectedVersion, existing.Meta.Version) {
		return nil, &repository.PreconditionFailedError{Current: existing}
	}

	version := uuid.New()
	versionBytes := version[:]
	updatedAt := nowFn()

	_, err = tx.Exec(ctx, `
		UPDATE datasync_entities
		SET updated_at = $3, version = $4, deleted = true
		WHERE table_name = $1 AND id = $2`,
		r.TableName, id, updatedAt, versionBytes)
	if err != nil {
		return nil, fmt.Errorf("postgres: soft delete: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}

	existing.Meta.UpdatedAt = updatedAt
	existing.Meta.Version = versionBytes
	existing.Meta.Deleted = true
	return existing, nil
}

func readTx(ctx context.Context, tx pgx.Tx, tableName, id string) (*entity.Record, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, updated_at, version, deleted, payload
		FROM datasync_entities WHERE table_name = $1 AND id = $2`, tableName, id)
	return scanRecordRow(row)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(rs rowScanner) (*entity.Record, error) {
	return scanRecordRow(rs)
}

func scanRecordRow(rs rowScanner) (*entity.Record, error) {
	var (
		id        string
		updatedAt any
		version   []byte
		deleted   bool
		payload   []byte
	)
	if err := rs.Scan(&id, &updatedAt, &version, &deleted, &payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal payload: %w", err)
	}
	rec := entity.NewRecord(fields)
	rec.Meta.ID = id
	rec.Meta.Version = version
	rec.Meta.Deleted = deleted
	if ts, ok := asTime(updatedAt); ok {
		rec.Meta.UpdatedAt = ts
	}
	return rec, nil
}
