package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erauner12/datasync/internal/entity"
)

// Entities is the entity-mirror view of a Store: the local row cache
// internal/push and internal/pull read and write. It is a distinct type
// from Queue and Tokens (rather than all three living on *Store
// directly) because their contracts each need a method named Delete
// with a different signature.
type Entities struct{ *Store }

// Get returns the locally mirrored row for (table, id), satisfying
// internal/pull.LocalStore.
func (e *Entities) Get(ctx context.Context, table, id string) (*entity.Record, bool, error) {
	var data string
	err := e.conn(ctx).QueryRowContext(ctx,
		`SELECT data FROM local_entities WHERE table_name = ? AND id = ?`, table, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("clientstore: read local row %s/%s: %w", table, id, err)
	}

	rec := &entity.Record{}
	if err := json.Unmarshal([]byte(data), rec); err != nil {
		return nil, false, fmt.Errorf("clientstore: decode local row %s/%s: %w", table, id, err)
	}
	return rec, true, nil
}

// Upsert inserts or overwrites the local row for (table, rec.Meta.ID),
// satisfying internal/pull.LocalStore.
func (e *Entities) Upsert(ctx context.Context, table string, rec *entity.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("clientstore: encode local row %s/%s: %w", table, rec.Meta.ID, err)
	}
	deleted := 0
	if rec.Meta.Deleted {
		deleted = 1
	}
	_, err = e.conn(ctx).ExecContext(ctx, `
		INSERT INTO local_entities (table_name, id, updated_at, deleted, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (table_name, id) DO UPDATE SET
			updated_at = excluded.updated_at,
			deleted    = excluded.deleted,
			data       = excluded.data
	`, table, rec.Meta.ID, rec.Meta.UpdatedAt.Format(timeLayout), deleted, string(data))
	if err != nil {
		return fmt.Errorf("clientstore: write local row %s/%s: %w", table, rec.Meta.ID, err)
	}
	return nil
}

// Delete removes the local row for (table, id), satisfying
// internal/pull.LocalStore.
func (e *Entities) Delete(ctx context.Context, table, id string) error {
	_, err := e.conn(ctx).ExecContext(ctx,
		`DELETE FROM local_entities WHERE table_name = ? AND id = ?`, table, id)
	if err != nil {
		return fmt.Errorf("clientstore: delete local row %s/%s: %w", table, id, err)
	}
	return nil
}

// ApplyRemote writes the server's returned entity into the local
// mirror after a successful push Add/Replace, satisfying
// internal/push.LocalStore. It is Upsert under the name the push
// driver's contract uses.
func (e *Entities) ApplyRemote(ctx context.Context, table string, rec *entity.Record) error {
	return e.Upsert(ctx, table, rec)
}

// RemoveLocal deletes the local row after a successful push Delete,
// satisfying internal/push.LocalStore.
func (e *Entities) RemoveLocal(ctx context.Context, table, id string) error {
	return e.Delete(ctx, table, id)
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
