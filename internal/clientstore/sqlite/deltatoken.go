package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/erauner12/datasync/internal/deltatoken"
)

// Tokens is the delta-token view of a Store. WithTx is promoted from
// the embedded *Store, so a Tokens value already satisfies
// deltatoken.Store's transactional requirement without redeclaring it.
type Tokens struct{ *Store }

var _ deltatoken.Store = (*Tokens)(nil)

// Get returns the stored watermark for id, or ok=false if none exists
// yet (a fresh pull then runs with no lower bound).
func (t *Tokens) Get(ctx context.Context, id string) (int64, bool, error) {
	var value int64
	err := t.conn(ctx).QueryRowContext(ctx, `SELECT value FROM delta_tokens WHERE id = ?`, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("clientstore: read delta token %q: %w", id, err)
	}
	return value, true, nil
}

// Set overwrites the stored watermark for id.
func (t *Tokens) Set(ctx context.Context, id string, value int64) error {
	_, err := t.conn(ctx).ExecContext(ctx, `
		INSERT INTO delta_tokens (id, value) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET value = excluded.value
	`, id, value)
	if err != nil {
		return fmt.Errorf("clientstore: save delta token %q: %w", id, err)
	}
	return nil
}

// Remove deletes the stored watermark for id, forcing the next pull to
// start from scratch.
func (t *Tokens) Remove(ctx context.Context, id string) error {
	_, err := t.conn(ctx).ExecContext(ctx, `DELETE FROM delta_tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clientstore: remove delta token %q: %w", id, err)
	}
	return nil
}
