package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/queue"
)

// Queue is the operations-queue view of a Store.
type Queue struct{ *Store }

var _ queue.Store = (*Queue)(nil)

// GetPendingForEntity returns the single pending operation queued for
// (table, entityID), if any.
func (q *Queue) GetPendingForEntity(ctx context.Context, table, entityID string) (*queue.Operation, error) {
	row := q.conn(ctx).QueryRowContext(ctx, `
		SELECT id, table_name, entity_id, sequence, op_type, item, state, version, last_attempt, server_response
		FROM queue_operations WHERE table_name = ? AND entity_id = ?
	`, table, entityID)

	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("clientstore: read pending operation %s/%s: %w", table, entityID, err)
	}
	return op, nil
}

// Pending returns every Pending operation for table, in sequence order.
func (q *Queue) Pending(ctx context.Context, table string) ([]*queue.Operation, error) {
	rows, err := q.conn(ctx).QueryContext(ctx, `
		SELECT id, table_name, entity_id, sequence, op_type, item, state, version, last_attempt, server_response
		FROM queue_operations WHERE table_name = ? AND state = ? ORDER BY sequence ASC
	`, table, string(queue.StatePending))
	if err != nil {
		return nil, fmt.Errorf("clientstore: list pending operations for %q: %w", table, err)
	}
	defer rows.Close()

	var ops []*queue.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("clientstore: scan pending operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Save inserts or overwrites an operation record.
func (q *Queue) Save(ctx context.Context, op *queue.Operation) error {
	item, err := json.Marshal(op.Item)
	if err != nil {
		return fmt.Errorf("clientstore: encode operation item: %w", err)
	}

	var lastAttempt any
	if !op.LastAttempt.IsZero() {
		lastAttempt = op.LastAttempt.Format(timeLayout)
	}

	_, err = q.conn(ctx).ExecContext(ctx, `
		INSERT INTO queue_operations (id, table_name, entity_id, sequence, op_type, item, state, version, last_attempt, server_response)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			table_name      = excluded.table_name,
			entity_id       = excluded.entity_id,
			sequence        = excluded.sequence,
			op_type         = excluded.op_type,
			item            = excluded.item,
			state           = excluded.state,
			version         = excluded.version,
			last_attempt    = excluded.last_attempt,
			server_response = excluded.server_response
	`, op.ID, op.Table, op.EntityID, op.Sequence, string(op.Type), string(item), string(op.State), op.Version, lastAttempt, op.ServerResponse)
	if err != nil {
		return fmt.Errorf("clientstore: save operation %s: %w", op.ID, err)
	}
	return nil
}

// Delete removes an operation once it has been pushed successfully.
func (q *Queue) Delete(ctx context.Context, id string) error {
	_, err := q.conn(ctx).ExecContext(ctx, `DELETE FROM queue_operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clientstore: delete operation %s: %w", id, err)
	}
	return nil
}

// NextSequence allocates the next monotonic sequence number, shared
// across all tables so cross-table push ordering is still derivable if
// ever needed.
func (q *Queue) NextSequence(ctx context.Context) (int64, error) {
	conn := q.conn(ctx)
	var next int64
	err := conn.QueryRowContext(ctx, `SELECT next FROM queue_sequence WHERE id = 1`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("clientstore: read sequence counter: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `UPDATE queue_sequence SET next = ? WHERE id = 1`, next+1); err != nil {
		return 0, fmt.Errorf("clientstore: advance sequence counter: %w", err)
	}
	return next, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (*queue.Operation, error) {
	var (
		op            queue.Operation
		opType, state string
		item          string
		lastAttempt   sql.NullString
		serverResp    []byte
	)
	if err := row.Scan(&op.ID, &op.Table, &op.EntityID, &op.Sequence, &opType, &item, &state, &op.Version, &lastAttempt, &serverResp); err != nil {
		return nil, err
	}
	op.Type = queue.OpType(opType)
	op.State = queue.State(state)
	op.ServerResponse = serverResp

	rec := &entity.Record{}
	if err := json.Unmarshal([]byte(item), rec); err != nil {
		return nil, fmt.Errorf("decode operation item: %w", err)
	}
	op.Item = rec

	if lastAttempt.Valid && lastAttempt.String != "" {
		t, err := time.Parse(timeLayout, lastAttempt.String)
		if err == nil {
			op.LastAttempt = t
		}
	}
	return &op, nil
}
