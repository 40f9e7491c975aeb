// Package queue implements the client operations queue of spec.md §4.I:
// a durable, per-entity log of pending mutations, with the collapsing
// rules that keep the queue to at most one pending operation per
// entity. Persistence is abstracted behind Store; internal/clientstore
// provides a sqlite-backed implementation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erauner12/datasync/internal/entity"
	"github.com/google/uuid"
)

// OpType is the kind of mutation an Operation records.
type OpType string

const (
	OpAdd     OpType = "add"
	OpReplace OpType = "replace"
	OpDelete  OpType = "delete"
)

// State is an Operation's place in the push lifecycle (spec.md §4.K).
type State string

const (
	// StatePending operations have not yet been attempted, or were
	// reset to pending by a collapse (see bump).
	StatePending State = "pending"
	// StateAttempted marks an operation the push driver has sent but
	// not yet resolved.
	StateAttempted State = "attempted"
	// StateFailed marks an operation the server rejected with a
	// conflict or error; it stays in the queue for explicit resolution.
	StateFailed State = "failed"
)

// Operation is one queue record (spec.md §3 "Operation").
type Operation struct {
	ID          string
	Table       string
	EntityID    string
	Sequence    int64
	Type        OpType
	Item        *entity.Record
	State       State
	Version     int64
	LastAttempt time.Time
	// ServerResponse holds the server's conflict/error body recorded on
	// a Failed operation (spec.md §4.K step 4/5), for surfacing to the
	// caller without a second round trip.
	ServerResponse []byte
}

// ErrInvalidID is returned when an operation's entity id fails
// entity.ValidateID (spec.md §4.I "Id validation").
var ErrInvalidID = errors.New("queue: invalid id")

// ErrDoubleAdd / ErrDoubleDelete name three of the four "error" cells of
// the collapsing table that do not have a sensible resulting operation:
// ErrDoubleAdd for an Add over an existing Add or Replace, ErrDoubleDelete
// for a Delete over an existing Delete. The fourth cell, a Replace over an
// existing Delete, returns its own unnamed error.
var (
	ErrDoubleAdd    = errors.New("queue: entity already has a pending add")
	ErrDoubleDelete = errors.New("queue: entity already has a pending delete")
)

// QueueConflictError is returned when a collapse hits one of the
// table's "error" cells. It carries both the existing pending operation
// and the one the caller attempted to enqueue, so the caller can
// resolve explicitly (spec.md §4.I "Errors on collapse").
type QueueConflictError struct {
	Existing  *Operation
	Attempted *Operation
	Reason    error
}

func (e *QueueConflictError) Error() string {
	return fmt.Sprintf("queue: conflict enqueuing %s over existing %s for entity %s: %v",
		e.Attempted.Type, e.Existing.Type, e.Existing.EntityID, e.Reason)
}

func (e *QueueConflictError) Unwrap() error { return e.Reason }

// Store is the durable persistence contract the Queue collapses
// operations through. Implementations must make GetPendingForEntity +
// Save/Delete atomic per entity (spec.md §5 "Queue mutation is
// serialized via a transaction on the local store").
type Store interface {
	// GetPendingForEntity returns the one Pending/Failed operation
	// outstanding for (table, entityID), or nil if none.
	GetPendingForEntity(ctx context.Context, table, entityID string) (*Operation, error)
	// Pending returns every Pending operation for table, ordered by
	// Sequence ascending (spec.md §4.K "read all Pending operations
	// ordered by sequence ascending").
	Pending(ctx context.Context, table string) ([]*Operation, error)
	// Save upserts op (insert if op.ID is new, update in place
	// otherwise), preserving op.Sequence.
	Save(ctx context.Context, op *Operation) error
	// Delete removes an operation record entirely (the Add+Delete
	// "remove the Add; no op" collapse).
	Delete(ctx context.Context, id string) error
	// NextSequence returns a fresh, strictly increasing sequence number
	// for a brand-new operation.
	NextSequence(ctx context.Context) (int64, error)
}

// Queue applies the collapsing rules of spec.md §4.I over a Store.
type Queue struct {
	store Store
	// localOnly names entity types excluded from queue capture, push
	// and pull (spec.md §4.I "Non-synchronizable types").
	localOnly map[string]bool
	newOpID   func() string
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithLocalOnlyTypes marks table names whose mutations are never
// captured into the queue.
func WithLocalOnlyTypes(tables ...string) Option {
	return func(q *Queue) {
		for _, t := range tables {
			q.localOnly[t] = true
		}
	}
}

// WithIDGenerator overrides the operation id generator (default
// uuid.NewString), used by tests for deterministic ids.
func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) { q.newOpID = gen }
}

// New builds a Queue over store.
func New(store Store, opts ...Option) *Queue {
	q := &Queue{store: store, localOnly: map[string]bool{}, newOpID: defaultOpID}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// IsLocalOnly reports whether table is excluded from queue capture.
func (q *Queue) IsLocalOnly(table string) bool { return q.localOnly[table] }

// Enqueue records a mutation of opType against item, applying the
// collapsing rules against any existing pending operation for the same
// entity. A nil Operation with a nil error means the table is local-only
// and nothing was recorded.
func (q *Queue) Enqueue(ctx context.Context, table string, opType OpType, item *entity.Record) (*Operation, error) {
	if q.localOnly[table] {
		return nil, nil
	}
	if !entity.ValidateID(item.Meta.ID) {
		return nil, ErrInvalidID
	}

	existing, err := q.store.GetPendingForEntity(ctx, table, item.Meta.ID)
	if err != nil {
		return nil, fmt.Errorf("queue: load existing operation: %w", err)
	}

	if existing == nil {
		seq, err := q.store.NextSequence(ctx)
		if err != nil {
			return nil, fmt.Errorf("queue: allocate sequence: %w", err)
		}
		op := &Operation{
			ID:       q.newOpID(),
			Table:    table,
			EntityID: item.Meta.ID,
			Sequence: seq,
			Type:     opType,
			Item:     item,
			State:    StatePending,
		}
		if err := q.store.Save(ctx, op); err != nil {
			return nil, fmt.Errorf("queue: save operation: %w", err)
		}
		return op, nil
	}

	collapsed, remove, err := collapse(existing, opType, item)
	if err != nil {
		return nil, &QueueConflictError{
			Existing: existing,
			Attempted: &Operation{
				Table: table, EntityID: item.Meta.ID, Type: opType, Item: item,
			},
			Reason: err,
		}
	}
	if remove {
		if err := q.store.Delete(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("queue: delete collapsed operation: %w", err)
		}
		return nil, nil
	}
	if err := q.store.Save(ctx, collapsed); err != nil {
		return nil, fmt.Errorf("queue: save collapsed operation: %w", err)
	}
	return collapsed, nil
}

// collapse applies the table from spec.md §4.I. It returns the
// resulting operation (sharing existing's ID/Sequence/State, per "the
// collapsed operation keeps its original sequence"), or remove=true for
// the Add+Delete "no op" cell, or an error for the four "error" cells.
func collapse(existing *Operation, newType OpType, newItem *entity.Record) (result *Operation, remove bool, err error) {
	switch existing.Type {
	case OpAdd:
		switch newType {
		case OpAdd:
			return nil, false, ErrDoubleAdd
		case OpReplace:
			return bump(existing, OpAdd, newItem), false, nil
		case OpDelete:
			return nil, true, nil
		}
	case OpReplace:
		switch newType {
		case OpAdd:
			return nil, false, ErrDoubleAdd
		case OpReplace:
			return bump(existing, OpReplace, newItem), false, nil
		case OpDelete:
			return bump(existing, OpDelete, newItem), false, nil
		}
	case OpDelete:
		switch newType {
		case OpAdd:
			return bump(existing, OpReplace, newItem), false, nil
		case OpReplace:
			return nil, false, errors.New("queue: cannot replace an entity with a pending delete")
		case OpDelete:
			return nil, false, ErrDoubleDelete
		}
	}
	return nil, false, fmt.Errorf("queue: unknown existing operation type %q", existing.Type)
}

// bump returns a copy of existing retyped/re-itemed for a collapse,
// with its Version counter incremented (spec.md §4.I "On any collapse
// that modifies an existing record, increment its version counter").
// State resets to Pending: a collapse over a Failed operation gives it
// a fresh chance to push.
func bump(existing *Operation, newType OpType, newItem *entity.Record) *Operation {
	next := *existing
	next.Type = newType
	next.Item = newItem
	next.Version = existing.Version + 1
	next.State = StatePending
	next.ServerResponse = nil
	return &next
}

func defaultOpID() string { return uuid.NewString() }
