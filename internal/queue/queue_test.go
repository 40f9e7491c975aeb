package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/erauner12/datasync/internal/entity"
)

func rec(id string, fields map[string]any) *entity.Record {
	r := entity.NewRecord(fields)
	r.Meta.ID = id
	return r
}

func TestEnqueueFirstOperationPerCell(t *testing.T) {
	cases := []OpType{OpAdd, OpReplace, OpDelete}
	for _, opType := range cases {
		q := New(NewMemStore())
		op, err := q.Enqueue(context.Background(), "widgets", opType, rec("w1", nil))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", opType, err)
		}
		if op.Type != opType || op.Sequence != 1 || op.State != StatePending {
			t.Fatalf("%s: unexpected operation %#v", opType, op)
		}
	}
}

func TestCollapseAddThenReplace(t *testing.T) {
	q := New(NewMemStore())
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "widgets", OpAdd, rec("w1", map[string]any{"name": "a"})); err != nil {
		t.Fatalf("Add: %v", err)
	}
	op, err := q.Enqueue(ctx, "widgets", OpReplace, rec("w1", map[string]any{"name": "b"}))
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if op.Type != OpAdd {
		t.Fatalf("expected collapsed op to stay Add, got %s", op.Type)
	}
	if name, _ := op.Item.Get("name"); name != "b" {
		t.Fatalf("expected item updated to b, got %v", name)
	}
	if op.Version != 1 {
		t.Fatalf("expected version bumped to 1, got %d", op.Version)
	}
	if op.Sequence != 1 {
		t.Fatalf("expected original sequence preserved, got %d", op.Sequence)
	}
}

func TestCollapseAddThenDeleteRemovesOperation(t *testing.T) {
	q := New(NewMemStore())
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "widgets", OpAdd, rec("w1", nil)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	op, err := q.Enqueue(ctx, "widgets", OpDelete, rec("w1", nil))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if op != nil {
		t.Fatalf("expected no operation left after Add+Delete collapse, got %#v", op)
	}
	pending, err := q.store.Pending(ctx, "widgets")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %v", pending)
	}
}

func TestCollapseAddThenAddIsDoubleAddError(t *testing.T) {
	q := New(NewMemStore())
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "widgets", OpAdd, rec("w1", nil)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	_, err := q.Enqueue(ctx, "widgets", OpAdd, rec("w1", nil))
	var qc *QueueConflictError
	if !errors.As(err, &qc) {
		t.Fatalf("expected QueueConflictError, got %v", err)
	}
	if !errors.Is(err, ErrDoubleAdd) {
		t.Fatalf("expected ErrDoubleAdd reason, got %v", qc.Reason)
	}
}

func TestCollapseReplaceThenReplace(t *testing.T) {
	q := New(NewMemStore())
	ctx := context.Background()
	// Seed a Replace by first issuing one (existing=nil -> Replace).
	if _, err := q.Enqueue(ctx, "widgets", OpReplace, rec("w1", map[string]any{"name": "a"})); err != nil {
		t.Fatalf("Replace 1: %v", err)
	}
	op, err := q.Enqueue(ctx, "widgets", OpReplace, rec("w1", map[string]any{"name": "b"}))
	if err != nil {
		t.Fatalf("Replace 2: %v", err)
	}
	if op.Type != OpReplace {
		t.Fatalf("expected Replace, got %s", op.Type)
	}
	if name, _ := op.Item.Get("name"); name != "b" {
		t.Fatalf("expected item b, got %v", name)
	}
}

func TestCollapseReplaceThenDelete(t *testing.T) {
	q := New(NewMemStore())
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "widgets", OpReplace, rec("w1", nil)); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	op, err := q.Enqueue(ctx, "widgets", OpDelete, rec("w1", nil))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if op.Type != OpDelete {
		t.Fatalf("expected Delete, got %s", op.Type)
	}
}

func TestCollapseReplaceThenAddIsDoubleAddError(t *testing.T) {
	q := New(NewMemStore())
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "widgets", OpReplace, rec("w1", nil)); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	_, err := q.Enqueue(ctx, "widgets", OpAdd, rec("w1", nil))
	if !errors.Is(err, ErrDoubleAdd) {
		t.Fatalf("expected ErrDoubleAdd, got %v", err)
	}
}

func TestCollapseDeleteThenAddBecomesReplace(t *testing.T) {
	q := New(NewMemStore())
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "widgets", OpDelete, rec("w1", nil)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	op, err := q.Enqueue(ctx, "widgets", OpAdd, rec("w1", map[string]any{"name": "reborn"}))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if op.Type != OpReplace {
		t.Fatalf("expected Replace, got %s", op.Type)
	}
}

func TestCollapseDeleteThenReplaceIsError(t *testing.T) {
	q := New(NewMemStore())
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "widgets", OpDelete, rec("w1", nil)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var qc *QueueConflictError
	_, err := q.Enqueue(ctx, "widgets", OpReplace, rec("w1", nil))
	if !errors.As(err, &qc) {
		t.Fatalf("expected QueueConflictError, got %v", err)
	}
}

func TestCollapseDeleteThenDeleteIsDoubleDeleteError(t *testing.T) {
	q := New(NewMemStore())
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "widgets", OpDelete, rec("w1", nil)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err := q.Enqueue(ctx, "widgets", OpDelete, rec("w1", nil))
	if !errors.Is(err, ErrDoubleDelete) {
		t.Fatalf("expected ErrDoubleDelete, got %v", err)
	}
}

func TestEnqueueInvalidIDFails(t *testing.T) {
	q := New(NewMemStore())
	_, err := q.Enqueue(context.Background(), "widgets", OpAdd, rec("has a space", nil))
	if !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestEnqueueLocalOnlyTypeIsNoOp(t *testing.T) {
	q := New(NewMemStore(), WithLocalOnlyTypes("scratch"))
	op, err := q.Enqueue(context.Background(), "scratch", OpAdd, rec("w1", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op != nil {
		t.Fatalf("expected nil operation for local-only type, got %#v", op)
	}
}

func TestPendingOrderedBySequence(t *testing.T) {
	q := New(NewMemStore())
	ctx := context.Background()
	for _, id := range []string{"w1", "w2", "w3"} {
		if _, err := q.Enqueue(ctx, "widgets", OpAdd, rec(id, nil)); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}
	pending, err := q.store.Pending(ctx, "widgets")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending ops, got %d", len(pending))
	}
	for i, op := range pending {
		if op.Sequence != int64(i+1) {
			t.Fatalf("expected ascending sequence, got %#v", pending)
		}
	}
}
