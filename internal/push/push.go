// Package push implements the push driver of spec.md §4.K: it drains
// each type's Pending operations in sequence order against the table
// protocol, fanning the per-type drivers out across a bounded
// parallelism with golang.org/x/sync/errgroup, mirroring how the
// teacher's sync subsystem already uses errgroup for per-item fan-out.
package push

import (
	"context"
	"fmt"
	"sync"

	"github.com/erauner12/datasync/internal/client"
	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/queue"
	"golang.org/x/sync/errgroup"
)

// TableClient is the subset of *client.Client the push driver needs,
// named so tests can substitute a fake without spinning up an HTTP
// server.
type TableClient interface {
	Add(ctx context.Context, rec *entity.Record, opts client.Options) (*entity.Record, error)
	Replace(ctx context.Context, rec *entity.Record, opts client.Options) (*entity.Record, error)
	Remove(ctx context.Context, id string, opts client.Options) (*client.Response, error)
}

var _ TableClient = (*client.Client)(nil)

// LocalStore is how the push driver writes results back to the client's
// local mirror after a successful HTTP call.
type LocalStore interface {
	// ApplyRemote updates the local row for (table, id) with the
	// server's returned entity (new updatedAt/version), after a
	// successful Add or Replace.
	ApplyRemote(ctx context.Context, table string, rec *entity.Record) error
	// RemoveLocal deletes the local row after a successful Delete.
	RemoveLocal(ctx context.Context, table, id string) error
}

// FailedRequest is one entry of the push result's failedRequests map
// (spec.md §4.K). Key is "<table>/<entityId>" rather than a literal
// request URI: the table client does not expose the constructed URI
// back to the caller, and table/id together identify the failing
// operation just as precisely for local diagnostics.
type FailedRequest struct {
	StatusCode int
	Body       []byte
}

// Result is the push driver's return value (spec.md §4.K).
type Result struct {
	Completed      int
	FailedRequests map[string]FailedRequest
}

// Successful reports whether every attempted operation succeeded.
func (r *Result) Successful() bool { return len(r.FailedRequests) == 0 }

// Driver pushes pending operations for a set of tables.
type Driver struct {
	Queue       queue.Store
	Clients     map[string]TableClient
	Local       LocalStore
	Parallelism int // bounds concurrent per-table drivers; default 1
}

// Push drains every Pending operation for each of tables, one goroutine
// per table bounded by d.Parallelism, each processing that table's
// queue strictly in sequence order (spec.md §5 "parallelism distributes
// operations across types but preserves per-entity sequence order").
func (d *Driver) Push(ctx context.Context, tables []string) (*Result, error) {
	parallelism := d.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	var mu sync.Mutex
	result := &Result{FailedRequests: map[string]FailedRequest{}}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, table := range tables {
		table := table
		c, ok := d.Clients[table]
		if !ok {
			return nil, fmt.Errorf("push: no client registered for table %q", table)
		}
		g.Go(func() error {
			return d.pushTable(ctx, table, c, &mu, result)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Driver) pushTable(ctx context.Context, table string, c TableClient, mu *sync.Mutex, result *Result) error {
	ops, err := d.Queue.Pending(ctx, table)
	if err != nil {
		return fmt.Errorf("push: load pending operations for %q: %w", table, err)
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil // cancellation: leave remaining ops Pending, return partial result
		}

		op.State = queue.StateAttempted
		op.LastAttempt = now()
		if err := d.Queue.Save(ctx, op); err != nil {
			return fmt.Errorf("push: mark attempted: %w", err)
		}

		if err := d.pushOne(ctx, table, c, op); err != nil {
			var conflict *client.Conflict
			var httpErr *client.HTTPStatusError
			key := table + "/" + op.EntityID
			switch {
			case asConflict(err, &conflict):
				op.State = queue.StateFailed
				op.ServerResponse = marshalConflictBody(conflict)
				mu.Lock()
				result.FailedRequests[key] = FailedRequest{StatusCode: conflict.StatusCode, Body: op.ServerResponse}
				mu.Unlock()
			case asHTTPStatus(err, &httpErr):
				op.State = queue.StateFailed
				op.ServerResponse = httpErr.Body
				mu.Lock()
				result.FailedRequests[key] = FailedRequest{StatusCode: httpErr.StatusCode, Body: httpErr.Body}
				mu.Unlock()
			default:
				op.State = queue.StateFailed
				mu.Lock()
				result.FailedRequests[key] = FailedRequest{StatusCode: 0, Body: []byte(err.Error())}
				mu.Unlock()
			}
			if saveErr := d.Queue.Save(ctx, op); saveErr != nil {
				return fmt.Errorf("push: persist failed operation: %w", saveErr)
			}
			continue
		}

		if err := d.Queue.Delete(ctx, op.ID); err != nil {
			return fmt.Errorf("push: remove completed operation: %w", err)
		}
		mu.Lock()
		result.Completed++
		mu.Unlock()
	}
	return nil
}

// pushOne constructs and sends the single HTTP call an operation maps
// to, and applies a successful result to the local store.
func (d *Driver) pushOne(ctx context.Context, table string, c TableClient, op *queue.Operation) error {
	switch op.Type {
	case queue.OpAdd:
		stored, err := c.Add(ctx, op.Item, client.Options{})
		if err != nil {
			return err
		}
		return d.Local.ApplyRemote(ctx, table, stored)

	case queue.OpReplace:
		opts := client.Options{IfMatch: len(op.Item.Meta.Version) > 0}
		stored, err := c.Replace(ctx, op.Item, opts)
		if err != nil {
			return err
		}
		return d.Local.ApplyRemote(ctx, table, stored)

	case queue.OpDelete:
		opts := client.Options{IfMatch: len(op.Item.Meta.Version) > 0, Version: string(op.Item.Meta.Version)}
		if _, err := c.Remove(ctx, op.EntityID, opts); err != nil {
			return err
		}
		return d.Local.RemoveLocal(ctx, table, op.EntityID)

	default:
		return fmt.Errorf("push: unknown operation type %q", op.Type)
	}
}
