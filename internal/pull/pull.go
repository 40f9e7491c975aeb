// Package pull implements the pull driver of spec.md §4.L: it fetches
// changes for a set of (table, query) requests since each request's
// delta token, applies them to the local mirror, and advances the
// token, fanning per-request work out across a bounded parallelism the
// same way internal/push does with golang.org/x/sync/errgroup.
package pull

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erauner12/datasync/internal/client"
	"github.com/erauner12/datasync/internal/deltatoken"
	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/odata"
	"github.com/erauner12/datasync/internal/queue"
	"golang.org/x/sync/errgroup"
)

// ErrOfflinePending is returned when a requested table has operations
// still sitting in the push queue: pulling over them would let the
// server's view of those rows clobber a change the user hasn't pushed
// yet, so the caller must push first.
var ErrOfflinePending = errors.New("pull: table has pending push operations, push before pulling")

// TableClient is the subset of *client.Client the pull driver needs.
type TableClient interface {
	GetPage(ctx context.Context, queryString string) (*client.Page, error)
	GetByLink(ctx context.Context, link string) (*client.Page, error)
}

var _ TableClient = (*client.Client)(nil)

// LocalStore is the client-side mirror the pull driver writes into.
type LocalStore interface {
	// Get returns the locally mirrored row for (table, id), or ok=false
	// if there is no local row.
	Get(ctx context.Context, table, id string) (rec *entity.Record, ok bool, err error)
	// Upsert inserts or overwrites the local row for (table, id).
	Upsert(ctx context.Context, table string, rec *entity.Record) error
	// Delete removes the local row for (table, id), if present.
	Delete(ctx context.Context, table, id string) error
}

// Request is one (table, query) pair to pull. Filter is an OData $filter
// expression in text form, or "" for no caller-supplied filter; QueryID
// selects the delta-token bucket the same way deltatoken.TokenID does.
type Request struct {
	Table   string
	QueryID *string
	Filter  string
}

// FailedRequest records one request that could not be completed.
type FailedRequest struct {
	StatusCode int
	Body       []byte
}

// Result is the pull driver's return value (spec.md §4.L).
type Result struct {
	Additions      int
	Replacements   int
	Deletions      int
	FailedRequests map[string]FailedRequest
}

// Successful reports whether every request completed without error.
func (r *Result) Successful() bool { return len(r.FailedRequests) == 0 }

// Driver pulls a set of requests against the table protocol and applies
// the results to a local mirror.
type Driver struct {
	Queue  queue.Store
	Tokens deltatoken.Store
	Clients map[string]TableClient
	Local   LocalStore

	// ParallelOperations bounds how many requests run concurrently;
	// default 1.
	ParallelOperations int

	// SaveAfterEveryServiceRequest commits the local store and advances
	// the delta token once per page instead of once at the very end
	// (spec.md §4.L step 5); the all-at-the-end mode gives a single
	// request's changes all-or-nothing durability, at the cost of
	// redoing the whole request on a crash mid-way.
	SaveAfterEveryServiceRequest bool
}

// Pull runs every request, preflighting each request's table for
// pending push operations before issuing any HTTP call.
func (d *Driver) Pull(ctx context.Context, requests []Request) (*Result, error) {
	seen := map[string]bool{}
	for _, req := range requests {
		if seen[req.Table] {
			continue
		}
		seen[req.Table] = true
		pending, err := d.Queue.Pending(ctx, req.Table)
		if err != nil {
			return nil, fmt.Errorf("pull: check pending operations for %q: %w", req.Table, err)
		}
		if len(pending) > 0 {
			return nil, ErrOfflinePending
		}
	}

	parallelism := d.ParallelOperations
	if parallelism < 1 {
		parallelism = 1
	}

	var mu sync.Mutex
	result := &Result{FailedRequests: map[string]FailedRequest{}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, req := range requests {
		req := req
		c, ok := d.Clients[req.Table]
		if !ok {
			return nil, fmt.Errorf("pull: no client registered for table %q", req.Table)
		}
		g.Go(func() error {
			err := d.pullOne(gctx, req, c, &mu, result)
			if err != nil {
				var httpErr *client.HTTPStatusError
				if errors.As(err, &httpErr) {
					mu.Lock()
					result.FailedRequests[req.Table] = FailedRequest{StatusCode: httpErr.StatusCode, Body: httpErr.Body}
					mu.Unlock()
					return nil
				}
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// pageAction is a planned local-store write, computed from a page's
// items before any of them are actually applied, so the transaction
// boundary in pullOne applies every item in a page atomically.
type pageAction struct {
	table  string
	delete bool
	id     string
	rec    *entity.Record
	kind   string // "add", "replace", "delete" — for result counters
}

func (d *Driver) pullOne(ctx context.Context, req Request, c TableClient, mu *sync.Mutex, result *Result) error {
	tokenID := deltatoken.TokenID(req.Table, req.QueryID, req.Filter)

	current, _, err := d.Tokens.Get(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("pull: load delta token %q: %w", tokenID, err)
	}

	queryString, err := buildQuery(req.Filter, current)
	if err != nil {
		return fmt.Errorf("pull: build query for %q: %w", req.Table, err)
	}

	var buffered []pageAction
	maxToken := current
	first := true
	link := ""

	for {
		if ctx.Err() != nil {
			// In-flight page abandoned: the token is not advanced for
			// it, and nothing from it is applied locally.
			return nil
		}

		var page *client.Page
		if first {
			page, err = c.GetPage(ctx, queryString)
			first = false
		} else {
			page, err = c.GetByLink(ctx, link)
		}
		if err != nil {
			return err
		}

		actions, pageMax, err := d.planPage(ctx, req.Table, page.Items)
		if err != nil {
			return err
		}
		if pageMax > maxToken {
			maxToken = pageMax
		}

		if d.SaveAfterEveryServiceRequest {
			tally := actions
			newToken := maxToken
			if err := d.Tokens.WithTx(ctx, func(txCtx context.Context) error {
				if err := applyActions(txCtx, d.Local, tally); err != nil {
					return err
				}
				return d.Tokens.Set(txCtx, tokenID, newToken)
			}); err != nil {
				return fmt.Errorf("pull: commit page for %q: %w", req.Table, err)
			}
			addCounts(mu, result, tally)
		} else {
			buffered = append(buffered, actions...)
		}

		if page.NextLink == "" {
			break
		}
		link = page.NextLink
	}

	if !d.SaveAfterEveryServiceRequest {
		finalToken := maxToken
		if err := d.Tokens.WithTx(ctx, func(txCtx context.Context) error {
			if err := applyActions(txCtx, d.Local, buffered); err != nil {
				return err
			}
			return d.Tokens.Set(txCtx, tokenID, finalToken)
		}); err != nil {
			return fmt.Errorf("pull: commit request for %q: %w", req.Table, err)
		}
		addCounts(mu, result, buffered)
	}

	return nil
}

// planPage decides, for each item in a page, whether it is a deletion,
// replacement, or addition against the current local store, without
// mutating anything yet. It also returns the maximum updatedAt seen in
// the page, in milliseconds since epoch.
func (d *Driver) planPage(ctx context.Context, table string, items []*entity.Record) ([]pageAction, int64, error) {
	actions := make([]pageAction, 0, len(items))
	var maxMillis int64

	for _, item := range items {
		if ms := item.Meta.UpdatedAt.UnixMilli(); ms > maxMillis {
			maxMillis = ms
		}

		_, exists, err := d.Local.Get(ctx, table, item.Meta.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("pull: read local row %s/%s: %w", table, item.Meta.ID, err)
		}

		switch {
		case item.Meta.Deleted && exists:
			actions = append(actions, pageAction{table: table, delete: true, id: item.Meta.ID, kind: "delete"})
		case item.Meta.Deleted && !exists:
			// Already absent locally: nothing to do.
		case exists:
			actions = append(actions, pageAction{table: table, id: item.Meta.ID, rec: item, kind: "replace"})
		default:
			actions = append(actions, pageAction{table: table, id: item.Meta.ID, rec: item, kind: "add"})
		}
	}
	return actions, maxMillis, nil
}

func applyActions(ctx context.Context, local LocalStore, actions []pageAction) error {
	for _, a := range actions {
		if a.delete {
			if err := local.Delete(ctx, a.table, a.id); err != nil {
				return fmt.Errorf("pull: delete local row %s/%s: %w", a.table, a.id, err)
			}
			continue
		}
		if err := local.Upsert(ctx, a.table, a.rec); err != nil {
			return fmt.Errorf("pull: write local row %s/%s: %w", a.table, a.id, err)
		}
	}
	return nil
}

func addCounts(mu *sync.Mutex, result *Result, actions []pageAction) {
	mu.Lock()
	defer mu.Unlock()
	for _, a := range actions {
		switch a.kind {
		case "add":
			result.Additions++
		case "replace":
			result.Replacements++
		case "delete":
			result.Deletions++
		}
	}
}

// buildQuery composes the full query string for a request: the caller's
// filter ANDed with a watermark clause built from the delta token (when
// nonzero), plus the implicit $orderby=updatedAt&$count=true and
// __includedeleted=true every pull request carries (spec.md §4.L step
// 3). The token is stored as milliseconds since epoch; it is converted
// to a DateTimeOffset cast literal here, at the pull driver's boundary,
// not inside internal/deltatoken which has no notion of time.
func buildQuery(filter string, tokenMillis int64) (string, error) {
	var tree odata.Node
	if filter != "" {
		parsed, err := odata.ParseFilter(filter)
		if err != nil {
			return "", fmt.Errorf("parse filter: %w", err)
		}
		tree = parsed
	}

	if tokenMillis > 0 {
		watermark := odata.BinaryNode{
			Op:   "gt",
			Left: odata.MemberAccessNode{Name: "updatedAt"},
			Right: odata.ConstantNode{
				Value:   time.UnixMilli(tokenMillis).UTC(),
				EdmType: "DateTimeOffset",
			},
		}
		if tree == nil {
			tree = watermark
		} else {
			tree = odata.BinaryNode{Op: "and", Left: tree, Right: watermark}
		}
	}

	opts := odata.QueryOptions{
		Filter:         tree,
		OrderBy:        []odata.OrderByNode{{Member: "updatedAt"}},
		Count:          true,
		IncludeDeleted: true,
	}
	return opts.Encode(), nil
}
