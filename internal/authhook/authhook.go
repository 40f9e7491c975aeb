// Package authhook defines the access-control hook contract (spec.md
// §4.F): an authorization predicate, an optional per-request data view,
// and pre/post-commit callbacks around mutations. The table controller
// calls these around every operation; everything here is pluggable so a
// deployment can swap in its own authorization model without touching
// the controller.
package authhook

import (
	"context"

	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/odata"
)

// Operation identifies the kind of table operation being authorized.
type Operation int

const (
	OpQuery Operation = iota
	OpRead
	OpAdd
	OpReplace
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpQuery:
		return "query"
	case OpRead:
		return "read"
	case OpAdd:
		return "add"
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Hook is the access-control contract a table controller consults
// around every request. ent is nil for OpQuery; for OpAdd it is the
// submitted entity, before the new row exists.
type Hook interface {
	// IsAuthorized returns false to reject the request. The controller
	// maps a false result to 401 if no principal is attached to ctx, or
	// 403 otherwise.
	IsAuthorized(ctx context.Context, tableName string, op Operation, ent *entity.Record) (bool, error)

	// DataView returns an additional predicate ANDed into every query
	// and into existence checks for reads/writes, or nil to impose none.
	DataView(ctx context.Context, tableName string) (odata.Node, error)

	// PreCommit runs after authorization and precondition checks but
	// before the repository write; it does not run inside the
	// repository's transaction. A non-nil error aborts the mutation.
	PreCommit(ctx context.Context, tableName string, op Operation, ent *entity.Record) error

	// PostCommit runs after a successful mutation. It returns nothing and
	// does not change the HTTP response: the write already happened.
	PostCommit(ctx context.Context, tableName string, op Operation, ent *entity.Record)
}

// AllowAll is the default Hook: spec.md §4.F requires it to permit every
// operation and impose no data view.
type AllowAll struct{}

var _ Hook = AllowAll{}

func (AllowAll) IsAuthorized(context.Context, string, Operation, *entity.Record) (bool, error) {
	return true, nil
}

func (AllowAll) DataView(context.Context, string) (odata.Node, error) { return nil, nil }

func (AllowAll) PreCommit(context.Context, string, Operation, *entity.Record) error { return nil }

func (AllowAll) PostCommit(context.Context, string, Operation, *entity.Record) {}
