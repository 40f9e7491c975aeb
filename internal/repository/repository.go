// Package repository defines the abstract contract the query evaluator
// and table controller use to read and mutate entities (spec.md §4.D).
// Concrete storage adapters (an in-memory map for tests, a Postgres
// adapter for the reference server binary) live in subpackages.
package repository

import (
	"context"
	"errors"

	"github.com/erauner12/datasync/internal/entity"
)

// ErrNotFound is returned by Read when no row exists for the given id.
var ErrNotFound = errors.New("repository: not found")

// PreconditionFailedError is returned by Replace/Delete when the stored
// version differs from the caller's expected version. It carries the
// server's current row so the caller (the table controller) can return
// it in a 409/412 body without a second read.
type PreconditionFailedError struct {
	Current *entity.Record
}

func (e *PreconditionFailedError) Error() string {
	return "repository: precondition failed"
}

// Repository is the abstract CRUD contract over a typed store (spec.md
// §4.D). Implementations are expected to serialize the precondition
// check and the mutation atomically per entity (spec.md §5).
type Repository interface {
	// Queryable returns every row of the type, including soft-deleted
	// ones; filtering, ordering and paging are the evaluator's job, not
	// the repository's.
	Queryable(ctx context.Context) ([]*entity.Record, error)

	// Create inserts a new row. If id is empty the repository assigns
	// one. Returns ErrNotFound-adjacent errors are not expected from
	// Create; a duplicate (even soft-deleted) id is reported via
	// *DuplicateIDError.
	Create(ctx context.Context, rec *entity.Record) (*entity.Record, error)

	// Read fetches one row by id, soft-deleted or not; the caller (the
	// evaluator/controller) decides visibility.
	Read(ctx context.Context, id string) (*entity.Record, error)

	// Replace overwrites a row. If expectedVersion is non-nil, the
	// replace only applies when the stored version matches; a mismatch
	// returns *PreconditionFailedError. A nil expectedVersion means
	// "any version" (unconditional).
	Replace(ctx context.Context, rec *entity.Record, expectedVersion []byte) (*entity.Record, error)

	// Delete soft-deletes a row (bumps UpdatedAt/Version, sets
	// Deleted=true). Same expectedVersion semantics as Replace.
	Delete(ctx context.Context, id string, expectedVersion []byte) (*entity.Record, error)
}

// DuplicateIDError is returned by Create when id already exists, even if
// the existing row is soft-deleted (spec.md §4.E "Soft-delete"). It
// carries the current row for the 409 conflict body.
type DuplicateIDError struct {
	Current *entity.Record
}

func (e *DuplicateIDError) Error() string {
	return "repository: duplicate id"
}
