// Package memory implements the repository.Repository contract over an
// in-process map, for the evaluator/controller test suites and for
// demos that do not need Postgres.
package memory

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/repository"
	"github.com/google/uuid"
)

// Repository is a thread-safe, in-memory repository.Repository.
type Repository struct {
	mu      sync.Mutex
	rows    map[string]*entity.Record
	nextSeq uint64
}

var _ repository.Repository = (*Repository)(nil)

// New builds an empty in-memory repository.
func New() *Repository {
	return &Repository{rows: map[string]*entity.Record{}}
}

func (r *Repository) nextVersion() []byte {
	r.nextSeq++
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, r.nextSeq)
	return b
}

func (r *Repository) Queryable(ctx context.Context) ([]*entity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Record, 0, len(r.rows))
	for _, rec := range r.rows {
		out = append(out, rec.Clone().(*entity.Record))
	}
	return out, nil
}

func (r *Repository) Create(ctx context.Context, rec *entity.Record) (*entity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := rec.Meta.ID
	if id == "" {
		id = uuid.NewString()
	}
	if existing, ok := r.rows[id]; ok {
		return nil, &repository.DuplicateIDError{Current: existing.Clone().(*entity.Record)}
	}

	stored := rec.Clone().(*entity.Record)
	stored.Meta.ID = id
	stored.Meta.UpdatedAt = now()
	stored.Meta.Version = r.nextVersion()
	stored.Meta.Deleted = false
	r.rows[id] = stored
	return stored.Clone().(*entity.Record), nil
}

func (r *Repository) Read(ctx context.Context, id string) (*entity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone().(*entity.Record), nil
}

func (r *Repository) Replace(ctx context.Context, rec *entity.Record, expectedVersion []byte) (*entity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rows[rec.Meta.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if expectedVersion != nil && !entity.VersionsEqual(expectedVersion, existing.Meta.Version) {
		return nil, &repository.PreconditionFailedError{Current: existing.Clone().(*entity.Record)}
	}

	stored := rec.Clone().(*entity.Record)
	stored.Meta.UpdatedAt = now()
	stored.Meta.Version = r.nextVersion()
	stored.Meta.Deleted = existing.Meta.Deleted
	r.rows[rec.Meta.ID] = stored
	return stored.Clone().(*entity.Record), nil
}

func (r *Repository) Delete(ctx context.Context, id string, expectedVersion []byte) (*entity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if expectedVersion != nil && !entity.VersionsEqual(expectedVersion, existing.Meta.Version) {
		return nil, &repository.PreconditionFailedError{Current: existing.Clone().(*entity.Record)}
	}

	stored := existing.Clone().(*entity.Record)
	stored.Meta.UpdatedAt = now()
	stored.Meta.Version = r.nextVersion()
	stored.Meta.Deleted = true
	r.rows[id] = stored
	return stored.Clone().(*entity.Record), nil
}

// Seed inserts a row directly, bypassing Create's id-assignment and
// version-bumping, for test fixture setup.
func (r *Repository) Seed(rec *entity.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[rec.Meta.ID] = rec.Clone().(*entity.Record)
}
