package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/erauner12/datasync/internal/db"
	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/repository"
)

func getTestPool(t *testing.T) *Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	pool, err := db.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	ctx := context.Background()
	if _, err := pool.Exec(ctx, Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM datasync_entities WHERE table_name = $1", "widgets"); err != nil {
		t.Fatalf("clean table: %v", err)
	}

	return New(pool, "widgets")
}

func TestRepositoryCreateRead(t *testing.T) {
	repo := getTestPool(t)
	ctx := context.Background()

	rec := entity.NewRecord(map[string]any{"name": "gadget"})
	created, err := repo.Create(ctx, rec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Meta.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := repo.Read(ctx, created.Meta.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Fields["name"] != "gadget" {
		t.Fatalf("unexpected fields: %v", got.Fields)
	}
}

func TestRepositoryDuplicateID(t *testing.T) {
	repo := getTestPool(t)
	ctx := context.Background()

	rec := entity.NewRecord(map[string]any{"name": "first"})
	rec.Meta.ID = "fixed-id"
	if _, err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := entity.NewRecord(map[string]any{"name": "second"})
	dup.Meta.ID = "fixed-id"
	_, err := repo.Create(ctx, dup)
	if _, ok := err.(*repository.DuplicateIDError); !ok {
		t.Fatalf("expected DuplicateIDError, got %v", err)
	}
}

func TestRepositoryReplacePreconditionFailed(t *testing.T) {
	repo := getTestPool(t)
	ctx := context.Background()

	rec := entity.NewRecord(map[string]any{"name": "v1"})
	created, err := repo.Create(ctx, rec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated := created.Clone().(*entity.Record)
	updated.Fields["name"] = "v2"
	if _, err := repo.Replace(ctx, updated, created.Meta.Version); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	stale := created.Clone().(*entity.Record)
	stale.Fields["name"] = "v3-stale"
	_, err = repo.Replace(ctx, stale, created.Meta.Version)
	if _, ok := err.(*repository.PreconditionFailedError); !ok {
		t.Fatalf("expected PreconditionFailedError, got %v", err)
	}
}

func TestRepositoryReplaceExactTimestampReplayIsNoop(t *testing.T) {
	repo := getTestPool(t)
	ctx := context.Background()

	frozen := nowFn().Truncate(time.Microsecond)
	origNowFn := nowFn
	nowFn = func() time.Time { return frozen }
	t.Cleanup(func() { nowFn = origNowFn })

	rec := entity.NewRecord(map[string]any{"name": "v1"})
	created, err := repo.Create(ctx, rec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Move the clock past Create's updatedAt so the first Replace writes;
	// the replay below then lands on that same instant.
	frozen = frozen.Add(time.Millisecond)

	updated := created.Clone().(*entity.Record)
	updated.Fields["name"] = "v2"
	first, err := repo.Replace(ctx, updated, created.Meta.Version)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}

	replay := updated.Clone().(*entity.Record)
	replay.Fields["name"] = "v2-replay"
	second, err := repo.Replace(ctx, replay, first.Meta.Version)
	if err != nil {
		t.Fatalf("Replace (replay): %v", err)
	}

	if !entity.VersionsEqual(second.Meta.Version, first.Meta.Version) {
		t.Fatalf("expected replay to leave version unchanged: first=%x second=%x", first.Meta.Version, second.Meta.Version)
	}
	if second.Fields["name"] != "v2" {
		t.Fatalf("expected replay to leave payload unchanged, got %v", second.Fields["name"])
	}
}

func TestRepositorySoftDelete(t *testing.T) {
	repo := getTestPool(t)
	ctx := context.Background()

	rec := entity.NewRecord(map[string]any{"name": "to-delete"})
	created, err := repo.Create(ctx, rec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	deleted, err := repo.Delete(ctx, created.Meta.ID, created.Meta.Version)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted.Meta.Deleted {
		t.Fatal("expected Deleted=true")
	}

	rows, err := repo.Queryable(ctx)
	if err != nil {
		t.Fatalf("Queryable: %v", err)
	}
	found := false
	for _, r := range rows {
		if r.Meta.ID == created.Meta.ID {
			found = true
			if !r.Meta.Deleted {
				t.Fatal("tombstone should remain visible to Queryable with Deleted=true")
			}
		}
	}
	if !found {
		t.Fatal("tombstone should not be physically removed")
	}
}
