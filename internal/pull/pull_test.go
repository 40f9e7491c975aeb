package pull

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erauner12/datasync/internal/client"
	"github.com/erauner12/datasync/internal/deltatoken"
	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/queue"
)

type fakeLocalStore struct {
	mu   sync.Mutex
	rows map[string]*entity.Record // key "table/id"
}

func newFakeLocalStore() *fakeLocalStore {
	return &fakeLocalStore{rows: map[string]*entity.Record{}}
}

func (f *fakeLocalStore) key(table, id string) string { return table + "/" + id }

func (f *fakeLocalStore) Get(ctx context.Context, table, id string) (*entity.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[f.key(table, id)]
	return rec, ok, nil
}

func (f *fakeLocalStore) Upsert(ctx context.Context, table string, rec *entity.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[f.key(table, rec.Meta.ID)] = rec
	return nil
}

func (f *fakeLocalStore) Delete(ctx context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, f.key(table, id))
	return nil
}

type fakeTableClient struct {
	pages []*client.Page // consumed in order across GetPage + GetByLink calls
	idx   int
	gotQuery string
}

func (f *fakeTableClient) GetPage(ctx context.Context, queryString string) (*client.Page, error) {
	f.gotQuery = queryString
	return f.next()
}

func (f *fakeTableClient) GetByLink(ctx context.Context, link string) (*client.Page, error) {
	return f.next()
}

func (f *fakeTableClient) next() (*client.Page, error) {
	p := f.pages[f.idx]
	f.idx++
	return p, nil
}

func rec(id string, updatedAt time.Time, deleted bool) *entity.Record {
	return &entity.Record{
		Meta:   entity.Metadata{ID: id, UpdatedAt: updatedAt, Deleted: deleted},
		Fields: map[string]any{"name": id},
	}
}

func TestPullAddsReplacesAndDeletes(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 8, 23, 20, 22, 54, 0, time.UTC)

	local := newFakeLocalStore()
	local.rows["widgets/existing"] = rec("existing", now.Add(-time.Hour), false)
	local.rows["widgets/gone"] = rec("gone", now.Add(-time.Hour), false)

	fc := &fakeTableClient{pages: []*client.Page{
		{Items: []*entity.Record{
			rec("new", now, false),
			rec("existing", now, false),
			rec("gone", now, true),
			rec("already-gone", now, true),
		}},
	}}

	tokens := deltatoken.NewMemStore()
	qstore := queue.NewMemStore()

	d := &Driver{
		Queue:   qstore,
		Tokens:  tokens,
		Clients: map[string]TableClient{"widgets": fc},
		Local:   local,
	}

	result, err := d.Pull(ctx, []Request{{Table: "widgets", QueryID: deltatoken.NoQueryID()}})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if !result.Successful() {
		t.Fatalf("expected success, got %#v", result.FailedRequests)
	}
	if result.Additions != 1 || result.Replacements != 1 || result.Deletions != 1 {
		t.Fatalf("expected 1/1/1, got +%d ~%d -%d", result.Additions, result.Replacements, result.Deletions)
	}

	if _, ok, _ := local.Get(ctx, "widgets", "new"); !ok {
		t.Fatal("expected new row inserted")
	}
	if _, ok, _ := local.Get(ctx, "widgets", "gone"); ok {
		t.Fatal("expected gone row removed")
	}
	if _, ok, _ := local.Get(ctx, "widgets", "already-gone"); ok {
		t.Fatal("expected already-absent deleted row to stay absent")
	}

	value, ok, err := tokens.Get(ctx, "widgets")
	if err != nil || !ok {
		t.Fatalf("expected token set, err=%v ok=%v", err, ok)
	}
	if value != now.UnixMilli() {
		t.Fatalf("expected token %d, got %d", now.UnixMilli(), value)
	}
}

func TestPullComposesWatermarkFilterFromToken(t *testing.T) {
	ctx := context.Background()
	tokenTime := time.Date(2024, 8, 23, 20, 22, 54, 291000000, time.UTC)

	tokens := deltatoken.NewMemStore()
	if err := tokens.Set(ctx, "widgets", tokenTime.UnixMilli()); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	fc := &fakeTableClient{pages: []*client.Page{{Items: nil}}}
	local := newFakeLocalStore()
	qstore := queue.NewMemStore()

	d := &Driver{
		Queue:   qstore,
		Tokens:  tokens,
		Clients: map[string]TableClient{"widgets": fc},
		Local:   local,
	}

	if _, err := d.Pull(ctx, []Request{{Table: "widgets", QueryID: deltatoken.NoQueryID()}}); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	if !strings.Contains(fc.gotQuery, url.QueryEscape("cast(2024-08-23T20:22:54.291Z,Edm.DateTimeOffset)")) {
		t.Fatalf("expected watermark cast literal in query, got %q", fc.gotQuery)
	}
	if !strings.Contains(fc.gotQuery, "$orderby=updatedAt") || !strings.Contains(fc.gotQuery, "$count=true") || !strings.Contains(fc.gotQuery, "__includedeleted=true") {
		t.Fatalf("expected implicit query options, got %q", fc.gotQuery)
	}
}

func TestPullFailsFastWhenPushQueueHasPendingOperations(t *testing.T) {
	ctx := context.Background()
	qstore := queue.NewMemStore()
	q := queue.New(qstore)
	if _, err := q.Enqueue(ctx, "widgets", queue.OpAdd, rec("w1", time.Now(), false)); err != nil {
		t.Fatalf("seed pending op: %v", err)
	}

	d := &Driver{
		Queue:   qstore,
		Tokens:  deltatoken.NewMemStore(),
		Clients: map[string]TableClient{"widgets": &fakeTableClient{}},
		Local:   newFakeLocalStore(),
	}

	_, err := d.Pull(ctx, []Request{{Table: "widgets", QueryID: deltatoken.NoQueryID()}})
	if err != ErrOfflinePending {
		t.Fatalf("expected ErrOfflinePending, got %v", err)
	}
}

func TestPullNeverRegressesTokenPastMaxSeen(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 8, 23, 0, 0, 0, 0, time.UTC)

	tokens := deltatoken.NewMemStore()
	if err := tokens.Set(ctx, "widgets", base.UnixMilli()); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	local := newFakeLocalStore()
	// Server returns one item older than the current token (a legitimate
	// case per spec.md §8: apply it, but never move the watermark back).
	fc := &fakeTableClient{pages: []*client.Page{{Items: []*entity.Record{
		rec("old-item", base.Add(-24 * time.Hour), false),
	}}}}

	d := &Driver{
		Queue:   queue.NewMemStore(),
		Tokens:  tokens,
		Clients: map[string]TableClient{"widgets": fc},
		Local:   local,
	}

	if _, err := d.Pull(ctx, []Request{{Table: "widgets", QueryID: deltatoken.NoQueryID()}}); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	if _, ok, _ := local.Get(ctx, "widgets", "old-item"); !ok {
		t.Fatal("expected old item to still be applied")
	}
	value, _, _ := tokens.Get(ctx, "widgets")
	if value != base.UnixMilli() {
		t.Fatalf("expected token to stay at %d, got %d", base.UnixMilli(), value)
	}
}

func TestPullSavesPerPageWhenConfigured(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	fc := &fakeTableClient{pages: []*client.Page{
		{Items: []*entity.Record{rec("a", t1, false)}, NextLink: "/tables/widgets?$skip=1"},
		{Items: []*entity.Record{rec("b", t2, false)}},
	}}
	local := newFakeLocalStore()
	tokens := deltatoken.NewMemStore()

	d := &Driver{
		Queue:                        queue.NewMemStore(),
		Tokens:                       tokens,
		Clients:                      map[string]TableClient{"widgets": fc},
		Local:                        local,
		SaveAfterEveryServiceRequest: true,
	}

	result, err := d.Pull(ctx, []Request{{Table: "widgets", QueryID: deltatoken.NoQueryID()}})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if result.Additions != 2 {
		t.Fatalf("expected 2 additions, got %d", result.Additions)
	}
	value, _, _ := tokens.Get(ctx, "widgets")
	if value != t2.UnixMilli() {
		t.Fatalf("expected final token %d, got %d", t2.UnixMilli(), value)
	}
}
