package query

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/odata"
	"github.com/erauner12/datasync/internal/repository/memory"
)

func seedMovies(t *testing.T, repo *memory.Repository, n int) {
	t.Helper()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rec := entity.NewRecord(map[string]any{
			"title": "Movie",
			"year":  int64(2000 + i),
		})
		rec.Meta.ID = "movie-" + itoa(i)
		rec.Meta.UpdatedAt = base.Add(time.Duration(i) * time.Hour)
		rec.Meta.Version = []byte{byte(i)}
		repo.Seed(rec)
	}
}

func itoa(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return string(b)
}

func TestEvaluatorPaging(t *testing.T) {
	repo := memory.New()
	seedMovies(t, repo, 248)
	ev := New(repo, 100000)

	opts := &odata.QueryOptions{Top: 100, HasTop: true}
	page, err := ev.Evaluate(context.Background(), opts, "/tables/movies")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(page.Items) != 100 {
		t.Fatalf("expected 100 items, got %d", len(page.Items))
	}
	if page.NextLink == "" {
		t.Fatal("expected nextLink on truncated first page")
	}

	u, _ := url.Parse(page.NextLink)
	opts2, err := odata.ParseQueryOptions(u.Query())
	if err != nil {
		t.Fatalf("parse nextLink query: %v", err)
	}
	if opts2.Skip != 100 {
		t.Fatalf("expected next $skip=100, got %d", opts2.Skip)
	}

	page2, err := ev.Evaluate(context.Background(), opts2, "/tables/movies")
	if err != nil {
		t.Fatalf("Evaluate page2: %v", err)
	}
	if len(page2.Items) != 100 {
		t.Fatalf("expected 100 items on page2, got %d", len(page2.Items))
	}

	u2, _ := url.Parse(page2.NextLink)
	opts3, _ := odata.ParseQueryOptions(u2.Query())
	page3, err := ev.Evaluate(context.Background(), opts3, "/tables/movies")
	if err != nil {
		t.Fatalf("Evaluate page3: %v", err)
	}
	if len(page3.Items) != 48 {
		t.Fatalf("expected 48 items on last page, got %d", len(page3.Items))
	}
	if page3.NextLink != "" {
		t.Fatal("expected no nextLink on last page")
	}
}

func TestEvaluatorFilterAndOrder(t *testing.T) {
	repo := memory.New()
	seedMovies(t, repo, 10) // years 2000..2009
	ev := New(repo, 0)

	filter, err := odata.ParseFilter("year ge 2000")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	opts := &odata.QueryOptions{
		Filter:  filter,
		OrderBy: []odata.OrderByNode{{Member: "year"}},
		Top:     5,
		HasTop:  true,
	}
	page, err := ev.Evaluate(context.Background(), opts, "/tables/movies")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(page.Items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(page.Items))
	}
	prev := int64(0)
	for _, item := range page.Items {
		y := item.Fields["year"].(int64)
		if y < 2000 {
			t.Fatalf("year %d below filter bound", y)
		}
		if y < prev {
			t.Fatalf("items not ascending by year: %d after %d", y, prev)
		}
		prev = y
	}
}

func TestEvaluatorTopZeroHonorsCount(t *testing.T) {
	repo := memory.New()
	seedMovies(t, repo, 10)
	ev := New(repo, 0)

	opts := &odata.QueryOptions{Top: 0, HasTop: true, Count: true}
	page, err := ev.Evaluate(context.Background(), opts, "/tables/movies")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected zero items, got %d", len(page.Items))
	}
	if page.Count == nil || *page.Count != 10 {
		t.Fatalf("expected count=10, got %v", page.Count)
	}
}

func TestEvaluatorSkipBeyondAvailable(t *testing.T) {
	repo := memory.New()
	seedMovies(t, repo, 5)
	ev := New(repo, 0)

	opts := &odata.QueryOptions{Skip: 100, HasSkip: true, Top: 10, HasTop: true}
	page, err := ev.Evaluate(context.Background(), opts, "/tables/movies")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected empty page, got %d items", len(page.Items))
	}
	if page.NextLink != "" {
		t.Fatal("expected no nextLink past the end")
	}
}

func TestEvaluatorRejectsTopAboveCap(t *testing.T) {
	repo := memory.New()
	ev := New(repo, 100)

	opts := &odata.QueryOptions{Top: 1000, HasTop: true}
	_, err := ev.Evaluate(context.Background(), opts, "/tables/movies")
	if err == nil {
		t.Fatal("expected error for $top above server cap")
	}
}

func TestEvaluatorExcludesSoftDeletedByDefault(t *testing.T) {
	repo := memory.New()
	seedMovies(t, repo, 3)
	rec, err := repo.Read(context.Background(), "movie-0")
	if err != nil {
		t.Fatal(err)
	}
	rec.Meta.Deleted = true
	repo.Seed(rec)

	ev := New(repo, 0)
	page, err := ev.Evaluate(context.Background(), &odata.QueryOptions{Top: 10, HasTop: true}, "/tables/movies")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 visible items, got %d", len(page.Items))
	}

	page2, err := ev.Evaluate(context.Background(), &odata.QueryOptions{Top: 10, HasTop: true, IncludeDeleted: true}, "/tables/movies")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(page2.Items) != 3 {
		t.Fatalf("expected 3 items with includeDeleted, got %d", len(page2.Items))
	}
}

func TestAddDataView(t *testing.T) {
	repo := memory.New()
	seedMovies(t, repo, 5)
	ev := New(repo, 0)

	opts := &odata.QueryOptions{Top: 10, HasTop: true}
	view, err := odata.ParseFilter("year eq 2002")
	if err != nil {
		t.Fatal(err)
	}
	AddDataView(opts, view)

	page, err := ev.Evaluate(context.Background(), opts, "/tables/movies")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected exactly 1 item matching data view, got %d", len(page.Items))
	}
}
