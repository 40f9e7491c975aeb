package table

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/erauner12/datasync/internal/authhook"
	"github.com/erauner12/datasync/internal/repository/memory"
	"github.com/go-chi/chi/v5"
)

func newTestServer(t *testing.T) (*chi.Mux, *memory.Repository) {
	t.Helper()
	repo := memory.New()
	c := New()
	if err := c.Register(Config{Name: "widgets", Repo: repo, Hook: authhook.AllowAll{}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r := chi.NewRouter()
	c.Mount(r, "")
	return r, repo
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestControllerAddGet(t *testing.T) {
	r, _ := newTestServer(t)

	addRec := doJSON(t, r, http.MethodPost, "/widgets", map[string]any{"name": "gizmo"}, nil)
	if addRec.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d: %s", addRec.Code, addRec.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(addRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := created["id"].(string)
	if addRec.Header().Get("ETag") == "" {
		t.Fatal("expected ETag header on add")
	}
	if addRec.Header().Get("Location") == "" {
		t.Fatal("expected Location header on add")
	}

	getRec := doJSON(t, r, http.MethodGet, "/widgets/"+id, nil, nil)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", getRec.Code)
	}
	var fetched map[string]any
	if err := json.Unmarshal(getRec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched["name"] != "gizmo" {
		t.Fatalf("expected name=gizmo, got %v", fetched["name"])
	}
}

func TestControllerGetMissing(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodGet, "/widgets/nope", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestControllerIfNoneMatchCurrentETag(t *testing.T) {
	r, _ := newTestServer(t)
	addRec := doJSON(t, r, http.MethodPost, "/widgets", map[string]any{"name": "gizmo"}, nil)
	var created map[string]any
	json.Unmarshal(addRec.Body.Bytes(), &created)
	id := created["id"].(string)
	etag := addRec.Header().Get("ETag")

	getRec := doJSON(t, r, http.MethodGet, "/widgets/"+id, nil, map[string]string{"If-None-Match": etag})
	if getRec.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", getRec.Code)
	}
}

func TestControllerReplacePreconditionFailed(t *testing.T) {
	r, _ := newTestServer(t)
	addRec := doJSON(t, r, http.MethodPost, "/widgets", map[string]any{"name": "gizmo"}, nil)
	var created map[string]any
	json.Unmarshal(addRec.Body.Bytes(), &created)
	id := created["id"].(string)

	putRec := doJSON(t, r, http.MethodPut, "/widgets/"+id, map[string]any{"name": "updated"}, map[string]string{"If-Match": `"stale-version"`})
	if putRec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d: %s", putRec.Code, putRec.Body.String())
	}
	var conflict map[string]any
	if err := json.Unmarshal(putRec.Body.Bytes(), &conflict); err != nil {
		t.Fatalf("decode conflict body: %v", err)
	}
	if conflict["name"] != "gizmo" {
		t.Fatalf("expected conflict body to carry current entity, got %v", conflict)
	}
}

func TestControllerReplaceSucceedsWithCurrentETag(t *testing.T) {
	r, _ := newTestServer(t)
	addRec := doJSON(t, r, http.MethodPost, "/widgets", map[string]any{"name": "gizmo"}, nil)
	var created map[string]any
	json.Unmarshal(addRec.Body.Bytes(), &created)
	id := created["id"].(string)
	etag := addRec.Header().Get("ETag")

	putRec := doJSON(t, r, http.MethodPut, "/widgets/"+id, map[string]any{"name": "updated"}, map[string]string{"If-Match": etag})
	if putRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", putRec.Code, putRec.Body.String())
	}
}

func TestControllerDeleteThenGoneThenDeleteAgain(t *testing.T) {
	r, _ := newTestServer(t)
	addRec := doJSON(t, r, http.MethodPost, "/widgets", map[string]any{"name": "gizmo"}, nil)
	var created map[string]any
	json.Unmarshal(addRec.Body.Bytes(), &created)
	id := created["id"].(string)

	delRec := doJSON(t, r, http.MethodDelete, "/widgets/"+id, nil, nil)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delRec.Code)
	}

	getRec := doJSON(t, r, http.MethodGet, "/widgets/"+id, nil, nil)
	if getRec.Code != http.StatusGone {
		t.Fatalf("expected 410 on get after delete, got %d", getRec.Code)
	}

	delAgainRec := doJSON(t, r, http.MethodDelete, "/widgets/"+id, nil, nil)
	if delAgainRec.Code != http.StatusGone {
		t.Fatalf("expected 410 on re-delete, got %d", delAgainRec.Code)
	}
}

func TestControllerDuplicateAdd(t *testing.T) {
	r, _ := newTestServer(t)
	addRec := doJSON(t, r, http.MethodPost, "/widgets", map[string]any{"id": "fixed-id", "name": "gizmo"}, nil)
	if addRec.Code != http.StatusCreated {
		t.Fatalf("first add: expected 201, got %d", addRec.Code)
	}
	dupRec := doJSON(t, r, http.MethodPost, "/widgets", map[string]any{"id": "fixed-id", "name": "other"}, nil)
	if dupRec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate id, got %d: %s", dupRec.Code, dupRec.Body.String())
	}
}

func TestControllerAddRejectsInvalidID(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodPost, "/widgets", map[string]any{"id": "has a space", "name": "gizmo"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestControllerListWithFilter(t *testing.T) {
	r, _ := newTestServer(t)
	doJSON(t, r, http.MethodPost, "/widgets", map[string]any{"name": "alpha"}, nil)
	doJSON(t, r, http.MethodPost, "/widgets", map[string]any{"name": "beta"}, nil)

	listRec := doJSON(t, r, http.MethodGet, "/widgets?$filter="+url.QueryEscape("name eq 'alpha'"), nil, nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", listRec.Code, listRec.Body.String())
	}
	var resp struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0]["name"] != "alpha" {
		t.Fatalf("expected one alpha item, got %v", resp.Items)
	}
}

func TestControllerUnknownTable(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodGet, "/nope", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered table, got %d", rec.Code)
	}
}
