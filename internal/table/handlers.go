package table

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/erauner12/datasync/internal/auth"
	"github.com/erauner12/datasync/internal/authhook"
	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/odata"
	"github.com/erauner12/datasync/internal/query"
	"github.com/erauner12/datasync/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ServeHTTP-style entry points are registered per-method by router.go;
// each one resolves the {table} URL segment to a registration and then
// performs the operation described in spec.md §4.E.

func (c *Controller) handleList(w http.ResponseWriter, r *http.Request) {
	reg, ok := c.resolveTable(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	ok, authorized, err := reg.visibleAndAuthorized(ctx, authhook.OpQuery, nil)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if !authorized {
		writeUnauthorized(w, r)
		return
	}

	opts, err := odata.ParseQueryOptions(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	view, err := reg.hook.DataView(ctx, reg.name)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	query.AddDataView(opts, view)

	page, err := reg.eval.Evaluate(ctx, opts, r.URL.Path)
	if err != nil {
		var badReq *query.BadRequestError
		if errors.As(err, &badReq) {
			writeError(w, r, http.StatusBadRequest, badReq.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	resp := listResponse{Items: page.Items, Count: page.Count, NextLink: page.NextLink}
	writeJSON(w, http.StatusOK, resp)
}

type listResponse struct {
	Items    []*entity.Record `json:"items"`
	Count    *int64           `json:"count,omitempty"`
	NextLink string           `json:"nextLink,omitempty"`
}

func (c *Controller) handleGet(w http.ResponseWriter, r *http.Request) {
	reg, ok := c.resolveTable(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	rec, err := reg.repo.Read(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	visible, authorized, err := reg.visibleAndAuthorized(ctx, authhook.OpRead, rec)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if !visible {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if !authorized {
		writeUnauthorized(w, r)
		return
	}

	includeDeleted := r.URL.Query().Get("__includedeleted") == "true"
	if rec.Meta.Deleted && !includeDeleted {
		writeError(w, r, http.StatusGone, "entity has been deleted")
		return
	}

	if status := readPrecondition(r, rec); status == http.StatusNotModified {
		w.Header().Set("ETag", entity.QuoteETag(rec.Meta.Version))
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", entity.QuoteETag(rec.Meta.Version))
	writeJSON(w, http.StatusOK, rec)
}

func (c *Controller) handleAdd(w http.ResponseWriter, r *http.Request) {
	reg, ok := c.resolveTable(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var rec entity.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if rec.Meta.ID != "" && !entity.ValidateID(rec.Meta.ID) {
		writeError(w, r, http.StatusBadRequest, "invalid id")
		return
	}

	_, authorized, err := reg.visibleAndAuthorized(ctx, authhook.OpAdd, &rec)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if !authorized {
		writeUnauthorized(w, r)
		return
	}

	if err := reg.hook.PreCommit(ctx, reg.name, authhook.OpAdd, &rec); err != nil {
		writeError(w, r, http.StatusInternalServerError, "preCommit rejected request: "+err.Error())
		return
	}

	stored, err := reg.repo.Create(ctx, &rec)
	if err != nil {
		var dup *repository.DuplicateIDError
		if errors.As(err, &dup) {
			writeConflict(w, http.StatusConflict, dup.Current)
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	reg.hook.PostCommit(ctx, reg.name, authhook.OpAdd, stored)

	w.Header().Set("ETag", entity.QuoteETag(stored.Meta.Version))
	w.Header().Set("Location", r.URL.Path+"/"+stored.Meta.ID)
	writeJSON(w, http.StatusCreated, stored)
}

func (c *Controller) handleReplace(w http.ResponseWriter, r *http.Request) {
	reg, ok := c.resolveTable(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var rec entity.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if rec.Meta.ID != "" && rec.Meta.ID != id {
		writeError(w, r, http.StatusBadRequest, "body id does not match URL")
		return
	}
	rec.Meta.ID = id

	existing, err := reg.repo.Read(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	visible, authorized, err := reg.visibleAndAuthorized(ctx, authhook.OpReplace, existing)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if !visible {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if !authorized {
		writeUnauthorized(w, r)
		return
	}
	if existing.Meta.Deleted {
		writeError(w, r, http.StatusGone, "entity has been deleted")
		return
	}

	pre := writePrecondition(r, existing)
	if pre.conflict {
		writeConflict(w, http.StatusPreconditionFailed, existing)
		return
	}

	if err := reg.hook.PreCommit(ctx, reg.name, authhook.OpReplace, &rec); err != nil {
		writeError(w, r, http.StatusInternalServerError, "preCommit rejected request: "+err.Error())
		return
	}

	stored, err := reg.repo.Replace(ctx, &rec, pre.expectedVersion)
	if err != nil {
		var pf *repository.PreconditionFailedError
		if errors.As(err, &pf) {
			writeConflict(w, pre.raceStatus, pf.Current)
			return
		}
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	reg.hook.PostCommit(ctx, reg.name, authhook.OpReplace, stored)

	w.Header().Set("ETag", entity.QuoteETag(stored.Meta.Version))
	writeJSON(w, http.StatusOK, stored)
}

func (c *Controller) handleDelete(w http.ResponseWriter, r *http.Request) {
	reg, ok := c.resolveTable(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	existing, err := reg.repo.Read(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	visible, authorized, err := reg.visibleAndAuthorized(ctx, authhook.OpDelete, existing)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if !visible {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if !authorized {
		writeUnauthorized(w, r)
		return
	}
	if existing.Meta.Deleted {
		writeError(w, r, http.StatusGone, "entity has been deleted")
		return
	}

	pre := writePrecondition(r, existing)
	if pre.conflict {
		writeConflict(w, http.StatusPreconditionFailed, existing)
		return
	}

	if err := reg.hook.PreCommit(ctx, reg.name, authhook.OpDelete, existing); err != nil {
		writeError(w, r, http.StatusInternalServerError, "preCommit rejected request: "+err.Error())
		return
	}

	stored, err := reg.repo.Delete(ctx, id, pre.expectedVersion)
	if err != nil {
		var pf *repository.PreconditionFailedError
		if errors.As(err, &pf) {
			writeConflict(w, pre.raceStatus, pf.Current)
			return
		}
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	reg.hook.PostCommit(ctx, reg.name, authhook.OpDelete, stored)
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) resolveTable(w http.ResponseWriter, r *http.Request) (*registration, bool) {
	name := chi.URLParam(r, "table")
	reg, ok := c.lookup(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown table "+name)
		return nil, false
	}
	return reg, true
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	if auth.Subject(r.Context()) == "" {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeError(w, r, http.StatusForbidden, "forbidden")
}

func writeConflict(w http.ResponseWriter, status int, current *entity.Record) {
	w.Header().Set("Content-Type", "application/json")
	if current != nil {
		w.Header().Set("ETag", entity.QuoteETag(current.Meta.Version))
	}
	w.WriteHeader(status)
	if current != nil {
		if err := json.NewEncoder(w).Encode(current); err != nil {
			log.Error().Err(err).Msg("failed to encode conflict response")
		}
	}
}
