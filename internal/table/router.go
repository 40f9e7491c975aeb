package table

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Mount wires every registered table under basePath onto r, one chi
// sub-route per table name carrying the five operations of spec.md
// §4.E. Call Mount once all tables are Register-ed.
func (c *Controller) Mount(r chi.Router, basePath string) {
	r.Route(basePath+"/{table}", func(tr chi.Router) {
		tr.Get("/", c.handleList)
		tr.Post("/", c.handleAdd)
		tr.Get("/{id}", c.handleGet)
		tr.Put("/{id}", c.handleReplace)
		tr.Delete("/{id}", c.handleDelete)
	})
}

// errorBody is the JSON shape of every non-2xx response that isn't a
// 409/412 conflict (spec.md §6 "Error body").
type errorBody struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(errorBody{
		Error:         message,
		CorrelationID: GetCorrelationID(r.Context()),
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode error response")
	}
}
