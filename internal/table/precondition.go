package table

import (
	"net/http"
	"strings"

	"github.com/erauner12/datasync/internal/entity"
)

// parseETagList splits a comma-separated If-Match/If-None-Match header
// into its individual tags, stripping the surrounding quotes and the
// weak-validator prefix RFC 7232 §2.3 allows (though every tag this
// server issues is strong). A bare "*" is returned unquoted.
func parseETagList(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, "W/")
		if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
			p = p[1 : len(p)-1]
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// etagListMatches reports whether any tag in tags matches current's
// version, with "*" matching any existing entity.
func etagListMatches(tags []string, current *entity.Record) bool {
	for _, t := range tags {
		if t == "*" {
			return true
		}
		if t == current.Meta.ETag() {
			return true
		}
	}
	return false
}

// readPrecondition evaluates the read-path conditional headers
// (If-None-Match, If-Modified-Since) against current, per spec.md §4.E.
// statusCode is 0 when the request should proceed to a normal 200.
func readPrecondition(r *http.Request, current *entity.Record) (statusCode int) {
	if tags := parseETagList(r.Header.Get("If-None-Match")); len(tags) > 0 {
		if etagListMatches(tags, current) {
			return http.StatusNotModified
		}
		return 0
	}
	if hdr := r.Header.Get("If-Modified-Since"); hdr != "" {
		if t, err := http.ParseTime(hdr); err == nil {
			if !current.Meta.UpdatedAt.After(t) {
				return http.StatusNotModified
			}
		}
	}
	return 0
}

// writePreconditionResult reports the outcome of evaluating the
// write-path conditional headers (If-Match, If-None-Match,
// If-Unmodified-Since) against current, per spec.md §4.E and the
// 412-vs-409 split used throughout this package: a violated header the
// client actually sent is always 412; a conflict detected only because
// the repository raced underneath the read is 412 when the client sent
// If-Match and 409 otherwise.
type writePreconditionResult struct {
	// conflict is true when the request must be rejected before the
	// mutation is attempted (an If-* header failed outright).
	conflict bool
	// raceStatus is the HTTP status to use if the repository itself reports
	// a precondition failure (i.e. a concurrent write slipped in between
	// this check and the commit).
	raceStatus int
	// expectedVersion is passed to repository.Repository.Replace/Delete
	// so the mutation stays atomic with the version this handler read.
	expectedVersion []byte
}

func writePrecondition(r *http.Request, current *entity.Record) writePreconditionResult {
	if tags := parseETagList(r.Header.Get("If-None-Match")); len(tags) > 0 {
		if etagListMatches(tags, current) {
			return writePreconditionResult{conflict: true}
		}
	}
	if tags := parseETagList(r.Header.Get("If-Match")); len(tags) > 0 {
		if !etagListMatches(tags, current) {
			return writePreconditionResult{conflict: true}
		}
		return writePreconditionResult{raceStatus: http.StatusPreconditionFailed, expectedVersion: current.Meta.Version}
	}
	if hdr := r.Header.Get("If-Unmodified-Since"); hdr != "" {
		if t, err := http.ParseTime(hdr); err == nil && current.Meta.UpdatedAt.After(t) {
			return writePreconditionResult{conflict: true}
		}
	}
	return writePreconditionResult{raceStatus: http.StatusConflict, expectedVersion: current.Meta.Version}
}
