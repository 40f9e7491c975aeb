// Package deltatoken implements the delta-token store of spec.md §4.J:
// a small key-value map, keyed by token id, recording how far a given
// pull query has progressed. internal/clientstore's sqlite
// implementation is the durable Store this contract requires in
// production; Store here is deliberately storage-agnostic so the pull
// driver (internal/pull) can be tested against an in-memory one.
package deltatoken

import (
	"context"
	"crypto/md5" //nolint:gosec // used only as a stable, short id derivation, not for security
	"encoding/hex"
	"fmt"
)

// Store is the contract spec.md §4.J requires: get/set/remove, and
// transactional participation with the local entity store so a crash
// between applying a page and advancing the token cannot lose rows.
// WithTx is how the pull driver asks for that joint transaction; a
// Store that backs onto the same database as the local entity mirror
// implements it by running fn inside one SQL transaction.
type Store interface {
	Get(ctx context.Context, id string) (value int64, ok bool, err error)
	Set(ctx context.Context, id string, value int64) error
	Remove(ctx context.Context, id string) error
	// WithTx runs fn inside a single transaction shared with the local
	// entity store, committing only if fn returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TokenID computes the token id for a pull request, per spec.md §4.L
// step 1:
//   - queryID == nil (NoQueryID()) -> the type name alone.
//   - queryID == "" -> "q-<type>-<md5(queryString)>".
//   - queryID != ""  -> "q-<type>-<queryID>".
func TokenID(typeName string, queryID *string, queryString string) string {
	if queryID == nil {
		return typeName
	}
	if *queryID == "" {
		sum := md5.Sum([]byte(queryString)) //nolint:gosec
		return fmt.Sprintf("q-%s-%s", typeName, hex.EncodeToString(sum[:]))
	}
	return fmt.Sprintf("q-%s-%s", typeName, *queryID)
}

// NoQueryID is the sentinel spec.md §4.L calls "queryId null": the
// token id collapses to the fully-qualified type name so every
// unfiltered pull of a type shares one watermark.
func NoQueryID() *string { return nil }

// EmptyQueryID requests the "queryId empty string" behavior: the token
// id is derived from a hash of the query text, so distinct filters on
// the same type get independent watermarks without the caller having
// to name them.
func EmptyQueryID() *string {
	s := ""
	return &s
}

// NamedQueryID requests the "queryId non-empty" behavior: the caller
// names the watermark explicitly.
func NamedQueryID(id string) *string { return &id }
