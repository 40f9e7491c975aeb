// Package query implements the evaluator (spec.md §4.C): applying a
// parsed odata.QueryOptions tree against a repository.Repository to
// produce one page of results.
package query

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/odata"
	"github.com/erauner12/datasync/internal/repository"
)

// Page is the result of evaluating one query: the (possibly projected)
// items, an optional total count, and an optional continuation link.
type Page struct {
	Items    []*entity.Record
	Count    *int64
	NextLink string
}

// Evaluator applies query trees to a repository.
type Evaluator struct {
	Repo repository.Repository
	// MaxTop is the server-configured page-size cap (spec.md §4.E
	// default 100,000). Zero means uncapped.
	MaxTop int
}

// New builds an Evaluator bound to a repository with the given
// server-configured $top cap.
func New(repo repository.Repository, maxTop int) *Evaluator {
	return &Evaluator{Repo: repo, MaxTop: maxTop}
}

// Evaluate runs opts (already merged with the access-control data view
// by the caller, see AddDataView) against the repository and returns one
// page. requestPath is used only to compose nextLink.
func (e *Evaluator) Evaluate(ctx context.Context, opts *odata.QueryOptions, requestPath string) (*Page, error) {
	if opts.HasTop && e.MaxTop > 0 && opts.Top > e.MaxTop {
		return nil, &BadRequestError{Msg: fmt.Sprintf("$top %d exceeds server maximum %d", opts.Top, e.MaxTop)}
	}
	if opts.Top < 0 || opts.Skip < 0 {
		return nil, &BadRequestError{Msg: "negative $skip/$top"}
	}

	top := opts.Top
	if !opts.HasTop {
		top = odata.DefaultPageSize
	}
	if e.MaxTop > 0 && top > e.MaxTop {
		top = e.MaxTop
	}

	rows, err := e.Repo.Queryable(ctx)
	if err != nil {
		return nil, err
	}

	filter := opts.Filter
	if !opts.IncludeDeleted {
		deletedEqFalse := odata.BinaryNode{
			Op:    "eq",
			Left:  odata.MemberAccessNode{Name: "deleted"},
			Right: odata.ConstantNode{Value: false, EdmType: "Boolean"},
		}
		if filter == nil {
			filter = deletedEqFalse
		} else {
			filter = odata.BinaryNode{Op: "and", Left: filter, Right: deletedEqFalse}
		}
	}

	filtered := make([]*entity.Record, 0, len(rows))
	for _, rec := range rows {
		ok, err := Match(filter, rec)
		if err != nil {
			return nil, err
		}
		if ok {
			filtered = append(filtered, rec)
		}
	}

	if err := applyOrderBy(filtered, opts.OrderBy); err != nil {
		return nil, err
	}

	page := &Page{}
	if opts.Count {
		n := int64(len(filtered))
		page.Count = &n
	}

	skip := opts.Skip
	if skip > len(filtered) {
		skip = len(filtered)
	}
	rest := filtered[skip:]

	truncated := top >= 0 && len(rest) > top
	if top >= 0 && len(rest) > top {
		rest = rest[:top]
	}

	if len(opts.Select) > 0 {
		for _, rec := range rest {
			rec.Fields = project(rec.Fields, opts.Select)
		}
	}
	page.Items = rest

	if truncated {
		page.NextLink = buildNextLink(requestPath, opts, skip+len(rest))
	}

	return page, nil
}

// AddDataView ANDs the access-control hook's data-view predicate (§4.F)
// into opts.Filter, as step 1 of the evaluator algorithm in spec.md §4.C.
func AddDataView(opts *odata.QueryOptions, view odata.Node) {
	if view == nil {
		return
	}
	if opts.Filter == nil {
		opts.Filter = view
	} else {
		opts.Filter = odata.BinaryNode{Op: "and", Left: opts.Filter, Right: view}
	}
}

func project(fields map[string]any, sel []string) map[string]any {
	out := make(map[string]any, len(sel))
	keep := make(map[string]bool, len(sel))
	for _, f := range sel {
		keep[f] = true
	}
	for k, v := range fields {
		if keep[k] {
			out[k] = v
		}
	}
	return out
}

func applyOrderBy(rows []*entity.Record, clauses []odata.OrderByNode) error {
	if len(clauses) == 0 {
		return nil
	}
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for _, c := range clauses {
			vi, _ := rows[i].Field(c.Member)
			vj, _ := rows[j].Field(c.Member)
			cmp, err := compareValues(vi, vj)
			if err != nil {
				sortErr = err
				return false
			}
			if cmp == 0 {
				continue
			}
			if c.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return sortErr
}

// buildNextLink emits the request's query string with $skip advanced
// past the returned rows and any prior $skip/$top removed, per spec.md
// §4.C step 5.
func buildNextLink(requestPath string, opts *odata.QueryOptions, newSkip int) string {
	next := *opts
	next.Skip = newSkip
	next.HasSkip = true
	next.HasTop = false
	qs := next.Encode()
	u := url.URL{Path: requestPath, RawQuery: qs}
	return u.String()
}

// BadRequestError signals a malformed or out-of-range query, mapped to
// HTTP 400 by the table controller.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return "query: bad request: " + e.Msg }
