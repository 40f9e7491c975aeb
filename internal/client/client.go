// Package client is the typed service client of spec.md §4.H: one
// instance is bound to a single table endpoint and exposes add/get/
// replace/remove/count/longCount/query/getPage over it, attaching
// conditional headers from an options bag and translating 409/412
// bodies into a typed Conflict.
//
// The request pipeline mirrors internal/mcpserver/client/httpclient.go's
// shape (correlation id, auth header injection) but generalizes header
// injection into an ordered list of Interceptors, per spec.md §6's
// "HTTP pipeline: ordered list of request/response interceptors".
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/erauner12/datasync/internal/entity"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Get/Replace/Remove when the server reports
// 404/410 and the call's ThrowIfMissing option (default true) is set.
var ErrNotFound = errors.New("client: does not exist")

// Conflict is returned on 409/412, carrying both what the caller tried
// to submit and the server's current copy so the caller can reconcile
// without a second Get (spec.md §4.E "Conflict response body").
type Conflict struct {
	StatusCode int
	Submitted  *entity.Record
	Current    *entity.Record
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("client: conflict (status %d)", c.StatusCode)
}

// HTTPStatusError is returned for any response this client does not
// have a more specific type for (anything outside 2xx/404/410/409/412),
// so callers like the push driver can classify 5xx/network-adjacent
// failures as transient (spec.md §7 "Transient") without string-matching
// an error message.
type HTTPStatusError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("client: HTTP %d: %s", e.StatusCode, string(e.Body))
}

// Retryable reports whether the status is a 5xx the caller should treat
// as transient (spec.md §7).
func (e *HTTPStatusError) Retryable() bool { return e.StatusCode >= 500 }

// Response carries the raw outcome of a call made with ThrowIfMissing
// disabled, so the caller can inspect a non-2xx result without an
// error value.
type Response struct {
	StatusCode int
	Entity     *entity.Record
}

func (r *Response) Successful() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Options is the per-call options bag of spec.md §4.H.
type Options struct {
	// Version, if set, holds raw version bytes (as a string) that are
	// quoted into If-Match or If-None-Match, whichever flag is set,
	// instead of the version of the entity passed to Replace. Remove has
	// no entity, so only Version supplies its tag.
	Version string
	// IfMatch attaches If-Match: "<version>" using Version if set,
	// otherwise the version of the entity passed to Replace.
	IfMatch bool
	// IfNoneMatch attaches If-None-Match instead of If-Match.
	IfNoneMatch bool
	// IncludeDeleted requests __includedeleted=true on reads.
	IncludeDeleted bool
	// ThrowIfMissing controls 404 behavior for Get/Replace/Remove.
	// Defaults to true when nil.
	ThrowIfMissing *bool
}

func (o Options) throwIfMissing() bool {
	if o.ThrowIfMissing == nil {
		return true
	}
	return *o.ThrowIfMissing
}

// Interceptor wraps an http.RoundTripper, in the style of net/http
// middleware chains: each interceptor decorates the RoundTripper below
// it, so the outermost interceptor in the configured list runs first.
type Interceptor func(http.RoundTripper) http.RoundTripper

// Config configures one Client bound to a single table.
type Config struct {
	// BaseURL is the absolute URI of the service root (spec.md §6).
	BaseURL string
	// BasePath is the path segment the table controller is mounted
	// under (see internal/table.Controller.Mount); defaults to
	// "tables" if empty.
	BasePath string
	// Table is the table name segment, e.g. "widgets".
	Table string
	// HTTPClient is the transport to wrap; defaults to a client with
	// Timeout if nil.
	HTTPClient *http.Client
	// Interceptors is applied outermost-first (see Interceptor).
	Interceptors []Interceptor
	// Headers are merged into every request, lowest priority (an
	// interceptor or a per-call header can override these).
	Headers map[string]string
	// Timeout is the per-call timeout (spec.md §5, default 60s).
	Timeout time.Duration
}

// Client is a typed CRUD/query client over one table endpoint.
type Client struct {
	base     *url.URL
	basePath string
	table    string
	http     *http.Client
	headers  map[string]string
	timeout  time.Duration
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid base url: %w", err)
	}

	transport := cfg.HTTPClient
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if transport != nil {
		*httpClient = *transport
		httpClient.Timeout = timeout
	}
	rt := httpClient.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	for i := len(cfg.Interceptors) - 1; i >= 0; i-- {
		rt = cfg.Interceptors[i](rt)
	}
	httpClient.Transport = rt

	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "tables"
	}

	return &Client{
		base:     base,
		basePath: basePath,
		table:    cfg.Table,
		http:     httpClient,
		headers:  cfg.Headers,
		timeout:  timeout,
	}, nil
}

func (c *Client) tableURL(suffix string) string {
	u := *c.base
	u.Path = joinPath(u.Path, c.basePath, c.table) + suffix
	return u.String()
}

func joinPath(parts ...string) string {
	out := ""
	for _, p := range parts {
		for len(p) > 0 && p[0] == '/' {
			p = p[1:]
		}
		for len(p) > 0 && p[len(p)-1] == '/' {
			p = p[:len(p)-1]
		}
		if p == "" {
			continue
		}
		out += "/" + p
	}
	if out == "" {
		return "/"
	}
	return out
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", uuid.NewString())
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func applyConditionalHeaders(req *http.Request, opts Options, current *entity.Record) {
	version := opts.Version
	if version == "" && current != nil {
		version = entity.QuoteETag(current.Meta.Version)
	} else if version != "" {
		version = entity.QuoteETag([]byte(version))
	}
	if version == "" {
		return
	}
	if opts.IfNoneMatch {
		req.Header.Set("If-None-Match", version)
	} else if opts.IfMatch {
		req.Header.Set("If-Match", version)
	}
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("client: http request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("client: read response body: %w", err)
	}
	return resp, data, nil
}

// decodeConflict builds a Conflict from a 409/412 response body, which
// carries the server's current entity in the same JSON shape as a read
// response (spec.md §6 "Error body").
func decodeConflict(statusCode int, submitted *entity.Record, data []byte) error {
	conflict := &Conflict{StatusCode: statusCode, Submitted: submitted}
	if len(data) > 0 {
		var current entity.Record
		if err := json.Unmarshal(data, &current); err == nil {
			conflict.Current = &current
		}
	}
	return conflict
}

func isMissing(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

// Add creates a new row via POST /tables/{table}.
// Add creates a row via POST /tables/{table}. opts.IfNoneMatch attaches
// If-None-Match: * (spec.md §4.E), asking the server to create only if
// no entity with this id exists yet; there is no prior version to quote
// for a not-yet-created row, so this is the one case
// applyConditionalHeaders' per-version logic doesn't apply.
func (c *Client) Add(ctx context.Context, rec *entity.Record, opts Options) (*entity.Record, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.tableURL(""), rec)
	if err != nil {
		return nil, err
	}
	if opts.IfNoneMatch {
		req.Header.Set("If-None-Match", "*")
	}
	resp, data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusCreated:
		var out entity.Record
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("client: decode add response: %w", err)
		}
		return &out, nil
	case resp.StatusCode == http.StatusConflict:
		return nil, decodeConflict(resp.StatusCode, rec, data)
	default:
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: data}
	}
}

// Get reads one row by id via GET /tables/{table}/{id}.
func (c *Client) Get(ctx context.Context, id string, opts Options) (*entity.Record, error) {
	u := c.tableURL("/" + url.PathEscape(id))
	if opts.IncludeDeleted {
		u += "?__includedeleted=true"
	}
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	applyConditionalHeaders(req, opts, nil)

	resp, data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		var out entity.Record
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("client: decode get response: %w", err)
		}
		return &out, nil
	case resp.StatusCode == http.StatusNotModified:
		return nil, nil
	case isMissing(resp.StatusCode):
		if opts.throwIfMissing() {
			return nil, ErrNotFound
		}
		return nil, nil
	default:
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: data}
	}
}

// Replace overwrites a row via PUT /tables/{table}/{id}. rec.Meta.ID
// selects the row; rec.Meta.Version (or opts.Version) supplies If-Match
// when opts.IfMatch is true.
func (c *Client) Replace(ctx context.Context, rec *entity.Record, opts Options) (*entity.Record, error) {
	if rec.Meta.ID == "" {
		return nil, errors.New("client: replace requires a non-empty id")
	}
	u := c.tableURL("/" + url.PathEscape(rec.Meta.ID))
	req, err := c.newRequest(ctx, http.MethodPut, u, rec)
	if err != nil {
		return nil, err
	}
	applyConditionalHeaders(req, opts, rec)

	resp, data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		var out entity.Record
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("client: decode replace response: %w", err)
		}
		return &out, nil
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusPreconditionFailed:
		return nil, decodeConflict(resp.StatusCode, rec, data)
	case isMissing(resp.StatusCode):
		if opts.throwIfMissing() {
			return nil, ErrNotFound
		}
		return nil, nil
	default:
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: data}
	}
}

// Remove soft-deletes a row via DELETE /tables/{table}/{id}.
func (c *Client) Remove(ctx context.Context, id string, opts Options) (*Response, error) {
	u := c.tableURL("/" + url.PathEscape(id))
	req, err := c.newRequest(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return nil, err
	}
	applyConditionalHeaders(req, opts, nil)

	resp, data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return &Response{StatusCode: resp.StatusCode}, nil
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusPreconditionFailed:
		return nil, decodeConflict(resp.StatusCode, nil, data)
	case isMissing(resp.StatusCode):
		if opts.throwIfMissing() {
			return nil, ErrNotFound
		}
		return &Response{StatusCode: resp.StatusCode}, nil
	default:
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: data}
	}
}

// Page is one page of a query result, mirroring internal/table's
// listResponse wire shape.
type Page struct {
	Items    []*entity.Record `json:"items"`
	Count    *int64           `json:"count,omitempty"`
	NextLink string           `json:"nextLink,omitempty"`
}

// GetPage issues a raw OData query string against the table and returns
// the single page the server replies with, unfollowed.
func (c *Client) GetPage(ctx context.Context, queryString string) (*Page, error) {
	u := c.tableURL("")
	if queryString != "" {
		u += "?" + queryString
	}
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: data}
	}
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("client: decode query response: %w", err)
	}
	return &page, nil
}

// Query starts a lazily-paged iteration over queryString, following the
// server's nextLink across pages as the caller consumes items (spec.md
// §4.H "query drives the paging loop").
func (c *Client) Query(queryString string) *Pager {
	return &Pager{client: c, nextQuery: queryString, hasMore: true}
}

// GetByLink issues a GET against a server-supplied nextLink (exported
// for the pull driver, which needs to follow pages without going
// through a Pager).
func (c *Client) GetByLink(ctx context.Context, link string) (*Page, error) {
	return c.getPageByLink(ctx, link)
}

// Count returns the number of matching rows via $top=0&$count=true.
func (c *Client) Count(ctx context.Context, filter string) (int64, error) {
	return c.count(ctx, filter)
}

// LongCount is identical to Count; both exist for parity with spec.md
// §4.H's naming (clients distinguish Int32 vs Int64 counters, Go does
// not need to).
func (c *Client) LongCount(ctx context.Context, filter string) (int64, error) {
	return c.count(ctx, filter)
}

func (c *Client) count(ctx context.Context, filter string) (int64, error) {
	q := "$top=0&$count=true"
	if filter != "" {
		q = "$filter=" + url.QueryEscape(filter) + "&" + q
	}
	u := c.tableURL("") + "?" + q
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, data, err := c.do(req)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &HTTPStatusError{StatusCode: resp.StatusCode, Body: data}
	}
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return 0, fmt.Errorf("client: decode count response: %w", err)
	}
	if page.Count == nil {
		return 0, errors.New("client: count response did not include a count")
	}
	return *page.Count, nil
}

// Pager walks a query result across server-paginated nextLinks.
type Pager struct {
	client    *Client
	nextQuery string // unresolved on first call: raw query string; after that, server's nextLink
	resolved  bool   // true once nextQuery holds a server nextLink rather than the caller's query
	items     []*entity.Record
	idx       int
	count     *int64
	hasMore   bool
	err       error
}

// Next advances to and returns the next item, fetching additional pages
// from the server as needed. ok is false once the sequence is exhausted
// or an error occurred; call Err to distinguish the two.
func (p *Pager) Next(ctx context.Context) (rec *entity.Record, ok bool) {
	for p.idx >= len(p.items) {
		if !p.hasMore || p.err != nil {
			return nil, false
		}
		if err := p.fetch(ctx); err != nil {
			p.err = err
			return nil, false
		}
	}
	rec = p.items[p.idx]
	p.idx++
	return rec, true
}

// Err returns the error that stopped iteration, if any.
func (p *Pager) Err() error { return p.err }

// Count returns the server-reported total, if $count=true was present
// in the query and a page has already been fetched.
func (p *Pager) Count() *int64 { return p.count }

func (p *Pager) fetch(ctx context.Context) error {
	var page *Page
	var err error
	if !p.resolved {
		page, err = p.client.GetPage(ctx, p.nextQuery)
	} else {
		page, err = p.client.getPageByLink(ctx, p.nextQuery)
	}
	if err != nil {
		return err
	}
	p.resolved = true
	p.items = page.Items
	p.idx = 0
	if page.Count != nil {
		p.count = page.Count
	}
	p.nextQuery = page.NextLink
	p.hasMore = page.NextLink != ""
	return nil
}

// getPageByLink issues a GET against a server-supplied nextLink, which
// is a path + query string relative to the service root (spec.md §4.C
// "buildNextLink").
func (c *Client) getPageByLink(ctx context.Context, link string) (*Page, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("client: invalid nextLink: %w", err)
	}
	resolved := c.base.ResolveReference(ref)
	req, err := c.newRequest(ctx, http.MethodGet, resolved.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: data}
	}
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("client: decode query response: %w", err)
	}
	return &page, nil
}
