// Package table implements the server HTTP surface (spec.md §4.E): one
// generic controller, registered per table name, that wires a
// repository.Repository and an authhook.Hook through the query
// evaluator. Unlike a per-entity-type handler set, a single Controller
// instance serves every registered table; the URL's tableName segment
// selects which registration applies.
package table

import (
	"context"
	"fmt"
	"sync"

	"github.com/erauner12/datasync/internal/authhook"
	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/query"
	"github.com/erauner12/datasync/internal/repository"
	"github.com/rs/zerolog/log"
)

// Config registers one table with a Controller.
type Config struct {
	Name string
	Repo repository.Repository
	Hook authhook.Hook // defaults to authhook.AllowAll{} if nil
	// MaxTop caps $top server-side (spec.md §4.E default 100,000). Zero
	// falls back to DefaultMaxTop.
	MaxTop int
}

// DefaultMaxTop is the server-configured $top cap applied when a Config
// leaves MaxTop at zero.
const DefaultMaxTop = 100_000

type registration struct {
	name string
	repo repository.Repository
	hook authhook.Hook
	eval *query.Evaluator
}

// Controller dispatches table operations for every registered table. The
// zero value is not ready to use; build one with New.
type Controller struct {
	mu    sync.RWMutex
	table map[string]*registration
}

// New builds an empty Controller.
func New() *Controller {
	return &Controller{table: map[string]*registration{}}
}

// Register adds a table. Registering the same name twice replaces the
// prior registration.
func (c *Controller) Register(cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("table: Config.Name is required")
	}
	if cfg.Repo == nil {
		return fmt.Errorf("table: Config.Repo is required for table %q", cfg.Name)
	}
	hook := cfg.Hook
	if hook == nil {
		hook = authhook.AllowAll{}
	}
	maxTop := cfg.MaxTop
	if maxTop == 0 {
		maxTop = DefaultMaxTop
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[cfg.Name] = &registration{
		name: cfg.Name,
		repo: cfg.Repo,
		hook: hook,
		eval: query.New(cfg.Repo, maxTop),
	}
	log.Info().Str("table", cfg.Name).Msg("registered table")
	return nil
}

// Names lists every registered table, for diagnostics.
func (c *Controller) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.table))
	for name := range c.table {
		out = append(out, name)
	}
	return out
}

func (c *Controller) lookup(name string) (*registration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.table[name]
	return reg, ok
}

// visibleAndAuthorized applies the data view (if ent is non-nil) and the
// hook's authorization predicate. visible=false means the caller should
// receive a 404 — either the row genuinely doesn't exist or it exists
// outside the caller's data view, and the controller deliberately does
// not distinguish the two. authorized=false (with visible=true) means
// the caller should receive 401/403.
func (reg *registration) visibleAndAuthorized(ctx context.Context, op authhook.Operation, ent *entity.Record) (visible, authorized bool, err error) {
	if ent != nil {
		view, err := reg.hook.DataView(ctx, reg.name)
		if err != nil {
			return false, false, err
		}
		if view != nil {
			ok, err := query.Match(view, ent)
			if err != nil {
				return false, false, err
			}
			if !ok {
				return false, false, nil
			}
		}
	}
	ok, err := reg.hook.IsAuthorized(ctx, reg.name, op, ent)
	if err != nil {
		return true, false, err
	}
	return true, ok, nil
}
