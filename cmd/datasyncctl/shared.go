package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/erauner12/datasync/internal/client"
	"github.com/erauner12/datasync/internal/clientstore/sqlite"
	"github.com/erauner12/datasync/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// engine bundles the local store and one typed client per table, built
// fresh for each command invocation from the process environment.
type engine struct {
	cfg   *config.ClientConfig
	store *sqlite.Store
}

func newEngine() (*engine, error) {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return nil, err
	}
	store, err := sqlite.Open(cfg.LocalStorePath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	return &engine{cfg: cfg, store: store}, nil
}

func (e *engine) close() { e.store.Close() }

// clientFor builds a typed client for one table, attaching the bearer
// token and session interceptors configured via the environment.
func (e *engine) clientFor(table string) (*client.Client, error) {
	var interceptors []client.Interceptor
	if e.cfg.BearerToken != "" {
		interceptors = append(interceptors, client.BearerTokenInterceptor(func() (string, error) {
			return e.cfg.BearerToken, nil
		}))
	}
	if e.cfg.SessionID != "" {
		interceptors = append(interceptors, client.SessionInterceptor(e.cfg.SessionID))
	}
	interceptors = append(interceptors, client.LoggingInterceptor(log.Logger))

	return client.New(client.Config{
		BaseURL:      e.cfg.ServiceURL,
		BasePath:     e.cfg.BasePath,
		Table:        table,
		Interceptors: interceptors,
		Timeout:      e.cfg.HTTPTimeout,
	})
}

func requireTables() error {
	if len(tables) == 0 {
		return fmt.Errorf("at least one --table is required")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
