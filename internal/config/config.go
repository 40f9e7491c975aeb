// Package config binds environment variables into strongly-typed
// configuration structs with github.com/caarlos0/env, the same
// struct-tag convention taibuivan-yomira's internal/platform/config
// uses, replacing the teacher's untyped env(k, def) helper in
// cmd/server/main.go.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the reference table-controller server's runtime
// configuration (cmd/server).
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	DatabaseURL string `env:"DATABASE_URL,required"`

	JWTHS256Secret string `env:"JWT_HS256_SECRET" envDefault:"dev-secret-change-in-production"`
	JWTIssuer      string `env:"JWT_ISSUER"`
	JWTJWKSURL     string `env:"JWT_JWKS_URL"`
	JWTAudience    string `env:"JWT_AUDIENCE"`

	RedisURL string `env:"REDIS_URL"`

	RateLimitWindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	RateLimitMaxRequests   int `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"600"`
	RateLimitBurst         int `env:"RATE_LIMIT_BURST" envDefault:"120"`

	MaxTop int `env:"MAX_TOP" envDefault:"100000"`

	// Tables lists the table names the server registers at startup, each
	// backed by its own internal/repository/postgres.Repository over the
	// shared datasync_entities store.
	Tables []string `env:"DATASYNC_TABLES" envDefault:"items" envSeparator:","`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// IsDevelopment reports whether ENVIRONMENT is the development default.
func (c *Config) IsDevelopment() bool { return c.Environment == "development" }

// Load parses Config from the environment, failing if a required field
// is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse server config: %w", err)
	}
	return cfg, nil
}

// ClientConfig is the offline client engine's runtime configuration
// (cmd/datasyncctl and any embedding application): where the service
// lives, which sqlite file backs the local store, and the push/pull
// tuning knobs spec.md §5/§6/§7 expose as driver options.
type ClientConfig struct {
	ServiceURL string `env:"DATASYNC_SERVICE_URL,required"`
	BasePath   string `env:"DATASYNC_BASE_PATH" envDefault:"tables"`

	LocalStorePath string `env:"DATASYNC_LOCAL_STORE_PATH" envDefault:"./datasync-client.db"`

	BearerToken string `env:"DATASYNC_BEARER_TOKEN"`
	SessionID   string `env:"DATASYNC_SESSION_ID"`

	PushParallelism              int  `env:"DATASYNC_PUSH_PARALLELISM" envDefault:"1"`
	PullParallelOperations       int  `env:"DATASYNC_PULL_PARALLEL_OPERATIONS" envDefault:"1"`
	SaveAfterEveryServiceRequest bool `env:"DATASYNC_SAVE_AFTER_EVERY_SERVICE_REQUEST" envDefault:"false"`

	HTTPTimeout time.Duration `env:"DATASYNC_HTTP_TIMEOUT" envDefault:"60s"`
}

// LoadClientConfig parses ClientConfig from the environment.
func LoadClientConfig() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse client config: %w", err)
	}
	return cfg, nil
}
