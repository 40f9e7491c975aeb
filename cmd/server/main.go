package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erauner12/datasync/internal/auth"
	"github.com/erauner12/datasync/internal/authhook"
	"github.com/erauner12/datasync/internal/config"
	"github.com/erauner12/datasync/internal/db"
	"github.com/erauner12/datasync/internal/repository/postgres"
	"github.com/erauner12/datasync/internal/table"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "datasync").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	// Security validation: JWKS URL and issuer must be set together. If
	// only JWKS is set, we'd accept tokens from any issuer using those
	// keys; if only issuer is set, we'd have no JWKS to validate against.
	if (cfg.JWTJWKSURL != "" && cfg.JWTIssuer == "") || (cfg.JWTJWKSURL == "" && cfg.JWTIssuer != "") {
		log.Fatal().
			Str("issuer", cfg.JWTIssuer).
			Str("jwks_url", cfg.JWTJWKSURL).
			Msg("JWT_ISSUER and JWT_JWKS_URL must both be set or both be empty")
	}
	if !cfg.IsDevelopment() && (cfg.JWTHS256Secret == "" || cfg.JWTHS256Secret == "dev-secret-change-in-production") {
		log.Fatal().Msg("cannot start outside development mode with the default or missing JWT_HS256_SECRET")
	}

	jwtCfg := auth.Config{
		HS256Secret: cfg.JWTHS256Secret,
		DevMode:     cfg.IsDevelopment(),
		Issuer:      cfg.JWTIssuer,
		JWKSURL:     cfg.JWTJWKSURL,
		Audience:    cfg.JWTAudience,
	}
	if err := auth.InitJWKSCache(jwtCfg); err != nil {
		log.Warn().Err(err).Msg("failed to pre-fetch JWKS, will retry on first request")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, postgres.Schema); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	controller := table.New()
	for _, name := range cfg.Tables {
		repo := postgres.New(pool, name)
		if err := controller.Register(table.Config{
			Name:   name,
			Repo:   repo,
			Hook:   authhook.AllowAll{},
			MaxTop: cfg.MaxTop,
		}); err != nil {
			log.Fatal().Err(err).Str("table", name).Msg("failed to register table")
		}
	}

	var limiter table.Limiter
	rateLimitConfig := table.RateLimitConfig{
		WindowSeconds: cfg.RateLimitWindowSeconds,
		MaxRequests:   cfg.RateLimitMaxRequests,
		Burst:         cfg.RateLimitBurst,
	}
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		limiter = table.NewRedisLimiter(redis.NewClient(opt), rateLimitConfig, "datasync:ratelimit:")
		log.Info().Msg("redis-backed rate limiter enabled")
	} else {
		limiter = table.NewMemoryLimiter(rateLimitConfig)
	}

	r := chi.NewRouter()
	r.Use(table.CorrelationMiddleware)
	r.Use(table.SessionMiddleware)
	r.Use(auth.Middleware(jwtCfg))
	r.Use(table.RateLimitMiddleware(rateLimitConfig, limiter))
	controller.Mount(r, "/tables")

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Strs("tables", cfg.Tables).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("server stopped")
}
