// Package auth provides bearer-token authentication for the table
// controller: JWT validation (RS256 against a JWKS endpoint, or HS256
// against a shared secret for dev/testing) plus an HTTP middleware that
// attaches the validated subject to the request context.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type ctxKey string

// SubjectKey is the context key under which the validated JWT subject
// (or dev-mode debug header) is stored.
const SubjectKey ctxKey = "datasync_subject"

// Config holds JWT authentication configuration.
type Config struct {
	HS256Secret       string   // HMAC secret for HS256 tokens (dev/testing)
	DevMode           bool     // allow X-Debug-Sub header (DANGEROUS: local dev only)
	Issuer            string   // expected issuer claim
	JWKSURL           string   // JWKS endpoint for RS256 validation
	Audience          string   // primary expected audience claim
	AcceptedAudiences []string // additional accepted audiences
}

// jwksCache caches an upstream IdP's RSA public keys by key ID.
type jwksCache struct {
	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	lastFetch  time.Time
	cacheTTL   time.Duration
	jwksURL    string
	httpClient *http.Client
}

var globalJWKSCache *jwksCache

type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (c *jwksCache) fetchJWKS(forceRefresh bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !forceRefresh && time.Since(c.lastFetch) < c.cacheTTL && len(c.keys) > 0 {
		return nil
	}

	resp, err := c.httpClient.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read JWKS response: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("parse JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || key.Use != "sig" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
		if err != nil {
			log.Warn().Err(err).Str("kid", key.Kid).Msg("failed to decode modulus")
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
		if err != nil {
			log.Warn().Err(err).Str("kid", key.Kid).Msg("failed to decode exponent")
			continue
		}
		var eInt int
		for _, b := range eBytes {
			eInt = eInt<<8 | int(b)
		}
		keys[key.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: eInt}
	}

	if len(keys) == 0 {
		return errors.New("no valid RSA signing keys found in JWKS")
	}

	c.keys = keys
	c.lastFetch = time.Now()
	log.Info().Int("key_count", len(keys)).Msg("refreshed JWKS cache")
	return nil
}

func (c *jwksCache) getPublicKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	cacheExpired := time.Since(c.lastFetch) >= c.cacheTTL
	c.mu.RUnlock()

	if cacheExpired {
		if err := c.fetchJWKS(false); err != nil {
			log.Warn().Err(err).Msg("failed to refresh expired JWKS cache, using stale keys")
		}
	}

	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	if err := c.fetchJWKS(true); err != nil {
		return nil, fmt.Errorf("fetch JWKS for missing key %s: %w", kid, err)
	}
	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key ID %s not found in JWKS even after refresh", kid)
	}
	return key, nil
}

// ValidateToken validates a JWT (RS256 via JWKS, or HS256 via shared
// secret) and returns its subject claim.
func ValidateToken(tokenString string, cfg Config) (string, error) {
	if tokenString == "" {
		return "", errors.New("token is empty")
	}
	if cfg.JWKSURL != "" && globalJWKSCache == nil {
		return "", errors.New("JWKS cache not initialized")
	}

	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			if globalJWKSCache == nil {
				return nil, errors.New("JWKS cache not initialized")
			}
			kid, ok := t.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, errors.New("missing kid in token header")
			}
			return globalJWKSCache.getPublicKey(kid)
		case *jwt.SigningMethodHMAC:
			if cfg.HS256Secret == "" {
				return nil, errors.New("HS256 secret not configured")
			}
			return []byte(cfg.HS256Secret), nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
	})
	if err != nil || !t.Valid {
		return "", fmt.Errorf("jwt validation failed: %w", err)
	}

	if cfg.Issuer != "" {
		if iss, ok := claims["iss"].(string); !ok || iss != cfg.Issuer {
			return "", fmt.Errorf("invalid issuer: expected %s, got %v", cfg.Issuer, claims["iss"])
		}
	}
	if cfg.Audience != "" || len(cfg.AcceptedAudiences) > 0 {
		accepted := make([]string, 0, len(cfg.AcceptedAudiences)+1)
		if cfg.Audience != "" {
			accepted = append(accepted, cfg.Audience)
		}
		accepted = append(accepted, cfg.AcceptedAudiences...)
		if !audienceMatches(claims["aud"], accepted) {
			return "", fmt.Errorf("invalid audience: expected one of %v, got %v", accepted, claims["aud"])
		}
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing or invalid sub claim")
	}
	return sub, nil
}

func audienceMatches(aud any, accepted []string) bool {
	switch v := aud.(type) {
	case string:
		for _, a := range accepted {
			if v == a {
				return true
			}
		}
	case []interface{}:
		for _, raw := range v {
			s, ok := raw.(string)
			if !ok {
				continue
			}
			for _, a := range accepted {
				if s == a {
					return true
				}
			}
		}
	}
	return false
}

// InitJWKSCache initializes the global JWKS cache. Call once at startup
// when cfg.JWKSURL is configured.
func InitJWKSCache(cfg Config) error {
	if cfg.JWKSURL == "" {
		return nil
	}
	if globalJWKSCache != nil {
		return nil
	}
	globalJWKSCache = &jwksCache{
		keys:       make(map[string]*rsa.PublicKey),
		cacheTTL:   time.Hour,
		jwksURL:    cfg.JWKSURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if err := globalJWKSCache.fetchJWKS(false); err != nil {
		log.Warn().Err(err).Msg("failed to pre-fetch JWKS (will retry on first request)")
		return err
	}
	log.Info().Str("jwks_url", cfg.JWKSURL).Msg("upstream IdP RS256 validation enabled")
	return nil
}

// Middleware authenticates each request and attaches the validated
// subject to the context under SubjectKey. In DevMode, a token-less
// request may instead supply X-Debug-Sub.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	_ = InitJWKSCache(cfg)
	if cfg.DevMode {
		log.Warn().Msg("auth dev mode enabled: X-Debug-Sub bypasses JWT validation")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}

			sub := ""
			if cfg.DevMode && tok == "" {
				sub = r.Header.Get("X-Debug-Sub")
			}
			if tok != "" {
				var err error
				sub, err = ValidateToken(tok, cfg)
				if err != nil {
					log.Warn().Err(err).Msg("jwt validation failed")
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
			}
			if sub == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject extracts the authenticated subject from request context, or
// "" if the request was never authenticated.
func Subject(ctx context.Context) string {
	if v := ctx.Value(SubjectKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
