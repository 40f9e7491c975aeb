package table

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/erauner12/datasync/internal/auth"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimitConfig configures a per-subject rate limit: MaxRequests over
// WindowSeconds, with Burst tokens of slack for interactive clients
// hitting the table endpoint in quick succession (e.g. a pull driver
// paging through a large table).
type RateLimitConfig struct {
	WindowSeconds int
	MaxRequests   int
	Burst         int
}

// DefaultRateLimitConfig is a reasonable default for the table endpoint.
var DefaultRateLimitConfig = RateLimitConfig{WindowSeconds: 60, MaxRequests: 600, Burst: 120}

// limitResult is what any Limiter implementation reports back to the
// middleware.
type limitResult struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
	resetAt    time.Time
}

// Limiter is the pluggable rate-limit backend. memoryLimiter is an
// in-process token bucket; redisLimiter shares state across instances
// for multi-replica deployments.
type Limiter interface {
	Allow(ctx context.Context, subject string) (limitResult, error)
}

// tokenBucket implements a token bucket rate limiter for one subject.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{tokens: float64(capacity), capacity: float64(capacity), refillRate: refillRate, lastRefill: time.Now()}
}

func (tb *tokenBucket) allow() limitResult {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	resetAt := now.Add(time.Duration((tb.capacity-tb.tokens)/tb.refillRate) * time.Second)

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return limitResult{allowed: true, remaining: int(tb.tokens), resetAt: resetAt}
	}

	retryAfter := time.Duration((1.0-tb.tokens)/tb.refillRate) * time.Second
	return limitResult{allowed: false, retryAfter: retryAfter, resetAt: resetAt}
}

// memoryLimiter keeps one token bucket per subject in process memory.
// Fine for a single-instance deployment; use redisLimiter when running
// more than one server replica behind a load balancer.
type memoryLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	config  RateLimitConfig
}

var _ Limiter = (*memoryLimiter)(nil)

// NewMemoryLimiter builds an in-process Limiter and starts its idle
// bucket cleanup goroutine.
func NewMemoryLimiter(config RateLimitConfig) Limiter {
	l := &memoryLimiter{buckets: map[string]*tokenBucket{}, config: config}
	go l.cleanupLoop()
	return l
}

func (l *memoryLimiter) bucket(subject string) *tokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[subject]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[subject]; ok {
		return b
	}
	refillRate := float64(l.config.MaxRequests) / float64(l.config.WindowSeconds)
	b = newTokenBucket(l.config.Burst, refillRate)
	l.buckets[subject] = b
	return b
}

func (l *memoryLimiter) Allow(ctx context.Context, subject string) (limitResult, error) {
	return l.bucket(subject).allow(), nil
}

func (l *memoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		for subject, b := range l.buckets {
			b.mu.Lock()
			if time.Since(b.lastRefill) > time.Hour {
				delete(l.buckets, subject)
			}
			b.mu.Unlock()
		}
		l.mu.Unlock()
	}
}

// redisLimiter enforces a fixed-window counter per subject in Redis, so
// every server replica shares the same limit. It trades the smooth
// refill of the in-memory token bucket for atomicity across instances
// via a single INCR/EXPIRE pair.
type redisLimiter struct {
	rdb    *redis.Client
	config RateLimitConfig
	prefix string
}

var _ Limiter = (*redisLimiter)(nil)

// NewRedisLimiter builds a Limiter backed by rdb, keying counters under
// keyPrefix (e.g. "datasync:ratelimit:").
func NewRedisLimiter(rdb *redis.Client, config RateLimitConfig, keyPrefix string) Limiter {
	return &redisLimiter{rdb: rdb, config: config, prefix: keyPrefix}
}

func (l *redisLimiter) Allow(ctx context.Context, subject string) (limitResult, error) {
	window := time.Duration(l.config.WindowSeconds) * time.Second
	key := l.prefix + subject

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return limitResult{}, err
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return limitResult{}, err
		}
	}

	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil {
		return limitResult{}, err
	}
	if ttl < 0 {
		ttl = window
	}

	limit := l.config.MaxRequests + l.config.Burst
	if int(count) > limit {
		return limitResult{allowed: false, retryAfter: ttl, resetAt: time.Now().Add(ttl)}, nil
	}
	return limitResult{allowed: true, remaining: limit - int(count), resetAt: time.Now().Add(ttl)}, nil
}

// RateLimitMiddleware enforces limiter per authenticated subject,
// skipping requests with no attached subject (the auth middleware, run
// earlier in the chain, is responsible for rejecting those).
func RateLimitMiddleware(config RateLimitConfig, limiter Limiter) func(http.Handler) http.Handler {
	if limiter == nil {
		limiter = NewMemoryLimiter(config)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := auth.Subject(r.Context())
			if subject == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), subject)
			if err != nil {
				log.Warn().Err(err).Msg("rate limiter backend error, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.resetAt.Unix(), 10))

			if !result.allowed {
				retryAfter := int(result.retryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				log.Warn().Str("subject", subject).Str("path", r.URL.Path).Int("retryAfter", retryAfter).Msg("rate limit exceeded")
				writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
