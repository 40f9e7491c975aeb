package table

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	sessionIDKey     contextKey = "sessionId"
	correlationIDKey contextKey = "correlationId"
)

// SessionMiddleware reads X-Sync-Session and attaches it to the request
// context and logger, correlating every operation a client performs
// within one offline-engine session (push/pull cycle).
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("X-Sync-Session")
		if sessionID != "" {
			ctx := context.WithValue(r.Context(), sessionIDKey, sessionID)
			logger := log.Ctx(ctx).With().Str("sessionId", sessionID).Logger()
			ctx = logger.WithContext(ctx)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// GetSessionID retrieves the session ID attached by SessionMiddleware.
func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// CorrelationMiddleware reads X-Correlation-ID, generating one if the
// client didn't send it, and echoes it on the response so client and
// server logs can be joined end to end.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		logger := log.With().Str("correlationId", correlationID).Logger()
		ctx = logger.WithContext(ctx)

		r = r.WithContext(ctx)
		next.ServeHTTP(w, r)
	})
}

// GetCorrelationID retrieves the correlation ID attached by
// CorrelationMiddleware, or "" if it never ran.
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}
