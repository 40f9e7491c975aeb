package client

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// roundTripperFunc adapts a function to http.RoundTripper.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// HeaderInterceptor merges a fixed set of headers into every outgoing
// request, without overwriting a header the caller already set.
func HeaderInterceptor(headers map[string]string) Interceptor {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			for k, v := range headers {
				if req.Header.Get(k) == "" {
					req.Header.Set(k, v)
				}
			}
			return next.RoundTrip(req)
		})
	}
}

// BearerTokenInterceptor injects an Authorization: Bearer <token> header
// using tokenFunc, called fresh on every request so a refreshed token is
// always picked up. Mirrors internal/mcpserver/client/httpclient.go's
// token injection, generalized to any token source.
func BearerTokenInterceptor(tokenFunc func() (string, error)) Interceptor {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			token, err := tokenFunc()
			if err != nil {
				return nil, err
			}
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			return next.RoundTrip(req)
		})
	}
}

// SessionInterceptor sets the X-Sync-Session header so a push+pull round
// can be grouped as one logical sync session in server logs; paired with
// internal/table's SessionMiddleware on the server side.
func SessionInterceptor(sessionID string) Interceptor {
	return HeaderInterceptor(map[string]string{"X-Sync-Session": sessionID})
}

// LoggingInterceptor logs method, URL, status and duration for every
// request at Debug level, in the style of the teacher's HTTPClient.Do.
func LoggingInterceptor(logger zerolog.Logger) Interceptor {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)
			event := logger.Debug().Str("method", req.Method).Str("url", req.URL.String()).Dur("duration", time.Since(start))
			if err != nil {
				event.Err(err).Msg("request failed")
				return nil, err
			}
			event.Int("status", resp.StatusCode).Msg("request completed")
			return resp, nil
		})
	}
}
