package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
)

// IdentifierFunc extracts the rate limit identity from a request.
type IdentifierFunc func(r *http.Request) string

// RemoteAddrIdentifier keys limits by client IP. Deployments with JWT
// auth should key by the validated subject instead.
func RemoteAddrIdentifier(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the budget with 429 and a
// Retry-After header. A nil limiter passes everything through.
func Middleware(limiter *Limiter, identify IdentifierFunc) func(http.Handler) http.Handler {
	if identify == nil {
		identify = RemoteAddrIdentifier
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := limiter.Allow(identify(r))
			if !result.Allowed {
				slog.Warn("Request rate limited",
					"path", r.URL.Path, "retry_after", result.RetryAfter)

				retrySeconds := int(result.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error":       "rate limit exceeded",
					"retry_after": retrySeconds,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
