package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sydlexius/contentguard/internal/metrics"
	"github.com/sydlexius/contentguard/internal/ratelimit"
)

// RateLimit returns middleware that charges each request to category for
// the caller's identity. Limiter errors let the request through.
func RateLimit(limiter ratelimit.Limiter, category ratelimit.Category, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := ratelimit.Identity(UserID(r.Context()), ClientIP(r))
			d, err := limiter.Check(r.Context(), identity, category)
			if err != nil {
				logger.Warn("rate limit check failed",
					slog.String("category", string(category)),
					slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			reset := strconv.Itoa(d.ResetInSeconds())
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", reset)
			if !d.Allowed {
				m.RateLimitDenied(string(category))
				w.Header().Set("Retry-After", reset)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + reset + `}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
