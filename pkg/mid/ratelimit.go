package mid

import (
	"net/http"

	"github.com/chatforge-io/orchestrator/internal/ratelimit"
)

// RateLimit returns middleware that rejects blacklisted clients outright and
// otherwise enforces limiter's sliding window for the given endpoint class,
// keyed by clientKey(r). A Redis failure fails open, matching the limiter's
// own posture.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.Class, clientKey func(*http.Request) string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)

			if blacklisted, _ := limiter.IsBlacklisted(r.Context(), client); blacklisted {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}

			allowed, _ := limiter.Allow(r.Context(), class, client)
			if !allowed {
				http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
