package mid

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatforge-io/orchestrator/internal/auth"
)

type ctxKey int

const userIDKey ctxKey = iota

// Auth returns middleware that requires a valid bearer token (Authorization:
// Bearer ...) or, failing that, a session cookie named cookieName, verified
// by v. The resolved user id is stashed in the request context for
// downstream handlers; an invalid or missing credential responds 401
// without calling next.
func Auth(v *auth.Verifier, cookieName string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" && cookieName != "" {
				if c, err := r.Cookie(cookieName); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

// UserID returns the authenticated user id stashed by Auth, if any.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}
