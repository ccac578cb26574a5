package mid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chatforge-io/orchestrator/internal/ratelimit"
)

func newTestLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return ratelimit.New(client)
}

func fixedClient(ip string) func(*http.Request) string {
	return func(*http.Request) string { return ip }
}

func TestRateLimitAllowsUnderLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	h := RateLimit(limiter, ratelimit.ClassAdmin, fixedClient("1.1.1.1"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	h := RateLimit(limiter, ratelimit.ClassAuth, fixedClient("2.2.2.2"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 21; i++ {
		last = httptest.NewRecorder()
		h.ServeHTTP(last, httptest.NewRequest("GET", "/", nil))
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the auth class limit is exceeded, got %d", last.Code)
	}
}

func TestRateLimitRejectsBlacklistedClient(t *testing.T) {
	limiter := newTestLimiter(t)
	if err := limiter.Blacklist(context.Background(), "3.3.3.3"); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}

	h := RateLimit(limiter, ratelimit.ClassDefault, fixedClient("3.3.3.3"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for a blacklisted client")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
