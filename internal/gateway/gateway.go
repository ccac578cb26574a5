// Package gateway implements the Ingestion Gateway (C7): the authenticated
// HTTP surface that validates, persists, correlates and enqueues chat work,
// extracts uploaded-file text synchronously (without enqueuing a job), polls
// the Result Channel, and administers the Dead-Letter Store.
// Grounded on cmd/api/main.go's ServeMux + pkg/mid chain composition style.
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/chatforge-io/orchestrator/internal/auth"
	"github.com/chatforge-io/orchestrator/internal/bus"
	"github.com/chatforge-io/orchestrator/internal/dlq"
	"github.com/chatforge-io/orchestrator/internal/docstore"
	"github.com/chatforge-io/orchestrator/internal/extract"
	"github.com/chatforge-io/orchestrator/internal/ratelimit"
	"github.com/chatforge-io/orchestrator/internal/resultstore"
	"github.com/chatforge-io/orchestrator/pkg/mid"
)

// Deps collects the Ingestion Gateway's collaborators.
type Deps struct {
	Bus        *bus.Bus
	Docs       *docstore.Store
	Results    *resultstore.Store
	DLQ        *dlq.Store
	Extractor  extract.Extractor
	Verifier   *auth.Verifier
	RateLimit  *ratelimit.Limiter
	Logger     *slog.Logger
	CORSOrigin string
	// AuthCookieName is the session cookie checked when no bearer token is
	// present. Empty disables the cookie fallback.
	AuthCookieName string
}

// Server is the Ingestion Gateway's HTTP surface.
type Server struct {
	deps Deps
}

// New builds a Server over deps, defaulting Logger if unset.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

func (s *Server) auth() mid.Middleware {
	return mid.Auth(s.deps.Verifier, s.deps.AuthCookieName)
}

func (s *Server) limit(class ratelimit.Class) mid.Middleware {
	return mid.RateLimit(s.deps.RateLimit, class, clientIP)
}

// Handler builds the complete routed, middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/chat/send", mid.Chain(http.HandlerFunc(s.handleChatSend), s.auth(), s.limit(ratelimit.ClassChat)))
	mux.Handle("GET /api/stream", mid.Chain(http.HandlerFunc(s.handleStream), s.auth(), s.limit(ratelimit.ClassDefault)))
	mux.Handle("POST /api/files/extract", mid.Chain(http.HandlerFunc(s.handleFilesExtract), s.auth(), s.limit(ratelimit.ClassUpload)))

	mux.Handle("GET /api/conversations", mid.Chain(http.HandlerFunc(s.handleListConversations), s.auth(), s.limit(ratelimit.ClassDefault)))
	mux.Handle("GET /api/conversations/{id}", mid.Chain(http.HandlerFunc(s.handleGetConversation), s.auth(), s.limit(ratelimit.ClassDefault)))
	mux.Handle("DELETE /api/conversations/{id}", mid.Chain(http.HandlerFunc(s.handleDeleteConversation), s.auth(), s.limit(ratelimit.ClassDefault)))

	mux.Handle("GET /api/dlq/items", mid.Chain(http.HandlerFunc(s.handleDLQList), s.auth(), s.limit(ratelimit.ClassAdmin)))
	mux.Handle("GET /api/dlq/items/{id}", mid.Chain(http.HandlerFunc(s.handleDLQGet), s.auth(), s.limit(ratelimit.ClassAdmin)))
	mux.Handle("POST /api/dlq/items/{id}/retry", mid.Chain(http.HandlerFunc(s.handleDLQRetry), s.auth(), s.limit(ratelimit.ClassAdmin)))
	mux.Handle("POST /api/dlq/items/{id}/resolve", mid.Chain(http.HandlerFunc(s.handleDLQResolve), s.auth(), s.limit(ratelimit.ClassAdmin)))
	mux.Handle("DELETE /api/dlq/items/{id}", mid.Chain(http.HandlerFunc(s.handleDLQDelete), s.auth(), s.limit(ratelimit.ClassAdmin)))
	mux.Handle("POST /api/dlq/retry-all", mid.Chain(http.HandlerFunc(s.handleDLQRetryAll), s.auth(), s.limit(ratelimit.ClassAdmin)))
	mux.Handle("GET /api/dlq/stats", mid.Chain(http.HandlerFunc(s.handleDLQStats), s.auth(), s.limit(ratelimit.ClassAdmin)))

	return mid.Chain(mux, mid.Recover(s.deps.Logger), mid.Logger(s.deps.Logger), mid.CORS(s.deps.CORSOrigin))
}
