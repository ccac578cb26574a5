package gateway

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/chatforge-io/orchestrator/internal/docstore"
	"github.com/chatforge-io/orchestrator/pkg/mid"
)

// handleListConversations implements GET /api/conversations: the caller's
// own conversations, newest first.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := mid.UserID(r.Context())
	if !ok || userID == "" {
		writeError(w, fmt.Errorf("%w: missing user identity", ErrUnauthorized))
		return
	}

	limit, skip := pageParams(r)
	docs, err := s.deps.Docs.List(r.Context(), labelConversations, docstore.ListOpts{
		Filter:      map[string]any{"user_id": userID},
		OrderByDesc: "created_at",
		Limit:       limit,
		Skip:        skip,
	})
	if err != nil {
		writeError(w, fmt.Errorf("gateway: list conversations: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": docsToFields(docs)})
}

// handleGetConversation implements GET /api/conversations/{id}, scoped to
// the caller's own conversations.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := mid.UserID(r.Context())
	if !ok || userID == "" {
		writeError(w, fmt.Errorf("%w: missing user identity", ErrUnauthorized))
		return
	}

	id := r.PathValue("id")
	doc, found, err := s.deps.Docs.FindOne(r.Context(), labelConversations, id)
	if err != nil {
		writeError(w, fmt.Errorf("gateway: get conversation: %w", err))
		return
	}
	if !found || doc.Fields["user_id"] != userID {
		writeError(w, fmt.Errorf("%w: conversation not found", ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, doc.Fields)
}

// handleDeleteConversation implements DELETE /api/conversations/{id}, scoped
// to the caller's own conversations.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := mid.UserID(r.Context())
	if !ok || userID == "" {
		writeError(w, fmt.Errorf("%w: missing user identity", ErrUnauthorized))
		return
	}

	id := r.PathValue("id")
	doc, found, err := s.deps.Docs.FindOne(r.Context(), labelConversations, id)
	if err != nil {
		writeError(w, fmt.Errorf("gateway: delete conversation: %w", err))
		return
	}
	if !found || doc.Fields["user_id"] != userID {
		writeError(w, fmt.Errorf("%w: conversation not found", ErrNotFound))
		return
	}
	if err := s.deps.Docs.Delete(r.Context(), labelConversations, id); err != nil {
		writeError(w, fmt.Errorf("gateway: delete conversation: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func pageParams(r *http.Request) (limit, skip int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			skip = n
		}
	}
	return limit, skip
}

func docsToFields(docs []docstore.Doc) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = d.Fields
	}
	return out
}
