package gateway

import (
	"fmt"
	"net/http"

	"github.com/chatforge-io/orchestrator/internal/dlq"
)

// handleDLQList implements GET /api/dlq/items?status=&limit=&skip=.
func (s *Server) handleDLQList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit, skip := pageParams(r)

	records, err := s.deps.DLQ.List(r.Context(), status, limit, skip)
	if err != nil {
		writeError(w, fmt.Errorf("gateway: list dlq items: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

// handleDLQGet implements GET /api/dlq/items/{id}.
func (s *Server) handleDLQGet(w http.ResponseWriter, r *http.Request) {
	rec, found, err := s.lookupDLQ(w, r)
	if err != nil || !found {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDLQRetry implements POST /api/dlq/items/{id}/retry: republish the
// stored payload to its original topic with a fresh retry count.
func (s *Server) handleDLQRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, found, err := s.deps.DLQ.Get(r.Context(), id); err != nil {
		writeError(w, fmt.Errorf("gateway: retry dlq item: %w", err))
		return
	} else if !found {
		writeError(w, fmt.Errorf("%w: dlq item not found", ErrNotFound))
		return
	}
	if err := s.deps.DLQ.Retry(r.Context(), id); err != nil {
		writeError(w, fmt.Errorf("gateway: retry dlq item: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retried"})
}

// handleDLQResolve implements POST /api/dlq/items/{id}/resolve.
func (s *Server) handleDLQResolve(w http.ResponseWriter, r *http.Request) {
	if _, found, err := s.lookupDLQ(w, r); err != nil || !found {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.DLQ.MarkResolved(r.Context(), id); err != nil {
		writeError(w, fmt.Errorf("gateway: resolve dlq item: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// handleDLQDelete implements DELETE /api/dlq/items/{id}.
func (s *Server) handleDLQDelete(w http.ResponseWriter, r *http.Request) {
	if _, found, err := s.lookupDLQ(w, r); err != nil || !found {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.DLQ.Delete(r.Context(), id); err != nil {
		writeError(w, fmt.Errorf("gateway: delete dlq item: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleDLQRetryAll implements POST /api/dlq/retry-all.
func (s *Server) handleDLQRetryAll(w http.ResponseWriter, r *http.Request) {
	retried, total, err := s.deps.DLQ.RetryAllPending(r.Context())
	if err != nil {
		writeError(w, fmt.Errorf("gateway: retry all dlq items: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retried": retried, "total": total})
}

// handleDLQStats implements GET /api/dlq/stats.
func (s *Server) handleDLQStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.DLQ.Stats(r.Context())
	if err != nil {
		writeError(w, fmt.Errorf("gateway: dlq stats: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) lookupDLQ(w http.ResponseWriter, r *http.Request) (dlq.Record, bool, error) {
	id := r.PathValue("id")
	rec, found, err := s.deps.DLQ.Get(r.Context(), id)
	if err != nil {
		writeError(w, fmt.Errorf("gateway: dlq item: %w", err))
		return dlq.Record{}, false, err
	}
	if !found {
		writeError(w, fmt.Errorf("%w: dlq item not found", ErrNotFound))
		return dlq.Record{}, false, nil
	}
	return rec, true, nil
}
