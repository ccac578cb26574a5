package gateway

import (
	"fmt"
	"net/http"
)

// handleStream implements GET /api/stream?request_id=...: a single read of
// the Result Channel. A finished record is deleted after being returned —
// the caller gets it exactly once.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("request_id")
	if correlationID == "" {
		writeError(w, fmt.Errorf("%w: request_id is required", ErrValidation))
		return
	}

	ctx := r.Context()
	rec, err := s.deps.Results.Read(ctx, correlationID)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "processing"})
		return
	}

	if rec.Finished == 1 {
		_ = s.deps.Results.Delete(ctx, correlationID)
	}
	writeJSON(w, http.StatusOK, rec)
}
