package gateway

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chatforge-io/orchestrator/internal/jobs"
)

const (
	maxUploadBytes    = 5 * 1024 * 1024
	maxExtractedChars = 20000
	truncatedMarker   = "[Truncated]"
)

var allowedExtensions = map[string]jobs.FileType{
	"pdf":  jobs.FileTypePDF,
	"txt":  jobs.FileTypeTXT,
	"csv":  jobs.FileTypeCSV,
	"docx": jobs.FileTypeDOCX,
	"xlsx": jobs.FileTypeXLSX,
}

// handleFilesExtract implements POST /api/files/extract: a synchronous,
// single-file text extraction used by the upload UI to preview content
// before a file job is enqueued. Per-format page/row pre-limits are
// approximated here as a single post-extraction character cap, since the
// extractor only exposes whole-document text.
func (s *Server) handleFilesExtract(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, fmt.Errorf("%w: request too large or malformed", ErrValidation))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: missing file field", ErrValidation))
		return
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		writeError(w, fmt.Errorf("%w: file exceeds %d bytes", ErrValidation, maxUploadBytes))
		return
	}

	if err := validateFilename(header.Filename); err != nil {
		writeError(w, err)
		return
	}

	fileType, ok := fileTypeFromName(header.Filename)
	if !ok {
		writeError(w, fmt.Errorf("%w: unsupported file extension", ErrValidation))
		return
	}

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, fmt.Errorf("gateway: read upload: %w", err))
		return
	}
	if len(content) > maxUploadBytes {
		writeError(w, fmt.Errorf("%w: file exceeds %d bytes", ErrValidation, maxUploadBytes))
		return
	}

	text, err := s.deps.Extractor.Extract(fileType, content)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", ErrValidation, err.Error()))
		return
	}

	truncated := false
	if len(text) > maxExtractedChars {
		text = text[:maxExtractedChars] + "\n" + truncatedMarker
		truncated = true
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"text":      text,
		"truncated": truncated,
	})
}

func fileTypeFromName(name string) (jobs.FileType, bool) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return "", false
	}
	ext := strings.ToLower(name[idx+1:])
	ft, ok := allowedExtensions[ext]
	return ft, ok
}
