// Package file implements the File Handler (C5, file topic): extracts
// uploaded-file text, chunks it, embeds and stores it in a per-file vector
// collection, and updates the originating file document.
package file

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chatforge-io/orchestrator/internal/chunk"
	"github.com/chatforge-io/orchestrator/internal/docstore"
	"github.com/chatforge-io/orchestrator/internal/events"
	"github.com/chatforge-io/orchestrator/internal/extract"
	"github.com/chatforge-io/orchestrator/internal/jobs"
	"github.com/chatforge-io/orchestrator/internal/vectorstore"
)

const (
	filesLabel = "files"

	chunkSize    = 1000
	chunkOverlap = 200

	embeddingDims = 1536
)

// Result is what the worker writes terminally to the Result Channel.
type Result struct {
	ChunkCount     int    `json:"chunk_count"`
	CollectionName string `json:"collection_name"`
	PreviewTable   string `json:"preview_table,omitempty"`
}

// Embedder batch-embeds chunk text. Shared shape with the chat handler's
// collaborator interface.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Reader loads the raw bytes of an uploaded file from its stored path.
type Reader interface {
	ReadFile(path string) ([]byte, error)
}

// osReader reads from the local filesystem, the gateway's upload directory.
type osReader struct{}

func (osReader) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// Deps are the File Handler's external collaborators.
type Deps struct {
	Docs      *docstore.Store
	Vectors   *vectorstore.Store
	Embedder  Embedder
	Extractor extract.Extractor
	Reader    Reader
	Events    *events.Emitter
	Logger    *slog.Logger
}

// Handler implements the File Handler (C5, file topic).
type Handler struct {
	deps Deps
}

// New builds a Handler, defaulting Extractor/Logger when left unset.
func New(deps Deps) *Handler {
	if deps.Extractor == nil {
		deps.Extractor = extract.New()
	}
	if deps.Reader == nil {
		deps.Reader = osReader{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{deps: deps}
}

// Handle runs the six-step sequence and returns the worker result.
func (h *Handler) Handle(ctx context.Context, _ string, payload jobs.FilePayload) (Result, error) {
	start := time.Now()

	content, err := h.deps.Reader.ReadFile(payload.FilePath)
	if err != nil {
		return Result{}, fmt.Errorf("file: read %s: %w", payload.FilePath, err)
	}

	text, err := h.deps.Extractor.Extract(payload.FileType, content)
	if err != nil {
		return Result{}, fmt.Errorf("file: extract: %w", err)
	}
	if text == "" {
		return Result{}, fmt.Errorf("file: extracted text is empty")
	}

	preview := buildPreview(payload.FileType, content, text)

	chunks := chunk.Overlapping(text, chunkSize, chunkOverlap)

	collection := collectionName(payload.FileType, payload.FileID)
	if err := h.deps.Vectors.EnsureCollection(ctx, collection, embeddingDims); err != nil {
		return Result{}, fmt.Errorf("file: ensure collection: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := h.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("file: embed chunks: %w", err)
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ID:        fmt.Sprintf("%s-%d", payload.FileID, c.Index),
			Embedding: vectors[i],
			Payload: map[string]any{
				"content":     c.Content,
				"chunk_index": c.Index,
				"file_id":     payload.FileID,
				"metadata":    payload.OriginalName,
			},
		}
	}
	if err := h.deps.Vectors.Upsert(ctx, collection, records); err != nil {
		return Result{}, fmt.Errorf("file: upsert chunks: %w", err)
	}

	if h.deps.Docs != nil {
		if err := h.deps.Docs.Upsert(ctx, filesLabel, payload.FileRecordID, map[string]any{
			"chunk_count":     len(chunks),
			"collection_name": collection,
			"status":          "completed",
		}); err != nil {
			return Result{}, fmt.Errorf("file: update file document: %w", err)
		}
	}

	if h.deps.Events != nil {
		h.deps.Events.EmitFileEvent(ctx, events.FileEvent{
			ConversationID: payload.ConversationID,
			UserID:         payload.UserID,
			FileID:         payload.FileID,
			FileType:       string(payload.FileType),
			OriginalName:   payload.OriginalName,
			FileSize:       payload.FileSize,
			ChunkCount:     len(chunks),
			LatencyMs:      time.Since(start).Milliseconds(),
			Success:        true,
		})
	}

	return Result{ChunkCount: len(chunks), CollectionName: collection, PreviewTable: preview}, nil
}

// collectionName hashes file_id to a 12-hex MD5 prefix and tags it with the
// file type, so collections are stable and human-recognizable at a glance.
func collectionName(fileType jobs.FileType, fileID string) string {
	sum := md5.Sum([]byte(fileID))
	return fmt.Sprintf("file_%s_%s", fileType, hex.EncodeToString(sum[:])[:12])
}

func buildPreview(fileType jobs.FileType, content []byte, text string) string {
	switch fileType {
	case jobs.FileTypeCSV:
		return buildCSVPreview(content)
	case jobs.FileTypeXLSX:
		return buildXLSXPreview(text)
	default:
		return ""
	}
}
