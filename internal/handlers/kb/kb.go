// Package kb implements the Knowledge-Base Handler (C5, kb topic): ingests
// a document into the shared RagData collection for cross-conversation
// retrieval, or deletes a previously-ingested document's chunks by file id.
package kb

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/chatforge-io/orchestrator/internal/chunk"
	"github.com/chatforge-io/orchestrator/internal/docstore"
	"github.com/chatforge-io/orchestrator/internal/extract"
	"github.com/chatforge-io/orchestrator/internal/jobs"
	"github.com/chatforge-io/orchestrator/internal/vectorstore"
)

const (
	kbLabel = "knowledge_base"

	sentenceChunkMaxChars = 1000

	embeddingDims = 1536
)

// Result is what the worker writes terminally to the Result Channel for an
// ingest request. A delete request returns a zero Result.
type Result struct {
	ChunkCount   int    `json:"chunk_count"`
	OriginalName string `json:"original_name"`
}

// Embedder batch-embeds chunk text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Reader loads the raw bytes of an uploaded file from its stored path.
type Reader interface {
	ReadFile(path string) ([]byte, error)
}

type osReader struct{}

func (osReader) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// Deps are the Knowledge-Base Handler's external collaborators.
type Deps struct {
	Docs      *docstore.Store
	Vectors   *vectorstore.Store
	Embedder  Embedder
	Extractor extract.Extractor
	Reader    Reader
	Logger    *slog.Logger
}

// Handler implements the Knowledge-Base Handler (C5, kb topic).
type Handler struct {
	deps Deps
}

// New builds a Handler, defaulting Extractor/Reader/Logger when left unset.
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

// Handle dispatches to the ingest or delete path depending on payload.Action.
func (h *Handler) Handle(ctx context.Context, correlationID string, payload jobs.KbPayload) (Result, error) {
	if payload.IsDelete() {
		return Result{}, h.handleDelete(ctx, payload)
	}
	return h.handleIngest(ctx, correlationID, payload)
}

func (h *Handler) handleIngest(ctx context.Context, _ string, payload jobs.KbPayload) (Result, error) {
	content, err := h.deps.Reader.ReadFile(payload.FilePath)
	if err != nil {
		return Result{}, fmt.Errorf("kb: read %s: %w", payload.FilePath, err)
	}

	text, err := h.deps.Extractor.Extract(payload.FileType, content)
	if err != nil {
		return Result{}, fmt.Errorf("kb: extract: %w", err)
	}
	if text == "" {
		return Result{}, fmt.Errorf("kb: extracted text is empty")
	}

	chunks := chunk.BySentence(text, sentenceChunkMaxChars)

	if err := h.deps.Vectors.EnsureCollection(ctx, vectorstore.RagDataCollection, embeddingDims); err != nil {
		return Result{}, fmt.Errorf("kb: ensure collection: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := h.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("kb: embed chunks: %w", err)
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
				"file_name":   payload.OriginalName,
				"metadata":    payload.OriginalName,
			},
		}
	}
	if err := h.deps.Vectors.Upsert(ctx, vectorstore.RagDataCollection, records); err != nil {
		return Result{}, fmt.Errorf("kb: upsert chunks: %w", err)
	}

	if h.deps.Docs != nil {
		docID := payload.RecordID
		if docID == "" {
			docID = payload.FileID
		}
		if err := h.deps.Docs.Upsert(ctx, kbLabel, docID, map[string]any{
			"chunk_count": len(chunks),
			"status":      "completed",
		}); err != nil {
			return Result{}, fmt.Errorf("kb: update kb document: %w", err)
		}
	}

	return Result{ChunkCount: len(chunks), OriginalName: payload.OriginalName}, nil
}

func (h *Handler) handleDelete(ctx context.Context, payload jobs.KbPayload) error {
	if payload.FileID == "" {
		return fmt.Errorf("kb: delete requires a file_id")
	}
	if err := h.deps.Vectors.DeleteByField(ctx, vectorstore.RagDataCollection, "file_id", payload.FileID); err != nil {
		return fmt.Errorf("kb: delete by file_id %s: %w", payload.FileID, err)
	}
	return nil
}
