// Package vectorstore wraps the Qdrant gRPC client used by the file and
// knowledge-base handlers to store embeddings and by the chat handler to
// search them.
package vectorstore

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID      string            `json:"id"`
	Score   float32           `json:"score"`
	Content string            `json:"content"`
	DocID   string            `json:"doc_id"`
	Source  string            `json:"source"`
	Meta    map[string]string `json:"meta"`
}

// Record represents a single vector to store in Qdrant.
type Record struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // content, doc_id, source, chunk_index, ...
}
