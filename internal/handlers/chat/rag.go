package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatforge-io/orchestrator/internal/vectorstore"
)

// ragMaxQueryChars is the window of user text embedded for retrieval —
// the user portion only, excluding any attached file content.
const ragMaxQueryChars = 500

// ragK is the number of nearest neighbors requested.
const ragK = 5

// ragMaxDistance excludes weak matches from the assembled context.
const ragMaxDistance = 1.0

// ragContextMaxTokens bounds the joined context block before it's spliced
// into rag_prompt_template.
const ragContextMaxTokens = 1500

// RAGContext is the retrieved-and-assembled knowledge-base context for one
// turn, plus whether any chunk was actually included.
type RAGContext struct {
	Used    bool
	Context string
}

// RetrieveContext embeds the leading slice of userText, searches the shared
// RagData collection, and joins every hit under ragMaxDistance into labeled
// context blocks, truncated to ragContextMaxTokens (spec.md §4.5.1 step 7).
func RetrieveContext(ctx context.Context, embedder Embedder, store *vectorstore.Store, userText string) (RAGContext, error) {
	query := userText
	if len(query) > ragMaxQueryChars {
		query = query[:ragMaxQueryChars]
	}
	if strings.TrimSpace(query) == "" {
		return RAGContext{}, nil
	}

	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		return RAGContext{}, fmt.Errorf("chat: rag: embed query: %w", err)
	}

	hits, err := store.Search(ctx, vectorstore.RagDataCollection, vec, ragK)
	if err != nil {
		return RAGContext{}, fmt.Errorf("chat: rag: search: %w", err)
	}

	var blocks []string
	for _, h := range hits {
		if distanceFromScore(h.Score) >= ragMaxDistance {
			continue
		}
		name := h.Source
		if name == "" {
			name = h.DocID
		}
		blocks = append(blocks, fmt.Sprintf("[Knowledge Base: %s]\n%s", name, h.Content))
	}

	if len(blocks) == 0 {
		return RAGContext{}, nil
	}

	joined := strings.Join(blocks, "\n\n")
	joined = truncateToTokens(joined, ragContextMaxTokens)
	return RAGContext{Used: true, Context: joined}, nil
}

// distanceFromScore converts a cosine-similarity score in [-1,1] (as
// returned by vectorstore.Store, which configures Qdrant with Cosine
// distance) to a distance in [0,2], matching the spec's "distance < 1.0"
// threshold.
func distanceFromScore(score float32) float32 {
	return 1 - score
}

// BuildSystemPrompt renders rag_prompt_template with the retrieved context
// when context was found, otherwise returns the plain system prompt
// unchanged.
func BuildSystemPrompt(systemPrompt, ragPromptTemplate string, rag RAGContext) string {
	if !rag.Used {
		return systemPrompt
	}
	if strings.Contains(ragPromptTemplate, "{context}") {
		return strings.ReplaceAll(ragPromptTemplate, "{context}", rag.Context)
	}
	return ragPromptTemplate + "\n\n" + rag.Context
}
