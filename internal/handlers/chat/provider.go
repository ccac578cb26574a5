package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/chatforge-io/orchestrator/pkg/resilience"
)

// ChatProvider is the external LLM collaborator: streaming and
// non-streaming chat completion. Grounded on cmd/chat/main.go's
// NDJSON-over-HTTP streaming loop, generalized from Ollama's wire shape to
// an OpenAI/Groq-compatible chat-completions endpoint.
type ChatProvider interface {
	// StreamChat calls onChunk once per received text fragment. It returns
	// once the stream is exhausted or ctx is cancelled.
	StreamChat(ctx context.Context, messages []Message, system string, maxTokens int, onChunk func(string)) error
	// Complete makes a single non-streaming call, used for title generation.
	Complete(ctx context.Context, messages []Message, system string, maxTokens int, temperature float64) (string, error)
	// Model returns the model identifier used for events/logs.
	Model() string
}

// Embedder is the external embedding-model collaborator (spec.md §1 frames
// it as out of scope beyond this interface). Grounded on pkg/ollama's
// EmbedClient HTTP shape, with the mlpb gRPC wrapper removed since the
// generated proto package it targets is not part of the retrieved pack.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// HTTPProvider implements ChatProvider against an OpenAI/Groq-compatible
// /chat/completions endpoint using the teacher's bufio.Scanner NDJSON/SSE
// streaming loop.
type HTTPProvider struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	breaker *resilience.Breaker
}

// NewHTTPProvider builds an HTTPProvider. A circuit breaker guards the
// underlying HTTP calls so a failing provider stops taking new requests
// instead of piling up timeouts.
func NewHTTPProvider(baseURL, model, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{},
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

func (p *HTTPProvider) Model() string { return p.model }

type chatCompletionReq struct {
	Model       string    `json:"model"`
	Messages    []wireMsg `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
}

type wireMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toWireMessages(system string, messages []Message) []wireMsg {
	out := make([]wireMsg, 0, len(messages)+1)
	if system != "" {
		out = append(out, wireMsg{Role: "system", Content: system})
	}
	for _, m := range messages {
		out = append(out, wireMsg{Role: m.Role, Content: m.Content})
	}
	return out
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *HTTPProvider) StreamChat(ctx context.Context, messages []Message, system string, maxTokens int, onChunk func(string)) error {
	body, err := json.Marshal(chatCompletionReq{
		Model:     p.model,
		Messages:  toWireMessages(system, messages),
		Stream:    true,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return fmt.Errorf("chat: stream: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat: stream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	var resp *http.Response
	err = p.breaker.Call(ctx, func(ctx context.Context) error {
		var doErr error
		resp, doErr = p.client.Do(req)
		if doErr != nil {
			return fmt.Errorf("chat: stream: request failed: %w", doErr)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("chat: stream: status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")
		if line == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				onChunk(c.Delta.Content)
			}
		}
	}
	return scanner.Err()
}

type completionResp struct {
	Choices []struct {
		Message wireMsg `json:"message"`
	} `json:"choices"`
}

func (p *HTTPProvider) Complete(ctx context.Context, messages []Message, system string, maxTokens int, temperature float64) (string, error) {
	body, err := json.Marshal(chatCompletionReq{
		Model:       p.model,
		Messages:    toWireMessages(system, messages),
		Stream:      false,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat: complete: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chat: complete: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	var resp *http.Response
	err = p.breaker.Call(ctx, func(ctx context.Context) error {
		var doErr error
		resp, doErr = p.client.Do(req)
		if doErr != nil {
			return fmt.Errorf("chat: complete: request failed: %w", doErr)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("chat: complete: status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out completionResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("chat: complete: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat: complete: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

// HTTPEmbedder implements Embedder over an Ollama-compatible /api/embeddings
// endpoint, grounded on pkg/ollama.EmbedClient's wire shape.
type HTTPEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPEmbedder builds an HTTPEmbedder.
func NewHTTPEmbedder(baseURL, model string) *HTTPEmbedder {
	return &HTTPEmbedder{baseURL: baseURL, model: model, client: &http.Client{}}
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(embedReq{Model: e.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat: embed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat: embed: status %d", resp.StatusCode)
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("chat: embed: decode: %w", err)
	}
	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("chat: embed batch [%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
