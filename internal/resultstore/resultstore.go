// Package resultstore implements the Result Channel (C1): a bounded-TTL
// key-value store holding per-correlation-id progress/result documents,
// shared between the worker pool (writer) and the gateway (reader).
// Grounded on the original redis_client.py's result:<id> key convention and
// on brokle-ai-brokle's go-redis connection-options pattern.
package resultstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the spec's default Result Channel entry lifetime.
const DefaultTTL = 300 * time.Second

// Store is the Result Channel.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Options configures the underlying Redis connection, grounded on
// brokle-ai-brokle/internal/infrastructure/database/redis.go's NewRedisDB.
type Options struct {
	URL string
	TTL time.Duration
}

// New connects to Redis and returns a Store.
func New(opts Options) (*Store, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("resultstore: parse redis url: %w", err)
	}
	parsed.MaxRetries = 3
	parsed.DialTimeout = 5 * time.Second
	parsed.ReadTimeout = 3 * time.Second
	parsed.WriteTimeout = 3 * time.Second
	parsed.PoolSize = 10
	parsed.PoolTimeout = 30 * time.Second

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: redis.NewClient(parsed), ttl: ttl}, nil
}

// NewWithClient builds a Store over an already-constructed client, for tests.
func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }

func key(correlationID string) string {
	return "result:" + correlationID
}

// ProgressRecord is the document shape stored under result:<correlation_id>.
type ProgressRecord struct {
	Status     string         `json:"status"`
	Type       string         `json:"type,omitempty"`
	Reply      string         `json:"reply,omitempty"`
	Finished   int            `json:"finished"`
	Title      string         `json:"title,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retry_count,omitempty"`
	MaxRetry   int            `json:"max_retry,omitempty"`
	Extra      map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside the named fields, so handler-specific
// result fields (chunk_count, collection_name, ...) ride in the same
// document without a nested envelope.
func (p ProgressRecord) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"status":   p.Status,
		"finished": p.Finished,
	}
	if p.Type != "" {
		m["type"] = p.Type
	}
	if p.Reply != "" || p.Status == "streaming" || p.Status == "completed" {
		m["reply"] = p.Reply
	}
	if p.Title != "" {
		m["title"] = p.Title
	}
	if p.Error != "" {
		m["error"] = p.Error
	}
	if p.RetryCount != 0 {
		m["retry_count"] = p.RetryCount
	}
	if p.MaxRetry != 0 {
		m["max_retry"] = p.MaxRetry
	}
	for k, v := range p.Extra {
		m[k] = v
	}
	// finished always comes from the named field, never from Extra.
	m["finished"] = p.Finished
	return json.Marshal(m)
}

// UnmarshalJSON decodes into the named fields, stashing anything else in Extra.
func (p *ProgressRecord) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	p.Extra = make(map[string]any)
	for k, v := range m {
		switch k {
		case "status":
			p.Status, _ = v.(string)
		case "type":
			p.Type, _ = v.(string)
		case "reply":
			p.Reply, _ = v.(string)
		case "finished":
			p.Finished = toInt(v)
		case "title":
			p.Title, _ = v.(string)
		case "error":
			p.Error, _ = v.(string)
		case "retry_count":
			p.RetryCount = toInt(v)
		case "max_retry":
			p.MaxRetry = toInt(v)
		default:
			p.Extra[k] = v
		}
	}
	return nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// WriteProgress upserts a non-terminal progress document. Called many times
// per job; each call resets the TTL.
func (s *Store) WriteProgress(ctx context.Context, correlationID, jobType, reply string, finished bool, extra map[string]any) error {
	status := "streaming"
	fin := 0
	if finished {
		status = "completed"
		fin = 1
	}
	return s.write(ctx, correlationID, ProgressRecord{Status: status, Type: jobType, Reply: reply, Finished: fin, Extra: extra})
}

// WriteResult upserts a terminal success document. finished is always forced
// to 1 regardless of the caller's doc.
func (s *Store) WriteResult(ctx context.Context, correlationID, jobType string, extra map[string]any) error {
	return s.write(ctx, correlationID, ProgressRecord{Status: "completed", Type: jobType, Finished: 1, Extra: extra})
}

// WriteRetrying upserts the non-terminal "retrying" state the worker writes
// between a failed attempt and its republished retry envelope.
func (s *Store) WriteRetrying(ctx context.Context, correlationID string, retryCount, maxRetry int, errPreview string) error {
	return s.write(ctx, correlationID, ProgressRecord{Status: "retrying", Finished: 0, RetryCount: retryCount, MaxRetry: maxRetry, Error: errPreview})
}

// WriteError upserts a terminal error document.
func (s *Store) WriteError(ctx context.Context, correlationID, msg string) error {
	return s.write(ctx, correlationID, ProgressRecord{Status: "error", Error: msg, Finished: 1})
}

// write enforces the "finished=1 is terminal" invariant: once a terminal
// record exists, subsequent non-terminal writes for the same id are dropped.
func (s *Store) write(ctx context.Context, correlationID string, rec ProgressRecord) error {
	if rec.Finished == 0 {
		existing, err := s.Read(ctx, correlationID)
		if err == nil && existing != nil && existing.Finished == 1 {
			return nil
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("resultstore: marshal %s: %w", correlationID, err)
	}
	if err := s.client.Set(ctx, key(correlationID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("resultstore: set %s: %w", correlationID, err)
	}
	return nil
}

// Read returns the progress document for correlationID, or (nil, nil) if
// absent (including if the TTL has already expired).
func (s *Store) Read(ctx context.Context, correlationID string) (*ProgressRecord, error) {
	data, err := s.client.Get(ctx, key(correlationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resultstore: get %s: %w", correlationID, err)
	}
	var rec ProgressRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("resultstore: unmarshal %s: %w", correlationID, err)
	}
	return &rec, nil
}

// Delete removes the document, called by the gateway after returning a
// terminal record to the caller.
func (s *Store) Delete(ctx context.Context, correlationID string) error {
	if err := s.client.Del(ctx, key(correlationID)).Err(); err != nil {
		return fmt.Errorf("resultstore: del %s: %w", correlationID, err)
	}
	return nil
}
