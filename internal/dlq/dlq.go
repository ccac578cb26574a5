// Package dlq implements the Dead-Letter Store (C3): persisted records of
// exhausted jobs with admin-mediated remediation. Grounded on the original
// implementation's dlq_handler.py, backed by internal/docstore instead of
// Mongo.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatforge-io/orchestrator/internal/docstore"
	"github.com/chatforge-io/orchestrator/internal/jobs"
	"github.com/google/uuid"
)

const label = "dead_letter_queue"

// Status values for a Record's lifecycle.
const (
	StatusPending  = "pending"
	StatusRetried  = "retried"
	StatusResolved = "resolved"
)

// ErrorEvent is one entry in a Record's append-only error_history.
type ErrorEvent struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Record is a dead-letter record. At most one exists per CorrelationID.
type Record struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	OriginalTopic jobs.Topic      `json:"original_topic"`
	MessageData   json.RawMessage `json:"message_data"`
	LastError     string          `json:"last_error"`
	RetryCount    int             `json:"retry_count"`
	ErrorHistory  []ErrorEvent    `json:"error_history"`
	FirstFailedAt string          `json:"first_failed_at"`
	LastFailedAt  string          `json:"last_failed_at"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at"`
	RetriedAt     string          `json:"retried_at,omitempty"`
	ResolvedAt    string          `json:"resolved_at,omitempty"`
}

// Publisher republishes a stored payload to a topic, satisfied by
// internal/bus.Bus.
type Publisher interface {
	PublishRaw(ctx context.Context, topic jobs.Topic, payload json.RawMessage, correlationID string) error
}

// Store is the Dead-Letter Store.
type Store struct {
	docs *docstore.Store
	bus  Publisher
}

// New builds a Store over the shared document store and the bus used for
// manual retry republication.
func New(docs *docstore.Store, bus Publisher) *Store {
	return &Store{docs: docs, bus: bus}
}

// Save is idempotent on correlation_id: the first failure inserts a new
// pending record; subsequent failures for the same correlation_id append to
// error_history and refresh last_error/last_failed_at/retry_count.
func (s *Store) Save(ctx context.Context, correlationID string, originalTopic jobs.Topic, payload json.RawMessage, failErr error, retryCount int) error {
	now := docstore.NowRFC3339()
	existing, found, err := s.findByCorrelationID(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("dlq: save: %w", err)
	}

	event := ErrorEvent{Error: failErr.Error(), Timestamp: now}

	if found {
		history := append(existing.ErrorHistory, event)
		fields := map[string]any{
			"last_error":     failErr.Error(),
			"last_failed_at": now,
			"retry_count":    retryCount,
			"error_history":  historyToAny(history),
		}
		if err := s.docs.Upsert(ctx, label, existing.ID, fields); err != nil {
			return fmt.Errorf("dlq: save: update: %w", err)
		}
		return nil
	}

	rec := Record{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		OriginalTopic: originalTopic,
		MessageData:   payload,
		LastError:     failErr.Error(),
		RetryCount:    retryCount,
		ErrorHistory:  []ErrorEvent{event},
		FirstFailedAt: now,
		LastFailedAt:  now,
		Status:        StatusPending,
		CreatedAt:     now,
	}
	fields := map[string]any{
		"correlation_id":  rec.CorrelationID,
		"original_topic":  string(rec.OriginalTopic),
		"message_data":    string(rec.MessageData),
		"last_error":      rec.LastError,
		"retry_count":     rec.RetryCount,
		"error_history":   historyToAny(rec.ErrorHistory),
		"first_failed_at": rec.FirstFailedAt,
		"last_failed_at":  rec.LastFailedAt,
		"status":          rec.Status,
		"created_at":      rec.CreatedAt,
	}
	if err := s.docs.Upsert(ctx, label, rec.ID, fields); err != nil {
		return fmt.Errorf("dlq: save: insert: %w", err)
	}
	return nil
}

func historyToAny(h []ErrorEvent) []any {
	out := make([]any, len(h))
	for i, e := range h {
		b, _ := json.Marshal(e)
		out[i] = string(b)
	}
	return out
}

func (s *Store) findByCorrelationID(ctx context.Context, correlationID string) (Record, bool, error) {
	docs, err := s.docs.List(ctx, label, docstore.ListOpts{Filter: map[string]any{"correlation_id": correlationID}, Limit: 1})
	if err != nil {
		return Record{}, false, err
	}
	if len(docs) == 0 {
		return Record{}, false, nil
	}
	return recordFromDoc(docs[0]), true, nil
}

// List returns records reverse-chronological by last_failed_at, optionally
// filtered by status.
func (s *Store) List(ctx context.Context, status string, limit, skip int) ([]Record, error) {
	opts := docstore.ListOpts{Skip: skip, Limit: limit, OrderByDesc: "last_failed_at"}
	if status != "" {
		opts.Filter = map[string]any{"status": status}
	}
	docs, err := s.docs.List(ctx, label, opts)
	if err != nil {
		return nil, fmt.Errorf("dlq: list: %w", err)
	}
	out := make([]Record, len(docs))
	for i, d := range docs {
		out[i] = recordFromDoc(d)
	}
	return out, nil
}

// Get returns the full record including payload and error history.
func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	doc, ok, err := s.docs.FindOne(ctx, label, id)
	if err != nil {
		return Record{}, false, fmt.Errorf("dlq: get: %w", err)
	}
	if !ok {
		return Record{}, false, nil
	}
	return recordFromDoc(doc), true, nil
}

// MarkRetried transitions pending -> retried and sets retried_at.
func (s *Store) MarkRetried(ctx context.Context, id string) error {
	return s.docs.Upsert(ctx, label, id, map[string]any{"status": StatusRetried, "retried_at": docstore.NowRFC3339()})
}

// MarkResolved transitions -> resolved (terminal by admin) and sets resolved_at.
func (s *Store) MarkResolved(ctx context.Context, id string) error {
	return s.docs.Upsert(ctx, label, id, map[string]any{"status": StatusResolved, "resolved_at": docstore.NowRFC3339()})
}

// Delete permanently removes the record.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.docs.Delete(ctx, label, id)
}

// Stats returns counts grouped by status, plus a top-k breakdown by
// original_topic restricted to pending records.
type Stats struct {
	ByStatus map[string]int64 `json:"by_status"`
	ByTopic  map[string]int64 `json:"by_topic"` // pending only
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	byStatus, err := s.docs.CountByField(ctx, label, "status")
	if err != nil {
		return Stats{}, fmt.Errorf("dlq: stats: %w", err)
	}
	pending, err := s.List(ctx, StatusPending, 10000, 0)
	if err != nil {
		return Stats{}, fmt.Errorf("dlq: stats: %w", err)
	}
	byTopic := make(map[string]int64)
	for _, r := range pending {
		byTopic[string(r.OriginalTopic)]++
	}
	return Stats{ByStatus: byStatus, ByTopic: byTopic}, nil
}

// Retry republishes the stored payload to original_topic (never the retry
// topic — this resets the retry count for the fresh attempt) and marks the
// record retried.
func (s *Store) Retry(ctx context.Context, id string) error {
	rec, ok, err := s.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("dlq: retry: %w", err)
	}
	if !ok {
		return fmt.Errorf("dlq: retry: %s not found", id)
	}
	if err := s.bus.PublishRaw(ctx, rec.OriginalTopic, rec.MessageData, rec.CorrelationID); err != nil {
		return fmt.Errorf("dlq: retry: publish: %w", err)
	}
	return s.MarkRetried(ctx, id)
}

// RetryAllPending retries every currently-pending record and reports how
// many succeeded out of the total attempted.
func (s *Store) RetryAllPending(ctx context.Context) (retried, total int, err error) {
	pending, err := s.List(ctx, StatusPending, 10000, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("dlq: retry-all: %w", err)
	}
	total = len(pending)
	for _, rec := range pending {
		if err := s.Retry(ctx, rec.ID); err == nil {
			retried++
		}
	}
	return retried, total, nil
}

func recordFromDoc(d docstore.Doc) Record {
	r := Record{ID: d.ID}
	if v, ok := d.Fields["correlation_id"].(string); ok {
		r.CorrelationID = v
	}
	if v, ok := d.Fields["original_topic"].(string); ok {
		r.OriginalTopic = jobs.Topic(v)
	}
	if v, ok := d.Fields["message_data"].(string); ok {
		r.MessageData = json.RawMessage(v)
	}
	if v, ok := d.Fields["last_error"].(string); ok {
		r.LastError = v
	}
	if v, ok := d.Fields["retry_count"]; ok {
		r.RetryCount = toInt(v)
	}
	if raw, ok := d.Fields["error_history"].([]any); ok {
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				continue
			}
			var e ErrorEvent
			if json.Unmarshal([]byte(s), &e) == nil {
				r.ErrorHistory = append(r.ErrorHistory, e)
			}
		}
	}
	if v, ok := d.Fields["first_failed_at"].(string); ok {
		r.FirstFailedAt = v
	}
	if v, ok := d.Fields["last_failed_at"].(string); ok {
		r.LastFailedAt = v
	}
	if v, ok := d.Fields["status"].(string); ok {
		r.Status = v
	}
	if v, ok := d.Fields["created_at"].(string); ok {
		r.CreatedAt = v
	}
	if v, ok := d.Fields["retried_at"].(string); ok {
		r.RetriedAt = v
	}
	if v, ok := d.Fields["resolved_at"].(string); ok {
		r.ResolvedAt = v
	}
	return r
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
