package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Event is the generic decoded wire shape for any of the three secondary-bus
// subjects — permissive by design since each subject carries a different
// event_type.
type Event map[string]any

func hashPII(userID string) string {
	if userID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])[:16]
}

// parseTimestamp parses an ISO-8601 timestamp, falling back to the current
// time when raw is missing or unparseable.
func parseTimestamp(raw any) time.Time {
	s, ok := raw.(string)
	if !ok || s == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func str(ev Event, key string) string {
	v, _ := ev[key].(string)
	return v
}

func numInt(ev Event, key string) int {
	switch v := ev[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func numInt64(ev Event, key string) int64 {
	switch v := ev[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func boolOr(ev Event, key string, fallback bool) bool {
	if v, ok := ev[key].(bool); ok {
		return v
	}
	return fallback
}

// TransformLLMEvent turns a raw LLM_RESPONSE event into its analytics_events
// document, field-for-field on transform_llm_event.
func TransformLLMEvent(raw Event) Event {
	ts := parseTimestamp(raw["timestamp"])
	userID := str(raw, "user_id")
	tokenPrompt := numInt(raw, "token_prompt")
	tokenCompletion := numInt(raw, "token_completion")

	return Event{
		"event_type":        "LLM_RESPONSE",
		"timestamp":         ts.Format(time.RFC3339Nano),
		"conversation_id":   str(raw, "conversation_id"),
		"user_id":           userID,
		"user_id_hash":      hashPII(userID),
		"model":             orDefault(str(raw, "model"), "unknown"),
		"latency_ms":        numInt64(raw, "latency_ms"),
		"token_prompt":      tokenPrompt,
		"token_completion":  tokenCompletion,
		"token_total":       tokenPrompt + tokenCompletion,
		"success":           boolOr(raw, "success", true),
		"has_rag":           boolOr(raw, "has_rag", false),
		"message_length":    numInt(raw, "message_length"),
		"reply_length":      numInt(raw, "reply_length"),
		"error":             str(raw, "error"),
		"environment":       "production",
		"service":           "orchestrator",
		"processed_at":      time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// TransformFileEvent turns a raw FILE_PROCESSED event into its
// analytics_events document, field-for-field on transform_file_event.
func TransformFileEvent(raw Event) Event {
	ts := parseTimestamp(raw["timestamp"])
	userID := str(raw, "user_id")
	fileSize := numInt64(raw, "file_size")

	return Event{
		"event_type":      "FILE_PROCESSED",
		"timestamp":       ts.Format(time.RFC3339Nano),
		"conversation_id": str(raw, "conversation_id"),
		"user_id":         userID,
		"user_id_hash":    hashPII(userID),
		"file_id":         str(raw, "file_id"),
		"file_type":       str(raw, "file_type"),
		"original_name":   str(raw, "original_name"),
		"file_size":       fileSize,
		"file_size_kb":    roundTo(float64(fileSize)/1024, 2),
		"chunk_count":     numInt(raw, "chunk_count"),
		"latency_ms":      numInt64(raw, "latency_ms"),
		"success":         boolOr(raw, "success", true),
		"error":           str(raw, "error"),
		"environment":     "production",
		"service":         "orchestrator",
		"processed_at":    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// TransformGenericEvent turns a raw conversation lifecycle event into its
// analytics_events document, field-for-field on transform_generic_event.
func TransformGenericEvent(raw Event) Event {
	ts := parseTimestamp(raw["timestamp"])
	userID := str(raw, "user_id")

	metadata := make(map[string]any)
	for k, v := range raw {
		switch k {
		case "event_type", "timestamp", "conversation_id", "user_id":
		default:
			metadata[k] = v
		}
	}

	return Event{
		"event_type":      orDefault(str(raw, "event_type"), "UNKNOWN"),
		"timestamp":       ts.Format(time.RFC3339Nano),
		"conversation_id": str(raw, "conversation_id"),
		"user_id":         userID,
		"user_id_hash":    hashPII(userID),
		"metadata":        metadata,
		"environment":     "production",
		"service":         "orchestrator",
		"processed_at":    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func roundTo(v float64, places int) float64 {
	mul := 1.0
	for i := 0; i < places; i++ {
		mul *= 10
	}
	return float64(int64(v*mul+0.5)) / mul
}
