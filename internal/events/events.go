// Package events implements the Event Emitter (C4): fire-and-forget
// publication of analytics-facing events onto the secondary bus. Errors here
// never propagate to the caller — grounded on the original event_emitter.py's
// "errors here never affect user response" posture and on
// internal/bus.Bus's connection ownership.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/chatforge-io/orchestrator/internal/bus"
)

// Event subjects on the secondary bus.
const (
	SubjectLLMCalls       = "llm.calls"
	SubjectFileProcessing = "file.processing"
	SubjectChatbotEvents  = "chatbot.events"
)

func marshalMap(m map[string]any) ([]byte, error) {
	return json.Marshal(m)
}

// LLMEvent mirrors emit_llm_event's payload shape field-for-field.
type LLMEvent struct {
	EventType       string `json:"event_type"`
	ConversationID  string `json:"conversation_id"`
	UserID          string `json:"user_id"`
	Timestamp       string `json:"timestamp"`
	Model           string `json:"model"`
	LatencyMs       int64  `json:"latency_ms"`
	TokenPrompt     int    `json:"token_prompt"`
	TokenCompletion int    `json:"token_completion"`
	Success         bool   `json:"success"`
	HasRAG          bool   `json:"has_rag"`
	MessageLength   int    `json:"message_length"`
	ReplyLength     int    `json:"reply_length"`
	Title           string `json:"title,omitempty"`
	Error           string `json:"error,omitempty"`
}

// FileEvent mirrors emit_file_event's payload shape field-for-field.
type FileEvent struct {
	EventType      string `json:"event_type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Timestamp      string `json:"timestamp"`
	FileID         string `json:"file_id"`
	FileType       string `json:"file_type"`
	OriginalName   string `json:"original_name"`
	FileSize       int64  `json:"file_size"`
	ChunkCount     int    `json:"chunk_count"`
	LatencyMs      int64  `json:"latency_ms"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

// ConversationEvent mirrors emit_conversation_event's payload shape, with
// Metadata flattened alongside the named fields.
type ConversationEvent struct {
	EventType      string         `json:"event_type"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Timestamp      string         `json:"timestamp"`
	Metadata       map[string]any `json:"-"`
}

// MarshalJSON flattens Metadata alongside the named fields, matching the
// original's `**(metadata or {})` spread.
func (e ConversationEvent) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"event_type":      e.EventType,
		"conversation_id": e.ConversationID,
		"user_id":         e.UserID,
		"timestamp":       e.Timestamp,
	}
	for k, v := range e.Metadata {
		m[k] = v
	}
	return marshalMap(m)
}

// Emitter publishes events to the secondary bus, logging and swallowing any
// publish failure so a downed bus never blocks or fails the caller's request.
type Emitter struct {
	bus *bus.SecondaryBus
	log *slog.Logger
}

// New builds an Emitter over an already-connected secondary bus.
func New(b *bus.SecondaryBus, log *slog.Logger) *Emitter {
	return &Emitter{bus: b, log: log}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// EmitLLMEvent publishes an LLM_RESPONSE event.
func (e *Emitter) EmitLLMEvent(ctx context.Context, ev LLMEvent) {
	if e == nil || e.bus == nil {
		return
	}
	ev.EventType = "LLM_RESPONSE"
	ev.Timestamp = now()
	if err := e.bus.Publish(ctx, SubjectLLMCalls, ev); err != nil {
		e.log.Warn("emit llm event failed", "conversation_id", ev.ConversationID, "err", err)
	}
}

// EmitFileEvent publishes a FILE_PROCESSED event.
func (e *Emitter) EmitFileEvent(ctx context.Context, ev FileEvent) {
	if e == nil || e.bus == nil {
		return
	}
	ev.EventType = "FILE_PROCESSED"
	ev.Timestamp = now()
	if err := e.bus.Publish(ctx, SubjectFileProcessing, ev); err != nil {
		e.log.Warn("emit file event failed", "file_id", ev.FileID, "err", err)
	}
}

// EmitConversationEvent publishes a conversation lifecycle event (created,
// deleted, renamed, ...). eventType names the lifecycle transition.
func (e *Emitter) EmitConversationEvent(ctx context.Context, eventType, conversationID, userID string, metadata map[string]any) {
	if e == nil || e.bus == nil {
		return
	}
	ev := ConversationEvent{
		EventType:      eventType,
		ConversationID: conversationID,
		UserID:         userID,
		Timestamp:      now(),
		Metadata:       metadata,
	}
	if err := e.bus.Publish(ctx, SubjectChatbotEvents, ev); err != nil {
		e.log.Warn("emit conversation event failed", "event_type", eventType, "conversation_id", conversationID, "err", err)
	}
}
