// Package jobs defines the wire-level data model shared across the gateway,
// worker pool, and retry policy: the job envelope and its per-topic payload
// shapes.
package jobs

import "encoding/json"

// Topic names the bus subject a job travels on.
type Topic string

const (
	TopicChat  Topic = "chat"
	TopicFile  Topic = "file"
	TopicKB    Topic = "kb"
	TopicRetry Topic = "retry"
)

// RetryMeta carries the retry bookkeeping attached to an envelope once it has
// failed at least once. Present on every envelope published to TopicRetry;
// absent on fresh envelopes.
type RetryMeta struct {
	OriginalTopic     Topic  `json:"original_topic"`
	RetryCount        int    `json:"retry_count"`
	MaxRetry          int    `json:"max_retry"`
	LastError         string `json:"last_error"`
	LastAttemptAt     string `json:"last_attempt_at"`
	NextDelaySeconds  float64 `json:"next_delay_seconds"`
}

// Envelope is the on-bus JSON record. Payload is kept as raw JSON so that
// unknown fields survive unchanged across retries, per the external
// interfaces contract: "unknown fields MUST be preserved on retry."
type Envelope struct {
	CorrelationID string          `json:"correlation_id"`
	Topic         Topic           `json:"topic"`
	Payload       json.RawMessage `json:"payload"`
	RetryMeta     *RetryMeta      `json:"retry_meta,omitempty"`
}

// ChatPayload is the payload carried on TopicChat.
type ChatPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Message        string `json:"message"`
	GenerateTitle  bool   `json:"generate_title"`
}

// FileType enumerates the allowed uploaded-file extensions.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeTXT  FileType = "txt"
	FileTypeCSV  FileType = "csv"
	FileTypeDOCX FileType = "docx"
	FileTypeXLSX FileType = "xlsx"
)

// FilePayload is the payload carried on TopicFile.
type FilePayload struct {
	FileID        string   `json:"file_id"`
	FilePath      string   `json:"file_path"`
	FileType      FileType `json:"file_type"`
	OriginalName  string   `json:"original_name"`
	FileSize      int64    `json:"file_size"`
	ConversationID string  `json:"conversation_id"`
	UserID        string   `json:"user_id"`
	FileRecordID  string   `json:"file_record_id"`
}

// KbPayload is the payload carried on TopicKB. A delete request sets Action
// to "delete" and only FileID is meaningful; an ingest request leaves Action
// empty and carries the rest of the fields.
type KbPayload struct {
	Action       string   `json:"action,omitempty"`
	FileID       string   `json:"file_id"`
	RecordID     string   `json:"record_id,omitempty"`
	FilePath     string   `json:"file_path,omitempty"`
	FileType     FileType `json:"file_type,omitempty"`
	OriginalName string   `json:"original_name,omitempty"`
}

// IsDelete reports whether this is a KB delete-by-file_id request.
func (p KbPayload) IsDelete() bool { return p.Action == "delete" }

// NewChat builds a fresh envelope carrying a ChatPayload.
func NewChat(correlationID string, p ChatPayload) (Envelope, error) {
	return newEnvelope(correlationID, TopicChat, p)
}

// NewFile builds a fresh envelope carrying a FilePayload.
func NewFile(correlationID string, p FilePayload) (Envelope, error) {
	return newEnvelope(correlationID, TopicFile, p)
}

// NewKb builds a fresh envelope carrying a KbPayload.
func NewKb(correlationID string, p KbPayload) (Envelope, error) {
	return newEnvelope(correlationID, TopicKB, p)
}

func newEnvelope[T any](correlationID string, topic Topic, payload T) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{CorrelationID: correlationID, Topic: topic, Payload: data}, nil
}

// DecodeChat decodes the envelope payload as a ChatPayload.
func (e Envelope) DecodeChat() (ChatPayload, error) {
	var p ChatPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeFile decodes the envelope payload as a FilePayload.
func (e Envelope) DecodeFile() (FilePayload, error) {
	var p FilePayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeKb decodes the envelope payload as a KbPayload.
func (e Envelope) DecodeKb() (KbPayload, error) {
	var p KbPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// WithRetry returns a copy of the envelope published to TopicRetry, carrying
// the original payload verbatim and the given retry metadata.
func (e Envelope) WithRetry(meta RetryMeta) Envelope {
	return Envelope{
		CorrelationID: e.CorrelationID,
		Topic:         TopicRetry,
		Payload:       e.Payload,
		RetryMeta:     &meta,
	}
}
