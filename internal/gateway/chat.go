package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/chatforge-io/orchestrator/internal/docstore"
	"github.com/chatforge-io/orchestrator/internal/jobs"
	"github.com/chatforge-io/orchestrator/pkg/mid"
)

const (
	labelConversations = "conversations"
	labelIPMessages    = "ip_messages"

	displayMessageMaxChars = 300
)

type chatSendRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	GenerateTitle  bool   `json:"generate_title"`
}

type chatSendResponse struct {
	CorrelationID  string `json:"correlation_id"`
	ConversationID string `json:"conversation_id"`
}

// handleChatSend implements the authenticated send-message flow of
// POST /api/chat/send. Identity verification and rate limiting already ran
// as middleware by the time this handler executes.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	userID, ok := mid.UserID(r.Context())
	if !ok || userID == "" {
		writeError(w, fmt.Errorf("%w: missing user identity", ErrUnauthorized))
		return
	}

	var req chatSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body", ErrValidation))
		return
	}

	if err := validateMessage(req.Message); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	conversationID, err := s.resolveConversation(ctx, req.ConversationID, userID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.deps.Docs.PushField(ctx, labelConversations, conversationID, "messages", map[string]any{
		"role":    "user",
		"content": truncateDisplay(req.Message),
		"at":      docstore.NowRFC3339(),
	}); err != nil {
		writeError(w, fmt.Errorf("gateway: persist user message: %w", err))
		return
	}

	ip := clientIP(r)
	ipMsgID := uuid.NewString()
	if err := s.deps.Docs.Upsert(ctx, labelIPMessages, ipMsgID, map[string]any{
		"conversation_id": conversationID,
		"user_id":         userID,
		"ip":              ip,
		"created_at":      docstore.NowRFC3339(),
	}); err != nil {
		writeError(w, fmt.Errorf("gateway: record ip audit row: %w", err))
		return
	}

	correlationID := uuid.NewString()
	env, err := jobs.NewChat(correlationID, jobs.ChatPayload{
		ConversationID: conversationID,
		UserID:         userID,
		Message:        req.Message,
		GenerateTitle:  req.GenerateTitle,
	})
	if err != nil {
		writeError(w, fmt.Errorf("gateway: build chat envelope: %w", err))
		return
	}
	if err := s.deps.Bus.PublishEnvelope(ctx, env); err != nil {
		writeError(w, fmt.Errorf("gateway: enqueue chat job: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, chatSendResponse{CorrelationID: correlationID, ConversationID: conversationID})
}

// resolveConversation creates a fresh conversation when conversationID is
// empty, or verifies the caller owns an existing one. A newly created
// conversation's title is derived from the first message.
func (s *Server) resolveConversation(ctx context.Context, conversationID, userID, message string) (string, error) {
	if conversationID == "" {
		id := uuid.NewString()
		if err := s.deps.Docs.Upsert(ctx, labelConversations, id, map[string]any{
			"user_id":    userID,
			"title":      titleFromMessage(message),
			"created_at": docstore.NowRFC3339(),
		}); err != nil {
			return "", fmt.Errorf("gateway: create conversation: %w", err)
		}
		return id, nil
	}

	doc, found, err := s.deps.Docs.FindOne(ctx, labelConversations, conversationID)
	if err != nil {
		return "", fmt.Errorf("gateway: find conversation: %w", err)
	}
	if !found {
		return "", fmt.Errorf("%w: conversation not found", ErrNotFound)
	}
	owner, _ := doc.Fields["user_id"].(string)
	if owner != userID {
		return "", fmt.Errorf("%w: conversation not found", ErrNotFound)
	}
	return conversationID, nil
}

func truncateDisplay(msg string) string {
	if len(msg) <= displayMessageMaxChars {
		return msg
	}
	return strings.TrimSpace(msg[:displayMessageMaxChars]) + "..."
}

const (
	titleMaxChars     = 50
	fileContentMarker = "\n\nFile content:"
)

// titleFromMessage derives a new conversation's title from its first
// message: the text before any appended file content, capped at 50
// characters with "..." appended when truncated.
func titleFromMessage(message string) string {
	title := message
	if idx := strings.Index(title, fileContentMarker); idx >= 0 {
		title = title[:idx]
	}
	if len(title) > titleMaxChars {
		return title[:titleMaxChars] + "..."
	}
	return title
}
