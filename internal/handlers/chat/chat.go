package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatforge-io/orchestrator/internal/docstore"
	"github.com/chatforge-io/orchestrator/internal/events"
	"github.com/chatforge-io/orchestrator/internal/jobs"
	"github.com/chatforge-io/orchestrator/internal/resultstore"
	"github.com/chatforge-io/orchestrator/internal/vectorstore"
	"github.com/chatforge-io/orchestrator/pkg/fn"
)

const (
	conversationsLabel = "conversations"
	systemPromptsLabel = "system_prompts"
	systemPromptsDocID = "default"
)

// DefaultSystemPrompt is used when the system_prompts document store entry
// is absent, grounded on cmd/chat/main.go's systemPrompt constant.
const DefaultSystemPrompt = `You are a helpful, expert assistant.
Answer the user's question clearly and honestly. If you are unsure, say so.
Be concise and helpful.`

// DefaultRAGPromptTemplate is used when rag_prompt_template is absent.
const DefaultRAGPromptTemplate = `You are a helpful, expert assistant.
Answer the user's question using the provided knowledge-base context below
when it is relevant. If the context does not contain enough information,
say so honestly rather than guessing.

Context:
{context}`

const titleMaxInputChars = 150
const titleMaxOutputChars = 50
const maxResponseTokens = 1500
const defaultFlushEvery = 10

// Result is what the worker writes terminally to the Result Channel.
type Result struct {
	Reply string `json:"reply"`
	Title string `json:"title,omitempty"`
}

// Deps are the Chat Handler's external collaborators.
type Deps struct {
	Docs       *docstore.Store
	Vectors    *vectorstore.Store
	Embedder   Embedder
	Provider   ChatProvider
	Events     *events.Emitter
	Results    *resultstore.Store
	Budget     Budget
	FlushEvery int
	Logger     *slog.Logger
}

// Handler implements the Chat Handler (C5, chat topic).
type Handler struct {
	deps Deps
}

// New builds a Handler. Budget/FlushEvery default to the spec's values when
// left zero.
func New(deps Deps) *Handler {
	if deps.Budget == (Budget{}) {
		deps.Budget = DefaultBudget
	}
	if deps.FlushEvery <= 0 {
		deps.FlushEvery = defaultFlushEvery
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{deps: deps}
}

// state threads through the pipeline stages; each stage mutates and returns
// it, matching engine/ingest.NewPipeline's same-typed Stage composition.
type state struct {
	ctx context.Context

	correlationID string
	payload       jobs.ChatPayload

	seg        Segregated
	maskedText string
	piiCounts  map[string]int

	systemPrompt      string
	ragPromptTemplate string

	history []Message
	current Message
	rag     RAGContext

	reply        string
	leakDetected bool
	title        string

	start time.Time
}

// Handle runs the full thirteen-step sequence and returns the worker result.
func (h *Handler) Handle(ctx context.Context, correlationID string, payload jobs.ChatPayload) (Result, error) {
	st := &state{ctx: ctx, correlationID: correlationID, payload: payload, start: time.Now()}

	pipeline := fn.Pipeline(
		h.stepScanAndSanitize,
		h.stepMaskPII,
		h.stepLoadPrompts,
		h.stepAssembleHistory,
		h.stepRetrieveContext,
		h.stepInitialProgress,
	)

	r := pipeline(ctx, st)
	if r.IsErr() {
		_, err := r.Unwrap()
		return Result{}, h.classifyError(err)
	}
	st, _ = r.Unwrap()

	if err := h.stepStream(st); err != nil {
		return Result{}, h.classifyError(err)
	}
	h.stepDetectLeak(st)

	if payload.GenerateTitle {
		if err := h.stepGenerateTitle(st); err != nil {
			h.deps.Logger.Warn("chat: title generation failed", "correlation_id", correlationID, "err", err)
		}
	}

	if err := h.stepPersist(st); err != nil {
		return Result{}, fmt.Errorf("chat: persist: %w", err)
	}

	h.stepEmit(st)

	return Result{Reply: st.reply, Title: st.title}, nil
}

func (h *Handler) stepScanAndSanitize(_ context.Context, st *state) fn.Result[*state] {
	if ScanInjection(st.payload.Message) {
		h.deps.Logger.Warn("chat: prompt injection pattern matched", "correlation_id", st.correlationID)
	}
	sanitized := SanitizeInput(st.payload.Message)
	st.seg = SegregateFileContent(sanitized)
	return fn.Ok(st)
}

func (h *Handler) stepMaskPII(_ context.Context, st *state) fn.Result[*state] {
	combined := st.seg.UserText
	if st.seg.HasFile {
		combined += " " + st.seg.FileText
	}
	masked, counts := MaskPII(combined)
	st.maskedText = masked
	st.piiCounts = counts
	return fn.Ok(st)
}

func (h *Handler) stepLoadPrompts(ctx context.Context, st *state) fn.Result[*state] {
	systemPrompt := DefaultSystemPrompt
	ragTemplate := DefaultRAGPromptTemplate

	if h.deps.Docs != nil {
		doc, ok, err := h.deps.Docs.FindOne(ctx, systemPromptsLabel, systemPromptsDocID)
		if err != nil {
			return fn.Err[*state](fmt.Errorf("chat: load prompts: %w", err))
		}
		if ok {
			if v, ok := doc.Fields["system_prompt"].(string); ok && v != "" {
				systemPrompt = v
			}
			if v, ok := doc.Fields["rag_prompt_template"].(string); ok && v != "" {
				ragTemplate = v
			}
		}
	}

	st.systemPrompt = systemPrompt
	st.ragPromptTemplate = ragTemplate
	return fn.Ok(st)
}

func (h *Handler) stepAssembleHistory(ctx context.Context, st *state) fn.Result[*state] {
	var history []Message
	if h.deps.Docs != nil {
		doc, ok, err := h.deps.Docs.FindOne(ctx, conversationsLabel, st.payload.ConversationID)
		if err != nil {
			return fn.Err[*state](fmt.Errorf("chat: load conversation: %w", err))
		}
		if ok {
			history = messagesFromDoc(doc)
		}
	}
	st.history = history

	content := st.seg.UserText
	if st.seg.HasFile {
		content = strings.TrimRight(content, " \n") + "\n\n" + st.seg.WrappedFileBlock()
	}
	st.current = Message{Role: "user", Content: content}

	return fn.Ok(st)
}

func (h *Handler) stepRetrieveContext(ctx context.Context, st *state) fn.Result[*state] {
	if h.deps.Embedder == nil || h.deps.Vectors == nil {
		return fn.Ok(st)
	}
	rag, err := RetrieveContext(ctx, h.deps.Embedder, h.deps.Vectors, st.seg.UserText)
	if err != nil {
		h.deps.Logger.Warn("chat: rag retrieval failed, continuing without context", "correlation_id", st.correlationID, "err", err)
		return fn.Ok(st)
	}
	st.rag = rag
	st.systemPrompt = BuildSystemPrompt(st.systemPrompt, st.ragPromptTemplate, rag)
	return fn.Ok(st)
}

func (h *Handler) stepInitialProgress(ctx context.Context, st *state) fn.Result[*state] {
	if h.deps.Results != nil {
		if err := h.deps.Results.WriteProgress(ctx, st.correlationID, "chat", "", false, nil); err != nil {
			h.deps.Logger.Warn("chat: initial progress write failed", "correlation_id", st.correlationID, "err", err)
		}
	}
	return fn.Ok(st)
}

func (h *Handler) stepStream(st *state) error {
	history := AssembleHistory(h.deps.Budget, st.systemPrompt, st.history, st.current)

	var b strings.Builder
	chunkCount := 0
	err := h.deps.Provider.StreamChat(st.ctx, history, st.systemPrompt, maxResponseTokens, func(chunk string) {
		b.WriteString(chunk)
		chunkCount++
		if chunkCount%h.deps.FlushEvery == 0 && h.deps.Results != nil {
			_ = h.deps.Results.WriteProgress(st.ctx, st.correlationID, "chat", b.String(), false, nil)
		}
	})
	st.reply = b.String()
	if err != nil {
		return fmt.Errorf("chat: stream: %w", err)
	}
	return nil
}

func (h *Handler) stepDetectLeak(st *state) {
	if DetectSystemPromptLeak(st.systemPrompt, st.reply) {
		st.leakDetected = true
		h.deps.Logger.Warn("chat: possible system prompt leak in response", "correlation_id", st.correlationID)
	}
}

func (h *Handler) stepGenerateTitle(st *state) error {
	input := st.seg.UserText
	if len(input) > titleMaxInputChars {
		input = input[:titleMaxInputChars]
	}
	title, err := h.deps.Provider.Complete(st.ctx, []Message{{Role: "user", Content: "Generate a short title for this conversation: " + input}}, "", 20, 0.3)
	if err != nil {
		return err
	}
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if len(title) > titleMaxOutputChars {
		title = title[:titleMaxOutputChars]
	}
	st.title = title
	return nil
}

func (h *Handler) stepPersist(st *state) error {
	if h.deps.Docs == nil {
		return nil
	}
	now := docstore.NowRFC3339()

	if err := h.deps.Docs.PushField(st.ctx, conversationsLabel, st.payload.ConversationID, "messages", messageToAny(Message{Role: "assistant", Content: st.reply}, now)); err != nil {
		return err
	}

	fields := map[string]any{"updated_at": now}
	if st.title != "" {
		fields["title"] = st.title
	}
	return h.deps.Docs.Upsert(st.ctx, conversationsLabel, st.payload.ConversationID, fields)
}

func (h *Handler) stepEmit(st *state) {
	if h.deps.Events == nil {
		return
	}
	model := ""
	if h.deps.Provider != nil {
		model = h.deps.Provider.Model()
	}
	h.deps.Events.EmitLLMEvent(st.ctx, events.LLMEvent{
		ConversationID:  st.payload.ConversationID,
		UserID:          st.payload.UserID,
		Model:           model,
		LatencyMs:       time.Since(st.start).Milliseconds(),
		TokenPrompt:     EstimateTokens(st.systemPrompt) + EstimateTokens(st.current.Content),
		TokenCompletion: EstimateTokens(st.reply),
		Success:         true,
		HasRAG:          st.rag.Used,
		MessageLength:   len(st.maskedText),
		ReplyLength:     len(st.reply),
		Title:           st.title,
	})
}

// classifyError re-raises rate-limit-like failures with a user-facing
// prefix while preserving the substring the retry classifier matches on
// (spec.md §4.5.1's final paragraph).
func (h *Handler) classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate_limit") || strings.Contains(msg, "413") {
		return fmt.Errorf("the assistant is receiving too many requests right now, please try again shortly: %w", err)
	}
	return err
}

func messagesFromDoc(doc docstore.Doc) []Message {
	raw, ok := doc.Fields["messages"].([]any)
	if !ok {
		return nil
	}
	var out []Message
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		out = append(out, Message{Role: role, Content: content})
	}
	return out
}

func messageToAny(m Message, timestamp string) map[string]any {
	return map[string]any{
		"role":      m.Role,
		"content":   m.Content,
		"timestamp": timestamp,
	}
}
