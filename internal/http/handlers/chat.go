package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atendeai/clinic-assistant/internal/conversation"
	"github.com/atendeai/clinic-assistant/pkg/logging"
)

// ConversationManager is the orchestration surface the chat endpoints need.
type ConversationManager interface {
	ProcessMessage(ctx context.Context, req conversation.MessageRequest) (*conversation.Response, error)
	ProcessMessageStream(ctx context.Context, req conversation.MessageRequest) (<-chan conversation.StreamChunk, error)
}

// ChatHandler serves the conversational endpoints.
type ChatHandler struct {
	manager ConversationManager
	store   *conversation.Store
	logger  *logging.Logger
}

// NewChatHandler creates the handler. store may be nil when transcript
// reads are disabled.
func NewChatHandler(manager ConversationManager, store *conversation.Store, logger *logging.Logger) *ChatHandler {
	if manager == nil {
		panic("handlers: ChatHandler requires a conversation manager")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatHandler{manager: manager, store: store, logger: logger}
}

// HandleMessage processes one chat turn and answers with the full response.
func (h *ChatHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req conversation.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.manager.ProcessMessage(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMessageStream processes one chat turn and streams newline-delimited
// JSON chunks as the reply is generated.
func (h *ChatHandler) HandleMessageStream(w http.ResponseWriter, r *http.Request) {
	var req conversation.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	chunks, err := h.manager.ProcessMessageStream(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for chunk := range chunks {
		if err := enc.Encode(chunk); err != nil {
			h.logger.Warn("stream write failed", "error", err)
			return
		}
		flusher.Flush()
	}
}

type historyMessage struct {
	Role       string  `json:"role"`
	Content    string  `json:"content"`
	Intent     string  `json:"intent,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

// HandleHistory returns the persisted transcript for a conversation.
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "transcript storage disabled")
		return
	}
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	messages, err := h.store.History(r.Context(), conversationID, limit)
	if err != nil {
		h.logger.Error("history lookup failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	out := make([]historyMessage, len(messages))
	for i, msg := range messages {
		out[i] = historyMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Intent:     string(msg.Intent),
			Confidence: msg.Confidence,
			CreatedAt:  msg.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": conversationID.String(),
		"messages":       out,
	})
}
