package api

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/reborn/internal/coach"
	"github.com/ashureev/reborn/internal/domain"
	"github.com/ashureev/reborn/internal/identity"
	"github.com/ashureev/reborn/internal/metrics"
	"github.com/ashureev/reborn/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// ChatService runs coaching conversation turns.
type ChatService interface {
	History(ctx context.Context, userID string) ([]domain.Message, error)
	ClearHistory(ctx context.Context, userID string) (int64, error)
	Stream(ctx context.Context, userID, text string) (iter.Seq[coach.StreamEvent], error)
	Reply(ctx context.Context, userID, text string) (*coach.Reply, error)
}

// ChatHandler handles chat endpoints.
type ChatHandler struct {
	chat    ChatService
	limiter *middleware.RateLimiter
	metrics *metrics.Metrics
}

// NewChatHandler creates a chat handler. limiter may be nil.
func NewChatHandler(chat ChatService, limiter *middleware.RateLimiter, m *metrics.Metrics) *ChatHandler {
	return &ChatHandler{chat: chat, limiter: limiter, metrics: m}
}

// RegisterRoutes registers chat routes. They must sit behind the identity
// middleware.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/first-message", h.FirstMessage)
		r.Get("/history", h.History)
		r.Delete("/history", h.ClearHistory)

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Limit(func(r *http.Request) string {
					return identity.UserIDFromContext(r.Context())
				}))
			}
			r.Post("/send", h.Send)
			r.Post("/message", h.Message)
		})
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

// FirstMessage returns the fixed opening question for new conversations.
func (h *ChatHandler) FirstMessage(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"message": coach.FirstMessage})
}

// History returns the messages of the latest conversation.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	messages, err := h.chat.History(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load chat history", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// ClearHistory deletes every conversation of the user.
func (h *ChatHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	if _, err := h.chat.ClearHistory(r.Context(), userID); err != nil {
		slog.Error("Failed to clear chat history", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "History cleared"})
}

// Message runs a chat turn and returns the whole reply at once.
func (h *ChatHandler) Message(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.metrics.RecordChatRequest("http")

	reply, err := h.chat.Reply(r.Context(), userID, req.Message)
	if err != nil {
		writeChatError(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

// Send runs a chat turn and streams the reply as server-sent events.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	h.metrics.RecordChatRequest("sse")

	events, err := h.chat.Stream(r.Context(), userID, req.Message)
	if err != nil {
		writeChatError(w, userID, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		var writeErr error
		switch ev.Kind {
		case coach.EventDelta:
			writeErr = writeSSEData(w, ev.Text)
		case coach.EventDone:
			writeErr = writeSSEData(w, "[DONE]")
		case coach.EventError:
			writeErr = writeSSEData(w, "[ERROR] "+ev.Err.Error())
		}
		if writeErr != nil {
			slog.Debug("Failed to write SSE event", "error", writeErr, "user_id", userID)
			return
		}
		flusher.Flush()
	}
}

// writeChatError maps errors raised before a reply exists to HTTP statuses.
func writeChatError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, coach.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, coach.ErrGeneration):
		slog.Error("Chat generation failed", "error", err, "user_id", userID)
		Error(w, http.StatusBadGateway, "failed to generate reply")
	default:
		slog.Error("Chat turn failed", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// writeSSEData writes one event whose payload may span several lines. Each
// line becomes its own data field so the client rejoins them with newlines.
func writeSSEData(w io.Writer, data string) error {
	var b strings.Builder
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
