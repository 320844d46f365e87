package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/reborn/internal/coach"
	"github.com/ashureev/reborn/internal/identity"
	"github.com/ashureev/reborn/internal/metrics"
	"github.com/ashureev/reborn/internal/middleware"
	"github.com/coder/websocket"
)

const socketWriteTimeout = 10 * time.Second

// ChatSocketHandler streams chat replies over a WebSocket. Turns on one
// connection run one at a time. Writes may come from the turn and the reader
// concurrently, which websocket.Conn permits.
type ChatSocketHandler struct {
	chat           ChatService
	limiter        *middleware.RateLimiter
	metrics        *metrics.Metrics
	originPatterns []string
}

// NewChatSocketHandler creates a WebSocket chat handler. originPatterns are
// host patterns accepted for cross-origin upgrades; nil accepts only
// same-origin requests.
func NewChatSocketHandler(chat ChatService, limiter *middleware.RateLimiter, m *metrics.Metrics, originPatterns []string) *ChatSocketHandler {
	return &ChatSocketHandler{chat: chat, limiter: limiter, metrics: m, originPatterns: originPatterns}
}

// socketRequest is a client frame.
type socketRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// socketFrame is a server frame.
type socketFrame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *ChatSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("Chat WebSocket connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.metrics.RecordWebSocketConnect()
	defer h.metrics.RecordWebSocketDisconnect()

	h.serve(r.Context(), ws, userID)
	slog.Info("Chat WebSocket session ended", "user_id", userID)
}

// serve runs turns in order while a separate goroutine keeps reading, so
// pings and close frames are handled mid-reply. A client disconnect cancels
// the running turn.
func (h *ChatSocketHandler) serve(parent context.Context, ws *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(parent)
	turns := make(chan string, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		h.readLoop(ctx, ws, userID, turns)
	}()
	defer func() {
		cancel()
		<-readerDone
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case text := <-turns:
			if ctx.Err() != nil || !h.runTurn(ctx, ws, userID, text) {
				return
			}
		}
	}
}

// readLoop decodes client frames until the connection fails. One message may
// wait behind the running turn; further ones are rejected.
func (h *ChatSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID string, turns chan<- string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var req socketRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := writeFrame(ctx, ws, socketFrame{Type: "error", Error: "invalid message"}); err != nil {
				return
			}
			continue
		}

		switch req.Type {
		case "ping":
			if err := writeFrame(ctx, ws, socketFrame{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		case "", "message":
			select {
			case turns <- req.Message:
			default:
				if err := writeFrame(ctx, ws, socketFrame{Type: "error", Error: "a reply is already in progress"}); err != nil {
					return
				}
			}
		default:
			if err := writeFrame(ctx, ws, socketFrame{Type: "error", Error: "unknown message type"}); err != nil {
				return
			}
		}
	}
}

// runTurn streams one reply. It reports false once the connection is unusable.
func (h *ChatSocketHandler) runTurn(ctx context.Context, ws *websocket.Conn, userID, text string) bool {
	if h.limiter != nil && !h.limiter.Allow(userID) {
		return writeFrame(ctx, ws, socketFrame{Type: "error", Error: "rate limit exceeded"}) == nil
	}
	h.metrics.RecordChatRequest("websocket")

	events, err := h.chat.Stream(ctx, userID, text)
	if err != nil {
		msg := "internal error"
		if errors.Is(err, coach.ErrEmptyMessage) {
			msg = err.Error()
		} else {
			slog.Error("Chat turn failed", "error", err, "user_id", userID)
		}
		return writeFrame(ctx, ws, socketFrame{Type: "error", Error: msg}) == nil
	}

	for ev := range events {
		var frame socketFrame
		switch ev.Kind {
		case coach.EventDelta:
			frame = socketFrame{Type: "delta", Text: ev.Text}
		case coach.EventDone:
			frame = socketFrame{Type: "done"}
		case coach.EventError:
			frame = socketFrame{Type: "error", Error: ev.Err.Error()}
		}
		if err := writeFrame(ctx, ws, frame); err != nil {
			slog.Debug("Failed to write chat frame", "error", err, "user_id", userID)
			return false
		}
	}
	return ctx.Err() == nil
}

func writeFrame(ctx context.Context, ws *websocket.Conn, frame socketFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
