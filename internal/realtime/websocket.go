package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/persona-chat/internal/api"
	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const (
	readLimit    = 64 << 10
	writeTimeout = 10 * time.Second
)

// ChatService is the chat behaviour the socket handler depends on.
type ChatService interface {
	GetChatDetail(ctx context.Context, userID, chatID string) (*domain.ChatDetail, error)
	SendMessage(ctx context.Context, userID, chatID, raw string) (string, error)
}

// WebSocketHandler runs chat turns for messages received over a websocket.
type WebSocketHandler struct {
	chats          ChatService
	sm             *SessionManager
	allowedOrigins []string
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(chats ChatService, sm *SessionManager, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		chats:          chats,
		sm:             sm,
		allowedOrigins: allowedOrigins,
	}
}

// wsMessage is the frame format in both directions.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")
	slog.Info("WebSocket connection request", "user_id", userID, "chat_id", chatID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		api.Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	if _, err := h.chats.GetChatDetail(r.Context(), userID, chatID); err != nil {
		status, msg := api.StatusFor(err)
		api.Error(w, status, msg)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
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
	ws.SetReadLimit(readLimit)

	h.sm.Register(userID, chatID, ws)
	defer h.sm.Unregister(userID, chatID, ws)

	h.readLoop(r.Context(), ws, userID, chatID)
	slog.Info("Chat socket ended", "user_id", userID, "chat_id", chatID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// readLoop handles frames one at a time, so turns on one socket never overlap.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID, chatID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: "invalid message"}); err != nil {
				return
			}
			continue
		}

		var out wsMessage
		switch msg.Type {
		case "ping":
			out = wsMessage{Type: "pong"}
		case "message":
			reply, err := h.chats.SendMessage(ctx, userID, chatID, msg.Content)
			if err != nil {
				_, text := api.StatusFor(err)
				if errors.Is(err, domain.ErrNotFound) {
					_ = h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: text})
					return
				}
				if !errors.Is(err, domain.ErrEmptyMessage) {
					slog.Error("Chat turn failed", "error", err, "user_id", userID, "chat_id", chatID)
				}
				out = wsMessage{Type: "error", Error: text}
			} else {
				out = wsMessage{Type: "reply", Content: reply}
			}
		default:
			out = wsMessage{Type: "error", Error: "unknown message type"}
		}

		if err := h.writeJSON(ctx, ws, out); err != nil {
			slog.Debug("WebSocket write error", "error", err, "user_id", userID)
			return
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
