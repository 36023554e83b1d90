package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ChatHandler handles chat endpoints.
type ChatHandler struct {
	*Handler
	socket http.Handler
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// SetSocketHandler mounts a realtime handler at /chat/{chatID}/ws.
func (h *ChatHandler) SetSocketHandler(socket http.Handler) {
	h.socket = socket
}

// RegisterRoutes registers chat routes on an authenticated router. limit
// wraps the message endpoint.
func (h *ChatHandler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Route("/chat", func(r chi.Router) {
		r.Post("/new", h.Create)
		r.Get("/all", h.List)
		r.With(limit).Post("/send", h.Send)
		r.Get("/{chatID}", h.Get)
		r.Delete("/{chatID}", h.Delete)
		if h.socket != nil {
			r.Get("/{chatID}/ws", h.socket.ServeHTTP)
		}
	})
}

type createChatRequest struct {
	ChatName    string `json:"chat_name"`
	Personality string `json:"personality"`
}

// Create starts a new chat.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.chats.CreateChat(r.Context(), identity.UserIDFromContext(r.Context()), req.ChatName, req.Personality)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			Error(w, http.StatusConflict, "Chat name already exists")
			return
		}
		h.writeError(w, r, err)
		return
	}

	JSON(w, http.StatusCreated, map[string]string{
		"msg":     "Chat created",
		"chat_id": c.ChatID,
		"mode":    c.PersonalityType,
	})
}

// List returns the caller's chats, newest first.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chats.ListChats(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, chats)
}

type chatDetailResponse struct {
	ChatID   string           `json:"chat_id"`
	ChatName string           `json:"chat_name"`
	Mode     string           `json:"mode"`
	Messages []domain.Message `json:"messages"`
}

// Get returns a chat with its full history.
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	detail, err := h.chats.GetChatDetail(r.Context(), identity.UserIDFromContext(r.Context()), chatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, chatDetailResponse{
		ChatID:   detail.Chat.ChatID,
		ChatName: detail.Chat.Name,
		Mode:     detail.Chat.PersonalityType,
		Messages: detail.Messages,
	})
}

type sendMessageRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

// Send runs one agent turn and returns the reply.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	userID := identity.UserIDFromContext(r.Context())
	reply, err := h.chats.SendMessage(r.Context(), userID, req.ChatID, req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("message handled",
		"user_id", userID,
		"chat_id", req.ChatID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	JSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// Delete removes a chat and its history.
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	if err := h.chats.DeleteChat(r.Context(), identity.UserIDFromContext(r.Context()), chatID); err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"msg": "Chat deleted successfully"})
}

// chatIDParam validates the chat id path parameter.
func chatIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	chatID := chi.URLParam(r, "chatID")
	if _, err := uuid.Parse(chatID); err != nil {
		Error(w, http.StatusBadRequest, "Invalid Chat ID format")
		return "", false
	}
	return chatID, true
}
