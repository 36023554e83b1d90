// Package api provides HTTP handlers for the chat API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/identity"
	"github.com/ashureev/persona-chat/internal/store"
)

const maxBodyBytes = 1 << 20

// ChatService is the chat behaviour the handlers depend on.
type ChatService interface {
	CreateChat(ctx context.Context, userID, name, personalityKey string) (*domain.Chat, error)
	ListChats(ctx context.Context, userID string) ([]*domain.Chat, error)
	GetChatDetail(ctx context.Context, userID, chatID string) (*domain.ChatDetail, error)
	DeleteChat(ctx context.Context, userID, chatID string) error
	SendMessage(ctx context.Context, userID, chatID, raw string) (string, error)
}

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	chats  ChatService
	tokens *identity.Tokens
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, chats ChatService, tokens *identity.Tokens, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:   repo,
		chats:  chats,
		tokens: tokens,
		logger: logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a service error to an HTTP status and client-facing message.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidPersonality),
		errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrEmptyMessage):
		return http.StatusBadRequest, domain.ErrEmptyMessage.Error()
	case errors.Is(err, domain.ErrInactiveUser):
		return http.StatusBadRequest, "Inactive user"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Chat not found"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "Could not validate credentials"
	case errors.Is(err, domain.ErrInference):
		return http.StatusBadGateway, "the assistant failed to respond, please try again"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError logs server-side failures and writes the mapped response.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"user_id", identity.UserIDFromContext(r.Context()),
			"status", status,
			"error", err,
		)
	}
	Error(w, status, msg)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}
