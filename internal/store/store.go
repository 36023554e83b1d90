// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/persona-chat/internal/domain"
)

// UserStore persists account records.
type UserStore interface {
	// CreateUser inserts a new user. Duplicate username or email yields domain.ErrConflict.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUserByID retrieves a user by id. Returns nil, nil when absent.
	GetUserByID(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByLogin retrieves a user whose email or username equals login.
	// Returns nil, nil when absent.
	GetUserByLogin(ctx context.Context, login string) (*domain.User, error)

	// UserExistsByEmail reports whether an account already uses email.
	UserExistsByEmail(ctx context.Context, email string) (bool, error)

	// UserExistsByUsername reports whether an account already uses username.
	UserExistsByUsername(ctx context.Context, username string) (bool, error)

	// SetUserActive toggles the active flag, the only mutable user field.
	SetUserActive(ctx context.Context, userID string, active bool) error
}

// ChatStore persists chat metadata.
type ChatStore interface {
	// CreateChat inserts a chat. A duplicate (user_id, chat_name) yields domain.ErrConflict.
	CreateChat(ctx context.Context, chat *domain.Chat) error

	// GetChat retrieves a chat by id. Returns nil, nil when absent.
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)

	// FindChatByName retrieves a user's chat by name. Returns nil, nil when absent.
	FindChatByName(ctx context.Context, userID, name string) (*domain.Chat, error)

	// ListChats returns all chats owned by userID, newest first.
	ListChats(ctx context.Context, userID string) ([]*domain.Chat, error)

	// DeleteChat removes the chat and its messages (messages first).
	// Returns domain.ErrNotFound when the chat does not exist.
	DeleteChat(ctx context.Context, chatID string) error
}

// HistoryStore is the append-only, time-ordered conversation log.
type HistoryStore interface {
	// AppendMessage writes one immutable message with a server-assigned
	// timestamp. Storage failures wrap domain.ErrPersistence.
	AppendMessage(ctx context.Context, chatID string, role domain.Role, content string) (*domain.Message, error)

	// RecentMessages returns at most limit of the newest messages, oldest first.
	RecentMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error)

	// ListMessages returns the full history of a chat, oldest first.
	ListMessages(ctx context.Context, chatID string) ([]domain.Message, error)
}

// Repository is the complete relational store.
type Repository interface {
	UserStore
	ChatStore
	HistoryStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
