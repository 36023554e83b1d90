// Package chat manages chat threads and routes user messages through the agent.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/persona-chat/internal/agent"
	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/personality"
	"github.com/ashureev/persona-chat/internal/store"
)

// DefaultHistoryWindow is how many recent messages are given to the agent.
const DefaultHistoryWindow = 10

// Repository is the storage the chat service needs.
type Repository interface {
	store.ChatStore
	store.HistoryStore
}

// TurnRunner produces an agent reply for a turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, turn agent.Turn) (string, error)
}

// ChatCloser is notified after a chat is deleted.
type ChatCloser interface {
	CloseChat(chatID string)
}

// Config holds service settings.
type Config struct {
	HistoryWindow  int
	// SerializeTurns runs at most one SendMessage per chat at a time.
	SerializeTurns bool
	Logger         *slog.Logger
}

// Service implements chat lifecycle and message handling.
type Service struct {
	repo   Repository
	runner TurnRunner
	window int
	locks  *keyedMutex
	logger *slog.Logger

	closerMu sync.RWMutex
	closer   ChatCloser
}

// NewService creates a chat service.
func NewService(repo Repository, runner TurnRunner, cfg Config) *Service {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Service{
		repo:   repo,
		runner: runner,
		window: cfg.HistoryWindow,
		logger: cfg.Logger,
	}
	if cfg.SerializeTurns {
		s.locks = newKeyedMutex()
	}
	return s
}

// SetCloser registers the hook invoked after DeleteChat.
func (s *Service) SetCloser(c ChatCloser) {
	s.closerMu.Lock()
	defer s.closerMu.Unlock()
	s.closer = c
}

// CreateChat creates a chat for userID. The personality prompt is copied
// onto the chat and is not re-resolved later.
func (s *Service) CreateChat(ctx context.Context, userID, name, personalityKey string) (*domain.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: chat name cannot be empty", domain.ErrInvalidInput)
	}

	p, err := personality.Resolve(personalityKey)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindChatByName(ctx, userID, name)
	if err != nil {
		return nil, fmt.Errorf("check chat name: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: chat name already exists", domain.ErrConflict)
	}

	c := &domain.Chat{
		UserID:          userID,
		Name:            name,
		PersonalityType: p.Key,
		SystemPrompt:    p.Prompt,
	}
	if err := s.repo.CreateChat(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("chat created", "user_id", userID, "chat_id", c.ChatID, "mode", c.PersonalityType)
	return c, nil
}

// ListChats returns the user's chats, newest first.
func (s *Service) ListChats(ctx context.Context, userID string) ([]*domain.Chat, error) {
	chats, err := s.repo.ListChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	if chats == nil {
		chats = []*domain.Chat{}
	}
	return chats, nil
}

// GetChatDetail returns the chat and its full history.
func (s *Service) GetChatDetail(ctx context.Context, userID, chatID string) (*domain.ChatDetail, error) {
	c, err := s.ownedChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.repo.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return &domain.ChatDetail{Chat: c, Messages: msgs}, nil
}

// DeleteChat removes the chat and its history.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) error {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return err
	}

	if err := s.repo.DeleteChat(ctx, chatID); err != nil {
		return err
	}

	s.closerMu.RLock()
	closer := s.closer
	s.closerMu.RUnlock()
	if closer != nil {
		closer.CloseChat(chatID)
	}

	s.logger.Info("chat deleted", "user_id", userID, "chat_id", chatID)
	return nil
}

// SendMessage records the user's message, runs one agent turn and records
// the reply. The model is never called unless the user message was stored.
func (s *Service) SendMessage(ctx context.Context, userID, chatID, raw string) (string, error) {
	text := Sanitize(raw)
	if text == "" {
		return "", domain.ErrEmptyMessage
	}

	c, err := s.ownedChat(ctx, userID, chatID)
	if err != nil {
		return "", err
	}

	if s.locks != nil {
		unlock := s.locks.Lock(chatID)
		defer unlock()
	}

	if _, err := s.repo.AppendMessage(ctx, chatID, domain.RoleUser, text); err != nil {
		return "", fmt.Errorf("save user message: %w", err)
	}

	history, err := s.repo.RecentMessages(ctx, chatID, s.window)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	reply, err := s.runner.RunTurn(ctx, agent.Turn{
		UserID:       userID,
		ChatID:       chatID,
		SystemPrompt: c.SystemPrompt,
		History:      history,
	})
	if err != nil {
		return "", err
	}

	if _, err := s.repo.AppendMessage(ctx, chatID, domain.RoleAI, reply); err != nil {
		return "", fmt.Errorf("save reply: %w", err)
	}

	return reply, nil
}

// ownedChat hides chats owned by other users behind domain.ErrNotFound.
func (s *Service) ownedChat(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if !c.OwnedBy(userID) {
		return nil, fmt.Errorf("%w: chat", domain.ErrNotFound)
	}
	return c, nil
}
