package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

const (
	// DefaultK is the number of fragments returned when the caller passes k <= 0.
	DefaultK = 3

	// OtherChatSuffix marks fragments that came from a different chat.
	OtherChatSuffix = " (from another chat)"

	metaUserID    = "user_id"
	metaChatID    = "chat_id"
	metaCreatedAt = "created_at"
)

// Store is the chromem-backed long-term memory index.
type Store struct {
	db       *chromem.DB
	embedder Embedder
	logger   *slog.Logger

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// Open creates a Store. An empty dir keeps the index in memory; otherwise
// it is persisted under dir and reloaded on restart.
func Open(dir string, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return New(chromem.NewDB(), embedder, logger), nil
	}

	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open memory index at %s: %w", dir, err)
	}
	return New(db, embedder, logger), nil
}

// New wraps an existing chromem database.
func New(db *chromem.DB, embedder Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:          db,
		embedder:    embedder,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
	}
}

// Save embeds text and indexes it under the user and originating chat.
func (s *Store) Save(ctx context.Context, userID, chatID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("%w: embed fragment: %w", domain.ErrMemoryUnavailable, err)
	}

	col, err := s.collection(userID, true)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMemoryUnavailable, err)
	}

	doc := chromem.Document{
		ID:        uuid.NewString(),
		Content:   text,
		Embedding: vec,
		Metadata: map[string]string{
			metaUserID:    userID,
			metaChatID:    chatID,
			metaCreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: add document: %w", domain.ErrMemoryUnavailable, err)
	}

	s.logger.Debug("memory fragment saved", "user_id", userID, "chat_id", chatID, "doc_id", doc.ID)
	return nil
}

// Retrieve returns up to k fragments relevant to query, most similar first.
//
// Fragments from chatID are preferred: the user's other chats are searched
// only when the current chat has no fragments at all, and those results
// carry OtherChatSuffix. Results never cross users.
func (s *Store) Retrieve(ctx context.Context, userID, query, chatID string, k int) ([]string, error) {
	if k <= 0 {
		k = DefaultK
	}

	col, err := s.collection(userID, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMemoryUnavailable, err)
	}
	if col == nil || col.Count() == 0 {
		return []string{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrMemoryUnavailable, err)
	}

	local, err := s.search(ctx, col, vec, k, map[string]string{metaUserID: userID, metaChatID: chatID})
	if err != nil {
		return nil, err
	}
	if len(local) > 0 {
		out := make([]string, len(local))
		for i, r := range local {
			out[i] = r.Content
		}
		return out, nil
	}

	global, err := s.search(ctx, col, vec, k, map[string]string{metaUserID: userID})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(global))
	for i, r := range global {
		out[i] = r.Content + OtherChatSuffix
	}
	return out, nil
}

// Count returns the number of fragments indexed for a user.
func (s *Store) Count(userID string) int {
	col, err := s.collection(userID, false)
	if err != nil || col == nil {
		return 0
	}
	return col.Count()
}

func (s *Store) search(ctx context.Context, col *chromem.Collection, vec []float32, k int, where map[string]string) ([]chromem.Result, error) {
	limit := min(k, col.Count())

	// chromem requires nResults <= collection size; step down if a
	// concurrent change made the count stale.
	for ; limit >= 1; limit-- {
		results, err := col.QueryEmbedding(ctx, vec, limit, where, nil)
		if err == nil {
			return results, nil
		}
		if !isInsufficientDocsError(err) {
			return nil, fmt.Errorf("%w: query: %w", domain.ErrMemoryUnavailable, err)
		}
	}
	return nil, nil
}

// collection returns the user's collection. With create unset a missing
// collection yields nil, nil.
func (s *Store) collection(userID string, create bool) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	name := collectionName(userID)
	embed := EmbeddingFunc(s.embedder)

	// Collections persisted by a previous process are loaded by chromem on open.
	if col := s.db.GetCollection(name, embed); col != nil {
		s.collections[userID] = col
		return col, nil
	}
	if !create {
		return nil, nil
	}

	col, err := s.db.CreateCollection(name, map[string]string{metaUserID: userID}, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

func collectionName(userID string) string {
	return "user_" + userID
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") ||
		strings.Contains(msg, "number of documents")
}
