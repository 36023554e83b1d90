package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/shared"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	busyMaxRetries      = 3
	busyInitialInterval = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers, foreign keys so messages cannot outlive their chat.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		chat_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		chat_name TEXT NOT NULL,
		personality_type TEXT NOT NULL,
		system_prompt TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(user_id, chat_name)
	);
	CREATE INDEX IF NOT EXISTS idx_chats_user_created ON chats(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		chat_id TEXT NOT NULL REFERENCES chats(chat_id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('user', 'ai')),
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat_time ON messages(chat_id, created_at DESC, seq DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying with exponential backoff while SQLite reports
// SQLITE_BUSY or a locked database. Other errors are returned immediately.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = busyInitialInterval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if shared.IsSQLiteConflictError(err) {
			slog.Debug("SQLite busy, retrying", "op", op, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(eb, busyMaxRetries), ctx))
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateUser inserts a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}

	query := `
	INSERT INTO users (user_id, username, email, hashed_password, is_active, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	err := s.withRetry(ctx, "create_user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.Email, user.HashedPassword,
			user.IsActive, user.CreatedAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		if shared.IsSQLiteUniqueError(err) {
			return fmt.Errorf("%w: user already exists", domain.ErrConflict)
		}
		return fmt.Errorf("%w: insert user: %w", domain.ErrPersistence, err)
	}
	return nil
}

const userColumns = `user_id, username, email, hashed_password, is_active, created_at`

func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var createdAt int64
	err := row.Scan(&user.UserID, &user.Username, &user.Email, &user.HashedPassword, &user.IsActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.CreatedAt = time.Unix(0, createdAt).UTC()
	return &user, nil
}

// GetUserByID retrieves a user by their user ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	return scanUser(row)
}

// GetUserByLogin retrieves a user by email or username.
func (s *SQLiteStore) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? OR username = ? LIMIT 1`, login, login)
	return scanUser(row)
}

// UserExistsByEmail reports whether email is registered.
func (s *SQLiteStore) UserExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE email = ?`, email)
}

// UserExistsByUsername reports whether username is taken.
func (s *SQLiteStore) UserExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE username = ?`, username)
}

func (s *SQLiteStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existence check: %w", err)
	}
	return true, nil
}

// SetUserActive toggles the active flag for a user.
func (s *SQLiteStore) SetUserActive(ctx context.Context, userID string, active bool) error {
	var rows int64
	err := s.withRetry(ctx, "set_user_active", func() error {
		result, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE user_id = ?`, active, userID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: update user: %w", domain.ErrPersistence, err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

// CreateChat inserts a new chat with its snapshotted system prompt.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if chat.ChatID == "" {
		chat.ChatID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = s.now().UTC()
	}

	query := `
	INSERT INTO chats (chat_id, user_id, chat_name, personality_type, system_prompt, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	err := s.withRetry(ctx, "create_chat", func() error {
		_, err := s.db.ExecContext(ctx, query,
			chat.ChatID, chat.UserID, chat.Name, chat.PersonalityType,
			chat.SystemPrompt, chat.CreatedAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		if shared.IsSQLiteUniqueError(err) {
			return fmt.Errorf("%w: chat name already exists", domain.ErrConflict)
		}
		return fmt.Errorf("%w: insert chat: %w", domain.ErrPersistence, err)
	}
	return nil
}

const chatColumns = `chat_id, user_id, chat_name, personality_type, system_prompt, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*domain.Chat, error) {
	var chat domain.Chat
	var createdAt int64
	if err := row.Scan(&chat.ChatID, &chat.UserID, &chat.Name, &chat.PersonalityType, &chat.SystemPrompt, &createdAt); err != nil {
		return nil, err
	}
	chat.CreatedAt = time.Unix(0, createdAt).UTC()
	return &chat, nil
}

// GetChat retrieves a chat by id.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE chat_id = ?`, chatID)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat row: %w", err)
	}
	return chat, nil
}

// FindChatByName retrieves a chat by owner and name.
func (s *SQLiteStore) FindChatByName(ctx context.Context, userID, name string) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE user_id = ? AND chat_name = ?`, userID, name)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat row: %w", err)
	}
	return chat, nil
}

// ListChats returns a user's chats, newest first.
func (s *SQLiteStore) ListChats(ctx context.Context, userID string) ([]*domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat rows", "error", closeErr)
		}
	}()

	chats := []*domain.Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}

// DeleteChat removes a chat and all of its messages in one transaction.
// Messages are deleted explicitly before the chat row.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	var deleted int64
	err := s.withRetry(ctx, "delete_chat", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID)
		if err != nil {
			return err
		}
		if deleted, err = result.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("%w: delete chat: %w", domain.ErrPersistence, err)
	}
	if deleted == 0 {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	return nil
}

// AppendMessage writes one message to the chat's history.
func (s *SQLiteStore) AppendMessage(ctx context.Context, chatID string, role domain.Role, content string) (*domain.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: role %q", domain.ErrInvalidInput, role)
	}

	msg := &domain.Message{
		MessageID: uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}

	query := `INSERT INTO messages (message_id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	err := s.withRetry(ctx, "append_message", func() error {
		_, err := s.db.ExecContext(ctx, query, msg.MessageID, msg.ChatID, string(msg.Role), msg.Content, msg.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		if shared.IsSQLiteForeignKeyError(err) {
			return nil, fmt.Errorf("%w: chat %s no longer exists", domain.ErrPersistence, chatID)
		}
		return nil, fmt.Errorf("%w: insert message: %w", domain.ErrPersistence, err)
	}
	return msg, nil
}

// RecentMessages returns the newest limit messages in chronological order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	msgs, err := s.queryMessages(ctx, `
		SELECT message_id, chat_id, role, content, created_at FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}

	// Fetched newest first; flip to oldest -> newest.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages returns the full history of a chat in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	return s.queryMessages(ctx, `
		SELECT message_id, chat_id, role, content, created_at FROM messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, seq ASC`, chatID)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	msgs := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.MessageID, &msg.ChatID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

var _ Repository = (*SQLiteStore)(nil)
