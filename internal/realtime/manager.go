// Package realtime serves chat turns over websockets.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Conn is the part of a websocket connection the manager needs.
type Conn interface {
	Close(code websocket.StatusCode, reason string) error
}

// SessionManager tracks one active connection per user and chat.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]Conn // user_id -> chat_id -> conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]Conn),
	}
}

// GetActive returns the active connection for a user and chat.
func (m *SessionManager) GetActive(userID, chatID string) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if chats, ok := m.active[userID]; ok {
		return chats[chatID]
	}
	return nil
}

// Register adds a connection, closing any older one for the same user and chat.
func (m *SessionManager) Register(userID, chatID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]Conn)
	}

	if existing, exists := m.active[userID][chatID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[userID][chatID] = conn
	slog.Info("Chat socket registered", "user_id", userID, "chat_id", chatID)
}

// Unregister removes conn if it is still the active one.
func (m *SessionManager) Unregister(userID, chatID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if chats, ok := m.active[userID]; ok {
		if current, exists := chats[chatID]; exists && current == conn {
			delete(chats, chatID)
			if len(chats) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Chat socket unregistered", "user_id", userID, "chat_id", chatID)
		}
	}
}

// CloseChat terminates any connection attached to chatID.
func (m *SessionManager) CloseChat(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, chats := range m.active {
		conn, ok := chats[chatID]
		if !ok {
			continue
		}
		_ = conn.Close(websocket.StatusGoingAway, "chat deleted")
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(m.active, userID)
		}
		slog.Info("Chat socket closed", "user_id", userID, "chat_id", chatID)
	}
}

// CloseAll terminates every connection.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, chats := range m.active {
		for _, conn := range chats {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, userID)
	}
}

// Count returns the number of active connections.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, chats := range m.active {
		n += len(chats)
	}
	return n
}
