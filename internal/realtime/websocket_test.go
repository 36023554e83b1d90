package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/persona-chat/internal/chat"
	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChats owns a single chat for a single user.
type fakeChats struct {
	userID string
	chatID string
}

func (f *fakeChats) GetChatDetail(_ context.Context, userID, chatID string) (*domain.ChatDetail, error) {
	if userID != f.userID || chatID != f.chatID {
		return nil, domain.ErrNotFound
	}
	return &domain.ChatDetail{Chat: &domain.Chat{ChatID: chatID, UserID: userID}}, nil
}

func (f *fakeChats) SendMessage(ctx context.Context, userID, chatID, raw string) (string, error) {
	if _, err := f.GetChatDetail(ctx, userID, chatID); err != nil {
		return "", err
	}
	text := chat.Sanitize(raw)
	if text == "" {
		return "", domain.ErrEmptyMessage
	}
	return "echo: " + text, nil
}

// withUser stands in for the auth middleware.
func withUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := identity.WithUser(r.Context(), &domain.User{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newSocketServer(t *testing.T, sm *SessionManager) *httptest.Server {
	t.Helper()
	chats := &fakeChats{userID: "alice", chatID: "chat-1"}
	h := NewWebSocketHandler(chats, sm, []string{"*"})

	r := chi.NewRouter()
	r.With(withUser("alice")).Get("/chat/{chatID}/ws", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, chatID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/chat/%s/ws", chatID)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, in wsMessage) wsMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))

	_, resp, err := conn.Read(ctx)
	require.NoError(t, err)

	var out wsMessage
	require.NoError(t, json.Unmarshal(resp, &out))
	return out
}

func TestWebSocketMessageFlow(t *testing.T) {
	sm := NewSessionManager()
	srv := newSocketServer(t, sm)
	conn := dial(t, srv, "chat-1")

	assert.Equal(t, wsMessage{Type: "pong"}, roundTrip(t, conn, wsMessage{Type: "ping"}))
	assert.Equal(t, wsMessage{Type: "reply", Content: "echo: hello"}, roundTrip(t, conn, wsMessage{Type: "message", Content: " hello\x00"}))

	out := roundTrip(t, conn, wsMessage{Type: "message", Content: "\x01"})
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, domain.ErrEmptyMessage.Error(), out.Error)

	out = roundTrip(t, conn, wsMessage{Type: "shout"})
	assert.Equal(t, "error", out.Type)

	require.Eventually(t, func() bool { return sm.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectsForeignChat(t *testing.T) {
	srv := newSocketServer(t, NewSessionManager())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/chat-2/ws"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketClosedWhenChatDeleted(t *testing.T) {
	sm := NewSessionManager()
	srv := newSocketServer(t, sm)
	conn := dial(t, srv, "chat-1")

	require.Eventually(t, func() bool { return sm.Count() == 1 }, time.Second, 10*time.Millisecond)
	sm.CloseChat("chat-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
