package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/persona-chat/internal/agent"
	"github.com/ashureev/persona-chat/internal/chat"
	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/identity"
	"github.com/ashureev/persona-chat/internal/middleware"
	"github.com/ashureev/persona-chat/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	reply string
	err   error
}

func (s stubRunner) RunTurn(context.Context, agent.Turn) (string, error) {
	return s.reply, s.err
}

type testServer struct {
	srv  *httptest.Server
	repo *store.SQLiteStore
}

func newTestServer(t *testing.T, runner chat.TurnRunner, sendLimit int) *testServer {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	tokens, err := identity.NewTokens("test-secret", 10*time.Minute)
	require.NoError(t, err)

	limiter, err := middleware.NewRateLimiter(sendLimit, time.Hour, 0)
	require.NoError(t, err)

	svc := chat.NewService(repo, runner, chat.Config{SerializeTurns: true})
	base := NewHandler(repo, svc, tokens, nil)
	auth := identity.Middleware(tokens, repo)

	r := chi.NewRouter()
	NewHealthHandler(base, nil).RegisterHealth(r)
	NewAuthHandler(base).RegisterRoutes(r, auth)
	r.Group(func(r chi.Router) {
		r.Use(auth)
		NewChatHandler(base).RegisterRoutes(r, limiter.Middleware(func(r *http.Request) string {
			return identity.UserIDFromContext(r.Context())
		}))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		if len(raw) > 0 && raw[0] == '{' {
			require.NoError(t, json.Unmarshal(raw, &out))
		} else {
			out = map[string]interface{}{"items": raw}
		}
	}
	return resp, out
}

func (s *testServer) signupAndLogin(t *testing.T, name string) string {
	t.Helper()

	resp, body := s.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"username": name, "email": name + "@example.com", "password": "pw-" + name,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	form := url.Values{"username": {name + "@example.com"}, "password": {"pw-" + name}}
	login, err := http.PostForm(s.srv.URL+"/auth/login", form)
	require.NoError(t, err)
	defer login.Body.Close()
	require.Equal(t, http.StatusOK, login.StatusCode)

	var tok map[string]interface{}
	require.NoError(t, json.NewDecoder(login.Body).Decode(&tok))
	assert.Equal(t, "bearer", tok["token_type"])
	assert.EqualValues(t, 10, tok["expires_in_minutes"])
	return tok["access_token"].(string)
}

func TestRootAndReady(t *testing.T) {
	s := newTestServer(t, stubRunner{}, 5)

	resp, body := s.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "AI Agent Backend is Running", body["message"])

	resp, body = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestSignupRejectsDuplicates(t *testing.T) {
	s := newTestServer(t, stubRunner{}, 5)
	s.signupAndLogin(t, "alice")

	resp, body := s.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"username": "other", "email": "alice@example.com", "password": "x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Email already registered", body["error"])

	resp, body = s.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"username": "alice", "email": "new@example.com", "password": "x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Username already taken", body["error"])

	resp, _ = s.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"username": "bob", "email": "not-an-email", "password": "x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginAndMe(t *testing.T) {
	s := newTestServer(t, stubRunner{}, 5)
	token := s.signupAndLogin(t, "alice")

	resp, body := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Incorrect email/username or password", body["error"])

	resp, body = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice", "password": "pw-alice",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["access_token"])

	resp, body = s.do(t, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "alice@example.com", body["email"])

	resp, _ = s.do(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInactiveUserIsRejected(t *testing.T) {
	s := newTestServer(t, stubRunner{}, 5)
	token := s.signupAndLogin(t, "alice")

	user, err := s.repo.GetUserByLogin(context.Background(), "alice")
	require.NoError(t, err)
	require.NoError(t, s.repo.SetUserActive(context.Background(), user.UserID, false))

	resp, body := s.do(t, http.MethodGet, "/chat/all", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Inactive user", body["error"])
}

func TestChatLifecycle(t *testing.T) {
	s := newTestServer(t, stubRunner{reply: "Nice to meet you!"}, 5)
	token := s.signupAndLogin(t, "alice")

	resp, body := s.do(t, http.MethodPost, "/chat/new", token, map[string]string{
		"chat_name": "daily", "personality": "friend",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "Chat created", body["msg"])
	assert.Equal(t, "friend", body["mode"])
	chatID := body["chat_id"].(string)

	resp, body = s.do(t, http.MethodPost, "/chat/new", token, map[string]string{
		"chat_name": "daily", "personality": "guide",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Chat name already exists", body["error"])

	resp, _ = s.do(t, http.MethodPost, "/chat/new", token, map[string]string{
		"chat_name": "other", "personality": "pirate",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/chat/send", token, map[string]string{
		"chat_id": chatID, "message": "Hi\x00 there",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Nice to meet you!", body["reply"])

	resp, body = s.do(t, http.MethodPost, "/chat/send", token, map[string]string{
		"chat_id": chatID, "message": "\x00 ",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.ErrEmptyMessage.Error(), body["error"])

	resp, body = s.do(t, http.MethodGet, "/chat/"+chatID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "daily", body["chat_name"])
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]interface{})
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "Hi there", first["content"])
	assert.NotEmpty(t, first["time"])

	resp, body = s.do(t, http.MethodGet, "/chat/all", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(body["items"].(json.RawMessage), &list))
	require.Len(t, list, 1)
	assert.Equal(t, chatID, list[0]["chat_id"])
	assert.Equal(t, "friend", list[0]["mode"])
	assert.NotContains(t, list[0], "system_prompt")

	resp, body = s.do(t, http.MethodDelete, "/chat/"+chatID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Chat deleted successfully", body["msg"])

	resp, _ = s.do(t, http.MethodGet, "/chat/"+chatID, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatIDValidationAndOwnership(t *testing.T) {
	s := newTestServer(t, stubRunner{reply: "ok"}, 5)
	alice := s.signupAndLogin(t, "alice")
	bob := s.signupAndLogin(t, "bob")

	resp, body := s.do(t, http.MethodGet, "/chat/not-a-uuid", alice, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid Chat ID format", body["error"])

	_, body = s.do(t, http.MethodPost, "/chat/new", alice, map[string]string{
		"chat_name": "secret", "personality": "guide",
	})
	chatID := body["chat_id"].(string)

	resp, _ = s.do(t, http.MethodGet, "/chat/"+chatID, bob, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/chat/send", bob, map[string]string{"chat_id": chatID, "message": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageErrorsAndRateLimit(t *testing.T) {
	s := newTestServer(t, stubRunner{err: domain.ErrInference}, 2)
	token := s.signupAndLogin(t, "alice")

	_, body := s.do(t, http.MethodPost, "/chat/new", token, map[string]string{
		"chat_name": "daily", "personality": "bully",
	})
	chatID := body["chat_id"].(string)

	resp, _ := s.do(t, http.MethodPost, "/chat/send", token, map[string]string{"chat_id": chatID, "message": "hi"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/chat/send", token, map[string]string{"chat_id": chatID, "message": "hi"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/chat/send", token, map[string]string{"chat_id": chatID, "message": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
