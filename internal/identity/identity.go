// Package identity provides account credentials and bearer-token request identity.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/ashureev/persona-chat/internal/domain"
)

// TokenQueryParam carries the bearer token for clients that cannot set
// headers, such as browser websockets.
const TokenQueryParam = "token"

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
)

// UserLookup resolves a token subject to an account.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*domain.User, error)
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	ctx = context.WithValue(ctx, userIDKey, user.UserID)
	return context.WithValue(ctx, usernameKey, user.Username)
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get(TokenQueryParam)
}

// Authenticate resolves the request's bearer token to an active user.
func Authenticate(r *http.Request, tokens *Tokens, users UserLookup) (*domain.User, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return nil, domain.ErrUnauthorized
	}

	userID, err := tokens.Parse(raw)
	if err != nil {
		return nil, err
	}

	user, err := users.GetUserByID(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUnauthorized
	}
	if !user.IsActive {
		return nil, domain.ErrInactiveUser
	}
	return user, nil
}

// Middleware rejects requests without a valid bearer token and injects the
// authenticated user into the request context.
func Middleware(tokens *Tokens, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := Authenticate(r, tokens, users)
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrInactiveUser):
					writeError(w, http.StatusBadRequest, "Inactive user")
				case errors.Is(err, domain.ErrUnauthorized):
					w.Header().Set("WWW-Authenticate", "Bearer")
					writeError(w, http.StatusUnauthorized, "Could not validate credentials")
				default:
					slog.Error("failed to authenticate request", "ip", IPFromRequest(r), "error", err)
					writeError(w, http.StatusInternalServerError, "failed to authenticate request")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
