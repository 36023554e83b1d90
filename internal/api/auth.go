package api

import (
	"errors"
	"mime"
	"net/http"
	"net/mail"
	"strings"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/identity"
	"github.com/go-chi/chi/v5"
)

// AuthHandler handles account endpoints.
type AuthHandler struct {
	*Handler
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *Handler) *AuthHandler {
	return &AuthHandler{Handler: base}
}

// RegisterRoutes registers auth routes. /auth/me is wrapped with auth.
func (h *AuthHandler) RegisterRoutes(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
		r.With(auth).Get("/me", h.Me)
	})
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup creates an account.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		Error(w, http.StatusBadRequest, "invalid email address")
		return
	}

	ctx := r.Context()
	taken, err := h.repo.UserExistsByEmail(ctx, req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if taken {
		Error(w, http.StatusBadRequest, "Email already registered")
		return
	}

	taken, err = h.repo.UserExistsByUsername(ctx, req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if taken {
		Error(w, http.StatusBadRequest, "Username already taken")
		return
	}

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user := &domain.User{
		Username:       req.Username,
		Email:          req.Email,
		HashedPassword: hash,
		IsActive:       true,
	}
	if err := h.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			Error(w, http.StatusBadRequest, "Email or username already registered")
			return
		}
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("user signed up", "user_id", user.UserID)
	JSON(w, http.StatusCreated, map[string]string{
		"msg":      "User created",
		"user_id":  user.UserID,
		"username": user.Username,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges an email or username plus password for an access token.
// Both form-encoded and JSON bodies are accepted.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := decodeJSON(w, r, &req); err != nil {
			Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			Error(w, http.StatusBadRequest, "invalid form body")
			return
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	}

	login := strings.TrimSpace(req.Username)
	if login == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.repo.GetUserByLogin(r.Context(), login)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user == nil || !identity.CheckPassword(user.HashedPassword, req.Password) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		Error(w, http.StatusUnauthorized, "Incorrect email/username or password")
		return
	}

	token, err := h.tokens.Issue(user.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"access_token":       token,
		"token_type":         "bearer",
		"expires_in_minutes": int(h.tokens.TTL().Minutes()),
	})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	user, err := h.repo.GetUserByID(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"user_id":  user.UserID,
		"username": user.Username,
		"email":    user.Email,
	})
}
