package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/funneldash/dashcore/internal/auth"
)

// AuthHandler exchanges operator credentials for a bearer token
type AuthHandler struct {
	auth   *auth.Service
	ttl    time.Duration
	logger *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc *auth.Service, ttl time.Duration, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthHandler{auth: svc, ttl: ttl, logger: logger.With("component", "api")}
}

// LoginRequest is the body of POST /api/v1/auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := DecodeJSON[LoginRequest](w, r)
	if !ok {
		return
	}
	if req.Username == "" || req.Password == "" {
		SendError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "username and password are required", nil)
		return
	}

	if err := h.auth.Authenticate(req.Username, req.Password); err != nil {
		h.logger.Warn("rejected login", "user", req.Username)
		SendError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
		return
	}

	token, expiresAt, err := h.auth.IssueToken(req.Username, h.ttl)
	if err != nil {
		h.logger.Error("failed to issue token", "error", err)
		SendError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token", nil)
		return
	}
	h.logger.Info("operator logged in", "user", req.Username)
	SendJSON(w, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	})
}
