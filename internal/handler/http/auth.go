package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/utafrali/projectflow/internal/auth"
	"github.com/utafrali/projectflow/internal/domain"
	"github.com/utafrali/projectflow/internal/service"
	"github.com/utafrali/projectflow/pkg/httputil"
	"github.com/utafrali/projectflow/pkg/middleware"
)

// SessionService is the part of the session manager the handlers call.
type SessionService interface {
	Login(ctx context.Context, input service.LoginInput) (*domain.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) (int64, error)
	ActiveSessions(ctx context.Context, userID string) (int, error)
}

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(sessions SessionService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, logger: logger}
}

// --- Request DTOs ---

// LoginRequest is the JSON request body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// RefreshRequest is the JSON request body for POST /auth/refresh. The token
// is not validated here: missing and malformed values get the same 401 as
// unknown ones.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutRequest is the JSON request body for POST /auth/logout. The token
// is not validated: logout succeeds whatever is presented.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// --- Response types ---

// MessageResponse is returned by the logout endpoints.
type MessageResponse struct {
	Message string `json:"message"`
	Revoked *int64 `json:"revoked,omitempty"`
}

// SessionsResponse is returned by GET /auth/sessions.
type SessionsResponse struct {
	Active int `json:"active"`
}

// --- Handlers ---

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	pair, err := h.sessions.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pair)
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pair)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// LogoutAll handles POST /auth/logout-all. It requires a bearer access token.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	n, err := h.sessions.LogoutAll(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, MessageResponse{Message: "logged out of all sessions", Revoked: &n})
}

// Sessions handles GET /auth/sessions. It requires a bearer access token.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.sessions.ActiveSessions(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, SessionsResponse{Active: n})
}

// AccessTokenValidator adapts the issuer to the bearer middleware.
func AccessTokenValidator(issuer *auth.Issuer) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		claims, err := issuer.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{UserID: claims.UserID, TokenID: claims.ID}, nil
	}
}
