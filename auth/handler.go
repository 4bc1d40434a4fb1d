// Package auth is the HTTP boundary for registration, login and logout.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/bookstore-api/middleware"
	"github.com/upb/bookstore-api/models"
	"github.com/upb/bookstore-api/services"
	"github.com/upb/bookstore-api/utils"
	"go.uber.org/zap"
)

// Service is the auth use-case surface the handler drives
type Service interface {
	Register(ctx context.Context, input services.RegisterInput) (*models.User, error)
	Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	Logout(ctx context.Context, session services.Session) error
}

// RegisterResponse is the body of a successful registration
type RegisterResponse struct {
	Succeeded bool `json:"succeeded"`
}

// LoginResponse is the body of a successful login
type LoginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Handler handles the credential flows
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

// HandleRegister handles POST /auth/register
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var input services.RegisterInput
	if err := utils.DecodeJSON(w, r, &input); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	_, err := h.svc.Register(r.Context(), input)
	switch {
	case err == nil:
		_ = utils.WriteJSON(w, http.StatusOK, RegisterResponse{Succeeded: true})

	case services.IsValidationError(err):
		_ = utils.WriteBadRequest(w, "Validation failed", services.GetErrorDetails(err))

	default:
		// Duplicates included: the client learns only that registration failed
		h.logger.Debug("registration failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("code", services.GetErrorCode(err)))
		_ = utils.WriteErrorCode(w, http.StatusInternalServerError, "registration_failed", "Registration failed", nil)
	}
}

// HandleLogin handles POST /auth/login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var input services.LoginInput
	if err := utils.DecodeJSON(w, r, &input); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	result, err := h.svc.Login(r.Context(), input)
	switch {
	case err == nil:
		_ = utils.WriteJSON(w, http.StatusOK, LoginResponse{
			Token:     result.Token,
			TokenType: "Bearer",
			ExpiresAt: result.ExpiresAt,
		})

	case services.IsValidationError(err):
		_ = utils.WriteBadRequest(w, "Validation failed", services.GetErrorDetails(err))

	case services.IsUnauthorizedError(err):
		// Echo the submitted email, never the password
		_ = utils.WriteErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid email or password",
			map[string]interface{}{"email": input.Email})

	default:
		h.logger.Error("login failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "An internal error occurred")
	}
}

// HandleLogout handles POST /auth/logout. Requires RequireAuth.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	err := h.svc.Logout(r.Context(), services.Session{
		TokenID:   claims.TokenID,
		Email:     claims.Sub,
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAt(),
	})
	switch {
	case err == nil:
		utils.WriteNoContent(w)

	case services.IsUnauthorizedError(err):
		h.logger.Warn("logout rejected", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "")

	default:
		// The token stays valid, so the client must not be told it logged out
		h.logger.Error("logout failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "An internal error occurred")
	}
}
