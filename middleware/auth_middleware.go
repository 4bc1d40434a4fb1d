package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/bookstore-api/utils"
	"go.uber.org/zap"
)

// unauthorizedMessage is returned for every authentication failure so callers
// cannot tell a missing token from a forged, expired or revoked one
const unauthorizedMessage = "Missing or invalid authorization"

// TokenValidator defines the interface for validating bearer tokens
type TokenValidator interface {
	// ValidateToken validates a token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// RevocationChecker reports logged-out token ids
type RevocationChecker interface {
	IsRevoked(tokenID string) bool
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator   TokenValidator
	revocations RevocationChecker
	logger      *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. revocations may be nil.
func NewAuthMiddleware(validator TokenValidator, revocations RevocationChecker, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator:   validator,
		revocations: revocations,
		logger:      logger,
	}
}

// RequireAuth is a middleware that requires a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Debug("missing token",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, unauthorizedMessage)
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, unauthorizedMessage)
			return
		}

		if m.revocations != nil && m.revocations.IsRevoked(claims.TokenID) {
			m.logger.Warn("revoked token presented",
				zap.String("request_id", requestID),
				zap.String("token_id", claims.TokenID))
			_ = utils.WriteUnauthorized(w, unauthorizedMessage)
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("token_id", claims.TokenID),
			zap.Strings("roles", claims.Roles))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole is a middleware that requires at least one of roles.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("claims not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, unauthorizedMessage)
				return
			}

			if !claims.HasAnyRole(roles...) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.Strings("required_roles", roles),
					zap.Strings("token_roles", claims.Roles))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
