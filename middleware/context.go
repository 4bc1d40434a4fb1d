package middleware

import (
	"context"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for token claims
	ClaimsKey contextKey = "claims"
)

// Claims are the verified token claims of the caller
type Claims struct {
	Sub     string   `json:"sub"` // login email
	UserID  string   `json:"uid,omitempty"`
	TokenID string   `json:"jti"`
	Roles   []string `json:"roles"`
	Iss     string   `json:"iss"`
	Exp     int64    `json:"exp"`
	Iat     int64    `json:"iat"`
}

// HasRole reports whether the token carries role
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the token carries at least one of roles
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if c.HasRole(role) {
			return true
		}
	}
	return false
}

// ExpiresAt returns the token expiry
func (c *Claims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0).UTC()
}

// GetRequestIDFromContext retrieves the request ID from context, falling back
// to the id set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves token claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds token claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetUserIDFromContext returns the caller's identity id, or nil when the
// token carries none
func GetUserIDFromContext(ctx context.Context) *uuid.UUID {
	claims := GetClaimsFromContext(ctx)
	if claims == nil || claims.UserID == "" {
		return nil
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil
	}
	return &id
}
