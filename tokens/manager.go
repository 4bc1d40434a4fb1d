// Package tokens issues and validates the signed bearer tokens handed out at login.
package tokens

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/bookstore-api/models"
)

// MinKeyLength is the shortest HMAC signing key accepted, in bytes
const MinKeyLength = 32

// DefaultLifetime is how long an issued token stays valid
const DefaultLifetime = 5 * time.Minute

var (
	// ErrInvalidToken is returned when the token is malformed, tampered with,
	// signed with another key or algorithm, or has the wrong issuer or audience
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token's expiry has passed
	ErrTokenExpired = errors.New("token expired")

	// ErrWeakKey is returned when the signing key is shorter than MinKeyLength
	ErrWeakKey = fmt.Errorf("signing key must be at least %d bytes", MinKeyLength)
)

// Claims are the claims carried by an issued token
type Claims struct {
	jwt.RegisteredClaims
	Roles  []string `json:"roles"`
	UserID string   `json:"uid,omitempty"`
}

// Email returns the identity's login name, carried as the subject
func (c *Claims) Email() string {
	return c.Subject
}

// HasRole reports whether the token carries the role
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IssuedToken is the result of a successful Issue
type IssuedToken struct {
	Token     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Config holds the issuer settings
type Config struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	Lifetime   time.Duration
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source used for issuing and validating
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager signs and verifies HS256 tokens. Safe for concurrent use.
type Manager struct {
	key      []byte
	issuer   string
	audience string
	lifetime time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// NewManager creates a token manager
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if len(cfg.SigningKey) < MinKeyLength {
		return nil, ErrWeakKey
	}
	if cfg.Issuer == "" {
		return nil, errors.New("token issuer is required")
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.Issuer
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}

	m := &Manager{
		key:      append([]byte(nil), cfg.SigningKey...),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		lifetime: cfg.Lifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)

	return m, nil
}

// Issue creates a signed token for the identity
func (m *Manager) Issue(user *models.User) (*IssuedToken, error) {
	if user == nil || user.Email == "" {
		return nil, errors.New("identity is required")
	}

	now := m.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(m.lifetime)
	tokenID := uuid.NewString()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   user.Email,
			Audience:  jwt.ClaimStrings{m.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        tokenID,
		},
		Roles: models.NormalizeRoles(user.Roles),
	}
	if user.ID != uuid.Nil {
		claims.UserID = user.ID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &IssuedToken{
		Token:     signed,
		TokenID:   tokenID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate verifies signature, algorithm, issuer, audience and expiry
func (m *Manager) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := m.parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Lifetime returns the configured token lifetime
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// GenerateKey returns a random signing key of MinKeyLength*2 bytes
func GenerateKey() ([]byte, error) {
	key := make([]byte, MinKeyLength*2)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return key, nil
}
