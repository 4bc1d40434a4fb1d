package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role names carried in identity records and token role claims
const (
	RoleAdministrator = "Administrator"
	RoleCustomer      = "Customer"

	// DefaultRole is assigned to every identity at registration
	DefaultRole = RoleCustomer
)

// User represents a registered identity. Email is the login name.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Roles        []string  `json:"roles" db:"roles"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new User with a fresh ID and the given roles.
// The email is normalized and roles are sorted and de-duplicated.
func NewUser(email, passwordHash string, roles ...string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		Roles:        NormalizeRoles(roles),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasRole reports whether the user holds the named role
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin returns true if the user holds the Administrator role
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdministrator)
}

// NormalizeEmail trims and lowercases an email so uniqueness is case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeRoles returns a sorted copy of roles without blanks or duplicates
func NormalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
