// Package password hashes and verifies credentials with bcrypt.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxLength is the largest plaintext bcrypt accepts, in bytes
const MaxLength = 72

var (
	// ErrEmptyPassword is returned when hashing an empty plaintext
	ErrEmptyPassword = errors.New("password must not be empty")

	// ErrPasswordTooLong is returned when the plaintext exceeds MaxLength bytes
	ErrPasswordTooLong = fmt.Errorf("password must not exceed %d bytes", MaxLength)
)

// Hasher hashes and verifies passwords
type Hasher interface {
	// Hash returns a salted one-way hash of plain
	Hash(plain string) (string, error)

	// Verify reports whether plain matches hash
	Verify(plain, hash string) bool

	// VerifyDummy performs a comparison of the same cost as Verify against a
	// hash no password matches. Used when the identity does not exist.
	VerifyDummy(plain string)
}

// BcryptHasher implements Hasher with bcrypt
type BcryptHasher struct {
	cost      int
	dummyHash []byte
}

// NewBcryptHasher creates a hasher with the given cost. Zero means bcrypt.DefaultCost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	// Same cost as real hashes so a miss takes as long as a wrong password
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-absent-identities"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &BcryptHasher{cost: cost, dummyHash: dummy}, nil
}

// Hash returns a bcrypt hash of plain
func (h *BcryptHasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}
	if len(plain) > MaxLength {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plain matches hash. A malformed hash never matches.
func (h *BcryptHasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// VerifyDummy burns one comparison against the dummy hash
func (h *BcryptHasher) VerifyDummy(plain string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(plain))
}

// Cost returns the configured work factor
func (h *BcryptHasher) Cost() int {
	return h.cost
}
