package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/bookstore-api/models"
)

// Sentinel errors returned by every store implementation
var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint rejects a write
	ErrDuplicate = errors.New("duplicate record")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// The context passed to fn carries the transaction, so repositories
	// called with it run inside the same unit of work.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository is the credential store
type UserRepository interface {
	// Create inserts the identity and one role row per role.
	// Returns ErrDuplicate when the email is already registered.
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves an identity with its roles
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByEmail retrieves an identity with its roles by normalized email
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// RolesOf returns the sorted role names held by an identity
	RolesOf(ctx context.Context, id uuid.UUID) ([]string, error)

	// List retrieves identities ordered by creation time
	List(ctx context.Context, limit, offset int) ([]*models.User, error)

	// AssignRole grants a role to an identity. Granting a held role is a no-op.
	AssignRole(ctx context.Context, id uuid.UUID, role string) error
}

// AuditRepository persists authentication events
type AuditRepository interface {
	// Insert inserts a new auth event
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByUserID retrieves events for an identity, newest first
	GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)

	// GetByAction retrieves events by action within a time window, newest first
	GetByAction(ctx context.Context, action models.AuditAction, since time.Time, limit int) ([]*models.AuditLog, error)
}

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users     UserRepository
	AuditLogs AuditRepository
}
