// Package memory provides in-process stores with the same contract as the
// PostgreSQL repositories. Used in development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/bookstore-api/models"
	"github.com/upb/bookstore-api/repositories"
)

// UserRepository stores identities in memory.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*models.User
	byEmail map[string]uuid.UUID
}

// NewUserRepository creates an empty in-memory credential store.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[uuid.UUID]*models.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

// Create stores the identity. The email check and insert happen under one lock,
// so concurrent registrations of the same email yield exactly one winner.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	email := models.NormalizeEmail(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return repositories.ErrDuplicate
	}
	if _, exists := r.byID[user.ID]; exists {
		return repositories.ErrDuplicate
	}

	stored := cloneUser(user)
	stored.Email = email
	stored.Roles = models.NormalizeRoles(stored.Roles)
	r.byID[stored.ID] = stored
	r.byEmail[email] = stored.ID
	return nil
}

// GetByID retrieves an identity by ID.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneUser(user), nil
}

// GetByEmail retrieves an identity by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneUser(r.byID[id]), nil
}

// RolesOf returns the sorted role names held by an identity.
func (r *UserRepository) RolesOf(ctx context.Context, id uuid.UUID) ([]string, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Roles, nil
}

// List returns identities ordered by creation time.
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	all := make([]*models.User, 0, len(r.byID))
	for _, u := range r.byID {
		all = append(all, cloneUser(u))
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*models.User{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

// AssignRole grants a role. Granting a held role is a no-op.
func (r *UserRepository) AssignRole(ctx context.Context, id uuid.UUID, role string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return repositories.ErrNotFound
	}
	user.Roles = models.NormalizeRoles(append(user.Roles, role))
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	return &c
}

// AuditRepository stores auth events in memory.
type AuditRepository struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

// NewAuditRepository creates an empty in-memory audit store.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// Insert appends an event.
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := *log
	r.mu.Lock()
	r.logs = append(r.logs, &c)
	r.mu.Unlock()
	return nil
}

// GetByUserID returns events for an identity, newest first.
func (r *AuditRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	matched := r.filter(func(l *models.AuditLog) bool {
		return l.UserID != nil && *l.UserID == userID
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// GetByAction returns events with the given action since a point in time, newest first.
func (r *AuditRepository) GetByAction(ctx context.Context, action models.AuditAction, since time.Time, limit int) ([]*models.AuditLog, error) {
	matched := r.filter(func(l *models.AuditLog) bool {
		return l.Action == action && !l.Timestamp.Before(since)
	})
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// All returns every stored event in insertion order.
func (r *AuditRepository) All() []*models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.AuditLog(nil), r.logs...)
}

func (r *AuditRepository) filter(keep func(*models.AuditLog) bool) []*models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if keep(r.logs[i]) {
			out = append(out, r.logs[i])
		}
	}
	return out
}

// TransactionManager runs functions directly. The memory store has no
// multi-statement writes that need rollback.
type TransactionManager struct{}

// NewTransactionManager creates a no-op transaction manager.
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{}
}

// Begin returns a transaction bound to ctx.
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return &transaction{ctx: ctx}, nil
}

// InTransaction calls fn with ctx.
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, &transaction{ctx: ctx})
}

type transaction struct {
	ctx context.Context
}

func (t *transaction) Commit() error            { return nil }
func (t *transaction) Rollback() error          { return nil }
func (t *transaction) Context() context.Context { return t.ctx }

// Checker reports the in-process store as healthy.
type Checker struct{}

// HealthCheck always succeeds.
func (Checker) HealthCheck(context.Context) error { return nil }
