package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/bookstore-api/models"
	"github.com/upb/bookstore-api/repositories"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// UserService serves read access to identities
type UserService struct {
	users  repositories.UserRepository
	logger *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(users repositories.UserRepository, logger *zap.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// GetByID returns one identity
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	return s.result(user, err)
}

// GetByEmail returns the identity with the given login name
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	return s.result(user, err)
}

// RolesOf returns the sorted role names held by an identity
func (s *UserService) RolesOf(ctx context.Context, id uuid.UUID) ([]string, error) {
	roles, err := s.users.RolesOf(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		s.logger.Error("failed to load roles", zap.Error(err))
		return nil, ErrStoreUnavailable.Wrap(err)
	}
	if roles == nil {
		roles = []string{}
	}
	return roles, nil
}

// List returns a page of identities. limit is clamped to [1, MaxPageSize].
func (s *UserService) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	limit = PageSize(limit)
	if offset < 0 {
		return nil, ErrInvalidInput.Wrap(nil).WithDetail("offset", "offset must not be negative")
	}

	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list users", zap.Error(err))
		return nil, ErrStoreUnavailable.Wrap(err)
	}
	if users == nil {
		users = []*models.User{}
	}
	return users, nil
}

// PageSize returns the effective page size for a requested limit
func PageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func (s *UserService) result(user *models.User, err error) (*models.User, error) {
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		s.logger.Error("failed to load user", zap.Error(err))
		return nil, ErrStoreUnavailable.Wrap(err)
	}
	return user, nil
}
