package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/bookstore-api/models"
	"github.com/upb/bookstore-api/repositories"
	"go.uber.org/zap"
)

// PostgreSQL error codes mapped to repository sentinels
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// selectUser aggregates role rows so one query returns the identity with its roles
const selectUser = `
	SELECT u.id, u.email, u.password_hash, u.created_at, u.updated_at,
	       COALESCE(array_agg(ur.role ORDER BY ur.role) FILTER (WHERE ur.role IS NOT NULL), '{}')
	FROM users u
	LEFT JOIN user_roles ur ON ur.user_id = u.id
`

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	txm    repositories.TransactionManager
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		txm:    NewTransactionManager(db, logger),
		logger: logger,
	}
}

// Create inserts the identity and its role rows in one transaction.
// Joins the caller's transaction when ctx carries one.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(ctx, r.db)

		_, err := executor.ExecContext(ctx, `
			INSERT INTO users (id, email, password_hash, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`,
			user.ID,
			user.Email,
			user.PasswordHash,
			user.CreatedAt,
			user.UpdatedAt,
		)
		if err != nil {
			return mapError("create user", err)
		}

		for _, role := range user.Roles {
			if _, err := executor.ExecContext(ctx,
				`INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`,
				user.ID, role,
			); err != nil {
				return mapError("assign role", err)
			}
		}

		r.logger.Debug("user created", zap.String("id", user.ID.String()))
		return nil
	})
}

// GetByID retrieves an identity with its roles
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := selectUser + ` WHERE u.id = $1 GROUP BY u.id`
	return r.getOne(ctx, query, id)
}

// GetByEmail retrieves an identity with its roles
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := selectUser + ` WHERE lower(u.email) = $1 GROUP BY u.id`
	return r.getOne(ctx, query, models.NormalizeEmail(email))
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	executor := GetExecutor(ctx, r.db)
	user := &models.User{}

	err := executor.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
		pq.Array(&user.Roles),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// RolesOf returns the sorted role names held by an identity
func (r *UserRepository) RolesOf(ctx context.Context, id uuid.UUID) ([]string, error) {
	query := `
		SELECT COALESCE(array_agg(ur.role ORDER BY ur.role) FILTER (WHERE ur.role IS NOT NULL), '{}')
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id
	`

	var roles []string
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(pq.Array(&roles))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get roles: %w", err)
	}

	return roles, nil
}

// List retrieves identities ordered by creation time
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := selectUser + `
		GROUP BY u.id
		ORDER BY u.created_at, u.id
		LIMIT $1 OFFSET $2
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0, limit)
	for rows.Next() {
		user := &models.User{}
		if err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.PasswordHash,
			&user.CreatedAt,
			&user.UpdatedAt,
			pq.Array(&user.Roles),
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return users, nil
}

// AssignRole grants a role. Granting a held role is a no-op.
func (r *UserRepository) AssignRole(ctx context.Context, id uuid.UUID, role string) error {
	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, id, role)
	if err != nil {
		return mapError("assign role", err)
	}

	r.logger.Debug("role assigned", zap.String("id", id.String()), zap.String("role", role))
	return nil
}

// mapError converts driver errors into repository sentinels
func mapError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, repositories.ErrDuplicate)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, repositories.ErrNotFound)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
