package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/bookstore-api/models"
	"github.com/upb/bookstore-api/repositories"
	"go.uber.org/zap"
)

const selectAuditLog = `
	SELECT id, user_id, action, reason, email, token_id, details,
	       ip_address, user_agent, request_id, timestamp
	FROM auth_events
`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new auth event
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO auth_events (
			id, user_id, action, reason, email, token_id, details,
			ip_address, user_agent, request_id, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var details interface{}
	if len(log.Details) > 0 {
		details = []byte(log.Details)
	}

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		log.ID,
		log.UserID,
		string(log.Action),
		string(log.Reason),
		log.Email,
		log.TokenID,
		details,
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// GetByUserID retrieves events for an identity, newest first
func (r *AuditRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	query := selectAuditLog + `
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`
	return r.query(ctx, query, userID, limit, offset)
}

// GetByAction retrieves events by action since a point in time, newest first
func (r *AuditRepository) GetByAction(ctx context.Context, action models.AuditAction, since time.Time, limit int) ([]*models.AuditLog, error) {
	query := selectAuditLog + `
		WHERE action = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
		LIMIT $3
	`
	return r.query(ctx, query, string(action), since, limit)
}

func (r *AuditRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

func scanAuditLog(rows *sql.Rows) (*models.AuditLog, error) {
	var (
		log       models.AuditLog
		userID    uuid.NullUUID
		action    string
		reason    string
		details   []byte
		ip        sql.NullString
		userAgent sql.NullString
		requestID sql.NullString
	)

	if err := rows.Scan(
		&log.ID,
		&userID,
		&action,
		&reason,
		&log.Email,
		&log.TokenID,
		&details,
		&ip,
		&userAgent,
		&requestID,
		&log.Timestamp,
	); err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	if userID.Valid {
		id := userID.UUID
		log.UserID = &id
	}
	log.Action = models.AuditAction(action)
	log.Reason = models.AuditReason(reason)
	log.Details = details
	log.IPAddress = ip.String
	log.UserAgent = userAgent.String
	log.RequestID = requestID.String

	return &log, nil
}
