package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the authentication event being recorded
type AuditAction string

const (
	AuditActionRegisterSucceeded AuditAction = "register_succeeded"
	AuditActionRegisterFailed    AuditAction = "register_failed"
	AuditActionLoginSucceeded    AuditAction = "login_succeeded"
	AuditActionLoginFailed       AuditAction = "login_failed"
	AuditActionLogout            AuditAction = "logout"
)

// Valid reports whether a is one of the recorded actions
func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionRegisterSucceeded, AuditActionRegisterFailed,
		AuditActionLoginSucceeded, AuditActionLoginFailed, AuditActionLogout:
		return true
	}
	return false
}

// AuditReason qualifies a failed event. It is operator-facing only and is
// never returned to clients.
type AuditReason string

const (
	AuditReasonNone              AuditReason = ""
	AuditReasonUnknownUser       AuditReason = "unknown_user"
	AuditReasonBadPassword       AuditReason = "bad_password"
	AuditReasonDuplicateIdentity AuditReason = "duplicate_identity"
	AuditReasonStoreError        AuditReason = "store_error"
)

// AuditLog represents one authentication event in the auth_events table
type AuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Action    AuditAction     `json:"action" db:"action"`
	Reason    AuditReason     `json:"reason,omitempty" db:"reason"`
	Email     string          `json:"email" db:"email"` // masked
	TokenID   string          `json:"token_id,omitempty" db:"token_id"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress string          `json:"ip_address" db:"ip_address"`
	UserAgent string          `json:"user_agent" db:"user_agent"`
	RequestID string          `json:"request_id" db:"request_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "auth_events"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction, maskedEmail string) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Email:     maskedEmail,
		Timestamp: time.Now().UTC(),
	}
}

// WithUser sets the identity ID
func (a *AuditLog) WithUser(userID uuid.UUID) *AuditLog {
	a.UserID = &userID
	return a
}

// WithReason sets the failure reason
func (a *AuditLog) WithReason(reason AuditReason) *AuditLog {
	a.Reason = reason
	return a
}

// WithToken sets the token ID (jti) the event refers to
func (a *AuditLog) WithToken(tokenID string) *AuditLog {
	a.TokenID = tokenID
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}

// IsFailure reports whether the event records a failed attempt
func (a *AuditLog) IsFailure() bool {
	return a.Action == AuditActionLoginFailed || a.Action == AuditActionRegisterFailed
}
