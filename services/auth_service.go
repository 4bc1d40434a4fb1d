package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/upb/bookstore-api/internal/observability"
	"github.com/upb/bookstore-api/internal/password"
	"github.com/upb/bookstore-api/models"
	"github.com/upb/bookstore-api/repositories"
	"github.com/upb/bookstore-api/tokens"
	"github.com/upb/bookstore-api/utils"
	"go.uber.org/zap"
)

// DefaultStoreTimeout bounds each credential store call made by the auth service
const DefaultStoreTimeout = 3 * time.Second

// TokenIssuer issues signed tokens for verified identities
type TokenIssuer interface {
	Issue(user *models.User) (*tokens.IssuedToken, error)
}

// Revoker denies a token id until the token expires
type Revoker interface {
	Revoke(tokenID string, expiresAt time.Time) error
}

// AuditRecorder records authentication events without blocking
type AuditRecorder interface {
	Record(ctx context.Context, log *models.AuditLog)
}

// RegisterInput is the credential submitted at registration
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=256"`
	Password string `json:"password" validate:"required,min=8,max=72,password"`
}

// LoginInput is the credential submitted at login
type LoginInput struct {
	Email    string `json:"email" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=1024"`
}

// LoginResult is returned by a successful login
type LoginResult struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
	User      *models.User
}

// Session identifies the token presented on an authenticated request
type Session struct {
	TokenID   string
	Email     string
	UserID    string
	ExpiresAt time.Time
}

// AuthConfig holds the auth service settings
type AuthConfig struct {
	StoreTimeout time.Duration
}

// AuthService orchestrates registration, login and logout
type AuthService struct {
	users        repositories.UserRepository
	txm          repositories.TransactionManager
	hasher       password.Hasher
	issuer       TokenIssuer
	revoker      Revoker
	audit        AuditRecorder
	logger       *zap.Logger
	storeTimeout time.Duration
}

// NewAuthService creates a new auth service. revoker and audit may be nil.
func NewAuthService(
	users repositories.UserRepository,
	txm repositories.TransactionManager,
	hasher password.Hasher,
	issuer TokenIssuer,
	revoker Revoker,
	audit AuditRecorder,
	logger *zap.Logger,
	cfg AuthConfig,
) *AuthService {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if audit == nil {
		audit = nopRecorder{}
	}
	return &AuthService{
		users:        users,
		txm:          txm,
		hasher:       hasher,
		issuer:       issuer,
		revoker:      revoker,
		audit:        audit,
		logger:       logger,
		storeTimeout: cfg.StoreTimeout,
	}
}

// Register creates an identity holding the default role
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	input.Email = strings.TrimSpace(input.Email)
	logger := observability.WithRequest(ctx, s.logger).With(observability.Email(input.Email))

	if err := utils.ValidateStruct(&input); err != nil {
		logger.Debug("registration rejected: invalid input", zap.Error(err))
		return nil, invalidInput(err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) || errors.Is(err, password.ErrEmptyPassword) {
			return nil, ErrInvalidInput.Wrap(err).WithDetail("password", err.Error())
		}
		logger.Error("failed to hash password", zap.Error(err))
		return nil, ErrRegistrationFailed.Wrap(err)
	}

	user := models.NewUser(input.Email, hash, models.DefaultRole)
	masked := observability.MaskEmail(user.Email)

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	err = WithTransaction(storeCtx, s.txm, func(txCtx context.Context, _ repositories.Transaction) error {
		return s.users.Create(txCtx, user)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			logger.Info("registration rejected: duplicate identity")
			s.audit.Record(ctx, models.NewAuditLog(models.AuditActionRegisterFailed, masked).
				WithReason(models.AuditReasonDuplicateIdentity))
			return nil, ErrDuplicateIdentity.Wrap(err)
		}

		logger.Error("registration failed", zap.Error(err))
		s.audit.Record(ctx, models.NewAuditLog(models.AuditActionRegisterFailed, masked).
			WithReason(models.AuditReasonStoreError))
		return nil, ErrRegistrationFailed.Wrap(err)
	}

	logger.Info("identity registered", zap.String("user_id", user.ID.String()))
	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionRegisterSucceeded, masked).WithUser(user.ID))

	return user, nil
}

// Login verifies the credential and issues a token. An unknown email and a
// wrong password produce the same error.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	submitted := input.Email
	input.Email = strings.TrimSpace(input.Email)
	logger := observability.WithRequest(ctx, s.logger).With(observability.Email(input.Email))

	if err := utils.ValidateStruct(&input); err != nil {
		return nil, invalidInput(err)
	}

	masked := observability.MaskEmail(input.Email)

	lookupCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	user, err := s.users.GetByEmail(lookupCtx, input.Email)
	cancel()

	switch {
	case errors.Is(err, repositories.ErrNotFound):
		s.hasher.VerifyDummy(input.Password)
		logger.Info("login failed", zap.String("reason", string(models.AuditReasonUnknownUser)))
		s.audit.Record(ctx, models.NewAuditLog(models.AuditActionLoginFailed, masked).
			WithReason(models.AuditReasonUnknownUser))
		return nil, invalidCredentials(submitted)

	case err != nil:
		logger.Error("credential lookup failed", zap.Error(err))
		s.audit.Record(ctx, models.NewAuditLog(models.AuditActionLoginFailed, masked).
			WithReason(models.AuditReasonStoreError))
		return nil, ErrStoreUnavailable.Wrap(err)
	}

	if !s.hasher.Verify(input.Password, user.PasswordHash) {
		logger.Info("login failed", zap.String("reason", string(models.AuditReasonBadPassword)))
		s.audit.Record(ctx, models.NewAuditLog(models.AuditActionLoginFailed, masked).
			WithUser(user.ID).
			WithReason(models.AuditReasonBadPassword))
		return nil, invalidCredentials(submitted)
	}

	issued, err := s.issuer.Issue(user)
	if err != nil {
		logger.Error("failed to issue token", zap.Error(err))
		return nil, ErrInternal.Wrap(err)
	}

	logger.Info("login succeeded",
		zap.String("user_id", user.ID.String()),
		zap.String("token_id", issued.TokenID),
		zap.Time("expires_at", issued.ExpiresAt))
	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionLoginSucceeded, masked).
		WithUser(user.ID).
		WithToken(issued.TokenID))

	return &LoginResult{
		Token:     issued.Token,
		TokenID:   issued.TokenID,
		ExpiresAt: issued.ExpiresAt,
		User:      user,
	}, nil
}

// Logout revokes the session's token until it would have expired anyway
func (s *AuthService) Logout(ctx context.Context, session Session) error {
	if session.TokenID == "" {
		return ErrInvalidToken
	}

	logger := observability.WithRequest(ctx, s.logger)
	if s.revoker != nil {
		if err := s.revoker.Revoke(session.TokenID, session.ExpiresAt); err != nil {
			logger.Error("failed to revoke token",
				zap.String("token_id", session.TokenID),
				zap.Error(err))
			return ErrRevocationFailed.Wrap(err)
		}
	}

	logger.Info("token revoked",
		observability.Email(session.Email),
		zap.String("token_id", session.TokenID))

	log := models.NewAuditLog(models.AuditActionLogout, observability.MaskEmail(session.Email)).
		WithToken(session.TokenID)
	if id, err := utils.ParseUUID(session.UserID, "uid"); err == nil {
		log.WithUser(id)
	}
	s.audit.Record(ctx, log)

	return nil
}

// EnsureAdministrator makes sure an identity with the Administrator role
// exists for email. Safe to call on every start.
func (s *AuthService) EnsureAdministrator(ctx context.Context, email, plain string) (*models.User, error) {
	input := RegisterInput{Email: strings.TrimSpace(email), Password: plain}
	if err := utils.ValidateStruct(&input); err != nil {
		return nil, invalidInput(err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.users.GetByEmail(storeCtx, input.Email)
	if errors.Is(err, repositories.ErrNotFound) {
		user, err = s.createAdministrator(storeCtx, input)
	}
	if err != nil {
		return nil, ErrStoreUnavailable.Wrap(err)
	}

	if !user.IsAdmin() {
		if err := s.users.AssignRole(storeCtx, user.ID, models.RoleAdministrator); err != nil {
			return nil, ErrStoreUnavailable.Wrap(err)
		}
		user.Roles = models.NormalizeRoles(append(user.Roles, models.RoleAdministrator))
		s.logger.Info("administrator role granted", observability.Email(user.Email))
	}

	return user, nil
}

func (s *AuthService) createAdministrator(ctx context.Context, input RegisterInput) (*models.User, error) {
	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	user := models.NewUser(input.Email, hash, models.RoleAdministrator, models.DefaultRole)
	err = WithTransaction(ctx, s.txm, func(txCtx context.Context, _ repositories.Transaction) error {
		return s.users.Create(txCtx, user)
	})
	if errors.Is(err, repositories.ErrDuplicate) {
		// Another instance seeded it first
		return s.users.GetByEmail(ctx, input.Email)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("administrator created", observability.Email(user.Email), zap.String("user_id", user.ID.String()))
	return user, nil
}

func invalidInput(err error) *DomainError {
	de := ErrInvalidInput.Wrap(err)
	for field, msg := range utils.GetValidationFields(err) {
		de.WithDetail(field, msg)
	}
	return de
}

func invalidCredentials(submittedEmail string) *DomainError {
	return ErrInvalidCredentials.Wrap(nil).WithDetail("email", submittedEmail)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, *models.AuditLog) {}
