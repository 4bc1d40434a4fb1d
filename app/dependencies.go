package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/bookstore-api/auth"
	"github.com/upb/bookstore-api/config"
	"github.com/upb/bookstore-api/internal/password"
	"github.com/upb/bookstore-api/middleware"
	"github.com/upb/bookstore-api/repositories"
	"github.com/upb/bookstore-api/repositories/memory"
	"github.com/upb/bookstore-api/repositories/postgres"
	"github.com/upb/bookstore-api/services"
	"github.com/upb/bookstore-api/services/audit"
	"github.com/upb/bookstore-api/services/revocation"
	"github.com/upb/bookstore-api/tokens"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	Store  repositories.HealthChecker

	// Repository Factory, nil with the memory driver
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users     repositories.UserRepository
	AuditLogs repositories.AuditRepository
	TxManager repositories.TransactionManager

	// Services
	Tokens      *tokens.Manager
	Revocations *revocation.Denylist
	Audit       *audit.AuditService
	AuthService *services.AuthService
	UserService *services.UserService

	// HTTP
	authHandler    *auth.Handler
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter

	stopCh chan struct{}
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		stopCh: make(chan struct{}),
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	if err := deps.bootstrapAdministrator(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to bootstrap administrator: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initStore selects the credential store by driver
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.Driver == config.DriverMemory {
		d.Users = memory.NewUserRepository()
		d.AuditLogs = memory.NewAuditRepository()
		d.TxManager = memory.NewTransactionManager()
		d.Store = memory.Checker{}
		d.Logger.Warn("using in-memory credential store, data is lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(ctx, cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	repos := factory.NewRepositories()
	d.RepoFactory = factory
	d.Store = factory.GetDB()
	d.Users = repos.Users
	d.AuditLogs = repos.AuditLogs
	d.TxManager = factory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.EphemeralKey {
		d.Logger.Warn("JWT_SIGNING_KEY not set, using an ephemeral signing key",
			zap.String("environment", cfg.Environment))
	}

	manager, err := tokens.NewManager(tokens.Config{
		SigningKey: []byte(cfg.Auth.SigningKey.Value()),
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		Lifetime:   cfg.Auth.TokenLifetime,
	})
	if err != nil {
		return err
	}
	d.Tokens = manager

	hasher, err := password.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	d.Revocations = revocation.NewDenylist(cfg.Auth.RevocationCapacity)
	if cfg.Auth.RevocationSweep > 0 {
		go d.Revocations.StartCleanupWorker(cfg.Auth.RevocationSweep, d.stopCh)
	}

	d.Audit = audit.NewAuditService(d.AuditLogs, d.Logger, audit.DefaultConfig())
	if err := d.Audit.Start(); err != nil {
		return err
	}

	d.AuthService = services.NewAuthService(
		d.Users,
		d.TxManager,
		hasher,
		manager,
		d.Revocations,
		d.Audit,
		d.Logger,
		services.AuthConfig{StoreTimeout: cfg.Auth.StoreTimeout},
	)
	d.UserService = services.NewUserService(d.Users, d.Logger)

	d.AuthMiddleware = middleware.NewAuthMiddleware(&tokenValidatorAdapter{manager: manager}, d.Revocations, d.Logger)
	d.authHandler = auth.NewHandler(d.AuthService, d.Logger)

	if cfg.RateLimit.Enabled {
		d.RateLimiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			IdleTTL:           cfg.RateLimit.IdleTTL,
		}, d.Logger)
		sweep := cfg.RateLimit.IdleTTL
		if sweep <= 0 {
			sweep = 5 * time.Minute
		}
		go d.RateLimiter.StartCleanupWorker(sweep, d.stopCh)
	}

	d.Logger.Info("auth initialized",
		zap.String("issuer", cfg.Auth.Issuer),
		zap.Duration("token_lifetime", manager.Lifetime()),
		zap.Int("bcrypt_cost", hasher.Cost()))
	return nil
}

func (d *Dependencies) bootstrapAdministrator(ctx context.Context, cfg *config.Config) error {
	if cfg.Auth.BootstrapAdminEmail == "" {
		return nil
	}
	user, err := d.AuthService.EnsureAdministrator(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPassword.Value())
	if err != nil {
		return err
	}
	d.Logger.Info("administrator ready", zap.String("user_id", user.ID.String()))
	return nil
}

// tokenValidatorAdapter adapts tokens.Manager to middleware.TokenValidator
type tokenValidatorAdapter struct {
	manager *tokens.Manager
}

func (a *tokenValidatorAdapter) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	parsed, err := a.manager.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	claims := &middleware.Claims{
		Sub:     parsed.Subject,
		UserID:  parsed.UserID,
		TokenID: parsed.ID,
		Roles:   append([]string{}, parsed.Roles...),
		Iss:     parsed.Issuer,
	}
	if parsed.ExpiresAt != nil {
		claims.Exp = parsed.ExpiresAt.Unix()
	}
	if parsed.IssuedAt != nil {
		claims.Iat = parsed.IssuedAt.Unix()
	}
	return claims, nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.stopCh != nil {
		close(d.stopCh)
		d.stopCh = nil
	}

	// Drain queued audit events before the store goes away
	if d.Audit != nil {
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		if err := d.Audit.Stop(timeout); err != nil && !errors.Is(err, audit.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}
