package routes

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/bookstore-api/app"
	"github.com/upb/bookstore-api/handlers"
	"github.com/upb/bookstore-api/middleware"
	"github.com/upb/bookstore-api/models"
	"github.com/upb/bookstore-api/utils"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 60 * time.Second

var defaultAllowedOrigins = []string{"http://localhost:*"}

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	requestTimeout := defaultRequestTimeout
	allowedOrigins := defaultAllowedOrigins
	var trustedProxies []netip.Prefix
	if deps.Config != nil {
		if deps.Config.Server.RequestTimeout > 0 {
			requestTimeout = deps.Config.Server.RequestTimeout
		}
		if len(deps.Config.Server.AllowedOrigins) > 0 {
			allowedOrigins = deps.Config.Server.AllowedOrigins
		}
		prefixes, err := deps.Config.Server.TrustedProxyPrefixes()
		if err != nil {
			logger.Warn("ignoring trusted proxies, forwarding headers are not honored", zap.Error(err))
		} else {
			trustedProxies = prefixes
		}
	}

	// Protected routes fail closed when auth is not wired
	guard := deps.AuthMiddleware
	if guard == nil {
		logger.Warn("auth not configured, protected routes reject every request")
		guard = middleware.NewAuthMiddleware(rejectAllValidator{}, nil, logger)
	}

	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.RealIP(trustedProxies))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.ClientInfo)
	r.Use(chimw.Timeout(requestTimeout))

	// CORS middleware. Tokens travel in the Authorization header, never in
	// cookies, so credentialed cross-origin requests stay disabled.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", handlers.HealthCheck(deps))
	r.Get("/readyz", handlers.ReadinessCheck(deps))

	// Credential endpoints
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Limit)
			}
			r.Post("/register", handlers.AuthRegisterHandler(deps))
			r.Post("/login", handlers.AuthLoginHandler(deps))
		})

		r.With(guard.RequireAuth).Post("/logout", handlers.AuthLogoutHandler(deps))
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/status", handlers.StatusHandler(deps))

		// Identity routes
		r.Route("/users", func(r chi.Router) {
			r.Use(guard.RequireAuth)
			r.Get("/me", handlers.GetCurrentUserHandler(deps))

			r.Group(func(r chi.Router) {
				r.Use(guard.RequireRole(models.RoleAdministrator))
				r.Get("/", handlers.ListUsersHandler(deps))
				r.Get("/{id}", handlers.GetUserHandler(deps))
				r.Get("/{id}/roles", handlers.GetUserRolesHandler(deps))
				r.Get("/{id}/events", handlers.ListUserAuditEventsHandler(deps))
			})
		})

		// Authentication events (require administrator role)
		r.Route("/audit", func(r chi.Router) {
			r.Use(guard.RequireAuth)
			r.Use(guard.RequireRole(models.RoleAdministrator))
			r.Get("/events", handlers.ListAuditEventsHandler(deps))
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
			Error:   "method_not_allowed",
			Message: "Method not allowed",
		})
	})

	return r
}

// rejectAllValidator rejects all tokens
type rejectAllValidator struct{}

func (rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, errors.New("authentication not configured")
}
