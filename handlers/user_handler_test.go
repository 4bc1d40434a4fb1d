package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/bookstore-api/app"
	"github.com/upb/bookstore-api/config"
	"github.com/upb/bookstore-api/middleware"
	"github.com/upb/bookstore-api/models"
	"github.com/upb/bookstore-api/repositories/memory"
	"github.com/upb/bookstore-api/services"
	"github.com/upb/bookstore-api/services/audit"
	"go.uber.org/zap"
)

type testDeps struct {
	*app.Dependencies
	users     *memory.UserRepository
	auditRepo *memory.AuditRepository
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	logger := zap.NewNop()
	users := memory.NewUserRepository()
	auditRepo := memory.NewAuditRepository()

	return &testDeps{
		Dependencies: &app.Dependencies{
			Config: &config.Config{
				Environment: "test",
				Version:     "1.2.3",
				Database:    config.DatabaseConfig{Driver: config.DriverMemory},
			},
			Logger:      logger,
			Store:       memory.Checker{},
			Users:       users,
			AuditLogs:   auditRepo,
			UserService: services.NewUserService(users, logger),
			Audit:       audit.NewAuditService(auditRepo, logger, audit.DefaultConfig()),
		},
		users:     users,
		auditRepo: auditRepo,
	}
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGetCurrentUserHandler(t *testing.T) {
	deps := newTestDeps(t)
	user := models.NewUser("user@example.com", "$2a$10$hash", models.RoleCustomer)
	require.NoError(t, deps.users.Create(context.Background(), user))

	t.Run("returns 200 with user info when authenticated", func(t *testing.T) {
		claims := &middleware.Claims{
			Sub:     "user@example.com",
			UserID:  user.ID.String(),
			TokenID: uuid.NewString(),
			Roles:   []string{models.RoleCustomer},
		}

		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
		rec := httptest.NewRecorder()

		GetCurrentUserHandler(deps.Dependencies)(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.NotContains(t, rec.Body.String(), "$2a$10$hash")

		var body struct {
			Data struct {
				ID    string   `json:"id"`
				Email string   `json:"email"`
				Roles []string `json:"roles"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, user.ID.String(), body.Data.ID)
		assert.Equal(t, "user@example.com", body.Data.Email)
		assert.Equal(t, []string{models.RoleCustomer}, body.Data.Roles)
	})

	t.Run("falls back to the subject when the token has no uid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.Claims{Sub: "user@example.com"}))
		rec := httptest.NewRecorder()

		GetCurrentUserHandler(deps.Dependencies)(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), user.ID.String())
	})

	t.Run("returns 404 when the uid no longer exists", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.Claims{
			Sub:    "user@example.com",
			UserID: uuid.NewString(),
		}))
		rec := httptest.NewRecorder()

		GetCurrentUserHandler(deps.Dependencies)(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns 404 when identity no longer exists", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.Claims{Sub: "gone@example.com"}))
		rec := httptest.NewRecorder()

		GetCurrentUserHandler(deps.Dependencies)(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns 401 when claims missing in context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		rec := httptest.NewRecorder()

		GetCurrentUserHandler(deps.Dependencies)(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestListUsersHandler(t *testing.T) {
	deps := newTestDeps(t)
	base := time.Now().UTC()
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		u := models.NewUser(email, "h", models.RoleCustomer)
		u.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, deps.users.Create(context.Background(), u))
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantEmails []string
		wantLimit  int
	}{
		{"default page", "", http.StatusOK, []string{"a@example.com", "b@example.com", "c@example.com"}, services.DefaultPageSize},
		{"limit and offset", "?limit=1&offset=1", http.StatusOK, []string{"b@example.com"}, 1},
		{"offset past end", "?offset=10", http.StatusOK, []string{}, services.DefaultPageSize},
		{"limit clamped", "?limit=100000", http.StatusOK, []string{"a@example.com", "b@example.com", "c@example.com"}, services.MaxPageSize},
		{"invalid limit", "?limit=abc", http.StatusBadRequest, nil, 0},
		{"negative offset", "?offset=-1", http.StatusBadRequest, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/users"+tt.query, nil)
			rec := httptest.NewRecorder()

			ListUsersHandler(deps.Dependencies)(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var body struct {
				Data struct {
					Items []models.User `json:"items"`
					Limit int           `json:"limit"`
				} `json:"data"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			emails := []string{}
			for _, u := range body.Data.Items {
				emails = append(emails, u.Email)
			}
			assert.Equal(t, tt.wantEmails, emails)
			assert.Equal(t, tt.wantLimit, body.Data.Limit)
		})
	}
}

func TestGetUserHandler(t *testing.T) {
	deps := newTestDeps(t)
	user := models.NewUser("user@example.com", "h", models.RoleCustomer)
	require.NoError(t, deps.users.Create(context.Background(), user))

	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{"existing identity", user.ID.String(), http.StatusOK},
		{"unknown identity", uuid.NewString(), http.StatusNotFound},
		{"malformed id", "not-a-uuid", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/users/"+tt.id, nil), "id", tt.id)
			rec := httptest.NewRecorder()

			GetUserHandler(deps.Dependencies)(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestGetUserRolesHandler(t *testing.T) {
	deps := newTestDeps(t)
	user := models.NewUser("user@example.com", "h", models.RoleCustomer)
	require.NoError(t, deps.users.Create(context.Background(), user))

	t.Run("lists roles", func(t *testing.T) {
		id := user.ID.String()
		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/users/"+id+"/roles", nil), "id", id)
		rec := httptest.NewRecorder()

		GetUserRolesHandler(deps.Dependencies)(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data RolesResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, id, body.Data.UserID)
		assert.Equal(t, []string{models.RoleCustomer}, body.Data.Roles)
	})

	t.Run("unknown identity", func(t *testing.T) {
		id := uuid.NewString()
		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/users/"+id+"/roles", nil), "id", id)
		rec := httptest.NewRecorder()

		GetUserRolesHandler(deps.Dependencies)(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListAuditEventsHandler(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, deps.auditRepo.Insert(ctx, models.NewAuditLog(models.AuditActionLoginFailed, "a***@example.com").
		WithReason(models.AuditReasonBadPassword).WithUser(userID)))
	require.NoError(t, deps.auditRepo.Insert(ctx, models.NewAuditLog(models.AuditActionLoginSucceeded, "a***@example.com").WithUser(userID)))

	t.Run("filters by action", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?action=login_failed", nil)
		rec := httptest.NewRecorder()

		ListAuditEventsHandler(deps.Dependencies)(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data struct {
				Items []models.AuditLog `json:"items"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Data.Items, 1)
		assert.Equal(t, models.AuditReasonBadPassword, body.Data.Items[0].Reason)
	})

	t.Run("since in the future returns nothing", func(t *testing.T) {
		since := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?action=login_failed&since="+since, nil)
		rec := httptest.NewRecorder()

		ListAuditEventsHandler(deps.Dependencies)(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"items":[]`)
	})

	t.Run("rejects unknown action and bad since", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?action=nope&since=yesterday", nil)
		rec := httptest.NewRecorder()

		ListAuditEventsHandler(deps.Dependencies)(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		details := body["details"].(map[string]interface{})
		assert.Contains(t, details, "action")
		assert.Contains(t, details, "since")
	})

	t.Run("user events", func(t *testing.T) {
		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/users/"+userID.String()+"/events", nil), "id", userID.String())
		rec := httptest.NewRecorder()

		ListUserAuditEventsHandler(deps.Dependencies)(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data struct {
				Items []models.AuditLog `json:"items"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Data.Items, 2)
		assert.Equal(t, models.AuditActionLoginSucceeded, body.Data.Items[0].Action)
	})
}

type unreachableAuditRepo struct {
	*memory.AuditRepository
}

func (unreachableAuditRepo) GetByUserID(context.Context, uuid.UUID, int, int) ([]*models.AuditLog, error) {
	return nil, errors.New("pq: connection refused")
}

func (unreachableAuditRepo) GetByAction(context.Context, models.AuditAction, time.Time, int) ([]*models.AuditLog, error) {
	return nil, errors.New("pq: connection refused")
}

func TestAuditHandlers_StoreFailureIsGeneric500(t *testing.T) {
	deps := newTestDeps(t)
	repo := unreachableAuditRepo{deps.auditRepo}
	deps.AuditLogs = repo
	deps.Audit = audit.NewAuditService(repo, deps.Logger, audit.DefaultConfig())
	userID := uuid.NewString()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		req     *http.Request
	}{
		{
			name:    "events by action",
			handler: ListAuditEventsHandler(deps.Dependencies),
			req:     httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?action=logout", nil),
		},
		{
			name:    "events by user",
			handler: ListUserAuditEventsHandler(deps.Dependencies),
			req:     withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/users/"+userID+"/events", nil), "id", userID),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()

			tt.handler(rec, tt.req)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Contains(t, rec.Body.String(), "internal_error")
			assert.NotContains(t, rec.Body.String(), "connection refused")
		})
	}
}

func TestStatusHandler(t *testing.T) {
	deps := newTestDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()

	StatusHandler(deps.Dependencies)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "1.2.3", body.Data["version"])
	assert.Equal(t, "test", body.Data["environment"])
	assert.Equal(t, "memory", body.Data["store"])
}
