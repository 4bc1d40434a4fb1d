package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/bookstore-api/app"
	"github.com/upb/bookstore-api/middleware"
	"github.com/upb/bookstore-api/models"
	"github.com/upb/bookstore-api/services"
	"github.com/upb/bookstore-api/services/audit"
	"github.com/upb/bookstore-api/utils"
	"go.uber.org/zap"
)

// DefaultAuditWindow is how far back audit queries look without a since parameter
const DefaultAuditWindow = 24 * time.Hour

// ListResponse wraps a page of results
type ListResponse struct {
	Items  interface{} `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// GetCurrentUserHandler returns the identity behind the bearer token
func GetCurrentUserHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.GetClaimsFromContext(r.Context())
		if claims == nil {
			_ = utils.WriteUnauthorized(w, "")
			return
		}

		var user *models.User
		var err error
		if id := middleware.GetUserIDFromContext(r.Context()); id != nil {
			user, err = deps.UserService.GetByID(r.Context(), *id)
		} else {
			user, err = deps.UserService.GetByEmail(r.Context(), claims.Sub)
		}
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		if err := utils.WriteOK(w, user); err != nil {
			deps.Logger.Error("failed to write user response", zap.Error(err))
		}
	}
}

// ListUsersHandler lists identities. Administrator only.
func ListUsersHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pagination(r)
		if err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}

		limit = services.PageSize(limit)
		users, err := deps.UserService.List(r.Context(), limit, offset)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		if err := utils.WriteOK(w, ListResponse{Items: users, Limit: limit, Offset: offset}); err != nil {
			deps.Logger.Error("failed to write users response", zap.Error(err))
		}
	}
}

// GetUserHandler gets a specific identity. Administrator only.
func GetUserHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}

		user, err := deps.UserService.GetByID(r.Context(), id)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		if err := utils.WriteOK(w, user); err != nil {
			deps.Logger.Error("failed to write user response", zap.Error(err))
		}
	}
}

// RolesResponse lists the roles held by one identity
type RolesResponse struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// GetUserRolesHandler returns the roles of a specific identity. Administrator only.
func GetUserRolesHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}

		roles, err := deps.UserService.RolesOf(r.Context(), id)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		if err := utils.WriteOK(w, RolesResponse{UserID: id.String(), Roles: roles}); err != nil {
			deps.Logger.Error("failed to write roles response", zap.Error(err))
		}
	}
}

// ListUserAuditEventsHandler lists authentication events of one identity. Administrator only.
func ListUserAuditEventsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}
		limit, offset, err := pagination(r)
		if err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}

		if limit <= 0 || limit > audit.DefaultQueryLimit {
			limit = audit.DefaultQueryLimit
		}
		events, err := deps.Audit.UserEvents(r.Context(), id, limit, offset)
		if err != nil {
			deps.Logger.Error("failed to query audit events", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "An internal error occurred")
			return
		}

		if err := utils.WriteOK(w, ListResponse{Items: events, Limit: limit, Offset: offset}); err != nil {
			deps.Logger.Error("failed to write audit response", zap.Error(err))
		}
	}
}

// ListAuditEventsHandler lists authentication events by action. Administrator only.
//
//	GET /api/v1/audit/events?action=login_failed&since=2024-01-01T00:00:00Z&limit=50
func ListAuditEventsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		fields := map[string]string{}

		action := models.AuditAction(q.Get("action"))
		if !action.Valid() {
			fields["action"] = "action must be one of register_succeeded register_failed login_succeeded login_failed logout"
		}

		since := time.Now().UTC().Add(-DefaultAuditWindow)
		if raw := q.Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				fields["since"] = "since must be an RFC3339 timestamp"
			}
			since = parsed
		}

		limit, _, err := pagination(r)
		if err != nil {
			for k, v := range utils.GetValidationFields(err) {
				fields[k] = v
			}
		}

		if len(fields) > 0 {
			HandleValidationError(w, &utils.ValidationError{Message: "Validation failed", Fields: fields}, deps.Logger)
			return
		}

		if limit <= 0 || limit > audit.DefaultQueryLimit {
			limit = audit.DefaultQueryLimit
		}
		events, err := deps.Audit.Events(r.Context(), action, since, limit)
		if err != nil {
			deps.Logger.Error("failed to query audit events", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "An internal error occurred")
			return
		}

		if err := utils.WriteOK(w, ListResponse{Items: events, Limit: limit}); err != nil {
			deps.Logger.Error("failed to write audit response", zap.Error(err))
		}
	}
}

// pagination reads limit and offset query parameters. Missing values are zero.
func pagination(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	fields := map[string]string{}

	limit, ok := nonNegativeInt(q.Get("limit"))
	if !ok {
		fields["limit"] = "limit must be a non-negative integer"
	}
	offset, ok := nonNegativeInt(q.Get("offset"))
	if !ok {
		fields["offset"] = "offset must be a non-negative integer"
	}

	if len(fields) > 0 {
		return 0, 0, &utils.ValidationError{Message: "Validation failed", Fields: fields}
	}
	return limit, offset, nil
}

func nonNegativeInt(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
