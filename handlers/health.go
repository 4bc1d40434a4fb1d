package handlers

import (
	"net/http"

	"github.com/upb/bookstore-api/app"
	"github.com/upb/bookstore-api/utils"
	"go.uber.org/zap"
)

// HealthCheck returns a simple health check handler
func HealthCheck(deps *app.Dependencies) http.HandlerFunc {
	return NewHealthHandler(deps.Store, deps.Logger).HandleHealth
}

// ReadinessCheck reports whether the credential store is reachable
func ReadinessCheck(deps *app.Dependencies) http.HandlerFunc {
	return NewHealthHandler(deps.Store, deps.Logger).HandleReadiness
}

// StatusHandler returns application status information
func StatusHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"version":     deps.Config.Version,
			"environment": deps.Config.Environment,
			"store":       deps.Config.Database.Driver,
		}
		if deps.Audit != nil {
			stats := deps.Audit.GetStats()
			response["audit"] = map[string]interface{}{
				"pending": stats.PendingEvents,
				"written": stats.Written,
				"dropped": stats.Dropped,
			}
		}
		if deps.Revocations != nil {
			response["revoked_tokens"] = deps.Revocations.Stats().Size
		}

		if err := utils.WriteOK(w, response); err != nil {
			deps.Logger.Error("failed to write status response", zap.Error(err))
		}
	}
}
