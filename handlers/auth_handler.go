package handlers

import (
	"net/http"

	"github.com/upb/bookstore-api/auth"
	"github.com/upb/bookstore-api/utils"
)

// AuthDeps provides auth handler for route wiring
type AuthDeps interface {
	AuthHandler() *auth.Handler
}

// AuthRegisterHandler returns an http.HandlerFunc for the registration endpoint
func AuthRegisterHandler(deps AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h := deps.AuthHandler(); h != nil {
			h.HandleRegister(w, r)
			return
		}
		_ = utils.WriteError(w, http.StatusServiceUnavailable, "Authentication not configured", nil)
	}
}

// AuthLoginHandler returns an http.HandlerFunc for the login endpoint
func AuthLoginHandler(deps AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h := deps.AuthHandler(); h != nil {
			h.HandleLogin(w, r)
			return
		}
		_ = utils.WriteError(w, http.StatusServiceUnavailable, "Authentication not configured", nil)
	}
}

// AuthLogoutHandler returns an http.HandlerFunc for the logout endpoint
func AuthLogoutHandler(deps AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h := deps.AuthHandler(); h != nil {
			h.HandleLogout(w, r)
			return
		}
		_ = utils.WriteError(w, http.StatusServiceUnavailable, "Authentication not configured", nil)
	}
}
