package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/bookstore-api/app"
	"github.com/upb/bookstore-api/config"
	"github.com/upb/bookstore-api/routes"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	// Setup
	os.Setenv("ENVIRONMENT", "test")
	os.Setenv("LOG_LEVEL", "error")

	// Run tests
	code := m.Run()

	// Teardown
	os.Exit(code)
}

func TestInitLogger(t *testing.T) {
	t.Run("default json logger", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "info")
		t.Setenv("LOG_FORMAT", "json")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("development console logger", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("LOG_FORMAT", "console")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("invalid log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "invalid")
		t.Setenv("LOG_FORMAT", "json")

		logger, err := initLogger()
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("defaults when not set", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "")
		t.Setenv("LOG_FORMAT", "")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	t.Run("health check returns ok", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("readiness with memory store", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/readyz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ready", body["status"])
	})

	t.Run("status endpoint returns version info", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/status")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body.Data, "version")
		assert.Contains(t, body.Data, "environment")
		assert.Equal(t, "memory", body.Data["store"])
	})
}

func TestReadinessCheck(t *testing.T) {
	t.Run("not ready without infrastructure", func(t *testing.T) {
		deps := &app.Dependencies{
			Config: testConfig(t),
			Logger: zaptest.NewLogger(t),
		}

		ts := httptest.NewServer(routes.SetupRoutes(deps))
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/readyz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "not_ready", body["status"])
	})
}

func TestAPIEndpoints_Unauthenticated(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	testCases := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"logout", "POST", "/auth/logout", http.StatusUnauthorized},
		{"list users", "GET", "/api/v1/users", http.StatusUnauthorized},
		{"get current user", "GET", "/api/v1/users/me", http.StatusUnauthorized},
		{"get user", "GET", "/api/v1/users/00000000-0000-0000-0000-000000000000", http.StatusUnauthorized},
		{"list audit events", "GET", "/api/v1/audit/events?action=login_failed", http.StatusUnauthorized},
		{"not found", "GET", "/api/v1/nonexistent", http.StatusNotFound},
		{"method not allowed", "DELETE", "/api/v1/status", http.StatusMethodNotAllowed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, ts.URL+tc.path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "endpoint: %s %s", tc.method, tc.path)
		})
	}

	t.Run("malformed bearer token", func(t *testing.T) {
		resp := doJSON(t, ts, http.MethodGet, "/api/v1/users/me", "not.a.jwt", "")
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestAuthFlow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.BootstrapAdminEmail = "root@example.com"
	cfg.Auth.BootstrapAdminPassword = "Adm1n!Passw0rd"
	ts := newTestServer(t, cfg)

	const credentials = `{"email":"alice@example.com","password":"P@ssw0rd1"}`

	resp := doJSON(t, ts, http.MethodPost, "/auth/register", "", credentials)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"succeeded":true}`, readBody(t, resp))

	t.Run("duplicate registration fails generically", func(t *testing.T) {
		resp := doJSON(t, ts, http.MethodPost, "/auth/register", "", `{"email":"Alice@Example.com","password":"P@ssw0rd1"}`)
		body := readBody(t, resp)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Contains(t, body, "registration_failed")
		assert.NotContains(t, body, "exists")
	})

	t.Run("weak password is rejected", func(t *testing.T) {
		resp := doJSON(t, ts, http.MethodPost, "/auth/register", "", `{"email":"bob@example.com","password":"short"}`)
		readBody(t, resp)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown user and wrong password are indistinguishable", func(t *testing.T) {
		wrong := doJSON(t, ts, http.MethodPost, "/auth/login", "", `{"email":"alice@example.com","password":"Wr0ng!pass"}`)
		wrongBody := readBody(t, wrong)

		missing := doJSON(t, ts, http.MethodPost, "/auth/login", "", `{"email":"nobody@example.com","password":"Wr0ng!pass"}`)
		missingBody := readBody(t, missing)

		assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)
		assert.Equal(t, http.StatusUnauthorized, missing.StatusCode)
		assert.Equal(t,
			strings.Replace(wrongBody, "alice@example.com", "nobody@example.com", 1),
			missingBody)
	})

	token := login(t, ts, credentials)

	t.Run("customer reaches own profile", func(t *testing.T) {
		resp := doJSON(t, ts, http.MethodGet, "/api/v1/users/me", token, "")
		body := readBody(t, resp)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "alice@example.com")
		assert.NotContains(t, body, "password")
	})

	t.Run("customer is forbidden from administrator routes", func(t *testing.T) {
		for _, path := range []string{"/api/v1/users", "/api/v1/audit/events?action=login_failed"} {
			resp := doJSON(t, ts, http.MethodGet, path, token, "")
			readBody(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode, path)
		}
	})

	adminToken := login(t, ts, `{"email":"root@example.com","password":"Adm1n!Passw0rd"}`)

	t.Run("administrator lists users", func(t *testing.T) {
		resp := doJSON(t, ts, http.MethodGet, "/api/v1/users", adminToken, "")
		body := readBody(t, resp)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "alice@example.com")
		assert.Contains(t, body, "root@example.com")
	})

	t.Run("administrator reads failed logins", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			resp := doJSON(t, ts, http.MethodGet, "/api/v1/audit/events?action=login_failed", adminToken, "")
			body := readBody(t, resp)
			return resp.StatusCode == http.StatusOK &&
				strings.Contains(body, "bad_password") &&
				strings.Contains(body, "unknown_user")
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("logout revokes the token", func(t *testing.T) {
		resp := doJSON(t, ts, http.MethodPost, "/auth/logout", token, "")
		readBody(t, resp)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doJSON(t, ts, http.MethodGet, "/api/v1/users/me", token, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = doJSON(t, ts, http.MethodPost, "/auth/logout", token, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("a fresh login is unaffected by the revoked session", func(t *testing.T) {
		fresh := login(t, ts, credentials)

		resp := doJSON(t, ts, http.MethodGet, "/api/v1/users/me", fresh, "")
		readBody(t, resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestAuthRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.RequestsPerSecond = 0.001
	cfg.RateLimit.Burst = 2
	ts := newTestServer(t, cfg)

	const credentials = `{"email":"nobody@example.com","password":"Wr0ng!pass"}`

	// A fresh forwarding header per attempt must not open a fresh bucket
	attempt := func(i int) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/auth/login", strings.NewReader(credentials))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	for i := 0; i < 2; i++ {
		resp := attempt(i)
		readBody(t, resp)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp := attempt(2)
	readBody(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Health checks are not throttled
	health, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestCORSMiddleware(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	t.Run("OPTIONS preflight request", func(t *testing.T) {
		req, err := http.NewRequest("OPTIONS", ts.URL+"/auth/login", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// Test helpers

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Version:     "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: config.DatabaseConfig{
			Driver: config.DriverMemory,
		},
		Auth: config.AuthConfig{
			SigningKey:         "test-signing-key-0123456789abcdef",
			Issuer:             "bookstore-api",
			Audience:           "bookstore-api",
			TokenLifetime:      5 * time.Minute,
			BcryptCost:         4,
			StoreTimeout:       time.Second,
			RevocationCapacity: 100,
			RevocationSweep:    time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             50,
			IdleTTL:           time.Minute,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "error",
			LogFormat: "json",
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	deps, err := app.NewDependencies(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ts := httptest.NewServer(routes.SetupRoutes(deps))
	t.Cleanup(func() {
		ts.Close()
		_ = deps.Close(ctx)
	})
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func login(t *testing.T, ts *httptest.Server, credentials string) string {
	t.Helper()

	resp := doJSON(t, ts, http.MethodPost, "/auth/login", "", credentials)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Token     string `json:"token"`
		TokenType string `json:"token_type"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Token)
	assert.Equal(t, "Bearer", body.TokenType)
	return body.Token
}
