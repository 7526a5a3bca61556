package api

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/Seedrarr/internal/auth"
	"github.com/mescon/Seedrarr/internal/config"
	"github.com/mescon/Seedrarr/internal/testutil"
)

// =============================================================================
// Seedr Device Flow Handler Tests
// =============================================================================

// newSeedrOAuthStub spins up a fake Seedr OAuth endpoint. The token endpoint
// answers authorization_pending until approve is flipped.
func newSeedrOAuthStub(t *testing.T, approve *atomic.Bool) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0.1/p/oauth/device/code", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"device_code":"dev-123","user_code":"ABCD-EFGH","expires_in":1800,"interval":5}`))
	})
	mux.HandleFunc("/api/v0.1/p/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if approve != nil && approve.Load() {
			w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"authorization_pending"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newAuthEnv builds a test env whose token manager points at the OAuth stub.
func newAuthEnv(t *testing.T, stubURL string) *testEnv {
	t.Helper()

	cfg := config.NewTestConfig()
	cfg.SeedrAPIBaseURL = stubURL
	config.SetForTesting(cfg)

	env := newTestEnv(t)

	// newTestEnv resets the global config; point it back at the stub and
	// rebuild the token manager so it picks up the stub base URL.
	config.SetForTesting(cfg)
	env.tokens = auth.NewTokenManager(env.db, testutil.NewMockClock())
	env.server.tokens = env.tokens

	return env
}

func TestHandleAuthStatus_NotAuthenticated(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "GET", "/api/auth/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["authenticated"])
}

func TestHandleAuthLogin_StartsDeviceFlow(t *testing.T) {
	stub := newSeedrOAuthStub(t, nil)
	env := newAuthEnv(t, stub.URL)

	w := doJSON(t, env, "POST", "/api/auth/login", "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "dev-123", body["device_code"])
	assert.Equal(t, "ABCD-EFGH", body["user_code"])
	assert.Contains(t, body["verification_uri"], "/oauth/device/verify")
}

func TestHandleAuthPoll_PendingThenAuthenticated(t *testing.T) {
	var approve atomic.Bool
	stub := newSeedrOAuthStub(t, &approve)
	env := newAuthEnv(t, stub.URL)

	w := doJSON(t, env, "POST", "/api/auth/poll", `{"device_code":"dev-123"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "pending", body["status"])

	approve.Store(true)

	w = doJSON(t, env, "POST", "/api/auth/poll", `{"device_code":"dev-123"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decodeBody(t, w)
	assert.Equal(t, "authenticated", body["status"])
	assert.True(t, env.tokens.IsAuthenticated())
}

func TestHandleAuthPoll_MissingDeviceCode(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "POST", "/api/auth/poll", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAuthLogout_ClearsToken(t *testing.T) {
	var approve atomic.Bool
	approve.Store(true)
	stub := newSeedrOAuthStub(t, &approve)
	env := newAuthEnv(t, stub.URL)

	w := doJSON(t, env, "POST", "/api/auth/poll", `{"device_code":"dev-123"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, env.tokens.IsAuthenticated())

	w = doJSON(t, env, "POST", "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.tokens.IsAuthenticated())
}

// =============================================================================
// Web Session Handler Tests
// =============================================================================

func TestSessionStatus_NotConfigured(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "GET", "/api/session/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["configured"])
}

func TestSessionSetup_Success(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "POST", "/api/session/setup",
		`{"username":"admin","password":"testpassword123"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "Setup complete", body["message"])
	assert.NotEmpty(t, body["token"])
	assert.True(t, env.sessions.CredentialsConfigured())
}

func TestSessionSetup_PasswordTooShort(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "POST", "/api/session/setup",
		`{"username":"admin","password":"short"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Password must be at least 8 characters", body["error"])
}

func TestSessionSetup_AlreadyConfigured(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sessions.SetCredentials("admin", "existingpass123"))

	w := doJSON(t, env, "POST", "/api/session/setup",
		`{"username":"other","password":"newpassword123"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Setup already completed", body["error"])
}

func TestSessionLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sessions.SetCredentials("admin", "testpassword123"))

	w := doJSON(t, env, "POST", "/api/session/login",
		`{"username":"admin","password":"testpassword123"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.NotEmpty(t, body["token"])
}

func TestSessionLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sessions.SetCredentials("admin", "testpassword123"))

	w := doJSON(t, env, "POST", "/api/session/login",
		`{"username":"admin","password":"wrongpassword"}`)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Invalid credentials", body["error"])
}

func TestSessionMiddleware_OpenBeforeSetup(t *testing.T) {
	env := newTestEnv(t)

	// No credentials configured: protected routes pass through
	w := doJSON(t, env, "GET", "/api/downloads", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionMiddleware_BlocksWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sessions.SetCredentials("admin", "testpassword123"))

	w := doJSON(t, env, "GET", "/api/downloads", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionMiddleware_AcceptsValidToken(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sessions.SetCredentials("admin", "testpassword123"))
	token, err := env.sessions.Login("admin", "testpassword123")
	require.NoError(t, err)

	req, err := http.NewRequest("GET", "/api/downloads", nil)
	require.NoError(t, err)
	req.Header.Set("X-Session-Token", token)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionMiddleware_AcceptsBearerToken(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sessions.SetCredentials("admin", "testpassword123"))
	token, err := env.sessions.Login("admin", "testpassword123")
	require.NoError(t, err)

	req, err := http.NewRequest("GET", "/api/downloads", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionLogout_InvalidatesToken(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sessions.SetCredentials("admin", "testpassword123"))
	token, err := env.sessions.Login("admin", "testpassword123")
	require.NoError(t, err)

	req, err := http.NewRequest("POST", "/api/session/logout", nil)
	require.NoError(t, err)
	req.Header.Set("X-Session-Token", token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	assert.False(t, env.sessions.Validate(token))
}
