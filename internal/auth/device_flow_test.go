package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mescon/Seedrarr/internal/clock"
	"github.com/mescon/Seedrarr/internal/testutil"
)

// instantClock sleeps without blocking so pending/slow_down pacing does not
// slow the tests down.
type instantClock struct {
	clock.RealClock
}

func (*instantClock) Sleep(time.Duration) {}

func newTestTokenManager(t *testing.T, server *httptest.Server) *TokenManager {
	t.Helper()

	database, err := testutil.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	return &TokenManager{
		database:   database,
		baseURL:    server.URL,
		clientID:   "test-client",
		httpClient: server.Client(),
		clk:        &instantClock{},
	}
}

func TestStartDeviceFlow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0.1/p/oauth/device/code" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}
		if r.PostForm.Get("client_id") != "test-client" {
			t.Errorf("client_id = %q, want test-client", r.PostForm.Get("client_id"))
		}
		if r.PostForm.Get("scope") == "" {
			t.Error("Expected a scope in the device code request")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_code": "dev-123", "user_code": "ABCD-1234", "expires_in": 900, "interval": 5}`))
	}))
	defer server.Close()

	tm := newTestTokenManager(t, server)
	flow, err := tm.StartDeviceFlow(context.Background())
	if err != nil {
		t.Fatalf("StartDeviceFlow() error = %v", err)
	}

	if flow.DeviceCode != "dev-123" {
		t.Errorf("DeviceCode = %q, want dev-123", flow.DeviceCode)
	}
	if flow.UserCode != "ABCD-1234" {
		t.Errorf("UserCode = %q, want ABCD-1234", flow.UserCode)
	}
	if flow.VerificationURI != server.URL+"/api/v0.1/p/oauth/device/verify" {
		t.Errorf("VerificationURI = %q, want the API host verify endpoint", flow.VerificationURI)
	}
}

func TestPollForToken_WaitsThroughPending(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0.1/p/oauth/token" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		polls++
		w.Header().Set("Content-Type", "application/json")
		switch polls {
		case 1:
			_, _ = w.Write([]byte(`{"error": "authorization_pending"}`))
		case 2:
			_, _ = w.Write([]byte(`{"error": "slow_down"}`))
		default:
			_, _ = w.Write([]byte(`{"access_token": "at-1", "refresh_token": "rt-1", "expires_in": 3600}`))
		}
	}))
	defer server.Close()

	tm := newTestTokenManager(t, server)
	if err := tm.PollForToken(context.Background(), "dev-123", 5); err != nil {
		t.Fatalf("PollForToken() error = %v", err)
	}
	if polls != 3 {
		t.Errorf("Polled %d times, want 3", polls)
	}

	token, err := tm.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if token != "at-1" {
		t.Errorf("AccessToken() = %q, want at-1", token)
	}
}

func TestPollForToken_DeniedStopsPolling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": "access_denied"}`))
	}))
	defer server.Close()

	tm := newTestTokenManager(t, server)
	if err := tm.PollForToken(context.Background(), "dev-123", 5); err == nil {
		t.Error("PollForToken() should fail when the user denies")
	}
}

func TestAccessToken_RefreshesExpiredToken(t *testing.T) {
	refreshes := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("refresh_token") != "rt-old" {
			t.Errorf("refresh_token = %q, want rt-old", r.PostForm.Get("refresh_token"))
		}
		refreshes++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "at-new", "refresh_token": "rt-new", "expires_in": 3600}`))
	}))
	defer server.Close()

	tm := newTestTokenManager(t, server)
	tm.accessToken = "at-expired"
	tm.refreshToken = "rt-old"
	tm.expiresAt = time.Now().Add(-time.Hour)
	tm.loaded = true

	token, err := tm.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if token != "at-new" {
		t.Errorf("AccessToken() = %q, want at-new", token)
	}
	if refreshes != 1 {
		t.Errorf("Refreshed %d times, want 1", refreshes)
	}
	if tm.refreshToken != "rt-new" {
		t.Errorf("Refresh token not rotated, got %q", tm.refreshToken)
	}
}

func TestAccessToken_NotAuthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("No request expected without stored credentials")
	}))
	defer server.Close()

	tm := newTestTokenManager(t, server)
	if _, err := tm.AccessToken(context.Background()); err != ErrNotAuthenticated {
		t.Errorf("AccessToken() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestClearToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "at-1", "refresh_token": "rt-1", "expires_in": 3600}`))
	}))
	defer server.Close()

	tm := newTestTokenManager(t, server)
	if err := tm.PollForToken(context.Background(), "dev-123", 5); err != nil {
		t.Fatalf("PollForToken() error = %v", err)
	}
	if !tm.IsAuthenticated() {
		t.Fatal("Expected authenticated state after device flow")
	}

	if err := tm.ClearToken(); err != nil {
		t.Fatalf("ClearToken() error = %v", err)
	}
	if tm.IsAuthenticated() {
		t.Error("Expected unauthenticated state after ClearToken")
	}
	if _, err := tm.AccessToken(context.Background()); err != ErrNotAuthenticated {
		t.Errorf("AccessToken() error = %v, want ErrNotAuthenticated", err)
	}
}
