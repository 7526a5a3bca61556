package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mescon/Seedrarr/internal/clock"
	"github.com/mescon/Seedrarr/internal/config"
	"github.com/mescon/Seedrarr/internal/crypto"
	"github.com/mescon/Seedrarr/internal/db"
	"github.com/mescon/Seedrarr/internal/logger"
)

// Settings keys for the persisted Seedr token. Tokens are encrypted at rest
// when an encryption key is configured.
const (
	settingAccessToken  = "seedr_access_token"
	settingRefreshToken = "seedr_refresh_token"
	settingExpiresAt    = "seedr_token_expires_at"
)

const deviceFlowScope = "files.read profile files.write files.delete files.list tasks.write tasks.read"

// deviceCodeExpiry bounds how long PollForToken waits for the user to approve.
const deviceCodeExpiry = 15 * time.Minute

// ErrNotAuthenticated is returned when no usable Seedr token exists and the
// device flow has not been completed.
var ErrNotAuthenticated = errors.New("not authenticated with Seedr")

// ErrAuthorizationPending is surfaced while the user has not yet approved the
// device code.
var ErrAuthorizationPending = errors.New("authorization pending")

// DeviceFlow holds what the user needs to approve a device authorization.
type DeviceFlow struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// TokenManager owns the Seedr OAuth token lifecycle: device flow, refresh,
// and encrypted persistence in the settings table. It implements
// integration.TokenSource.
type TokenManager struct {
	database   *sql.DB
	baseURL    string
	clientID   string
	httpClient *http.Client
	clk        clock.Clock

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	loaded       bool
}

// NewTokenManager creates a token manager using the global configuration.
func NewTokenManager(database *sql.DB, clk clock.Clock) *TokenManager {
	cfg := config.Get()
	return &TokenManager{
		database:   database,
		baseURL:    strings.TrimRight(cfg.SeedrAPIBaseURL, "/"),
		clientID:   cfg.SeedrClientID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clk:        clk,
	}
}

// tokenResponse is the body of Seedr's /oauth/token endpoint for all grants.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
}

func (tm *TokenManager) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		tm.baseURL+"/api/v0.1/p"+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Debugf("Failed to close token response body: %v", closeErr)
		}
	}()

	// OAuth errors arrive as JSON bodies on 4xx, so the status is not checked
	// here - callers look at the decoded error field.
	return io.ReadAll(resp.Body)
}

// StartDeviceFlow begins a device authorization and returns the codes the
// user needs. The verification URI is pinned to the Seedr API host.
func (tm *TokenManager) StartDeviceFlow(ctx context.Context) (*DeviceFlow, error) {
	if tm.clientID == "" {
		return nil, fmt.Errorf("seedr client id is not configured")
	}

	body, err := tm.postForm(ctx, "/oauth/device/code", url.Values{
		"client_id": {tm.clientID},
		"scope":     {deviceFlowScope},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start device flow: %w", err)
	}

	var flow DeviceFlow
	if err := json.Unmarshal(body, &flow); err != nil {
		return nil, fmt.Errorf("failed to decode device flow response: %w", err)
	}
	if flow.DeviceCode == "" {
		return nil, fmt.Errorf("device flow response carried no device code")
	}
	if flow.Interval <= 0 {
		flow.Interval = 5
	}

	flow.VerificationURI = tm.baseURL + "/api/v0.1/p/oauth/device/verify"
	logger.Infof("Seedr device flow started, user code %s", flow.UserCode)
	return &flow, nil
}

// PollForToken exchanges a device code for tokens, waiting for the user to
// approve. It honors the server's pacing: authorization_pending keeps the
// interval, slow_down doubles it up to a minute.
func (tm *TokenManager) PollForToken(ctx context.Context, deviceCode string, interval int) error {
	if interval <= 0 {
		interval = 5
	}
	deadline := tm.clk.Now().Add(deviceCodeExpiry)

	for tm.clk.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, err := tm.postForm(ctx, "/oauth/token", url.Values{
			"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
			"device_code": {deviceCode},
			"client_id":   {tm.clientID},
		})
		if err != nil {
			return fmt.Errorf("failed to poll for token: %w", err)
		}

		var token tokenResponse
		if err := json.Unmarshal(body, &token); err != nil {
			return fmt.Errorf("failed to decode token response: %w", err)
		}

		switch {
		case token.AccessToken != "":
			tm.storeTokens(token)
			logger.Infof("Seedr device flow completed")
			return nil
		case token.Error == "authorization_pending":
			tm.clk.Sleep(time.Duration(interval) * time.Second)
		case token.Error == "slow_down":
			interval *= 2
			if interval > 60 {
				interval = 60
			}
			tm.clk.Sleep(time.Duration(interval) * time.Second)
		default:
			return fmt.Errorf("device flow failed: %s", token.Error)
		}
	}

	return fmt.Errorf("device code expired before approval")
}

// TryPollOnce performs a single token poll, for UIs that drive the polling
// themselves. Returns ErrAuthorizationPending while the user has not approved.
func (tm *TokenManager) TryPollOnce(ctx context.Context, deviceCode string) error {
	body, err := tm.postForm(ctx, "/oauth/token", url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {deviceCode},
		"client_id":   {tm.clientID},
	})
	if err != nil {
		return fmt.Errorf("failed to poll for token: %w", err)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}

	switch {
	case token.AccessToken != "":
		tm.storeTokens(token)
		return nil
	case token.Error == "authorization_pending", token.Error == "slow_down":
		return ErrAuthorizationPending
	default:
		return fmt.Errorf("device flow failed: %s", token.Error)
	}
}

// AccessToken returns a valid access token, refreshing it when expired.
// Implements integration.TokenSource.
func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if !tm.loaded {
		tm.loadLocked()
	}

	// Treat tokens within 30s of expiry as expired to avoid racing the server.
	if tm.accessToken != "" && tm.clk.Now().Add(30*time.Second).Before(tm.expiresAt) {
		return tm.accessToken, nil
	}

	if tm.refreshToken == "" {
		return "", ErrNotAuthenticated
	}
	if err := tm.refreshLocked(ctx); err != nil {
		return "", err
	}
	return tm.accessToken, nil
}

// IsAuthenticated reports whether any Seedr token (possibly expired but
// refreshable) is present.
func (tm *TokenManager) IsAuthenticated() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if !tm.loaded {
		tm.loadLocked()
	}
	return tm.accessToken != "" || tm.refreshToken != ""
}

// ClearToken drops the stored Seedr credentials.
func (tm *TokenManager) ClearToken() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.accessToken = ""
	tm.refreshToken = ""
	tm.expiresAt = time.Time{}
	tm.loaded = true

	for _, key := range []string{settingAccessToken, settingRefreshToken, settingExpiresAt} {
		if _, err := db.ExecWithRetry(tm.database, "DELETE FROM settings WHERE key = ?", key); err != nil {
			return fmt.Errorf("failed to clear token: %w", err)
		}
	}
	return nil
}

// refreshLocked exchanges the refresh token for a new access token.
// Caller holds tm.mu.
func (tm *TokenManager) refreshLocked(ctx context.Context) error {
	body, err := tm.postForm(ctx, "/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tm.refreshToken},
		"client_id":     {tm.clientID},
	})
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("token refresh rejected: %s", token.Error)
	}

	tm.applyLocked(token)
	tm.persistLocked()
	return nil
}

// storeTokens applies and persists a fresh token response.
func (tm *TokenManager) storeTokens(token tokenResponse) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.applyLocked(token)
	tm.persistLocked()
}

func (tm *TokenManager) applyLocked(token tokenResponse) {
	tm.accessToken = token.AccessToken
	if token.RefreshToken != "" {
		tm.refreshToken = token.RefreshToken
	}
	expiresIn := token.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	tm.expiresAt = tm.clk.Now().Add(time.Duration(expiresIn) * time.Second)
	tm.loaded = true
}

func (tm *TokenManager) persistLocked() {
	encAccess, err := crypto.Encrypt(tm.accessToken)
	if err != nil {
		logger.Errorf("Failed to encrypt access token: %v", err)
		return
	}
	encRefresh, err := crypto.Encrypt(tm.refreshToken)
	if err != nil {
		logger.Errorf("Failed to encrypt refresh token: %v", err)
		return
	}

	values := map[string]string{
		settingAccessToken:  encAccess,
		settingRefreshToken: encRefresh,
		settingExpiresAt:    strconv.FormatInt(tm.expiresAt.Unix(), 10),
	}
	for key, value := range values {
		_, err := db.ExecWithRetry(tm.database, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
		`, key, value)
		if err != nil {
			logger.Errorf("Failed to persist %s: %v", key, err)
		}
	}
}

// loadLocked reads the persisted token from the settings table.
// Caller holds tm.mu.
func (tm *TokenManager) loadLocked() {
	tm.loaded = true

	read := func(key string) string {
		var value string
		err := tm.database.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				logger.Errorf("Failed to read %s: %v", key, err)
			}
			return ""
		}
		return value
	}

	encAccess := read(settingAccessToken)
	encRefresh := read(settingRefreshToken)
	if encAccess == "" && encRefresh == "" {
		return
	}

	access, err := crypto.Decrypt(encAccess)
	if err != nil {
		logger.Errorf("Failed to decrypt access token: %v", err)
		return
	}
	refresh, err := crypto.Decrypt(encRefresh)
	if err != nil {
		logger.Errorf("Failed to decrypt refresh token: %v", err)
		return
	}

	tm.accessToken = access
	tm.refreshToken = refresh
	if raw := read(settingExpiresAt); raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			tm.expiresAt = time.Unix(unix, 0)
		}
	}
}
