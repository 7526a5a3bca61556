package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mescon/Seedrarr/internal/db"
)

const (
	settingWebUsername = "web_username"
	settingWebPassword = "web_password_hash"

	sessionTTL = 24 * time.Hour
)

// ErrInvalidCredentials is returned when a login attempt fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// SessionManager issues and validates bearer tokens for the web UI.
// Sessions live in memory; a restart logs everyone out. Credentials are
// stored bcrypt-hashed in the settings table.
type SessionManager struct {
	database *sql.DB
	mu       sync.Mutex
	sessions map[string]time.Time // token -> expiry
}

// NewSessionManager creates a session manager over the settings table.
func NewSessionManager(database *sql.DB) *SessionManager {
	return &SessionManager{
		database: database,
		sessions: make(map[string]time.Time),
	}
}

// CredentialsConfigured reports whether a web username/password is set.
// When none is, the UI runs unauthenticated (single-user LAN deployments).
func (sm *SessionManager) CredentialsConfigured() bool {
	var value string
	err := sm.database.QueryRow("SELECT value FROM settings WHERE key = ?", settingWebUsername).Scan(&value)
	return err == nil && value != ""
}

// SetCredentials stores a username and bcrypt-hashed password.
func (sm *SessionManager) SetCredentials(username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	values := map[string]string{
		settingWebUsername: username,
		settingWebPassword: hash,
	}
	for key, value := range values {
		_, err := db.ExecWithRetry(sm.database, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
		`, key, value)
		if err != nil {
			return fmt.Errorf("failed to store credentials: %w", err)
		}
	}
	return nil
}

// Login validates credentials and issues a session token.
func (sm *SessionManager) Login(username, password string) (string, error) {
	var storedUser, storedHash string
	if err := sm.database.QueryRow("SELECT value FROM settings WHERE key = ?", settingWebUsername).Scan(&storedUser); err != nil {
		return "", ErrInvalidCredentials
	}
	if err := sm.database.QueryRow("SELECT value FROM settings WHERE key = ?", settingWebPassword).Scan(&storedHash); err != nil {
		return "", ErrInvalidCredentials
	}

	if username != storedUser || !CheckPasswordHash(password, storedHash) {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateAPIKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}

	sm.mu.Lock()
	sm.sessions[token] = time.Now().Add(sessionTTL)
	sm.mu.Unlock()
	return token, nil
}

// Validate reports whether a session token is live, pruning it if expired.
func (sm *SessionManager) Validate(token string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	expiry, ok := sm.sessions[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(sm.sessions, token)
		return false
	}
	return true
}

// Logout destroys a session token.
func (sm *SessionManager) Logout(token string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, token)
}
