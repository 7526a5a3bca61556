package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Notification Handler Tests
// =============================================================================

func TestGetNotifications_Empty(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "GET", "/api/notifications", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.NotNil(t, body["notifications"])
}

func TestCreateNotification(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "POST", "/api/notifications", `{
		"name": "Test Discord",
		"provider_type": "discord",
		"config": {"webhook_url": "https://discord.com/api/webhooks/123/abc"},
		"events": ["DownloadCompleted"],
		"enabled": true
	}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Greater(t, body["id"], float64(0))
}

func TestCreateNotification_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "POST", "/api/notifications", `{"name": "No Provider"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "name and provider_type are required", body["error"])
}

func TestGetNotification_RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "POST", "/api/notifications", `{
		"name": "Roundtrip",
		"provider_type": "telegram",
		"config": {"bot_token": "tok", "chat_id": "42"},
		"events": ["DownloadFailed"],
		"enabled": true
	}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody(t, w)
	id := int64(created["id"].(float64))

	w = doJSON(t, env, "GET", fmt.Sprintf("/api/notifications/%d", id), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "Roundtrip", body["name"])
	assert.Equal(t, "telegram", body["provider_type"])

	events, ok := body["events"].([]interface{})
	require.True(t, ok, "events should decode as a list")
	require.Len(t, events, 1)
	assert.Equal(t, "DownloadFailed", events[0])
}

func TestGetNotification_InvalidID(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "GET", "/api/notifications/banana", "")

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Invalid notification ID", body["error"])
}

func TestGetNotification_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "GET", "/api/notifications/9999", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateNotification(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "POST", "/api/notifications", `{
		"name": "Before",
		"provider_type": "ntfy",
		"config": {"topic": "seedrarr"},
		"events": ["DownloadCompleted"],
		"enabled": true
	}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := int64(decodeBody(t, w)["id"].(float64))

	w = doJSON(t, env, "PUT", fmt.Sprintf("/api/notifications/%d", id), `{
		"name": "After",
		"provider_type": "ntfy",
		"config": {"topic": "seedrarr-alerts"},
		"events": ["DownloadCompleted", "DownloadFailed"],
		"enabled": false
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, env, "GET", fmt.Sprintf("/api/notifications/%d", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "After", body["name"])
	assert.Equal(t, false, body["enabled"])
}

func TestDeleteNotification(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "POST", "/api/notifications", `{
		"name": "Doomed",
		"provider_type": "gotify",
		"config": {"server_url": "https://gotify.example.com", "app_token": "tok"},
		"events": [],
		"enabled": true
	}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := int64(decodeBody(t, w)["id"].(float64))

	w = doJSON(t, env, "DELETE", fmt.Sprintf("/api/notifications/%d", id), "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, env, "GET", fmt.Sprintf("/api/notifications/%d", id), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTestNotification_GenericWebhook(t *testing.T) {
	env := newTestEnv(t)

	received := make(chan struct{}, 1)
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer stub.Close()

	w := doJSON(t, env, "POST", "/api/notifications/test", fmt.Sprintf(`{
		"name": "Webhook Test",
		"provider_type": "generic",
		"config": {"webhook_url": %q},
		"events": [],
		"enabled": true
	}`, stub.URL))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	select {
	case <-received:
	default:
		t.Fatal("Expected the stub webhook to receive the test notification")
	}
}

func TestTestNotification_BadConfig(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "POST", "/api/notifications/test", `{
		"name": "Broken",
		"provider_type": "gotify",
		"config": {"app_token": "tok"},
		"events": [],
		"enabled": true
	}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetNotificationEvents(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "GET", "/api/notifications/events", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	groups := body["groups"].([]interface{})
	require.NotEmpty(t, groups)

	first := groups[0].(map[string]interface{})
	assert.NotEmpty(t, first["name"])
	assert.NotEmpty(t, first["events"])
}

func TestGetNotificationLog_Empty(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env, "POST", "/api/notifications", `{
		"name": "Logless",
		"provider_type": "discord",
		"config": {"webhook_url": "https://discord.com/api/webhooks/123/abc"},
		"events": [],
		"enabled": true
	}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := int64(decodeBody(t, w)["id"].(float64))

	w = doJSON(t, env, "GET", fmt.Sprintf("/api/notifications/%d/log", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.NotNil(t, body["log"])
}
