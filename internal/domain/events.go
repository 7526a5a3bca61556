package domain

import (
	"time"
)

type EventType string

const (
	DownloadSubmitted  EventType = "DownloadSubmitted"
	DownloadWishlisted EventType = "DownloadWishlisted" // Seedr accepted into wishlist - not enough space
	DownloadCompleted  EventType = "DownloadCompleted"
	DownloadFailed     EventType = "DownloadFailed"
	DownloadPaused     EventType = "DownloadPaused"
	DownloadResumed    EventType = "DownloadResumed"
	DownloadDeleted    EventType = "DownloadDeleted"
	FilesDownloaded    EventType = "FilesDownloaded"
	SonarrNotified     EventType = "SonarrNotified"
	WatcherStarted     EventType = "WatcherStarted"
	WatcherStopped     EventType = "WatcherStopped"
	TorrentFileDropped EventType = "TorrentFileDropped" // .torrent/.magnet picked up from the watch directory
	NotificationSent   EventType = "NotificationSent"
	NotificationFailed EventType = "NotificationFailed"
)

type Event struct {
	ID            int64                  `json:"id"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	EventType     EventType              `json:"event_type"`
	EventData     map[string]interface{} `json:"event_data"`
	EventVersion  int                    `json:"event_version"`
	CreatedAt     time.Time              `json:"created_at"`
}

// GetString safely extracts a string field from EventData.
// Returns the value and true if found and is a string, otherwise empty string and false.
func (e *Event) GetString(key string) (string, bool) {
	if e.EventData == nil {
		return "", false
	}
	v, ok := e.EventData[key].(string)
	return v, ok
}

// GetStringOr extracts a string field or returns the default value.
func (e *Event) GetStringOr(key, defaultVal string) string {
	if v, ok := e.GetString(key); ok {
		return v
	}
	return defaultVal
}

// GetInt64 safely extracts an int64 field from EventData.
// Handles both int64 and float64 (JSON unmarshaling produces float64).
func (e *Event) GetInt64(key string) (int64, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// GetFloat64 safely extracts a float64 field from EventData.
func (e *Event) GetFloat64(key string) (float64, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
