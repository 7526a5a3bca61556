package domain

import (
	"time"
)

// DownloadState is the normalized lifecycle state of a download.
// Seedr reports status through two incompatible views (an active-task API and
// a post-completion folder listing); everything outside this package only ever
// sees these five values.
type DownloadState string

const (
	StateUnknown     DownloadState = "unknown"
	StateDownloading DownloadState = "downloading"
	StatePaused      DownloadState = "paused"
	StateCompleted   DownloadState = "completed"
	StateError       DownloadState = "error"
)

// ParseDownloadState maps a raw Seedr status string onto the normalized
// vocabulary. Anything unrecognized collapses to StateUnknown rather than
// leaking upstream strings to callers.
func ParseDownloadState(raw string) DownloadState {
	switch raw {
	case "downloading", "queued", "uploading":
		return StateDownloading
	case "paused":
		return StatePaused
	case "completed", "finished":
		return StateCompleted
	case "error", "failed":
		return StateError
	default:
		return StateUnknown
	}
}

// CanPause reports whether a pause request is valid from the given state.
// Pause is only meaningful while the remote task is actively downloading.
func (s DownloadState) CanPause() bool {
	return s == StateDownloading
}

// CanResume reports whether a resume request is valid from the given state.
func (s DownloadState) CanResume() bool {
	return s == StatePaused
}

// LedgerEntry is the durable mapping from a user-facing download title to the
// Seedr identifier tracking it. TorrentID is opaque: it may be a task id, a
// wishlist id, or (degraded submit) a bare content hash. Entries never carry a
// status field - status is always derived via the reconciler.
type LedgerEntry struct {
	Title     string    `json:"title"`
	TorrentID string    `json:"torrent_id"`
	SeriesID  *int64    `json:"series_id,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// NormalizedStatus is the single status vocabulary produced by the reconciler
// regardless of which Seedr view answered.
type NormalizedStatus struct {
	State    DownloadState `json:"state"`
	Progress float64       `json:"progress"`
	Message  string        `json:"message"`
	// FolderRef is set only when completion was discovered through the
	// folder-by-hash fallback; the completion pipeline uses it to list the
	// archived folder instead of the vanished task.
	FolderRef string `json:"folder_ref,omitempty"`
}

// ItemKind distinguishes files from folders in a completed task's contents.
type ItemKind string

const (
	ItemFile   ItemKind = "file"
	ItemFolder ItemKind = "folder"
)

// RemoteItem is a single entry from a completed task or folder listing.
// TorrentHash is set only on folder entries that Seedr created by archiving a
// finished torrent; the reconciler matches it against tracked hashes.
type RemoteItem struct {
	Kind        ItemKind `json:"type"`
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Size        int64    `json:"size"`
	TorrentHash string   `json:"torrent_hash,omitempty"`
}

// OperationResult is the uniform outcome returned by every download operation.
// Gateway failures are folded into Success/Message so a poll loop iterating
// the ledger can never be killed by a single bad remote call.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CompletionResult reports a completion pipeline run. Per-item transfer
// failures do not fail the run: DownloadedPaths holds what actually landed on
// disk and Message records anything that did not.
type CompletionResult struct {
	Success         bool     `json:"success"`
	DownloadedPaths []string `json:"downloaded_files,omitempty"`
	Message         string   `json:"message"`
}

// DownloadOverview is one row of a poll sweep across the whole ledger.
type DownloadOverview struct {
	Title     string        `json:"title"`
	TorrentID string        `json:"torrent_id"`
	SeriesID  *int64        `json:"series_id,omitempty"`
	AddedAt   time.Time     `json:"added_at"`
	State     DownloadState `json:"status"`
	Progress  float64       `json:"progress"`
	Message   string        `json:"message"`
}
