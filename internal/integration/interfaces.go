// Package integration contains the HTTP gateways to the two remote systems
// Seedrarr bridges: the Seedr cloud torrent API and the Sonarr v3 API. Both
// clients share the same resilience plumbing (token-bucket rate limiting,
// per-service circuit breakers, retry with backoff for transient errors).
package integration

import (
	"context"

	"github.com/mescon/Seedrarr/internal/domain"
)

// TokenSource supplies a valid Seedr access token, refreshing it if needed.
// Implemented by auth.TokenManager.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// SubmitResponse is the decoded body of a Seedr torrent submission. The API
// answers in three shapes: a normal acceptance carrying one of several id
// fields, a wishlist rejection when the account is out of space, and a
// degraded acceptance carrying only the torrent hash. All three decode into
// this struct; the services layer picks the outcome apart.
type SubmitResponse struct {
	TaskID        string        `json:"task_id"`
	ID            string        `json:"id"`
	UserTorrentID string        `json:"user_torrent_id"`
	Success       bool          `json:"success"`
	TorrentHash   string        `json:"torrent_hash"`
	ReasonPhrase  string        `json:"reason_phrase"`
	Wishlist      *WishlistItem `json:"wt"`
}

// WishlistItem is the wishlist entry Seedr creates when it has no space for a
// new torrent.
type WishlistItem struct {
	ID string `json:"id"`
}

// ReasonWishlisted is the reason phrase on an out-of-space submission.
const ReasonWishlisted = "not_enough_space_added_to_wishlist"

// Task is a Seedr torrent task as reported by the active-task API.
type Task struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
}

// SeedrAPI is the Seedr surface the services layer depends on.
type SeedrAPI interface {
	// AddTorrent submits a magnet link, torrent URL, or raw torrent payload.
	AddTorrent(ctx context.Context, source TorrentSource) (*SubmitResponse, error)

	GetTask(ctx context.Context, taskID string) (*Task, error)
	GetTaskProgress(ctx context.Context, taskID string) (*Task, error)
	GetTaskContents(ctx context.Context, taskID string) ([]domain.RemoteItem, error)
	GetTasks(ctx context.Context) ([]Task, error)

	PauseTask(ctx context.Context, taskID string) error
	ResumeTask(ctx context.Context, taskID string) error
	DeleteTask(ctx context.Context, taskID string) error

	// GetFolderContents lists a folder; "0" is the root.
	GetFolderContents(ctx context.Context, folderID string) ([]domain.RemoteItem, error)
	GetDownloadURL(ctx context.Context, fileID string) (string, error)
	DownloadFile(ctx context.Context, fileID, savePath string) error
	DownloadFolderArchive(ctx context.Context, folderID, savePath string) error

	GetAccountInfo(ctx context.Context) (map[string]interface{}, error)
}

// TorrentSource is the input to a Seedr submission. Exactly one source is
// used: Magnet for magnet links, URL for remote .torrent URLs, or File for
// raw .torrent payloads (dropped into the watch directory).
type TorrentSource struct {
	Magnet   string
	URL      string
	File     []byte
	FileName string
}

// Series is a Sonarr series record, reduced to the fields Seedrarr surfaces.
type Series struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Path      string `json:"path"`
	TVDBID    int64  `json:"tvdbId"`
	Monitored bool   `json:"monitored"`
}

// RootFolder is a Sonarr library root.
type RootFolder struct {
	ID         int64  `json:"id"`
	Path       string `json:"path"`
	FreeSpace  int64  `json:"freeSpace"`
	Accessible bool   `json:"accessible"`
}

// MissingEpisode is one record from Sonarr's wanted/missing endpoint.
type MissingEpisode struct {
	ID            int64  `json:"id"`
	SeriesID      int64  `json:"seriesId"`
	Title         string `json:"title"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	AirDate       string `json:"airDate"`
}

// SonarrAPI is the Sonarr surface the services layer depends on.
type SonarrAPI interface {
	// CommandDownloadScan tells Sonarr to import completed downloads from path.
	CommandDownloadScan(ctx context.Context, path string) (map[string]interface{}, error)

	GetSeries(ctx context.Context) ([]Series, error)
	GetSeriesByID(ctx context.Context, seriesID int64) (*Series, error)
	GetRootFolders(ctx context.Context) ([]RootFolder, error)
	GetMissingEpisodes(ctx context.Context) ([]MissingEpisode, error)
}
