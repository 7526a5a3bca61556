package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mescon/Seedrarr/internal/domain"
	"github.com/mescon/Seedrarr/internal/integration"
	"github.com/mescon/Seedrarr/internal/ledger"
	"github.com/mescon/Seedrarr/internal/testutil"
)

type downloadEnv struct {
	db        *sql.DB
	store     *ledger.Store
	seedr     *testutil.MockSeedrClient
	sonarr    *testutil.MockSonarrClient
	bus       *testutil.MockEventBus
	pipeline  *CompletionPipeline
	downloads *DownloadService
	dir       string
}

func newDownloadEnv(t *testing.T) *downloadEnv {
	t.Helper()

	database, err := testutil.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := ledger.NewStore(database)
	seedr := &testutil.MockSeedrClient{}
	sonarr := &testutil.MockSonarrClient{}
	bus := testutil.NewMockEventBus()
	dir := t.TempDir()

	reconciler := NewStatusReconciler(seedr)
	pipeline := NewCompletionPipeline(store, seedr, reconciler, bus, dir)
	downloads := NewDownloadService(store, seedr, sonarr, reconciler, pipeline, bus, dir)

	return &downloadEnv{
		db:        database,
		store:     store,
		seedr:     seedr,
		sonarr:    sonarr,
		bus:       bus,
		pipeline:  pipeline,
		downloads: downloads,
		dir:       dir,
	}
}

func TestAddRecordsTaskID(t *testing.T) {
	env := newDownloadEnv(t)
	env.seedr.AddTorrentFunc = func(source integration.TorrentSource) (*integration.SubmitResponse, error) {
		return &integration.SubmitResponse{TaskID: "123"}, nil
	}

	result, err := env.downloads.Add(context.Background(), "Show.S01E01", "magnet:?xt=urn:btih:abc", nil)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected success, got: %s", result.Message)
	}

	entry, err := env.store.Lookup("Show.S01E01")
	if err != nil {
		t.Fatalf("Lookup after Add failed: %v", err)
	}
	if entry.TorrentID != "123" {
		t.Errorf("Expected tracking id 123, got %q", entry.TorrentID)
	}
	if env.bus.EventCount(domain.DownloadSubmitted) != 1 {
		t.Errorf("Expected 1 DownloadSubmitted event, got %d", env.bus.EventCount(domain.DownloadSubmitted))
	}
}

func TestAddMagnetAndURLSources(t *testing.T) {
	env := newDownloadEnv(t)
	var got integration.TorrentSource
	env.seedr.AddTorrentFunc = func(source integration.TorrentSource) (*integration.SubmitResponse, error) {
		got = source
		return &integration.SubmitResponse{TaskID: "1"}, nil
	}

	if _, err := env.downloads.Add(context.Background(), "a", "magnet:?xt=urn:btih:abc", nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if got.Magnet == "" || got.URL != "" {
		t.Errorf("Magnet link should go up as a magnet source, got %+v", got)
	}

	if _, err := env.downloads.Add(context.Background(), "b", "https://example.com/file.torrent", nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if got.URL == "" || got.Magnet != "" {
		t.Errorf("HTTP link should go up as a URL source, got %+v", got)
	}
}

func TestAddWishlistOutcome(t *testing.T) {
	env := newDownloadEnv(t)
	env.seedr.AddTorrentFunc = func(source integration.TorrentSource) (*integration.SubmitResponse, error) {
		return &integration.SubmitResponse{
			ReasonPhrase: integration.ReasonWishlisted,
			Wishlist:     &integration.WishlistItem{ID: "55"},
		}, nil
	}

	result, err := env.downloads.Add(context.Background(), "Show.S01E02", "magnet:?xt=urn:btih:abc", nil)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Wishlist accept should be a success, got: %s", result.Message)
	}

	entry, err := env.store.Lookup("Show.S01E02")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry.TorrentID != "55" {
		t.Errorf("Expected wishlist id 55 as tracking id, got %q", entry.TorrentID)
	}
	if env.bus.EventCount(domain.DownloadWishlisted) != 1 {
		t.Errorf("Expected 1 DownloadWishlisted event, got %d", env.bus.EventCount(domain.DownloadWishlisted))
	}
}

func TestAddDegradedHashOutcome(t *testing.T) {
	env := newDownloadEnv(t)
	env.seedr.AddTorrentFunc = func(source integration.TorrentSource) (*integration.SubmitResponse, error) {
		return &integration.SubmitResponse{Success: true, TorrentHash: "A1B2C3D4E5F60718293A4B5C6D7E8F9012345678"}, nil
	}

	result, err := env.downloads.Add(context.Background(), "Show.S01E03", "magnet:?xt=urn:btih:abc", nil)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Degraded accept should be a success, got: %s", result.Message)
	}

	entry, err := env.store.Lookup("Show.S01E03")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry.TorrentID != testHash {
		t.Errorf("Expected lowercased hash as tracking id, got %q", entry.TorrentID)
	}
}

func TestAddNoUsableIdentifier(t *testing.T) {
	env := newDownloadEnv(t)
	env.seedr.AddTorrentFunc = func(source integration.TorrentSource) (*integration.SubmitResponse, error) {
		return &integration.SubmitResponse{}, nil
	}

	result, err := env.downloads.Add(context.Background(), "Show.S01E04", "magnet:?xt=urn:btih:abc", nil)
	if err != nil {
		t.Fatalf("Add returned unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("Submission with no identifier should not succeed")
	}

	if _, err := env.store.Lookup("Show.S01E04"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("No ledger entry should exist after a failed submit, got %v", err)
	}
	if env.bus.EventCount(domain.DownloadFailed) != 1 {
		t.Errorf("Expected 1 DownloadFailed event, got %d", env.bus.EventCount(domain.DownloadFailed))
	}
}

func TestStatusUnknownTitle(t *testing.T) {
	env := newDownloadEnv(t)

	_, err := env.downloads.Status(context.Background(), "missing")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPausePreconditionSkipsRemoteCall(t *testing.T) {
	env := newDownloadEnv(t)
	if err := env.store.Record("Show.S01E01", "123", nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	env.seedr.GetTaskFunc = func(taskID string) (*integration.Task, error) {
		return &integration.Task{ID: taskID, Status: "finished"}, nil
	}

	result, err := env.downloads.Pause(context.Background(), "Show.S01E01")
	if err != nil {
		t.Fatalf("Pause returned unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("Pausing a completed download should be refused")
	}
	if result.Message != "Download not in progress (status: completed)" {
		t.Errorf("Unexpected precondition message: %q", result.Message)
	}
	if env.seedr.CallCount("PauseTask") != 0 {
		t.Errorf("Precondition violation must not reach Seedr, got %d PauseTask calls", env.seedr.CallCount("PauseTask"))
	}
}

func TestPauseFromDownloading(t *testing.T) {
	env := newDownloadEnv(t)
	if err := env.store.Record("Show.S01E01", "123", nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	env.seedr.GetTaskFunc = func(taskID string) (*integration.Task, error) {
		return &integration.Task{ID: taskID, Status: "downloading", Progress: 40}, nil
	}

	result, err := env.downloads.Pause(context.Background(), "Show.S01E01")
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected pause to succeed, got: %s", result.Message)
	}
	if env.seedr.CallCount("PauseTask") != 1 {
		t.Errorf("Expected 1 PauseTask call, got %d", env.seedr.CallCount("PauseTask"))
	}
	if env.bus.EventCount(domain.DownloadPaused) != 1 {
		t.Errorf("Expected 1 DownloadPaused event, got %d", env.bus.EventCount(domain.DownloadPaused))
	}
}

func TestResumePreconditionSkipsRemoteCall(t *testing.T) {
	env := newDownloadEnv(t)
	if err := env.store.Record("Show.S01E01", "123", nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	env.seedr.GetTaskFunc = func(taskID string) (*integration.Task, error) {
		return &integration.Task{ID: taskID, Status: "downloading"}, nil
	}

	result, err := env.downloads.Resume(context.Background(), "Show.S01E01")
	if err != nil {
		t.Fatalf("Resume returned unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("Resuming an active download should be refused")
	}
	if env.seedr.CallCount("ResumeTask") != 0 {
		t.Errorf("Precondition violation must not reach Seedr, got %d ResumeTask calls", env.seedr.CallCount("ResumeTask"))
	}
}

func TestResumeFromPaused(t *testing.T) {
	env := newDownloadEnv(t)
	if err := env.store.Record("Show.S01E01", "123", nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	env.seedr.GetTaskFunc = func(taskID string) (*integration.Task, error) {
		return &integration.Task{ID: taskID, Status: "paused", Progress: 60}, nil
	}

	result, err := env.downloads.Resume(context.Background(), "Show.S01E01")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected resume to succeed, got: %s", result.Message)
	}
	if env.bus.EventCount(domain.DownloadResumed) != 1 {
		t.Errorf("Expected 1 DownloadResumed event, got %d", env.bus.EventCount(domain.DownloadResumed))
	}
}

func TestDeleteRemoteFirst(t *testing.T) {
	env := newDownloadEnv(t)
	if err := env.store.Record("Show.S01E01", "123", nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	env.seedr.DeleteTaskFunc = func(taskID string) error {
		return fmt.Errorf("seedr down")
	}

	result, err := env.downloads.Delete(context.Background(), "Show.S01E01")
	if err == nil {
		t.Fatal("Expected error when remote delete fails")
	}
	if result.Success {
		t.Fatal("Delete should fail when the remote call fails")
	}
	if _, lerr := env.store.Lookup("Show.S01E01"); lerr != nil {
		t.Errorf("Ledger entry must survive a failed remote delete so it can be retried: %v", lerr)
	}

	// Remote recovers: delete succeeds and removes the entry.
	env.seedr.DeleteTaskFunc = nil
	result, err = env.downloads.Delete(context.Background(), "Show.S01E01")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected delete to succeed, got: %s", result.Message)
	}
	if _, lerr := env.store.Lookup("Show.S01E01"); !errors.Is(lerr, ledger.ErrNotFound) {
		t.Errorf("Ledger entry should be gone after delete, got %v", lerr)
	}
	if env.bus.EventCount(domain.DownloadDeleted) != 1 {
		t.Errorf("Expected 1 DownloadDeleted event, got %d", env.bus.EventCount(domain.DownloadDeleted))
	}
}

func TestNotifySonarrPassesResponseThrough(t *testing.T) {
	env := newDownloadEnv(t)
	if err := env.store.Record("Show.S01E01", "123", nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	env.sonarr.CommandDownloadScanFunc = func(path string) (map[string]interface{}, error) {
		if path != env.dir {
			t.Errorf("Expected scan path %q, got %q", env.dir, path)
		}
		return map[string]interface{}{"id": float64(77), "name": "DownloadedEpisodesScan"}, nil
	}

	resp, err := env.downloads.NotifySonarr(context.Background(), "Show.S01E01")
	if err != nil {
		t.Fatalf("NotifySonarr failed: %v", err)
	}
	if resp["id"] != float64(77) {
		t.Errorf("Sonarr response must pass through verbatim, got %v", resp)
	}
	if env.bus.EventCount(domain.SonarrNotified) != 1 {
		t.Errorf("Expected 1 SonarrNotified event, got %d", env.bus.EventCount(domain.SonarrNotified))
	}
}

func TestNotifySonarrUnknownTitle(t *testing.T) {
	env := newDownloadEnv(t)

	_, err := env.downloads.NotifySonarr(context.Background(), "missing")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if env.sonarr.CallCount("CommandDownloadScan") != 0 {
		t.Error("Unknown title must not trigger a Sonarr scan")
	}
}

func TestOverviewNeverAbortsOnBadEntries(t *testing.T) {
	env := newDownloadEnv(t)
	if err := env.store.Record("good", "1", nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := env.store.Record("bad", "2", nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	env.seedr.GetTaskFunc = func(taskID string) (*integration.Task, error) {
		if taskID == "2" {
			return nil, fmt.Errorf("boom")
		}
		return &integration.Task{ID: taskID, Status: "downloading", Progress: 30}, nil
	}
	env.seedr.GetFolderContentsFunc = func(folderID string) ([]domain.RemoteItem, error) {
		return nil, fmt.Errorf("boom")
	}

	overviews, err := env.downloads.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}
	if len(overviews) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(overviews))
	}
	if overviews[0].State != domain.StateDownloading {
		t.Errorf("Expected first row downloading, got %s", overviews[0].State)
	}
	if overviews[1].State != domain.StateError {
		t.Errorf("Expected second row error, got %s", overviews[1].State)
	}
}

func TestPollAllNotifiesOnce(t *testing.T) {
	env := newDownloadEnv(t)
	if err := env.store.Record("Show.S01E01", "123", nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	env.seedr.GetTaskFunc = func(taskID string) (*integration.Task, error) {
		return &integration.Task{ID: taskID, Status: "finished", Progress: 100}, nil
	}
	env.seedr.GetTaskContentsFunc = func(taskID string) ([]domain.RemoteItem, error) {
		return []domain.RemoteItem{{Kind: domain.ItemFile, ID: "f1", Name: "episode.mkv"}}, nil
	}

	if _, err := env.downloads.PollAll(context.Background()); err != nil {
		t.Fatalf("First poll failed: %v", err)
	}
	if _, err := env.downloads.PollAll(context.Background()); err != nil {
		t.Fatalf("Second poll failed: %v", err)
	}

	if got := env.sonarr.CallCount("CommandDownloadScan"); got != 1 {
		t.Errorf("Completion must notify Sonarr exactly once across sweeps, got %d", got)
	}
	if got := env.seedr.CallCount("DownloadFile"); got != 1 {
		t.Errorf("Completed files must download exactly once across sweeps, got %d", got)
	}
	if env.bus.EventCount(domain.DownloadCompleted) != 1 {
		t.Errorf("Expected 1 DownloadCompleted event, got %d", env.bus.EventCount(domain.DownloadCompleted))
	}

	marker := filepath.Join(env.dir, ".Show.S01E01.downloaded")
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("Expected completion marker at %s: %v", marker, err)
	}
}
