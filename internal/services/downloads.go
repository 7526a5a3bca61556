package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mescon/Seedrarr/internal/domain"
	"github.com/mescon/Seedrarr/internal/eventbus"
	"github.com/mescon/Seedrarr/internal/integration"
	"github.com/mescon/Seedrarr/internal/ledger"
	"github.com/mescon/Seedrarr/internal/logger"
)

// DownloadService owns the download lifecycle: submit to Seedr, track in the
// ledger, reconcile status, run the completion pipeline, and notify Sonarr.
// Every mutating operation returns an OperationResult so a poll loop sweeping
// the whole ledger is never killed by one bad remote call.
type DownloadService struct {
	ledger      *ledger.Store
	seedr       integration.SeedrAPI
	sonarr      integration.SonarrAPI
	reconciler  *StatusReconciler
	pipeline    *CompletionPipeline
	events      eventbus.Publisher
	downloadDir string
}

// NewDownloadService wires the download lifecycle engine together.
func NewDownloadService(store *ledger.Store, seedr integration.SeedrAPI, sonarr integration.SonarrAPI, reconciler *StatusReconciler, pipeline *CompletionPipeline, events eventbus.Publisher, downloadDir string) *DownloadService {
	return &DownloadService{
		ledger:      store,
		seedr:       seedr,
		sonarr:      sonarr,
		reconciler:  reconciler,
		pipeline:    pipeline,
		events:      events,
		downloadDir: downloadDir,
	}
}

// Add submits a magnet link or torrent URL to Seedr and records the download
// in the ledger. Seedr answers a submission in three shapes: a normal accept
// with one of several id fields, an out-of-space accept that parks the
// torrent on the wishlist, and a degraded accept carrying only the content
// hash. All three are successes - the chosen identifier becomes the tracking
// id, and the ledger write happens only after Seedr said yes.
func (s *DownloadService) Add(ctx context.Context, title, downloadURL string, seriesID *int64) (domain.OperationResult, error) {
	source := integration.TorrentSource{URL: downloadURL}
	if strings.HasPrefix(downloadURL, "magnet:") {
		source = integration.TorrentSource{Magnet: downloadURL}
	}
	return s.submit(ctx, title, source, seriesID)
}

// AddTorrentFile submits a raw .torrent payload, as dropped into the watch
// directory or uploaded through the API.
func (s *DownloadService) AddTorrentFile(ctx context.Context, title, fileName string, data []byte, seriesID *int64) (domain.OperationResult, error) {
	return s.submit(ctx, title, integration.TorrentSource{File: data, FileName: fileName}, seriesID)
}

func (s *DownloadService) submit(ctx context.Context, title string, source integration.TorrentSource, seriesID *int64) (domain.OperationResult, error) {
	resp, err := s.seedr.AddTorrent(ctx, source)
	if err != nil {
		s.publish(domain.DownloadFailed, title, map[string]interface{}{
			"title": title,
			"error": err.Error(),
		})
		return domain.OperationResult{Success: false, Message: fmt.Sprintf("Seedr rejected the submission: %v", err)}, err
	}

	trackingID := firstNonEmpty(resp.TaskID, resp.ID, resp.UserTorrentID)
	wishlisted := false

	switch {
	case trackingID != "":
		// Normal accept.
	case resp.ReasonPhrase == integration.ReasonWishlisted && resp.Wishlist != nil && resp.Wishlist.ID != "":
		trackingID = resp.Wishlist.ID
		wishlisted = true
	case resp.Success && resp.TorrentHash != "":
		// Degraded accept: no task id survives, the content hash becomes
		// the tracking id and the folder scan finds it after completion.
		trackingID = strings.ToLower(resp.TorrentHash)
	default:
		message := resp.ReasonPhrase
		if message == "" {
			message = "Seedr returned no usable identifier"
		}
		s.publish(domain.DownloadFailed, title, map[string]interface{}{
			"title":  title,
			"reason": message,
		})
		return domain.OperationResult{Success: false, Message: message}, nil
	}

	if err := s.ledger.Record(title, trackingID, seriesID); err != nil {
		return domain.OperationResult{Success: false, Message: err.Error()}, err
	}

	if wishlisted {
		logger.Infof("Download %q added to Seedr wishlist (not enough space), tracking id %s", title, trackingID)
		s.publish(domain.DownloadWishlisted, title, map[string]interface{}{
			"title":       title,
			"torrent_id":  trackingID,
			"wishlist_id": trackingID,
		})
		return domain.OperationResult{Success: true, Message: "Added to Seedr wishlist - will start when space frees up"}, nil
	}

	logger.Infof("Download %q submitted to Seedr, tracking id %s", title, trackingID)
	s.publish(domain.DownloadSubmitted, title, map[string]interface{}{
		"title":      title,
		"torrent_id": trackingID,
	})
	return domain.OperationResult{Success: true, Message: "Download added to Seedr"}, nil
}

// Status resolves the current normalized status of a tracked download.
func (s *DownloadService) Status(ctx context.Context, title string) (domain.NormalizedStatus, error) {
	entry, err := s.ledger.Lookup(title)
	if err != nil {
		return domain.NormalizedStatus{}, err
	}
	return s.reconciler.Resolve(ctx, entry), nil
}

// Files returns the remote item listing for a tracked download.
func (s *DownloadService) Files(ctx context.Context, title string) ([]domain.RemoteItem, error) {
	entry, err := s.ledger.Lookup(title)
	if err != nil {
		return nil, err
	}
	return s.pipeline.ListItems(ctx, entry)
}

// DownloadCompleted runs the completion pipeline for a title.
func (s *DownloadService) DownloadCompleted(ctx context.Context, title string) (domain.CompletionResult, error) {
	return s.pipeline.Run(ctx, title)
}

// NotifySonarr asks Sonarr to scan the download directory for completed
// episodes. Sonarr's command response is passed through verbatim, never
// interpreted.
func (s *DownloadService) NotifySonarr(ctx context.Context, title string) (map[string]interface{}, error) {
	if _, err := s.ledger.Lookup(title); err != nil {
		return nil, err
	}

	resp, err := s.sonarr.CommandDownloadScan(ctx, s.downloadDir)
	if err != nil {
		return nil, err
	}

	s.publish(domain.SonarrNotified, title, map[string]interface{}{
		"title": title,
		"path":  s.downloadDir,
	})
	return resp, nil
}

// Pause suspends an active download. It is valid only while the task is
// downloading: violating the precondition returns success=false with an
// explanatory message and never touches Seedr.
func (s *DownloadService) Pause(ctx context.Context, title string) (domain.OperationResult, error) {
	entry, err := s.ledger.Lookup(title)
	if err != nil {
		return domain.OperationResult{Success: false, Message: err.Error()}, err
	}

	status := s.reconciler.Resolve(ctx, entry)
	if !status.State.CanPause() {
		return domain.OperationResult{
			Success: false,
			Message: fmt.Sprintf("Download not in progress (status: %s)", status.State),
		}, nil
	}

	if err := s.seedr.PauseTask(ctx, entry.TorrentID); err != nil {
		return domain.OperationResult{Success: false, Message: err.Error()}, err
	}

	s.publish(domain.DownloadPaused, title, map[string]interface{}{
		"title":      title,
		"torrent_id": entry.TorrentID,
	})
	return domain.OperationResult{Success: true, Message: "Download paused"}, nil
}

// Resume continues a paused download. Valid only from the paused state.
func (s *DownloadService) Resume(ctx context.Context, title string) (domain.OperationResult, error) {
	entry, err := s.ledger.Lookup(title)
	if err != nil {
		return domain.OperationResult{Success: false, Message: err.Error()}, err
	}

	status := s.reconciler.Resolve(ctx, entry)
	if !status.State.CanResume() {
		return domain.OperationResult{
			Success: false,
			Message: fmt.Sprintf("Download not paused (status: %s)", status.State),
		}, nil
	}

	if err := s.seedr.ResumeTask(ctx, entry.TorrentID); err != nil {
		return domain.OperationResult{Success: false, Message: err.Error()}, err
	}

	s.publish(domain.DownloadResumed, title, map[string]interface{}{
		"title":      title,
		"torrent_id": entry.TorrentID,
	})
	return domain.OperationResult{Success: true, Message: "Download resumed"}, nil
}

// Delete removes a download remote-first: Seedr's task goes away, then the
// ledger entry. The two writes are not transactional - if the process dies
// between them the ledger entry survives and the next delete retries the
// remote call, which beats silently losing track of a live remote task.
func (s *DownloadService) Delete(ctx context.Context, title string) (domain.OperationResult, error) {
	entry, err := s.ledger.Lookup(title)
	if err != nil {
		return domain.OperationResult{Success: false, Message: err.Error()}, err
	}

	if err := s.seedr.DeleteTask(ctx, entry.TorrentID); err != nil {
		return domain.OperationResult{Success: false, Message: fmt.Sprintf("Seedr delete failed, entry kept for retry: %v", err)}, err
	}

	if err := s.ledger.Remove(title); err != nil {
		logger.Warnf("Remote task %s deleted but ledger entry %q remains: %v", entry.TorrentID, title, err)
		return domain.OperationResult{Success: false, Message: err.Error()}, err
	}

	clearNotifiedMarker(s.downloadDir, title)

	s.publish(domain.DownloadDeleted, title, map[string]interface{}{
		"title":      title,
		"torrent_id": entry.TorrentID,
	})
	return domain.OperationResult{Success: true, Message: "Download deleted"}, nil
}

// Overview resolves the status of every ledger entry. Per-entry resolution
// failures surface as error-state rows, never abort the sweep.
func (s *DownloadService) Overview(ctx context.Context) ([]domain.DownloadOverview, error) {
	entries, err := s.ledger.ListAll()
	if err != nil {
		return nil, err
	}

	overviews := make([]domain.DownloadOverview, 0, len(entries))
	for _, entry := range entries {
		status := s.reconciler.Resolve(ctx, entry)
		overviews = append(overviews, domain.DownloadOverview{
			Title:     entry.Title,
			TorrentID: entry.TorrentID,
			SeriesID:  entry.SeriesID,
			AddedAt:   entry.AddedAt,
			State:     status.State,
			Progress:  status.Progress,
			Message:   status.Message,
		})
	}
	return overviews, nil
}

// PollAll is the periodic sweep the scheduler drives: resolve every entry
// and, for newly completed downloads, run the completion pipeline and notify
// Sonarr exactly once. A marker file per title keeps repeated sweeps from
// renotifying.
func (s *DownloadService) PollAll(ctx context.Context) ([]domain.DownloadOverview, error) {
	overviews, err := s.Overview(ctx)
	if err != nil {
		return nil, err
	}

	for _, row := range overviews {
		if row.State != domain.StateCompleted || s.alreadyNotified(row.Title) {
			continue
		}
		if err := s.completeAndNotify(ctx, row.Title); err != nil {
			logger.Errorf("Completion handling failed for %q: %v", row.Title, err)
		}
	}
	return overviews, nil
}

func (s *DownloadService) completeAndNotify(ctx context.Context, title string) error {
	result, err := s.pipeline.Run(ctx, title)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("completion pipeline: %s", result.Message)
	}

	if _, err := s.sonarr.CommandDownloadScan(ctx, s.downloadDir); err != nil {
		return fmt.Errorf("sonarr notification failed: %w", err)
	}
	s.publish(domain.SonarrNotified, title, map[string]interface{}{
		"title": title,
		"path":  s.downloadDir,
	})

	if err := s.markNotified(title); err != nil {
		logger.Warnf("Failed to write completion marker for %q: %v", title, err)
	}

	s.publish(domain.DownloadCompleted, title, map[string]interface{}{
		"title":      title,
		"downloaded": len(result.DownloadedPaths),
		"message":    result.Message,
	})
	logger.Infof("Download %q completed: %s", title, result.Message)
	return nil
}

// notifiedMarkerPath is the per-title sentinel that makes "completed" a
// notify-once transition across poll sweeps.
func notifiedMarkerPath(dir, title string) string {
	return filepath.Join(dir, "."+title+".downloaded")
}

func (s *DownloadService) alreadyNotified(title string) bool {
	_, err := os.Stat(notifiedMarkerPath(s.downloadDir, title))
	return err == nil
}

func (s *DownloadService) markNotified(title string) error {
	if err := os.MkdirAll(s.downloadDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(notifiedMarkerPath(s.downloadDir, title), []byte(title+"\n"), 0o644)
}

func clearNotifiedMarker(dir, title string) {
	if err := os.Remove(notifiedMarkerPath(dir, title)); err != nil && !os.IsNotExist(err) {
		logger.Debugf("Failed to remove completion marker for %q: %v", title, err)
	}
}

func (s *DownloadService) publish(eventType domain.EventType, title string, data map[string]interface{}) {
	if err := s.events.Publish(domain.Event{
		AggregateType: "download",
		AggregateID:   title,
		EventType:     eventType,
		EventData:     data,
	}); err != nil {
		logger.Warnf("Failed to publish %s event for %q: %v", eventType, title, err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
