// Package services contains the download lifecycle engine: status
// reconciliation across Seedr's two views, the completion pipeline, the
// torrent drop watcher, and the cron scheduler driving the poll sweep.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/mescon/Seedrarr/internal/domain"
	"github.com/mescon/Seedrarr/internal/integration"
	"github.com/mescon/Seedrarr/internal/logger"
)

// StatusReconciler bridges Seedr's two incompatible status views. A torrent
// that is downloading, queued, or paused shows up in the task API; once it
// completes, the task record disappears and the content reappears as a root
// folder carrying the torrent's content hash. Callers never learn which view
// answered - they only see a NormalizedStatus.
type StatusReconciler struct {
	seedr integration.SeedrAPI
}

// NewStatusReconciler creates a reconciler over the given Seedr gateway.
func NewStatusReconciler(seedr integration.SeedrAPI) *StatusReconciler {
	return &StatusReconciler{seedr: seedr}
}

// Resolve produces a normalized status for a ledger entry by walking an
// ordered fallback chain, short-circuiting on the first definitive answer:
//
//  1. Active-task lookup, enriched best-effort with the progress endpoint.
//  2. Folder-hash scan of the root listing for a completed torrent whose
//     content hash matches the tracking id (case-insensitive).
//  3. If the tracking id itself looks like a content hash (a degraded submit
//     stored the hash instead of a task id) and the scan above errored, one
//     more direct scan.
//
// If every lookup fails the state is error with the last failure's message;
// if every lookup ran clean but found nothing, the state is unknown.
func (r *StatusReconciler) Resolve(ctx context.Context, entry domain.LedgerEntry) domain.NormalizedStatus {
	id := entry.TorrentID

	status, taskErr := r.resolveActiveTask(ctx, id)
	if taskErr == nil && status.State != domain.StateUnknown {
		return status
	}
	if taskErr != nil {
		logger.Debugf("Task lookup failed for %q (%s): %v", entry.Title, id, taskErr)
	}

	status, found, scanErr := r.findCompletedFolder(ctx, id)
	if scanErr == nil && found {
		return status
	}

	if scanErr != nil && isContentHash(id) {
		logger.Debugf("Folder scan failed for hash-tracked %q, retrying scan directly: %v", entry.Title, scanErr)
		status, found, scanErr = r.findCompletedFolder(ctx, id)
		if scanErr == nil && found {
			return status
		}
	}

	lastErr := scanErr
	if lastErr == nil {
		lastErr = taskErr
	}
	if lastErr != nil {
		return domain.NormalizedStatus{
			State:   domain.StateError,
			Message: fmt.Sprintf("status lookup failed: %v", lastErr),
		}
	}

	return domain.NormalizedStatus{
		State:   domain.StateUnknown,
		Message: "no active task or completed folder matches this download",
	}
}

// resolveActiveTask queries the task API and, when it answers with a
// recognized state, merges in the progress endpoint's numbers. Enrichment is
// best-effort: a progress failure never invalidates the task's answer.
func (r *StatusReconciler) resolveActiveTask(ctx context.Context, taskID string) (domain.NormalizedStatus, error) {
	task, err := r.seedr.GetTask(ctx, taskID)
	if err != nil {
		return domain.NormalizedStatus{State: domain.StateUnknown}, err
	}

	state := domain.ParseDownloadState(task.Status)
	if state == domain.StateUnknown {
		return domain.NormalizedStatus{State: domain.StateUnknown, Message: task.Message}, nil
	}

	status := domain.NormalizedStatus{
		State:    state,
		Progress: task.Progress,
		Message:  task.Message,
	}

	// Enrichment refines the progress number only; the task API's state
	// stands even when the progress endpoint disagrees.
	if prog, perr := r.seedr.GetTaskProgress(ctx, taskID); perr == nil {
		if prog.Progress > status.Progress {
			status.Progress = prog.Progress
		}
	}

	if status.State == domain.StateCompleted {
		status.Progress = 100
	}
	return status, nil
}

// findCompletedFolder scans the root folder listing for an archived torrent
// whose content hash matches id. Completed torrents vanish from the task API
// and this scan is the only way to find them again.
func (r *StatusReconciler) findCompletedFolder(ctx context.Context, id string) (domain.NormalizedStatus, bool, error) {
	items, err := r.seedr.GetFolderContents(ctx, "0")
	if err != nil {
		return domain.NormalizedStatus{}, false, err
	}

	for _, item := range items {
		if item.Kind != domain.ItemFolder || item.TorrentHash == "" {
			continue
		}
		if strings.EqualFold(item.TorrentHash, id) {
			return domain.NormalizedStatus{
				State:     domain.StateCompleted,
				Progress:  100,
				Message:   fmt.Sprintf("Completed - stored as folder %q", item.Name),
				FolderRef: item.ID,
			}, true, nil
		}
	}
	return domain.NormalizedStatus{}, false, nil
}

// isContentHash reports whether id has the shape of a torrent info hash:
// exactly 40 hexadecimal characters.
func isContentHash(id string) bool {
	if len(id) != 40 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
