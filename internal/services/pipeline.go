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

// CompletionPipeline fetches a completed download's contents from Seedr and
// places them in the local download directory. Per-item transfer failures are
// recorded but never abort the run: a batch with one bad file still lands the
// other files on disk.
type CompletionPipeline struct {
	ledger      *ledger.Store
	seedr       integration.SeedrAPI
	reconciler  *StatusReconciler
	events      eventbus.Publisher
	downloadDir string
}

// NewCompletionPipeline creates a pipeline writing into downloadDir.
func NewCompletionPipeline(store *ledger.Store, seedr integration.SeedrAPI, reconciler *StatusReconciler, events eventbus.Publisher, downloadDir string) *CompletionPipeline {
	return &CompletionPipeline{
		ledger:      store,
		seedr:       seedr,
		reconciler:  reconciler,
		events:      events,
		downloadDir: downloadDir,
	}
}

// ListItems returns the item listing for a tracked download. The task
// contents API answers while the task record still exists; after completion
// the listing has to come from the archived folder the reconciler found.
func (p *CompletionPipeline) ListItems(ctx context.Context, entry domain.LedgerEntry) ([]domain.RemoteItem, error) {
	items, err := p.seedr.GetTaskContents(ctx, entry.TorrentID)
	if err == nil && len(items) > 0 {
		return items, nil
	}
	if err != nil {
		logger.Debugf("Task contents unavailable for %q, trying folder fallback: %v", entry.Title, err)
	}

	status := p.reconciler.Resolve(ctx, entry)
	if status.FolderRef == "" {
		return items, err
	}

	folderItems, ferr := p.seedr.GetFolderContents(ctx, status.FolderRef)
	if ferr != nil {
		return nil, fmt.Errorf("failed to list folder %s: %w", status.FolderRef, ferr)
	}
	return folderItems, nil
}

// Run executes the completion pipeline for a title: resolve the ledger
// entry, fetch the item listing, download every item into the download
// directory. Files stream directly; folders are archived server-side and
// land as "{name}.zip". Rerunning for the same title is safe - transfers
// overwrite deterministically.
//
// The run succeeds when the listing was non-empty, even if some transfers
// failed: DownloadedPaths holds what landed, Message records what did not.
func (p *CompletionPipeline) Run(ctx context.Context, title string) (domain.CompletionResult, error) {
	entry, err := p.ledger.Lookup(title)
	if err != nil {
		return domain.CompletionResult{Success: false, Message: err.Error()}, err
	}

	if err := os.MkdirAll(p.downloadDir, 0o755); err != nil {
		return domain.CompletionResult{Success: false, Message: err.Error()},
			fmt.Errorf("failed to create download directory: %w", err)
	}

	items, err := p.ListItems(ctx, entry)
	if err != nil && len(items) == 0 {
		return domain.CompletionResult{Success: false, Message: fmt.Sprintf("failed to list contents: %v", err)}, err
	}
	if len(items) == 0 {
		return domain.CompletionResult{Success: false, Message: "no content found for this download"}, nil
	}

	var downloaded []string
	var failures []string
	for _, item := range items {
		savePath := filepath.Join(p.downloadDir, filepath.Base(item.Name))

		var terr error
		if item.Kind == domain.ItemFolder {
			savePath += ".zip"
			terr = p.seedr.DownloadFolderArchive(ctx, item.ID, savePath)
		} else {
			terr = p.seedr.DownloadFile(ctx, item.ID, savePath)
		}

		if terr != nil {
			logger.Warnf("Transfer failed for %q item %q: %v", title, item.Name, terr)
			failures = append(failures, fmt.Sprintf("%s: %v", item.Name, terr))
			continue
		}
		downloaded = append(downloaded, savePath)
	}

	message := fmt.Sprintf("Downloaded %d of %d items", len(downloaded), len(items))
	if len(failures) > 0 {
		message += "; failed: " + strings.Join(failures, "; ")
	}

	if err := p.events.Publish(domain.Event{
		AggregateType: "download",
		AggregateID:   title,
		EventType:     domain.FilesDownloaded,
		EventData: map[string]interface{}{
			"title":      title,
			"torrent_id": entry.TorrentID,
			"downloaded": len(downloaded),
			"total":      len(items),
			"paths":      downloaded,
		},
	}); err != nil {
		logger.Warnf("Failed to publish FilesDownloaded event for %q: %v", title, err)
	}

	return domain.CompletionResult{
		Success:         true,
		DownloadedPaths: downloaded,
		Message:         message,
	}, nil
}
