package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mescon/Seedrarr/internal/domain"
	"github.com/mescon/Seedrarr/internal/eventbus"
	"github.com/mescon/Seedrarr/internal/logger"
)

// submitTimeout bounds how long a single dropped file's submission may take.
const watcherSubmitTimeout = 60 * time.Second

// TorrentWatcher watches a directory for dropped .torrent and .magnet files
// and submits them to Seedr. Successfully submitted files move to the
// processed directory, failures to the error directory, so the watch
// directory only ever holds work that has not been attempted yet.
type TorrentWatcher struct {
	downloads *DownloadService
	events    eventbus.Publisher

	watchDir     string
	processedDir string
	errorDir     string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// recent suppresses duplicate create/write events for the same file.
	recent map[string]time.Time

	processedCount int64
	errorCount     int64
}

// WatcherStatus is the watcher's externally visible state.
type WatcherStatus struct {
	Running        bool   `json:"running"`
	WatchDir       string `json:"watch_dir"`
	ProcessedDir   string `json:"processed_dir"`
	ErrorDir       string `json:"error_dir"`
	ProcessedCount int64  `json:"processed_count"`
	ErrorCount     int64  `json:"error_count"`
}

// NewTorrentWatcher creates a watcher over watchDir.
func NewTorrentWatcher(downloads *DownloadService, events eventbus.Publisher, watchDir, processedDir, errorDir string) *TorrentWatcher {
	return &TorrentWatcher{
		downloads:    downloads,
		events:       events,
		watchDir:     watchDir,
		processedDir: processedDir,
		errorDir:     errorDir,
		recent:       make(map[string]time.Time),
	}
}

// Start begins watching. Files already sitting in the watch directory are
// processed immediately so drops made while the service was down are not
// lost. Starting a running watcher is a no-op.
func (w *TorrentWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	for _, dir := range []string{w.watchDir, w.processedDir, w.errorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := watcher.Add(w.watchDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.watchDir, err)
	}

	w.watcher = watcher
	w.stopChan = make(chan struct{})
	w.running = true

	w.wg.Add(1)
	go w.loop(watcher, w.stopChan)

	logger.Infof("Torrent watcher started on %s", w.watchDir)
	w.publish(domain.WatcherStarted, map[string]interface{}{"watch_dir": w.watchDir})

	// Pick up files dropped while the watcher was down.
	go func() {
		if n, err := w.ScanNow(); err != nil {
			logger.Warnf("Initial watch directory scan failed: %v", err)
		} else if n > 0 {
			logger.Infof("Processed %d existing files from %s", n, w.watchDir)
		}
	}()

	return nil
}

// Stop shuts the watcher down. Stopping a stopped watcher is a no-op.
func (w *TorrentWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	w.watcher.Close()
	w.mu.Unlock()

	w.wg.Wait()
	logger.Infof("Torrent watcher stopped")
	w.publish(domain.WatcherStopped, map[string]interface{}{"watch_dir": w.watchDir})
}

// Status reports the watcher's current state.
func (w *TorrentWatcher) Status() WatcherStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WatcherStatus{
		Running:        w.running,
		WatchDir:       w.watchDir,
		ProcessedDir:   w.processedDir,
		ErrorDir:       w.errorDir,
		ProcessedCount: w.processedCount,
		ErrorCount:     w.errorCount,
	}
}

// ScanNow processes every torrent file currently in the watch directory and
// returns how many were picked up.
func (w *TorrentWatcher) ScanNow() (int, error) {
	entries, err := os.ReadDir(w.watchDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", w.watchDir, err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !isTorrentFile(entry.Name()) {
			continue
		}
		w.processFile(filepath.Join(w.watchDir, entry.Name()))
		count++
	}
	return count, nil
}

func (w *TorrentWatcher) loop(watcher *fsnotify.Watcher, stopChan chan struct{}) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isTorrentFile(event.Name) {
				continue
			}
			if w.seenRecently(event.Name) {
				continue
			}
			// Give the writer a moment to finish the file.
			time.Sleep(500 * time.Millisecond)
			w.processFile(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("Filesystem watcher error: %v", err)

		case <-stopChan:
			return
		}
	}
}

// seenRecently reports whether path was handled within the last few seconds.
// Editors and download clients fire several create/write events per file.
func (w *TorrentWatcher) seenRecently(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if last, ok := w.recent[path]; ok && now.Sub(last) < 5*time.Second {
		return true
	}
	w.recent[path] = now

	for p, t := range w.recent {
		if now.Sub(t) > time.Minute {
			delete(w.recent, p)
		}
	}
	return false
}

// processFile submits one dropped file to Seedr and files it away under the
// processed or error directory depending on the outcome.
func (w *TorrentWatcher) processFile(path string) {
	name := filepath.Base(path)
	title := strings.TrimSuffix(name, filepath.Ext(name))

	logger.Infof("Processing dropped torrent file: %s", name)
	w.publish(domain.TorrentFileDropped, map[string]interface{}{
		"file":  name,
		"title": title,
	})

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Errorf("Failed to read %s: %v", path, err)
		w.fileAway(path, w.errorDir)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), watcherSubmitTimeout)
	defer cancel()

	var result domain.OperationResult
	if strings.EqualFold(filepath.Ext(name), ".magnet") {
		magnet := strings.TrimSpace(string(data))
		result, err = w.downloads.Add(ctx, title, magnet, nil)
	} else {
		result, err = w.downloads.AddTorrentFile(ctx, title, name, data, nil)
	}

	if err != nil || !result.Success {
		if err != nil {
			logger.Errorf("Failed to submit %s to Seedr: %v", name, err)
		} else {
			logger.Errorf("Failed to submit %s to Seedr: %s", name, result.Message)
		}
		w.fileAway(path, w.errorDir)
		return
	}

	logger.Infof("Submitted %s to Seedr", name)
	w.fileAway(path, w.processedDir)
}

// fileAway moves path into dir, removing it from the watch directory so it
// is never picked up twice.
func (w *TorrentWatcher) fileAway(path, dir string) {
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		// Rename fails across filesystems; fall back to copy-and-delete.
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			logger.Errorf("Failed to move %s to %s: %v", path, dir, err)
			return
		}
		if werr := os.WriteFile(dest, data, 0o644); werr != nil {
			logger.Errorf("Failed to move %s to %s: %v", path, dir, werr)
			return
		}
		if rerr := os.Remove(path); rerr != nil {
			logger.Warnf("Failed to remove %s after copy: %v", path, rerr)
		}
	}

	w.mu.Lock()
	if dir == w.errorDir {
		w.errorCount++
	} else {
		w.processedCount++
	}
	w.mu.Unlock()
}

func (w *TorrentWatcher) publish(eventType domain.EventType, data map[string]interface{}) {
	if err := w.events.Publish(domain.Event{
		AggregateType: "watcher",
		AggregateID:   w.watchDir,
		EventType:     eventType,
		EventData:     data,
	}); err != nil {
		logger.Warnf("Failed to publish %s event: %v", eventType, err)
	}
}

func isTorrentFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".torrent", ".magnet":
		return true
	}
	return false
}
