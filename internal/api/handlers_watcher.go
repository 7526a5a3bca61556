package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Seedrarr/internal/logger"
)

// startWatcher starts the watch-directory ingest.
func (s *RESTServer) startWatcher(c *gin.Context) {
	if s.watcher == nil {
		respondServiceUnavailable(c, "Watcher")
		return
	}

	if err := s.watcher.Start(); err != nil {
		respondWithError(c, http.StatusInternalServerError, "Failed to start watcher", err)
		return
	}
	c.JSON(http.StatusOK, s.watcher.Status())
}

// stopWatcher stops the watch-directory ingest.
func (s *RESTServer) stopWatcher(c *gin.Context) {
	if s.watcher == nil {
		respondServiceUnavailable(c, "Watcher")
		return
	}

	s.watcher.Stop()
	c.JSON(http.StatusOK, s.watcher.Status())
}

// getWatcherStatus returns the watcher's current state and counters.
func (s *RESTServer) getWatcherStatus(c *gin.Context) {
	if s.watcher == nil {
		respondServiceUnavailable(c, "Watcher")
		return
	}

	c.JSON(http.StatusOK, s.watcher.Status())
}

// scanWatcher sweeps the watch directory once, picking up files dropped
// while the watcher was stopped.
func (s *RESTServer) scanWatcher(c *gin.Context) {
	if s.watcher == nil {
		respondServiceUnavailable(c, "Watcher")
		return
	}

	picked, err := s.watcher.ScanNow()
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, "Watch directory scan failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"picked_up": picked})
}

// uploadTorrent drops an uploaded .torrent or .magnet file into the watch
// directory, where the normal ingest path takes over: the filename becomes
// the download title, and the file moves to processed/ or error/ depending
// on how the submission goes.
func (s *RESTServer) uploadTorrent(c *gin.Context) {
	if s.watcher == nil {
		respondServiceUnavailable(c, "Watcher")
		return
	}

	fileHeader, err := c.FormFile("torrent")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "torrent file is required"})
		return
	}
	if fileHeader.Size > maxTorrentSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Torrent file too large"})
		return
	}

	name := filepath.Base(fileHeader.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".torrent" && ext != ".magnet" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only .torrent and .magnet files are accepted"})
		return
	}

	watchDir := s.watcher.Status().WatchDir
	if err := os.MkdirAll(watchDir, 0o755); err != nil {
		respondWithError(c, http.StatusInternalServerError, "Watch directory unavailable", err)
		return
	}

	dest := filepath.Join(watchDir, name)
	if err := c.SaveUploadedFile(fileHeader, dest); err != nil {
		respondWithError(c, http.StatusInternalServerError, "Failed to store uploaded file", err)
		return
	}

	// If the watcher is stopped the file would just sit there; sweep once so
	// the upload is submitted immediately either way.
	if !s.watcher.Status().Running {
		if _, err := s.watcher.ScanNow(); err != nil {
			logger.Errorf("Post-upload scan failed: %v", err)
		}
	}

	logger.Infof("Torrent uploaded into watch directory: %s", name)
	c.JSON(http.StatusCreated, gin.H{
		"message": "Uploaded",
		"file":    name,
	})
}
