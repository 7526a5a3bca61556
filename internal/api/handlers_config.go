package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Seedrarr/internal/config"
)

// getConfig returns the effective runtime configuration. Configuration is
// environment-driven and read-only over the API; secrets are reported as
// set/unset, never echoed back.
func (s *RESTServer) getConfig(c *gin.Context) {
	cfg := config.Get()

	c.JSON(http.StatusOK, gin.H{
		"version":            config.Version,
		"port":               cfg.Port,
		"log_level":          cfg.LogLevel,
		"data_dir":           cfg.DataDir,
		"download_dir":       cfg.DownloadDir,
		"watch_dir":          cfg.WatchDir,
		"processed_dir":      cfg.ProcessedDir,
		"error_dir":          cfg.ErrorDir,
		"seedr_api_base_url": cfg.SeedrAPIBaseURL,
		"sonarr_host":        cfg.SonarrHost,
		"sonarr_api_key_set": cfg.SonarrAPIKey != "",
		"poll_interval":      cfg.PollInterval.String(),
		"poll_schedule":      cfg.PollSchedule,
		"retention_days":     cfg.RetentionDays,
	})
}
