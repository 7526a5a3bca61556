package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Seedrarr/internal/config"
	"github.com/mescon/Seedrarr/internal/logger"
)

// formatUptime returns a human-readable uptime string
func formatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// checkDatabaseHealth checks database connectivity and returns status
func (s *RESTServer) checkDatabaseHealth(ctx context.Context) (gin.H, bool) {
	dbHealth := gin.H{"status": "connected"}
	healthy := true

	if err := s.db.PingContext(ctx); err != nil {
		healthy = false
		dbHealth["status"] = "error"
		dbHealth["error"] = err.Error()
	} else {
		dbPath := config.Get().DatabasePath
		if info, err := os.Stat(dbPath); err == nil {
			dbHealth["size_bytes"] = info.Size()
		}
	}

	return dbHealth, healthy
}

// handleHealth returns server health status for container orchestration.
// This endpoint must return quickly (within 5 seconds) for Docker healthchecks,
// so it only looks at local state and never calls out to Seedr or Sonarr.
func (s *RESTServer) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// Check database health
	dbHealth, dbHealthy := s.checkDatabaseHealth(ctx)

	// Count tracked downloads
	var tracked int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloads").Scan(&tracked); err != nil {
		logger.Debugf("Failed to count tracked downloads: %v", err)
	}

	// Determine overall status. Running without a Seedr token is degraded,
	// not broken: the API is up but nothing can be submitted.
	seedrAuthenticated := s.tokens != nil && s.tokens.IsAuthenticated()
	status := "healthy"
	if !dbHealthy {
		status = "degraded"
	} else if !seedrAuthenticated {
		status = "degraded"
	}

	health := gin.H{
		"status":              status,
		"version":             config.Version,
		"uptime":              formatUptime(time.Since(s.startTime)),
		"database":            dbHealth,
		"seedr_authenticated": seedrAuthenticated,
		"tracked_downloads":   tracked,
		"websocket_clients":   s.hub.ClientCount(),
	}
	if s.watcher != nil {
		health["watcher_running"] = s.watcher.Status().Running
	}

	c.JSON(http.StatusOK, health)
}
