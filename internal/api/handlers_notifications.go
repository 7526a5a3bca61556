package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Seedrarr/internal/logger"
	"github.com/mescon/Seedrarr/internal/notifier"
)

// parseNotificationID extracts and validates the :id route parameter.
func parseNotificationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID"})
		return 0, false
	}
	return id, true
}

// getNotifications lists all notification configs.
func (s *RESTServer) getNotifications(c *gin.Context) {
	configs, err := s.notifier.GetAllConfigs()
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	if configs == nil {
		configs = []*notifier.NotificationConfig{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": configs})
}

// getNotification returns one notification config.
func (s *RESTServer) getNotification(c *gin.Context) {
	id, ok := parseNotificationID(c)
	if !ok {
		return
	}

	cfg, err := s.notifier.GetConfig(id)
	if err != nil {
		respondNotFound(c, "Notification")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// createNotification stores a new notification config and hot-reloads the
// notifier so it takes effect without a restart.
func (s *RESTServer) createNotification(c *gin.Context) {
	var cfg notifier.NotificationConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondBadRequest(c, err, true)
		return
	}
	if cfg.Name == "" || cfg.ProviderType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and provider_type are required"})
		return
	}

	id, err := s.notifier.CreateConfig(&cfg)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	s.notifier.ReloadConfigs()

	logger.Infof("Notification config created: %s (%s)", cfg.Name, cfg.ProviderType)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// updateNotification replaces an existing notification config.
func (s *RESTServer) updateNotification(c *gin.Context) {
	id, ok := parseNotificationID(c)
	if !ok {
		return
	}

	var cfg notifier.NotificationConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondBadRequest(c, err, true)
		return
	}
	cfg.ID = id

	if err := s.notifier.UpdateConfig(&cfg); err != nil {
		respondDatabaseError(c, err)
		return
	}
	s.notifier.ReloadConfigs()

	c.JSON(http.StatusOK, gin.H{"message": "Notification updated"})
}

// deleteNotification removes a notification config and its log entries.
func (s *RESTServer) deleteNotification(c *gin.Context) {
	id, ok := parseNotificationID(c)
	if !ok {
		return
	}

	if err := s.notifier.DeleteConfig(id); err != nil {
		respondDatabaseError(c, err)
		return
	}
	s.notifier.ReloadConfigs()

	c.JSON(http.StatusOK, gin.H{"message": "Notification deleted"})
}

// testNotification sends a test message through a config without saving it.
func (s *RESTServer) testNotification(c *gin.Context) {
	var cfg notifier.NotificationConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondBadRequest(c, err, true)
		return
	}

	if err := s.notifier.SendTestNotification(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Test notification sent"})
}

// getNotificationEvents returns the subscribable event catalog, grouped for
// the UI's checkbox list.
func (s *RESTServer) getNotificationEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"groups": notifier.GetEventGroups()})
}

// getNotificationLog returns recent delivery attempts for one config.
func (s *RESTServer) getNotificationLog(c *gin.Context) {
	id, ok := parseNotificationID(c)
	if !ok {
		return
	}

	limit := parseInt(c.DefaultQuery("limit", "50"), 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	entries, err := s.notifier.GetNotificationLog(id, limit)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	if entries == nil {
		entries = []notifier.NotificationLogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"log": entries})
}
