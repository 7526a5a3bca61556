// Package api provides the REST API handlers and server for Seedrarr.
// It includes endpoints for submitting and tracking downloads, Seedr device
// authorization, Sonarr lookups, the watch-directory ingest, notifications,
// and real-time updates via WebSocket.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mescon/Seedrarr/internal/auth"
	"github.com/mescon/Seedrarr/internal/eventbus"
	"github.com/mescon/Seedrarr/internal/integration"
	"github.com/mescon/Seedrarr/internal/logger"
	"github.com/mescon/Seedrarr/internal/metrics"
	"github.com/mescon/Seedrarr/internal/notifier"
	"github.com/mescon/Seedrarr/internal/services"
)

type RESTServer struct {
	router     *gin.Engine
	httpServer *http.Server
	db         *sql.DB
	eventBus   *eventbus.EventBus
	downloads  *services.DownloadService
	watcher    *services.TorrentWatcher
	tokens     *auth.TokenManager
	sessions   *auth.SessionManager
	seedr      integration.SeedrAPI
	sonarr     integration.SonarrAPI
	notifier   *notifier.Notifier
	metrics    *metrics.MetricsService
	hub        *WebSocketHub
	startTime  time.Time
}

// ServerDeps contains all dependencies required for the REST server
type ServerDeps struct {
	DB        *sql.DB
	EventBus  *eventbus.EventBus
	Downloads *services.DownloadService
	Watcher   *services.TorrentWatcher
	Tokens    *auth.TokenManager
	Sessions  *auth.SessionManager
	Seedr     integration.SeedrAPI
	Sonarr    integration.SonarrAPI
	Notifier  *notifier.Notifier
	Metrics   *metrics.MetricsService
}

func NewRESTServer(deps ServerDeps) *RESTServer {
	// Set Gin to release mode for production (suppresses debug warnings)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Request ID middleware for correlation/tracing
	r.Use(func(c *gin.Context) {
		// Use existing request ID from header if provided, otherwise generate one
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	})

	// Custom recovery middleware with enhanced logging
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		reqID := c.GetString("request_id")
		logger.Errorf("[PANIC RECOVERY] request_id=%s path=%s method=%s error=%v",
			reqID, c.Request.URL.Path, c.Request.Method, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      "Internal server error",
			"request_id": reqID,
		})
	}))

	// CORS middleware - configurable via SEEDRARR_CORS_ORIGIN env var
	// If not set, defaults to same-origin (no CORS header = browser enforces same-origin)
	// Set to "*" only for development, or specify allowed origins comma-separated
	corsOrigins := os.Getenv("SEEDRARR_CORS_ORIGIN")
	allowedOrigins := make(map[string]bool)
	if corsOrigins != "" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	r.Use(func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		// Only set CORS headers if origin is allowed
		if corsOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		// If no match, don't set Access-Control-Allow-Origin (same-origin policy applies)

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Session-Token, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	s := &RESTServer{
		router:    r,
		db:        deps.DB,
		eventBus:  deps.EventBus,
		downloads: deps.Downloads,
		watcher:   deps.Watcher,
		tokens:    deps.Tokens,
		sessions:  deps.Sessions,
		seedr:     deps.Seedr,
		sonarr:    deps.Sonarr,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		hub:       NewWebSocketHub(deps.EventBus),
		startTime: time.Now(),
	}

	s.setupRoutes()

	return s
}

// routeNotificationByID is the route path for notification operations by ID
const routeNotificationByID = "/notifications/:id"

// routeDownloadByTitle is the route prefix for per-download operations
const routeDownloadByTitle = "/downloads/:title"

func (s *RESTServer) setupRoutes() {
	// Prometheus metrics endpoint at root level (standard convention)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Health check endpoint at root level for container orchestration
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		// Health and metrics again under /api for frontends that only see
		// the API prefix through a reverse proxy
		api.GET("/health", s.handleHealth)
		api.GET("/metrics", gin.WrapH(s.metrics.Handler()))

		// Seedr device authorization (public - nothing works until it runs)
		api.GET("/auth/status", s.handleAuthStatus)
		api.POST("/auth/login", LoginLimiter.Middleware(), s.handleAuthLogin)
		api.POST("/auth/poll", PollLimiter.Middleware(), s.handleAuthPoll)
		api.POST("/auth/logout", s.handleAuthLogout)

		// Web UI session endpoints (public, with rate limiting on login)
		api.GET("/session/status", s.handleSessionStatus)
		api.POST("/session/setup", SetupLimiter.Middleware(), s.handleSessionSetup)
		api.POST("/session/login", LoginLimiter.Middleware(), s.handleSessionLogin)
		api.POST("/session/logout", s.handleSessionLogout)

		// Protected endpoints (require a web session once one is configured)
		protected := api.Group("")
		protected.Use(s.sessionMiddleware())
		{
			// Downloads
			protected.POST("/downloads", s.submitDownload)
			protected.GET("/downloads", s.listDownloads)
			protected.POST("/downloads/poll", s.pollDownloads)
			protected.GET(routeDownloadByTitle+"/status", s.getDownloadStatus)
			protected.GET(routeDownloadByTitle+"/files", s.getDownloadFiles)
			protected.POST(routeDownloadByTitle+"/download", s.fetchDownload)
			protected.POST(routeDownloadByTitle+"/notify-sonarr", s.notifySonarr)
			protected.POST(routeDownloadByTitle+"/pause", s.pauseDownload)
			protected.POST(routeDownloadByTitle+"/resume", s.resumeDownload)
			protected.DELETE(routeDownloadByTitle, s.deleteDownload)

			// Sonarr lookups
			protected.GET("/sonarr/series", s.getSonarrSeries)
			protected.GET("/sonarr/missing", s.getSonarrMissing)
			protected.GET("/sonarr/rootfolders", s.getSonarrRootFolders)

			// Watch directory
			protected.POST("/watcher/start", s.startWatcher)
			protected.POST("/watcher/stop", s.stopWatcher)
			protected.GET("/watcher/status", s.getWatcherStatus)
			protected.POST("/watcher/scan", s.scanWatcher)
			protected.POST("/watcher/upload", UploadLimiter.Middleware(), s.uploadTorrent)

			// Config (read-only; configuration is environment-driven)
			protected.GET("/config", s.getConfig)

			// Notifications
			protected.GET("/notifications", s.getNotifications)
			protected.POST("/notifications", s.createNotification)
			protected.GET(routeNotificationByID, s.getNotification)
			protected.PUT(routeNotificationByID, s.updateNotification)
			protected.DELETE(routeNotificationByID, s.deleteNotification)
			protected.POST("/notifications/test", s.testNotification)
			protected.GET("/notifications/events", s.getNotificationEvents)
			protected.GET(routeNotificationByID+"/log", s.getNotificationLog)

			// Lifecycle event timeline
			protected.GET("/events", s.getEvents)

			// Real-time updates
			protected.GET("/ws", func(c *gin.Context) {
				s.hub.HandleConnection(c)
			})
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API endpoint not found"})
	})
}

func (s *RESTServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// sessionMiddleware gates requests behind a web session token. Until
// credentials are configured the UI runs open, so everything passes; after
// setup a valid token is required on every protected route.
func (s *RESTServer) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.sessions == nil || !s.sessions.CredentialsConfigured() {
			c.Next()
			return
		}

		token := c.GetHeader("X-Session-Token")
		if token == "" {
			token = c.GetHeader("Authorization")
			// Remove "Bearer " prefix if present
			if len(token) > 7 && token[:7] == "Bearer " {
				token = token[7:]
			}
		}

		// Also check query parameter (for WebSockets)
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No session token provided"})
			c.Abort()
			return
		}

		if !s.sessions.Validate(token) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			c.Abort()
			return
		}

		c.Next()
	}
}
