package api

import (
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Seedrarr/internal/auth"
	"github.com/mescon/Seedrarr/internal/config"
	"github.com/mescon/Seedrarr/internal/eventbus"
	"github.com/mescon/Seedrarr/internal/ledger"
	"github.com/mescon/Seedrarr/internal/notifier"
	"github.com/mescon/Seedrarr/internal/services"
	"github.com/mescon/Seedrarr/internal/testutil"
)

// testEnv wires a full server over an in-memory database and mock remote
// clients. Handlers go through the real services layer, so these tests cover
// the HTTP contract end to end short of the network.
type testEnv struct {
	db        *sql.DB
	bus       *eventbus.EventBus
	store     *ledger.Store
	seedr     *testutil.MockSeedrClient
	sonarr    *testutil.MockSonarrClient
	downloads *services.DownloadService
	watcher   *services.TorrentWatcher
	sessions  *auth.SessionManager
	tokens    *auth.TokenManager
	server    *RESTServer
	router    *gin.Engine
	dir       string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	config.SetForTesting(config.NewTestConfig())

	database, err := testutil.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	bus := eventbus.NewEventBus(database)
	t.Cleanup(bus.Shutdown)

	store := ledger.NewStore(database)
	seedr := &testutil.MockSeedrClient{}
	sonarr := &testutil.MockSonarrClient{}
	dir := t.TempDir()

	reconciler := services.NewStatusReconciler(seedr)
	pipeline := services.NewCompletionPipeline(store, seedr, reconciler, bus, dir)
	downloads := services.NewDownloadService(store, seedr, sonarr, reconciler, pipeline, bus, dir)

	watchBase := t.TempDir()
	watchDirs := []string{watchBase + "/torrents", watchBase + "/processed", watchBase + "/error"}
	for _, d := range watchDirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("Failed to create %s: %v", d, err)
		}
	}
	watcher := services.NewTorrentWatcher(downloads, bus, watchDirs[0], watchDirs[1], watchDirs[2])
	t.Cleanup(watcher.Stop)

	sessions := auth.NewSessionManager(database)
	tokens := auth.NewTokenManager(database, testutil.NewMockClock())
	nt := notifier.NewNotifier(database, bus)

	gin.SetMode(gin.TestMode)
	r := gin.New()

	hub := NewWebSocketHub(bus)
	t.Cleanup(hub.Shutdown)

	s := &RESTServer{
		router:    r,
		db:        database,
		eventBus:  bus,
		downloads: downloads,
		watcher:   watcher,
		tokens:    tokens,
		sessions:  sessions,
		seedr:     seedr,
		sonarr:    sonarr,
		notifier:  nt,
		hub:       hub,
		startTime: time.Now(),
	}

	// Register routes manually: the full constructor would also register
	// Prometheus collectors on the global registry, which breaks when many
	// tests run in one process.
	registerTestRoutes(s, r)

	return &testEnv{
		db:        database,
		bus:       bus,
		store:     store,
		seedr:     seedr,
		sonarr:    sonarr,
		downloads: downloads,
		watcher:   watcher,
		sessions:  sessions,
		tokens:    tokens,
		server:    s,
		router:    r,
		dir:       dir,
	}
}

func registerTestRoutes(s *RESTServer, r *gin.Engine) {
	r.GET("/health", s.handleHealth)

	api := r.Group("/api")

	api.GET("/health", s.handleHealth)

	api.GET("/auth/status", s.handleAuthStatus)
	api.POST("/auth/login", s.handleAuthLogin)
	api.POST("/auth/poll", s.handleAuthPoll)
	api.POST("/auth/logout", s.handleAuthLogout)

	api.GET("/session/status", s.handleSessionStatus)
	api.POST("/session/setup", s.handleSessionSetup)
	api.POST("/session/login", s.handleSessionLogin)
	api.POST("/session/logout", s.handleSessionLogout)

	protected := api.Group("")
	protected.Use(s.sessionMiddleware())

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

	protected.GET("/sonarr/series", s.getSonarrSeries)
	protected.GET("/sonarr/missing", s.getSonarrMissing)
	protected.GET("/sonarr/rootfolders", s.getSonarrRootFolders)

	protected.POST("/watcher/start", s.startWatcher)
	protected.POST("/watcher/stop", s.stopWatcher)
	protected.GET("/watcher/status", s.getWatcherStatus)
	protected.POST("/watcher/scan", s.scanWatcher)
	protected.POST("/watcher/upload", s.uploadTorrent)

	protected.GET("/config", s.getConfig)

	protected.GET("/notifications", s.getNotifications)
	protected.POST("/notifications", s.createNotification)
	protected.GET(routeNotificationByID, s.getNotification)
	protected.PUT(routeNotificationByID, s.updateNotification)
	protected.DELETE(routeNotificationByID, s.deleteNotification)
	protected.POST("/notifications/test", s.testNotification)
	protected.GET("/notifications/events", s.getNotificationEvents)
	protected.GET(routeNotificationByID+"/log", s.getNotificationLog)

	protected.GET("/events", s.getEvents)
}
