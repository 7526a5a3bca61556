package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mescon/Seedrarr/internal/api"
	"github.com/mescon/Seedrarr/internal/auth"
	"github.com/mescon/Seedrarr/internal/clock"
	"github.com/mescon/Seedrarr/internal/config"
	"github.com/mescon/Seedrarr/internal/db"
	"github.com/mescon/Seedrarr/internal/eventbus"
	"github.com/mescon/Seedrarr/internal/integration"
	"github.com/mescon/Seedrarr/internal/ledger"
	"github.com/mescon/Seedrarr/internal/logger"
	"github.com/mescon/Seedrarr/internal/metrics"
	"github.com/mescon/Seedrarr/internal/notifier"
	"github.com/mescon/Seedrarr/internal/services"
)

func main() {
	// Define command line flags (these override environment variables)
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "v", false, "Print version and exit (shorthand)")

	// Configuration flags - all can also be set via environment variables (SEEDRARR_*)
	flagPort := flag.String("port", "", "HTTP server port (env: SEEDRARR_PORT, default: 3091)")
	flagLogLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (env: SEEDRARR_LOG_LEVEL, default: info)")
	flagDataDir := flag.String("data-dir", "", "Data directory path (env: SEEDRARR_DATA_DIR)")
	flagDatabasePath := flag.String("database-path", "", "Database file path (env: SEEDRARR_DATABASE_PATH)")
	flagDownloadDir := flag.String("download-dir", "", "Directory for completed downloads (env: SEEDRARR_DOWNLOAD_DIR)")
	flagWatchDir := flag.String("watch-dir", "", "Directory monitored for .torrent/.magnet files (env: SEEDRARR_WATCH_DIR)")
	flagSonarrHost := flag.String("sonarr-host", "", "Sonarr base URL (env: SEEDRARR_SONARR_HOST, default: http://localhost:8989)")
	flagSonarrAPIKey := flag.String("sonarr-api-key", "", "Sonarr API key (env: SEEDRARR_SONARR_API_KEY)")
	flagPollInterval := flag.Duration("poll-interval", 0, "Interval between status polls (env: SEEDRARR_POLL_INTERVAL, default: 30s)")
	flagPollSchedule := flag.String("poll-schedule", "", "Cron expression for the reconcile sweep (env: SEEDRARR_POLL_SCHEDULE)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("Seedrarr %s\n", config.Version)
		os.Exit(0)
	}

	// Load configuration from environment variables (initial load, refreshed after flags)
	config.Load()

	// Apply command-line flag overrides
	config.ApplyFlags(config.FlagOverrides{
		Port:         flagPort,
		LogLevel:     flagLogLevel,
		DataDir:      flagDataDir,
		DatabasePath: flagDatabasePath,
		DownloadDir:  flagDownloadDir,
		WatchDir:     flagWatchDir,
		SonarrHost:   flagSonarrHost,
		SonarrAPIKey: flagSonarrAPIKey,
		PollInterval: flagPollInterval,
		PollSchedule: flagPollSchedule,
	})

	// Refresh config after applying flags
	cfg := config.Get()

	// Initialize logger with configured log directory
	logger.Init(cfg.LogDir)
	logger.SetLevel(cfg.LogLevel)

	logger.Infof("========================================")
	logger.Infof("Starting Seedrarr %s...", config.Version)
	logger.Infof("Seedr cloud download bridge for Sonarr")
	logger.Infof("========================================")

	logger.Infof("Configuration:")
	logger.Infof("  Port: %s", cfg.Port)
	logger.Infof("  Log Level: %s", cfg.LogLevel)
	logger.Infof("  Data Directory: %s", cfg.DataDir)
	logger.Infof("  Database: %s", cfg.DatabasePath)
	logger.Infof("  Download Directory: %s", cfg.DownloadDir)
	logger.Infof("  Watch Directory: %s", cfg.WatchDir)
	logger.Infof("  Seedr API: %s", cfg.SeedrAPIBaseURL)
	logger.Infof("  Sonarr: %s", cfg.SonarrHost)
	logger.Infof("  Poll Interval: %s", cfg.PollInterval)
	logger.Infof("  Poll Schedule: %s", cfg.PollSchedule)
	if cfg.RetentionDays > 0 {
		logger.Infof("  Event Retention: %d days", cfg.RetentionDays)
	} else {
		logger.Infof("  Event Retention: disabled (no automatic pruning)")
	}
	if cfg.SonarrAPIKey == "" {
		logger.Warnf("  Sonarr API key not set - import notifications will fail until configured")
	}

	// Initialize Database
	logger.Infof("Initializing database: %s", cfg.DatabasePath)
	repo, err := db.NewRepository(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	logger.Infof("✓ Database initialized successfully")

	// Create a database backup on startup
	if backupPath, err := repo.Backup(cfg.DatabasePath); err != nil {
		logger.Errorf("Failed to create startup backup: %v", err)
	} else {
		logger.Infof("✓ Database backup created: %s", backupPath)
	}

	// Start scheduled backup goroutine (every 6 hours)
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := repo.Backup(cfg.DatabasePath); err != nil {
				logger.Errorf("Scheduled backup failed: %v", err)
			}
		}
	}()

	// Start scheduled event pruning goroutine (daily at 3 AM local time)
	go func() {
		retentionDays := cfg.RetentionDays
		for {
			now := time.Now()
			next3AM := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
			if now.After(next3AM) {
				next3AM = next3AM.Add(24 * time.Hour)
			}
			sleepDuration := next3AM.Sub(now)
			logger.Debugf("Next event pruning scheduled in %v", sleepDuration)

			time.Sleep(sleepDuration)

			if err := repo.PruneOldEvents(retentionDays); err != nil {
				logger.Errorf("Scheduled event pruning failed: %v", err)
			}
		}
	}()

	// Initialize Event Bus
	logger.Infof("Initializing Event Bus...")
	eb := eventbus.NewEventBus(repo.DB)
	logger.Infof("✓ Event Bus initialized")

	clk := clock.NewRealClock()

	// Seedr OAuth device-flow token manager
	logger.Infof("Initializing Seedr authentication...")
	tokens := auth.NewTokenManager(repo.DB, clk)
	if tokens.IsAuthenticated() {
		logger.Infof("✓ Seedr token loaded from database")
	} else {
		logger.Infof("⚠ Not authenticated with Seedr yet (start the device flow via /api/auth/login)")
	}

	// Web session manager (optional username/password gate for the API)
	sessions := auth.NewSessionManager(repo.DB)
	if sessions.CredentialsConfigured() {
		logger.Infof("✓ Web session credentials configured")
	} else {
		logger.Infof("⚠ No web credentials set - API is open until /api/session/setup is called")
	}

	// Remote gateways share one circuit breaker registry
	breakers := integration.NewCircuitBreakerRegistry(integration.DefaultCircuitBreakerConfig())

	logger.Infof("Initializing Seedr client...")
	seedrClient := integration.NewSeedrClient(tokens, breakers, clk)
	logger.Infof("✓ Seedr client initialized")

	logger.Infof("Initializing Sonarr client...")
	sonarrClient, err := integration.NewSonarrClient(breakers, clk)
	if err != nil {
		logger.Errorf("Failed to initialize Sonarr client: %v", err)
		os.Exit(1)
	}
	logger.Infof("✓ Sonarr client initialized")

	// Initialize Services
	logger.Infof("Initializing core services...")
	store := ledger.NewStore(repo.DB)
	logger.Infof("✓ Download Ledger (title-keyed download tracking)")

	reconciler := services.NewStatusReconciler(seedrClient)
	logger.Infof("✓ Status Reconciler (active task vs. finished folder)")

	pipeline := services.NewCompletionPipeline(store, seedrClient, reconciler, eb, cfg.DownloadDir)
	logger.Infof("✓ Completion Pipeline (fetch files, hand off to Sonarr)")

	downloads := services.NewDownloadService(store, seedrClient, sonarrClient, reconciler, pipeline, eb, cfg.DownloadDir)
	logger.Infof("✓ Download Service (submit, track, pause/resume/delete)")

	scheduler, err := services.NewSchedulerService(downloads, cfg.PollSchedule)
	if err != nil {
		logger.Errorf("Invalid poll schedule %q: %v", cfg.PollSchedule, err)
		os.Exit(1)
	}
	logger.Infof("✓ Scheduler Service (cron-based reconcile sweep)")

	watcher := services.NewTorrentWatcher(downloads, eb, cfg.WatchDir, cfg.ProcessedDir, cfg.ErrorDir)
	logger.Infof("✓ Torrent Watcher (%s)", cfg.WatchDir)

	// Initialize Notifier Service
	logger.Infof("Initializing Notification Service...")
	notifierService := notifier.NewNotifier(repo.DB, eb)
	if err := notifierService.Start(); err != nil {
		logger.Errorf("Failed to start notification service: %v", err)
		// Non-fatal - continue without notifications
	} else {
		logger.Infof("✓ Notification Service (alerts for download events)")
	}

	// Initialize Metrics Service (Prometheus metrics)
	logger.Infof("Initializing Metrics Service...")
	metricsService := metrics.NewMetricsService(eb)
	metricsService.Start()
	logger.Infof("✓ Metrics Service (Prometheus endpoint at /metrics)")

	// Start background services
	logger.Infof("Starting background services...")
	if err := scheduler.Start(); err != nil {
		logger.Errorf("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	if err := watcher.Start(); err != nil {
		logger.Errorf("Failed to start torrent watcher: %v", err)
		// Non-fatal - the watch directory may be on storage that is not
		// mounted yet; it can be started later via /api/watcher/start
	}
	logger.Infof("✓ All background services started")

	// Start API Server
	logger.Infof("Initializing REST API and WebSocket server...")
	apiServer := api.NewRESTServer(api.ServerDeps{
		DB:        repo.DB,
		EventBus:  eb,
		Downloads: downloads,
		Watcher:   watcher,
		Tokens:    tokens,
		Sessions:  sessions,
		Seedr:     seedrClient,
		Sonarr:    sonarrClient,
		Notifier:  notifierService,
		Metrics:   metricsService,
	})
	go func() {
		addr := ":" + cfg.Port
		if err := apiServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Failed to start API server: %v", err)
			os.Exit(1)
		}
	}()

	logger.Infof("========================================")
	logger.Infof("✓ Seedrarr %s started successfully", config.Version)
	logger.Infof("✓ Server listening on port %s", cfg.Port)
	logger.Infof("========================================")

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Infof("========================================")
	logger.Infof("Received signal %v, initiating graceful shutdown...", sig)
	logger.Infof("========================================")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown in reverse order of startup
	logger.Infof("Stopping Scheduler Service...")
	scheduler.Stop()
	logger.Infof("✓ Scheduler Service stopped")

	logger.Infof("Stopping Torrent Watcher...")
	watcher.Stop()
	logger.Infof("✓ Torrent Watcher stopped")

	logger.Infof("Stopping Notification Service...")
	notifierService.Stop()
	logger.Infof("✓ Notification Service stopped")

	logger.Infof("Stopping API Server...")
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API Server shutdown error: %v", err)
	} else {
		logger.Infof("✓ API Server stopped")
	}

	logger.Infof("Stopping Event Bus...")
	eb.Shutdown()
	logger.Infof("✓ Event Bus stopped")

	logger.Infof("Closing database connection...")
	if err := repo.GracefulClose(); err != nil {
		logger.Errorf("Failed to close database connection: %v", err)
	} else {
		logger.Infof("✓ Database connection closed")
	}

	logger.Infof("========================================")
	logger.Infof("✓ Seedrarr shutdown complete")
	logger.Infof("========================================")
}
