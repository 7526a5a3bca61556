package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Version is set at build time via -ldflags
// Default "dev" is used for development builds
var Version = "dev"

// DefaultSeedrClientID is the public OAuth device-flow client id used when
// SEEDRARR_SEEDR_CLIENT_ID is not set. Device-flow client ids are not secrets.
const DefaultSeedrClientID = "EKp43IJEBXiGjaRg6cd7F17R3z3zv6VL"

// Config holds all application configuration loaded from environment variables.
// All fields have sensible defaults if environment variables are not set.
type Config struct {
	// Port is the HTTP server listen port (default: 3091)
	Port string

	// LogLevel controls logging verbosity: "debug", "info", "warn", "error" (default: "info")
	LogLevel string

	// DataDir is the directory for persistent data (database, logs, pid file)
	// Default: /config in Docker, ./config locally
	DataDir string

	// DatabasePath is the SQLite database file path (default: <DataDir>/seedrarr.db)
	DatabasePath string

	// LogDir is the directory for log files (default: <DataDir>/logs)
	LogDir string

	// SeedrAPIBaseURL is the Seedr API endpoint (default: https://v2.seedr.cc)
	SeedrAPIBaseURL string

	// SeedrClientID is the OAuth device-flow client id for Seedr
	SeedrClientID string

	// SonarrHost is the Sonarr base URL (default: http://localhost:8989)
	SonarrHost string

	// SonarrAPIKey authenticates against the Sonarr v3 API
	SonarrAPIKey string

	// DownloadDir is where completed files are placed for Sonarr to import
	// (default: <DataDir>/completed)
	DownloadDir string

	// WatchDir is monitored for dropped .torrent/.magnet files
	// (default: <DataDir>/torrents)
	WatchDir string

	// ProcessedDir receives watch-dir files after a successful submit
	// (default: <DataDir>/processed)
	ProcessedDir string

	// ErrorDir receives watch-dir files that failed to submit
	// (default: <DataDir>/error)
	ErrorDir string

	// PollInterval is how often the watcher checks ledger entries for
	// completed downloads (default: 30s)
	PollInterval time.Duration

	// PollSchedule is the cron expression for the background reconcile sweep
	// across all ledger entries (default: every 2 minutes)
	PollSchedule string

	// SeedrTimeout is the HTTP timeout for Seedr read calls (default: 10s)
	SeedrTimeout time.Duration

	// SeedrSubmitTimeout is the HTTP timeout for torrent submission (default: 30s)
	SeedrSubmitTimeout time.Duration

	// SeedrRateLimitRPS is the maximum requests per second to the Seedr API (default: 5)
	SeedrRateLimitRPS float64

	// SeedrRateLimitBurst is the burst size for Seedr API rate limiting (default: 10)
	SeedrRateLimitBurst int

	// RetentionDays is the number of days to keep old lifecycle events (default: 90)
	// Set to 0 to disable automatic pruning
	RetentionDays int
}

// Global singleton
var cfg *Config

// Load reads configuration from environment variables with sensible defaults.
// Should be called once at application startup.
func Load() *Config {
	// Determine DataDir - this is where all persistent data lives
	dataDir := getEnvOrDefault("SEEDRARR_DATA_DIR", "")
	if dataDir == "" {
		// Check if we're in Docker (has /config directory)
		if info, err := os.Stat("/config"); err == nil && info.IsDir() {
			dataDir = "/config"
		} else if cwd, err := os.Getwd(); err == nil {
			dataDir = filepath.Join(cwd, "config")
		} else {
			dataDir = "./config"
		}
	}
	if absDataDir, err := filepath.Abs(dataDir); err == nil {
		dataDir = absDataDir
	}
	os.MkdirAll(dataDir, 0755)

	dbPath := getEnvOrDefault("SEEDRARR_DATABASE_PATH", "")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "seedrarr.db")
	}

	logDir := filepath.Join(dataDir, "logs")
	os.MkdirAll(logDir, 0755)

	cfg = &Config{
		Port:                getEnvOrDefault("SEEDRARR_PORT", "3091"),
		LogLevel:            strings.ToLower(getEnvOrDefault("SEEDRARR_LOG_LEVEL", "info")),
		DataDir:             dataDir,
		DatabasePath:        dbPath,
		LogDir:              logDir,
		SeedrAPIBaseURL:     strings.TrimSuffix(getEnvOrDefault("SEEDRARR_SEEDR_API_BASE_URL", "https://v2.seedr.cc"), "/"),
		SeedrClientID:       getEnvOrDefault("SEEDRARR_SEEDR_CLIENT_ID", DefaultSeedrClientID),
		SonarrHost:          strings.TrimSuffix(getEnvOrDefault("SEEDRARR_SONARR_HOST", "http://localhost:8989"), "/"),
		SonarrAPIKey:        getEnvOrDefault("SEEDRARR_SONARR_API_KEY", ""),
		DownloadDir:         getEnvOrDefault("SEEDRARR_DOWNLOAD_DIR", filepath.Join(dataDir, "completed")),
		WatchDir:            getEnvOrDefault("SEEDRARR_WATCH_DIR", filepath.Join(dataDir, "torrents")),
		ProcessedDir:        getEnvOrDefault("SEEDRARR_PROCESSED_DIR", filepath.Join(dataDir, "processed")),
		ErrorDir:            getEnvOrDefault("SEEDRARR_ERROR_DIR", filepath.Join(dataDir, "error")),
		PollInterval:        getEnvDurationOrDefault("SEEDRARR_POLL_INTERVAL", 30*time.Second),
		PollSchedule:        getEnvOrDefault("SEEDRARR_POLL_SCHEDULE", "*/2 * * * *"),
		SeedrTimeout:        getEnvDurationOrDefault("SEEDRARR_SEEDR_TIMEOUT", 10*time.Second),
		SeedrSubmitTimeout:  getEnvDurationOrDefault("SEEDRARR_SEEDR_SUBMIT_TIMEOUT", 30*time.Second),
		SeedrRateLimitRPS:   getEnvFloatOrDefault("SEEDRARR_SEEDR_RATE_LIMIT_RPS", 5.0),
		SeedrRateLimitBurst: getEnvIntOrDefault("SEEDRARR_SEEDR_RATE_LIMIT_BURST", 10),
		RetentionDays:       getEnvIntOrDefault("SEEDRARR_RETENTION_DAYS", 90),
	}

	// Validate log level
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		cfg.LogLevel = "info" // Fall back to info for invalid values
	}

	return cfg
}

// Get returns the current configuration. Panics if Load() hasn't been called.
func Get() *Config {
	if cfg == nil {
		panic("config.Load() must be called before config.Get()")
	}
	return cfg
}

// SetForTesting allows tests to set the global config without calling Load().
// This should ONLY be used in test code.
func SetForTesting(c *Config) {
	cfg = c
}

// NewTestConfig returns a minimal Config suitable for unit tests.
func NewTestConfig() *Config {
	return &Config{
		Port:                "8080",
		LogLevel:            "debug",
		DataDir:             os.TempDir(),
		DatabasePath:        filepath.Join(os.TempDir(), "seedrarr-test.db"),
		LogDir:              filepath.Join(os.TempDir(), "seedrarr-test-logs"),
		SeedrAPIBaseURL:     "https://v2.seedr.cc",
		SeedrClientID:       "test-client-id",
		SonarrHost:          "http://localhost:8989",
		SonarrAPIKey:        "test-api-key",
		DownloadDir:         filepath.Join(os.TempDir(), "seedrarr-test-completed"),
		WatchDir:            filepath.Join(os.TempDir(), "seedrarr-test-torrents"),
		ProcessedDir:        filepath.Join(os.TempDir(), "seedrarr-test-processed"),
		ErrorDir:            filepath.Join(os.TempDir(), "seedrarr-test-error"),
		PollInterval:        30 * time.Second,
		PollSchedule:        "*/2 * * * *",
		SeedrTimeout:        10 * time.Second,
		SeedrSubmitTimeout:  30 * time.Second,
		SeedrRateLimitRPS:   5,
		SeedrRateLimitBurst: 10,
		RetentionDays:       90,
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable as an int or the default if not set/invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable as a duration or the default if not set/invalid.
// Accepts Go duration strings like "30s", "5m", "72h".
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvFloatOrDefault returns the environment variable as a float64 or the default if not set/invalid.
func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FlagOverrides holds command-line flag values that can override environment variables
type FlagOverrides struct {
	Port         *string
	LogLevel     *string
	DataDir      *string
	DatabasePath *string
	DownloadDir  *string
	WatchDir     *string
	SonarrHost   *string
	SonarrAPIKey *string
	PollInterval *time.Duration
	PollSchedule *string
}

// ApplyFlags overrides configuration values with non-empty command-line flags.
// Must be called after Load().
func ApplyFlags(flags FlagOverrides) {
	if cfg == nil {
		return
	}

	if flags.Port != nil && *flags.Port != "" {
		cfg.Port = *flags.Port
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(*flags.LogLevel)
	}
	if flags.DataDir != nil && *flags.DataDir != "" {
		if abs, err := filepath.Abs(*flags.DataDir); err == nil {
			cfg.DataDir = abs
		} else {
			cfg.DataDir = *flags.DataDir
		}
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "seedrarr.db")
		cfg.LogDir = filepath.Join(cfg.DataDir, "logs")
		os.MkdirAll(cfg.DataDir, 0755)
		os.MkdirAll(cfg.LogDir, 0755)
	}
	if flags.DatabasePath != nil && *flags.DatabasePath != "" {
		cfg.DatabasePath = *flags.DatabasePath
	}
	if flags.DownloadDir != nil && *flags.DownloadDir != "" {
		cfg.DownloadDir = *flags.DownloadDir
	}
	if flags.WatchDir != nil && *flags.WatchDir != "" {
		cfg.WatchDir = *flags.WatchDir
	}
	if flags.SonarrHost != nil && *flags.SonarrHost != "" {
		cfg.SonarrHost = strings.TrimSuffix(*flags.SonarrHost, "/")
	}
	if flags.SonarrAPIKey != nil && *flags.SonarrAPIKey != "" {
		cfg.SonarrAPIKey = *flags.SonarrAPIKey
	}
	if flags.PollInterval != nil && *flags.PollInterval > 0 {
		cfg.PollInterval = *flags.PollInterval
	}
	if flags.PollSchedule != nil && *flags.PollSchedule != "" {
		cfg.PollSchedule = *flags.PollSchedule
	}
}
