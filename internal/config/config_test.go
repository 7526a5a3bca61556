package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setEnv sets an environment variable for the duration of a test.
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	dataDir := t.TempDir()
	setEnv(t, "SEEDRARR_DATA_DIR", dataDir)

	c := Load()

	if c.Port != "3091" {
		t.Errorf("Port = %q, want 3091", c.Port)
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", c.LogLevel)
	}
	if c.SeedrAPIBaseURL != "https://v2.seedr.cc" {
		t.Errorf("SeedrAPIBaseURL = %q", c.SeedrAPIBaseURL)
	}
	if c.DatabasePath != filepath.Join(dataDir, "seedrarr.db") {
		t.Errorf("DatabasePath = %q", c.DatabasePath)
	}
	if c.DownloadDir != filepath.Join(dataDir, "completed") {
		t.Errorf("DownloadDir = %q", c.DownloadDir)
	}
	if c.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", c.PollInterval)
	}
	if c.SeedrTimeout != 10*time.Second || c.SeedrSubmitTimeout != 30*time.Second {
		t.Errorf("timeouts = %v/%v, want 10s/30s", c.SeedrTimeout, c.SeedrSubmitTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setEnv(t, "SEEDRARR_DATA_DIR", t.TempDir())
	setEnv(t, "SEEDRARR_PORT", "9999")
	setEnv(t, "SEEDRARR_LOG_LEVEL", "DEBUG")
	setEnv(t, "SEEDRARR_SEEDR_API_BASE_URL", "https://example.test/")
	setEnv(t, "SEEDRARR_SONARR_HOST", "http://sonarr:8989/")
	setEnv(t, "SEEDRARR_POLL_INTERVAL", "1m")

	c := Load()

	if c.Port != "9999" {
		t.Errorf("Port = %q, want 9999", c.Port)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug (lowercased)", c.LogLevel)
	}
	if c.SeedrAPIBaseURL != "https://example.test" {
		t.Errorf("SeedrAPIBaseURL = %q, trailing slash should be stripped", c.SeedrAPIBaseURL)
	}
	if c.SonarrHost != "http://sonarr:8989" {
		t.Errorf("SonarrHost = %q, trailing slash should be stripped", c.SonarrHost)
	}
	if c.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v, want 1m", c.PollInterval)
	}
}

func TestLoad_InvalidLogLevelFallsBack(t *testing.T) {
	setEnv(t, "SEEDRARR_DATA_DIR", t.TempDir())
	setEnv(t, "SEEDRARR_LOG_LEVEL", "verbose")

	c := Load()
	if c.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info fallback", c.LogLevel)
	}
}

func TestApplyFlags(t *testing.T) {
	setEnv(t, "SEEDRARR_DATA_DIR", t.TempDir())
	Load()

	port := "4000"
	watch := "/tmp/watch"
	interval := 45 * time.Second
	empty := ""

	ApplyFlags(FlagOverrides{
		Port:         &port,
		WatchDir:     &watch,
		PollInterval: &interval,
		SonarrHost:   &empty, // empty flags must not override
	})

	c := Get()
	if c.Port != "4000" {
		t.Errorf("Port = %q, want 4000", c.Port)
	}
	if c.WatchDir != "/tmp/watch" {
		t.Errorf("WatchDir = %q, want /tmp/watch", c.WatchDir)
	}
	if c.PollInterval != 45*time.Second {
		t.Errorf("PollInterval = %v, want 45s", c.PollInterval)
	}
	if c.SonarrHost != "http://localhost:8989" {
		t.Errorf("SonarrHost = %q, empty flag should not override", c.SonarrHost)
	}
}
