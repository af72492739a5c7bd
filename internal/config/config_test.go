package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// pinEnv clears every settings-related variable so ambient process env
// cannot bleed into a test, and points CONFIG_PATH at a missing file.
func pinEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HTTP_ADDR", "HA_BASE_URL", "SUPERVISOR_TOKEN", "LOG_LEVEL",
		"OPTIONS_REFRESH_INTERVAL", "QUSTODIO_BASE_URL", "QUSTODIO_MAX_ATTEMPTS",
		"QUSTODIO_BASE_DELAY", "QUSTODIO_MAX_DELAY", "QUSTODIO_ATTEMPT_TIMEOUT",
		"QUSTODIO_REQUESTS_PER_SECOND", "QUSTODIO_BURST", "NOTIFICATIONS_ENABLED",
	} {
		t.Setenv(key, "")
	}
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
}

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	pinEnv(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if s.HTTPAddr != ":8099" {
		t.Errorf("HTTPAddr = %q, want :8099", s.HTTPAddr)
	}
	if s.HABaseURL != "http://supervisor/core" {
		t.Errorf("HABaseURL = %q", s.HABaseURL)
	}
	if s.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", s.LogLevel)
	}
	if s.OptionsRefreshInterval != 20*time.Second {
		t.Errorf("OptionsRefreshInterval = %v, want 20s", s.OptionsRefreshInterval)
	}
	if s.Qustodio.BaseURL != "https://api.qustodio.com" {
		t.Errorf("Qustodio.BaseURL = %q", s.Qustodio.BaseURL)
	}
	if s.Qustodio.MaxAttempts != 3 || s.Qustodio.BaseDelay != time.Second || s.Qustodio.MaxDelay != 30*time.Second {
		t.Errorf("retry tuning = %d/%v/%v, want 3/1s/30s",
			s.Qustodio.MaxAttempts, s.Qustodio.BaseDelay, s.Qustodio.MaxDelay)
	}
	if s.Qustodio.AttemptTimeout != 15*time.Second {
		t.Errorf("AttemptTimeout = %v, want 15s", s.Qustodio.AttemptTimeout)
	}
	if s.Qustodio.RequestsPerSecond != 5 || s.Qustodio.Burst != 5 {
		t.Errorf("pacing = %v/%d, want 5/5", s.Qustodio.RequestsPerSecond, s.Qustodio.Burst)
	}
	if !s.Notifications.Enabled {
		t.Error("Notifications.Enabled = false, want true")
	}
}

func TestLoadFromFile(t *testing.T) {
	pinEnv(t)
	path := writeSettingsFile(t, `
http_addr: ":9100"
log_level: debug
qustodio:
  max_attempts: 5
  base_delay: 2s
`)
	t.Setenv(ConfigPathEnvVar, path)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if s.HTTPAddr != ":9100" {
		t.Errorf("HTTPAddr = %q, want file value", s.HTTPAddr)
	}
	if s.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", s.LogLevel)
	}
	if s.Qustodio.MaxAttempts != 5 || s.Qustodio.BaseDelay != 2*time.Second {
		t.Errorf("retry tuning = %d/%v, want 5/2s", s.Qustodio.MaxAttempts, s.Qustodio.BaseDelay)
	}
	if s.Qustodio.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want untouched default 30s", s.Qustodio.MaxDelay)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	pinEnv(t)
	path := writeSettingsFile(t, `
http_addr: ":9100"
log_level: debug
qustodio:
  max_attempts: 5
`)
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("QUSTODIO_MAX_ATTEMPTS", "7")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("OPTIONS_REFRESH_INTERVAL", "45s")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if s.Qustodio.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want env value 7", s.Qustodio.MaxAttempts)
	}
	if s.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want env value warn", s.LogLevel)
	}
	if s.OptionsRefreshInterval != 45*time.Second {
		t.Errorf("OptionsRefreshInterval = %v, want 45s", s.OptionsRefreshInterval)
	}
	if s.HTTPAddr != ":9100" {
		t.Errorf("HTTPAddr = %q, want file value kept", s.HTTPAddr)
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	pinEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want validation failure")
	} else if !strings.Contains(err.Error(), "invalid settings") {
		t.Fatalf("Load() error = %v, want validation failure", err)
	}
}

func TestLoadRejectsZeroAttempts(t *testing.T) {
	pinEnv(t)
	t.Setenv("QUSTODIO_MAX_ATTEMPTS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want validation failure")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	pinEnv(t)
	path := writeSettingsFile(t, "http_addr: [broken")
	t.Setenv(ConfigPathEnvVar, path)

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want parse failure")
	}
}
