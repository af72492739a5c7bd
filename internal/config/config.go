// Package config loads the process settings. Per-account options live on the
// HA side and are synced separately (internal/configsync).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the settings file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultSettingsPaths are searched in order; the first existing file wins.
var defaultSettingsPaths = []string{
	"config.yaml",
	"/data/config.yaml",
	"/etc/qustodio-bridge/config.yaml",
}

// Settings is the full process configuration.
type Settings struct {
	HTTPAddr               string        `koanf:"http_addr" validate:"required"`
	HABaseURL              string        `koanf:"ha_base_url" validate:"required,url"`
	SupervisorToken        string        `koanf:"supervisor_token"`
	LogLevel               string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	OptionsRefreshInterval time.Duration `koanf:"options_refresh_interval" validate:"gte=5s"`

	Qustodio      QustodioSettings     `koanf:"qustodio"`
	Notifications NotificationSettings `koanf:"notifications"`
}

// QustodioSettings tunes the cloud API client: retry budget, per-attempt
// timeout and outbound pacing.
type QustodioSettings struct {
	BaseURL           string        `koanf:"base_url" validate:"required,url"`
	MaxAttempts       int           `koanf:"max_attempts" validate:"min=1,max=10"`
	BaseDelay         time.Duration `koanf:"base_delay" validate:"gt=0"`
	MaxDelay          time.Duration `koanf:"max_delay" validate:"gtefield=BaseDelay"`
	AttemptTimeout    time.Duration `koanf:"attempt_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int           `koanf:"burst" validate:"min=1"`
}

type NotificationSettings struct {
	Enabled bool `koanf:"enabled"`
}

func defaultSettings() *Settings {
	return &Settings{
		HTTPAddr:               ":8099",
		HABaseURL:              "http://supervisor/core",
		LogLevel:               "info",
		OptionsRefreshInterval: 20 * time.Second,
		Qustodio: QustodioSettings{
			BaseURL:           "https://api.qustodio.com",
			MaxAttempts:       3,
			BaseDelay:         time.Second,
			MaxDelay:          30 * time.Second,
			AttemptTimeout:    15 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Notifications: NotificationSettings{Enabled: true},
	}
}

// Load layers defaults, an optional YAML file and environment variables, then
// validates the result. Precedence: env > file > defaults.
func Load() (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultSettings(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findSettingsFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading settings file %s: %w", path, err)
		}
	}

	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		path := envToPath(key)
		if path == "" || strings.TrimSpace(value) == "" {
			return "", nil
		}
		return path, strings.TrimSpace(value)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	settings := &Settings{}
	if err := k.Unmarshal("", settings); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}
	if err := validator.New().Struct(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

func findSettingsFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		return ""
	}
	for _, path := range defaultSettingsPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envToPath maps known environment variables onto settings paths. Unmapped
// variables are ignored so stray process env cannot leak into the settings.
func envToPath(key string) string {
	mappings := map[string]string{
		"HTTP_ADDR":                "http_addr",
		"HA_BASE_URL":              "ha_base_url",
		"SUPERVISOR_TOKEN":         "supervisor_token",
		"LOG_LEVEL":                "log_level",
		"OPTIONS_REFRESH_INTERVAL": "options_refresh_interval",

		"QUSTODIO_BASE_URL":            "qustodio.base_url",
		"QUSTODIO_MAX_ATTEMPTS":        "qustodio.max_attempts",
		"QUSTODIO_BASE_DELAY":          "qustodio.base_delay",
		"QUSTODIO_MAX_DELAY":           "qustodio.max_delay",
		"QUSTODIO_ATTEMPT_TIMEOUT":     "qustodio.attempt_timeout",
		"QUSTODIO_REQUESTS_PER_SECOND": "qustodio.requests_per_second",
		"QUSTODIO_BURST":               "qustodio.burst",

		"NOTIFICATIONS_ENABLED": "notifications.enabled",
	}
	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return ""
}
