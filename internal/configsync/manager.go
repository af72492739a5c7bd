package configsync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/micro-ha/qustodio-bridge/internal/model"
)

// Manager caches the latest host-side account options for concurrent readers.
type Manager struct {
	client *Client
	logger *slog.Logger

	mu         sync.RWMutex
	configured bool
	options    model.AccountOptions
}

func NewManager(client *Client, logger *slog.Logger) *Manager {
	return &Manager{client: client, logger: logger}
}

// Refresh pulls the current options and reports whether they differ from the
// cached ones.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	res, err := m.client.FetchOptions(ctx)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !res.Configured {
		changed := m.configured
		m.configured = false
		m.options = model.AccountOptions{}
		if changed {
			m.logger.Info("account options removed, integration unconfigured")
		}
		return changed, nil
	}

	changed := !m.configured || res.Options != m.options
	m.configured = true
	m.options = res.Options
	if changed {
		m.logger.Info("account options updated",
			"update_interval_min", res.Options.UpdateIntervalMinutes,
			"gps_tracking", res.Options.EnableGPSTracking,
			"app_usage_cache_min", res.Options.AppUsageCacheMinutes,
		)
	}
	return changed, nil
}

// Get returns the cached options. ok is false while unconfigured.
func (m *Manager) Get() (model.AccountOptions, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.configured {
		return model.AccountOptions{}, false
	}
	return m.options, true
}
