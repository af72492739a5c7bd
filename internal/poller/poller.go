// Package poller drives the refresh cycle: one goroutine, one timer, plus a
// buffered manual-trigger channel. The interval is re-read from the account
// options on every cycle, so a reconfiguration applies to the very next
// scheduling without a restart.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/micro-ha/qustodio-bridge/internal/coordinator"
	"github.com/micro-ha/qustodio-bridge/internal/model"
)

// unconfiguredInterval is how often the loop rechecks while the integration
// has no account options yet.
const unconfiguredInterval = 5 * time.Second

// Service runs one poll cycle.
type Service interface {
	PollOnce(ctx context.Context) error
}

// ConfigProvider exposes the current account options.
type ConfigProvider interface {
	Get() (model.AccountOptions, bool)
}

type Poller struct {
	service   Service
	config    ConfigProvider
	refreshCh chan struct{}
	logger    *slog.Logger

	fallback time.Duration
}

func New(svc Service, cfg ConfigProvider, logger *slog.Logger) *Poller {
	return &Poller{
		service:   svc,
		config:    cfg,
		refreshCh: make(chan struct{}, 1),
		logger:    logger,
		fallback:  unconfiguredInterval,
	}
}

// TriggerRefresh requests an immediate poll. Non-blocking; a trigger that
// arrives while one is already pending is dropped.
func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(p.nextInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
		case <-timer.C:
		}
		if err := p.service.PollOnce(ctx); err != nil {
			if errors.Is(err, coordinator.ErrNotConfigured) {
				p.logger.Debug("poll skipped; integration not configured")
				continue
			}
			p.logger.Error("poll failed", "err", err)
		}
	}
}

// nextInterval is the wait before the next scheduled poll, read fresh from
// the account options each cycle.
func (p *Poller) nextInterval() time.Duration {
	if opts, ok := p.config.Get(); ok {
		return opts.PollInterval()
	}
	return p.fallback
}
