package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/micro-ha/qustodio-bridge/internal/config"
	"github.com/micro-ha/qustodio-bridge/internal/configsync"
	"github.com/micro-ha/qustodio-bridge/internal/coordinator"
	"github.com/micro-ha/qustodio-bridge/internal/diagnostics"
	"github.com/micro-ha/qustodio-bridge/internal/httpapi"
	"github.com/micro-ha/qustodio-bridge/internal/logging"
	"github.com/micro-ha/qustodio-bridge/internal/notify"
	"github.com/micro-ha/qustodio-bridge/internal/poller"
	"github.com/micro-ha/qustodio-bridge/internal/qustodio"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	settings, err := config.Load()
	if err != nil {
		slog.Error("failed to load settings", "err", err)
		os.Exit(1)
	}
	logger := logging.New(logging.ParseLevel(settings.LogLevel))

	supervisorToken := settings.SupervisorToken
	if supervisorToken == "" {
		supervisorToken = os.Getenv("SUPERVISOR_TOKEN")
	}

	cfgClient := configsync.NewClient(settings.HABaseURL, supervisorToken)
	cfgManager := configsync.NewManager(cfgClient, logger)
	if _, err := cfgManager.Refresh(ctx); err != nil {
		logger.Warn("initial config refresh failed", "err", err)
	}

	apiClient := qustodio.NewClient(qustodio.Config{
		BaseURL: settings.Qustodio.BaseURL,
		Retry: qustodio.RetryPolicy{
			MaxAttempts:    settings.Qustodio.MaxAttempts,
			BaseDelay:      settings.Qustodio.BaseDelay,
			MaxDelay:       settings.Qustodio.MaxDelay,
			AttemptTimeout: settings.Qustodio.AttemptTimeout,
		},
		RequestsPerSecond: settings.Qustodio.RequestsPerSecond,
		Burst:             settings.Qustodio.Burst,
		Logger:            logger.With("component", "qustodio"),
	})
	defer apiClient.Close()

	var notifier notify.Notifier
	if settings.Notifications.Enabled && supervisorToken != "" {
		notifier = notify.NewHANotifier(settings.HABaseURL, supervisorToken)
	} else {
		if settings.Notifications.Enabled {
			logger.Warn("SUPERVISOR_TOKEN is empty; notices go to the log only")
		}
		notifier = notify.NewLogNotifier(logger)
	}

	coord := coordinator.New(apiClient, cfgManager, notifier, logger.With("component", "coordinator"))
	snapshotPoller := poller.New(coord, cfgManager, logger.With("component", "poller"))

	go runConfigFallbackRefresh(ctx, settings.OptionsRefreshInterval, cfgManager, snapshotPoller, logger)

	if supervisorToken != "" {
		watcher := configsync.NewWatcher(settings.HABaseURL, supervisorToken, logger.With("component", "configsync"))
		go watcher.Run(ctx, func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			changed, err := cfgManager.Refresh(refreshCtx)
			if err != nil {
				logger.Warn("config refresh from event failed", "err", err)
				return
			}
			if changed {
				snapshotPoller.TriggerRefresh()
			}
		})
	} else {
		logger.Warn("SUPERVISOR_TOKEN is empty; config sync watcher disabled")
	}

	go snapshotPoller.Run(ctx)
	snapshotPoller.TriggerRefresh()

	api := httpapi.New(coord, snapshotPoller, cfgManager, logger, diagnostics.RetryInfo{
		MaxAttempts:    settings.Qustodio.MaxAttempts,
		BaseDelay:      settings.Qustodio.BaseDelay,
		MaxDelay:       settings.Qustodio.MaxDelay,
		AttemptTimeout: settings.Qustodio.AttemptTimeout,
	})

	httpServer := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", httpServer.Addr)
	if err := httpapi.RunServer(ctx, httpServer, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func runConfigFallbackRefresh(ctx context.Context, interval time.Duration, cfg *configsync.Manager, p *poller.Poller, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			changed, err := cfg.Refresh(refreshCtx)
			cancel()
			if err != nil {
				logger.Warn("periodic config refresh failed", "err", err)
				continue
			}
			if changed {
				p.TriggerRefresh()
			}
		}
	}
}
