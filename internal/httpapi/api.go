// Package httpapi serves the host-facing surface behind HA ingress: the
// latest snapshot, statistics, notices, diagnostics, manual refresh and
// re-authentication, plus Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/micro-ha/qustodio-bridge/internal/diagnostics"
	"github.com/micro-ha/qustodio-bridge/internal/model"
	"github.com/micro-ha/qustodio-bridge/internal/qustodio"
)

// Coordinator is the poll-cycle surface the handlers read from.
type Coordinator interface {
	Snapshot() *model.Snapshot
	Statistics() model.Statistics
	Notices() []model.Notice
	NeedsReauth() bool
	Reauthenticate(ctx context.Context, email, password string) error
}

// Poller triggers an asynchronous refresh.
type Poller interface {
	TriggerRefresh()
}

// ConfigProvider exposes current account options status.
type ConfigProvider interface {
	Get() (model.AccountOptions, bool)
}

// API groups HTTP handlers and dependencies.
type API struct {
	coordinator Coordinator
	poller      Poller
	config      ConfigProvider
	logger      *slog.Logger
	retry       diagnostics.RetryInfo
}

func New(coord Coordinator, p Poller, cfg ConfigProvider, logger *slog.Logger, retry diagnostics.RetryInfo) *API {
	return &API{coordinator: coord, poller: p, config: cfg, logger: logger, retry: retry}
}

// Logger returns the request logger used by HTTP middleware.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON)
	r.Use(middleware.Timeout(20 * time.Second))
	r.Use(StripIngressPrefix)
	r.Use(RequestLogger(a))

	r.Get("/healthz", a.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/api", func(api chi.Router) {
		api.Get("/snapshot", a.getSnapshot)
		api.Get("/profiles", a.listProfiles)
		api.Get("/profiles/{id}", a.getProfile)
		api.Get("/devices", a.listDevices)
		api.Get("/statistics", a.getStatistics)
		api.Get("/notices", a.listNotices)
		api.Get("/status", a.getStatus)
		api.Get("/diagnostics", a.getDiagnostics)
		api.Post("/refresh", a.refresh)
		api.Post("/reauth", a.reauth)
	})
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	_, configured := a.config.Get()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "configured": configured})
}

// snapshotOr404 resolves the shared precondition of the read endpoints:
// 409 while unconfigured, 404 before the first successful poll.
func (a *API) snapshotOr404(w http.ResponseWriter) (*model.Snapshot, bool) {
	if _, ok := a.config.Get(); !ok {
		writeError(w, http.StatusConflict, "not_configured", "Integration not configured")
		return nil, false
	}
	snapshot := a.coordinator.Snapshot()
	if snapshot == nil {
		writeError(w, http.StatusNotFound, "no_snapshot", "No successful poll yet")
		return nil, false
	}
	return snapshot, true
}

func (a *API) getSnapshot(w http.ResponseWriter, _ *http.Request) {
	snapshot, ok := a.snapshotOr404(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) listProfiles(w http.ResponseWriter, _ *http.Request) {
	snapshot, ok := a.snapshotOr404(w)
	if !ok {
		return
	}
	items := make([]model.ProfileRecord, 0, len(snapshot.Profiles))
	for _, profile := range snapshot.Profiles {
		items = append(items, profile)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "fetched_at": snapshot.FetchedAt})
}

func (a *API) getProfile(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := a.snapshotOr404(w)
	if !ok {
		return
	}
	profile, ok := snapshot.Profiles[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Profile not found")
		return
	}
	response := map[string]any{"profile": profile, "devices": snapshot.ProfileDevices(profile.ID)}
	if usage, ok := snapshot.AppUsage[profile.ID]; ok {
		response["app_usage"] = usage
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) listDevices(w http.ResponseWriter, _ *http.Request) {
	snapshot, ok := a.snapshotOr404(w)
	if !ok {
		return
	}
	items := make([]model.DeviceRecord, 0, len(snapshot.Devices))
	for _, device := range snapshot.Devices {
		items = append(items, device)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "fetched_at": snapshot.FetchedAt})
}

func (a *API) getStatistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.coordinator.Statistics())
}

func (a *API) listNotices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.coordinator.Notices()})
}

func (a *API) getStatus(w http.ResponseWriter, _ *http.Request) {
	_, configured := a.config.Get()
	stats := a.coordinator.Statistics()
	writeJSON(w, http.StatusOK, map[string]any{
		"configured":           configured,
		"needs_reauth":         a.coordinator.NeedsReauth(),
		"has_snapshot":         a.coordinator.Snapshot() != nil,
		"last_update_time":     stats.LastUpdateTime,
		"last_success_time":    stats.LastSuccessTime,
		"consecutive_failures": stats.ConsecutiveFailures,
		"last_error":           stats.LastError,
	})
}

func (a *API) getDiagnostics(w http.ResponseWriter, _ *http.Request) {
	options, configured := a.config.Get()
	report := diagnostics.Build(diagnostics.Input{
		Options:     options,
		Configured:  configured,
		Statistics:  a.coordinator.Statistics(),
		Notices:     a.coordinator.Notices(),
		NeedsReauth: a.coordinator.NeedsReauth(),
		Snapshot:    a.coordinator.Snapshot(),
		Retry:       a.retry,
	})
	writeJSON(w, http.StatusOK, report)
}

func (a *API) refresh(w http.ResponseWriter, _ *http.Request) {
	a.poller.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

type reauthInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) reauth(w http.ResponseWriter, r *http.Request) {
	var payload reauthInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if payload.Email == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials", "email and password are required")
		return
	}
	if err := a.coordinator.Reauthenticate(r.Context(), payload.Email, payload.Password); err != nil {
		var authErr *qustodio.AuthError
		if errors.As(err, &authErr) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", authErr.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "reauth_failed", err.Error())
		return
	}
	a.poller.TriggerRefresh()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
