package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/micro-ha/qustodio-bridge/internal/diagnostics"
	"github.com/micro-ha/qustodio-bridge/internal/model"
	"github.com/micro-ha/qustodio-bridge/internal/qustodio"
)

type fakeCoordinator struct {
	snapshot    *model.Snapshot
	stats       model.Statistics
	notices     []model.Notice
	needsReauth bool
	reauthErr   error
	reauthCalls int
}

func (f *fakeCoordinator) Snapshot() *model.Snapshot    { return f.snapshot }
func (f *fakeCoordinator) Statistics() model.Statistics { return f.stats }
func (f *fakeCoordinator) Notices() []model.Notice      { return f.notices }
func (f *fakeCoordinator) NeedsReauth() bool            { return f.needsReauth }
func (f *fakeCoordinator) Reauthenticate(_ context.Context, _, _ string) error {
	f.reauthCalls++
	return f.reauthErr
}

type fakePoller struct {
	triggers int
}

func (f *fakePoller) TriggerRefresh() { f.triggers++ }

type fakeConfig struct {
	options    model.AccountOptions
	configured bool
}

func (f *fakeConfig) Get() (model.AccountOptions, bool) { return f.options, f.configured }

func testSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Profiles: map[string]model.ProfileRecord{
			"123": {ID: "123", UID: "uid-123", Name: "Alice", IsOnline: true, DeviceIDs: []string{"9001"}},
		},
		Devices: map[string]model.DeviceRecord{
			"9001": {ID: "9001", Name: "Family iPad"},
		},
		AppUsage: map[string]model.AppUsageRecord{
			"123": {ProfileID: "123", TotalMinutes: 42},
		},
		FetchedAt: time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
	}
}

func newTestAPI(coord *fakeCoordinator, p *fakePoller, configured bool) *API {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &fakeConfig{configured: configured}
	if configured {
		cfg.options = model.AccountOptions{Email: "parent@example.com", Password: "hunter2"}.Normalize()
	}
	retry := diagnostics.RetryInfo{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, AttemptTimeout: 15 * time.Second}
	return New(coord, p, cfg, logger, retry)
}

func doRequest(t *testing.T, api *API, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return payload
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	payload := decodeBody(t, rec)
	errObj, _ := payload["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	api := newTestAPI(&fakeCoordinator{}, &fakePoller{}, true)
	rec := doRequest(t, api, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["configured"] != true {
		t.Errorf("configured = %v", payload["configured"])
	}
}

func TestSnapshotStatusTransitions(t *testing.T) {
	coord := &fakeCoordinator{}

	rec := doRequest(t, newTestAPI(coord, &fakePoller{}, false), http.MethodGet, "/api/snapshot", "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "not_configured" {
		t.Errorf("unconfigured: status %d code %q", rec.Code, errorCode(t, rec))
	}

	api := newTestAPI(coord, &fakePoller{}, true)
	rec = doRequest(t, api, http.MethodGet, "/api/snapshot", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "no_snapshot" {
		t.Errorf("no snapshot: status %d code %q", rec.Code, errorCode(t, rec))
	}

	coord.snapshot = testSnapshot()
	rec = doRequest(t, api, http.MethodGet, "/api/snapshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("with snapshot: status %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	profiles, _ := payload["profiles"].(map[string]any)
	if len(profiles) != 1 {
		t.Errorf("profiles in response = %v", payload["profiles"])
	}
}

func TestGetProfile(t *testing.T) {
	coord := &fakeCoordinator{snapshot: testSnapshot()}
	api := newTestAPI(coord, &fakePoller{}, true)

	rec := doRequest(t, api, http.MethodGet, "/api/profiles/123", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	profile, _ := payload["profile"].(map[string]any)
	if profile["name"] != "Alice" {
		t.Errorf("profile = %v", payload["profile"])
	}
	devices, _ := payload["devices"].([]any)
	if len(devices) != 1 {
		t.Errorf("devices = %v", payload["devices"])
	}
	if _, ok := payload["app_usage"]; !ok {
		t.Error("app_usage missing from profile response")
	}

	rec = doRequest(t, api, http.MethodGet, "/api/profiles/999", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown profile status = %d", rec.Code)
	}
}

func TestStatusReportsReauth(t *testing.T) {
	coord := &fakeCoordinator{needsReauth: true, stats: model.Statistics{ConsecutiveFailures: 2, LastError: "auth failed"}}
	api := newTestAPI(coord, &fakePoller{}, true)

	rec := doRequest(t, api, http.MethodGet, "/api/status", "")
	payload := decodeBody(t, rec)
	if payload["needs_reauth"] != true {
		t.Errorf("needs_reauth = %v", payload["needs_reauth"])
	}
	if payload["has_snapshot"] != false {
		t.Errorf("has_snapshot = %v", payload["has_snapshot"])
	}
	if payload["last_error"] != "auth failed" {
		t.Errorf("last_error = %v", payload["last_error"])
	}
}

func TestRefreshTriggersPoller(t *testing.T) {
	p := &fakePoller{}
	api := newTestAPI(&fakeCoordinator{}, p, true)

	rec := doRequest(t, api, http.MethodPost, "/api/refresh", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if p.triggers != 1 {
		t.Errorf("triggers = %d, want 1", p.triggers)
	}
}

func TestReauth(t *testing.T) {
	coord := &fakeCoordinator{}
	p := &fakePoller{}
	api := newTestAPI(coord, p, true)

	rec := doRequest(t, api, http.MethodPost, "/api/reauth",
		`{"email":"parent@example.com","password":"new-secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if coord.reauthCalls != 1 {
		t.Errorf("reauth calls = %d", coord.reauthCalls)
	}
	if p.triggers != 1 {
		t.Errorf("triggers after reauth = %d, want 1", p.triggers)
	}

	rec = doRequest(t, api, http.MethodPost, "/api/reauth", `{"email":"parent@example.com"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing password status = %d", rec.Code)
	}

	coord.reauthErr = &qustodio.AuthError{Message: "invalid username or password"}
	rec = doRequest(t, api, http.MethodPost, "/api/reauth",
		`{"email":"parent@example.com","password":"still-wrong"}`)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_credentials" {
		t.Errorf("bad credentials: status %d code %q", rec.Code, errorCode(t, rec))
	}
}

func TestNotices(t *testing.T) {
	coord := &fakeCoordinator{notices: []model.Notice{{
		Category: model.CategoryConnection,
		Severity: "warning",
		Message:  "connection refused",
	}}}
	api := newTestAPI(coord, &fakePoller{}, true)

	rec := doRequest(t, api, http.MethodGet, "/api/notices", "")
	payload := decodeBody(t, rec)
	items, _ := payload["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", payload["items"])
	}
}

func TestDiagnosticsRedacted(t *testing.T) {
	coord := &fakeCoordinator{snapshot: testSnapshot()}
	api := newTestAPI(coord, &fakePoller{}, true)

	rec := doRequest(t, api, http.MethodGet, "/api/diagnostics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "parent@example.com") || strings.Contains(body, "hunter2") {
		t.Error("diagnostics leaked credentials")
	}
	if !strings.Contains(body, qustodio.RedactedPlaceholder) {
		t.Error("diagnostics carries no redaction markers")
	}
}

func TestIngressPrefixStripped(t *testing.T) {
	api := newTestAPI(&fakeCoordinator{}, &fakePoller{}, true)

	req := httptest.NewRequest(http.MethodGet, "/hassio/ingress/abc/healthz", nil)
	req.Header.Set("X-Ingress-Path", "/hassio/ingress/abc")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("ingress-prefixed health status = %d", rec.Code)
	}
}
