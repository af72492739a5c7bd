// Package qustodio implements the client side of the Qustodio parental
// control cloud API: token lifecycle, rate-limited HTTP with retries, and
// normalization of wire payloads into snapshot records.
//
// The endpoints are not publicly documented; paths and payload shapes follow
// the mobile app traffic and may change without notice.
package qustodio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/micro-ha/qustodio-bridge/internal/metrics"
	"github.com/micro-ha/qustodio-bridge/internal/model"
)

const (
	defaultBaseURL = "https://api.qustodio.com"
	userAgent      = "Qustodio/2.0.0 (Android)"

	defaultRequestsPerSecond = 5
	defaultBurst             = 5

	maxErrorBodyBytes = 256
)

// Config wires a Client. Zero fields fall back to defaults.
type Config struct {
	BaseURL           string
	Retry             RetryPolicy
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client talks to the Qustodio cloud API. A single instance is shared across
// polls so connections are reused; Close releases them on teardown.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retrier    *retrier
	limiter    *rate.Limiter
	tokens     *TokenManager
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	accountID  string
	accountUID string
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		retrier:    newRetrier(cfg.Retry, logger),
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
		now:        time.Now,
	}
	c.tokens = newTokenManager(c.requestToken, logger)
	return c
}

// SetCredentials installs the account identity. A change drops issued tokens
// and the cached account ids.
func (c *Client) SetCredentials(email, password string) {
	if c.tokens.SetCredentials(email, password) {
		c.mu.Lock()
		c.accountID = ""
		c.accountUID = ""
		c.mu.Unlock()
	}
}

// Authenticate discards any issued tokens and performs a fresh password
// grant. Used when an operator forces re-authentication.
func (c *Client) Authenticate(ctx context.Context) error {
	c.tokens.Invalidate()
	_, err := c.tokens.Token(ctx)
	return err
}

// TokenState reports the token lifecycle phase for status surfaces.
func (c *Client) TokenState() TokenState {
	return c.tokens.State()
}

// TokenExpiresAt reports when the held access token lapses.
func (c *Client) TokenExpiresAt() time.Time {
	return c.tokens.ExpiresAt()
}

// Close releases pooled connections. The client must not be used after.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// FetchProfiles returns the account's profiles without device state merged
// in. Profiles missing an id or name are skipped with a warning.
func (c *Client) FetchProfiles(ctx context.Context) ([]model.ProfileRecord, error) {
	accountID, _, err := c.ensureAccount(ctx)
	if err != nil {
		return nil, err
	}
	wires, err := c.fetchProfiles(ctx, accountID)
	if err != nil {
		return nil, err
	}
	records := make([]model.ProfileRecord, 0, len(wires))
	for _, p := range wires {
		if p.ID == "" || p.Name == "" {
			c.logger.Warn("profile missing required fields, skipping")
			continue
		}
		records = append(records, mapProfile(p))
	}
	return records, nil
}

// FetchDevices returns the account's devices.
func (c *Client) FetchDevices(ctx context.Context) ([]model.DeviceRecord, error) {
	accountID, _, err := c.ensureAccount(ctx)
	if err != nil {
		return nil, err
	}
	wires, err := c.fetchDevices(ctx, accountID)
	if err != nil {
		return nil, err
	}
	records := make([]model.DeviceRecord, 0, len(wires))
	for _, d := range wires {
		records = append(records, mapDevice(d, true))
	}
	return records, nil
}

// FetchRules returns protection flags and daily quotas for one profile.
func (c *Client) FetchRules(ctx context.Context, profileID string) (model.RulesRecord, error) {
	accountID, _, err := c.ensureAccount(ctx)
	if err != nil {
		return model.RulesRecord{}, err
	}
	return c.fetchRules(ctx, accountID, profileID)
}

// FetchHourlySummary returns a profile's screen time in minutes for one day,
// rounded to a tenth of a minute.
func (c *Client) FetchHourlySummary(ctx context.Context, profileUID string, day time.Time) (float64, error) {
	_, accountUID, err := c.ensureAccount(ctx)
	if err != nil {
		return 0, err
	}
	return c.fetchHourlySummary(ctx, accountUID, profileUID, day.Format("2006-01-02"))
}

// FetchAppUsage returns a profile's per-application usage for one day, most
// used first.
func (c *Client) FetchAppUsage(ctx context.Context, profileID, profileUID string, day time.Time) (model.AppUsageRecord, error) {
	_, accountUID, err := c.ensureAccount(ctx)
	if err != nil {
		return model.AppUsageRecord{}, err
	}
	date := day.Format("2006-01-02")
	var usage wireAppUsageList
	path := fmt.Sprintf("/v2/accounts/%s/profiles/%s/apps_usage?min_date=%s&max_date=%s",
		url.PathEscape(accountUID), url.PathEscape(profileUID), date, date)
	if err := c.getJSON(ctx, "app usage", path, &usage); err != nil {
		return model.AppUsageRecord{}, err
	}
	return mapAppUsage(profileID, date, usage.Items, c.now().UTC()), nil
}

// FetchSnapshot performs one full poll: authenticate, fetch account, devices
// and profiles, then per-profile rules and screen time. Device users entries
// are merged into the profile records. Any sub-fetch failure aborts the whole
// call; a partial snapshot is never returned.
func (c *Client) FetchSnapshot(ctx context.Context, opts model.AccountOptions) (*model.Snapshot, error) {
	c.SetCredentials(opts.Email, opts.Password)
	if _, err := c.tokens.Token(ctx); err != nil {
		return nil, err
	}

	accountID, accountUID, err := c.fetchAccount(ctx)
	if err != nil {
		return nil, err
	}
	devices, err := c.fetchDevices(ctx, accountID)
	if err != nil {
		return nil, err
	}
	profiles, err := c.fetchProfiles(ctx, accountID)
	if err != nil {
		return nil, err
	}

	known := make(map[int64]struct{}, len(profiles))
	for _, p := range profiles {
		if id, err := strconv.ParseInt(p.ID.String(), 10, 64); err == nil {
			known[id] = struct{}{}
		}
	}

	now := c.now()
	dow := strings.ToLower(now.Weekday().String()[:3])
	today := now.Format("2006-01-02")

	snapshot := &model.Snapshot{
		Profiles:  make(map[string]model.ProfileRecord, len(profiles)),
		Devices:   make(map[string]model.DeviceRecord, len(devices)),
		FetchedAt: now.UTC(),
	}
	for _, d := range devices {
		record := mapDevice(d, true)
		record.Users = c.dropUnknownUsers(record, known)
		snapshot.Devices[record.ID] = record
	}

	for _, p := range profiles {
		if p.ID == "" || p.Name == "" {
			c.logger.Warn("profile missing required fields, skipping")
			continue
		}
		record := buildProfileRecord(p, snapshot.Devices, opts.EnableGPSTracking)

		rules, err := c.fetchRules(ctx, accountID, record.ID)
		if err != nil {
			return nil, err
		}
		record.QuotaMinutes = rules.QuotaFor(dow)
		record.ProtectionDisabled = rules.ProtectionDisabled
		record.PauseEndsAt = rules.PauseEndsAt

		minutes, err := c.fetchHourlySummary(ctx, accountUID, record.UID, today)
		if err != nil {
			return nil, err
		}
		record.TimeUsedMinutes = minutes

		snapshot.Profiles[record.ID] = record
	}

	// Device GPS fixes feed the merge above even when tracking is off; they
	// are stripped from the published records here.
	if !opts.EnableGPSTracking {
		for id, device := range snapshot.Devices {
			device.Location = nil
			snapshot.Devices[id] = device
		}
	}
	return snapshot, nil
}

// dropUnknownUsers filters device users entries that reference profiles not
// present in the fetched profile set.
func (c *Client) dropUnknownUsers(device model.DeviceRecord, known map[int64]struct{}) []model.DeviceUser {
	kept := make([]model.DeviceUser, 0, len(device.Users))
	for _, user := range device.Users {
		if _, ok := known[user.ProfileID]; !ok {
			c.logger.Debug("dropping device user entry for unknown profile", "device", device.Name)
			continue
		}
		kept = append(kept, user)
	}
	return kept
}

func (c *Client) ensureAccount(ctx context.Context) (string, string, error) {
	c.mu.Lock()
	id, uid := c.accountID, c.accountUID
	c.mu.Unlock()
	if id != "" {
		return id, uid, nil
	}
	return c.fetchAccount(ctx)
}

func (c *Client) fetchAccount(ctx context.Context) (string, string, error) {
	var account wireAccount
	if err := c.getJSON(ctx, "account info", "/v1/accounts/me", &account); err != nil {
		return "", "", err
	}
	if account.ID == "" {
		return "", "", &DataError{Message: "account data missing required 'id' field"}
	}
	id := account.ID.String()
	uid := account.UID.String()
	if uid == "" {
		uid = id
	}
	c.mu.Lock()
	c.accountID = id
	c.accountUID = uid
	c.mu.Unlock()
	return id, uid, nil
}

func (c *Client) fetchProfiles(ctx context.Context, accountID string) ([]wireProfile, error) {
	var profiles []wireProfile
	path := fmt.Sprintf("/v1/accounts/%s/profiles/", url.PathEscape(accountID))
	if err := c.getJSON(ctx, "profiles", path, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (c *Client) fetchDevices(ctx context.Context, accountID string) ([]wireDevice, error) {
	var devices []wireDevice
	path := fmt.Sprintf("/v1/accounts/%s/devices", url.PathEscape(accountID))
	if err := c.getJSON(ctx, "devices", path, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (c *Client) fetchRules(ctx context.Context, accountID, profileID string) (model.RulesRecord, error) {
	var rules wireRules
	path := fmt.Sprintf("/v1/accounts/%s/profiles/%s/rules?app_rules=1",
		url.PathEscape(accountID), url.PathEscape(profileID))
	if err := c.getJSON(ctx, "rules", path, &rules); err != nil {
		return model.RulesRecord{}, err
	}
	return mapRules(rules), nil
}

func (c *Client) fetchHourlySummary(ctx context.Context, accountUID, profileUID, date string) (float64, error) {
	var entries []wireHourlySummary
	path := fmt.Sprintf("/v2/accounts/%s/profiles/%s/summary_hourly?date=%s",
		url.PathEscape(accountUID), url.PathEscape(profileUID), date)
	if err := c.getJSON(ctx, "hourly summary", path, &entries); err != nil {
		return 0, err
	}
	var totalSeconds float64
	for _, entry := range entries {
		totalSeconds += entry.ScreenTimeSeconds
	}
	return math.Round(totalSeconds/60*10) / 10, nil
}

// requestToken posts an oauth2 grant form. It backs the token manager.
func (c *Client) requestToken(ctx context.Context, form url.Values) (tokenResponse, error) {
	var out tokenResponse
	err := c.retrier.do(ctx, "oauth2 token", func(ctx context.Context) error {
		return c.doToken(ctx, form, &out)
	})
	return out, err
}

func (c *Client) doToken(ctx context.Context, form url.Values, out *tokenResponse) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/oauth2/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return &ConnectionError{Message: "building token request", Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordQustodioRequest("oauth2 token", "error")
		return wrapTransportError("login", err)
	}
	defer resp.Body.Close()
	metrics.RecordQustodioRequest("oauth2 token", strconv.Itoa(resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Message: "invalid username or password"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Message: "API rate limit exceeded", RetryAfter: retryAfterHint(resp.Header)}
	case resp.StatusCode != http.StatusOK:
		return apiStatusError("login failed", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapTransportError("login", err)
	}
	c.logResponse(ctx, "oauth2 token", body)

	if err := json.Unmarshal(body, out); err != nil {
		return &DataError{Message: "decoding token response", Err: err}
	}
	if out.AccessToken == "" {
		return &DataError{Message: "response missing access token"}
	}
	return nil
}

// getJSON performs an authenticated GET with retries and decodes the body
// into out. The response is debug-logged with sensitive fields redacted
// before the log line is emitted.
func (c *Client) getJSON(ctx context.Context, name, path string, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	return c.retrier.do(ctx, name, func(ctx context.Context) error {
		return c.doGet(ctx, name, path, token, out)
	})
}

func (c *Client) doGet(ctx context.Context, name, path, token string, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &ConnectionError{Message: "building request for " + name, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordQustodioRequest(name, "error")
		return wrapTransportError(name, err)
	}
	defer resp.Body.Close()
	metrics.RecordQustodioRequest(name, strconv.Itoa(resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Message: "token expired or invalid"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Message: "API rate limit exceeded", RetryAfter: retryAfterHint(resp.Header)}
	case resp.StatusCode != http.StatusOK:
		return apiStatusError("failed to get "+name, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapTransportError("reading "+name+" response", err)
	}
	c.logResponse(ctx, name, body)

	if err := json.Unmarshal(body, out); err != nil {
		return &DataError{Message: "decoding " + name + " response", Err: err}
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &ConnectionError{Message: "request aborted while pacing", Err: err}
	}
	return nil
}

func (c *Client) logResponse(ctx context.Context, name string, body []byte) {
	if !c.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	c.logger.Debug("api response", "request", name, "body", redactBody(body))
}

func apiStatusError(message string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	message = fmt.Sprintf("%s: HTTP %d", message, resp.StatusCode)
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		message = fmt.Sprintf("%s: %s", message, trimmed)
	}
	return &APIError{Message: message, StatusCode: resp.StatusCode}
}

func wrapTransportError(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectionError{Message: "timeout during " + operation, Err: err}
	}
	return &ConnectionError{Message: "connection error during " + operation, Err: err}
}

// retryAfterHint parses a Retry-After header, either delta-seconds or an
// HTTP date. Absent or unusable values return zero.
func retryAfterHint(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
