package configsync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/micro-ha/qustodio-bridge/internal/model"
)

// FetchResult carries one read of the host-side account options. Configured
// stays false until the user finishes the integration setup in HA.
type FetchResult struct {
	Configured bool
	Options    model.AccountOptions
}

type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	validate *validator.Validate
}

func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://supervisor/core"
	}
	return &Client{
		baseURL:  baseURL,
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: 10 * time.Second},
		validate: validator.New(),
	}
}

// optionsResponse mirrors the payload served by the companion integration.
// enable_gps_tracking is a pointer so an absent field keeps its default of
// true rather than reading as false.
type optionsResponse struct {
	Configured            bool   `json:"configured"`
	Username              string `json:"username"`
	Password              string `json:"password"`
	UpdateInterval        int    `json:"update_interval"`
	EnableGPSTracking     *bool  `json:"enable_gps_tracking"`
	AppUsageCacheInterval int    `json:"app_usage_cache_interval"`
}

func (c *Client) FetchOptions(ctx context.Context) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/qustodio_bridge/config", nil)
	if err != nil {
		return FetchResult{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return FetchResult{Configured: false}, nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return FetchResult{}, fmt.Errorf("options fetch status %d: %s", resp.StatusCode, string(body))
	}

	var payload optionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return FetchResult{}, err
	}
	if !payload.Configured || payload.Username == "" || payload.Password == "" {
		return FetchResult{Configured: false}, nil
	}

	opts := model.AccountOptions{
		Email:                 payload.Username,
		Password:              payload.Password,
		UpdateIntervalMinutes: payload.UpdateInterval,
		EnableGPSTracking:     payload.EnableGPSTracking == nil || *payload.EnableGPSTracking,
		AppUsageCacheMinutes:  payload.AppUsageCacheInterval,
	}.Normalize()
	if err := c.validate.Struct(opts); err != nil {
		return FetchResult{}, fmt.Errorf("invalid account options: %w", err)
	}
	return FetchResult{Configured: true, Options: opts}, nil
}
