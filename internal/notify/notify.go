// Package notify delivers user-facing notices to the host. The coordinator
// is the only caller; delivery failures are logged there, never escalated.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/micro-ha/qustodio-bridge/internal/model"
)

type Notifier interface {
	Notify(ctx context.Context, notice model.Notice) error
	Dismiss(ctx context.Context, category model.ErrorCategory) error
}

// HANotifier raises persistent notifications through the HA core API. One
// notification per category: re-raising replaces it, dismissal removes it.
type HANotifier struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHANotifier(baseURL, token string) *HANotifier {
	return &HANotifier{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *HANotifier) Notify(ctx context.Context, notice model.Notice) error {
	message := notice.Message
	if notice.Suggestion != "" {
		message = fmt.Sprintf("%s %s", message, notice.Suggestion)
	}
	payload := map[string]any{
		"notification_id": notificationID(notice.Category),
		"title":           noticeTitle(notice.Category),
		"message":         message,
	}
	return n.call(ctx, "/api/services/persistent_notification/create", payload)
}

func (n *HANotifier) Dismiss(ctx context.Context, category model.ErrorCategory) error {
	payload := map[string]any{"notification_id": notificationID(category)}
	return n.call(ctx, "/api/services/persistent_notification/dismiss", payload)
}

func (n *HANotifier) call(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification call %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func notificationID(category model.ErrorCategory) string {
	return "qustodio_bridge_" + string(category)
}

func noticeTitle(category model.ErrorCategory) string {
	switch category {
	case model.CategoryAuthentication:
		return "Qustodio: authentication required"
	case model.CategoryConnection:
		return "Qustodio: connection problems"
	case model.CategoryRateLimit:
		return "Qustodio: API rate limit"
	case model.CategoryAPI:
		return "Qustodio: API errors"
	case model.CategoryData:
		return "Qustodio: unexpected API data"
	default:
		return "Qustodio: repeated update failures"
	}
}

// LogNotifier is the fallback sink when no supervisor token is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, notice model.Notice) error {
	n.logger.Warn("user notice raised",
		"category", string(notice.Category),
		"message", notice.Message,
		"suggestion", notice.Suggestion,
	)
	return nil
}

func (n *LogNotifier) Dismiss(_ context.Context, category model.ErrorCategory) error {
	n.logger.Info("user notice cleared", "category", string(category))
	return nil
}
