// Package coordinator owns the poll cycle: it fetches snapshots through the
// Qustodio client, tracks consecutive failures per error category, raises and
// dismisses user notices on threshold crossings, and publishes the latest
// good snapshot for concurrent readers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-ha/qustodio-bridge/internal/metrics"
	"github.com/micro-ha/qustodio-bridge/internal/model"
	"github.com/micro-ha/qustodio-bridge/internal/notify"
	"github.com/micro-ha/qustodio-bridge/internal/qustodio"
)

// ErrNotConfigured is returned while no account options are available.
var ErrNotConfigured = errors.New("integration not configured")

// Client is the slice of the Qustodio client the coordinator drives.
type Client interface {
	FetchSnapshot(ctx context.Context, opts model.AccountOptions) (*model.Snapshot, error)
	FetchAppUsage(ctx context.Context, profileID, profileUID string, day time.Time) (model.AppUsageRecord, error)
	SetCredentials(email, password string)
	Authenticate(ctx context.Context) error
}

// ConfigProvider exposes the current host-side account options.
type ConfigProvider interface {
	Get() (model.AccountOptions, bool)
}

// noticeThresholds maps each failure category onto the consecutive-failure
// count that raises a user notice. Authentication and rate limits notify on
// the first failure; connection noise gets three chances.
var noticeThresholds = map[model.ErrorCategory]int{
	model.CategoryAuthentication: 1,
	model.CategoryRateLimit:      1,
	model.CategoryConnection:     3,
	model.CategoryAPI:            2,
	model.CategoryData:           2,
	model.CategoryUnexpected:     2,
}

type failureCounter struct {
	count          int
	lastError      string
	lastNotifiedAt time.Time
}

type Coordinator struct {
	client   Client
	config   ConfigProvider
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	inFlight atomic.Bool
	current  atomic.Pointer[model.Snapshot]

	mu          sync.Mutex
	counters    map[model.ErrorCategory]*failureCounter
	notices     map[model.ErrorCategory]model.Notice
	stats       model.Statistics
	needsReauth bool

	appUsage          map[string]model.AppUsageRecord
	appUsageFetchedAt time.Time
}

func New(client Client, config ConfigProvider, notifier notify.Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		client:   client,
		config:   config,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		counters: map[model.ErrorCategory]*failureCounter{},
		notices:  map[model.ErrorCategory]model.Notice{},
		stats:    model.Statistics{ErrorCounts: map[model.ErrorCategory]int{}},
		appUsage: map[string]model.AppUsageRecord{},
	}
}

// PollOnce runs one full poll cycle. Overlapping calls are skipped, not
// queued: a trigger that arrives while a poll is in flight is a no-op. The
// cycle never panics out; anything recovered is counted as an unexpected
// failure and the coordinator returns to idle.
func (c *Coordinator) PollOnce(ctx context.Context) (err error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Debug("poll already in flight, skipping trigger")
		metrics.PollsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	defer c.inFlight.Store(false)

	opts, ok := c.config.Get()
	if !ok {
		return ErrNotConfigured
	}

	started := c.now()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("poll panicked: %v", recovered)
			c.logger.Error("panic during poll", "panic", fmt.Sprint(recovered))
			c.recordFailure(ctx, err)
			metrics.RecordPoll("failure", time.Since(started))
		}
	}()

	snapshot, fetchErr := c.client.FetchSnapshot(ctx, opts)
	if fetchErr != nil {
		c.recordFailure(ctx, fetchErr)
		metrics.RecordPoll("failure", time.Since(started))
		return fetchErr
	}

	snapshot.AppUsage = c.refreshAppUsage(ctx, opts, snapshot)
	c.current.Store(snapshot)
	c.recordSuccess(ctx)

	metrics.RecordPoll("success", time.Since(started))
	metrics.RecordSnapshot(len(snapshot.Profiles), len(snapshot.Devices), snapshot.FetchedAt)
	return nil
}

// Snapshot returns the latest successfully published snapshot, nil before
// the first success. Published snapshots are never mutated.
func (c *Coordinator) Snapshot() *model.Snapshot {
	return c.current.Load()
}

// Statistics returns a copy of the running poll accounting.
func (c *Coordinator) Statistics() model.Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.ErrorCounts = make(map[model.ErrorCategory]int, len(c.stats.ErrorCounts))
	for category, count := range c.stats.ErrorCounts {
		stats.ErrorCounts[category] = count
	}
	return stats
}

// Notices returns the currently raised notices in category order.
func (c *Coordinator) Notices() []model.Notice {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]model.Notice, 0, len(c.notices))
	for _, category := range model.Categories() {
		if notice, ok := c.notices[category]; ok {
			result = append(result, notice)
		}
	}
	return result
}

// NeedsReauth reports whether the last auth failure requires the host to run
// a credential re-entry flow.
func (c *Coordinator) NeedsReauth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsReauth
}

// Reauthenticate installs fresh credentials and performs a password grant
// immediately. Success clears the reauth flag and any raised authentication
// notice; the caller is expected to trigger a poll afterwards.
func (c *Coordinator) Reauthenticate(ctx context.Context, email, password string) error {
	c.client.SetCredentials(email, password)
	if err := c.client.Authenticate(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.needsReauth = false
	delete(c.counters, model.CategoryAuthentication)
	_, hadNotice := c.notices[model.CategoryAuthentication]
	delete(c.notices, model.CategoryAuthentication)
	active := len(c.notices)
	c.mu.Unlock()

	if hadNotice {
		if err := c.notifier.Dismiss(ctx, model.CategoryAuthentication); err != nil {
			c.logger.Warn("dismissing authentication notice failed", "err", err)
		}
		metrics.SetActiveNotices(active)
	}
	c.logger.Info("manual re-authentication succeeded")
	return nil
}

// refreshAppUsage returns the per-profile app usage map to attach to the
// snapshot. The upstream endpoint is expensive, so the cache is only
// refetched once it is older than the configured interval; failures degrade
// to the previous cached data and never fail the poll.
func (c *Coordinator) refreshAppUsage(ctx context.Context, opts model.AccountOptions, snapshot *model.Snapshot) map[string]model.AppUsageRecord {
	c.mu.Lock()
	fetchedAt := c.appUsageFetchedAt
	cached := c.appUsage
	c.mu.Unlock()

	now := c.now()
	if !fetchedAt.IsZero() && now.Sub(fetchedAt) < opts.AppUsageCacheTTL() {
		return cloneAppUsage(cached)
	}

	fresh := make(map[string]model.AppUsageRecord, len(snapshot.Profiles))
	for id, profile := range snapshot.Profiles {
		record, err := c.client.FetchAppUsage(ctx, profile.ID, profile.UID, now)
		if err != nil {
			c.logger.Warn("app usage fetch failed, keeping cached data",
				"profile", profile.Name, "err", err)
			if prev, ok := cached[id]; ok {
				fresh[id] = prev
			}
			continue
		}
		fresh[id] = record
	}

	c.mu.Lock()
	c.appUsage = fresh
	c.appUsageFetchedAt = now
	c.mu.Unlock()
	return cloneAppUsage(fresh)
}

func (c *Coordinator) recordSuccess(ctx context.Context) {
	now := c.now().UTC()

	c.mu.Lock()
	c.stats.TotalUpdates++
	c.stats.SuccessfulUpdates++
	c.stats.LastUpdateTime = &now
	c.stats.LastSuccessTime = &now
	c.stats.ConsecutiveFailures = 0
	c.stats.LastError = ""
	c.counters = map[model.ErrorCategory]*failureCounter{}
	c.needsReauth = false

	raised := make([]model.ErrorCategory, 0, len(c.notices))
	for _, category := range model.Categories() {
		if _, ok := c.notices[category]; ok {
			raised = append(raised, category)
		}
	}
	c.notices = map[model.ErrorCategory]model.Notice{}
	c.mu.Unlock()

	for _, category := range raised {
		if err := c.notifier.Dismiss(ctx, category); err != nil {
			c.logger.Warn("dismissing notice failed", "category", string(category), "err", err)
		}
		c.logger.Info("notice cleared after successful poll", "category", string(category))
	}
	if len(raised) > 0 {
		metrics.SetActiveNotices(0)
	}
}

func (c *Coordinator) recordFailure(ctx context.Context, pollErr error) {
	category := qustodio.Classify(pollErr)
	now := c.now().UTC()

	c.mu.Lock()
	c.stats.TotalUpdates++
	c.stats.FailedUpdates++
	c.stats.LastUpdateTime = &now
	c.stats.LastFailureTime = &now
	c.stats.ConsecutiveFailures++
	c.stats.LastError = pollErr.Error()
	c.stats.ErrorCounts[category]++

	counter, ok := c.counters[category]
	if !ok {
		counter = &failureCounter{}
		c.counters[category] = counter
	}
	counter.count++
	counter.lastError = pollErr.Error()

	if category == model.CategoryAuthentication {
		c.needsReauth = true
	}

	_, alreadyRaised := c.notices[category]
	shouldNotify := !alreadyRaised && counter.count >= noticeThresholds[category]
	var notice model.Notice
	var active int
	if shouldNotify {
		notice = buildNotice(category, pollErr, now)
		c.notices[category] = notice
		counter.lastNotifiedAt = now
		active = len(c.notices)
	}
	consecutive := counter.count
	c.mu.Unlock()

	if category == model.CategoryUnexpected {
		c.logger.Error("unexpected poll failure", "err", pollErr, "consecutive", consecutive)
	} else {
		c.logger.Warn("poll failed", "category", string(category), "err", pollErr, "consecutive", consecutive)
	}
	metrics.RecordPollFailure(string(category))

	if shouldNotify {
		if err := c.notifier.Notify(ctx, notice); err != nil {
			c.logger.Warn("raising notice failed", "category", string(category), "err", err)
		}
		metrics.SetActiveNotices(active)
	}
}

// buildNotice turns a classified poll failure into a user-facing notice with
// a suggested action where one helps.
func buildNotice(category model.ErrorCategory, pollErr error, now time.Time) model.Notice {
	notice := model.Notice{
		Category: category,
		Severity: "warning",
		Message:  pollErr.Error(),
		RaisedAt: now,
	}

	var apiErr *qustodio.APIError
	if errors.As(pollErr, &apiErr) {
		notice.StatusCode = apiErr.StatusCode
	}

	switch category {
	case model.CategoryAuthentication:
		notice.Severity = "error"
		notice.Suggestion = "Check the configured Qustodio email and password and re-authenticate."
	case model.CategoryRateLimit:
		notice.Suggestion = "Increase the update interval to reduce API calls."
	case model.CategoryConnection:
		notice.Suggestion = "Check the internet connection; updates resume automatically."
	case model.CategoryAPI, model.CategoryData:
		notice.Suggestion = "The Qustodio API may have changed or be degraded; check for an updated add-on version."
	default:
		notice.Severity = "error"
		notice.Suggestion = "Check the add-on log for details."
	}
	return notice
}

func cloneAppUsage(in map[string]model.AppUsageRecord) map[string]model.AppUsageRecord {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]model.AppUsageRecord, len(in))
	for id, record := range in {
		out[id] = record
	}
	return out
}
