// Package metrics exposes Prometheus instrumentation for the bridge:
// poll outcomes, Qustodio API traffic, token lifecycle and snapshot
// freshness. All collectors register on the default registry and are
// served by the HTTP layer at /metrics.
package metrics

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll cycle metrics
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polls_total",
			Help: "Total number of poll cycles",
		},
		[]string{"result"}, // "success", "failure", "skipped"
	)

	PollFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_failures_total",
			Help: "Total number of failed poll cycles by error category",
		},
		[]string{"category"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poll_duration_seconds",
			Help:    "Duration of poll cycles in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Snapshot metrics
	SnapshotProfiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshot_profiles",
			Help: "Number of profiles in the current snapshot",
		},
	)

	SnapshotDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshot_devices",
			Help: "Number of devices in the current snapshot",
		},
	)

	// Upstream API metrics
	QustodioRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qustodio_requests_total",
			Help: "Total number of HTTP requests to the Qustodio API",
		},
		[]string{"endpoint", "status"}, // status is the HTTP code or "error"
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total number of token grant attempts",
		},
		[]string{"result"}, // "refresh", "refresh_failed", "password", "password_failed"
	)

	NoticesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notices_active",
			Help: "Current number of raised user notices",
		},
	)
)

// lastSnapshotNano holds the publish time of the newest snapshot as unix
// nanoseconds, 0 before the first success.
var lastSnapshotNano atomic.Int64

var snapshotAge = promauto.NewGaugeFunc(
	prometheus.GaugeOpts{
		Name: "snapshot_age_seconds",
		Help: "Seconds since the current snapshot was fetched (NaN before the first success)",
	},
	func() float64 {
		nano := lastSnapshotNano.Load()
		if nano == 0 {
			return math.NaN()
		}
		return time.Since(time.Unix(0, nano)).Seconds()
	},
)

// RecordPoll records the outcome and duration of one poll cycle.
func RecordPoll(result string, duration time.Duration) {
	PollsTotal.WithLabelValues(result).Inc()
	PollDuration.Observe(duration.Seconds())
}

// RecordPollFailure counts a failed poll by error category.
func RecordPollFailure(category string) {
	PollFailuresTotal.WithLabelValues(category).Inc()
}

// RecordSnapshot updates the snapshot gauges after a successful poll.
func RecordSnapshot(profiles, devices int, fetchedAt time.Time) {
	SnapshotProfiles.Set(float64(profiles))
	SnapshotDevices.Set(float64(devices))
	lastSnapshotNano.Store(fetchedAt.UnixNano())
}

// RecordQustodioRequest counts one upstream API request. The endpoint label
// is the logical request name, never the full path, to keep cardinality low.
func RecordQustodioRequest(endpoint, status string) {
	QustodioRequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordTokenGrant counts one token grant attempt by kind and outcome.
func RecordTokenGrant(result string) {
	TokenRefreshesTotal.WithLabelValues(result).Inc()
}

// SetActiveNotices updates the raised notice gauge.
func SetActiveNotices(count int) {
	NoticesActive.Set(float64(count))
}
