// Package diagnostics assembles a support-ticket document from the current
// snapshot, statistics and configuration. Everything that leaves this
// package went through the same redaction as the client's debug logging.
package diagnostics

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/micro-ha/qustodio-bridge/internal/model"
	"github.com/micro-ha/qustodio-bridge/internal/qustodio"
)

// Input is everything the report draws from. Snapshot may be nil before the
// first successful poll.
type Input struct {
	Options     model.AccountOptions
	Configured  bool
	Statistics  model.Statistics
	Notices     []model.Notice
	NeedsReauth bool
	Snapshot    *model.Snapshot
	Retry       RetryInfo
}

// RetryInfo mirrors the client's retry tuning for the report.
type RetryInfo struct {
	MaxAttempts    int           `json:"max_attempts"`
	BaseDelay      time.Duration `json:"base_delay"`
	MaxDelay       time.Duration `json:"max_delay"`
	AttemptTimeout time.Duration `json:"attempt_timeout"`
}

// ProfileSummary is the quick-glance line per profile at the top of the
// report, without any location or identity data.
type ProfileSummary struct {
	Name            string  `json:"name"`
	IsOnline        bool    `json:"is_online"`
	HasLocation     bool    `json:"has_location"`
	QuotaMinutes    int     `json:"quota_minutes"`
	TimeUsedMinutes float64 `json:"time_used_minutes"`
}

// Build renders the report. Options and the full snapshot are round-tripped
// through JSON and masked field-by-field before inclusion.
func Build(in Input) map[string]any {
	report := map[string]any{
		"report_id":    uuid.NewString(),
		"generated_at": time.Now().UTC().Format(time.RFC3339),
		"configured":   in.Configured,
		"options":      redactDocument(in.Options),
		"statistics":   in.Statistics,
		"notices":      in.Notices,
		"needs_reauth": in.NeedsReauth,
		"retry":        in.Retry,
		"has_snapshot": in.Snapshot != nil,
	}
	if in.Statistics.LastError != "" {
		report["last_error"] = in.Statistics.LastError
	}
	if in.Snapshot != nil {
		report["snapshot_fetched_at"] = in.Snapshot.FetchedAt.Format(time.RFC3339)
		report["profile_summaries"] = summarize(in.Snapshot)
		report["snapshot"] = redactDocument(in.Snapshot)
	}
	return report
}

func summarize(snapshot *model.Snapshot) []ProfileSummary {
	summaries := make([]ProfileSummary, 0, len(snapshot.Profiles))
	for _, profile := range snapshot.Profiles {
		summaries = append(summaries, ProfileSummary{
			Name:            profile.Name,
			IsOnline:        profile.IsOnline,
			HasLocation:     profile.Location != nil,
			QuotaMinutes:    profile.QuotaMinutes,
			TimeUsedMinutes: profile.TimeUsedMinutes,
		})
	}
	return summaries
}

// redactDocument masks sensitive fields in the JSON rendering of v. A value
// that cannot be round-tripped is dropped rather than emitted unmasked.
func redactDocument(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return qustodio.Redact(doc)
}
