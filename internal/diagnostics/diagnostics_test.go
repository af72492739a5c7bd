package diagnostics

import (
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/micro-ha/qustodio-bridge/internal/model"
	"github.com/micro-ha/qustodio-bridge/internal/qustodio"
)

func testInput() Input {
	lastSeen := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	return Input{
		Options: model.AccountOptions{
			Email:                 "parent@example.com",
			Password:              "hunter2",
			UpdateIntervalMinutes: 5,
			EnableGPSTracking:     true,
			AppUsageCacheMinutes:  60,
		},
		Configured:  true,
		Statistics:  model.Statistics{TotalUpdates: 7, SuccessfulUpdates: 6, FailedUpdates: 1, LastError: "boom"},
		NeedsReauth: false,
		Snapshot: &model.Snapshot{
			Profiles: map[string]model.ProfileRecord{
				"123": {
					ID:       "123",
					UID:      "uid-123",
					Name:     "Alice",
					IsOnline: true,
					LastSeen: &lastSeen,
					Location: &model.Location{Latitude: 51.5074, Longitude: -0.1278, DeviceID: "9001"},
				},
			},
			Devices:   map[string]model.DeviceRecord{"9001": {ID: "9001", Name: "Family iPad"}},
			FetchedAt: lastSeen,
		},
		Retry: RetryInfo{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, AttemptTimeout: 15 * time.Second},
	}
}

func TestBuildRedactsSensitiveFields(t *testing.T) {
	report := Build(testInput())

	raw, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshaling report: %v", err)
	}
	rendered := string(raw)

	for _, secret := range []string{"parent@example.com", "hunter2", "51.5074", "-0.1278", "uid-123"} {
		if strings.Contains(rendered, secret) {
			t.Errorf("report leaks %q", secret)
		}
	}
	if !strings.Contains(rendered, qustodio.RedactedPlaceholder) {
		t.Error("report carries no redaction markers")
	}
	// Profile name is not sensitive and must survive for support triage.
	if !strings.Contains(rendered, "Alice") {
		t.Error("report lost the profile name")
	}
}

func TestBuildSummaries(t *testing.T) {
	report := Build(testInput())

	summaries, ok := report["profile_summaries"].([]ProfileSummary)
	if !ok || len(summaries) != 1 {
		t.Fatalf("profile_summaries = %#v", report["profile_summaries"])
	}
	got := summaries[0]
	if got.Name != "Alice" || !got.IsOnline || !got.HasLocation {
		t.Errorf("summary = %+v", got)
	}
	if report["report_id"] == "" {
		t.Error("report_id empty")
	}
	if report["last_error"] != "boom" {
		t.Errorf("last_error = %v", report["last_error"])
	}
}

func TestBuildWithoutSnapshot(t *testing.T) {
	in := testInput()
	in.Snapshot = nil
	report := Build(in)

	if report["has_snapshot"] != false {
		t.Error("has_snapshot should be false")
	}
	if _, present := report["snapshot"]; present {
		t.Error("snapshot key present without a snapshot")
	}
	if _, present := report["profile_summaries"]; present {
		t.Error("profile_summaries present without a snapshot")
	}
}
