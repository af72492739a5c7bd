package model

import (
	"testing"
	"time"
)

func TestAccountOptionsNormalize(t *testing.T) {
	t.Helper()

	tests := []struct {
		name      string
		opts      AccountOptions
		wantPoll  int
		wantCache int
	}{
		{
			name:      "zero values take defaults",
			opts:      AccountOptions{},
			wantPoll:  5,
			wantCache: 60,
		},
		{
			name:      "below minimum clamps up",
			opts:      AccountOptions{UpdateIntervalMinutes: -3, AppUsageCacheMinutes: 1},
			wantPoll:  1,
			wantCache: 5,
		},
		{
			name:      "above maximum clamps down",
			opts:      AccountOptions{UpdateIntervalMinutes: 90, AppUsageCacheMinutes: 10000},
			wantPoll:  60,
			wantCache: 1440,
		},
		{
			name:      "in-range values kept",
			opts:      AccountOptions{UpdateIntervalMinutes: 15, AppUsageCacheMinutes: 120},
			wantPoll:  15,
			wantCache: 120,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Helper()
			got := tt.opts.Normalize()
			if got.UpdateIntervalMinutes != tt.wantPoll {
				t.Fatalf("UpdateIntervalMinutes = %d, want %d", got.UpdateIntervalMinutes, tt.wantPoll)
			}
			if got.AppUsageCacheMinutes != tt.wantCache {
				t.Fatalf("AppUsageCacheMinutes = %d, want %d", got.AppUsageCacheMinutes, tt.wantCache)
			}
		})
	}
}

func TestAccountOptionsPollInterval(t *testing.T) {
	t.Helper()

	opts := AccountOptions{UpdateIntervalMinutes: 1}
	if got := opts.PollInterval(); got != time.Minute {
		t.Fatalf("PollInterval() = %v, want %v", got, time.Minute)
	}

	opts = AccountOptions{}
	if got := opts.PollInterval(); got != 5*time.Minute {
		t.Fatalf("PollInterval() = %v, want %v", got, 5*time.Minute)
	}

	opts = AccountOptions{AppUsageCacheMinutes: 30}
	if got := opts.AppUsageCacheTTL(); got != 30*time.Minute {
		t.Fatalf("AppUsageCacheTTL() = %v, want %v", got, 30*time.Minute)
	}
}
