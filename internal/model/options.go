package model

import "time"

const (
	DefaultUpdateIntervalMinutes = 5
	MinUpdateIntervalMinutes     = 1
	MaxUpdateIntervalMinutes     = 60

	DefaultAppUsageCacheMinutes = 60
	MinAppUsageCacheMinutes     = 5
	MaxAppUsageCacheMinutes     = 1440
)

// AccountOptions is the host-provided account configuration. Password is
// write-only: it never appears on any read surface (API, diagnostics, logs).
type AccountOptions struct {
	Email                 string `json:"email" validate:"required,email"`
	Password              string `json:"-" validate:"required"`
	UpdateIntervalMinutes int    `json:"update_interval_minutes"`
	EnableGPSTracking     bool   `json:"enable_gps_tracking"`
	AppUsageCacheMinutes  int    `json:"app_usage_cache_minutes"`
}

// Normalize clamps intervals into their documented bounds and fills defaults
// for unset values.
func (o AccountOptions) Normalize() AccountOptions {
	if o.UpdateIntervalMinutes == 0 {
		o.UpdateIntervalMinutes = DefaultUpdateIntervalMinutes
	}
	if o.UpdateIntervalMinutes < MinUpdateIntervalMinutes {
		o.UpdateIntervalMinutes = MinUpdateIntervalMinutes
	}
	if o.UpdateIntervalMinutes > MaxUpdateIntervalMinutes {
		o.UpdateIntervalMinutes = MaxUpdateIntervalMinutes
	}
	if o.AppUsageCacheMinutes == 0 {
		o.AppUsageCacheMinutes = DefaultAppUsageCacheMinutes
	}
	if o.AppUsageCacheMinutes < MinAppUsageCacheMinutes {
		o.AppUsageCacheMinutes = MinAppUsageCacheMinutes
	}
	if o.AppUsageCacheMinutes > MaxAppUsageCacheMinutes {
		o.AppUsageCacheMinutes = MaxAppUsageCacheMinutes
	}
	return o
}

// PollInterval converts the update interval into a timer duration.
func (o AccountOptions) PollInterval() time.Duration {
	return time.Duration(o.Normalize().UpdateIntervalMinutes) * time.Minute
}

// AppUsageCacheTTL is how long cached per-app usage stays fresh.
func (o AccountOptions) AppUsageCacheTTL() time.Duration {
	return time.Duration(o.Normalize().AppUsageCacheMinutes) * time.Minute
}
