package model

import (
	"strconv"
	"strings"
	"time"
)

// ErrorCategory buckets poll failures for counters, notices and statistics.
type ErrorCategory string

const (
	CategoryAuthentication ErrorCategory = "authentication_error"
	CategoryConnection     ErrorCategory = "connection_error"
	CategoryRateLimit      ErrorCategory = "rate_limit_error"
	CategoryAPI            ErrorCategory = "api_error"
	CategoryData           ErrorCategory = "data_error"
	CategoryUnexpected     ErrorCategory = "unexpected_error"
)

// Categories lists every failure bucket in notice-dismissal order.
func Categories() []ErrorCategory {
	return []ErrorCategory{
		CategoryAuthentication,
		CategoryConnection,
		CategoryRateLimit,
		CategoryAPI,
		CategoryData,
		CategoryUnexpected,
	}
}

// Location is a GPS fix merged into a profile from its active device.
type Location struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Accuracy  float64    `json:"accuracy"`
	DeviceID  string     `json:"device_id,omitempty"`
	Time      *time.Time `json:"time,omitempty"`
}

// ProfileRecord is one monitored child as of the latest successful poll.
type ProfileRecord struct {
	ID                 string     `json:"id"`
	UID                string     `json:"uid"`
	Name               string     `json:"name"`
	DeviceIDs          []string   `json:"device_ids"`
	IsOnline           bool       `json:"is_online"`
	QuotaMinutes       int        `json:"quota_minutes"`
	TimeUsedMinutes    float64    `json:"time_used_minutes"`
	ProtectionDisabled bool       `json:"protection_disabled"`
	PauseEndsAt        *time.Time `json:"pause_internet_ends_at,omitempty"`
	QuestionableEvents int        `json:"questionable_events_count"`
	UnauthorizedRemove bool       `json:"unauthorized_remove"`
	TamperedDevice     string     `json:"device_tampered,omitempty"`
	CurrentDevice      string     `json:"current_device,omitempty"`
	LastSeen           *time.Time `json:"lastseen,omitempty"`
	Location           *Location  `json:"location,omitempty"`
}

// UserFlags are per-profile tamper and protection signals on one device.
type UserFlags struct {
	VPNDisabled        bool `json:"vpn_disabled"`
	BrowserLocked      bool `json:"browser_locked"`
	PanicButton        bool `json:"panic_button"`
	ProtectionDisabled bool `json:"protection_disabled"`
	SafeNetwork        bool `json:"safe_network"`
}

// DeviceUser links a device to a profile with its online/tamper state.
type DeviceUser struct {
	ProfileID int64      `json:"profile_id"`
	IsOnline  *bool      `json:"is_online,omitempty"`
	LastSeen  *time.Time `json:"lastseen,omitempty"`
	Status    UserFlags  `json:"status"`
}

// DeviceLocation is the device-reported GPS fix.
type DeviceLocation struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Accuracy  float64    `json:"accuracy"`
	Time      *time.Time `json:"time,omitempty"`
}

// MDMStatus carries device-management alerts.
type MDMStatus struct {
	UnauthorizedRemove bool `json:"unauthorized_remove"`
}

// DeviceRecord is one physical device; many-to-many with profiles via Users.
type DeviceRecord struct {
	ID           string          `json:"id"`
	UID          string          `json:"uid"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Platform     int             `json:"platform"`
	PlatformName string          `json:"platform_name"`
	Version      string          `json:"version"`
	Enabled      bool            `json:"enabled"`
	Location     *DeviceLocation `json:"location,omitempty"`
	Users        []DeviceUser    `json:"users"`
	MDM          MDMStatus       `json:"mdm"`
	LastSeen     *time.Time      `json:"lastseen,omitempty"`
}

// UserStatus returns the Users entry matching a profile id. Accepted forms:
// "7", "profile_7". Unparseable ids and unknown profiles return false.
func (d DeviceRecord) UserStatus(profileID string) (DeviceUser, bool) {
	raw := strings.TrimPrefix(strings.TrimSpace(profileID), "profile_")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return DeviceUser{}, false
	}
	for _, user := range d.Users {
		if user.ProfileID == id {
			return user, true
		}
	}
	return DeviceUser{}, false
}

// PlatformName maps Qustodio platform codes onto display names.
func PlatformName(code int) string {
	switch code {
	case 0:
		return "Windows"
	case 1:
		return "Mac"
	case 3:
		return "Android"
	case 4:
		return "iOS"
	default:
		return "Unknown"
	}
}

// AppUsage is one application's screen time for a profile on one day.
type AppUsage struct {
	Name         string  `json:"name"`
	Package      string  `json:"package"`
	Minutes      float64 `json:"minutes"`
	Platform     int     `json:"platform"`
	Category     string  `json:"category"`
	Thumbnail    string  `json:"thumbnail,omitempty"`
	Questionable bool    `json:"questionable"`
}

// AppUsageRecord is the cached per-profile per-day usage list, most used first.
type AppUsageRecord struct {
	ProfileID    string     `json:"profile_id"`
	Date         string     `json:"date"`
	Apps         []AppUsage `json:"apps"`
	TotalMinutes float64    `json:"total_minutes"`
	Questionable bool       `json:"questionable"`
	FetchedAt    time.Time  `json:"fetched_at"`
}

// RulesRecord carries the protection flags and quotas for one profile.
type RulesRecord struct {
	ProtectionDisabled bool           `json:"protection_disabled"`
	QuotasByDay        map[string]int `json:"quotas_by_day"`
	PauseEndsAt        *time.Time     `json:"pause_ends_at,omitempty"`
}

// QuotaFor returns the quota minutes for a weekday key (mon..sun).
func (r RulesRecord) QuotaFor(dow string) int {
	if r.QuotasByDay == nil {
		return 0
	}
	return r.QuotasByDay[dow]
}

// Snapshot is one atomic, fully populated poll result. Published snapshots
// are never mutated; the coordinator swaps the current pointer wholesale.
type Snapshot struct {
	Profiles  map[string]ProfileRecord  `json:"profiles"`
	Devices   map[string]DeviceRecord   `json:"devices"`
	AppUsage  map[string]AppUsageRecord `json:"app_usage,omitempty"`
	FetchedAt time.Time                 `json:"fetched_at"`
}

// ProfileDevices resolves a profile's DeviceIDs against the devices map.
func (s *Snapshot) ProfileDevices(profileID string) []DeviceRecord {
	if s == nil {
		return nil
	}
	profile, ok := s.Profiles[profileID]
	if !ok {
		return nil
	}
	result := make([]DeviceRecord, 0, len(profile.DeviceIDs))
	for _, id := range profile.DeviceIDs {
		if device, ok := s.Devices[id]; ok {
			result = append(result, device)
		}
	}
	return result
}

// Notice is one user-facing alert raised by the coordinator.
type Notice struct {
	Category   ErrorCategory `json:"category"`
	Severity   string        `json:"severity"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	RaisedAt   time.Time     `json:"raised_at"`
}

// Statistics is the read-only poll accounting surface.
type Statistics struct {
	TotalUpdates        int                   `json:"total_updates"`
	SuccessfulUpdates   int                   `json:"successful_updates"`
	FailedUpdates       int                   `json:"failed_updates"`
	LastUpdateTime      *time.Time            `json:"last_update_time,omitempty"`
	LastSuccessTime     *time.Time            `json:"last_success_time,omitempty"`
	LastFailureTime     *time.Time            `json:"last_failure_time,omitempty"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	ErrorCounts         map[ErrorCategory]int `json:"error_counts"`
	LastError           string                `json:"last_error,omitempty"`
}
