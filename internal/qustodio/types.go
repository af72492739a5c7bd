package qustodio

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// wireID accepts ids the API serves as either JSON numbers or strings and
// normalizes them to strings.
type wireID string

func (w *wireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*w = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*w = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*w = wireID(n.String())
	return nil
}

func (w wireID) String() string {
	return string(w)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type wireAccount struct {
	ID    wireID `json:"id"`
	UID   wireID `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type wireLocation struct {
	Device    wireID   `json:"device"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
}

type wireProfileStatus struct {
	IsOnline *bool         `json:"is_online"`
	LastSeen string        `json:"lastseen"`
	Location *wireLocation `json:"location"`
}

type wireProfile struct {
	ID                 wireID             `json:"id"`
	UID                wireID             `json:"uid"`
	Name               string             `json:"name"`
	DeviceCount        int                `json:"device_count"`
	DeviceIDs          []wireID           `json:"device_ids"`
	Status             *wireProfileStatus `json:"status"`
	QuestionableEvents int                `json:"questionable_events_count"`
}

// wireFlag is the {"status": bool} wrapper the API uses for per-user toggles
// such as vpn_disable, browser_lock and panic_button.
type wireFlag struct {
	Status bool `json:"status"`
}

type wireDeviceUser struct {
	ProfileID int64               `json:"profile_id"`
	IsOnline  *bool               `json:"is_online"`
	LastSeen  string              `json:"lastseen"`
	Status    map[string]wireFlag `json:"status"`
}

type wireAlerts struct {
	UnauthorizedRemove bool `json:"unauthorized_remove"`
}

type wireDevice struct {
	ID                wireID           `json:"id"`
	UID               wireID           `json:"uid"`
	Name              string           `json:"name"`
	Type              string           `json:"type"`
	Platform          int              `json:"platform"`
	Version           string           `json:"version"`
	Enabled           int              `json:"enabled"`
	LocationLatitude  *float64         `json:"location_latitude"`
	LocationLongitude *float64         `json:"location_longitude"`
	LocationTime      string           `json:"location_time"`
	LocationAccuracy  *float64         `json:"location_accuracy"`
	Users             []wireDeviceUser `json:"users"`
	MDM               wireAlerts       `json:"mdm"`
	Alerts            wireAlerts       `json:"alerts"`
	LastSeen          string           `json:"lastseen"`
}

type wireTimeRestrictions struct {
	Quotas map[string]int `json:"quotas"`
}

type wireRules struct {
	TimeRestrictions   wireTimeRestrictions `json:"time_restrictions"`
	ProtectionDisabled bool                 `json:"protection_disabled"`
	PauseEndsAt        string               `json:"pause_internet_ends_at"`
}

type wireHourlySummary struct {
	Hour              int     `json:"hour"`
	ScreenTimeSeconds float64 `json:"screen_time_seconds"`
}

type wireAppUsage struct {
	AppName      string  `json:"app_name"`
	Exe          string  `json:"exe"`
	Minutes      float64 `json:"minutes"`
	Platform     int     `json:"platform"`
	Thumbnail    string  `json:"thumbnail"`
	Questionable bool    `json:"questionable"`
}

type wireAppUsageList struct {
	Items []wireAppUsage `json:"items"`
}
