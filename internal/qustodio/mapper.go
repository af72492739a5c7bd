package qustodio

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/micro-ha/qustodio-bridge/internal/model"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp normalizes the timestamp strings the API serves. Empty and
// unparseable values map to nil.
func parseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			v := ts.UTC()
			return &v
		}
	}
	return nil
}

// mapProfile converts a wire profile without any device state merged in.
// A missing uid falls back to the id.
func mapProfile(p wireProfile) model.ProfileRecord {
	record := model.ProfileRecord{
		ID:                 p.ID.String(),
		UID:                p.UID.String(),
		Name:               p.Name,
		DeviceIDs:          make([]string, 0, len(p.DeviceIDs)),
		QuestionableEvents: p.QuestionableEvents,
	}
	if record.UID == "" {
		record.UID = record.ID
	}
	for _, id := range p.DeviceIDs {
		record.DeviceIDs = append(record.DeviceIDs, id.String())
	}
	if p.Status == nil {
		return record
	}
	if p.Status.IsOnline != nil {
		record.IsOnline = *p.Status.IsOnline
	}
	record.LastSeen = parseTimestamp(p.Status.LastSeen)
	if loc := p.Status.Location; loc != nil && loc.Latitude != nil && loc.Longitude != nil {
		record.Location = &model.Location{
			Latitude:  *loc.Latitude,
			Longitude: *loc.Longitude,
			Accuracy:  loc.Accuracy,
			DeviceID:  loc.Device.String(),
		}
	}
	return record
}

// buildProfileRecord maps a wire profile and merges in the state of its
// devices: online flags and last-seen from users entries, tamper alerts, the
// current device name, and a device GPS fix when the profile itself has none.
// With location tracking off, all location data is stripped from the result.
func buildProfileRecord(p wireProfile, devices map[string]model.DeviceRecord, includeLocation bool) model.ProfileRecord {
	record := mapProfile(p)

	var (
		fallbackLocation *model.DeviceLocation
		fallbackDevice   string
	)
	for _, id := range record.DeviceIDs {
		device, ok := devices[id]
		if !ok {
			continue
		}
		if device.MDM.UnauthorizedRemove {
			record.UnauthorizedRemove = true
			record.TamperedDevice = device.Name
			if record.TamperedDevice == "" {
				record.TamperedDevice = "Unknown"
			}
		}
		user, ok := device.UserStatus(record.ID)
		if !ok {
			continue
		}
		if user.IsOnline != nil && *user.IsOnline {
			record.IsOnline = true
		}
		if user.LastSeen != nil && (record.LastSeen == nil || user.LastSeen.After(*record.LastSeen)) {
			record.LastSeen = user.LastSeen
		}
		if device.Location != nil && laterLocation(device.Location, fallbackLocation) {
			fallbackLocation = device.Location
			fallbackDevice = device.ID
		}
	}

	if record.Location == nil && fallbackLocation != nil {
		record.Location = &model.Location{
			Latitude:  fallbackLocation.Latitude,
			Longitude: fallbackLocation.Longitude,
			Accuracy:  fallbackLocation.Accuracy,
			DeviceID:  fallbackDevice,
			Time:      fallbackLocation.Time,
		}
	}
	if record.IsOnline && record.Location != nil && record.Location.DeviceID != "" {
		if device, ok := devices[record.Location.DeviceID]; ok {
			record.CurrentDevice = device.Name
		}
	}
	if !includeLocation {
		record.Location = nil
	}
	return record
}

// laterLocation reports whether a should replace b as the freshest fix.
// Fixes without a timestamp lose to any timestamped fix.
func laterLocation(a, b *model.DeviceLocation) bool {
	if b == nil {
		return true
	}
	if a.Time == nil {
		return false
	}
	if b.Time == nil {
		return true
	}
	return a.Time.After(*b.Time)
}

func mapDevice(d wireDevice, includeLocation bool) model.DeviceRecord {
	record := model.DeviceRecord{
		ID:           d.ID.String(),
		UID:          d.UID.String(),
		Name:         d.Name,
		Type:         d.Type,
		Platform:     d.Platform,
		PlatformName: model.PlatformName(d.Platform),
		Version:      d.Version,
		Enabled:      d.Enabled != 0,
		MDM: model.MDMStatus{
			UnauthorizedRemove: d.MDM.UnauthorizedRemove || d.Alerts.UnauthorizedRemove,
		},
		LastSeen: parseTimestamp(d.LastSeen),
	}
	if includeLocation && d.LocationLatitude != nil && d.LocationLongitude != nil {
		location := &model.DeviceLocation{
			Latitude:  *d.LocationLatitude,
			Longitude: *d.LocationLongitude,
			Time:      parseTimestamp(d.LocationTime),
		}
		if d.LocationAccuracy != nil {
			location.Accuracy = *d.LocationAccuracy
		}
		record.Location = location
	}
	record.Users = make([]model.DeviceUser, 0, len(d.Users))
	for _, u := range d.Users {
		record.Users = append(record.Users, model.DeviceUser{
			ProfileID: u.ProfileID,
			IsOnline:  u.IsOnline,
			LastSeen:  parseTimestamp(u.LastSeen),
			Status:    mapUserFlags(u.Status),
		})
	}
	return record
}

func mapUserFlags(flags map[string]wireFlag) model.UserFlags {
	return model.UserFlags{
		VPNDisabled:        flags["vpn_disable"].Status,
		BrowserLocked:      flags["browser_lock"].Status,
		PanicButton:        flags["panic_button"].Status,
		ProtectionDisabled: flags["protection_disabled"].Status,
		SafeNetwork:        flags["safe_network"].Status,
	}
}

func mapRules(r wireRules) model.RulesRecord {
	return model.RulesRecord{
		ProtectionDisabled: r.ProtectionDisabled,
		QuotasByDay:        r.TimeRestrictions.Quotas,
		PauseEndsAt:        parseTimestamp(r.PauseEndsAt),
	}
}

// mapAppUsage normalizes one day of per-app usage, sorted most used first.
func mapAppUsage(profileID, date string, items []wireAppUsage, fetchedAt time.Time) model.AppUsageRecord {
	apps := make([]model.AppUsage, 0, len(items))
	var total float64
	questionable := false
	for _, item := range items {
		name := item.AppName
		if name == "" {
			name = "Unknown"
		}
		apps = append(apps, model.AppUsage{
			Name:         name,
			Package:      item.Exe,
			Minutes:      item.Minutes,
			Platform:     item.Platform,
			Category:     model.PlatformName(item.Platform),
			Thumbnail:    item.Thumbnail,
			Questionable: item.Questionable,
		})
		total += item.Minutes
		if item.Questionable {
			questionable = true
		}
	}
	sort.SliceStable(apps, func(i, j int) bool { return apps[i].Minutes > apps[j].Minutes })

	return model.AppUsageRecord{
		ProfileID:    profileID,
		Date:         date,
		Apps:         apps,
		TotalMinutes: math.Round(total*10) / 10,
		Questionable: questionable,
		FetchedAt:    fetchedAt,
	}
}
