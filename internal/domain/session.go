package domain

import (
	"time"
)

// AutonomousStatus is the phase of unattended re-planning for a session.
type AutonomousStatus string

const (
	StatusActive     AutonomousStatus = "active"
	StatusPlanning   AutonomousStatus = "planning"
	StatusMonitoring AutonomousStatus = "monitoring"
	StatusPaused     AutonomousStatus = "paused"
)

// AutonomousMode is the autonomous-mode sub-document of a session.
// A zero value means autonomous mode was never enabled.
type AutonomousMode struct {
	Active        bool             `json:"active"`
	Status        AutonomousStatus `json:"status"`
	ActivatedAt   *time.Time       `json:"activated_at,omitempty"`
	DeactivatedAt *time.Time       `json:"deactivated_at,omitempty"`
	LastUpdated   *time.Time       `json:"last_updated,omitempty"`
}

// Session is a user's planning workspace: their calendar, tasks, decision log,
// scheduling preferences, and autonomous-mode state.
type Session struct {
	ID                   string         `json:"session_id"`
	Timezone             string         `json:"timezone"`
	DayStartHour         int            `json:"day_start_hour"`
	DayEndHour           int            `json:"day_end_hour"`
	PreferencesText      string         `json:"preferences_text,omitempty"`
	PreferencesUpdatedAt *time.Time     `json:"preferences_updated_at,omitempty"`
	Autonomous           AutonomousMode `json:"autonomous_mode"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Location resolves the session's IANA zone, defaulting to UTC.
func (s *Session) Location() *time.Location {
	if s == nil || s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasDayWindow reports whether the user restricted scheduling to part of the day.
func (s *Session) HasDayWindow() bool {
	return !(s.DayStartHour == 0 && s.DayEndHour == 24)
}
