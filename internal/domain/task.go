// Package domain contains core domain types for the day planner.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DateLayout is the calendar-day format used for task target dates and plan requests.
const DateLayout = "2006-01-02"

// MaxTaskTitleLength bounds task titles in characters.
const MaxTaskTitleLength = 200

// Priority ranks how soon a task should be scheduled.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var (
	// ErrInvalidPriority is returned for priorities outside low|medium|high|urgent.
	ErrInvalidPriority = errors.New("priority must be low, medium, high, or urgent")
	// ErrInvalidTitle is returned for empty or oversized task titles.
	ErrInvalidTitle = errors.New("title must be between 1 and 200 characters")
	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("date must be in YYYY-MM-DD format")
)

// ParsePriority validates a priority string. Empty input defaults to medium.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

// Task is a user-entered to-do that the planner tries to place on the calendar.
type Task struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Title      string    `json:"title"`
	Priority   Priority  `json:"priority"`
	Completed  bool      `json:"completed"`
	TargetDate string    `json:"target_date"`
	CreatedAt  time.Time `json:"created_at"`
}

// NormalizeTitle trims a task title and checks its length.
func NormalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > MaxTaskTitleLength {
		return "", ErrInvalidTitle
	}
	return title, nil
}

// ParseDate validates a YYYY-MM-DD calendar day.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// Today returns the current calendar day in loc.
func Today(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.Now().In(loc).Format(DateLayout)
}

// TaskUpdate carries optional edits to a task. Nil fields are left untouched.
type TaskUpdate struct {
	Title     *string   `json:"title,omitempty"`
	Priority  *Priority `json:"priority,omitempty"`
	Completed *bool     `json:"completed,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u TaskUpdate) IsEmpty() bool {
	return u.Title == nil && u.Priority == nil && u.Completed == nil
}
