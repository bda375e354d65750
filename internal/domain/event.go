package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventTime is either a timezone-aware instant or an all-day calendar date.
// Exactly one of DateTime and Date is set.
type EventTime struct {
	DateTime time.Time
	Date     string
}

// At returns a timed EventTime.
func At(t time.Time) EventTime {
	return EventTime{DateTime: t}
}

// OnDate returns an all-day EventTime for a YYYY-MM-DD date.
func OnDate(date string) EventTime {
	return EventTime{Date: date}
}

// IsAllDay reports whether the value is a date without a time of day.
func (t EventTime) IsAllDay() bool {
	return t.Date != "" && t.DateTime.IsZero()
}

// IsZero reports whether neither form is set.
func (t EventTime) IsZero() bool {
	return t.Date == "" && t.DateTime.IsZero()
}

// Instant resolves the value to a point in time. All-day dates resolve to
// midnight in loc.
func (t EventTime) Instant(loc *time.Location) (time.Time, bool) {
	if !t.DateTime.IsZero() {
		return t.DateTime, true
	}
	if t.Date == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, t.Date, loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// String renders the value the way it is exchanged with clients and generators.
func (t EventTime) String() string {
	if !t.DateTime.IsZero() {
		return t.DateTime.Format(time.RFC3339)
	}
	return t.Date
}

type eventTimeJSON struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

// MarshalJSON encodes as {"dateTime": ...} or {"date": ...}.
func (t EventTime) MarshalJSON() ([]byte, error) {
	var out eventTimeJSON
	if !t.DateTime.IsZero() {
		out.DateTime = t.DateTime.Format(time.RFC3339)
	} else {
		out.Date = t.Date
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes {"dateTime": ...} or {"date": ...}.
func (t *EventTime) UnmarshalJSON(data []byte) error {
	var in eventTimeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*t = EventTime{}
	if in.DateTime != "" {
		ts, ok := ParseTimestamp(in.DateTime)
		if !ok {
			return fmt.Errorf("invalid dateTime %q: timezone-aware RFC 3339 required", in.DateTime)
		}
		t.DateTime = ts
		return nil
	}
	if in.Date != "" {
		if _, err := ParseDate(in.Date); err != nil {
			return err
		}
		t.Date = in.Date
	}
	return nil
}

// ParseTimestamp parses a timezone-aware RFC 3339 timestamp. Values without
// an explicit offset are rejected.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// CalendarEvent is an entry in the external calendar.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// IsTimed reports whether both ends carry an instant. Only timed events take
// part in overlap and hour-of-day reasoning.
func (e CalendarEvent) IsTimed() bool {
	return !e.Start.DateTime.IsZero() && !e.End.DateTime.IsZero()
}

// Duration returns the length of a timed event, or zero.
func (e CalendarEvent) Duration() time.Duration {
	if !e.IsTimed() {
		return 0
	}
	return e.End.DateTime.Sub(e.Start.DateTime)
}
