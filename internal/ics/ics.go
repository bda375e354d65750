// Package ics imports iCalendar payloads into a session calendar, expanding
// recurring events over a bounded window.
package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/domain"
)

const defaultMaxOccurrences = 500

// ErrEmpty is returned for an empty payload.
var ErrEmpty = errors.New("empty ICS body")

// Options controls parsing and recurrence expansion.
type Options struct {
	// Location resolves floating times and all-day dates. Nil means UTC.
	Location *time.Location
	// From and To bound the occurrences produced, as [From, To).
	From, To time.Time
	// MaxOccurrences caps each recurring event. Zero means 500.
	MaxOccurrences int
	Logger         *slog.Logger
}

// Result is the outcome of parsing one payload.
type Result struct {
	Events []domain.CalendarEvent
	// Skipped counts VEVENTs that could not be read.
	Skipped int
	// Truncated lists UIDs that hit MaxOccurrences.
	Truncated []string
}

type vevent struct {
	uid         string
	summary     string
	description string
	attendees   []string
	start, end  time.Time
	allDay      bool
	rrule       string
	exdates     []time.Time
	recurrence  *time.Time
}

// Parse reads an ICS payload and returns the events that fall in the window.
func Parse(r io.Reader, opts Options) (Result, error) {
	var res Result
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = defaultMaxOccurrences
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if !opts.To.After(opts.From) {
		return res, errors.New("ics: window end must be after start")
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return res, fmt.Errorf("read ICS: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return res, ErrEmpty
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("parse ICS: %w", err)
	}

	var bases []vevent
	overrides := map[string][]vevent{}
	for _, ve := range cal.Events() {
		ev, err := readVEvent(ve, opts.Location)
		if err != nil {
			opts.Logger.Warn("Skipping unreadable VEVENT", "error", err)
			res.Skipped++
			continue
		}
		if ev.recurrence != nil {
			overrides[ev.uid] = append(overrides[ev.uid], ev)
			continue
		}
		bases = append(bases, ev)
	}

	for _, ev := range bases {
		if ev.rrule == "" {
			res.add(toEvent(ev, ev.uid, ev.start, ev.end, opts.Location), opts)
			continue
		}
		truncated, err := res.expand(ev, overrides[ev.uid], opts)
		if err != nil {
			opts.Logger.Warn("Skipping event with bad RRULE", "uid", ev.uid, "rrule", ev.rrule, "error", err)
			res.Skipped++
			continue
		}
		if truncated {
			res.Truncated = append(res.Truncated, ev.uid)
		}
	}

	calendar.SortByStart(res.Events, opts.Location)
	opts.Logger.Info("ICS parse completed", "events", len(res.Events), "skipped", res.Skipped)
	return res, nil
}

func (r *Result) add(e domain.CalendarEvent, opts Options) {
	if calendar.Intersects(e, opts.From, opts.To) {
		r.Events = append(r.Events, e)
	}
}

func (r *Result) expand(ev vevent, overrides []vevent, opts Options) (bool, error) {
	rule, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		return false, err
	}
	rule.DTStart(ev.start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	dur := ev.end.Sub(ev.start)
	// Start early enough to catch occurrences already running at From.
	starts := set.Between(opts.From.Add(-dur).In(ev.start.Location()), opts.To.In(ev.start.Location()), true)
	truncated := false
	if len(starts) > opts.MaxOccurrences {
		starts = starts[:opts.MaxOccurrences]
		truncated = true
	}

	for _, start := range starts {
		id := instanceID(ev, start)
		if o, ok := findOverride(overrides, start); ok {
			r.add(toEvent(o, id, o.start, o.end, opts.Location), opts)
			continue
		}
		r.add(toEvent(ev, id, start, start.Add(dur), opts.Location), opts)
	}
	return truncated, nil
}

func findOverride(overrides []vevent, start time.Time) (vevent, bool) {
	for _, o := range overrides {
		if o.recurrence.Equal(start) {
			return o, true
		}
	}
	return vevent{}, false
}

func instanceID(ev vevent, start time.Time) string {
	if ev.allDay {
		return ev.uid + "_" + start.Format("20060102")
	}
	return ev.uid + "_" + start.UTC().Format("20060102T150405Z")
}

func toEvent(ev vevent, id string, start, end time.Time, loc *time.Location) domain.CalendarEvent {
	e := domain.CalendarEvent{
		ID:          id,
		Title:       ev.summary,
		Description: ev.description,
		Attendees:   ev.attendees,
	}
	if ev.allDay {
		e.Start = domain.OnDate(start.Format(domain.DateLayout))
		e.End = domain.OnDate(end.Format(domain.DateLayout))
		return e
	}
	e.Start = domain.At(start.In(loc))
	e.End = domain.At(end.In(loc))
	return e
}

func readVEvent(ve *ical.VEvent, loc *time.Location) (vevent, error) {
	var ev vevent
	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.uid = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.description = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		addr := strings.TrimPrefix(strings.TrimPrefix(p.Value, "mailto:"), "MAILTO:")
		if addr != "" {
			ev.attendees = append(ev.attendees, addr)
		}
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return ev, errors.New("missing DTSTART")
	}
	start, allDay, err := propTime(dtstart, loc)
	if err != nil {
		return ev, fmt.Errorf("DTSTART: %w", err)
	}
	ev.start, ev.allDay = start, allDay

	switch dtend := ve.GetProperty(ical.ComponentPropertyDtEnd); {
	case dtend != nil:
		if ev.end, _, err = propTime(dtend, loc); err != nil {
			return ev, fmt.Errorf("DTEND: %w", err)
		}
	case allDay:
		ev.end = start.AddDate(0, 0, 1)
	default:
		ev.end = start
	}
	if ev.end.Before(ev.start) {
		return ev, errors.New("DTEND before DTSTART")
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(part), tzParam(p, loc)); err == nil {
				ev.exdates = append(ev.exdates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		if t, _, err := propTime(p, loc); err == nil {
			ev.recurrence = &t
		}
	}
	return ev, nil
}

// propTime reads a DATE or DATE-TIME property honoring TZID.
func propTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	allDay := !strings.Contains(p.Value, "T")
	if vs, ok := p.ICalParameters[string(ical.ParameterValue)]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}
	t, err := parseICSTime(p.Value, tzParam(p, loc))
	return t, allDay, err
}

func tzParam(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if tzs, ok := p.ICalParameters[string(ical.ParameterTzid)]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return fallback
}

// parseICSTime parses 20240115T090000Z, 20240115T090000 (in loc) or 20240115.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

// Import inserts events into cal and returns how many were stored.
// Re-importing the same payload replaces the earlier copies.
func Import(ctx context.Context, cal calendar.Store, events []domain.CalendarEvent) (int, error) {
	n := 0
	for _, e := range events {
		if _, err := cal.Insert(ctx, e); err != nil {
			return n, fmt.Errorf("insert %s: %w", e.ID, err)
		}
		n++
	}
	return n, nil
}
