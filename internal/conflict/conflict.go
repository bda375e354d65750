// Package conflict finds overlapping calendar commitments and recommends
// which side of an overlap to move.
package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/dayplan/internal/domain"
)

// SystemMarker is written into the description of every event the planner
// creates. Events carrying it are always considered reschedulable.
const SystemMarker = "Created by Dayplan"

// moveShorterThreshold splits the both-flexible case on overlap minutes.
const moveShorterThreshold = 45

// EventSummary identifies one side of a conflict.
type EventSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func summarize(e domain.CalendarEvent) EventSummary {
	title := e.Title
	if title == "" {
		title = "Untitled"
	}
	return EventSummary{ID: e.ID, Title: title, Start: e.Start.String(), End: e.End.String()}
}

// Conflict is a pair of overlapping timed events.
type Conflict struct {
	Event1         EventSummary `json:"event1"`
	Event2         EventSummary `json:"event2"`
	OverlapMinutes int          `json:"overlap_minutes"`
}

// Detect returns every overlapping pair of timed events. All-day events are
// ignored. Event1 is the pair member that starts first.
func Detect(events []domain.CalendarEvent) []Conflict {
	timed := make([]domain.CalendarEvent, 0, len(events))
	for _, e := range events {
		if e.IsTimed() {
			timed = append(timed, e)
		}
	}
	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].Start.DateTime.Before(timed[j].Start.DateTime)
	})

	conflicts := []Conflict{}
	for i := 0; i < len(timed); i++ {
		for j := i + 1; j < len(timed); j++ {
			a, b := timed[i], timed[j]
			minutes, ok := overlap(a.Start.DateTime, a.End.DateTime, b.Start.DateTime, b.End.DateTime)
			if !ok {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Event1:         summarize(a),
				Event2:         summarize(b),
				OverlapMinutes: minutes,
			})
		}
	}
	return conflicts
}

// overlap applies the strict intersection test and returns the floored size
// of the intersection in minutes.
func overlap(start1, end1, start2, end2 time.Time) (int, bool) {
	if !(start1.Before(end2) && end1.After(start2)) {
		return 0, false
	}
	lo, hi := start1, end1
	if start2.After(lo) {
		lo = start2
	}
	if end2.Before(hi) {
		hi = end2
	}
	return int(hi.Sub(lo) / time.Minute), true
}

// Overlapping returns the timed events, other than id, that intersect
// [start, end).
func Overlapping(events []domain.CalendarEvent, id string, start, end time.Time) []EventSummary {
	out := []EventSummary{}
	for _, e := range events {
		if e.ID == id || !e.IsTimed() {
			continue
		}
		if _, ok := overlap(start, end, e.Start.DateTime, e.End.DateTime); ok {
			out = append(out, summarize(e))
		}
	}
	return out
}

// IsFlexible reports whether an event looks reschedulable: planner-authored or
// with no other invited parties.
func IsFlexible(e domain.CalendarEvent) bool {
	return strings.Contains(e.Description, SystemMarker) || len(e.Attendees) <= 1
}

// FlexibleEvents returns the ids of reschedulable events in input order.
func FlexibleEvents(events []domain.CalendarEvent) []string {
	ids := []string{}
	for _, e := range events {
		if IsFlexible(e) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Strategy names a resolution.
type Strategy string

const (
	MoveEvent1   Strategy = "move_event1"
	MoveEvent2   Strategy = "move_event2"
	MoveShorter  Strategy = "move_shorter"
	ManualReview Strategy = "manual_review"
)

// Resolution is a recommendation; nothing is changed by producing one.
type Resolution struct {
	Strategy    Strategy `json:"strategy"`
	EventToMove string   `json:"event_to_move,omitempty"`
	Reason      string   `json:"reason"`
}

// Automatic reports whether the resolution names an event to move.
func (r Resolution) Automatic() bool {
	return r.Strategy != ManualReview && r.EventToMove != ""
}

// Suggest recommends how to resolve c given the day's events. Tasks are
// accepted for urgency-aware strategies but do not currently change the result.
func Suggest(c Conflict, _ []domain.Task, events []domain.CalendarEvent) Resolution {
	flexible := make(map[string]bool, len(events))
	for _, id := range FlexibleEvents(events) {
		flexible[id] = true
	}
	flex1, flex2 := flexible[c.Event1.ID], flexible[c.Event2.ID]

	switch {
	case flex1 && !flex2:
		return Resolution{
			Strategy:    MoveEvent1,
			EventToMove: c.Event1.ID,
			Reason:      fmt.Sprintf("%s is flexible and can be rescheduled", c.Event1.Title),
		}
	case flex2 && !flex1:
		return Resolution{
			Strategy:    MoveEvent2,
			EventToMove: c.Event2.ID,
			Reason:      fmt.Sprintf("%s is flexible and can be rescheduled", c.Event2.Title),
		}
	case flex1 && flex2:
		target := c.Event2.ID
		if c.OverlapMinutes < moveShorterThreshold {
			target = c.Event1.ID
		}
		return Resolution{
			Strategy:    MoveShorter,
			EventToMove: target,
			Reason:      "Moving shorter event to minimize disruption",
		}
	default:
		return Resolution{
			Strategy: ManualReview,
			Reason:   "Both events appear to be important external commitments. Manual review recommended.",
		}
	}
}

var urgencyScores = map[domain.Priority]int{
	domain.PriorityUrgent: 90,
	domain.PriorityHigh:   70,
	domain.PriorityMedium: 40,
	domain.PriorityLow:    20,
}

// TaskUrgency scores a task 0-100 from its priority. Unknown priorities score
// as medium.
func TaskUrgency(t domain.Task) int {
	if s, ok := urgencyScores[t.Priority]; ok {
		return s
	}
	return urgencyScores[domain.PriorityMedium]
}
