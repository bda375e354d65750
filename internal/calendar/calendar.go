// Package calendar defines the calendar store the planner reads and patches.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/dayplan/internal/domain"
)

// ErrEventNotFound is returned when an event id does not exist.
var ErrEventNotFound = errors.New("event not found")

// Store is one owner's calendar.
type Store interface {
	// List returns events intersecting [from, to), ordered by start.
	List(ctx context.Context, from, to time.Time) ([]domain.CalendarEvent, error)

	// Get returns a single event.
	Get(ctx context.Context, id string) (domain.CalendarEvent, error)

	// Insert stores a new event, assigning an id when empty.
	Insert(ctx context.Context, e domain.CalendarEvent) (domain.CalendarEvent, error)

	// Patch changes an event's start and end.
	Patch(ctx context.Context, id string, start, end domain.EventTime) (domain.CalendarEvent, error)

	// Delete removes an event. Deleting a missing event is not an error.
	Delete(ctx context.Context, id string) error
}

// DayRange returns [00:00, next 00:00) of date in loc.
func DayRange(date string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(domain.DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidDate, date)
	}
	return start, start.AddDate(0, 0, 1), nil
}

// Intersects reports whether e overlaps [from, to). All-day events are
// compared by date in from's location.
func Intersects(e domain.CalendarEvent, from, to time.Time) bool {
	if e.IsTimed() {
		return e.Start.DateTime.Before(to) && e.End.DateTime.After(from)
	}
	loc := from.Location()
	start, ok := e.Start.Instant(loc)
	if !ok {
		return false
	}
	end, ok := e.End.Instant(loc)
	if !ok || !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}
	return start.Before(to) && end.After(from)
}

// SortByStart orders events by start, all-day entries first on their date.
func SortByStart(events []domain.CalendarEvent, loc *time.Location) {
	sort.SliceStable(events, func(i, j int) bool {
		a, _ := events[i].Start.Instant(loc)
		b, _ := events[j].Start.Instant(loc)
		return a.Before(b)
	})
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	events map[string]domain.CalendarEvent
}

// NewMemory returns a Store seeded with events.
func NewMemory(events ...domain.CalendarEvent) *Memory {
	m := &Memory{events: make(map[string]domain.CalendarEvent, len(events))}
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		m.events[e.ID] = e
	}
	return m
}

// List implements Store.
func (m *Memory) List(_ context.Context, from, to time.Time) ([]domain.CalendarEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.CalendarEvent{}
	for _, e := range m.events {
		if Intersects(e, from, to) {
			out = append(out, e)
		}
	}
	SortByStart(out, from.Location())
	return out, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, id string) (domain.CalendarEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return domain.CalendarEvent{}, ErrEventNotFound
	}
	return e, nil
}

// Insert implements Store.
func (m *Memory) Insert(_ context.Context, e domain.CalendarEvent) (domain.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.events[e.ID] = e
	return e, nil
}

// Patch implements Store.
func (m *Memory) Patch(_ context.Context, id string, start, end domain.EventTime) (domain.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return domain.CalendarEvent{}, ErrEventNotFound
	}
	e.Start, e.End = start, end
	m.events[id] = e
	return e, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, id)
	return nil
}
