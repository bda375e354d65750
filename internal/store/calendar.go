package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/domain"
)

// allDayPad widens range queries so all-day rows, indexed at UTC midnight,
// are fetched for any owner zone and then filtered exactly.
const allDayPad = 24 * time.Hour

// sessionCalendar is the calendar.Store of one session, kept in the events table.
type sessionCalendar struct {
	db        *sql.DB
	sessionID string
}

// Calendar returns the calendar owned by a session.
func (s *SQLiteStore) Calendar(sessionID string) calendar.Store {
	return &sessionCalendar{db: s.db, sessionID: sessionID}
}

const eventColumns = `event_id, title, description, start_text, end_text, attendees_json`

type encodedEvent struct {
	startText, endText string
	startUnix, endUnix int64
	allDay             bool
	attendees          any
}

func encodeTime(t domain.EventTime) (string, int64, error) {
	if !t.DateTime.IsZero() {
		return t.DateTime.Format(time.RFC3339Nano), t.DateTime.Unix(), nil
	}
	if t.Date != "" {
		d, err := domain.ParseDate(t.Date)
		if err != nil {
			return "", 0, err
		}
		return t.Date, d.Unix(), nil
	}
	return "", 0, errors.New("event time is empty")
}

func decodeTime(text string) domain.EventTime {
	if ts, ok := domain.ParseTimestamp(text); ok {
		return domain.At(ts)
	}
	return domain.OnDate(text)
}

func encodeEvent(e domain.CalendarEvent) (encodedEvent, error) {
	var enc encodedEvent
	var err error
	if enc.startText, enc.startUnix, err = encodeTime(e.Start); err != nil {
		return enc, fmt.Errorf("start: %w", err)
	}
	end := e.End
	if end.IsZero() && e.Start.IsAllDay() {
		d, _ := domain.ParseDate(e.Start.Date)
		end = domain.OnDate(d.AddDate(0, 0, 1).Format(domain.DateLayout))
	}
	if enc.endText, enc.endUnix, err = encodeTime(end); err != nil {
		return enc, fmt.Errorf("end: %w", err)
	}
	if enc.endUnix < enc.startUnix {
		return enc, errors.New("end is before start")
	}
	enc.allDay = e.Start.IsAllDay()
	if enc.attendees, err = nullJSON(e.Attendees); err != nil {
		return enc, fmt.Errorf("attendees: %w", err)
	}
	return enc, nil
}

func scanEvent(row rowScanner) (domain.CalendarEvent, error) {
	var e domain.CalendarEvent
	var startText, endText string
	var attendees sql.NullString
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &startText, &endText, &attendees); err != nil {
		return domain.CalendarEvent{}, err
	}
	e.Start = decodeTime(startText)
	e.End = decodeTime(endText)
	e.Attendees = decodeStrings(attendees)
	return e, nil
}

// List returns events intersecting [from, to), ordered by start.
func (c *sessionCalendar) List(ctx context.Context, from, to time.Time) ([]domain.CalendarEvent, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE session_id = ?
		  AND ((all_day = 0 AND start_unix < ? AND end_unix > ?)
		    OR (all_day = 1 AND start_unix < ? AND end_unix > ?))`,
		c.sessionID,
		to.Unix(), from.Unix(),
		to.Add(allDayPad).Unix(), from.Add(-allDayPad).Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	events := []domain.CalendarEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if calendar.Intersects(e, from, to) {
			events = append(events, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	calendar.SortByStart(events, from.Location())
	return events, nil
}

// Get returns a single event.
func (c *sessionCalendar) Get(ctx context.Context, id string) (domain.CalendarEvent, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE session_id = ? AND event_id = ?`, c.sessionID, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CalendarEvent{}, calendar.ErrEventNotFound
	}
	if err != nil {
		return domain.CalendarEvent{}, fmt.Errorf("scan event row: %w", err)
	}
	return e, nil
}

// Insert stores a new event, assigning an id when empty. Inserting an
// existing id replaces it, which keeps repeated ICS imports idempotent.
func (c *sessionCalendar) Insert(ctx context.Context, e domain.CalendarEvent) (domain.CalendarEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	enc, err := encodeEvent(e)
	if err != nil {
		return domain.CalendarEvent{}, fmt.Errorf("encode event: %w", err)
	}
	err = withRetry(ctx, "insert event", func() error {
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO events (event_id, session_id, title, description, start_text, end_text,
				start_unix, end_unix, all_day, attendees_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, event_id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				start_text = excluded.start_text,
				end_text = excluded.end_text,
				start_unix = excluded.start_unix,
				end_unix = excluded.end_unix,
				all_day = excluded.all_day,
				attendees_json = excluded.attendees_json`,
			e.ID, c.sessionID, e.Title, e.Description, enc.startText, enc.endText,
			enc.startUnix, enc.endUnix, enc.allDay, enc.attendees, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CalendarEvent{}, err
	}
	return c.Get(ctx, e.ID)
}

// Patch changes an event's start and end.
func (c *sessionCalendar) Patch(ctx context.Context, id string, start, end domain.EventTime) (domain.CalendarEvent, error) {
	enc, err := encodeEvent(domain.CalendarEvent{Start: start, End: end})
	if err != nil {
		return domain.CalendarEvent{}, fmt.Errorf("encode times: %w", err)
	}
	err = withRetry(ctx, "patch event", func() error {
		result, err := c.db.ExecContext(ctx, `
			UPDATE events SET start_text = ?, end_text = ?, start_unix = ?, end_unix = ?, all_day = ?
			WHERE session_id = ? AND event_id = ?`,
			enc.startText, enc.endText, enc.startUnix, enc.endUnix, enc.allDay, c.sessionID, id)
		if err != nil {
			return fmt.Errorf("patch event: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return calendar.ErrEventNotFound
		}
		return nil
	})
	if err != nil {
		return domain.CalendarEvent{}, err
	}
	return c.Get(ctx, id)
}

// Delete removes an event. Deleting a missing event is not an error.
func (c *sessionCalendar) Delete(ctx context.Context, id string) error {
	return withRetry(ctx, "delete event", func() error {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ? AND event_id = ?`, c.sessionID, id); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		return nil
	})
}
