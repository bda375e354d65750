package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/conflict"
	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/ics"
	"github.com/ashureev/dayplan/internal/identity"
)

const (
	maxICSBytes       = 10 << 20
	defaultImportDays = 30
	maxImportDays     = 366
	maxRangeDays      = 31
)

// eventView is the calendar event shape the client renders.
type eventView struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Description string   `json:"description"`
	Attendees   []string `json:"attendees,omitempty"`
	IsAllDay    bool     `json:"is_all_day"`
	IsPlanned   bool     `json:"is_planner_created"`
}

func viewOf(e domain.CalendarEvent) eventView {
	title := e.Title
	if title == "" {
		title = "No Title"
	}
	return eventView{
		ID:          e.ID,
		Title:       title,
		Start:       e.Start.String(),
		End:         e.End.String(),
		Description: e.Description,
		Attendees:   e.Attendees,
		IsAllDay:    e.Start.IsAllDay(),
		IsPlanned:   strings.Contains(e.Description, conflict.SystemMarker),
	}
}

// ListEvents returns one day of events, or the days from date through
// end_date inclusive.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	sess := identity.SessionFromContext(r.Context())
	q := r.URL.Query()
	date, endDate := q.Get("date"), q.Get("end_date")

	var events []domain.CalendarEvent
	var err error
	if endDate == "" {
		events, _, err = h.dayEvents(r, sess, date)
	} else {
		events, err = h.rangeEvents(r, sess, date, endDate)
	}
	if err != nil {
		h.fail(w, r, "list events", err)
		return
	}

	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, viewOf(e))
	}
	JSON(w, http.StatusOK, views)
}

func (h *Handler) rangeEvents(r *http.Request, sess *domain.Session, date, endDate string) ([]domain.CalendarEvent, error) {
	loc := sess.Location()
	if date == "" {
		date = domain.Today(loc)
	}
	from, _, err := calendar.DayRange(date, loc)
	if err != nil {
		return nil, err
	}
	_, to, err := calendar.DayRange(endDate, loc)
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, badRequest("end_date must not be before date")
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour+time.Hour {
		return nil, badRequest("range must be at most %d days", maxRangeDays)
	}
	return h.repo.Calendar(sess.ID).List(r.Context(), from, to)
}

type moveRequest struct {
	EventID  string `json:"event_id"`
	NewStart string `json:"new_start"`
	NewEnd   string `json:"new_end"`
}

// MoveEvent applies a user drag-and-drop and reports any overlaps.
func (h *Handler) MoveEvent(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "move event", err)
		return
	}
	if req.EventID == "" {
		h.fail(w, r, "move event", badRequest("event_id is required"))
		return
	}

	res, err := h.planner.ManualMove(r.Context(), identity.SessionIDFromContext(r.Context()), req.EventID, req.NewStart, req.NewEnd)
	if err != nil {
		h.fail(w, r, "move event", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"event":     viewOf(res.Event),
		"conflicts": res.Conflicts,
		"warning":   res.Warning,
	})
}

// DeleteEvent removes an event. Deleting an event that is already gone
// succeeds.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	eventID := chi.URLParam(r, "eventID")
	if err := h.repo.Calendar(sessionID).Delete(r.Context(), eventID); err != nil {
		h.fail(w, r, "delete event", err)
		return
	}
	h.logger.Info("Deleted event", "session_id", sessionID, "event_id", eventID)
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

// ImportICS loads an iCalendar body into the session calendar. Recurring
// events are expanded from the from date (default today) for days days
// (default 30).
func (h *Handler) ImportICS(w http.ResponseWriter, r *http.Request) {
	sess := identity.SessionFromContext(r.Context())
	loc := sess.Location()
	q := r.URL.Query()

	fromDate := q.Get("from")
	if fromDate == "" {
		fromDate = domain.Today(loc)
	}
	from, _, err := calendar.DayRange(fromDate, loc)
	if err != nil {
		h.fail(w, r, "import ICS", err)
		return
	}
	days := defaultImportDays
	if s := q.Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxImportDays {
			h.fail(w, r, "import ICS", badRequest("days must be between 1 and %d", maxImportDays))
			return
		}
		days = n
	}

	res, err := ics.Parse(http.MaxBytesReader(w, r.Body, maxICSBytes), ics.Options{
		Location: loc,
		From:     from,
		To:       from.AddDate(0, 0, days),
		Logger:   h.logger,
	})
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			err = badRequest("%v", err)
		}
		h.fail(w, r, "import ICS", err)
		return
	}
	n, err := ics.Import(r.Context(), h.repo.Calendar(sess.ID), res.Events)
	if err != nil {
		h.fail(w, r, "import ICS", err)
		return
	}
	h.logger.Info("Imported ICS", "session_id", sess.ID, "imported", n, "skipped", res.Skipped)
	JSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"imported_count": n,
		"skipped_count":  res.Skipped,
		"truncated":      res.Truncated,
	})
}
