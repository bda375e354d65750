package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/conflict"
	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/identity"
	"github.com/ashureev/dayplan/internal/planner"
	"github.com/ashureev/dayplan/internal/replan"
)

const (
	defaultDecisionLimit = 100
	maxDecisionLimit     = 500
)

type planRequest struct {
	Date string `json:"date"`
}

// Plan runs one user-initiated planning cycle. Planning failures still
// return 200 with an explanatory summary.
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			h.fail(w, r, "plan", err)
			return
		}
	}
	if req.Date == "" {
		req.Date = r.URL.Query().Get("date")
	}
	if req.Date != "" {
		if _, err := domain.ParseDate(req.Date); err != nil {
			h.fail(w, r, "plan", err)
			return
		}
	}

	sessionID := identity.SessionIDFromContext(r.Context())
	var res *planner.CycleResult
	run := func(ctx context.Context, date string) error {
		var err error
		res, err = h.planner.RunPlanningCycle(ctx, planner.Cycle{SessionID: sessionID, Date: date})
		return err
	}

	var err error
	if h.replan != nil {
		// Shares the per-date slot with background replans.
		err = h.replan.Do(r.Context(), sessionID, req.Date, run)
	} else {
		err = run(r.Context(), req.Date)
	}
	switch {
	case errors.Is(err, replan.ErrBusy):
		h.logger.Warn("Planning already in progress", "session_id", sessionID, "date", req.Date)
		Error(w, http.StatusConflict, "planning_in_progress")
	case errors.Is(err, replan.ErrStopped):
		Error(w, http.StatusServiceUnavailable, "shutting_down")
	case err != nil:
		h.fail(w, r, "plan", err)
	default:
		JSON(w, http.StatusOK, res)
	}
}

// ListDecisions returns the decision log, newest first.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	limit := defaultDecisionLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.fail(w, r, "list decisions", badRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxDecisionLimit)
	}
	decisions, err := h.repo.ListDecisions(r.Context(), identity.SessionIDFromContext(r.Context()), limit)
	if err != nil {
		h.fail(w, r, "list decisions", err)
		return
	}
	JSON(w, http.StatusOK, decisions)
}

// ClearDecisions empties the decision log.
func (h *Handler) ClearDecisions(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	n, err := h.repo.ClearDecisions(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, "clear decisions", err)
		return
	}
	h.logger.Info("Cleared decisions", "session_id", sessionID, "deleted", n)
	JSON(w, http.StatusOK, map[string]any{"success": true, "deleted_count": n})
}

type conflictView struct {
	conflict.Conflict
	Resolution conflict.Resolution `json:"resolution"`
}

// DetectConflicts lists overlapping timed events on a day with a suggested
// resolution for each.
func (h *Handler) DetectConflicts(w http.ResponseWriter, r *http.Request) {
	sess := identity.SessionFromContext(r.Context())
	events, date, err := h.dayEvents(r, sess, r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, "detect conflicts", err)
		return
	}
	tasks, err := h.repo.ListOpenTasks(r.Context(), sess.ID, date)
	if err != nil {
		h.fail(w, r, "detect conflicts", err)
		return
	}

	found := conflict.Detect(events)
	views := make([]conflictView, 0, len(found))
	for _, c := range found {
		views = append(views, conflictView{Conflict: c, Resolution: conflict.Suggest(c, tasks, events)})
	}
	JSON(w, http.StatusOK, map[string]any{
		"date":            date,
		"conflicts_count": len(views),
		"conflicts":       views,
	})
}

// ResetToPlan restores every planned event to its logged time.
func (h *Handler) ResetToPlan(w http.ResponseWriter, r *http.Request) {
	res, err := h.planner.ResetToPlan(r.Context(), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "reset to plan", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"restored_count": res.Restored,
		"skipped_count":  res.Skipped,
		"errors":         res.Errors,
	})
}

// dayEvents lists one day of the session's calendar. An empty date means
// today in the session's zone.
func (h *Handler) dayEvents(r *http.Request, sess *domain.Session, date string) ([]domain.CalendarEvent, string, error) {
	loc := sess.Location()
	if date == "" {
		date = domain.Today(loc)
	}
	from, to, err := calendar.DayRange(date, loc)
	if err != nil {
		return nil, "", err
	}
	events, err := h.repo.Calendar(sess.ID).List(r.Context(), from, to)
	if err != nil {
		return nil, "", err
	}
	return events, date, nil
}
