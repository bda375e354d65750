package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/conflict"
	"github.com/ashureev/dayplan/internal/domain"
)

// ErrInvalidMove is returned for a manual move with bad timestamps.
var ErrInvalidMove = errors.New("invalid move")

// MoveResult reports a manual move and what it now overlaps.
type MoveResult struct {
	Event     domain.CalendarEvent    `json:"event"`
	Conflicts []conflict.EventSummary `json:"conflicts"`
	Warning   string                  `json:"warning,omitempty"`
}

// ManualMove moves an event to [newStart, newEnd) and lists the timed events
// it overlaps on that day. Overlaps do not block the move.
func (s *Service) ManualMove(ctx context.Context, sessionID, eventID, newStart, newEnd string) (*MoveResult, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	start, ok := domain.ParseTimestamp(newStart)
	if !ok {
		return nil, fmt.Errorf("%w: start %q", ErrInvalidMove, newStart)
	}
	end, ok := domain.ParseTimestamp(newEnd)
	if !ok {
		return nil, fmt.Errorf("%w: end %q", ErrInvalidMove, newEnd)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidMove)
	}

	cal := s.store.Calendar(sessionID)
	original, err := cal.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	loc := session.Location()
	from, to, err := calendar.DayRange(start.In(loc).Format(domain.DateLayout), loc)
	if err != nil {
		return nil, err
	}
	dayEvents, err := cal.List(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	overlaps := conflict.Overlapping(dayEvents, eventID, start, end)

	updated, err := cal.Patch(ctx, eventID, domain.At(start), domain.At(end))
	if err != nil {
		return nil, fmt.Errorf("patch event %s: %w", eventID, err)
	}

	titles := make([]string, len(overlaps))
	for i, o := range overlaps {
		titles[i] = o.Title
	}
	d := domain.Decision{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		ActionType:        domain.DecisionMoveManual,
		EventID:           eventID,
		EventTitle:        updated.Title,
		Description:       "Manually moved to " + start.Format("15:04"),
		Reason:            "User manual drag-and-drop",
		OriginalTime:      original.Start.String(),
		NewTime:           newStart,
		EndTime:           newEnd,
		ConflictingEvents: titles,
		Timestamp:         s.now().UTC(),
	}
	if err := s.store.AppendDecision(ctx, &d); err != nil {
		s.logger.Error("Failed to log decision", "session_id", sessionID, "event_id", eventID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(d.ActionType).Inc()
	}

	res := &MoveResult{Event: updated, Conflicts: overlaps}
	if len(overlaps) > 0 {
		res.Warning = "Conflict detected"
	}
	return res, nil
}

// ResetResult summarizes a reset-to-plan run.
type ResetResult struct {
	Restored int      `json:"restored_count"`
	Skipped  int      `json:"skipped_count"`
	Errors   []string `json:"errors"`
}

const (
	resetDecisionLimit = 100
	resetErrorLimit    = 5
	defaultResetLength = 30 * time.Minute
)

// ResetToPlan puts every event the planner placed back at its planned time.
// Manual moves are not plans and are ignored; decisions without an event are
// counted as skipped.
func (s *Service) ResetToPlan(ctx context.Context, sessionID string) (*ResetResult, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	decisions, err := s.store.ListDecisions(ctx, sessionID, resetDecisionLimit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}

	cal := s.store.Calendar(sessionID)
	res := &ResetResult{Errors: []string{}}
	// Oldest first so the latest plan for an event wins.
	for i := len(decisions) - 1; i >= 0; i-- {
		d := decisions[i]
		if d.NewTime == "" || d.ActionType == domain.DecisionMoveManual {
			continue
		}
		if d.EventID == "" {
			res.Skipped++
			s.logger.Warn("Skipping decision without event", "session_id", sessionID, "decision_id", d.ID)
			continue
		}
		start, ok := domain.ParseTimestamp(d.NewTime)
		if !ok {
			res.Skipped++
			continue
		}
		end, ok := domain.ParseTimestamp(d.EndTime)
		if !ok {
			end = start.Add(defaultResetLength)
		}
		if _, err := cal.Patch(ctx, d.EventID, domain.At(start), domain.At(end)); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", d.EventTitle, truncate(err.Error(), 100)))
			s.logger.Error("Reset error", "session_id", sessionID, "event_id", d.EventID, "error", err)
			continue
		}
		res.Restored++
	}
	s.logger.Info("Reset complete", "session_id", sessionID, "restored", res.Restored, "skipped", res.Skipped, "errors", len(res.Errors))
	if len(res.Errors) > resetErrorLimit {
		res.Errors = res.Errors[:resetErrorLimit]
	}
	return res, nil
}
