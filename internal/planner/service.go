package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/classify"
	"github.com/ashureev/dayplan/internal/conflict"
	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/generator"
	"github.com/ashureev/dayplan/internal/metrics"
	"github.com/ashureev/dayplan/internal/preferences"
	"github.com/ashureev/dayplan/internal/validate"
)

// Store is the persistence the planning service needs.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListOpenTasks(ctx context.Context, sessionID, date string) ([]domain.Task, error)
	AppendDecision(ctx context.Context, d *domain.Decision) error
	ListDecisions(ctx context.Context, sessionID string, limit int) ([]domain.Decision, error)
	Calendar(sessionID string) calendar.Store
}

// Activator turns autonomous mode on after a user-initiated plan.
type Activator interface {
	Activate(ctx context.Context, sessionID string) (domain.AutonomousMode, error)
}

// Cycle identifies one planning run.
type Cycle struct {
	SessionID string
	// Date is YYYY-MM-DD; empty means today in the session's zone.
	Date string
	// Trigger is empty for user-initiated runs and names the cause otherwise.
	Trigger string
}

// Autonomous reports whether the run was started without the user.
func (c Cycle) Autonomous() bool { return c.Trigger != "" }

// CycleResult is what a planning run did.
type CycleResult struct {
	Decisions []domain.Decision `json:"decisions"`
	Summary   string            `json:"summary"`
	Outcome   Outcome           `json:"outcome,omitempty"`
	Backend   string            `json:"backend,omitempty"`
	Date      string            `json:"date"`
	// Skipped is set when an autonomous run found nothing to schedule.
	Skipped bool `json:"skipped,omitempty"`
}

// Service runs planning cycles against the stores.
type Service struct {
	store        Store
	orchestrator *Orchestrator
	activator    Activator
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewService wires a planning service. activator and m may be nil.
func NewService(store Store, orchestrator *Orchestrator, activator Activator, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		orchestrator: orchestrator,
		activator:    activator,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
}

// RunPlanningCycle plans one day for a session and applies the accepted
// actions one by one. A failed action is logged as an error decision and the
// rest still run. Only a missing session or an unreadable store is an error;
// planning failures come back as a summary.
func (s *Service) RunPlanningCycle(ctx context.Context, c Cycle) (*CycleResult, error) {
	session, err := s.store.GetSession(ctx, c.SessionID)
	if err != nil {
		return nil, err
	}
	loc := session.Location()
	if c.Date == "" {
		c.Date = s.now().In(loc).Format(domain.DateLayout)
	}
	from, to, err := calendar.DayRange(c.Date, loc)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("session_id", c.SessionID, "date", c.Date)
	if c.Autonomous() {
		logger.Info("Auto-replan triggered", "trigger", c.Trigger)
	}

	tasks, err := s.store.ListOpenTasks(ctx, c.SessionID, c.Date)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if c.Autonomous() && len(tasks) == 0 {
		logger.Info("No tasks to schedule, skipping auto-replan")
		return &CycleResult{Decisions: []domain.Decision{}, Summary: "No tasks to schedule", Date: c.Date, Skipped: true}, nil
	}

	cal := s.store.Calendar(c.SessionID)
	events, err := cal.List(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	req := generator.Request{
		Date:         c.Date,
		Now:          s.now().UTC(),
		Events:       events,
		Tasks:        classify.Enrich(tasks),
		DayStartHour: session.DayStartHour,
		DayEndHour:   session.DayEndHour,
		Preferences:  preferences.BuildPrompt(session.PreferencesText),
	}
	res := s.orchestrator.Plan(ctx, req, validate.New(loc))

	out := &CycleResult{
		Decisions: []domain.Decision{},
		Summary:   res.Plan.Summary,
		Outcome:   res.Outcome,
		Backend:   res.Backend,
		Date:      c.Date,
	}
	if res.Accepted() {
		for _, action := range res.Plan.Actions {
			d := s.apply(ctx, cal, c, action)
			if err := s.store.AppendDecision(ctx, &d); err != nil {
				logger.Error("Failed to log decision", "error", err, "event_id", d.EventID)
			}
			if s.metrics != nil {
				s.metrics.Decisions.WithLabelValues(d.ActionType).Inc()
			}
			out.Decisions = append(out.Decisions, d)
		}
	}
	logger.Info("Planning cycle complete", "decisions", len(out.Decisions), "outcome", res.Outcome)

	if !c.Autonomous() && len(out.Decisions) > 0 && s.activator != nil {
		if _, err := s.activator.Activate(ctx, c.SessionID); err != nil {
			logger.Error("Failed to activate autonomous mode", "error", err)
		} else {
			logger.Info("Autonomous mode activated after successful planning")
		}
	}
	return out, nil
}

// apply performs one action and returns its decision record.
func (s *Service) apply(ctx context.Context, cal calendar.Store, c Cycle, a domain.ScheduleAction) domain.Decision {
	d := domain.Decision{
		ID:        uuid.NewString(),
		SessionID: c.SessionID,
		Trigger:   c.Trigger,
		Timestamp: s.now().UTC(),
	}
	reason := a.Reason
	if c.Autonomous() {
		reason = "Auto: " + a.Reason
	}

	fail := func(err error) domain.Decision {
		s.logger.Error("Action error", "session_id", c.SessionID, "type", a.Type, "error", err)
		d.ActionType = domain.DecisionError
		d.EventID = a.EventID
		d.EventTitle = a.DisplayTitle()
		d.Description = truncate(err.Error(), 200)
		d.Reason = a.Reason
		if c.Autonomous() {
			d.Reason = "Auto-replan failed: " + a.Reason
		}
		return d
	}

	start, end, err := proposedTimes(a)
	if err != nil {
		return fail(err)
	}

	switch a.Type {
	case domain.ActionMove:
		if a.EventID == "" {
			return fail(fmt.Errorf("move_event without event_id"))
		}
		if _, err := cal.Patch(ctx, a.EventID, domain.At(start), domain.At(end)); err != nil {
			return fail(fmt.Errorf("patch event %s: %w", a.EventID, err))
		}
		d.ActionType = string(domain.ActionMove)
		d.EventID = a.EventID
		d.EventTitle = a.EventTitle
		d.Description = describe(c, "Moved to", "Auto-moved to", a.NewStart)
		d.OriginalTime = a.OriginalStart
	case domain.ActionCreate:
		created, err := cal.Insert(ctx, domain.CalendarEvent{
			Title:       a.Title,
			Description: conflict.SystemMarker + ": " + a.Reason,
			Start:       domain.At(start),
			End:         domain.At(end),
		})
		if err != nil {
			return fail(fmt.Errorf("insert event: %w", err))
		}
		d.ActionType = string(domain.ActionCreate)
		d.EventID = created.ID
		d.EventTitle = a.Title
		d.Description = describe(c, "Scheduled at", "Auto-scheduled at", a.Start)
	default:
		return fail(fmt.Errorf("unknown action type %q", a.Type))
	}

	d.Reason = reason
	d.NewTime = a.ProposedStart()
	d.EndTime = a.ProposedEnd()
	return d
}

func proposedTimes(a domain.ScheduleAction) (time.Time, time.Time, error) {
	start, ok := domain.ParseTimestamp(a.ProposedStart())
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time %q", a.ProposedStart())
	}
	end, ok := domain.ParseTimestamp(a.ProposedEnd())
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time %q", a.ProposedEnd())
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is not after start %s", a.ProposedEnd(), a.ProposedStart())
	}
	return start, end, nil
}

// describe renders "<verb> HH:MM" using the wall clock written in ts.
func describe(c Cycle, manual, auto, ts string) string {
	verb := manual
	if c.Autonomous() {
		verb = auto
	}
	return verb + " " + clock(ts)
}

func clock(ts string) string {
	if t, ok := domain.ParseTimestamp(ts); ok {
		return t.Format("15:04")
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
