package replan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/conflict"
	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/metrics"
)

// DefaultSchedule sweeps every fifteen minutes.
const DefaultSchedule = "*/15 * * * *"

// SessionSource lists sessions to watch and opens their calendars.
type SessionSource interface {
	ListAutonomousSessions(ctx context.Context) ([]domain.Session, error)
	Calendar(sessionID string) calendar.Store
}

// Enqueuer accepts replan triggers.
type Enqueuer interface {
	Enqueue(t Trigger) (bool, error)
}

// Monitor periodically checks autonomous sessions for conflicts that have an
// automatic resolution and asks the worker to re-plan them.
type Monitor struct {
	source  SessionSource
	worker  Enqueuer
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewMonitor creates a monitor. logger and m may be nil.
func NewMonitor(source SessionSource, worker Enqueuer, logger *slog.Logger, m *metrics.Metrics) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{source: source, worker: worker, logger: logger, metrics: m, now: time.Now}
}

// Start schedules sweeps on a standard five-field cron spec and stops them
// when ctx is done. Overlapping sweeps are skipped.
func (m *Monitor) Start(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { m.Sweep(ctx) }); err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", spec, err)
	}
	c.Start()
	m.logger.Info("Conflict monitor started", "schedule", spec)

	go func() {
		<-ctx.Done()
		stopped := c.Stop()
		<-stopped.Done()
		m.logger.Info("Conflict monitor shutting down", "reason", ctx.Err())
	}()
	return nil
}

// Sweep checks every autonomous session once and returns how many triggers
// were enqueued.
func (m *Monitor) Sweep(ctx context.Context) int {
	sessions, err := m.source.ListAutonomousSessions(ctx)
	if err != nil {
		m.logger.Error("Conflict monitor failed to list sessions", "error", err)
		return 0
	}
	if len(sessions) == 0 {
		return 0
	}

	enqueued := 0
	for i := range sessions {
		if ctx.Err() != nil {
			return enqueued
		}
		sess := &sessions[i]
		if sess.Autonomous.Status == domain.StatusPlanning {
			continue
		}
		ok, err := m.check(ctx, sess)
		if err != nil {
			m.logger.Warn("Conflict monitor failed to check session", "session_id", sess.ID, "error", err)
			continue
		}
		if ok {
			enqueued++
		}
	}
	if enqueued > 0 {
		m.logger.Info("Conflict monitor sweep completed", "sessions", len(sessions), "enqueued", enqueued)
	}
	return enqueued
}

func (m *Monitor) check(ctx context.Context, sess *domain.Session) (bool, error) {
	loc := sess.Location()
	date := m.now().In(loc).Format(domain.DateLayout)
	from, to, err := calendar.DayRange(date, loc)
	if err != nil {
		return false, err
	}
	events, err := m.source.Calendar(sess.ID).List(ctx, from, to)
	if err != nil {
		return false, fmt.Errorf("list events: %w", err)
	}

	conflicts := conflict.Detect(events)
	if len(conflicts) == 0 {
		return false, nil
	}
	if m.metrics != nil {
		m.metrics.ConflictsDetected.Add(float64(len(conflicts)))
	}

	for _, c := range conflicts {
		if !conflict.Suggest(c, nil, events).Automatic() {
			continue
		}
		m.logger.Info("Conflict with automatic resolution found",
			"session_id", sess.ID, "event1", c.Event1.Title, "event2", c.Event2.Title)
		if _, err := m.worker.Enqueue(Trigger{SessionID: sess.ID, Date: date, Reason: ReasonConflictDetected}); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
