// Package replan runs planning cycles in the background for sessions in
// autonomous mode and sweeps those sessions for conflicts on a schedule.
package replan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/dayplan/internal/autonomous"
	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/metrics"
	"github.com/ashureev/dayplan/internal/planner"
)

// Trigger reasons.
const (
	ReasonTaskAdded         = "task_added"
	ReasonPreferenceChanged = "preferences_changed"
	ReasonConflictDetected  = "conflict_detected"
)

const (
	defaultRunTimeout = 2 * time.Minute
	lookupTimeout     = 5 * time.Second
)

var (
	// ErrStopped is returned by Enqueue and Do after Stop.
	ErrStopped = errors.New("replan worker stopped")
	// ErrBusy is returned by Do while the same session and date is planning.
	ErrBusy = errors.New("planning already in progress")
)

// Trigger asks for one background planning run.
type Trigger struct {
	SessionID string
	// Date is YYYY-MM-DD; empty means today in the session's zone.
	Date   string
	Reason string
}

// Runner executes a planning cycle.
type Runner interface {
	RunPlanningCycle(ctx context.Context, c planner.Cycle) (*planner.CycleResult, error)
}

// StatusTracker is the slice of the autonomous state machine the worker drives.
type StatusTracker interface {
	IsActive(ctx context.Context, sessionID string) bool
	UpdateStatus(ctx context.Context, sessionID, status string) (autonomous.Status, error)
	Transition(ctx context.Context, sessionID string, from, to domain.AutonomousStatus) (bool, error)
}

// SessionLookup resolves the session whose zone defines "today".
type SessionLookup interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Publisher delivers run completions to connected clients.
type Publisher interface {
	Publish(sessionID string, v any)
}

// Completion describes a finished background run.
type Completion struct {
	Type       string            `json:"type"`
	SessionID  string            `json:"session_id"`
	Date       string            `json:"date"`
	Reason     string            `json:"reason"`
	Skipped    bool              `json:"skipped"`
	Summary    string            `json:"summary,omitempty"`
	Decisions  []domain.Decision `json:"decisions"`
	Error      string            `json:"error,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}

type key struct {
	sessionID string
	date      string
}

// slot tracks a running key and at most one follow-up trigger.
type slot struct {
	pending *Trigger
}

// Options tunes a Worker.
type Options struct {
	// RunTimeout bounds each planning run. Zero means two minutes.
	RunTimeout time.Duration
	Publisher  Publisher
	// Sessions resolves empty trigger dates. Nil means today in UTC.
	Sessions SessionLookup
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Worker runs at most one planning cycle per (session, date) at a time.
// Triggers arriving during a run collapse into a single follow-up run that
// carries the most recent reason. User-initiated runs claim the same slot
// through Do.
type Worker struct {
	runner   Runner
	status   StatusTracker
	pub      Publisher
	sessions SessionLookup
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	slots   map[key]*slot
	stopped bool
	wg      sync.WaitGroup
}

// NewWorker creates a worker. Runs use a context detached from any request.
func NewWorker(runner Runner, status StatusTracker, opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		runner:   runner,
		status:   status,
		pub:      opts.Publisher,
		sessions: opts.Sessions,
		now:      time.Now,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		timeout:  opts.RunTimeout,
		ctx:      ctx,
		cancel:   cancel,
		slots:    make(map[key]*slot),
	}
}

// resolveDate turns an empty date into today in the session's zone so that
// "" and the explicit date share one key.
func (w *Worker) resolveDate(sessionID, date string) string {
	if date != "" {
		return date
	}
	loc := time.UTC
	if w.sessions != nil {
		ctx, cancel := context.WithTimeout(w.ctx, lookupTimeout)
		defer cancel()
		sess, err := w.sessions.GetSession(ctx, sessionID)
		if err != nil {
			w.logger.Warn("Failed to resolve session zone, using UTC", "session_id", sessionID, "error", err)
		} else {
			loc = sess.Location()
		}
	}
	return w.now().In(loc).Format(domain.DateLayout)
}

// Enqueue schedules a run. It reports false when the trigger was merged into
// an already queued follow-up.
func (w *Worker) Enqueue(t Trigger) (bool, error) {
	if t.Reason == "" {
		t.Reason = "auto_replan"
	}
	t.Date = w.resolveDate(t.SessionID, t.Date)
	k := key{sessionID: t.SessionID, date: t.Date}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false, ErrStopped
	}
	if s, ok := w.slots[k]; ok {
		merged := s.pending != nil
		s.pending = &t
		if merged && w.metrics != nil {
			w.metrics.ReplanCoalesced.Inc()
		}
		w.logger.Debug("Replan already running, queued follow-up",
			"session_id", t.SessionID, "date", t.Date, "reason", t.Reason, "merged", merged)
		return !merged, nil
	}

	w.slots[k] = &slot{}
	w.wg.Add(1)
	go w.loop(k, t)
	return true, nil
}

// Do runs fn in the caller's goroutine while holding the (session, date)
// slot that background runs use. It returns ErrBusy when the slot is taken.
// fn receives the resolved date. Triggers arriving while fn runs become a
// single follow-up started after it returns.
func (w *Worker) Do(ctx context.Context, sessionID, date string, fn func(ctx context.Context, date string) error) error {
	date = w.resolveDate(sessionID, date)
	k := key{sessionID: sessionID, date: date}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	if _, ok := w.slots[k]; ok {
		w.mu.Unlock()
		return ErrBusy
	}
	w.slots[k] = &slot{}
	w.mu.Unlock()

	defer w.release(k)
	return fn(ctx, date)
}

// release frees a slot claimed by Do, handing it to a queued follow-up.
func (w *Worker) release(k key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.slots[k]
	if s.pending == nil || w.stopped {
		delete(w.slots, k)
		return
	}
	t := *s.pending
	s.pending = nil
	w.wg.Add(1)
	go w.loop(k, t)
}

func (w *Worker) loop(k key, t Trigger) {
	defer w.wg.Done()
	for {
		w.run(t)
		var ok bool
		if t, ok = w.next(k); !ok {
			return
		}
	}
}

// next pops the follow-up for k, or frees the slot when there is none.
func (w *Worker) next(k key) (Trigger, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.slots[k]
	if s.pending == nil || w.ctx.Err() != nil {
		delete(w.slots, k)
		return Trigger{}, false
	}
	t := *s.pending
	s.pending = nil
	return t, true
}

func (w *Worker) run(t Trigger) {
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()
	log := w.logger.With("session_id", t.SessionID, "date", t.Date, "reason", t.Reason)

	if !w.status.IsActive(ctx, t.SessionID) {
		log.Info("Autonomous mode inactive, dropping replan trigger")
		w.count("skipped")
		return
	}

	if _, err := w.status.UpdateStatus(ctx, t.SessionID, string(domain.StatusPlanning)); err != nil {
		log.Warn("Failed to mark session as planning", "error", err)
	}

	log.Info("Auto-replan started")
	res, err := w.runner.RunPlanningCycle(ctx, planner.Cycle{SessionID: t.SessionID, Date: t.Date, Trigger: t.Reason})
	if res == nil {
		res = &planner.CycleResult{}
	}

	// A user action may have changed the status mid-run; leave it alone then.
	if _, terr := w.status.Transition(ctx, t.SessionID, domain.StatusPlanning, domain.StatusMonitoring); terr != nil {
		log.Warn("Failed to return session to monitoring", "error", terr)
	}

	done := Completion{
		Type:       "replan_completed",
		SessionID:  t.SessionID,
		Date:       res.Date,
		Reason:     t.Reason,
		Skipped:    res.Skipped,
		Summary:    res.Summary,
		Decisions:  res.Decisions,
		FinishedAt: time.Now().UTC(),
	}
	if done.Date == "" {
		done.Date = t.Date
	}
	if done.Decisions == nil {
		done.Decisions = []domain.Decision{}
	}

	switch {
	case err != nil:
		log.Error("Auto-replan failed", "error", err)
		done.Error = err.Error()
		w.count("error")
	case res.Skipped:
		log.Info("Auto-replan skipped", "summary", res.Summary)
		w.count("skipped")
	default:
		log.Info("Auto-replan completed", "decisions", len(res.Decisions), "outcome", res.Outcome)
		w.count("ok")
	}

	if w.pub != nil {
		w.pub.Publish(t.SessionID, done)
	}
}

func (w *Worker) count(result string) {
	if w.metrics != nil {
		w.metrics.ReplanRuns.WithLabelValues(result).Inc()
	}
}

// Wait blocks until no runs are in flight.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Stop rejects new triggers, cancels running cycles and waits for them.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()
	w.wg.Wait()
}
