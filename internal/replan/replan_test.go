package replan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/dayplan/internal/autonomous"
	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/metrics"
	"github.com/ashureev/dayplan/internal/planner"
)

type fakeRunner struct {
	mu      sync.Mutex
	cycles  []planner.Cycle
	started chan planner.Cycle
	gate    chan struct{}
	err     error
}

func (f *fakeRunner) RunPlanningCycle(ctx context.Context, c planner.Cycle) (*planner.CycleResult, error) {
	f.mu.Lock()
	f.cycles = append(f.cycles, c)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- c
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &planner.CycleResult{
		Date:      "2024-01-15",
		Summary:   "done",
		Decisions: []domain.Decision{{ActionType: "move_event"}},
	}, nil
}

func (f *fakeRunner) calls() []planner.Cycle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]planner.Cycle(nil), f.cycles...)
}

type fakeStatus struct {
	mu          sync.Mutex
	inactive    map[string]bool
	updates     []string
	transitions int
}

func (f *fakeStatus) IsActive(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.inactive[id]
}

func (f *fakeStatus) UpdateStatus(_ context.Context, id, status string) (autonomous.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, id+":"+status)
	return autonomous.Status{Active: true, Status: domain.AutonomousStatus(status)}, nil
}

func (f *fakeStatus) Transition(_ context.Context, _ string, from, to domain.AutonomousStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if from == domain.StatusPlanning && to == domain.StatusMonitoring {
		f.transitions++
	}
	return true, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []Completion
}

func (f *fakePublisher) Publish(_ string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, v.(Completion))
}

func TestWorkerRunsAndPublishes(t *testing.T) {
	runner := &fakeRunner{}
	status := &fakeStatus{}
	pub := &fakePublisher{}
	m := metrics.New(prometheus.NewRegistry())
	w := NewWorker(runner, status, Options{Publisher: pub, Metrics: m})
	defer w.Stop()

	started, err := w.Enqueue(Trigger{SessionID: "s1", Date: "2024-01-15", Reason: ReasonTaskAdded})
	require.NoError(t, err)
	assert.True(t, started)
	w.Wait()

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ReasonTaskAdded, calls[0].Trigger)
	assert.True(t, calls[0].Autonomous())
	assert.Equal(t, []string{"s1:planning"}, status.updates)
	assert.Equal(t, 1, status.transitions)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "replan_completed", pub.msgs[0].Type)
	assert.Equal(t, "done", pub.msgs[0].Summary)
	assert.Len(t, pub.msgs[0].Decisions, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplanRuns.WithLabelValues("ok")))
}

func TestWorkerCoalescesTriggers(t *testing.T) {
	runner := &fakeRunner{started: make(chan planner.Cycle, 4), gate: make(chan struct{})}
	m := metrics.New(prometheus.NewRegistry())
	w := NewWorker(runner, &fakeStatus{}, Options{Metrics: m})
	defer w.Stop()

	_, err := w.Enqueue(Trigger{SessionID: "s1", Date: "2024-01-15", Reason: "first"})
	require.NoError(t, err)
	<-runner.started

	queued, err := w.Enqueue(Trigger{SessionID: "s1", Date: "2024-01-15", Reason: "second"})
	require.NoError(t, err)
	assert.True(t, queued)
	queued, err = w.Enqueue(Trigger{SessionID: "s1", Date: "2024-01-15", Reason: "third"})
	require.NoError(t, err)
	assert.False(t, queued)

	close(runner.gate)
	w.Wait()

	calls := runner.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].Trigger)
	assert.Equal(t, "third", calls[1].Trigger)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplanCoalesced))
}

func TestWorkerKeysBySessionAndDate(t *testing.T) {
	runner := &fakeRunner{started: make(chan planner.Cycle, 4), gate: make(chan struct{})}
	w := NewWorker(runner, &fakeStatus{}, Options{})
	defer w.Stop()

	for _, tr := range []Trigger{
		{SessionID: "s1", Date: "2024-01-15"},
		{SessionID: "s1", Date: "2024-01-16"},
		{SessionID: "s2", Date: "2024-01-15"},
	} {
		started, err := w.Enqueue(tr)
		require.NoError(t, err)
		assert.True(t, started)
	}
	for i := 0; i < 3; i++ {
		<-runner.started
	}
	close(runner.gate)
	w.Wait()
	assert.Len(t, runner.calls(), 3)
	assert.Equal(t, "auto_replan", runner.calls()[0].Trigger)
}

func TestWorkerSkipsInactiveSession(t *testing.T) {
	runner := &fakeRunner{}
	status := &fakeStatus{inactive: map[string]bool{"s1": true}}
	pub := &fakePublisher{}
	w := NewWorker(runner, status, Options{Publisher: pub})
	defer w.Stop()

	_, err := w.Enqueue(Trigger{SessionID: "s1", Reason: ReasonTaskAdded})
	require.NoError(t, err)
	w.Wait()

	assert.Empty(t, runner.calls())
	assert.Empty(t, status.updates)
	assert.Empty(t, pub.msgs)
}

func TestWorkerPublishesFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("session not found")}
	status := &fakeStatus{}
	pub := &fakePublisher{}
	w := NewWorker(runner, status, Options{Publisher: pub})
	defer w.Stop()

	_, err := w.Enqueue(Trigger{SessionID: "s1", Date: "2024-01-15", Reason: ReasonConflictDetected})
	require.NoError(t, err)
	w.Wait()

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "session not found", pub.msgs[0].Error)
	assert.Equal(t, "2024-01-15", pub.msgs[0].Date)
	assert.NotNil(t, pub.msgs[0].Decisions)
	assert.Equal(t, 1, status.transitions)
}

func TestWorkerStop(t *testing.T) {
	runner := &fakeRunner{started: make(chan planner.Cycle, 1), gate: make(chan struct{})}
	w := NewWorker(runner, &fakeStatus{}, Options{})

	_, err := w.Enqueue(Trigger{SessionID: "s1"})
	require.NoError(t, err)
	<-runner.started

	w.Stop()
	_, err = w.Enqueue(Trigger{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrStopped)
}

type fakeSessions map[string]string

func (f fakeSessions) GetSession(_ context.Context, id string) (*domain.Session, error) {
	tz, ok := f[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	return &domain.Session{ID: id, Timezone: tz}, nil
}

func TestWorkerEmptyDateSharesTodaysKey(t *testing.T) {
	runner := &fakeRunner{started: make(chan planner.Cycle, 4), gate: make(chan struct{})}
	w := NewWorker(runner, &fakeStatus{}, Options{Sessions: fakeSessions{"s1": "Asia/Seoul"}})
	defer w.Stop()
	// 23:30 UTC is already the next morning in Seoul.
	w.now = func() time.Time { return time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC) }

	started, err := w.Enqueue(Trigger{SessionID: "s1", Reason: ReasonPreferenceChanged})
	require.NoError(t, err)
	assert.True(t, started)
	first := <-runner.started
	assert.Equal(t, "2024-01-16", first.Date)

	queued, err := w.Enqueue(Trigger{SessionID: "s1", Date: "2024-01-16", Reason: ReasonTaskAdded})
	require.NoError(t, err)
	assert.True(t, queued)
	select {
	case c := <-runner.started:
		t.Fatalf("second run started concurrently for %s", c.Date)
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.gate)
	w.Wait()

	calls := runner.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ReasonPreferenceChanged, calls[0].Trigger)
	assert.Equal(t, ReasonTaskAdded, calls[1].Trigger)
	assert.Equal(t, "2024-01-16", calls[1].Date)
}

func TestWorkerEmptyDateFallsBackToUTC(t *testing.T) {
	runner := &fakeRunner{}
	w := NewWorker(runner, &fakeStatus{}, Options{Sessions: fakeSessions{}})
	defer w.Stop()
	w.now = func() time.Time { return time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC) }

	_, err := w.Enqueue(Trigger{SessionID: "missing"})
	require.NoError(t, err)
	w.Wait()

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "2024-01-15", calls[0].Date)
}

func TestWorkerDoIsBusyDuringBackgroundRun(t *testing.T) {
	runner := &fakeRunner{started: make(chan planner.Cycle, 1), gate: make(chan struct{})}
	w := NewWorker(runner, &fakeStatus{}, Options{})
	defer w.Stop()

	_, err := w.Enqueue(Trigger{SessionID: "s1", Date: "2024-01-15", Reason: ReasonTaskAdded})
	require.NoError(t, err)
	<-runner.started

	called := false
	err = w.Do(context.Background(), "s1", "2024-01-15", func(context.Context, string) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, called)

	err = w.Do(context.Background(), "s1", "2024-01-16", func(context.Context, string) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	close(runner.gate)
	w.Wait()
}

func TestWorkerDoQueuesTriggersAsFollowUp(t *testing.T) {
	runner := &fakeRunner{}
	w := NewWorker(runner, &fakeStatus{}, Options{})
	defer w.Stop()
	w.now = func() time.Time { return time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC) }

	var got string
	err := w.Do(context.Background(), "s1", "", func(_ context.Context, date string) error {
		got = date
		queued, err := w.Enqueue(Trigger{SessionID: "s1", Reason: ReasonTaskAdded})
		require.NoError(t, err)
		assert.True(t, queued)

		err = w.Do(context.Background(), "s1", "2024-01-15", func(context.Context, string) error { return nil })
		assert.ErrorIs(t, err, ErrBusy)
		assert.Empty(t, runner.calls())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", got)

	w.Wait()
	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ReasonTaskAdded, calls[0].Trigger)
	assert.Equal(t, "2024-01-15", calls[0].Date)
}

func TestWorkerDoReturnsRunError(t *testing.T) {
	w := NewWorker(&fakeRunner{}, &fakeStatus{}, Options{})
	boom := errors.New("boom")

	err := w.Do(context.Background(), "s1", "2024-01-15", func(context.Context, string) error { return boom })
	assert.ErrorIs(t, err, boom)

	// The slot is free again.
	err = w.Do(context.Background(), "s1", "2024-01-15", func(context.Context, string) error { return nil })
	require.NoError(t, err)

	w.Stop()
	err = w.Do(context.Background(), "s1", "2024-01-15", func(context.Context, string) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}

type fakeSource struct {
	sessions []domain.Session
	cals     map[string]*calendar.Memory
	err      error
}

func (f *fakeSource) ListAutonomousSessions(context.Context) ([]domain.Session, error) {
	return f.sessions, f.err
}

func (f *fakeSource) Calendar(id string) calendar.Store {
	if c, ok := f.cals[id]; ok {
		return c
	}
	return calendar.NewMemory()
}

type fakeEnqueuer struct {
	triggers []Trigger
}

func (f *fakeEnqueuer) Enqueue(t Trigger) (bool, error) {
	f.triggers = append(f.triggers, t)
	return true, nil
}

func timed(id string, start time.Time, minutes int, attendees ...string) domain.CalendarEvent {
	return domain.CalendarEvent{
		ID:        id,
		Title:     id,
		Start:     domain.At(start),
		End:       domain.At(start.Add(time.Duration(minutes) * time.Minute)),
		Attendees: attendees,
	}
}

func TestMonitorSweep(t *testing.T) {
	day := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	external := []string{"a@example.com", "b@example.com"}

	src := &fakeSource{
		sessions: []domain.Session{
			{ID: "flexible", Autonomous: domain.AutonomousMode{Active: true, Status: domain.StatusMonitoring}},
			{ID: "external", Autonomous: domain.AutonomousMode{Active: true, Status: domain.StatusMonitoring}},
			{ID: "busy", Autonomous: domain.AutonomousMode{Active: true, Status: domain.StatusPlanning}},
			{ID: "clear", Autonomous: domain.AutonomousMode{Active: true, Status: domain.StatusActive}},
		},
		cals: map[string]*calendar.Memory{
			"flexible": calendar.NewMemory(timed("review", day, 60, external...), timed("gym", day.Add(30*time.Minute), 60)),
			"external": calendar.NewMemory(timed("board", day, 60, external...), timed("client", day.Add(30*time.Minute), 60, external...)),
			"busy":     calendar.NewMemory(timed("x", day, 60), timed("y", day, 60)),
			"clear":    calendar.NewMemory(timed("a", day, 60), timed("b", day.Add(time.Hour), 60)),
		},
	}
	enq := &fakeEnqueuer{}
	m := metrics.New(prometheus.NewRegistry())
	mon := NewMonitor(src, enq, nil, m)
	mon.now = func() time.Time { return day }

	n := mon.Sweep(context.Background())
	assert.Equal(t, 1, n)
	require.Len(t, enq.triggers, 1)
	assert.Equal(t, Trigger{SessionID: "flexible", Date: "2024-01-15", Reason: ReasonConflictDetected}, enq.triggers[0])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConflictsDetected))
}

func TestMonitorSweepListError(t *testing.T) {
	mon := NewMonitor(&fakeSource{err: errors.New("db closed")}, &fakeEnqueuer{}, nil, nil)
	assert.Equal(t, 0, mon.Sweep(context.Background()))
}

func TestMonitorStartRejectsBadSchedule(t *testing.T) {
	mon := NewMonitor(&fakeSource{}, &fakeEnqueuer{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.Error(t, mon.Start(ctx, "not a schedule"))
	assert.NoError(t, mon.Start(ctx, ""))
}
