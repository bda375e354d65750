package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "dayplan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sess, err := s.EnsureSession(ctx, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "UTC", sess.Timezone)
	assert.Equal(t, 0, sess.DayStartHour)
	assert.Equal(t, 24, sess.DayEndHour)
	assert.False(t, sess.HasDayWindow())
	assert.False(t, sess.Autonomous.Active)

	again, err := s.EnsureSession(ctx, "s1", "Asia/Seoul")
	require.NoError(t, err)
	assert.Equal(t, "UTC", again.Timezone)

	require.NoError(t, s.UpdateSchedulePreferences(ctx, "s1", 8, 22, "Asia/Seoul"))
	at := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdatePreferencesText(ctx, "s1", "No meetings before 10am", at))

	sess, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 8, sess.DayStartHour)
	assert.Equal(t, 22, sess.DayEndHour)
	assert.Equal(t, "Asia/Seoul", sess.Timezone)
	assert.Equal(t, "No meetings before 10am", sess.PreferencesText)
	require.NotNil(t, sess.PreferencesUpdatedAt)
	assert.Equal(t, at.Unix(), sess.PreferencesUpdatedAt.Unix())

	assert.ErrorIs(t, s.UpdateSchedulePreferences(ctx, "missing", 8, 22, ""), ErrSessionNotFound)
}

func TestAutonomousColumns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.EnsureSession(ctx, "s1", "")
	require.NoError(t, err)
	_, err = s.EnsureSession(ctx, "s2", "")
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, s.ReplaceAutonomous(ctx, "s1", domain.AutonomousMode{
		Active: true, Status: domain.StatusActive, ActivatedAt: &now,
	}))

	active, err := s.ListAutonomousSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s1", active[0].ID)
	assert.Equal(t, domain.StatusActive, active[0].Autonomous.Status)
	require.NotNil(t, active[0].Autonomous.ActivatedAt)
	assert.Nil(t, active[0].Autonomous.DeactivatedAt)

	require.NoError(t, s.SetAutonomousStatus(ctx, "s1", domain.StatusPlanning, "", now))
	require.NoError(t, s.SetAutonomousStatus(ctx, "s1", domain.StatusMonitoring, domain.StatusPlanning, now))
	assert.ErrorIs(t, s.SetAutonomousStatus(ctx, "s1", domain.StatusMonitoring, domain.StatusPlanning, now), ErrStaleStatus)
	assert.ErrorIs(t, s.SetAutonomousStatus(ctx, "nope", domain.StatusMonitoring, domain.StatusPlanning, now), ErrSessionNotFound)
	assert.ErrorIs(t, s.ReplaceAutonomous(ctx, "nope", domain.AutonomousMode{}), ErrSessionNotFound)

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMonitoring, sess.Autonomous.Status)
	assert.True(t, sess.Autonomous.Active)
	assert.NotNil(t, sess.Autonomous.LastUpdated)
}

func TestTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lunch := &domain.Task{SessionID: "s1", Title: "Lunch", Priority: domain.PriorityHigh, TargetDate: "2024-01-15"}
	require.NoError(t, s.CreateTask(ctx, lunch))
	require.NotEmpty(t, lunch.ID)
	gym := &domain.Task{SessionID: "s1", Title: "Gym", Priority: domain.PriorityLow, TargetDate: "2024-01-15"}
	require.NoError(t, s.CreateTask(ctx, gym))
	require.NoError(t, s.CreateTask(ctx, &domain.Task{SessionID: "s1", Title: "Tomorrow", Priority: domain.PriorityLow, TargetDate: "2024-01-16"}))
	require.NoError(t, s.CreateTask(ctx, &domain.Task{SessionID: "s2", Title: "Other", Priority: domain.PriorityLow, TargetDate: "2024-01-15"}))

	all, err := s.ListTasks(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	done := true
	updated, err := s.UpdateTask(ctx, "s1", gym.ID, domain.TaskUpdate{Completed: &done})
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.Equal(t, "Gym", updated.Title)

	open, err := s.ListOpenTasks(ctx, "s1", "2024-01-15")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "Lunch", open[0].Title)
	assert.Equal(t, domain.PriorityHigh, open[0].Priority)

	unchanged, err := s.UpdateTask(ctx, "s1", lunch.ID, domain.TaskUpdate{})
	require.NoError(t, err)
	assert.Equal(t, "Lunch", unchanged.Title)

	title := "Late lunch"
	_, err = s.UpdateTask(ctx, "s2", lunch.ID, domain.TaskUpdate{Title: &title})
	assert.ErrorIs(t, err, ErrTaskNotFound)

	require.NoError(t, s.DeleteTask(ctx, "s1", lunch.ID))
	assert.ErrorIs(t, s.DeleteTask(ctx, "s1", lunch.ID), ErrTaskNotFound)
}

func TestDecisions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	for i, kind := range []string{"create_event", "move_event", domain.DecisionMoveManual} {
		d := &domain.Decision{
			SessionID:  "s1",
			ActionType: kind,
			EventID:    "ev",
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}
		if kind == domain.DecisionMoveManual {
			d.ConflictingEvents = []string{"Standup"}
		}
		require.NoError(t, s.AppendDecision(ctx, d))
	}

	decisions, err := s.ListDecisions(ctx, "s1", 100)
	require.NoError(t, err)
	require.Len(t, decisions, 3)
	assert.Equal(t, domain.DecisionMoveManual, decisions[0].ActionType)
	assert.Equal(t, []string{"Standup"}, decisions[0].ConflictingEvents)
	assert.Equal(t, "create_event", decisions[2].ActionType)
	assert.True(t, base.Equal(decisions[2].Timestamp))

	limited, err := s.ListDecisions(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	n, err := s.ClearDecisions(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSessionCalendar(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	cal := s.Calendar("s1")
	other := s.Calendar("s2")

	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, seoul)

	standup, err := cal.Insert(ctx, domain.CalendarEvent{
		Title:     "Standup",
		Start:     domain.At(start),
		End:       domain.At(start.Add(30 * time.Minute)),
		Attendees: []string{"a@example.com", "b@example.com"},
	})
	require.NoError(t, err)
	_, err = cal.Insert(ctx, domain.CalendarEvent{ID: "holiday", Title: "Holiday", Start: domain.OnDate("2024-01-15")})
	require.NoError(t, err)
	_, err = cal.Insert(ctx, domain.CalendarEvent{Title: "Tomorrow", Start: domain.At(start.Add(24 * time.Hour)), End: domain.At(start.Add(25 * time.Hour))})
	require.NoError(t, err)
	_, err = other.Insert(ctx, domain.CalendarEvent{Title: "Not mine", Start: domain.At(start), End: domain.At(start.Add(time.Hour))})
	require.NoError(t, err)

	from, to, err := calendar.DayRange("2024-01-15", seoul)
	require.NoError(t, err)
	events, err := cal.List(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "holiday", events[0].ID)
	assert.True(t, events[0].Start.IsAllDay())
	assert.Equal(t, "2024-01-16", events[0].End.Date)
	assert.Equal(t, "Standup", events[1].Title)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, events[1].Attendees)
	assert.True(t, start.Equal(events[1].Start.DateTime))
	_, offset := events[1].Start.DateTime.Zone()
	assert.Equal(t, 9*3600, offset)

	moved, err := cal.Patch(ctx, standup.ID, domain.At(start.Add(time.Hour)), domain.At(start.Add(90*time.Minute)))
	require.NoError(t, err)
	assert.True(t, start.Add(time.Hour).Equal(moved.Start.DateTime))

	_, err = cal.Patch(ctx, "missing", domain.At(start), domain.At(start.Add(time.Hour)))
	assert.ErrorIs(t, err, calendar.ErrEventNotFound)

	_, err = cal.Insert(ctx, domain.CalendarEvent{Title: "Backwards", Start: domain.At(start), End: domain.At(start.Add(-time.Hour))})
	assert.Error(t, err)

	require.NoError(t, cal.Delete(ctx, standup.ID))
	require.NoError(t, cal.Delete(ctx, standup.ID))
	_, err = cal.Get(ctx, standup.ID)
	assert.ErrorIs(t, err, calendar.ErrEventNotFound)
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.EnsureSession(ctx, "s1", "")
	require.NoError(t, err)
	require.NoError(t, s.CreateTask(ctx, &domain.Task{SessionID: "s1", Title: "Lunch", Priority: domain.PriorityLow, TargetDate: "2024-01-15"}))
	require.NoError(t, s.AppendDecision(ctx, &domain.Decision{SessionID: "s1", ActionType: "create_event"}))
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	ev, err := s.Calendar("s1").Insert(ctx, domain.CalendarEvent{Title: "x", Start: domain.At(start), End: domain.At(start.Add(time.Hour))})
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	require.NoError(t, s.DeleteSession(ctx, "s1"))

	_, err = s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	tasks, err := s.ListTasks(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
	decisions, err := s.ListDecisions(ctx, "s1", 100)
	require.NoError(t, err)
	assert.Empty(t, decisions)
	_, err = s.Calendar("s1").Get(ctx, ev.ID)
	assert.ErrorIs(t, err, calendar.ErrEventNotFound)
}
