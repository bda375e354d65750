//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/dayplan/internal/autonomous"
	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/generator"
	"github.com/ashureev/dayplan/internal/identity"
	"github.com/ashureev/dayplan/internal/planner"
	"github.com/ashureev/dayplan/internal/replan"
	"github.com/ashureev/dayplan/internal/store"
)

const lunchPlan = `{"actions":[{"type":"create_event","title":"Lunch","start":"2024-01-15T12:00:00+00:00","end":"2024-01-15T12:45:00+00:00","reason":"midday"}],"summary":"Lunch at noon"}`

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(_ context.Context, _ generator.Request) (generator.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return generator.Output{Text: f.reply, Backend: "fake"}, f.err
}

type fakeReplanner struct {
	mu       sync.Mutex
	triggers []replan.Trigger
	busy     bool
	claims   []string
}

func (f *fakeReplanner) Do(ctx context.Context, sessionID, date string, fn func(context.Context, string) error) error {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return replan.ErrBusy
	}
	f.claims = append(f.claims, sessionID+"/"+date)
	f.mu.Unlock()
	return fn(ctx, date)
}

func (f *fakeReplanner) setBusy(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = b
}

func (f *fakeReplanner) Enqueue(t replan.Trigger) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, t)
	return true, nil
}

func (f *fakeReplanner) all() []replan.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]replan.Trigger(nil), f.triggers...)
}

type fakeFeeds struct {
	closed []string
}

func (f *fakeFeeds) CloseSession(id string) { f.closed = append(f.closed, id) }

type testServer struct {
	router  http.Handler
	repo    *store.SQLiteStore
	gen     *fakeGenerator
	replan  *fakeReplanner
	feeds   *fakeFeeds
	session string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := &fakeGenerator{reply: lunchPlan}
	auto := autonomous.NewService(repo, logger)
	svc := planner.NewService(repo, planner.NewOrchestrator(gen, logger, nil), auto, logger, nil)

	ts := &testServer{repo: repo, gen: gen, replan: &fakeReplanner{}, feeds: &fakeFeeds{}, session: "s1"}
	h := NewHandler(Deps{
		Repo:       repo,
		Planner:    svc,
		Autonomous: auto,
		Replan:     ts.replan,
		Feeds:      ts.feeds,
		Logger:     logger,
	})

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, "UTC", true))
	h.RegisterRoutes(r)
	ts.router = r
	return ts
}

// do sends a request as the test session and decodes the JSON reply into out
// when out is non-nil.
func (ts *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set(identity.SessionHeaderName, ts.session)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func (ts *testServer) insertEvent(t *testing.T, title string, start, end time.Time, desc string) domain.CalendarEvent {
	t.Helper()
	e, err := ts.repo.Calendar(ts.session).Insert(context.Background(), domain.CalendarEvent{
		Title:       title,
		Description: desc,
		Start:       domain.At(start),
		End:         domain.At(end),
	})
	require.NoError(t, err)
	return e
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 1, 15, hour, minute, 0, 0, time.UTC)
}

func TestTaskLifecycle(t *testing.T) {
	ts := newTestServer(t)

	var created taskResponse
	code := ts.do(t, http.MethodPost, "/api/tasks", map[string]string{
		"title": "  Lunch with Sam ", "priority": "HIGH", "target_date": "2024-01-15",
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Lunch with Sam", created.Title)
	assert.Equal(t, domain.PriorityHigh, created.Priority)
	assert.False(t, created.AutoPlanTriggered)
	assert.Empty(t, ts.replan.all())

	var tasks []domain.Task
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/tasks", nil, &tasks))
	require.Len(t, tasks, 1)

	var updated domain.Task
	code = ts.do(t, http.MethodPut, "/api/tasks/"+created.ID, map[string]any{"completed": true}, &updated)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, updated.Completed)
	assert.Equal(t, "Lunch with Sam", updated.Title)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/tasks/"+created.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/tasks/"+created.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPut, "/api/tasks/missing", map[string]any{"completed": true}, nil))
}

func TestCreateTaskValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"empty title", map[string]string{"title": "   "}},
		{"long title", map[string]string{"title": strings.Repeat("x", domain.MaxTaskTitleLength+1)}},
		{"bad priority", map[string]string{"title": "Gym", "priority": "someday"}},
		{"bad date", map[string]string{"title": "Gym", "target_date": "15/01/2024"}},
		{"not json", "{"},
		{"no body", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp map[string]string
			code := ts.do(t, http.MethodPost, "/api/tasks", tt.body, &resp)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestCreateTaskDefaultsToToday(t *testing.T) {
	ts := newTestServer(t)

	var created taskResponse
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/tasks", map[string]string{"title": "Gym"}, &created))
	assert.Equal(t, domain.Today(time.UTC), created.TargetDate)
	assert.Equal(t, domain.PriorityMedium, created.Priority)
}

func TestCreateTaskTriggersReplanWhenAutonomous(t *testing.T) {
	ts := newTestServer(t)

	var mode map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/autonomous/activate", nil, &mode))
	assert.Equal(t, "Autonomous mode activated", mode["message"])

	var created taskResponse
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/tasks", map[string]string{
		"title": "Gym", "target_date": "2024-01-15",
	}, &created))
	assert.True(t, created.AutoPlanTriggered)

	got := ts.replan.all()
	require.Len(t, got, 1)
	assert.Equal(t, replan.Trigger{SessionID: "s1", Date: "2024-01-15", Reason: replan.ReasonTaskAdded}, got[0])

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/autonomous/deactivate", nil, nil))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/tasks", map[string]string{"title": "Read"}, &created))
	assert.False(t, created.AutoPlanTriggered)
	assert.Len(t, ts.replan.all(), 1)
}

func TestPlanAppliesAcceptedActions(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/tasks", map[string]string{
		"title": "Lunch", "target_date": "2024-01-15",
	}, nil))

	var res planner.CycleResult
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/plan", map[string]string{"date": "2024-01-15"}, &res))
	assert.Equal(t, "Lunch at noon", res.Summary)
	assert.Equal(t, planner.OutcomeValid, res.Outcome)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, string(domain.ActionCreate), res.Decisions[0].ActionType)

	var events []eventView
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/calendar/events?date=2024-01-15", nil, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "Lunch", events[0].Title)
	assert.True(t, events[0].IsPlanned)

	var status autonomous.Status
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/autonomous/status", nil, &status))
	assert.True(t, status.Active)

	var decisions []domain.Decision
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/decisions", nil, &decisions))
	assert.Len(t, decisions, 1)

	var cleared map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/decisions", nil, &cleared))
	assert.EqualValues(t, 1, cleared["deleted_count"])
}

func TestPlanKeepsOriginalAfterFailedRepair(t *testing.T) {
	ts := newTestServer(t)
	ts.gen.reply = `{"actions":[{"type":"create_event","title":"Lunch","start":"2024-01-15T20:00:00+00:00","end":"2024-01-15T20:45:00+00:00"}],"summary":"late lunch"}`
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/tasks", map[string]string{
		"title": "Lunch", "target_date": "2024-01-15",
	}, nil))

	var res planner.CycleResult
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/plan?date=2024-01-15", nil, &res))
	assert.Equal(t, planner.OutcomeRepairFailed, res.Outcome)
	assert.Len(t, res.Decisions, 1)
	assert.Equal(t, 2, ts.gen.calls)
}

func TestPlanGenerationFailureIsNotAnHTTPError(t *testing.T) {
	ts := newTestServer(t)
	ts.gen.err = errors.New("all backends down")

	var res planner.CycleResult
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/plan", map[string]string{"date": "2024-01-15"}, &res))
	assert.Equal(t, planner.OutcomeGenerationFailed, res.Outcome)
	assert.Empty(t, res.Decisions)
	assert.True(t, strings.HasPrefix(res.Summary, "Planning error"), res.Summary)

	var status autonomous.Status
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/autonomous/status", nil, &status))
	assert.False(t, status.Active)
}

func TestPlanWaitsForBackgroundReplan(t *testing.T) {
	ts := newTestServer(t)
	ts.replan.setBusy(true)

	var body map[string]string
	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/plan", map[string]string{"date": "2024-01-15"}, &body))
	assert.Equal(t, "planning_in_progress", body["error"])
	assert.Zero(t, ts.gen.calls)

	ts.replan.setBusy(false)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/plan?date=2024-01-15", nil, nil))
	assert.Equal(t, []string{"s1/2024-01-15"}, ts.replan.claims)
}

func TestPlanBadInput(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/plan", map[string]string{"date": "tomorrow"}, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/decisions?limit=-1", nil, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/decisions?limit=ten", nil, nil))
}

func TestPreferences(t *testing.T) {
	ts := newTestServer(t)

	var prefs map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/preferences", nil, &prefs))
	assert.EqualValues(t, 0, prefs["day_start_hour"])
	assert.EqualValues(t, 24, prefs["day_end_hour"])

	var updated map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/preferences", map[string]any{
		"day_start_hour": 8, "day_end_hour": 18, "timezone": "Asia/Seoul",
	}, &updated))
	assert.Equal(t, false, updated["auto_plan_triggered"])

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/preferences", nil, &prefs))
	assert.EqualValues(t, 8, prefs["day_start_hour"])
	assert.EqualValues(t, 18, prefs["day_end_hour"])
	assert.Equal(t, "Asia/Seoul", prefs["timezone"])

	bad := []map[string]any{
		{"day_start_hour": 18, "day_end_hour": 8},
		{"day_start_hour": -1, "day_end_hour": 8},
		{"day_start_hour": 8, "day_end_hour": 25},
		{"day_start_hour": 8},
		{"day_start_hour": 8, "day_end_hour": 18, "timezone": "Mars/Olympus"},
	}
	for i, body := range bad {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/api/preferences", body, nil))
		})
	}
}

func TestUserPreferences(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/autonomous/activate", nil, nil))

	var saved map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/user-preferences", map[string]string{
		"preferences_text": "No meetings before 10am",
	}, &saved))
	assert.Equal(t, true, saved["auto_plan_triggered"])
	require.Len(t, ts.replan.all(), 1)
	assert.Equal(t, replan.ReasonPreferenceChanged, ts.replan.all()[0].Reason)

	var got map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/user-preferences", nil, &got))
	assert.Equal(t, "No meetings before 10am", got["preferences_text"])
	assert.NotEmpty(t, got["parsed_rules"])

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/api/user-preferences", map[string]string{
		"preferences_text": strings.Repeat("a", 5001),
	}, nil))
}

func TestAutonomousStatus(t *testing.T) {
	ts := newTestServer(t)

	var st autonomous.Status
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/autonomous/status", nil, &st))
	assert.False(t, st.Active)
	assert.Equal(t, domain.StatusPaused, st.Status)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/autonomous/status?status=monitoring", nil, &st))
	assert.Equal(t, domain.StatusMonitoring, st.Status)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/autonomous/status", map[string]string{"status": "planning"}, &st))
	assert.Equal(t, domain.StatusPlanning, st.Status)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/api/autonomous/status?status=sleeping", nil, nil))
}

func TestConflictsAndManualMove(t *testing.T) {
	ts := newTestServer(t)
	meeting := ts.insertEvent(t, "Team sync", at(10, 0), at(11, 0), "")
	ts.insertEvent(t, "1:1 with Kim", at(10, 30), at(11, 30), "")
	lunch := ts.insertEvent(t, "Lunch", at(12, 0), at(12, 45), "Created by planner")

	var conflicts struct {
		Date           string         `json:"date"`
		ConflictsCount int            `json:"conflicts_count"`
		Conflicts      []conflictView `json:"conflicts"`
	}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/conflicts?date=2024-01-15", nil, &conflicts))
	assert.Equal(t, "2024-01-15", conflicts.Date)
	assert.Equal(t, 1, conflicts.ConflictsCount)

	var moved struct {
		Success   bool      `json:"success"`
		Event     eventView `json:"event"`
		Warning   string    `json:"warning"`
		Conflicts []any     `json:"conflicts"`
	}
	code := ts.do(t, http.MethodPost, "/api/calendar/events/move", map[string]string{
		"event_id":  lunch.ID,
		"new_start": "2024-01-15T10:15:00Z",
		"new_end":   "2024-01-15T10:45:00Z",
	}, &moved)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, moved.Success)
	assert.Equal(t, "Conflict detected", moved.Warning)
	assert.Len(t, moved.Conflicts, 2)
	assert.Equal(t, "2024-01-15T10:15:00Z", moved.Event.Start)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/calendar/events/move", map[string]string{
		"event_id": meeting.ID, "new_start": "2024-01-15T11:00:00", "new_end": "2024-01-15T12:00:00Z",
	}, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/calendar/events/move", map[string]string{
		"event_id": meeting.ID, "new_start": "2024-01-15T12:00:00Z", "new_end": "2024-01-15T11:00:00Z",
	}, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/calendar/events/move", map[string]string{
		"event_id": "missing", "new_start": "2024-01-15T11:00:00Z", "new_end": "2024-01-15T12:00:00Z",
	}, nil))
}

func TestDeleteEventIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	e := ts.insertEvent(t, "Gym", at(18, 0), at(19, 0), "")

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/calendar/events/"+e.ID, nil, nil))
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/calendar/events/"+e.ID, nil, nil))

	_, err := ts.repo.Calendar(ts.session).Get(context.Background(), e.ID)
	assert.ErrorIs(t, err, calendar.ErrEventNotFound)
}

func TestListEventsRange(t *testing.T) {
	ts := newTestServer(t)
	ts.insertEvent(t, "", at(9, 0), at(10, 0), "")
	ts.insertEvent(t, "Tomorrow", at(9, 0).AddDate(0, 0, 1), at(10, 0).AddDate(0, 0, 1), "")

	var events []eventView
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/calendar/events?date=2024-01-15", nil, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "No Title", events[0].Title)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/calendar/events?date=2024-01-15&end_date=2024-01-16", nil, &events))
	assert.Len(t, events, 2)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/calendar/events?date=2024-01-16&end_date=2024-01-14", nil, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/calendar/events?date=2024-01-01&end_date=2024-03-01", nil, nil))
}

const icsBody = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//dayplan//api test//EN
BEGIN:VEVENT
UID:standup@example.com
SUMMARY:Standup
DTSTART:20240115T090000Z
DTEND:20240115T091500Z
RRULE:FREQ=DAILY;COUNT=3
END:VEVENT
END:VCALENDAR
`

func TestImportICS(t *testing.T) {
	ts := newTestServer(t)

	var res map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/calendar/import?from=2024-01-15&days=7", icsBody, &res))
	assert.Equal(t, true, res["success"])
	assert.EqualValues(t, 3, res["imported_count"])

	// Re-importing the same feed replaces rather than duplicates.
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/calendar/import?from=2024-01-15&days=7", icsBody, nil))
	var events []eventView
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/calendar/events?date=2024-01-15&end_date=2024-01-21", nil, &events))
	assert.Len(t, events, 3)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/calendar/import", "", nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/calendar/import?days=0", icsBody, nil))
}

func TestResetToPlan(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/tasks", map[string]string{
		"title": "Lunch", "target_date": "2024-01-15",
	}, nil))
	var planned planner.CycleResult
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/plan", map[string]string{"date": "2024-01-15"}, &planned))
	require.Len(t, planned.Decisions, 1)
	eventID := planned.Decisions[0].EventID

	_, err := ts.repo.Calendar(ts.session).Patch(context.Background(), eventID, domain.At(at(15, 0)), domain.At(at(15, 45)))
	require.NoError(t, err)

	var res map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/calendar/reset-to-plan", nil, &res))
	assert.EqualValues(t, 1, res["restored_count"])

	e, err := ts.repo.Calendar(ts.session).Get(context.Background(), eventID)
	require.NoError(t, err)
	assert.True(t, e.Start.DateTime.Equal(at(12, 0)))
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var sess domain.Session
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/session", map[string]string{"timezone": "Europe/Berlin"}, &sess))
	assert.True(t, strings.HasPrefix(sess.ID, "anon_"))
	assert.Equal(t, "Europe/Berlin", sess.Timezone)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/session", map[string]string{"timezone": "Nowhere/Land"}, nil))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/session", nil, &sess))
	assert.Equal(t, "s1", sess.ID)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/session", nil, nil))
	assert.Equal(t, []string{"s1"}, ts.feeds.closed)
}

func TestClassifyAndValidate(t *testing.T) {
	ts := newTestServer(t)

	var c map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/classify", map[string]string{"title": "Lunch with Sam"}, &c))
	assert.Equal(t, "Lunch with Sam", c["title"])
	assert.NotEmpty(t, c["constraint_text"])
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/classify", map[string]string{"title": ""}, nil))

	var v struct {
		Valid  bool   `json:"valid"`
		Report string `json:"report"`
	}
	body := map[string]any{"actions": []domain.ScheduleAction{{
		Type: domain.ActionCreate, Title: "Lunch", Start: "2024-01-15T20:00:00Z", End: "2024-01-15T20:45:00Z",
	}}}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/validate", body, &v))
	assert.False(t, v.Valid)
	assert.NotEmpty(t, v.Report)

	// 20:00 UTC is 12:00 in Los Angeles during standard time.
	body["timezone"] = "America/Los_Angeles"
	body["actions"] = []domain.ScheduleAction{{
		Type: domain.ActionCreate, Title: "Lunch", Start: "2024-01-15T20:00:00Z", End: "2024-01-15T20:45:00Z",
	}}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/validate", body, &v))
	assert.True(t, v.Valid)

	body["timezone"] = "Bad/Zone"
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/validate", body, nil))
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(fakePinger{}).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	NewHealthHandler(fakePinger{err: errors.New("disk gone")}).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrTaskNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", calendar.ErrEventNotFound), http.StatusNotFound},
		{badRequest("x"), http.StatusBadRequest},
		{domain.ErrInvalidPriority, http.StatusBadRequest},
		{planner.ErrInvalidMove, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
