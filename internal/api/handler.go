// Package api provides HTTP handlers for the dayplan API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/dayplan/internal/autonomous"
	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/ics"
	"github.com/ashureev/dayplan/internal/planner"
	"github.com/ashureev/dayplan/internal/preferences"
	"github.com/ashureev/dayplan/internal/replan"
	"github.com/ashureev/dayplan/internal/store"
)

const maxBodyBytes = 1 << 20

// Replanner accepts background planning triggers and serializes user
// planning with them per session and date.
type Replanner interface {
	Enqueue(t replan.Trigger) (bool, error)
	Do(ctx context.Context, sessionID, date string, fn func(ctx context.Context, date string) error) error
}

// FeedCloser drops live connections of a deleted session.
type FeedCloser interface {
	CloseSession(sessionID string)
}

// Deps are the services the handlers call.
type Deps struct {
	Repo       store.Repository
	Planner    *planner.Service
	Autonomous *autonomous.Service
	// Replan and Feeds may be nil. Without Replan, user plans run unserialized.
	Replan Replanner
	Feeds  FeedCloser
	Logger *slog.Logger
	// DefaultTimezone seeds sessions created through the API.
	DefaultTimezone string
}

// Handler serves the JSON API.
type Handler struct {
	repo       store.Repository
	planner    *planner.Service
	autonomous *autonomous.Service
	replan     Replanner
	feeds      FeedCloser
	logger     *slog.Logger
	defaultTZ  string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.DefaultTimezone == "" {
		d.DefaultTimezone = "UTC"
	}
	return &Handler{
		repo:       d.Repo,
		planner:    d.Planner,
		autonomous: d.Autonomous,
		replan:     d.Replan,
		feeds:      d.Feeds,
		logger:     d.Logger,
		defaultTZ:  d.DefaultTimezone,
	}
}

// RegisterRoutes registers the session-scoped API. The router must already
// run identity.Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/session", h.CreateSession)
		r.Get("/session", h.GetSession)
		r.Delete("/session", h.DeleteSession)

		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.CreateTask)
		r.Put("/tasks/{taskID}", h.UpdateTask)
		r.Delete("/tasks/{taskID}", h.DeleteTask)

		r.Post("/plan", h.Plan)
		r.Get("/decisions", h.ListDecisions)
		r.Delete("/decisions", h.ClearDecisions)
		r.Get("/conflicts", h.DetectConflicts)

		r.Get("/preferences", h.GetPreferences)
		r.Put("/preferences", h.UpdatePreferences)
		r.Get("/user-preferences", h.GetUserPreferences)
		r.Put("/user-preferences", h.SaveUserPreferences)

		r.Post("/autonomous/activate", h.ActivateAutonomous)
		r.Post("/autonomous/deactivate", h.DeactivateAutonomous)
		r.Get("/autonomous/status", h.GetAutonomousStatus)
		r.Put("/autonomous/status", h.UpdateAutonomousStatus)

		r.Get("/calendar/events", h.ListEvents)
		r.Post("/calendar/events/move", h.MoveEvent)
		r.Delete("/calendar/events/{eventID}", h.DeleteEvent)
		r.Post("/calendar/import", h.ImportICS)
		r.Post("/calendar/reset-to-plan", h.ResetToPlan)

		r.Post("/classify", h.Classify)
		r.Post("/validate", h.Validate)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errBadRequest marks handler-level input errors.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, calendar.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, preferences.ErrInvalidDayWindow),
		errors.Is(err, preferences.ErrInvalidTimezone),
		errors.Is(err, preferences.ErrTextTooLong),
		errors.Is(err, autonomous.ErrInvalidStatus),
		errors.Is(err, planner.ErrInvalidMove),
		errors.Is(err, ics.ErrEmpty):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail logs server errors and writes the mapped status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" failed", "error", err, "path", r.URL.Path)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// trigger asks the worker to re-plan when the session is in autonomous mode.
func (h *Handler) trigger(r *http.Request, sessionID, date, reason string) bool {
	if h.replan == nil || h.autonomous == nil {
		return false
	}
	if !h.autonomous.IsActive(r.Context(), sessionID) {
		return false
	}
	if _, err := h.replan.Enqueue(replan.Trigger{SessionID: sessionID, Date: date, Reason: reason}); err != nil {
		h.logger.Warn("Auto-replan trigger failed", "session_id", sessionID, "reason", reason, "error", err)
		return false
	}
	h.logger.Info("Auto-replanning triggered", "session_id", sessionID, "reason", reason, "date", date)
	return true
}
