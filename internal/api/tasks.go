package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/identity"
	"github.com/ashureev/dayplan/internal/preferences"
	"github.com/ashureev/dayplan/internal/replan"
)

type createSessionRequest struct {
	Timezone string `json:"timezone"`
}

// CreateSession starts a fresh session and returns its id. Clients send it
// back in the X-Session-ID header.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			h.fail(w, r, "create session", err)
			return
		}
	}
	tz := req.Timezone
	if tz == "" {
		tz = h.defaultTZ
	}
	if err := preferences.ValidateTimezone(tz); err != nil {
		h.fail(w, r, "create session", err)
		return
	}

	id, err := identity.NewAnonID()
	if err != nil {
		h.fail(w, r, "create session", err)
		return
	}
	sess, err := h.repo.EnsureSession(r.Context(), id, tz)
	if err != nil {
		h.fail(w, r, "create session", err)
		return
	}
	h.logger.Info("Session created", "session_id", sess.ID, "timezone", sess.Timezone)
	JSON(w, http.StatusCreated, sess)
}

// GetSession returns the caller's session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.repo.GetSession(r.Context(), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "get session", err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

// DeleteSession removes the session with its tasks, decisions and events.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if err := h.repo.DeleteSession(r.Context(), sessionID); err != nil {
		h.fail(w, r, "delete session", err)
		return
	}
	if h.feeds != nil {
		h.feeds.CloseSession(sessionID)
	}
	h.logger.Info("Session deleted", "session_id", sessionID)
	JSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

type createTaskRequest struct {
	Title      string `json:"title"`
	Priority   string `json:"priority"`
	TargetDate string `json:"target_date"`
}

type taskResponse struct {
	domain.Task
	AutoPlanTriggered bool `json:"auto_plan_triggered"`
}

// ListTasks returns every task of the session.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.repo.ListTasks(r.Context(), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "list tasks", err)
		return
	}
	JSON(w, http.StatusOK, tasks)
}

// CreateTask validates and stores a task. In autonomous mode it also asks
// for a re-plan of the task's day.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "create task", err)
		return
	}
	sess := identity.SessionFromContext(r.Context())
	task, err := newTask(sess, req)
	if err != nil {
		h.fail(w, r, "create task", err)
		return
	}
	if err := h.repo.CreateTask(r.Context(), task); err != nil {
		h.fail(w, r, "create task", err)
		return
	}

	resp := taskResponse{Task: *task}
	resp.AutoPlanTriggered = h.trigger(r, sess.ID, task.TargetDate, replan.ReasonTaskAdded)
	JSON(w, http.StatusCreated, resp)
}

func newTask(sess *domain.Session, req createTaskRequest) (*domain.Task, error) {
	title, err := domain.NormalizeTitle(req.Title)
	if err != nil {
		return nil, err
	}
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		return nil, err
	}
	date := req.TargetDate
	if date == "" {
		date = domain.Today(sess.Location())
	} else if _, err := domain.ParseDate(date); err != nil {
		return nil, err
	}
	return &domain.Task{
		SessionID:  sess.ID,
		Title:      title,
		Priority:   priority,
		TargetDate: date,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// UpdateTask applies a partial update.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var upd domain.TaskUpdate
	if err := decode(r, &upd); err != nil {
		h.fail(w, r, "update task", err)
		return
	}
	if upd.Title != nil {
		title, err := domain.NormalizeTitle(*upd.Title)
		if err != nil {
			h.fail(w, r, "update task", err)
			return
		}
		upd.Title = &title
	}
	if upd.Priority != nil {
		p, err := domain.ParsePriority(string(*upd.Priority))
		if err != nil {
			h.fail(w, r, "update task", err)
			return
		}
		upd.Priority = &p
	}

	task, err := h.repo.UpdateTask(r.Context(), identity.SessionIDFromContext(r.Context()), chi.URLParam(r, "taskID"), upd)
	if err != nil {
		h.fail(w, r, "update task", err)
		return
	}
	JSON(w, http.StatusOK, task)
}

// DeleteTask removes a task.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteTask(r.Context(), identity.SessionIDFromContext(r.Context()), chi.URLParam(r, "taskID")); err != nil {
		h.fail(w, r, "delete task", err)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}
