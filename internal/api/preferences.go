package api

import (
	"net/http"
	"time"

	"github.com/ashureev/dayplan/internal/identity"
	"github.com/ashureev/dayplan/internal/preferences"
	"github.com/ashureev/dayplan/internal/replan"
)

type schedulePreferences struct {
	DayStartHour *int   `json:"day_start_hour"`
	DayEndHour   *int   `json:"day_end_hour"`
	Timezone     string `json:"timezone,omitempty"`
}

// GetPreferences returns the day window and timezone. New sessions default
// to 0-24, which means no constraint.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	sess, err := h.repo.GetSession(r.Context(), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "get preferences", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"day_start_hour": sess.DayStartHour,
		"day_end_hour":   sess.DayEndHour,
		"timezone":       sess.Timezone,
	})
}

// UpdatePreferences sets the day window and, optionally, the timezone.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req schedulePreferences
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "update preferences", err)
		return
	}
	if req.DayStartHour == nil || req.DayEndHour == nil {
		h.fail(w, r, "update preferences", badRequest("day_start_hour and day_end_hour are required"))
		return
	}
	if err := preferences.ValidateDayWindow(*req.DayStartHour, *req.DayEndHour); err != nil {
		h.fail(w, r, "update preferences", err)
		return
	}
	if err := preferences.ValidateTimezone(req.Timezone); err != nil {
		h.fail(w, r, "update preferences", err)
		return
	}

	sess := identity.SessionFromContext(r.Context())
	tz := req.Timezone
	if tz == "" {
		tz = sess.Timezone
	}
	if err := h.repo.UpdateSchedulePreferences(r.Context(), sess.ID, *req.DayStartHour, *req.DayEndHour, tz); err != nil {
		h.fail(w, r, "update preferences", err)
		return
	}
	h.logger.Info("Updated preferences", "session_id", sess.ID,
		"day_start_hour", *req.DayStartHour, "day_end_hour", *req.DayEndHour, "timezone", tz)

	triggered := h.trigger(r, sess.ID, "", replan.ReasonPreferenceChanged)
	JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"preferences": map[string]any{
			"day_start_hour": *req.DayStartHour,
			"day_end_hour":   *req.DayEndHour,
			"timezone":       tz,
		},
		"auto_plan_triggered": triggered,
	})
}

type userPreferencesRequest struct {
	PreferencesText string `json:"preferences_text"`
}

// GetUserPreferences returns the free-text rules and their parsed form.
func (h *Handler) GetUserPreferences(w http.ResponseWriter, r *http.Request) {
	sess, err := h.repo.GetSession(r.Context(), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "get user preferences", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"preferences_text": sess.PreferencesText,
		"parsed_rules":     preferences.Parse(sess.PreferencesText),
		"updated_at":       sess.PreferencesUpdatedAt,
	})
}

// SaveUserPreferences stores the free-text rules.
func (h *Handler) SaveUserPreferences(w http.ResponseWriter, r *http.Request) {
	var req userPreferencesRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "save user preferences", err)
		return
	}
	if err := preferences.ValidateText(req.PreferencesText); err != nil {
		h.fail(w, r, "save user preferences", err)
		return
	}

	sessionID := identity.SessionIDFromContext(r.Context())
	now := time.Now().UTC()
	if err := h.repo.UpdatePreferencesText(r.Context(), sessionID, req.PreferencesText, now); err != nil {
		h.fail(w, r, "save user preferences", err)
		return
	}
	rules := preferences.Parse(req.PreferencesText)
	h.logger.Info("Saved preferences", "session_id", sessionID, "rules", len(rules))

	triggered := h.trigger(r, sessionID, "", replan.ReasonPreferenceChanged)
	JSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"preferences_text":    req.PreferencesText,
		"parsed_rules":        rules,
		"updated_at":          now,
		"auto_plan_triggered": triggered,
	})
}

type autonomousStatusRequest struct {
	Status string `json:"status"`
}

// ActivateAutonomous turns autonomous mode on.
func (h *Handler) ActivateAutonomous(w http.ResponseWriter, r *http.Request) {
	mode, err := h.autonomous.Activate(r.Context(), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "activate autonomous mode", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"autonomous_mode": mode,
		"message":         "Autonomous mode activated",
	})
}

// DeactivateAutonomous pauses autonomous mode.
func (h *Handler) DeactivateAutonomous(w http.ResponseWriter, r *http.Request) {
	mode, err := h.autonomous.Deactivate(r.Context(), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "deactivate autonomous mode", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"autonomous_mode": mode,
		"message":         "Autonomous mode paused",
	})
}

// GetAutonomousStatus returns the autonomous-mode snapshot.
func (h *Handler) GetAutonomousStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.autonomous.GetStatus(r.Context(), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "get autonomous status", err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// UpdateAutonomousStatus sets the status label. The label may also be sent
// as the status query parameter.
func (h *Handler) UpdateAutonomousStatus(w http.ResponseWriter, r *http.Request) {
	req := autonomousStatusRequest{Status: r.URL.Query().Get("status")}
	if req.Status == "" {
		if err := decode(r, &req); err != nil {
			h.fail(w, r, "update autonomous status", err)
			return
		}
	}
	st, err := h.autonomous.UpdateStatus(r.Context(), identity.SessionIDFromContext(r.Context()), req.Status)
	if err != nil {
		h.fail(w, r, "update autonomous status", err)
		return
	}
	JSON(w, http.StatusOK, st)
}
