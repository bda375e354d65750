package domain

import (
	"time"
)

// ActionType names a proposed schedule edit.
type ActionType string

const (
	ActionMove   ActionType = "move_event"
	ActionCreate ActionType = "create_event"
)

// ScheduleAction is one edit proposed by the generator. Move actions reference
// an existing event; create actions carry a new title. Timestamps stay as the
// generator wrote them until they are checked or applied.
type ScheduleAction struct {
	Type ActionType `json:"type"`

	// Move fields.
	EventID       string `json:"event_id,omitempty"`
	EventTitle    string `json:"event_title,omitempty"`
	OriginalStart string `json:"original_start,omitempty"`
	OriginalEnd   string `json:"original_end,omitempty"`
	NewStart      string `json:"new_start,omitempty"`
	NewEnd        string `json:"new_end,omitempty"`

	// Create fields.
	Title string `json:"title,omitempty"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// DisplayTitle returns the title of the event the action touches.
func (a ScheduleAction) DisplayTitle() string {
	if a.Type == ActionCreate || a.EventTitle == "" {
		return a.Title
	}
	return a.EventTitle
}

// ProposedStart returns the start the action wants to put on the calendar.
func (a ScheduleAction) ProposedStart() string {
	if a.Type == ActionMove {
		return a.NewStart
	}
	return a.Start
}

// ProposedEnd returns the end the action wants to put on the calendar.
func (a ScheduleAction) ProposedEnd() string {
	if a.Type == ActionMove {
		return a.NewEnd
	}
	return a.End
}

// Plan is a parsed generator response.
type Plan struct {
	Actions []ScheduleAction `json:"actions"`
	Summary string           `json:"summary"`
}

// Decision action types beyond the schedule actions themselves.
const (
	DecisionError      = "error"
	DecisionMoveManual = "move_event_manual"
)

// Decision is the log entry written for every applied (or failed) action.
type Decision struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	ActionType        string    `json:"action_type"`
	EventID           string    `json:"event_id,omitempty"`
	EventTitle        string    `json:"event_title"`
	Description       string    `json:"description"`
	Reason            string    `json:"reason"`
	OriginalTime      string    `json:"original_time,omitempty"`
	NewTime           string    `json:"new_time,omitempty"`
	EndTime           string    `json:"end_time,omitempty"`
	Trigger           string    `json:"autonomous_trigger,omitempty"`
	ConflictingEvents []string  `json:"conflicting_events,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// IsError reports whether the decision records a failed action.
func (d Decision) IsError() bool {
	return d.ActionType == DecisionError
}
