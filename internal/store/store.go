// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/dayplan/internal/calendar"
	"github.com/ashureev/dayplan/internal/domain"
)

var (
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTaskNotFound is returned when a task id does not exist in the session.
	ErrTaskNotFound = errors.New("task not found")
	// ErrStaleStatus is returned when a conditional status update lost a race.
	ErrStaleStatus = errors.New("autonomous status changed concurrently")
)

// Repository defines the interface for persisting sessions, tasks, the
// decision log, and each session's calendar.
type Repository interface {
	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// EnsureSession returns the session, creating it with defaults if needed.
	EnsureSession(ctx context.Context, sessionID, timezone string) (*domain.Session, error)

	// DeleteSession removes a session with its tasks, decisions and events.
	DeleteSession(ctx context.Context, sessionID string) error

	// UpdateSchedulePreferences sets the day window and timezone.
	UpdateSchedulePreferences(ctx context.Context, sessionID string, dayStart, dayEnd int, timezone string) error

	// UpdatePreferencesText stores the free-text scheduling rules.
	UpdatePreferencesText(ctx context.Context, sessionID, text string, at time.Time) error

	// ReplaceAutonomous overwrites the autonomous-mode sub-document.
	ReplaceAutonomous(ctx context.Context, sessionID string, mode domain.AutonomousMode) error

	// SetAutonomousStatus changes only the status label. If expected is
	// non-empty the update only happens while the current status matches it
	// (optimistic locking) and ErrStaleStatus is returned otherwise.
	SetAutonomousStatus(ctx context.Context, sessionID string, status, expected domain.AutonomousStatus, at time.Time) error

	// ListAutonomousSessions returns the sessions with autonomous mode on.
	ListAutonomousSessions(ctx context.Context) ([]domain.Session, error)

	// CreateTask stores a new task.
	CreateTask(ctx context.Context, task *domain.Task) error

	// ListTasks returns every task of a session, oldest first.
	ListTasks(ctx context.Context, sessionID string) ([]domain.Task, error)

	// ListOpenTasks returns the incomplete tasks targeting date.
	ListOpenTasks(ctx context.Context, sessionID, date string) ([]domain.Task, error)

	// UpdateTask applies a partial update and returns the result.
	UpdateTask(ctx context.Context, sessionID, taskID string, update domain.TaskUpdate) (*domain.Task, error)

	// DeleteTask removes a task.
	DeleteTask(ctx context.Context, sessionID, taskID string) error

	// AppendDecision adds a decision log entry.
	AppendDecision(ctx context.Context, d *domain.Decision) error

	// ListDecisions returns up to limit decisions, newest first.
	ListDecisions(ctx context.Context, sessionID string, limit int) ([]domain.Decision, error)

	// ClearDecisions empties a session's decision log.
	ClearDecisions(ctx context.Context, sessionID string) (int64, error)

	// Calendar returns the calendar owned by a session.
	Calendar(sessionID string) calendar.Store

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
