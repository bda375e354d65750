// Package autonomous tracks, per session, whether unattended re-planning is
// allowed and which phase it is in.
package autonomous

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/store"
)

// ErrInvalidStatus is returned by UpdateStatus for labels outside
// active|planning|monitoring|paused.
var ErrInvalidStatus = errors.New("invalid status: must be one of active, planning, monitoring, paused")

// Store is the session persistence the state machine writes through.
// Unknown sessions fail with store.ErrSessionNotFound.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ReplaceAutonomous(ctx context.Context, sessionID string, mode domain.AutonomousMode) error
	SetAutonomousStatus(ctx context.Context, sessionID string, status, expected domain.AutonomousStatus, at time.Time) error
}

// Status is a point-in-time snapshot of a session's autonomous mode.
type Status struct {
	Active        bool                    `json:"active"`
	Status        domain.AutonomousStatus `json:"status"`
	ActivatedAt   *time.Time              `json:"activated_at"`
	DeactivatedAt *time.Time              `json:"deactivated_at"`
	Message       string                  `json:"message,omitempty"`
}

// ParseStatus validates a status label.
func ParseStatus(s string) (domain.AutonomousStatus, error) {
	switch st := domain.AutonomousStatus(s); st {
	case domain.StatusActive, domain.StatusPlanning, domain.StatusMonitoring, domain.StatusPaused:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Service is the autonomous-mode state machine. Writes are last-write-wins.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the state machine over repo. logger may be nil.
func NewService(repo Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: repo, logger: logger, now: time.Now}
}

// Activate turns autonomous mode on.
func (s *Service) Activate(ctx context.Context, sessionID string) (domain.AutonomousMode, error) {
	now := s.now().UTC()
	mode := domain.AutonomousMode{Active: true, Status: domain.StatusActive, ActivatedAt: &now, LastUpdated: &now}
	if err := s.store.ReplaceAutonomous(ctx, sessionID, mode); err != nil {
		s.logger.Error("Failed to activate autonomous mode", "session_id", sessionID, "error", err)
		return domain.AutonomousMode{}, err
	}
	s.logger.Info("Autonomous mode activated", "session_id", sessionID)
	return mode, nil
}

// Deactivate pauses autonomous mode.
func (s *Service) Deactivate(ctx context.Context, sessionID string) (domain.AutonomousMode, error) {
	now := s.now().UTC()
	mode := domain.AutonomousMode{Active: false, Status: domain.StatusPaused, DeactivatedAt: &now, LastUpdated: &now}
	if err := s.store.ReplaceAutonomous(ctx, sessionID, mode); err != nil {
		s.logger.Error("Failed to deactivate autonomous mode", "session_id", sessionID, "error", err)
		return domain.AutonomousMode{}, err
	}
	s.logger.Info("Autonomous mode deactivated", "session_id", sessionID)
	return mode, nil
}

// GetStatus reads the current state. A session that never enabled
// autonomous mode reports inactive and paused.
func (s *Service) GetStatus(ctx context.Context, sessionID string) (Status, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	return snapshot(sess.Autonomous), nil
}

// UpdateStatus sets the status label without touching the active flag.
func (s *Service) UpdateStatus(ctx context.Context, sessionID, status string) (Status, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return Status{}, err
	}
	if err := s.store.SetAutonomousStatus(ctx, sessionID, st, "", s.now().UTC()); err != nil {
		s.logger.Error("Failed to update autonomous status", "session_id", sessionID, "error", err)
		return Status{}, err
	}
	s.logger.Info("Updated autonomous status", "session_id", sessionID, "status", st)
	return s.GetStatus(ctx, sessionID)
}

// Transition moves from one status to another only if the session is still
// in from. It reports whether the transition happened.
func (s *Service) Transition(ctx context.Context, sessionID string, from, to domain.AutonomousStatus) (bool, error) {
	err := s.store.SetAutonomousStatus(ctx, sessionID, to, from, s.now().UTC())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrStaleStatus) {
		return false, nil
	}
	return false, err
}

// IsActive reports whether autonomous mode is on. Any read failure,
// including an unknown session, reads as inactive.
func (s *Service) IsActive(ctx context.Context, sessionID string) bool {
	st, err := s.GetStatus(ctx, sessionID)
	if err != nil {
		return false
	}
	return st.Active
}

func snapshot(m domain.AutonomousMode) Status {
	st := Status{
		Active:        m.Active,
		Status:        m.Status,
		ActivatedAt:   m.ActivatedAt,
		DeactivatedAt: m.DeactivatedAt,
	}
	if st.Status == "" {
		st.Status = domain.StatusPaused
	}
	return st
}
