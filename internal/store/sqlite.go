package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/dayplan/internal/domain"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // Serializes session row writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		day_start_hour INTEGER NOT NULL DEFAULT 0,
		day_end_hour INTEGER NOT NULL DEFAULT 24,
		preferences_text TEXT NOT NULL DEFAULT '',
		preferences_updated_at INTEGER,
		auto_active INTEGER NOT NULL DEFAULT 0,
		auto_status TEXT NOT NULL DEFAULT '',
		auto_activated_at INTEGER,
		auto_deactivated_at INTEGER,
		auto_updated_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_auto ON sessions(auto_active) WHERE auto_active = 1;

	CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		title TEXT NOT NULL,
		priority TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		target_date TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_session_date ON tasks(session_id, target_date);

	CREATE TABLE IF NOT EXISTS decisions (
		decision_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT '',
		event_title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		original_time TEXT NOT NULL DEFAULT '',
		new_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		trigger_reason TEXT NOT NULL DEFAULT '',
		conflicting_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id, created_at);

	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		start_text TEXT NOT NULL,
		end_text TEXT NOT NULL,
		start_unix INTEGER NOT NULL,
		end_unix INTEGER NOT NULL,
		all_day INTEGER NOT NULL DEFAULT 0,
		attendees_json TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, event_id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_range ON events(session_id, start_unix, end_unix);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func nullJSON(v []string) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeStrings(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		slog.Warn("Discarding malformed JSON list", "error", err)
		return nil
	}
	return out
}

// ---- sessions ----

const sessionColumns = `session_id, timezone, day_start_hour, day_end_hour, preferences_text,
	preferences_updated_at, auto_active, auto_status, auto_activated_at, auto_deactivated_at,
	auto_updated_at, created_at, updated_at`

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var prefsAt, activatedAt, deactivatedAt, autoUpdatedAt sql.NullInt64
	var status string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&sess.ID, &sess.Timezone, &sess.DayStartHour, &sess.DayEndHour, &sess.PreferencesText,
		&prefsAt, &sess.Autonomous.Active, &status, &activatedAt, &deactivatedAt,
		&autoUpdatedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	sess.PreferencesUpdatedAt = unixPtr(prefsAt)
	sess.Autonomous.Status = domain.AutonomousStatus(status)
	sess.Autonomous.ActivatedAt = unixPtr(activatedAt)
	sess.Autonomous.DeactivatedAt = unixPtr(deactivatedAt)
	sess.Autonomous.LastUpdated = unixPtr(autoUpdatedAt)
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sess, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// EnsureSession returns the session, creating it with defaults if needed.
func (s *SQLiteStore) EnsureSession(ctx context.Context, sessionID, timezone string) (*domain.Session, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	now := time.Now().Unix()
	err := withRetry(ctx, "ensure session", func() error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (session_id, timezone, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id) DO NOTHING`,
			sessionID, timezone, now, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

// DeleteSession removes a session with its tasks, decisions and events.
// Deleting a missing session is not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return withRetry(ctx, "delete session", func() error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, table := range []string{"events", "decisions", "tasks", "sessions"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, sessionID); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		return tx.Commit()
	})
}

// updateSession runs a session UPDATE and maps zero affected rows to
// ErrSessionNotFound.
func (s *SQLiteStore) updateSession(ctx context.Context, op, query string, args ...any) error {
	return withRetry(ctx, op, func() error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()

		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

// UpdateSchedulePreferences sets the day window and timezone.
func (s *SQLiteStore) UpdateSchedulePreferences(ctx context.Context, sessionID string, dayStart, dayEnd int, timezone string) error {
	if timezone == "" {
		timezone = "UTC"
	}
	return s.updateSession(ctx, "update schedule preferences",
		`UPDATE sessions SET day_start_hour = ?, day_end_hour = ?, timezone = ?, updated_at = ? WHERE session_id = ?`,
		dayStart, dayEnd, timezone, time.Now().Unix(), sessionID)
}

// UpdatePreferencesText stores the free-text scheduling rules.
func (s *SQLiteStore) UpdatePreferencesText(ctx context.Context, sessionID, text string, at time.Time) error {
	return s.updateSession(ctx, "update preferences text",
		`UPDATE sessions SET preferences_text = ?, preferences_updated_at = ?, updated_at = ? WHERE session_id = ?`,
		text, at.Unix(), time.Now().Unix(), sessionID)
}

// ReplaceAutonomous overwrites the autonomous-mode sub-document.
func (s *SQLiteStore) ReplaceAutonomous(ctx context.Context, sessionID string, mode domain.AutonomousMode) error {
	return s.updateSession(ctx, "replace autonomous mode", `
		UPDATE sessions SET auto_active = ?, auto_status = ?, auto_activated_at = ?,
			auto_deactivated_at = ?, auto_updated_at = ?, updated_at = ?
		WHERE session_id = ?`,
		mode.Active, string(mode.Status), nullUnix(mode.ActivatedAt),
		nullUnix(mode.DeactivatedAt), nullUnix(mode.LastUpdated), time.Now().Unix(), sessionID)
}

// SetAutonomousStatus changes only the status label.
func (s *SQLiteStore) SetAutonomousStatus(ctx context.Context, sessionID string, status, expected domain.AutonomousStatus, at time.Time) error {
	query := `UPDATE sessions SET auto_status = ?, auto_updated_at = ?, updated_at = ? WHERE session_id = ?`
	args := []any{string(status), at.Unix(), time.Now().Unix(), sessionID}
	if expected != "" {
		query += ` AND auto_status = ?`
		args = append(args, string(expected))
	}

	err := s.updateSession(ctx, "set autonomous status", query, args...)
	if errors.Is(err, ErrSessionNotFound) && expected != "" {
		if _, getErr := s.GetSession(ctx, sessionID); getErr == nil {
			slog.Debug("SetAutonomousStatus lost optimistic lock", "session_id", sessionID, "expected", expected)
			return ErrStaleStatus
		}
	}
	return err
}

// ListAutonomousSessions returns the sessions with autonomous mode on.
func (s *SQLiteStore) ListAutonomousSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE auto_active = 1 ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("query autonomous sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close autonomous sessions rows", "error", closeErr)
		}
	}()

	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan autonomous session row: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate autonomous sessions: %w", err)
	}
	return sessions, nil
}

// ---- tasks ----

const taskColumns = `task_id, session_id, title, priority, completed, target_date, created_at`

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var priority string
	var createdAt int64
	if err := row.Scan(&task.ID, &task.SessionID, &task.Title, &priority, &task.Completed, &task.TargetDate, &createdAt); err != nil {
		return nil, err
	}
	task.Priority = domain.Priority(priority)
	task.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &task, nil
}

// CreateTask stores a new task, assigning an id and creation time if unset.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	return withRetry(ctx, "create task", func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.SessionID, task.Title, string(task.Priority), task.Completed, task.TargetDate, task.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close task rows", "error", closeErr)
		}
	}()

	tasks := []domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// ListTasks returns every task of a session, oldest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, sessionID string) ([]domain.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
}

// ListOpenTasks returns the incomplete tasks targeting date.
func (s *SQLiteStore) ListOpenTasks(ctx context.Context, sessionID, date string) ([]domain.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE session_id = ? AND target_date = ? AND completed = 0
		ORDER BY created_at, rowid`, sessionID, date)
}

func (s *SQLiteStore) getTask(ctx context.Context, sessionID, taskID string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE session_id = ? AND task_id = ?`, sessionID, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task row: %w", err)
	}
	return task, nil
}

// UpdateTask applies a partial update and returns the result. An empty
// update returns the task unchanged.
func (s *SQLiteStore) UpdateTask(ctx context.Context, sessionID, taskID string, update domain.TaskUpdate) (*domain.Task, error) {
	var sets []string
	var args []any
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*update.Priority))
	}
	if update.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, *update.Completed)
	}
	if len(sets) == 0 {
		return s.getTask(ctx, sessionID, taskID)
	}

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE session_id = ? AND task_id = ?`
	args = append(args, sessionID, taskID)
	err := withRetry(ctx, "update task", func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrTaskNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.getTask(ctx, sessionID, taskID)
}

// DeleteTask removes a task.
func (s *SQLiteStore) DeleteTask(ctx context.Context, sessionID, taskID string) error {
	return withRetry(ctx, "delete task", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE session_id = ? AND task_id = ?`, sessionID, taskID)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrTaskNotFound
		}
		return nil
	})
}

// ---- decisions ----

const decisionColumns = `decision_id, session_id, action_type, event_id, event_title, description, reason,
	original_time, new_time, end_time, trigger_reason, conflicting_json, created_at`

// AppendDecision adds a decision log entry.
func (s *SQLiteStore) AppendDecision(ctx context.Context, d *domain.Decision) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	conflicting, err := nullJSON(d.ConflictingEvents)
	if err != nil {
		return fmt.Errorf("encode conflicting events: %w", err)
	}
	return withRetry(ctx, "append decision", func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO decisions (`+decisionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.SessionID, d.ActionType, d.EventID, d.EventTitle, d.Description, d.Reason,
			d.OriginalTime, d.NewTime, d.EndTime, d.Trigger, conflicting, d.Timestamp.UnixNano())
		if err != nil {
			return fmt.Errorf("insert decision: %w", err)
		}
		return nil
	})
}

// ListDecisions returns up to limit decisions, newest first.
func (s *SQLiteStore) ListDecisions(ctx context.Context, sessionID string, limit int) ([]domain.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close decision rows", "error", closeErr)
		}
	}()

	decisions := []domain.Decision{}
	for rows.Next() {
		var d domain.Decision
		var conflicting sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&d.ID, &d.SessionID, &d.ActionType, &d.EventID, &d.EventTitle, &d.Description, &d.Reason,
			&d.OriginalTime, &d.NewTime, &d.EndTime, &d.Trigger, &conflicting, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		d.ConflictingEvents = decodeStrings(conflicting)
		d.Timestamp = time.Unix(0, createdAt).UTC()
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return decisions, nil
}

// ClearDecisions empties a session's decision log.
func (s *SQLiteStore) ClearDecisions(ctx context.Context, sessionID string) (int64, error) {
	var deleted int64
	err := withRetry(ctx, "clear decisions", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("clear decisions: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}
