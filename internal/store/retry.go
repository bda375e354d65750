package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
)

// isBusy reports whether err is a SQLite lock contention failure that is
// worth retrying. Extended result codes share the primary code in the low
// byte.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs fn, retrying busy and locked failures with exponential
// backoff: 100ms, 200ms.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := baseRetryDelay * time.Duration(1<<i)
			slog.Debug("SQLite write busy, retrying", "op", op, "attempt", i+1, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, maxRetries, err)
}
