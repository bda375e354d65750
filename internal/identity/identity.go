// Package identity resolves which planning session a request belongs to.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/dayplan/internal/domain"
)

const (
	AnonCookieName    = "dayplan_session"
	SessionHeaderName = "X-Session-ID"
	SessionQueryParam = "session_id"
	anonCookieMaxAge  = 30 * 24 * time.Hour
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	sessionKey
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// SessionEnsurer creates a session row on first use.
type SessionEnsurer interface {
	EnsureSession(ctx context.Context, sessionID, timezone string) (*domain.Session, error)
}

// SessionIDFromContext extracts the session id from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionFromContext returns the session loaded by the middleware.
func SessionFromContext(ctx context.Context) *domain.Session {
	if v, ok := ctx.Value(sessionKey).(*domain.Session); ok {
		return v
	}
	return nil
}

// WithSession returns a context carrying sess. Handlers under test use it to
// bypass the middleware.
func WithSession(ctx context.Context, sess *domain.Session) context.Context {
	ctx = context.WithValue(ctx, sessionIDKey, sess.ID)
	return context.WithValue(ctx, sessionKey, sess)
}

// NewAnonID returns a fresh anonymous session id.
func NewAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// ValidSessionID reports whether id is acceptable as a session id.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && anonIDPattern.MatchString(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}
	id, err := NewAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// explicitSessionID returns the id named by header or query, if any.
func explicitSessionID(r *http.Request) string {
	sid := strings.TrimSpace(r.Header.Get(SessionHeaderName))
	if sid == "" {
		sid = strings.TrimSpace(r.URL.Query().Get(SessionQueryParam))
	}
	return sid
}

// Middleware resolves the session from the X-Session-ID header, the
// session_id query parameter, or an anonymous cookie, creating the session
// with defaultTZ on first use.
func Middleware(repo SessionEnsurer, defaultTZ string, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := explicitSessionID(r)
			if sessionID != "" && !ValidSessionID(sessionID) {
				writeError(w, http.StatusBadRequest, "invalid session id")
				return
			}
			if sessionID == "" {
				id, err := getOrCreateAnonID(w, r, isDev)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "failed to establish anonymous session")
					return
				}
				sessionID = id
			}

			sess, err := repo.EnsureSession(r.Context(), sessionID, defaultTZ)
			if err != nil {
				slog.Error("Failed to initialize session", "session_id", sessionID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to initialize session")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, msg)
}

// IPFromRequest returns a normalized remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
