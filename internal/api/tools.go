package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/dayplan/internal/classify"
	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/identity"
	"github.com/ashureev/dayplan/internal/validate"
)

type classifyRequest struct {
	Title string `json:"title"`
}

type classifyResponse struct {
	Title string `json:"title"`
	classify.Classification
	Constraint string `json:"constraint_text"`
}

// Classify returns the scheduling metadata derived from a task title.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "classify", err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		h.fail(w, r, "classify", badRequest("title is required"))
		return
	}
	c := classify.Classify(title)
	JSON(w, http.StatusOK, classifyResponse{Title: title, Classification: c, Constraint: classify.DescribeConstraint(c)})
}

type validateRequest struct {
	Actions []domain.ScheduleAction `json:"actions"`
	// Timezone overrides the session zone for reading hours.
	Timezone string `json:"timezone"`
}

type validateResponse struct {
	validate.Result
	Report string `json:"report"`
}

// Validate checks a list of proposed actions without applying them.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "validate", err)
		return
	}
	loc := identity.SessionFromContext(r.Context()).Location()
	if req.Timezone != "" {
		l, err := time.LoadLocation(req.Timezone)
		if err != nil {
			h.fail(w, r, "validate", badRequest("unknown timezone %q", req.Timezone))
			return
		}
		loc = l
	}
	res := validate.New(loc).Validate(req.Actions)
	JSON(w, http.StatusOK, validateResponse{Result: res, Report: validate.Report(res)})
}

// Pinger is satisfied by the repository.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports process and database health.
type HealthHandler struct {
	db Pinger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health returns 200 when the database answers and 503 otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": err.Error()})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "ok"})
}
