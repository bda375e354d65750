// Package planner drives planning attempts: generate, validate, repair once,
// and apply the accepted actions to the calendar.
package planner

import (
	"context"
	"log/slog"

	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/generator"
	"github.com/ashureev/dayplan/internal/metrics"
	"github.com/ashureev/dayplan/internal/validate"
)

// Generator produces raw plan text for a request.
type Generator interface {
	Generate(ctx context.Context, req generator.Request) (generator.Output, error)
}

// Outcome is how a planning attempt ended.
type Outcome string

const (
	// OutcomeValid: the first plan passed validation.
	OutcomeValid Outcome = "valid"
	// OutcomeRepairedValid: the first plan failed, the repair passed.
	OutcomeRepairedValid Outcome = "repaired_valid"
	// OutcomeRepairFailed: both failed; the original plan is returned with a caution.
	OutcomeRepairFailed Outcome = "repair_failed"
	// OutcomeParseFailed: the first response was not a plan.
	OutcomeParseFailed Outcome = "parse_failed"
	// OutcomeGenerationFailed: no backend produced a response.
	OutcomeGenerationFailed Outcome = "generation_failed"
)

// ParseErrorSummary is returned when the generator's output is not a plan.
const ParseErrorSummary = "Planning error: Could not parse AI response"

// Result is the typed outcome of one planning attempt.
type Result struct {
	Outcome  Outcome
	Plan     domain.Plan
	Errors   []string
	Warnings []validate.Warning
	Backend  string
	// Calls counts generator invocations; never more than two.
	Calls int
	// Err is the generation or parse failure, if any.
	Err error
}

// Accepted reports whether the plan's actions should be applied.
func (r Result) Accepted() bool {
	switch r.Outcome {
	case OutcomeValid, OutcomeRepairedValid, OutcomeRepairFailed:
		return true
	}
	return false
}

// Orchestrator runs the generate, validate, repair loop.
type Orchestrator struct {
	gen     Generator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewOrchestrator creates an orchestrator. logger and m may be nil.
func NewOrchestrator(gen Generator, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{gen: gen, logger: logger, metrics: m}
}

// Plan runs one attempt. It makes at most two generator calls, one after the
// other, and always returns a well-formed result.
func (o *Orchestrator) Plan(ctx context.Context, req generator.Request, v *validate.Validator) Result {
	req.Repair = nil
	res := o.plan(ctx, req, v)
	o.logger.Info("Planning attempt finished",
		"date", req.Date,
		"outcome", res.Outcome,
		"backend", res.Backend,
		"actions", len(res.Plan.Actions),
		"calls", res.Calls,
	)
	if o.metrics != nil {
		o.metrics.PlanOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	}
	return res
}

func (o *Orchestrator) plan(ctx context.Context, req generator.Request, v *validate.Validator) Result {
	out, err := o.gen.Generate(ctx, req)
	if err != nil {
		o.logger.Error("Schedule generation failed", "date", req.Date, "error", err)
		return Result{
			Outcome: OutcomeGenerationFailed,
			Plan:    emptyPlan("Planning error: " + err.Error()),
			Calls:   1,
			Err:     err,
		}
	}

	original, err := generator.ParsePlan(out.Text)
	if err != nil {
		o.logger.Error("Generator output did not parse", "backend", out.Backend, "error", err)
		return Result{
			Outcome: OutcomeParseFailed,
			Plan:    emptyPlan(ParseErrorSummary),
			Backend: out.Backend,
			Calls:   1,
			Err:     err,
		}
	}

	first := o.check(v, original)
	if first.Valid {
		return Result{Outcome: OutcomeValid, Plan: original, Warnings: first.Warnings, Backend: out.Backend, Calls: 1}
	}

	o.logger.Warn("Schedule validation failed, requesting repair", "date", req.Date, "errors", first.Errors)
	degraded := Result{
		Outcome:  OutcomeRepairFailed,
		Plan:     withCaution(original),
		Errors:   first.Errors,
		Warnings: first.Warnings,
		Backend:  out.Backend,
		Calls:    2,
	}

	repairReq := req
	repairReq.Repair = &generator.Repair{Errors: first.Errors}
	repairOut, err := o.gen.Generate(ctx, repairReq)
	if err != nil {
		o.logger.Warn("Repair generation failed, keeping original plan", "error", err)
		degraded.Err = err
		return degraded
	}

	repaired, err := generator.ParsePlan(repairOut.Text)
	if err != nil {
		o.logger.Warn("Repair output did not parse, keeping original plan", "backend", repairOut.Backend, "error", err)
		degraded.Err = err
		return degraded
	}

	second := o.check(v, repaired)
	if !second.Valid {
		o.logger.Warn("Repair also failed validation, keeping original plan", "errors", second.Errors)
		return degraded
	}

	o.logger.Info("Repair succeeded, schedule is now valid", "backend", repairOut.Backend)
	return Result{
		Outcome:  OutcomeRepairedValid,
		Plan:     repaired,
		Warnings: second.Warnings,
		Backend:  repairOut.Backend,
		Calls:    2,
	}
}

func (o *Orchestrator) check(v *validate.Validator, plan domain.Plan) validate.Result {
	res := v.Validate(plan.Actions)
	for _, w := range res.Warnings {
		o.logger.Info("Schedule warning", "category", w.Category, "message", w.Message)
	}
	if o.metrics != nil {
		o.metrics.ValidationFindings.WithLabelValues("error").Add(float64(len(res.Errors)))
		o.metrics.ValidationFindings.WithLabelValues("warning").Add(float64(len(res.Warnings)))
	}
	return res
}

func emptyPlan(summary string) domain.Plan {
	return domain.Plan{Actions: []domain.ScheduleAction{}, Summary: summary}
}

func withCaution(p domain.Plan) domain.Plan {
	p.Summary = "⚠️ " + p.Summary + " (Note: Some times may need manual adjustment)"
	return p
}
