// Package generator talks to the external schedule generators: prompt
// rendering, backend adapters, ordered fallback, and output parsing.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/dayplan/internal/metrics"
)

// Backend is one generator endpoint.
type Backend interface {
	// Name identifies the backend in logs and results.
	Name() string

	// Complete sends a prompt and returns the raw model text. Errors should be
	// wrapped as *TransientError or *FatalError.
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Output is raw generator text and the backend that produced it.
type Output struct {
	Text    string
	Backend string
}

// Chain tries backends in priority order. A transient failure moves on to the
// next backend; anything else aborts.
type Chain struct {
	backends []Backend
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewChain builds a chain. m may be nil.
func NewChain(backends []Backend, logger *slog.Logger, m *metrics.Metrics) (*Chain, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{backends: backends, logger: logger, metrics: m}, nil
}

// Backends returns the backend names in order.
func (c *Chain) Backends() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

// Generate renders req and sends it down the chain.
func (c *Chain) Generate(ctx context.Context, req Request) (Output, error) {
	prompt := BuildPrompt(req)

	var lastErr error
	for _, b := range c.backends {
		c.logger.Info("Attempting generation", "backend", b.Name(), "repair", req.Repair != nil)
		started := time.Now()

		text, err := b.Complete(ctx, prompt)
		c.observe(b.Name(), err, time.Since(started))
		if err == nil {
			c.logger.Info("Generation succeeded", "backend", b.Name(), "length", len(text))
			return Output{Text: text, Backend: b.Name()}, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return Output{}, fmt.Errorf("generation canceled: %w", ctx.Err())
		}
		if !IsTransient(err) {
			c.logger.Warn("Non-retriable generator error, not trying fallbacks", "backend", b.Name(), "error", err)
			return Output{}, err
		}
		c.logger.Warn("Backend failed, trying fallback", "backend", b.Name(), "error", err)
	}

	return Output{}, fmt.Errorf("all generator backends failed: %w", lastErr)
}

func (c *Chain) observe(backend string, err error, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case IsTransient(err):
		outcome = "transient"
	default:
		outcome = "fatal"
	}
	c.metrics.GeneratorCalls.WithLabelValues(backend, outcome).Inc()
	c.metrics.GeneratorLatency.WithLabelValues(backend).Observe(elapsed.Seconds())
}
