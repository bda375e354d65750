// Dayplan - guarded day planning server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ashureev/dayplan/internal/api"
	"github.com/ashureev/dayplan/internal/autonomous"
	"github.com/ashureev/dayplan/internal/config"
	"github.com/ashureev/dayplan/internal/generator"
	"github.com/ashureev/dayplan/internal/identity"
	"github.com/ashureev/dayplan/internal/metrics"
	"github.com/ashureev/dayplan/internal/middleware"
	"github.com/ashureev/dayplan/internal/notify"
	"github.com/ashureev/dayplan/internal/planner"
	"github.com/ashureev/dayplan/internal/replan"
	"github.com/ashureev/dayplan/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	m := metrics.New(prometheus.DefaultRegisterer)

	chain, closeBackends, err := buildChain(cfg.Generator, logger, m)
	if err != nil {
		slog.Error("Failed to initialize generator chain", "error", err)
		os.Exit(1)
	}
	defer closeBackends()
	slog.Info("Generator chain ready", "backends", chain.Backends())

	// Initialize services.
	autoSvc := autonomous.NewService(repo, logger)
	plannerSvc := planner.NewService(repo, planner.NewOrchestrator(chain, logger, m), autoSvc, logger, m)
	hub := notify.NewHub(logger, m)
	worker := replan.NewWorker(plannerSvc, autoSvc, replan.Options{
		RunTimeout: 2 * cfg.Generator.Timeout,
		Publisher:  hub,
		Sessions:   repo,
		Logger:     logger,
		Metrics:    m,
	})

	// Initialize handlers.
	apiHandler := api.NewHandler(api.Deps{
		Repo:            repo,
		Planner:         plannerSvc,
		Autonomous:      autoSvc,
		Replan:          worker,
		Feeds:           hub,
		Logger:          logger,
		DefaultTimezone: cfg.DefaultTimezone,
	})
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := notify.NewHandler(hub, cfg.AllowedOrigins, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Session-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.DefaultTimezone, cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/decisions", wsHandler.ServeHTTP)
	})

	// Create server.
	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start conflict monitor.
	if cfg.Monitor.Enabled {
		monitor := replan.NewMonitor(repo, worker, logger, m)
		if err := monitor.Start(ctx, cfg.Monitor.Schedule); err != nil {
			slog.Error("Failed to start conflict monitor", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("Conflict monitor disabled")
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	worker.Stop()

	slog.Info("Server stopped successfully")
}

// buildChain turns the configured backends into a fallback chain. The
// returned func closes any gRPC connections.
func buildChain(cfg config.GeneratorConfig, logger *slog.Logger, m *metrics.Metrics) (*generator.Chain, func(), error) {
	specs, err := cfg.Backends()
	if err != nil {
		return nil, nil, err
	}

	opts := generator.HTTPOptions{Timeout: cfg.Timeout}
	if cfg.RateLimit > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}

	var grpcBackends []*generator.GRPCBackend
	closeAll := func() {
		for _, g := range grpcBackends {
			g.Close()
		}
	}

	backends := make([]generator.Backend, 0, len(specs))
	for _, spec := range specs {
		b, err := generator.NewBackend(spec, opts, logger)
		if err != nil {
			// An unreachable agent is skipped when other backends exist.
			if spec.Provider == generator.ProviderGRPC && len(specs) > 1 {
				slog.Warn("Skipping generator backend", "provider", spec.Provider, "url", spec.URL, "error", err)
				continue
			}
			closeAll()
			return nil, nil, err
		}
		if g, ok := b.(*generator.GRPCBackend); ok {
			grpcBackends = append(grpcBackends, g)
		}
		backends = append(backends, b)
	}

	chain, err := generator.NewChain(backends, logger, m)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return chain, closeAll, nil
}
