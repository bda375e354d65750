package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the unary method a planner agent serves. Request and
// response are google.protobuf.Struct: {"system", "user"} in, {"text"} out.
const GenerateMethod = "/dayplan.planner.v1.Planner/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errEmptyAgentResponse       = errors.New("planner agent returned no text")
)

// GRPCConfig holds configuration for the planner agent client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended to the defaults, mainly for tests.
	DialOptions []grpc.DialOption
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCBackend forwards prompts to an out-of-process planner agent.
type GRPCBackend struct {
	conn           *grpc.ClientConn
	addr           string
	requestTimeout time.Duration
	logger         *slog.Logger
}

// NewGRPCBackend connects to the planner agent and waits until it is ready.
func NewGRPCBackend(cfg GRPCConfig, logger *slog.Logger) (*GRPCBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to planner agent at %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad agent endpoint.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("planner agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to planner agent", "address", cfg.Address)

	return &GRPCBackend{
		conn:           conn,
		addr:           cfg.Address,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Name returns "grpc/<address>".
func (g *GRPCBackend) Name() string { return "grpc/" + g.addr }

// Complete invokes GenerateMethod.
func (g *GRPCBackend) Complete(ctx context.Context, p Prompt) (string, error) {
	if g.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.requestTimeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]any{
		"system": p.System,
		"user":   p.User,
	})
	if err != nil {
		return "", NewFatalError(fmt.Errorf("build agent request: %w", err))
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, GenerateMethod, req, resp); err != nil {
		g.logger.Warn("planner agent call failed", "error", err, "address", g.addr)
		return "", classifyGRPCError(err)
	}

	text := resp.GetFields()["text"].GetStringValue()
	if text == "" {
		return "", NewTransientError(errEmptyAgentResponse)
	}
	return text, nil
}

// Close closes the gRPC connection.
func (g *GRPCBackend) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

func classifyGRPCError(err error) error {
	wrapped := fmt.Errorf("planner agent: %w", err)
	switch status.Code(err) {
	case codes.ResourceExhausted, codes.Unavailable, codes.NotFound, codes.DeadlineExceeded, codes.Aborted:
		return NewTransientError(wrapped)
	default:
		return NewFatalError(wrapped)
	}
}
