package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// ExtractMethod is the unary method served by the extractor sidecar. Requests and
// responses are google.protobuf.Struct messages.
const ExtractMethod = "/logistics.v1.ExtractorService/Extract"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the sidecar client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended to the defaults; tests use them to dial an in-memory listener.
	DialOptions []grpc.DialOption
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   10 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCBackend asks a remote extractor service for the intent.
type GRPCBackend struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *slog.Logger
}

// NewGRPCBackend connects to the sidecar and waits until the channel is ready.
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
		return nil, fmt.Errorf("failed to connect to extractor at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("extractor at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to extractor service", "address", cfg.Address)
	return &GRPCBackend{conn: conn, timeout: cfg.RequestTimeout, logger: logger}, nil
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

// Name implements Backend.
func (b *GRPCBackend) Name() string { return "grpc" }

// Extract implements Backend.
func (b *GRPCBackend) Extract(ctx context.Context, text string, history []domain.Message) (Extraction, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	turns := make([]any, 0, len(history))
	for _, m := range history {
		turns = append(turns, map[string]any{"role": m.Role, "content": m.Content})
	}
	req, err := structpb.NewStruct(map[string]any{
		"text":    text,
		"history": turns,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("build extract request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := b.conn.Invoke(ctx, ExtractMethod, req, resp); err != nil {
		return Extraction{}, fmt.Errorf("extract rpc: %w", err)
	}

	out := resp.AsMap()
	label, _ := out["task_type"].(string)
	if label == "" {
		label, _ = out["intent"].(string)
	}
	if label == "" {
		return Extraction{}, fmt.Errorf("%w: sidecar returned no task_type", ErrUnparseable)
	}
	entities := make(map[string]any)
	if m, ok := out["entities"].(map[string]any); ok {
		flatten("", m, entities)
	}
	return Extraction{Intent: intent.Label(label), Entities: entities}, nil
}

// Close closes the gRPC connection.
func (b *GRPCBackend) Close() {
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			b.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}
