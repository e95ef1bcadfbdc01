package app

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC service name reported next to the server-wide "" entry.
const HealthService = "logistics.v1.Assistant"

const defaultHealthInterval = 15 * time.Second

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewGRPCHealthServer returns a gRPC server exposing only the standard health service.
func NewGRPCHealthServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// WatchHealth pings the store every interval and mirrors the result into hs until ctx is done.
// It always returns nil so it can run in an errgroup next to the servers.
func WatchHealth(ctx context.Context, hs *health.Server, db Pinger, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	last := healthpb.HealthCheckResponse_UNKNOWN
	check := func() {
		status := healthpb.HealthCheckResponse_SERVING
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := db.Ping(pingCtx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			logger.Info("Health status changed", "status", status.String(), "error", err)
			last = status
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(HealthService, status)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return nil
		case <-ticker.C:
			check()
		}
	}
}
