package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/authz"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/config"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/pipeline"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/session"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/transcript"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DBPath:     filepath.Join(dir, "app.db"),
		SessionTTL: time.Hour,
		Pipeline: config.PipelineConfig{
			MaxContinuationTurns: 3,
			DefaultOwnerID:       1,
			StructuredOutput:     "text",
		},
		ConversationLog: config.ConversationLogConfig{
			Enabled:    true,
			Dir:        filepath.Join(dir, "logs"),
			GlobalPath: filepath.Join(dir, "logs", "all.ndjson"),
			QueueSize:  16,
		},
	}
}

func TestNewOfflineRunsTurns(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	// Backends are configured but skipped offline.
	cfg.Extractor.GeminiAPIKey = "unused"
	cfg.Extractor.GRPCAddr = "127.0.0.1:1"

	a, err := New(context.Background(), cfg, Options{Offline: true}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(a.Backends) != 0 {
		t.Errorf("backends = %v, want none", a.Backends)
	}

	ctx := context.Background()
	owner, err := a.Store.Create(ctx, domain.EntityOwner, map[string]any{"company_name": "Acme Logistics"})
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if _, err := a.Store.Create(ctx, domain.EntityVehicle, map[string]any{
		"owner_id": owner.ID(), "plate": "MH01AB1234", "capacity_kg": 9000,
	}); err != nil {
		t.Fatalf("create vehicle: %v", err)
	}

	out, err := a.Sessions.Handle(ctx, session.Turn{
		Subject: "ops",
		Message: "vehicle MH01AB1234",
		Role:    authz.RoleOwner,
		Channel: pipeline.ChannelCLI,
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if out.Response.LastResult.Status != pipeline.StatusOK || !strings.Contains(out.Response.Reply, "plate: MH01AB1234") {
		t.Errorf("reply = %q", out.Response.Reply)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(filepath.Join(cfg.ConversationLog.Dir, "ops", "cli.ndjson"))
	if err != nil {
		t.Fatalf("transcript not written: %v", err)
	}
	defer f.Close()
	var events []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev map[string]any
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad transcript line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 || events[0]["direction"] != "inbound" || events[1]["direction"] != "outbound" {
		t.Errorf("events = %v", events)
	}
}

func TestNewSkipsUnreachableSidecar(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Extractor.GRPCAddr = "127.0.0.1:1"
	cfg.Extractor.Timeout = time.Second

	a, err := New(context.Background(), cfg, Options{NoTranscript: true}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if len(a.Backends) != 0 {
		t.Errorf("backends = %v, want none", a.Backends)
	}
	if _, ok := a.Transcript.(transcript.Noop); !ok {
		t.Errorf("transcript = %T, want transcript.Noop", a.Transcript)
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestWatchHealthMirrorsStore(t *testing.T) {
	t.Parallel()

	lis := bufconn.Listen(1 << 20)
	srv, hs := NewGRPCHealthServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	var down atomic.Bool
	db := pingFunc(func(context.Context) error {
		if down.Load() {
			return errors.New("database is closed")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchHealth(ctx, hs, db, 10*time.Millisecond, nil) }()

	waitStatus := func(want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for {
			resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
			if err == nil && resp.GetStatus() == want {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("status never became %s (last %v, err %v)", want, resp.GetStatus(), err)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	waitStatus(healthpb.HealthCheckResponse_SERVING)
	down.Store(true)
	waitStatus(healthpb.HealthCheckResponse_NOT_SERVING)

	cancel()
	if err := <-done; err != nil {
		t.Errorf("WatchHealth returned %v", err)
	}
}
