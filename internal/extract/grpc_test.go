package extract

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// startSidecar serves ExtractMethod from an in-memory listener.
func startSidecar(t *testing.T, reply map[string]any) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		if method != ExtractMethod {
			return status.Errorf(codes.Unimplemented, "unknown method %s", method)
		}
		req := &structpb.Struct{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		out := map[string]any{}
		for k, v := range reply {
			out[k] = v
		}
		out["echo"] = req.GetFields()["text"].GetStringValue()
		resp, err := structpb.NewStruct(out)
		if err != nil {
			return err
		}
		return stream.SendMsg(resp)
	}))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func dialSidecar(t *testing.T, lis *bufconn.Listener) *GRPCBackend {
	t.Helper()
	cfg := DefaultGRPCConfig("passthrough:///bufnet")
	cfg.ConnectTimeout = 2 * time.Second
	cfg.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}
	b, err := NewGRPCBackend(cfg, nil)
	if err != nil {
		t.Fatalf("NewGRPCBackend failed: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestGRPCBackendExtract(t *testing.T) {
	t.Parallel()
	lis := startSidecar(t, map[string]any{
		"task_type": "add_vehicle",
		"entities":  map[string]any{"license_plate": "KA03MN1234", "capacity": 9000},
	})
	b := dialSidecar(t, lis)

	history := []domain.Message{{Role: domain.RoleUser, Content: "hi"}}
	got, err := b.Extract(context.Background(), "add truck KA03MN1234", history)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.Intent != "add_vehicle" {
		t.Errorf("intent = %q", got.Intent)
	}
	if got.Entities["license_plate"] != "KA03MN1234" || got.Entities["capacity"] != float64(9000) {
		t.Errorf("entities = %v", got.Entities)
	}

	normalized := NewChain(nil, b).Extract(context.Background(), "add truck KA03MN1234", nil)
	if normalized.Intent != intent.AddVehicle || normalized.Entities["plate"] != "KA03MN1234" {
		t.Errorf("normalized = %+v", normalized)
	}
}

func TestGRPCBackendMissingLabel(t *testing.T) {
	t.Parallel()
	lis := startSidecar(t, map[string]any{"entities": map[string]any{}})
	b := dialSidecar(t, lis)

	if _, err := b.Extract(context.Background(), "anything", nil); err == nil {
		t.Fatal("expected an error for a reply without task_type")
	}
	// the chain still answers through the rules
	got := NewChain(nil, b).Extract(context.Background(), "start trip", nil)
	if got.Intent != intent.AddTrip || got.Source != "rules" {
		t.Errorf("fallback extraction = %+v", got)
	}
}
