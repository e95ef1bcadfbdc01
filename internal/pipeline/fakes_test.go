package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/extract"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/store"
)

// memGateway is an in-memory store.Gateway that counts calls per operation.
type memGateway struct {
	mu      sync.Mutex
	tables  map[string][]domain.Record
	nextID  int64
	calls   map[string]int
	failErr error
}

func newMemGateway() *memGateway {
	return &memGateway{tables: make(map[string][]domain.Record), calls: make(map[string]int)}
}

func tableOf(e domain.EntityType) (string, string) {
	switch e {
	case domain.EntityDriver:
		return "user", "driver"
	case domain.EntityCustomer:
		return "user", "customer"
	}
	return string(e), ""
}

// seed inserts a record without counting it as a call.
func (g *memGateway) seed(e domain.EntityType, fields domain.Record) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.insert(e, fields)
}

func (g *memGateway) insert(e domain.EntityType, fields map[string]any) int64 {
	table, role := tableOf(e)
	g.nextID++
	rec := make(domain.Record, len(fields)+2)
	for k, v := range fields {
		rec[k] = v
	}
	rec["id"] = g.nextID
	if role != "" {
		rec["role"] = role
	}
	g.tables[table] = append(g.tables[table], rec)
	return g.nextID
}

func (g *memGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *memGateway) writes() int { return g.count("create") + g.count("update") }

func (g *memGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *memGateway) rows(e domain.EntityType) []domain.Record {
	table, role := tableOf(e)
	var out []domain.Record
	for _, r := range g.tables[table] {
		if role != "" && r["role"] != role {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (g *memGateway) Lookup(_ context.Context, e domain.EntityType, field, value string) ([]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["lookup"]++
	if g.failErr != nil {
		return nil, g.failErr
	}
	var ids []int64
	for _, r := range g.rows(e) {
		if strings.EqualFold(domain.FormatValue(r[field]), strings.TrimSpace(value)) {
			ids = append(ids, r.ID())
		}
	}
	return ids, nil
}

func (g *memGateway) Create(_ context.Context, e domain.EntityType, fields map[string]any) (domain.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["create"]++
	if g.failErr != nil {
		return nil, g.failErr
	}
	id := g.insert(e, fields)
	return g.find(e, id)
}

func (g *memGateway) find(e domain.EntityType, id int64) (domain.Record, error) {
	for _, r := range g.rows(e) {
		if r.ID() == id {
			return copyRecord(r), nil
		}
	}
	return nil, fmt.Errorf("%w: %s %d", store.ErrNotFound, e, id)
}

func (g *memGateway) Get(_ context.Context, e domain.EntityType, id int64) (domain.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["get"]++
	if g.failErr != nil {
		return nil, g.failErr
	}
	return g.find(e, id)
}

func (g *memGateway) Update(_ context.Context, e domain.EntityType, id int64, fields map[string]any) (domain.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["update"]++
	if g.failErr != nil {
		return nil, g.failErr
	}
	for _, r := range g.rows(e) {
		if r.ID() == id {
			for k, v := range fields {
				r[k] = v
			}
			return copyRecord(r), nil
		}
	}
	return nil, fmt.Errorf("%w: %s %d", store.ErrNotFound, e, id)
}

func (g *memGateway) List(_ context.Context, e domain.EntityType, field string, value any) ([]domain.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["list"]++
	if g.failErr != nil {
		return nil, g.failErr
	}
	var out []domain.Record
	for _, r := range g.rows(e) {
		if field == "" || domain.FormatValue(r[field]) == domain.FormatValue(value) {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

// countingExtractor wraps the rule chain and counts calls.
type countingExtractor struct {
	mu    sync.Mutex
	inner *extract.Chain
	calls int
}

func newCountingExtractor() *countingExtractor {
	return &countingExtractor{inner: extract.NewChain(nil)}
}

func (c *countingExtractor) Extract(ctx context.Context, text string, history []domain.Message) extract.Extraction {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Extract(ctx, text, history)
}

func (c *countingExtractor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type scriptedChat struct {
	reply string
	err   error
	calls int
}

func (s *scriptedChat) Reply(context.Context, string, []domain.Message) (string, error) {
	s.calls++
	return s.reply, s.err
}

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "logistics.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreate(t *testing.T, s store.Gateway, e domain.EntityType, fields map[string]any) int64 {
	t.Helper()
	rec, err := s.Create(context.Background(), e, fields)
	if err != nil {
		t.Fatalf("Create %s failed: %v", e, err)
	}
	return rec.ID()
}

// next builds the follow-up request the session layer would send after resp.
func next(resp Response, input string) Request {
	return Request{
		UserInput:   input,
		Intent:      resp.Intent,
		Entities:    resp.Entities,
		Pending:     resp.Pending,
		Iteration:   resp.Iterations,
		History:     resp.Messages,
		FocusTripID: resp.FocusTripID,
	}
}
