package fixtures

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/store"
	"github.com/google/go-cmp/cmp"
)

const sample = `
records:
  - entity: owner
    ref: acme
    fields:
      company_name: Acme Logistics
      contact_email: ops@acme.in
  - entity: driver
    ref: john
    fields:
      owner_id: "@acme"
      full_name: John Doe
      phone_number: "+919800000001"
  - entity: vehicle
    ref: truck
    fields:
      owner_id: "@acme"
      plate: mh12 ab 1234
      capacity_kg: 9000
  - entity: trip
    fields:
      vehicle_id: "@truck"
      driver_id: "@john"
      origin: Pune
      destination: Mumbai
`

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSeed(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	f, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	res, err := Seed(context.Background(), s, f)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	wantCreated := map[domain.EntityType]int{
		domain.EntityOwner:   1,
		domain.EntityDriver:  1,
		domain.EntityVehicle: 1,
		domain.EntityTrip:    1,
	}
	if diff := cmp.Diff(wantCreated, res.Created); diff != "" {
		t.Errorf("created mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int64{"acme": 1, "john": 1, "truck": 1}, res.Refs); diff != "" {
		t.Errorf("refs mismatch (-want +got):\n%s", diff)
	}

	ids, err := s.Lookup(context.Background(), domain.EntityVehicle, "plate", "MH12AB1234")
	if err != nil || len(ids) != 1 {
		t.Fatalf("vehicle lookup = %v, %v", ids, err)
	}
	trip, err := s.Get(context.Background(), domain.EntityTrip, 1)
	if err != nil {
		t.Fatalf("Get trip: %v", err)
	}
	if id, _ := domain.AsInt64(trip["vehicle_id"]); id != ids[0] {
		t.Errorf("trip vehicle_id = %v, want %d", trip["vehicle_id"], ids[0])
	}
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown entity", yaml: "records:\n  - entity: spaceship\n    fields: {}\n", want: `unknown entity "spaceship"`},
		{
			name: "duplicate ref",
			yaml: "records:\n  - entity: owner\n    ref: a\n    fields: {}\n  - entity: owner\n    ref: a\n    fields: {}\n",
			want: `duplicate ref "a"`,
		},
		{name: "unknown key", yaml: "records:\n  - entity: owner\n    colour: red\n", want: "parse fixtures"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadEmpty(t *testing.T) {
	t.Parallel()

	f, err := Load(strings.NewReader(""))
	if err != nil || len(f.Records) != 0 {
		t.Errorf("Load(\"\") = %+v, %v", f, err)
	}
}

func TestSeedUnknownRefStops(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	f := &File{Records: []Record{
		{Entity: "owner", Ref: "acme", Fields: map[string]any{"company_name": "Acme"}},
		{Entity: "vehicle", Fields: map[string]any{"owner_id": "@nobody", "plate": "KA01AA0001"}},
	}}
	res, err := Seed(context.Background(), s, f)
	if err == nil || !strings.Contains(err.Error(), `unknown ref "@nobody"`) {
		t.Fatalf("Seed error = %v", err)
	}
	if res.Created[domain.EntityOwner] != 1 || res.Created[domain.EntityVehicle] != 0 {
		t.Errorf("created = %v", res.Created)
	}
}
