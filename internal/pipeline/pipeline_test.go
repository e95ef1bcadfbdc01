package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/authz"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
	"github.com/google/go-cmp/cmp"
)

func TestVehicleByPlateEndToEnd(t *testing.T) {
	t.Parallel()
	s := newSQLiteStore(t)
	owner := mustCreate(t, s, domain.EntityOwner, map[string]any{"company_name": "Acme Logistics"})
	mustCreate(t, s, domain.EntityVehicle, map[string]any{"owner_id": owner, "plate": "KA01AA0001", "capacity_kg": 5000})
	mustCreate(t, s, domain.EntityVehicle, map[string]any{"owner_id": owner, "plate": "KA01AA0002", "capacity_kg": 5000})
	mustCreate(t, s, domain.EntityVehicle, map[string]any{"owner_id": owner, "plate": "MH01AB1234", "capacity_kg": 9000})

	ex := newCountingExtractor()
	resp := New(s, ex).Run(context.Background(), Request{UserInput: "vehicle MH01AB1234"})

	if resp.LastResult.Status != StatusOK {
		t.Fatalf("status = %s: %s", resp.LastResult.Status, resp.Reply)
	}
	if got := resp.LastResult.Data.ID(); got != 3 {
		t.Errorf("id = %d, want 3", got)
	}
	for _, want := range []string{"id: 3", "plate: MH01AB1234"} {
		if !strings.Contains(resp.Reply, want) {
			t.Errorf("reply %q is missing %q", resp.Reply, want)
		}
	}
	if ex.count() != 0 {
		t.Error("fast path must not call the extractor")
	}
	wantTrace := []Action{ActionStart, ActionQuery, ActionVerify, ActionReflect}
	if diff := cmp.Diff(wantTrace, resp.Trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestAddVehicleUsesDefaultOwner(t *testing.T) {
	t.Parallel()
	s := newSQLiteStore(t)
	owner := mustCreate(t, s, domain.EntityOwner, map[string]any{"company_name": "Acme Logistics"})

	resp := New(s, nil).Run(context.Background(), Request{UserInput: "add vehicle plate KA03MN1234 capacity 9000"})
	if resp.LastResult.Status != StatusOK {
		t.Fatalf("status = %s: %s", resp.LastResult.Status, resp.Reply)
	}
	if resp.Intent != intent.AddVehicle {
		t.Errorf("intent = %s", resp.Intent)
	}
	data := resp.LastResult.Data
	if got, _ := domain.AsInt64(data["owner_id"]); got != owner {
		t.Errorf("owner_id = %v, want %d", data["owner_id"], owner)
	}
	for _, want := range []string{"Vehicle created.", "id: 1", "plate: KA03MN1234"} {
		if !strings.Contains(resp.Reply, want) {
			t.Errorf("reply %q is missing %q", resp.Reply, want)
		}
	}
	if len(resp.Resolved) != 1 || resp.Resolved[0].Reference != "default_owner" {
		t.Errorf("resolved = %+v", resp.Resolved)
	}
}

func TestDefaultOwnerWithSeveralOwners(t *testing.T) {
	t.Parallel()
	s := newSQLiteStore(t)
	mustCreate(t, s, domain.EntityOwner, map[string]any{"company_name": "Acme"})
	second := mustCreate(t, s, domain.EntityOwner, map[string]any{"company_name": "Zenith"})

	configured := New(s, nil, WithConfig(Config{DefaultOwnerID: second}))
	resp := configured.Run(context.Background(), Request{UserInput: "add vehicle plate KA03MN1234 capacity 9000"})
	if got, _ := domain.AsInt64(resp.LastResult.Data["owner_id"]); got != second {
		t.Errorf("owner_id = %d, want configured default %d (%s)", got, second, resp.Reply)
	}

	missing := New(s, nil, WithConfig(Config{DefaultOwnerID: 99}))
	resp = missing.Run(context.Background(), Request{UserInput: "add vehicle plate KA04MN1234 capacity 9000"})
	if resp.LastResult.Status != StatusIncomplete {
		t.Fatalf("status = %s, want incomplete", resp.LastResult.Status)
	}
	if diff := cmp.Diff([]string{"owner_id"}, resp.Pending); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
}

func TestAmbiguousReferenceListsCandidates(t *testing.T) {
	t.Parallel()
	gw := newMemGateway()
	first := gw.seed(domain.EntityDriver, domain.Record{"full_name": "John Doe", "email": "john1@acme.in"})
	second := gw.seed(domain.EntityDriver, domain.Record{"full_name": "john doe", "email": "john2@acme.in"})
	owner := gw.seed(domain.EntityOwner, domain.Record{"company_name": "Acme"})
	gw.seed(domain.EntityVehicle, domain.Record{"owner_id": owner, "plate": "MH12AB1234", "capacity_kg": 9000.0})
	e := New(gw, nil)

	resp := e.Run(context.Background(), Request{UserInput: "start trip driver John Doe vehicle 4"})
	r := resp.LastResult
	if r.Status != StatusIncomplete || r.Error != ErrAmbiguous {
		t.Fatalf("result = %+v", r)
	}
	if gw.writes() != 0 {
		t.Fatalf("ambiguous reference must not write, got %d writes", gw.writes())
	}
	want := []Candidate{
		{ID: first, Label: "#1 John Doe (john1@acme.in)"},
		{ID: second, Label: "#2 john doe (john2@acme.in)"},
	}
	if diff := cmp.Diff(want, r.Missing[0].Candidates); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
	for _, c := range want {
		if !strings.Contains(resp.Reply, c.Label) {
			t.Errorf("reply %q does not list %q", resp.Reply, c.Label)
		}
	}

	// A bare id answers the clarification.
	done := e.Run(context.Background(), next(resp, "2"))
	if done.LastResult.Status != StatusOK {
		t.Fatalf("follow-up status = %s: %s", done.LastResult.Status, done.Reply)
	}
	if got, _ := domain.AsInt64(done.LastResult.Data["driver_id"]); got != second {
		t.Errorf("driver_id = %d, want %d", got, second)
	}
	if gw.count("create") != 1 {
		t.Errorf("creates = %d, want 1", gw.count("create"))
	}
}

func TestUnknownReferenceExplainsLookup(t *testing.T) {
	t.Parallel()
	gw := newMemGateway()
	resp := New(gw, nil).Run(context.Background(), Request{UserInput: "start trip driver Mohan vehicle 4"})
	if resp.LastResult.Status != StatusIncomplete {
		t.Fatalf("status = %s", resp.LastResult.Status)
	}
	if !strings.Contains(resp.Reply, "No driver found for 'Mohan'.") {
		t.Errorf("reply = %q", resp.Reply)
	}
	if !strings.HasPrefix(resp.Reply, "Missing information:\n- ") {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestContinuationConvergence(t *testing.T) {
	t.Parallel()
	s := newSQLiteStore(t)
	owner := mustCreate(t, s, domain.EntityOwner, map[string]any{"company_name": "Acme"})
	driver := mustCreate(t, s, domain.EntityUser, map[string]any{
		"owner_id": owner, "full_name": "Ravi Kumar", "phone_number": "9876543210", "role": "driver",
	})
	vehicle := mustCreate(t, s, domain.EntityVehicle, map[string]any{"owner_id": owner, "plate": "MH12AB1234", "capacity_kg": 9000})

	ex := newCountingExtractor()
	e := New(s, ex)
	first := e.Run(context.Background(), Request{
		UserInput: "start trip",
		Channel:   ChannelWhatsApp,
		Role:      authz.RoleWhatsApp,
		Ambient:   map[string]any{"sender_phone": "9876543210"},
	})
	if first.LastResult.Status != StatusIncomplete {
		t.Fatalf("first turn status = %s: %s", first.LastResult.Status, first.Reply)
	}
	if diff := cmp.Diff([]string{"vehicle_id"}, first.Pending); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
	if first.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", first.Iterations)
	}

	req := next(first, "vehicle MH12AB1234")
	req.Channel = ChannelWhatsApp
	req.Role = authz.RoleWhatsApp
	calls := ex.count()
	second := e.Run(context.Background(), req)
	if second.LastResult.Status != StatusOK {
		t.Fatalf("second turn status = %s: %s", second.LastResult.Status, second.Reply)
	}
	if ex.count() != calls {
		t.Error("slot fill must not call the extractor")
	}
	data := second.LastResult.Data
	if data.ID() <= 0 {
		t.Fatalf("no trip id in %v", data)
	}
	if got, _ := domain.AsInt64(data["driver_id"]); got != driver {
		t.Errorf("driver_id = %d, want %d", got, driver)
	}
	if got, _ := domain.AsInt64(data["vehicle_id"]); got != vehicle {
		t.Errorf("vehicle_id = %d, want %d", got, vehicle)
	}
	if second.Iterations != 0 || len(second.Pending) != 0 {
		t.Errorf("completed turn still pending: %v (%d)", second.Pending, second.Iterations)
	}
}

func TestIterationCap(t *testing.T) {
	t.Parallel()
	gw := newMemGateway()
	e := New(gw, nil, WithConfig(Config{MaxContinuationTurns: 3}))

	base := Request{
		UserInput: "not sure",
		Intent:    intent.AddTrip,
		Entities:  map[string]any{"driver_id": int64(1)},
		Pending:   []string{"vehicle_id"},
	}

	under := base
	under.Iteration = 2
	resp := e.Run(context.Background(), under)
	if resp.LastResult.Status != StatusIncomplete || resp.Iterations != 3 {
		t.Fatalf("status = %s iterations = %d", resp.LastResult.Status, resp.Iterations)
	}

	over := base
	over.Iteration = 3
	resp = e.Run(context.Background(), over)
	if resp.LastResult.Status != StatusError || resp.LastResult.Error != ErrIterationLimit {
		t.Fatalf("result = %+v", resp.LastResult)
	}
	if resp.Reply != iterationLimitMessage {
		t.Errorf("reply = %q", resp.Reply)
	}
	if len(resp.Pending) != 0 {
		t.Errorf("pending = %v, want none", resp.Pending)
	}
}

func TestRoleGuard(t *testing.T) {
	t.Parallel()
	gw := newMemGateway()
	gw.seed(domain.EntityOwner, domain.Record{"company_name": "Acme"})
	e := New(gw, nil)

	tests := []struct {
		role  authz.Role
		input string
		want  string
	}{
		{authz.RoleDriver, "add vehicle plate KA03MN1234 capacity 9000", "Access denied: 'add_vehicle' is not available in driver mode."},
		{authz.RoleDriver, "owner 1", "Access denied: 'owner_details' is not available in driver mode."},
		{authz.RoleCustomer, "start trip", "Access denied: 'add_trip' is not available in customer mode."},
	}
	for _, tt := range tests {
		before := gw.total()
		resp := e.Run(context.Background(), Request{UserInput: tt.input, Role: tt.role})
		if resp.LastResult.Error != ErrForbidden || resp.Reply != tt.want {
			t.Errorf("%s %q: reply = %q (%+v)", tt.role, tt.input, resp.Reply, resp.LastResult)
		}
		if gw.total() != before {
			t.Errorf("%s %q: denied turn touched the store", tt.role, tt.input)
		}
	}
}

func TestRoleGuardOnSlotFill(t *testing.T) {
	t.Parallel()
	gw := newMemGateway()
	owner := gw.seed(domain.EntityOwner, domain.Record{"company_name": "Acme"})
	gw.seed(domain.EntityVehicle, domain.Record{"owner_id": owner, "plate": "MH12AB1234", "capacity_kg": 9000.0})
	e := New(gw, nil)

	for _, input := range []string{"vehicle MH12AB1234", "plate MH12AB1234"} {
		pending := Response{
			Intent:     intent.AddTrip,
			Entities:   map[string]any{"driver_id": int64(1)},
			Pending:    []string{"vehicle_id"},
			Iterations: 1,
			LastResult: &Result{Status: StatusIncomplete, Error: ErrIncomplete},
		}
		req := next(pending, input)
		req.Role = authz.RoleCustomer
		before := gw.total()

		resp := e.Run(context.Background(), req)
		if resp.LastResult.Error != ErrForbidden {
			t.Errorf("%q: result = %+v, want forbidden", input, resp.LastResult)
		}
		if resp.Reply != "Access denied: 'add_trip' is not available in customer mode." {
			t.Errorf("%q: reply = %q", input, resp.Reply)
		}
		if gw.total() != before || gw.writes() != 0 {
			t.Errorf("%q: denied slot fill touched the store", input)
		}
	}
}

func TestEveryTurnReflectsExactlyOnce(t *testing.T) {
	t.Parallel()
	gw := newMemGateway()
	owner := gw.seed(domain.EntityOwner, domain.Record{"company_name": "Acme"})
	gw.seed(domain.EntityVehicle, domain.Record{"owner_id": owner, "plate": "MH01AB1234", "capacity_kg": 9000.0})
	e := New(gw, nil)

	history := []domain.Message{{Role: domain.RoleUser, Content: "hi"}, {Role: domain.RoleAssistant, Content: "Hello"}}
	inputs := []string{
		"hello", "cancel", "what a lovely day", "vehicle 2", "vehicle 99", "vehicle ZZ99ZZ9999",
		"start trip", "add vehicle plate KA03MN1234 capacity 9000", "set vehicle 2 colour red",
		"register owner", "", "   ", "🚚🚚🚚", "trip 5 json",
	}
	for _, input := range inputs {
		resp := e.Run(context.Background(), Request{UserInput: input, History: history})
		n := 0
		for _, a := range resp.Trace {
			if a == ActionReflect {
				n++
			}
		}
		if n != 1 {
			t.Errorf("%q: reflect ran %d times (trace %v)", input, n, resp.Trace)
		}
		if len(resp.Messages) != len(history)+2 {
			t.Errorf("%q: %d messages, want %d", input, len(resp.Messages), len(history)+2)
		}
		last := resp.Messages[len(resp.Messages)-1]
		if last.Role != domain.RoleAssistant || strings.TrimSpace(last.Content) == "" || last.Content != resp.Reply {
			t.Errorf("%q: bad final message %+v", input, last)
		}
	}
}

func TestStepWithoutNextActionEndsThroughReflector(t *testing.T) {
	t.Parallel()
	e := New(newMemGateway(), nil)
	e.steps[ActionQuery] = func(context.Context, *TurnState) {}

	resp := e.Run(context.Background(), Request{UserInput: "trip 5"})
	if resp.LastResult.Error != ErrInternal {
		t.Errorf("result = %+v", resp.LastResult)
	}
	want := []Action{ActionStart, ActionQuery, ActionReflect}
	if diff := cmp.Diff(want, resp.Trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestStepLoopIsBounded(t *testing.T) {
	t.Parallel()
	e := New(newMemGateway(), nil)
	e.steps[ActionQuery] = func(_ context.Context, st *TurnState) { st.NextAction = ActionQuery }

	resp := e.Run(context.Background(), Request{UserInput: "trip 5"})
	if resp.LastResult.Error != ErrInternal {
		t.Errorf("result = %+v", resp.LastResult)
	}
	if got := resp.Trace[len(resp.Trace)-1]; got != ActionReflect {
		t.Errorf("last step = %s, want reflect", got)
	}
}

func TestVerifyDowngradesMalformedResults(t *testing.T) {
	t.Parallel()
	e := New(newMemGateway(), nil)

	tests := []struct {
		name   string
		intent intent.Label
		result *Result
	}{
		{"nil result", intent.TripDetails, nil},
		{"query passed as mutation", intent.VehicleDetails, &Result{Status: StatusOK, Kind: intent.KindMutation, Data: domain.Record{"id": int64(3)}}},
		{"mutation without record", intent.AddTrip, &Result{Status: StatusOK, Kind: intent.KindMutation}},
		{"record without id", intent.TripDetails, &Result{Status: StatusOK, Kind: intent.KindQuery, Data: domain.Record{"status": "active"}}},
		{"incomplete without requirements", intent.AddTrip, &Result{Status: StatusIncomplete, Kind: intent.KindMutation}},
		{"unknown status", intent.AddTrip, &Result{Status: "maybe"}},
		{"empty chat", intent.Chat, &Result{Status: StatusOK, Kind: intent.KindChat}},
	}
	for _, tt := range tests {
		st := &TurnState{Intent: tt.intent, LastResult: tt.result}
		e.verify(context.Background(), st)
		if st.LastResult.Status != StatusError || st.LastResult.Error != ErrMalformed {
			t.Errorf("%s: result = %+v", tt.name, st.LastResult)
		}
		if st.NextAction != ActionReflect {
			t.Errorf("%s: next = %s", tt.name, st.NextAction)
		}
	}
}

func TestStructuredJSONReply(t *testing.T) {
	t.Parallel()
	gw := newMemGateway()
	owner := gw.seed(domain.EntityOwner, domain.Record{"company_name": "Acme"})
	gw.seed(domain.EntityVehicle, domain.Record{"owner_id": owner, "plate": "MH01AB1234", "capacity_kg": 9000.0})
	e := New(gw, nil, WithConfig(Config{StructuredJSON: true}))

	resp := e.Run(context.Background(), Request{UserInput: "vehicle 2"})
	var payload struct {
		Status string         `json:"status"`
		Intent string         `json:"intent"`
		Data   map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(resp.Reply), &payload); err != nil {
		t.Fatalf("reply is not JSON: %q (%v)", resp.Reply, err)
	}
	if payload.Status != "ok" || payload.Intent != "vehicle_details" || payload.Data["plate"] != "MH01AB1234" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestChatTurns(t *testing.T) {
	t.Parallel()
	gw := newMemGateway()
	chat := &scriptedChat{reply: "I can help with trips and loads."}
	ex := newCountingExtractor()
	e := New(gw, ex, WithChat(chat))

	greet := e.Run(context.Background(), Request{UserInput: "hello"})
	if greet.Reply != greetingReply || chat.calls != 0 || ex.count() != 0 {
		t.Errorf("greeting reply = %q, chat calls = %d, extractor calls = %d", greet.Reply, chat.calls, ex.count())
	}
	wantTrace := []Action{ActionStart, ActionPlanner, ActionChat, ActionReflect}
	if diff := cmp.Diff(wantTrace, greet.Trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}

	small := e.Run(context.Background(), Request{UserInput: "what a lovely day"})
	if small.Reply != "I can help with trips and loads." || small.Intent != intent.Chat {
		t.Errorf("chat reply = %q intent = %s", small.Reply, small.Intent)
	}

	chat.err = errors.New("model unavailable")
	chat.reply = ""
	down := e.Run(context.Background(), Request{UserInput: "what a lovely day"})
	if down.Reply != helpReply || down.LastResult.Status != StatusOK {
		t.Errorf("fallback reply = %q", down.Reply)
	}
	if gw.total() != 0 {
		t.Errorf("chat turns touched the store %d times", gw.total())
	}
}

func TestCancelDropsContinuation(t *testing.T) {
	t.Parallel()
	e := New(newMemGateway(), nil)
	resp := e.Run(context.Background(), Request{
		UserInput: "cancel",
		Intent:    intent.AddTrip,
		Entities:  map[string]any{"driver_id": int64(1)},
		Pending:   []string{"vehicle_id"},
	})
	if resp.Reply != cancelReply || len(resp.Entities) != 0 || resp.Incomplete() {
		t.Errorf("cancel response = %+v", resp)
	}
}

func TestGreetingKeepsContinuation(t *testing.T) {
	t.Parallel()
	gw := newMemGateway()
	ex := newCountingExtractor()
	e := New(gw, ex)

	resp := e.Run(context.Background(), Request{
		UserInput: "hello",
		Intent:    intent.AddTrip,
		Entities:  map[string]any{"driver_id": int64(1)},
		Pending:   []string{"vehicle_id"},
		Iteration: 1,
	})
	if !resp.Incomplete() || resp.Intent != intent.AddTrip {
		t.Fatalf("greeting ended the request: %+v", resp.LastResult)
	}
	if diff := cmp.Diff([]string{"vehicle_id"}, resp.Pending); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
	if resp.Entities["driver_id"] != int64(1) {
		t.Errorf("entities = %v", resp.Entities)
	}
	want := remindReply + "\nMissing information:\n- " + intent.Question("vehicle_id")
	if resp.Reply != want {
		t.Errorf("reply = %q, want %q", resp.Reply, want)
	}
	wantTrace := []Action{ActionStart, ActionPlanner, ActionReflect}
	if diff := cmp.Diff(wantTrace, resp.Trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if gw.total() != 0 || ex.count() != 0 {
		t.Errorf("store calls = %d, extractor calls = %d", gw.total(), ex.count())
	}

	filled := e.Run(context.Background(), next(resp, "vehicle MH12AB1234"))
	if filled.Intent != intent.AddTrip || filled.LastResult.Error == ErrIterationLimit || filled.Entities["driver_id"] != int64(1) {
		t.Errorf("follow-up lost the request: intent %s, result %+v, entities %v", filled.Intent, filled.LastResult, filled.Entities)
	}
}

func TestSMSRepliesAreTruncated(t *testing.T) {
	t.Parallel()
	chat := &scriptedChat{reply: strings.Repeat("é", 1000)}
	e := New(newMemGateway(), nil, WithChat(chat))

	resp := e.Run(context.Background(), Request{UserInput: "tell me a story", Channel: ChannelSMS})
	if len(resp.Reply) > MaxSMSReply {
		t.Errorf("reply is %d bytes, want at most %d", len(resp.Reply), MaxSMSReply)
	}
	if !strings.HasSuffix(resp.Reply, "...") {
		t.Errorf("truncated reply should end with an ellipsis")
	}

	web := e.Run(context.Background(), Request{UserInput: "tell me a story", Channel: ChannelWeb})
	if len(web.Reply) != 2000 {
		t.Errorf("web reply is %d bytes, want 2000", len(web.Reply))
	}
}
