package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/store"
)

// numberChecks are the range rules for numeric fields. Values outside are treated as missing.
var numberChecks = map[string]func(float64) bool{
	"capacity_kg": func(v float64) bool { return v > 0 },
	"weight_kg":   func(v float64) bool { return v > 0 },
	"amount":      func(v float64) bool { return v > 0 },
	"latitude":    func(v float64) bool { return v >= -90 && v <= 90 },
	"longitude":   func(v float64) bool { return v >= -180 && v <= 180 },
	"speed_kmh":   func(v float64) bool { return v >= 0 },
}

var validRoles = map[string]bool{"driver": true, "customer": true, "owner": true}

// execMutation performs a validated write. The store is never called while a required
// field is missing or invalid.
func (e *Engine) execMutation(ctx context.Context, st *TurnState) {
	spec, ok := intent.Lookup(st.Intent)
	if !ok || spec.Kind != intent.KindMutation {
		st.LastResult = internalError(st)
		st.NextAction = ActionVerify
		return
	}

	fields, missing := project(spec, st.Entities)
	if len(missing) > 0 {
		st.LastResult = incompleteResult(st, spec, missing, nil)
		st.NextAction = ActionVerify
		return
	}

	var (
		rec    domain.Record
		entity = spec.Entity
		header string
		err    error
	)
	switch st.Intent {
	case intent.AssignLoadToTrip:
		loadID, _ := domain.AsInt64(fields["load_id"])
		tripID, _ := domain.AsInt64(fields["trip_id"])
		rec, err = e.store.Update(ctx, domain.EntityLoad, loadID,
			map[string]any{"trip_id": tripID, "status": "assigned"})
		header = fmt.Sprintf("Load %d assigned to trip %d.", loadID, tripID)

	case intent.UpdateRecord:
		var change updateTarget
		var perr error
		change, missing, perr = parseUpdateTarget(fields)
		if perr != nil {
			st.LastResult = e.storeFailure(st, spec, perr)
			st.NextAction = ActionVerify
			return
		}
		if len(missing) > 0 {
			st.LastResult = incompleteResult(st, spec, missing, nil)
			st.NextAction = ActionVerify
			return
		}
		entity = change.entity
		rec, err = e.store.Update(ctx, change.entity, change.id, map[string]any{change.column: change.value})
		header = fmt.Sprintf("%s %d updated.", entityLabel(change.entity), change.id)

	default:
		rec, err = e.store.Create(ctx, spec.Entity, fields)
		header = createdHeader(spec, fields)
	}
	if err != nil {
		st.LastResult = e.storeFailure(st, spec, err)
		st.NextAction = ActionVerify
		return
	}

	st.LastResult = &Result{
		Status:  StatusOK,
		Kind:    intent.KindMutation,
		Intent:  st.Intent,
		Entity:  entity,
		Data:    rec,
		Message: header,
	}
	st.NextAction = ActionVerify
}

// project keeps the fields the intent declares, applies defaults and validates scalars.
// It returns the field names that are absent or invalid.
func project(spec intent.Spec, entities map[string]any) (map[string]any, []string) {
	schema, _ := domain.SchemaFor(spec.Entity)
	out := make(map[string]any, len(spec.Required)+len(spec.Optional))
	var missing []string

	for _, name := range spec.Required {
		v, ok := validate(schema, name, entities[name])
		if !ok {
			missing = append(missing, name)
			continue
		}
		out[name] = v
	}
	for _, name := range spec.Optional {
		if v, ok := validate(schema, name, entities[name]); ok {
			out[name] = v
		} else if d, ok := spec.Defaults[name]; ok {
			out[name] = d
		}
	}
	return out, missing
}

func validate(schema domain.Schema, name string, v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	kind := domain.KindText
	if f, ok := schema.Field(name); ok {
		kind = f.Kind
	} else if intent.IsIDField(name) {
		kind = domain.KindID
	}

	switch kind {
	case domain.KindID:
		id, ok := domain.AsInt64(v)
		return id, ok
	case domain.KindNumber:
		n, ok := domain.AsFloat(v)
		if !ok {
			return nil, false
		}
		if check, has := numberChecks[name]; has && !check(n) {
			return nil, false
		}
		return n, true
	}

	s, ok := domain.AsText(v)
	if !ok {
		return nil, false
	}
	switch name {
	case "role":
		s = strings.ToLower(s)
		return s, validRoles[s]
	case "email", "contact_email":
		return s, strings.Contains(s, "@")
	case "plate":
		return domain.NormalizePlate(s), true
	}
	return s, true
}

type updateTarget struct {
	entity domain.EntityType
	id     int64
	column string
	value  any
}

// parseUpdateTarget maps a loose update_record request onto one column of one record.
// A known column that cannot change is an error, not a missing field.
func parseUpdateTarget(fields map[string]any) (updateTarget, []string, error) {
	var t updateTarget
	var missing []string

	typ, _ := domain.AsText(fields["target_type"])
	entity, ok := domain.ParseEntityType(typ)
	if !ok {
		return t, []string{"target_type"}, nil
	}
	t.entity = entity
	t.id, _ = domain.AsInt64(fields["target_id"])

	name, _ := domain.AsText(fields["field"])
	t.column = intent.CanonicalField(entity, name)
	schema, _ := domain.SchemaFor(entity)
	f, ok := schema.Field(t.column)
	if !ok {
		return t, []string{"field"}, nil
	}
	if !f.Updatable {
		return t, nil, fmt.Errorf("%w: %s.%s", store.ErrReadOnlyField, entity, t.column)
	}

	value, ok := validate(schema, t.column, fields["value"])
	if !ok {
		missing = append(missing, "value")
	}
	t.value = value
	return t, missing, nil
}

// query reads a record, resolving a missing identifier inline when a reference is
// present (the fast path for "vehicle MH01AB1234").
func (e *Engine) query(ctx context.Context, st *TurnState) {
	spec, ok := intent.Lookup(st.Intent)
	if !ok || spec.Kind != intent.KindQuery {
		st.LastResult = internalError(st)
		st.NextAction = ActionVerify
		return
	}

	if missing := spec.Missing(st.Entities); len(missing) > 0 {
		known, err := e.resolveReferences(ctx, st, spec)
		if err != nil {
			st.LastResult = e.storeFailure(st, spec, err)
			st.NextAction = ActionVerify
			return
		}
		if missing = spec.Missing(st.Entities); len(missing) > 0 {
			st.LastResult = incompleteResult(st, spec, missing, known)
			st.NextAction = ActionVerify
			return
		}
	}

	id, _ := domain.AsInt64(st.Entities[spec.Required[0]])
	var (
		rec   domain.Record
		title = fmt.Sprintf("%s %d", entityLabel(spec.Entity), id)
		err   error
	)
	switch st.Intent {
	case intent.TripDetails:
		rec, err = e.tripDetails(ctx, id)
		if err == nil {
			st.FocusTripID = id
		}
	case intent.TripExpenses:
		rec, err = e.expenseSummary(ctx, domain.EntityTrip, id, "trip_id")
		title += " expenses"
	case intent.DriverExpenses:
		rec, err = e.expenseSummary(ctx, domain.EntityDriver, id, "driver_id")
		title += " expenses"
	default:
		rec, err = e.store.Get(ctx, spec.Entity, id)
	}
	if err != nil {
		st.LastResult = e.storeFailure(st, spec, err)
		st.NextAction = ActionVerify
		return
	}

	st.LastResult = &Result{
		Status:  StatusOK,
		Kind:    intent.KindQuery,
		Intent:  st.Intent,
		Entity:  spec.Entity,
		Data:    rec,
		Message: title,
	}
	st.NextAction = ActionVerify
}

// tripDetails returns the trip with expense and load aggregates. The loads are attached
// as a nested list, which the reflector leaves out of channel replies.
func (e *Engine) tripDetails(ctx context.Context, id int64) (domain.Record, error) {
	trip, err := e.store.Get(ctx, domain.EntityTrip, id)
	if err != nil {
		return nil, err
	}
	expenses, err := e.store.List(ctx, domain.EntityExpense, "trip_id", id)
	if err != nil {
		return nil, err
	}
	loads, err := e.store.List(ctx, domain.EntityLoad, "trip_id", id)
	if err != nil {
		return nil, err
	}
	out := copyRecord(trip)
	out["expense_count"] = int64(len(expenses))
	out["expense_total"] = sumAmounts(expenses)
	out["load_count"] = int64(len(loads))
	out["loads"] = loads
	return out, nil
}

// expenseSummary totals the expenses recorded against one trip or driver.
func (e *Engine) expenseSummary(ctx context.Context, owner domain.EntityType, id int64, column string) (domain.Record, error) {
	parent, err := e.store.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	expenses, err := e.store.List(ctx, domain.EntityExpense, column, id)
	if err != nil {
		return nil, err
	}

	out := domain.Record{
		"id":            id,
		"expense_count": int64(len(expenses)),
		"expense_total": sumAmounts(expenses),
	}
	if name, ok := domain.AsText(parent["full_name"]); ok {
		out["full_name"] = name
	}
	byType := make(map[string]float64)
	for _, x := range expenses {
		amount, _ := domain.AsFloat(x["amount"])
		typ, ok := domain.AsText(x["expense_type"])
		if !ok {
			typ = "other"
		}
		byType[typ] += amount
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		out["total_"+t] = round2(byType[t])
	}
	out["expenses"] = expenses
	return out, nil
}

func sumAmounts(records []domain.Record) float64 {
	var total float64
	for _, r := range records {
		if v, ok := domain.AsFloat(r["amount"]); ok {
			total += v
		}
	}
	return round2(total)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func copyRecord(r domain.Record) domain.Record {
	out := make(domain.Record, len(r)+4)
	for k, v := range r {
		out[k] = v
	}
	return out
}

func entityLabel(t domain.EntityType) string {
	if s, ok := domain.SchemaFor(t); ok {
		return s.Label
	}
	return string(t)
}

func createdHeader(spec intent.Spec, fields map[string]any) string {
	if spec.Label == intent.RegisterUser {
		if role, ok := fields["role"].(string); ok && role != "" {
			return strings.ToUpper(role[:1]) + role[1:] + " registered."
		}
		return "User registered."
	}
	if spec.Label == intent.RegisterOwner {
		return "Owner registered."
	}
	return entityLabel(spec.Entity) + " created."
}

// storeFailure turns a gateway error into a sanitized error result.
func (e *Engine) storeFailure(st *TurnState, spec intent.Spec, err error) *Result {
	label := strings.ToLower(entityLabel(spec.Entity))
	msg := "The records service is unavailable right now. Please try again shortly."
	switch {
	case errors.Is(err, store.ErrNotFound):
		msg = notFoundMessage(st, spec)
	case errors.Is(err, store.ErrConstraint):
		msg = fmt.Sprintf("Could not save the %s: a referenced record does not exist or a unique value is already taken.", label)
	case errors.Is(err, store.ErrReadOnlyField), errors.Is(err, store.ErrUnknownField):
		msg = "That field cannot be changed."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		msg = "The request timed out. Please try again."
	}
	e.logger.Error("Failed to execute turn operation", "intent", st.Intent, "error", err)
	return &Result{
		Status:  StatusError,
		Kind:    spec.Kind,
		Intent:  st.Intent,
		Entity:  spec.Entity,
		Error:   ErrStoreFailure,
		Message: msg,
	}
}

func notFoundMessage(st *TurnState, spec intent.Spec) string {
	switch st.Intent {
	case intent.AssignLoadToTrip:
		id, _ := domain.AsInt64(st.Entities["load_id"])
		return fmt.Sprintf("Load %d was not found.", id)
	case intent.UpdateRecord:
		typ, _ := domain.AsText(st.Entities["target_type"])
		entity, _ := domain.ParseEntityType(typ)
		id, _ := domain.AsInt64(st.Entities["target_id"])
		return fmt.Sprintf("%s %d was not found.", entityLabel(entity), id)
	}
	if len(spec.Required) > 0 {
		if id, ok := domain.AsInt64(st.Entities[spec.Required[0]]); ok && spec.Kind == intent.KindQuery {
			return fmt.Sprintf("%s %d was not found.", entityLabel(spec.Entity), id)
		}
	}
	return "A referenced record was not found."
}
