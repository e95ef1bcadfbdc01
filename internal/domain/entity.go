// Package domain contains the logistics records and session types shared across the service.
package domain

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// EntityType names a kind of logistics record.
type EntityType string

const (
	EntityOwner          EntityType = "owner"
	EntityUser           EntityType = "user"
	EntityDriver         EntityType = "driver"
	EntityCustomer       EntityType = "customer"
	EntityVehicle        EntityType = "vehicle"
	EntityTrip           EntityType = "trip"
	EntityLoad           EntityType = "load"
	EntityExpense        EntityType = "expense"
	EntityLocationUpdate EntityType = "location_update"
)

// FieldKind is the scalar type a record field holds.
type FieldKind int

const (
	KindText FieldKind = iota
	KindID
	KindNumber
)

// Field describes one column of a record.
type Field struct {
	Name      string
	Kind      FieldKind
	Updatable bool
}

// Schema describes the shape of one entity type.
type Schema struct {
	Type   EntityType
	Label  string
	Fields []Field
	// Role restricts user-backed entity types (driver, customer) to one role.
	Role string
}

var userFields = []Field{
	{Name: "owner_id", Kind: KindID},
	{Name: "full_name", Kind: KindText, Updatable: true},
	{Name: "email", Kind: KindText, Updatable: true},
	{Name: "phone_number", Kind: KindText, Updatable: true},
	{Name: "role", Kind: KindText},
	{Name: "license_number", Kind: KindText, Updatable: true},
}

var schemas = map[EntityType]Schema{
	EntityOwner: {Type: EntityOwner, Label: "Owner", Fields: []Field{
		{Name: "company_name", Kind: KindText, Updatable: true},
		{Name: "business_address", Kind: KindText, Updatable: true},
		{Name: "contact_email", Kind: KindText, Updatable: true},
		{Name: "phone", Kind: KindText, Updatable: true},
		{Name: "gst_number", Kind: KindText, Updatable: true},
	}},
	EntityUser:     {Type: EntityUser, Label: "User", Fields: userFields},
	EntityDriver:   {Type: EntityDriver, Label: "Driver", Fields: userFields, Role: "driver"},
	EntityCustomer: {Type: EntityCustomer, Label: "Customer", Fields: userFields, Role: "customer"},
	EntityVehicle: {Type: EntityVehicle, Label: "Vehicle", Fields: []Field{
		{Name: "owner_id", Kind: KindID},
		{Name: "plate", Kind: KindText},
		{Name: "capacity_kg", Kind: KindNumber, Updatable: true},
		{Name: "vehicle_type", Kind: KindText, Updatable: true},
		{Name: "status", Kind: KindText, Updatable: true},
	}},
	EntityTrip: {Type: EntityTrip, Label: "Trip", Fields: []Field{
		{Name: "driver_id", Kind: KindID, Updatable: true},
		{Name: "vehicle_id", Kind: KindID, Updatable: true},
		{Name: "status", Kind: KindText, Updatable: true},
		{Name: "origin", Kind: KindText, Updatable: true},
		{Name: "destination", Kind: KindText, Updatable: true},
		{Name: "start_time", Kind: KindText, Updatable: true},
		{Name: "end_time", Kind: KindText, Updatable: true},
	}},
	EntityLoad: {Type: EntityLoad, Label: "Load", Fields: []Field{
		{Name: "customer_id", Kind: KindID},
		{Name: "trip_id", Kind: KindID, Updatable: true},
		{Name: "pickup_address", Kind: KindText, Updatable: true},
		{Name: "destination_address", Kind: KindText, Updatable: true},
		{Name: "weight_kg", Kind: KindNumber, Updatable: true},
		{Name: "description", Kind: KindText, Updatable: true},
		{Name: "status", Kind: KindText, Updatable: true},
	}},
	EntityExpense: {Type: EntityExpense, Label: "Expense", Fields: []Field{
		{Name: "driver_id", Kind: KindID},
		{Name: "trip_id", Kind: KindID, Updatable: true},
		{Name: "amount", Kind: KindNumber, Updatable: true},
		{Name: "expense_type", Kind: KindText, Updatable: true},
		{Name: "description", Kind: KindText, Updatable: true},
		{Name: "receipt_url", Kind: KindText, Updatable: true},
	}},
	EntityLocationUpdate: {Type: EntityLocationUpdate, Label: "Location update", Fields: []Field{
		{Name: "trip_id", Kind: KindID},
		{Name: "latitude", Kind: KindNumber},
		{Name: "longitude", Kind: KindNumber},
		{Name: "speed_kmh", Kind: KindNumber},
		{Name: "address", Kind: KindText},
	}},
}

// SchemaFor returns the schema registered for an entity type.
func SchemaFor(t EntityType) (Schema, bool) {
	s, ok := schemas[t]
	return s, ok
}

// ParseEntityType maps a loose word ("truck", "Drivers") onto an entity type.
func ParseEntityType(s string) (EntityType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "s")
	switch s {
	case "truck", "vehicle":
		return EntityVehicle, true
	case "company", "owner":
		return EntityOwner, true
	case "shipment", "load":
		return EntityLoad, true
	case "location", "location_update":
		return EntityLocationUpdate, true
	}
	t := EntityType(s)
	if _, ok := schemas[t]; ok {
		return t, true
	}
	return "", false
}

// Field returns the named field of the schema.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Record is a flat row returned by the entity store. Values are int64, float64, string or nil,
// except for derived collections attached by queries.
type Record map[string]any

// ID returns the record identifier, or 0 when absent.
func (r Record) ID() int64 {
	id, _ := AsInt64(r["id"])
	return id
}

// Text returns a field as a string.
func (r Record) Text(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return FormatValue(v)
	}
}

// Keys returns the record keys in schema order, followed by any extra keys sorted by name.
func (r Record) Keys(t EntityType) []string {
	keys := make([]string, 0, len(r))
	seen := make(map[string]bool, len(r))
	add := func(k string) {
		if _, ok := r[k]; ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	add("id")
	if s, ok := schemas[t]; ok {
		for _, f := range s.Fields {
			add(f.Name)
		}
	}
	var rest []string
	for k := range r {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// AsInt64 converts loosely typed identifier values into a positive int64.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), n > 0
	case int32:
		return int64(n), n > 0
	case int64:
		return n, n > 0
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), n > 0
	case json.Number:
		i, err := n.Int64()
		return i, err == nil && i > 0
	case string:
		s := strings.TrimPrefix(strings.TrimSpace(n), "#")
		i, err := strconv.ParseInt(s, 10, 64)
		return i, err == nil && i > 0
	}
	return 0, false
}

// AsFloat converts loosely typed numeric values ("9,000", "9000kg", 9000) into a float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.ToLower(strings.TrimSpace(n))
		s = strings.ReplaceAll(s, ",", "")
		for _, suffix := range []string{"kgs", "kg", "km/h", "kmh", "rs", "inr"} {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
		}
		for _, prefix := range []string{"rs.", "rs", "inr", "₹"} {
			s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

// AsText converts a scalar into a trimmed string. Non-scalars yield false.
func AsText(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		s = strings.TrimSpace(s)
		return s, s != ""
	case int, int64, float64, json.Number:
		return FormatValue(s), true
	}
	return "", false
}

// FormatValue renders a scalar the way it is shown to users.
func FormatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return "(not set)"
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(n, 10)
	case int:
		return strconv.Itoa(n)
	case bool:
		return strconv.FormatBool(n)
	case json.Number:
		return n.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// IsScalar reports whether v is a plain value rather than a collection.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil, string, int, int32, int64, float32, float64, bool, json.Number:
		return true
	}
	return false
}

// NormalizePlate upper-cases a registration plate and strips separators.
func NormalizePlate(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if r == ' ' || r == '-' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
