// Package intent is the closed catalog of operations the assistant understands:
// labels, required and optional fields, synonyms and clarification questions.
package intent

import (
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
)

// Label is a normalized intent name.
type Label string

const (
	RegisterOwner     Label = "register_owner"
	RegisterUser      Label = "register_user"
	AddVehicle        Label = "add_vehicle"
	AddTrip           Label = "add_trip"
	AddExpense        Label = "add_expense"
	CreateLoad        Label = "create_load"
	AssignLoadToTrip  Label = "assign_load_to_trip"
	AddLocationUpdate Label = "add_location_update"
	UpdateRecord      Label = "update_record"

	TripDetails    Label = "trip_details"
	VehicleDetails Label = "vehicle_details"
	OwnerDetails   Label = "owner_details"
	LoadDetails    Label = "load_details"
	UserDetails    Label = "user_details"
	DriverDetails  Label = "driver_details"
	TripExpenses   Label = "trip_expenses"
	DriverExpenses Label = "driver_expenses"

	Greeting Label = "greeting"
	Cancel   Label = "cancel"
	Chat     Label = "chat"
	Unknown  Label = "unknown"
)

// Kind classifies what an intent does.
type Kind int

const (
	KindChat Kind = iota
	KindQuery
	KindMutation
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindMutation:
		return "mutation"
	default:
		return "chat"
	}
}

// Spec describes one intent.
type Spec struct {
	Label    Label
	Kind     Kind
	Entity   domain.EntityType
	Required []string
	Optional []string
	// Defaults are applied to optional fields the user did not give.
	Defaults map[string]any
	// DefaultOwner enables the default-owner rule for owner_id.
	DefaultOwner bool
}

var specs = map[Label]Spec{
	RegisterOwner: {Kind: KindMutation, Entity: domain.EntityOwner,
		Required: []string{"company_name", "business_address", "contact_email"},
		Optional: []string{"phone", "gst_number"}},
	RegisterUser: {Kind: KindMutation, Entity: domain.EntityUser,
		Required:     []string{"owner_id", "full_name", "email", "phone_number", "role"},
		Optional:     []string{"license_number"},
		DefaultOwner: true},
	AddVehicle: {Kind: KindMutation, Entity: domain.EntityVehicle,
		Required:     []string{"owner_id", "plate", "capacity_kg"},
		Optional:     []string{"vehicle_type", "status"},
		Defaults:     map[string]any{"status": "active"},
		DefaultOwner: true},
	AddTrip: {Kind: KindMutation, Entity: domain.EntityTrip,
		Required: []string{"driver_id", "vehicle_id"},
		Optional: []string{"origin", "destination", "start_time", "end_time", "status"},
		Defaults: map[string]any{"status": "scheduled"}},
	AddExpense: {Kind: KindMutation, Entity: domain.EntityExpense,
		Required: []string{"driver_id", "amount", "expense_type"},
		Optional: []string{"trip_id", "description", "receipt_url"}},
	CreateLoad: {Kind: KindMutation, Entity: domain.EntityLoad,
		Required: []string{"customer_id", "pickup_address", "destination_address"},
		Optional: []string{"weight_kg", "description", "trip_id"},
		Defaults: map[string]any{"status": "pending"}},
	AssignLoadToTrip: {Kind: KindMutation, Entity: domain.EntityLoad,
		Required: []string{"load_id", "trip_id"}},
	AddLocationUpdate: {Kind: KindMutation, Entity: domain.EntityLocationUpdate,
		Required: []string{"trip_id", "latitude", "longitude"},
		Optional: []string{"speed_kmh", "address"}},
	UpdateRecord: {Kind: KindMutation,
		Required: []string{"target_type", "target_id", "field", "value"}},

	TripDetails:    {Kind: KindQuery, Entity: domain.EntityTrip, Required: []string{"trip_id"}},
	VehicleDetails: {Kind: KindQuery, Entity: domain.EntityVehicle, Required: []string{"vehicle_id"}},
	OwnerDetails:   {Kind: KindQuery, Entity: domain.EntityOwner, Required: []string{"owner_id"}},
	LoadDetails:    {Kind: KindQuery, Entity: domain.EntityLoad, Required: []string{"load_id"}},
	UserDetails:    {Kind: KindQuery, Entity: domain.EntityUser, Required: []string{"user_id"}},
	DriverDetails:  {Kind: KindQuery, Entity: domain.EntityDriver, Required: []string{"driver_id"}},
	TripExpenses:   {Kind: KindQuery, Entity: domain.EntityTrip, Required: []string{"trip_id"}},
	DriverExpenses: {Kind: KindQuery, Entity: domain.EntityDriver, Required: []string{"driver_id"}},

	Greeting: {Kind: KindChat},
	Cancel:   {Kind: KindChat},
	Chat:     {Kind: KindChat},
	Unknown:  {Kind: KindChat},
}

func init() {
	for label, s := range specs {
		s.Label = label
		specs[label] = s
	}
}

// Lookup returns the spec for a label.
func Lookup(l Label) (Spec, bool) {
	s, ok := specs[l]
	return s, ok
}

// KindOf returns the kind of a label; unknown labels are chat.
func KindOf(l Label) Kind {
	return specs[l].Kind
}

// IsTask reports whether the label names a query or a mutation.
func IsTask(l Label) bool {
	k := KindOf(l)
	return k == KindQuery || k == KindMutation
}

// Labels returns every task label, for prompts and validation.
func Labels() []Label {
	out := make([]Label, 0, len(specs))
	for _, l := range order {
		if IsTask(l) {
			out = append(out, l)
		}
	}
	return out
}

var order = []Label{
	RegisterOwner, RegisterUser, AddVehicle, AddTrip, AddExpense, CreateLoad, AssignLoadToTrip,
	AddLocationUpdate, UpdateRecord, TripDetails, VehicleDetails, OwnerDetails, LoadDetails,
	UserDetails, DriverDetails, TripExpenses, DriverExpenses,
}

// synonyms maps labels an extractor may produce onto catalog labels, with the fields they imply.
var synonyms = map[string]struct {
	label   Label
	implies map[string]any
}{
	"add_customer":          {RegisterUser, map[string]any{"role": "customer"}},
	"register_customer":     {RegisterUser, map[string]any{"role": "customer"}},
	"create_customer":       {RegisterUser, map[string]any{"role": "customer"}},
	"add_driver":            {RegisterUser, map[string]any{"role": "driver"}},
	"register_driver":       {RegisterUser, map[string]any{"role": "driver"}},
	"create_driver":         {RegisterUser, map[string]any{"role": "driver"}},
	"add_user":              {RegisterUser, nil},
	"create_user":           {RegisterUser, nil},
	"add_owner":             {RegisterOwner, nil},
	"create_owner":          {RegisterOwner, nil},
	"register_company":      {RegisterOwner, nil},
	"register_vehicle":      {AddVehicle, nil},
	"create_vehicle":        {AddVehicle, nil},
	"add_truck":             {AddVehicle, nil},
	"start_trip":            {AddTrip, nil},
	"create_trip":           {AddTrip, nil},
	"new_trip":              {AddTrip, nil},
	"log_expense":           {AddExpense, nil},
	"record_expense":        {AddExpense, nil},
	"create_expense":        {AddExpense, nil},
	"add_load":              {CreateLoad, nil},
	"book_load":             {CreateLoad, nil},
	"create_shipment":       {CreateLoad, nil},
	"assign_load":           {AssignLoadToTrip, nil},
	"add_location":          {AddLocationUpdate, nil},
	"update_location":       {AddLocationUpdate, nil},
	"nl_update":             {UpdateRecord, nil},
	"update":                {UpdateRecord, nil},
	"query_trip":            {TripDetails, nil},
	"trip_summary":          {TripDetails, nil},
	"query_vehicle":         {VehicleDetails, nil},
	"vehicle_summary":       {VehicleDetails, nil},
	"query_owner":           {OwnerDetails, nil},
	"owner_summary":         {OwnerDetails, nil},
	"query_load":            {LoadDetails, nil},
	"query_user":            {UserDetails, nil},
	"query_driver":          {DriverDetails, nil},
	"query_trip_expenses":   {TripExpenses, nil},
	"query_user_expenses":   {DriverExpenses, nil},
	"user_expenses":         {DriverExpenses, nil},
	"query_driver_expenses": {DriverExpenses, nil},
	"hello":                 {Greeting, nil},
	"reset":                 {Cancel, nil},
	"general":               {Chat, nil},
	"smalltalk":             {Chat, nil},
}

// Normalize maps a raw label onto the catalog. It returns the label, any fields the
// synonym implies, and false when the raw label is not recognised (the label is then Unknown).
func Normalize(raw string) (Label, map[string]any, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if key == "" {
		return Unknown, nil, false
	}
	if _, ok := specs[Label(key)]; ok {
		return Label(key), nil, true
	}
	if syn, ok := synonyms[key]; ok {
		return syn.label, syn.implies, true
	}
	return Unknown, nil, false
}
