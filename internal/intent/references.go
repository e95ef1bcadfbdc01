package intent

import "github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"

// Hint is an entity key that can stand in for an identifier, and the store column it matches.
type Hint struct {
	Key    string
	Column string
}

// Reference describes how an identifier field is resolved from human references.
type Reference struct {
	Field  string
	Entity domain.EntityType
	Hints  []Hint
}

var (
	ownerRef = Reference{Field: "owner_id", Entity: domain.EntityOwner, Hints: []Hint{
		{Key: "owner_name", Column: "company_name"},
		{Key: "company_name", Column: "company_name"},
		{Key: "owner_email", Column: "contact_email"},
		{Key: "owner_phone", Column: "phone"},
	}}
	driverRef = Reference{Field: "driver_id", Entity: domain.EntityDriver, Hints: []Hint{
		{Key: "driver_email", Column: "email"},
		{Key: "driver_phone", Column: "phone_number"},
		{Key: "driver_name", Column: "full_name"},
		{Key: "email", Column: "email"},
		{Key: "phone_number", Column: "phone_number"},
		{Key: "full_name", Column: "full_name"},
		{Key: "sender_phone", Column: "phone_number"},
	}}
	customerRef = Reference{Field: "customer_id", Entity: domain.EntityCustomer, Hints: []Hint{
		{Key: "customer_email", Column: "email"},
		{Key: "customer_phone", Column: "phone_number"},
		{Key: "customer_name", Column: "full_name"},
		{Key: "email", Column: "email"},
		{Key: "phone_number", Column: "phone_number"},
		{Key: "full_name", Column: "full_name"},
		{Key: "sender_phone", Column: "phone_number"},
	}}
	vehicleRef = Reference{Field: "vehicle_id", Entity: domain.EntityVehicle, Hints: []Hint{
		{Key: "plate", Column: "plate"},
	}}
	userRef = Reference{Field: "user_id", Entity: domain.EntityUser, Hints: []Hint{
		{Key: "user_email", Column: "email"},
		{Key: "email", Column: "email"},
		{Key: "phone_number", Column: "phone_number"},
		{Key: "user_name", Column: "full_name"},
		{Key: "full_name", Column: "full_name"},
	}}
)

// references lists, per intent, the identifier fields that may be resolved from hints.
// Fields not listed here must be given as bare ids.
var references = map[Label][]Reference{
	RegisterUser:   {ownerRef},
	AddVehicle:     {ownerRef},
	AddTrip:        {driverRef, vehicleRef},
	AddExpense:     {driverRef},
	CreateLoad:     {customerRef},
	OwnerDetails:   {ownerRef},
	VehicleDetails: {vehicleRef},
	DriverDetails:  {driverRef},
	DriverExpenses: {driverRef},
	UserDetails:    {userRef},
}

// References returns the resolvable identifier fields of an intent.
func References(l Label) []Reference {
	return references[l]
}

// ReferenceFor returns how field is resolved for intent l.
func ReferenceFor(l Label, field string) (Reference, bool) {
	for _, r := range references[l] {
		if r.Field == field {
			return r, true
		}
	}
	return Reference{}, false
}

// PresentHints returns the hints of r that carry a value in entities, in priority order.
func (r Reference) PresentHints(entities map[string]any) []Hint {
	var out []Hint
	for _, h := range r.Hints {
		if _, ok := domain.AsText(entities[h.Key]); ok {
			out = append(out, h)
		}
	}
	return out
}
