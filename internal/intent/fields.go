package intent

import (
	"sort"
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
)

// commonAliases apply to every intent.
var commonAliases = map[string]string{
	"license_plate":  "plate",
	"licence_plate":  "plate",
	"registration":   "plate",
	"reg_no":         "plate",
	"vehicle_number": "plate",
	"number_plate":   "plate",
	"capacity":       "capacity_kg",
	"capacity_kgs":   "capacity_kg",
	"category":       "expense_type",
	"type":           "expense_type",
	"cost":           "amount",
	"origin":         "pickup_address",
	"from":           "pickup_address",
	"pickup":         "pickup_address",
	"destination":    "destination_address",
	"to":             "destination_address",
	"drop":           "destination_address",
	"weight":         "weight_kg",
	"lat":            "latitude",
	"lng":            "longitude",
	"lon":            "longitude",
	"long":           "longitude",
	"speed":          "speed_kmh",
	"phone":          "phone_number",
	"mobile":         "phone_number",
	"trip":           "trip_id",
	"load":           "load_id",
	"vehicle":        "vehicle_id",
	"driver":         "driver_id",
	"owner":          "owner_id",
	"customer":       "customer_id",
	"id":             "target_id",
}

// perIntentAliases override commonAliases for one intent.
var perIntentAliases = map[Label]map[string]string{
	RegisterOwner: {
		"name":         "company_name",
		"owner_name":   "company_name",
		"company":      "company_name",
		"address":      "business_address",
		"email":        "contact_email",
		"phone_number": "phone",
		"mobile":       "phone",
		"phone":        "phone",
	},
	RegisterUser: {
		"name":          "full_name",
		"driver_name":   "full_name",
		"customer_name": "full_name",
		"user_type":     "role",
		"type":          "role",
		"company_name":  "owner_name",
	},
	AddVehicle: {
		"type":         "vehicle_type",
		"company_name": "owner_name",
	},
	AddTrip: {
		"name":        "driver_name",
		"origin":      "origin",
		"from":        "origin",
		"destination": "destination",
		"to":          "destination",
		"pickup":      "origin",
		"drop":        "destination",
	},
	AddExpense: {
		"name": "driver_name",
		"note": "description",
	},
	CreateLoad: {
		"name": "customer_name",
		"note": "description",
	},
	UpdateRecord: {
		"entity":      "target_type",
		"entity_type": "target_type",
		"record_type": "target_type",
		"record_id":   "target_id",
		"column":      "field",
		"new_value":   "value",
	},
	TripDetails:    {"id": "trip_id"},
	VehicleDetails: {"id": "vehicle_id", "vehicle": "vehicle_id"},
	OwnerDetails:   {"id": "owner_id", "name": "owner_name"},
	LoadDetails:    {"id": "load_id"},
	UserDetails:    {"id": "user_id", "name": "user_name", "user": "user_id"},
	DriverDetails:  {"id": "driver_id", "name": "driver_name"},
	TripExpenses:   {"id": "trip_id"},
	DriverExpenses: {"id": "driver_id", "name": "driver_name", "user_id": "driver_id"},
}

// nameFallback redirects a non-numeric value given for an id field to the matching reference hint,
// so "driver John" keeps John as a name instead of a broken id.
var nameFallback = map[string]string{
	"driver_id":   "driver_name",
	"customer_id": "customer_name",
	"owner_id":    "owner_name",
	"vehicle_id":  "plate",
	"user_id":     "user_name",
}

// NormalizeEntities returns a copy of entities with keys lower-cased, synonyms mapped onto
// canonical field names and empty values dropped. Canonical keys win over aliases.
func NormalizeEntities(l Label, entities map[string]any) map[string]any {
	out := make(map[string]any, len(entities))
	specific := perIntentAliases[l]

	keys := make([]string, 0, len(entities))
	for k := range entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	aliased := make(map[string]any)
	for _, k := range keys {
		v := entities[k]
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
			if v == "" {
				continue
			}
		}
		if v == nil {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(k))
		key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
		canonical := key
		if a, ok := specific[key]; ok {
			canonical = a
		} else if a, ok := commonAliases[key]; ok {
			canonical = a
		}
		if IsIDField(canonical) {
			if _, isID := domain.AsInt64(v); !isID {
				if name, ok := nameFallback[canonical]; ok {
					canonical = name
				}
			}
		}
		if canonical == key {
			out[key] = v
		} else if _, ok := aliased[canonical]; !ok {
			aliased[canonical] = v
		}
	}
	for k, v := range aliased {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}

	if p, ok := out["plate"].(string); ok {
		out["plate"] = domain.NormalizePlate(p)
	}
	if r, ok := out["role"].(string); ok {
		out["role"] = strings.ToLower(r)
	}
	if t, ok := out["expense_type"].(string); ok {
		out["expense_type"] = strings.ToLower(t)
	}
	return out
}

// Missing returns the required fields of s that have no usable value in entities.
func (s Spec) Missing(entities map[string]any) []string {
	var missing []string
	for _, f := range s.Required {
		if !HasValue(entities, f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// HasValue reports whether the field is present and non-empty.
func HasValue(entities map[string]any, field string) bool {
	v, ok := entities[field]
	if !ok || v == nil {
		return false
	}
	if IsIDField(field) {
		_, ok := domain.AsInt64(v)
		return ok
	}
	_, ok = domain.AsText(v)
	return ok
}

// IsIDField reports whether field holds a record identifier.
func IsIDField(field string) bool {
	return strings.HasSuffix(field, "_id")
}

var questions = map[string]string{
	"company_name":        "Company name?",
	"business_address":    "Business address?",
	"contact_email":       "Contact email?",
	"owner_id":            "Owner ID? (or company name)",
	"full_name":           "Full name?",
	"email":               "Email address?",
	"phone_number":        "Phone number?",
	"role":                "Role? (driver / customer)",
	"plate":               "Vehicle registration plate?",
	"capacity_kg":         "Cargo capacity (kg)?",
	"driver_id":           "Driver ID? (or name/email/phone)",
	"vehicle_id":          "Vehicle ID? (or license plate)",
	"customer_id":         "Customer ID? (or name/email/phone)",
	"trip_id":             "Trip ID?",
	"load_id":             "Load ID?",
	"user_id":             "User ID? (or name/email/phone)",
	"amount":              "Expense amount?",
	"expense_type":        "Expense type? (fuel / maintenance / toll / food / accommodation / other)",
	"pickup_address":      "Pickup address?",
	"destination_address": "Destination address?",
	"latitude":            "Latitude?",
	"longitude":           "Longitude?",
	"target_type":         "Which kind of record? (vehicle / trip / load / driver / owner / expense)",
	"target_id":           "Which record ID?",
	"field":               "Which field should change?",
	"value":               "What is the new value?",
}

// Question returns the clarification question for a missing field.
func Question(field string) string {
	if q, ok := questions[field]; ok {
		return q
	}
	return strings.ReplaceAll(field, "_", " ") + "?"
}

// columnAliases map loose field names onto the columns of one entity type, for update_record.
var columnAliases = map[domain.EntityType]map[string]string{
	domain.EntityOwner: {
		"name": "company_name", "company": "company_name", "address": "business_address",
		"email": "contact_email", "phone_number": "phone", "mobile": "phone", "gst": "gst_number",
	},
	domain.EntityVehicle: {"type": "vehicle_type", "capacity": "capacity_kg", "state": "status"},
	domain.EntityTrip: {
		"from": "origin", "to": "destination", "driver": "driver_id", "vehicle": "vehicle_id",
		"start": "start_time", "end": "end_time", "state": "status",
	},
	domain.EntityLoad: {
		"trip": "trip_id", "weight": "weight_kg", "from": "pickup_address", "pickup": "pickup_address",
		"to": "destination_address", "destination": "destination_address", "state": "status",
	},
	domain.EntityExpense: {"type": "expense_type", "category": "expense_type", "note": "description", "receipt": "receipt_url"},
}

var userColumnAliases = map[string]string{
	"name": "full_name", "phone": "phone_number", "mobile": "phone_number",
	"license": "license_number", "licence": "license_number",
}

// CanonicalField maps a user-supplied field name onto a column of entity. It returns "" when
// the entity has no such column.
func CanonicalField(entity domain.EntityType, name string) string {
	schema, ok := domain.SchemaFor(entity)
	if !ok {
		return ""
	}
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)

	specific := columnAliases[entity]
	switch entity {
	case domain.EntityUser, domain.EntityDriver, domain.EntityCustomer:
		specific = userColumnAliases
	}

	candidates := []string{specific[key], key, commonAliases[key]}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := schema.Field(c); ok {
			return c
		}
	}
	return ""
}
