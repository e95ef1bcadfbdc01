package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
)

type classifyRule struct {
	label   intent.Label
	pattern *regexp.Regexp
	implies map[string]any
}

// classifyRules are evaluated in order; the first match wins.
var classifyRules = []classifyRule{
	{label: intent.Greeting, pattern: regexp.MustCompile(`(?i)^\s*(hi|hello|hey|hii+|namaste|good (morning|afternoon|evening))\b[\s!.,]*$`)},
	{label: intent.Cancel, pattern: regexp.MustCompile(`(?i)^\s*(cancel|reset|start over|never ?mind|forget it|stop)(\s+(it|that|this))?\s*[.!]?\s*$`)},
	{label: intent.UpdateRecord, pattern: regexp.MustCompile(`(?i)^\s*(update|set|change|mark|modify)\s+(vehicle|truck|trip|load|driver|customer|user|owner|expense)s?\s+#?\d+`)},
	{label: intent.AssignLoadToTrip, pattern: regexp.MustCompile(`(?i)\bassign\b.*\bload\b|\bload\s+#?\d+\s+(to|onto|on)\s+trip\b`)},
	{label: intent.AddLocationUpdate, pattern: regexp.MustCompile(`(?i)\b(location|position|gps|coordinates?)\b.*\b(lat|latitude)\b|\b(add|log|update|record|share|send)\s+(my\s+)?(location|position)\b`)},
	{label: intent.TripExpenses, pattern: regexp.MustCompile(`(?i)\bexpenses?\b.*\b(for|of|on)\s+trip\b|\btrip\s+#?\d+\s+expenses?\b`)},
	{label: intent.DriverExpenses, pattern: regexp.MustCompile(`(?i)\bexpenses?\b.*\b(for|of|by)\s+(driver|user)\b|\b(driver|user)\s+#?\d+\s+expenses?\b|\bmy\s+expenses\b`)},
	{label: intent.AddExpense, pattern: regexp.MustCompile(`(?i)\b(add|log|record|spent|paid|enter|claim)\b.*\b(expenses?|fuel|diesel|petrol|toll|food|meals?|maintenance|repair|parking|accommodation|hotel)\b|\bexpense\b.*\d`)},
	{label: intent.RegisterOwner, pattern: regexp.MustCompile(`(?i)\b(register|add|create|new|onboard)\s+(an?\s+|new\s+)?(owner|company|business|transporter)\b`)},
	{label: intent.RegisterUser, pattern: regexp.MustCompile(`(?i)\b(register|add|create|new|onboard)\s+(an?\s+|new\s+)?customer\b`), implies: map[string]any{"role": "customer"}},
	{label: intent.RegisterUser, pattern: regexp.MustCompile(`(?i)\b(register|add|create|new|onboard|hire)\s+(an?\s+|new\s+)?driver\b`), implies: map[string]any{"role": "driver"}},
	{label: intent.RegisterUser, pattern: regexp.MustCompile(`(?i)\b(register|add|create|new)\s+(an?\s+|new\s+)?user\b`)},
	{label: intent.AddVehicle, pattern: regexp.MustCompile(`(?i)\b(register|add|create|new)\s+(an?\s+|new\s+)?(vehicle|truck|lorry|tempo|trailer)\b`)},
	{label: intent.AddTrip, pattern: regexp.MustCompile(`(?i)\b(start|add|create|new|begin|schedule|book)\s+(an?\s+|the\s+|new\s+)?trip\b`)},
	{label: intent.CreateLoad, pattern: regexp.MustCompile(`(?i)\b(create|add|new|book|post)\s+(an?\s+|new\s+)?(load|shipment|consignment)\b`)},
	{label: intent.TripDetails, pattern: regexp.MustCompile(`(?i)\b(show|get|find|details?|status|where|track)\b.*\btrip\s+#?\d+`)},
	{label: intent.LoadDetails, pattern: regexp.MustCompile(`(?i)\b(show|get|find|details?|status|track)\b.*\b(load|shipment)\s+#?\d+`)},
	{label: intent.VehicleDetails, pattern: regexp.MustCompile(`(?i)\b(show|get|find|details?|status)\b.*\b(vehicle|truck)\b`)},
	{label: intent.DriverDetails, pattern: regexp.MustCompile(`(?i)\b(show|get|find|details?|who is)\b.*\bdriver\b`)},
	{label: intent.OwnerDetails, pattern: regexp.MustCompile(`(?i)\b(show|get|find|details?)\b.*\b(owner|company)\b`)},
	{label: intent.UserDetails, pattern: regexp.MustCompile(`(?i)\b(show|get|find|details?)\b.*\b(user|customer)\b`)},
}

var (
	reKeyValue   = regexp.MustCompile(`(?i)\b([a-z][a-z_]*)\s*[=:]\s*("([^"]*)"|'([^']*)'|([^\s,;]+))`)
	reEmail      = regexp.MustCompile(`(?i)[\w.+-]+@[\w-]+(\.[\w-]+)+`)
	rePhone      = regexp.MustCompile(`\+?\d[\d\s-]{8,15}\d`)
	rePlate      = regexp.MustCompile(`(?i)\b([a-z]{2}[\s-]?\d{1,2}[\s-]?[a-z]{1,3}[\s-]?\d{4})\b`)
	reIDRef      = regexp.MustCompile(`(?i)\b(trip|load|vehicle|truck|driver|owner|customer|user)\s*(?:id\s*)?(?:no\.?\s*|number\s*)?[#:]?\s*(\d+)\b`)
	reCapacity   = regexp.MustCompile(`(?i)\bcapacity\s*(?:of|is)?\s*(\d[\d,]*(?:\.\d+)?)\s*(kgs?|tons?|tonnes?|t)?\b`)
	reWeight     = regexp.MustCompile(`(?i)\bweigh(?:t|ing|s)?\s*(?:of|is)?\s*(\d[\d,]*(?:\.\d+)?)\s*(kgs?|tons?|tonnes?|t)?\b`)
	reAmount     = regexp.MustCompile(`(?i)(?:\bamount|\brs\.?|\binr|₹|\bspent|\bpaid|\bcost)\s*(?:of|is)?\s*(\d[\d,]*(?:\.\d+)?)`)
	reTypeAmount = regexp.MustCompile(`(?i)\b(fuel|diesel|petrol|toll|food|meals?|maintenance|repair|parking|accommodation|hotel|other)\s+(?:of\s+|for\s+|rs\.?\s*)?(\d[\d,]*(?:\.\d+)?)\b`)
	reAmountRs   = regexp.MustCompile(`(?i)\b(\d[\d,]*(?:\.\d+)?)\s*(?:rs|rupees|inr)\b`)
	reExpense    = regexp.MustCompile(`(?i)\b(fuel|diesel|petrol|toll|food|meals?|maintenance|repair|parking|accommodation|hotel)\b`)
	reLatitude   = regexp.MustCompile(`(?i)\b(?:lat|latitude)\s*[=:]?\s*(-?\d+(?:\.\d+)?)`)
	reLongitude  = regexp.MustCompile(`(?i)\b(?:lon|lng|long|longitude)\s*[=:]?\s*(-?\d+(?:\.\d+)?)`)
	reSpeed      = regexp.MustCompile(`(?i)\bspeed\s*[=:]?\s*(\d+(?:\.\d+)?)`)
	reFromTo     = regexp.MustCompile(`(?i)\bfrom\s+(.+?)\s+to\s+(.+?)(?:\s+(?:weight|weighing|for|with|by|on|capacity|customer|driver|vehicle|note)\b|[,;]|$)`)
	reAddress    = regexp.MustCompile(`(?i)\baddress\s*(?:is)?\s+(.+?)(?:\s+(?:email|phone|mobile|gst|contact)\b|[;]|$)`)
	reRole       = regexp.MustCompile(`(?i)\brole\s*(?:is|as)?\s+(driver|customer)\b`)
	reNote       = regexp.MustCompile(`(?i)\b(?:note|description|desc)\s*[=:]?\s+(.+)$`)
	reURL        = regexp.MustCompile(`https?://\S+`)
	reNameLead   = regexp.MustCompile(`(?i)\b(driver|customer|user|owner|company|name)\s+(?:named\s+|called\s+|is\s+)?`)
	reUpdate     = regexp.MustCompile(`(?i)^\s*(update|set|change|mark|modify)\s+(vehicle|truck|trip|load|driver|customer|user|owner|expense)s?\s+#?(\d+)\s*(.*)$`)
	reUpdateBody = regexp.MustCompile(`(?i)^(?:set\s+)?([a-z][a-z_ ]*?)\s*(?:\bto\b|=|:|\bas\b)\s*(.+)$`)
)

var expenseTypes = map[string]string{
	"diesel": "fuel", "petrol": "fuel", "meal": "food", "meals": "food",
	"repair": "maintenance", "hotel": "accommodation",
}

// nameStop ends a multi-word name.
var nameStop = map[string]bool{
	"email": true, "phone": true, "mobile": true, "with": true, "for": true, "plate": true,
	"capacity": true, "vehicle": true, "truck": true, "trip": true, "load": true, "amount": true,
	"on": true, "and": true, "at": true, "from": true, "to": true, "role": true, "address": true,
	"id": true, "driver": true, "customer": true, "owner": true, "company": true, "gst": true,
	"weight": true, "license": true, "licence": true, "in": true, "of": true, "as": true, "is": true,
	"named": true, "called": true, "name": true,
}

// Rules is the deterministic extractor. It needs no external service.
type Rules struct{}

// NewRules returns the rule extractor.
func NewRules() *Rules { return &Rules{} }

// Name implements Backend.
func (r *Rules) Name() string { return "rules" }

// Extract implements Backend and never fails.
func (r *Rules) Extract(_ context.Context, text string, _ []domain.Message) (Extraction, error) {
	return r.Classify(text), nil
}

// Classify picks the first matching rule and parses fields from text.
func (r *Rules) Classify(text string) Extraction {
	ex := Extraction{Intent: intent.Chat, Entities: ParseFields(text), Source: r.Name()}
	for _, rule := range classifyRules {
		if !rule.pattern.MatchString(text) {
			continue
		}
		ex.Intent = rule.label
		for k, v := range rule.implies {
			if _, ok := ex.Entities[k]; !ok {
				ex.Entities[k] = v
			}
		}
		break
	}
	if ex.Intent == intent.UpdateRecord {
		for k, v := range parseUpdate(text) {
			ex.Entities[k] = v
		}
	}
	if ex.Intent == intent.Greeting || ex.Intent == intent.Cancel {
		ex.Entities = map[string]any{}
	}
	return ex
}

// ParseFields extracts every field it recognises from text, independent of intent.
// Keys use the extractor vocabulary; intent.NormalizeEntities maps them onto an intent.
func ParseFields(text string) map[string]any {
	out := make(map[string]any)
	set := func(k string, v any) {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}

	for _, m := range reKeyValue.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(m[1])
		if key == "http" || key == "https" {
			continue
		}
		set(key, m[3]+m[4]+m[5])
	}

	if m := reEmail.FindString(text); m != "" {
		set("email", strings.ToLower(m))
	}
	for _, m := range rePhone.FindAllString(text, -1) {
		digits := strings.Map(func(r rune) rune {
			if r == '+' || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, m)
		if len(strings.TrimPrefix(digits, "+")) >= 10 {
			set("phone_number", digits)
			break
		}
	}
	if m := rePlate.FindStringSubmatch(text); m != nil {
		set("plate", domain.NormalizePlate(m[1]))
	}
	for _, m := range reIDRef.FindAllStringSubmatch(text, -1) {
		if len(m[2]) > 9 {
			continue // a phone number, not an id
		}
		kind := strings.ToLower(m[1])
		if kind == "truck" {
			kind = "vehicle"
		}
		set(kind+"_id", m[2])
	}
	if m := reCapacity.FindStringSubmatch(text); m != nil {
		set("capacity_kg", scaleToKg(m[1], m[2]))
	}
	if m := reWeight.FindStringSubmatch(text); m != nil {
		set("weight_kg", scaleToKg(m[1], m[2]))
	}
	if m := reTypeAmount.FindStringSubmatch(text); m != nil {
		set("expense_type", canonicalExpense(m[1]))
		set("amount", strings.ReplaceAll(m[2], ",", ""))
	}
	if m := reAmount.FindStringSubmatch(text); m != nil {
		set("amount", strings.ReplaceAll(m[1], ",", ""))
	}
	if m := reAmountRs.FindStringSubmatch(text); m != nil {
		set("amount", strings.ReplaceAll(m[1], ",", ""))
	}
	if m := reExpense.FindStringSubmatch(text); m != nil {
		set("expense_type", canonicalExpense(m[1]))
	}
	if m := reLatitude.FindStringSubmatch(text); m != nil {
		set("latitude", m[1])
	}
	if m := reLongitude.FindStringSubmatch(text); m != nil {
		set("longitude", m[1])
	}
	if m := reSpeed.FindStringSubmatch(text); m != nil {
		set("speed_kmh", m[1])
	}
	if m := reFromTo.FindStringSubmatch(text); m != nil {
		set("from", strings.TrimSpace(m[1]))
		set("to", strings.TrimSpace(m[2]))
	}
	if m := reAddress.FindStringSubmatch(text); m != nil {
		set("address", strings.TrimSpace(m[1]))
	}
	if m := reRole.FindStringSubmatch(text); m != nil {
		set("role", strings.ToLower(m[1]))
	}
	if m := reNote.FindStringSubmatch(text); m != nil {
		set("description", strings.TrimSpace(m[1]))
	}
	if m := reURL.FindString(text); m != "" {
		set("receipt_url", m)
	}
	for key, name := range parseNames(text) {
		set(key, name)
	}
	return out
}

// parseNames reads capitalised or plain words after a role keyword: "driver John Doe email ..."
// yields driver_name "John Doe".
func parseNames(text string) map[string]string {
	out := make(map[string]string)
	for _, loc := range reNameLead.FindAllStringSubmatchIndex(text, -1) {
		lead := strings.ToLower(text[loc[2]:loc[3]])
		rest := strings.Fields(text[loc[1]:])
		var words []string
		for _, w := range rest {
			clean := strings.Trim(w, ",.;!?\"'")
			if clean == "" || nameStop[strings.ToLower(clean)] || strings.ContainsAny(clean, "@0123456789#=:") {
				break
			}
			words = append(words, clean)
			if len(words) == 4 || strings.ContainsAny(w, ",.;!?") {
				break
			}
		}
		if len(words) == 0 {
			continue
		}
		key := lead + "_name"
		switch lead {
		case "company":
			key = "owner_name"
		case "name":
			key = "name"
		}
		if _, ok := out[key]; !ok {
			out[key] = strings.Join(words, " ")
		}
	}
	return out
}

func parseUpdate(text string) map[string]any {
	m := reUpdate.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	verb := strings.ToLower(m[1])
	out := map[string]any{"target_type": strings.ToLower(m[2]), "target_id": m[3]}
	body := strings.TrimSpace(m[4])
	if body == "" {
		return out
	}
	if verb == "mark" {
		out["field"] = "status"
		out["value"] = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(body), "as "))
		return out
	}
	if b := reUpdateBody.FindStringSubmatch(body); b != nil {
		out["field"] = strings.ReplaceAll(strings.TrimSpace(strings.ToLower(b[1])), " ", "_")
		out["value"] = strings.TrimSpace(b[2])
		return out
	}
	// "set vehicle 3 status maintenance"
	if parts := strings.Fields(body); len(parts) >= 2 {
		out["field"] = strings.ToLower(parts[0])
		out["value"] = strings.Join(parts[1:], " ")
	}
	return out
}

func canonicalExpense(s string) string {
	s = strings.ToLower(s)
	if c, ok := expenseTypes[s]; ok {
		return c
	}
	return s
}

func scaleToKg(num, unit string) string {
	num = strings.ReplaceAll(num, ",", "")
	unit = strings.ToLower(unit)
	if strings.HasPrefix(unit, "t") {
		if f, err := strconv.ParseFloat(num, 64); err == nil {
			return strconv.FormatFloat(f*1000, 'f', -1, 64)
		}
	}
	return num
}
