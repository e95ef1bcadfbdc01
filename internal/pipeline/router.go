package pipeline

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
)

// The fast-path grammar: an optional verb, one domain keyword and a bare identifier,
// with nothing else in the message.
var (
	reFastID    = regexp.MustCompile(`(?i)^\s*(?:(?:show|get|find|details?\s+(?:of|for))\s+)?(trip|vehicle|truck|owner|load|user|driver)\s*(?:id\s*)?[:#]?\s*(\d{1,9})\s*[.?!]?\s*$`)
	reFastPlate = regexp.MustCompile(`(?i)^\s*(?:(?:show|get|find|details?\s+(?:of|for))\s+)?(?:vehicle|truck)\s+(?:plate\s+)?([a-z]{2}[\s-]?\d{1,2}[\s-]?[a-z]{1,3}[\s-]?\d{1,4})\s*[.?!]?\s*$`)
)

var fastLabels = map[string]intent.Label{
	"trip":    intent.TripDetails,
	"vehicle": intent.VehicleDetails,
	"owner":   intent.OwnerDetails,
	"load":    intent.LoadDetails,
	"user":    intent.UserDetails,
	"driver":  intent.DriverDetails,
}

// FastMatch is an identifier-style utterance recognised by the router.
type FastMatch struct {
	Label intent.Label
	// IDField is the identifier the match fills, such as vehicle_id.
	IDField string
	// Field and Value are the entity to bind: the id itself, or the plate for vehicles.
	Field string
	Value any
}

// MatchFastPath applies the fast-path grammar. It is pure and deterministic.
func MatchFastPath(text string) (FastMatch, bool) {
	if m := reFastID.FindStringSubmatch(text); m != nil {
		kw := strings.ToLower(m[1])
		if kw == "truck" {
			kw = "vehicle"
		}
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || id <= 0 {
			return FastMatch{}, false
		}
		field := kw + "_id"
		return FastMatch{Label: fastLabels[kw], IDField: field, Field: field, Value: id}, true
	}
	if m := reFastPlate.FindStringSubmatch(text); m != nil {
		return FastMatch{
			Label:   intent.VehicleDetails,
			IDField: "vehicle_id",
			Field:   "plate",
			Value:   domain.NormalizePlate(m[1]),
		}, true
	}
	return FastMatch{}, false
}

// route is the first step of every turn. It decides between the fast path and the
// planner without calling the extractor.
func (e *Engine) route(_ context.Context, st *TurnState) {
	m, ok := MatchFastPath(st.RawInput)
	if !ok {
		st.NextAction = ActionPlanner
		return
	}
	st.FastPath = true
	st.Source = "fastpath"

	// "vehicle MH12AB1234" while an earlier request waits for vehicle_id fills that slot.
	// The caller's role may differ from the one that started the request.
	if st.continuing() && st.pending(m.IDField) {
		st.Entities[m.Field] = m.Value
		if !e.authorize(st) {
			return
		}
		st.NextAction = ActionResolve
		return
	}

	st.Intent = m.Label
	st.Entities = map[string]any{m.Field: m.Value}
	st.PendingFields = nil
	st.Iteration = 0
	if !e.authorize(st) {
		return
	}
	st.NextAction = ActionQuery
}
