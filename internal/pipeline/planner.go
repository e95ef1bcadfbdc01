package pipeline

import (
	"context"
	"regexp"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/authz"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/extract"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
)

var (
	reBareExpenses = regexp.MustCompile(`(?i)^\s*(?:show\s+|total\s+|trip\s+|and\s+)?(?:the\s+)?expenses?\s*[?.!]?\s*$`)
	reBareID       = regexp.MustCompile(`^\s*#?(\d{1,9})\s*[.!]?\s*$`)
)

// plan classifies general-path input and decides between resolve, execute and verify.
func (e *Engine) plan(ctx context.Context, st *TurnState) {
	text := st.RawInput

	// Shortcuts that never need the extractor.
	switch quick := e.rules.Classify(text); quick.Intent {
	case intent.Greeting, intent.Cancel:
		st.Source = quick.Source
		if quick.Intent == intent.Greeting && st.continuing() {
			e.remind(st)
			return
		}
		st.Intent = quick.Intent
		st.NextAction = ActionChat
		return
	}
	if st.FocusTripID > 0 && !st.continuing() && reBareExpenses.MatchString(text) {
		st.Intent = intent.TripExpenses
		st.Entities = map[string]any{"trip_id": st.FocusTripID}
		st.Source = "focus"
		if e.authorize(st) {
			e.dispatch(st)
		}
		return
	}

	ex := e.extractor.Extract(ctx, text, st.History)
	st.Source = ex.Source
	if ex.Fallback {
		e.logger.Info("Extraction fell back", "source", ex.Source, "intent", ex.Intent)
	}

	switch {
	case st.continuing() && ex.Intent == st.Intent:
		e.merge(st, ex.Entities)
	case st.continuing() && !intent.IsTask(ex.Intent):
		// A reply to a clarification question: read fields against the pending intent.
		fields := intent.NormalizeEntities(st.Intent, extract.ParseFields(text))
		if m := reBareID.FindStringSubmatch(text); m != nil {
			if f, ok := e.soleIDField(st); ok {
				fields[f] = m[1]
			}
		}
		e.merge(st, fields)
	case intent.IsTask(ex.Intent):
		ambient := ambientOf(st.Entities)
		st.Intent = ex.Intent
		st.Entities = ex.Entities
		for k, v := range ambient {
			if _, ok := st.Entities[k]; !ok {
				st.Entities[k] = v
			}
		}
		st.PendingFields = nil
		st.Iteration = 0
	default:
		st.Intent = intent.Chat
		st.NextAction = ActionChat
		return
	}

	st.Entities = intent.NormalizeEntities(st.Intent, st.Entities)
	if !e.authorize(st) {
		return
	}
	e.dispatch(st)
}

// merge overlays new fields on the pending entities; newer values win.
func (e *Engine) merge(st *TurnState, fields map[string]any) {
	for k, v := range intent.NormalizeEntities(st.Intent, fields) {
		st.Entities[k] = v
	}
}

// soleIDField returns the only pending identifier field, for replies like "4".
func (e *Engine) soleIDField(st *TurnState) (string, bool) {
	var found string
	for _, f := range st.PendingFields {
		if !intent.IsIDField(f) {
			continue
		}
		if found != "" {
			return "", false
		}
		found = f
	}
	return found, found != ""
}

var ambientKeys = []string{"sender_phone"}

func ambientOf(entities map[string]any) map[string]any {
	out := make(map[string]any)
	for _, k := range ambientKeys {
		if v, ok := entities[k]; ok {
			out[k] = v
		}
	}
	return out
}

// authorize applies the role guard. A denial ends the turn through verify with zero store calls.
func (e *Engine) authorize(st *TurnState) bool {
	authz.Constrain(st.Role, st.Intent, st.Entities)
	guard := authz.CanRun(st.Role, st.Intent, st.Entities)
	if guard.Allowed {
		return true
	}
	e.logger.Warn("Turn denied by role guard", "role", st.Role, "intent", st.Intent)
	st.LastResult = &Result{
		Status:  StatusError,
		Kind:    intent.KindOf(st.Intent),
		Intent:  st.Intent,
		Error:   ErrForbidden,
		Message: guard.Reason,
	}
	st.NextAction = ActionVerify
	return false
}

// dispatch routes a classified task: straight to execution when every required id is
// bound, to the resolver when a reference can supply a missing id, otherwise to verify.
func (e *Engine) dispatch(st *TurnState) {
	spec, ok := intent.Lookup(st.Intent)
	if !ok || !intent.IsTask(st.Intent) {
		st.NextAction = ActionChat
		return
	}

	missing := spec.Missing(st.Entities)
	resolvable := false
	for _, f := range missing {
		ref, ok := intent.ReferenceFor(st.Intent, f)
		if !ok {
			continue
		}
		if len(ref.PresentHints(st.Entities)) > 0 || (f == "owner_id" && spec.DefaultOwner) {
			resolvable = true
		}
	}

	switch {
	case !hasMissingID(missing):
		// Missing scalars are reported by the executor's own guard.
		st.NextAction = executeAction(spec.Kind)
	case resolvable:
		st.NextAction = ActionResolve
	default:
		st.LastResult = incompleteResult(st, spec, missing, nil)
		st.NextAction = ActionVerify
	}
}

func hasMissingID(missing []string) bool {
	for _, f := range missing {
		if intent.IsIDField(f) {
			return true
		}
	}
	return false
}

func executeAction(k intent.Kind) Action {
	if k == intent.KindQuery {
		return ActionQuery
	}
	return ActionExecMutation
}

// incompleteResult builds the clarification result for missing fields. Requirements already
// built by the resolver (ambiguous matches, failed lookups) take precedence over the
// catalog questions.
func incompleteResult(st *TurnState, spec intent.Spec, missing []string, known map[string]Requirement) *Result {
	r := &Result{
		Status: StatusIncomplete,
		Kind:   spec.Kind,
		Intent: st.Intent,
		Entity: spec.Entity,
		Error:  ErrIncomplete,
	}
	for _, f := range missing {
		req, ok := known[f]
		if !ok {
			req = Requirement{Field: f, Prompt: intent.Question(f)}
		}
		if len(req.Candidates) > 0 {
			r.Error = ErrAmbiguous
		}
		r.Missing = append(r.Missing, req)
	}
	return r
}
