package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/store"
)

// maxCandidates bounds the records listed for an ambiguous reference.
const maxCandidates = 8

// resolve binds identifier fields from human references, then routes to execution
// or reports what is still missing.
func (e *Engine) resolve(ctx context.Context, st *TurnState) {
	spec, ok := intent.Lookup(st.Intent)
	if !ok || !intent.IsTask(st.Intent) {
		st.LastResult = internalError(st)
		st.NextAction = ActionVerify
		return
	}

	known, err := e.resolveReferences(ctx, st, spec)
	if err != nil {
		st.LastResult = e.storeFailure(st, spec, err)
		st.NextAction = ActionVerify
		return
	}

	missing := spec.Missing(st.Entities)
	if !hasMissingID(missing) {
		st.NextAction = executeAction(spec.Kind)
		return
	}
	st.LastResult = incompleteResult(st, spec, missing, known)
	st.NextAction = ActionVerify
}

// resolveReferences tries every unbound identifier of the intent. It returns the
// requirements for references that could not be bound to exactly one record.
func (e *Engine) resolveReferences(ctx context.Context, st *TurnState, spec intent.Spec) (map[string]Requirement, error) {
	known := make(map[string]Requirement)
	for _, ref := range intent.References(st.Intent) {
		if intent.HasValue(st.Entities, ref.Field) {
			continue
		}
		req, err := e.resolveReference(ctx, st, spec, ref)
		if err != nil {
			return nil, err
		}
		if req != nil {
			known[ref.Field] = *req
		}
	}
	return known, nil
}

// resolveReference tries the hints of ref in priority order. Exactly one match binds the
// id; several matches stop the search and surface the candidates; no match moves on to
// the next hint.
func (e *Engine) resolveReference(ctx context.Context, st *TurnState, spec intent.Spec, ref intent.Reference) (*Requirement, error) {
	schema, _ := domain.SchemaFor(ref.Entity)
	noun := strings.ToLower(schema.Label)

	hints := ref.PresentHints(st.Entities)
	var tried string
	for _, h := range hints {
		value, _ := domain.AsText(st.Entities[h.Key])
		ids, err := e.store.Lookup(ctx, ref.Entity, h.Column, value)
		if err != nil {
			return nil, fmt.Errorf("resolve %s by %s: %w", ref.Field, h.Key, err)
		}
		switch len(ids) {
		case 0:
			if tried == "" && h.Key != "sender_phone" {
				tried = value
			}
			continue
		case 1:
			e.bind(st, Resolution{Field: ref.Field, ID: ids[0], Reference: h.Key, Value: value})
			return nil, nil
		default:
			candidates, err := e.candidates(ctx, ref.Entity, ids)
			if err != nil {
				return nil, err
			}
			return &Requirement{
				Field:      ref.Field,
				Prompt:     fmt.Sprintf("Several %ss match '%s'. Reply with the %s ID:", noun, value, noun),
				Candidates: candidates,
			}, nil
		}
	}

	if len(hints) == 0 && ref.Field == "owner_id" && spec.DefaultOwner {
		id, err := e.defaultOwner(ctx)
		if err != nil {
			return nil, err
		}
		if id > 0 {
			e.bind(st, Resolution{Field: ref.Field, ID: id, Reference: "default_owner"})
			return nil, nil
		}
	}

	prompt := intent.Question(ref.Field)
	if tried != "" {
		prompt = fmt.Sprintf("No %s found for '%s'. %s", noun, tried, prompt)
	}
	return &Requirement{Field: ref.Field, Prompt: prompt}, nil
}

func (e *Engine) bind(st *TurnState, r Resolution) {
	st.Entities[r.Field] = r.ID
	st.Resolved = append(st.Resolved, r)
	e.logger.Debug("Reference resolved", "field", r.Field, "id", r.ID, "reference", r.Reference)
}

// defaultOwner picks the owner for owner_id when none was named: the only owner in the
// store, else the configured default owner when it exists. Zero means none applies.
func (e *Engine) defaultOwner(ctx context.Context) (int64, error) {
	owners, err := e.store.List(ctx, domain.EntityOwner, "", nil)
	if err != nil {
		return 0, fmt.Errorf("list owners: %w", err)
	}
	if len(owners) == 1 {
		return owners[0].ID(), nil
	}
	if e.cfg.DefaultOwnerID <= 0 {
		return 0, nil
	}
	if _, err := e.store.Get(ctx, domain.EntityOwner, e.cfg.DefaultOwnerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get default owner: %w", err)
	}
	return e.cfg.DefaultOwnerID, nil
}

func (e *Engine) candidates(ctx context.Context, entity domain.EntityType, ids []int64) ([]Candidate, error) {
	if len(ids) > maxCandidates {
		ids = ids[:maxCandidates]
	}
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		rec, err := e.store.Get(ctx, entity, id)
		if err != nil {
			return nil, fmt.Errorf("load candidate %s %d: %w", entity, id, err)
		}
		out = append(out, Candidate{ID: id, Label: candidateLabel(rec)})
	}
	return out, nil
}

// candidateLabel renders "#4 John Doe (john@example.com)".
func candidateLabel(rec domain.Record) string {
	name := firstText(rec, "full_name", "company_name", "plate")
	detail := firstText(rec, "email", "contact_email", "phone_number", "phone", "vehicle_type")
	label := fmt.Sprintf("#%d", rec.ID())
	if name != "" {
		label += " " + name
	}
	if detail != "" {
		label += " (" + detail + ")"
	}
	return label
}

func firstText(rec domain.Record, keys ...string) string {
	for _, k := range keys {
		if s, ok := domain.AsText(rec[k]); ok {
			return s
		}
	}
	return ""
}
