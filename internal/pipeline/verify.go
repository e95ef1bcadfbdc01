package pipeline

import (
	"context"
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
)

// iterationLimitMessage is the reply once a request has been incomplete too many times in a row.
const iterationLimitMessage = "I could not complete that request. Please start again."

// verify checks that the last result is well formed for the intent that produced it.
// It does not judge business rules; malformed results are downgraded to errors.
func (e *Engine) verify(_ context.Context, st *TurnState) {
	st.NextAction = ActionReflect

	if reason := malformed(st); reason != "" {
		e.logger.Error("Malformed turn result", "intent", st.Intent, "reason", reason)
		st.LastResult = &Result{
			Status:  StatusError,
			Kind:    intent.KindOf(st.Intent),
			Intent:  st.Intent,
			Error:   ErrMalformed,
			Message: "I could not produce a reliable answer for that. Please rephrase and try again.",
		}
		return
	}

	if st.LastResult.Status == StatusIncomplete && st.Iteration+1 > e.cfg.MaxContinuationTurns {
		e.logger.Warn("Continuation limit reached", "intent", st.Intent, "iterations", st.Iteration+1)
		st.LastResult = &Result{
			Status:  StatusError,
			Kind:    st.LastResult.Kind,
			Intent:  st.Intent,
			Error:   ErrIterationLimit,
			Message: iterationLimitMessage,
		}
	}
}

func malformed(st *TurnState) string {
	r := st.LastResult
	if r == nil {
		return "no result"
	}
	switch r.Status {
	case StatusOK, StatusError:
	case StatusIncomplete:
		if len(r.Missing) == 0 {
			return "incomplete result without requirements"
		}
		return ""
	default:
		return "unknown status " + string(r.Status)
	}
	if r.Status != StatusOK {
		return ""
	}

	want := intent.KindOf(st.Intent)
	if r.Kind != want {
		return "result kind " + r.Kind.String() + " does not match intent kind " + want.String()
	}
	switch want {
	case intent.KindQuery, intent.KindMutation:
		if r.Data == nil || r.Data.ID() <= 0 {
			return "result has no record"
		}
	case intent.KindChat:
		if strings.TrimSpace(r.Message) == "" {
			return "empty chat message"
		}
	}
	return ""
}
