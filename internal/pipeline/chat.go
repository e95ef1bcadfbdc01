package pipeline

import (
	"context"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
)

const (
	greetingReply = "Hi! I can help with owners, drivers, vehicles, trips, loads and expenses. Tell me what you'd like to do."
	cancelReply   = "Okay, I've dropped that request. What would you like to do next?"
	remindReply   = "Hi! We're still on your last request."
	helpReply     = "I can register owners, drivers and customers, add vehicles, start trips, create and assign loads, " +
		"log expenses and locations, and show details such as \"trip 5\" or \"vehicle MH01AB1234\"."
)

// respond answers chat turns. It never touches the store.
func (e *Engine) respond(ctx context.Context, st *TurnState) {
	var msg string
	switch st.Intent {
	case intent.Greeting:
		msg = greetingReply
	case intent.Cancel:
		msg = cancelReply
		st.Entities = make(map[string]any)
		st.PendingFields = nil
	default:
		st.Intent = intent.Chat
		if e.chat != nil {
			reply, err := e.chat.Reply(ctx, st.RawInput, st.History)
			if err != nil {
				e.logger.Warn("Chat responder failed, using help text", "error", err)
			}
			msg = reply
		}
	}
	if msg == "" {
		msg = helpReply
	}

	st.LastResult = &Result{
		Status:  StatusOK,
		Kind:    intent.KindChat,
		Intent:  st.Intent,
		Message: msg,
	}
	st.NextAction = ActionReflect
}

// remind answers a greeting sent while a request is waiting for fields. The
// continuation stays in place and the reply repeats its questions.
func (e *Engine) remind(st *TurnState) {
	spec, ok := intent.Lookup(st.Intent)
	if !ok {
		st.Intent = intent.Greeting
		st.NextAction = ActionChat
		return
	}
	r := incompleteResult(st, spec, st.PendingFields, nil)
	r.Message = remindReply
	st.LastResult = r
	st.NextAction = ActionReflect
}
