package pipeline

import (
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/authz"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
)

// Action names the next step of a turn.
type Action string

const (
	ActionStart        Action = "start"
	ActionPlanner      Action = "planner"
	ActionResolve      Action = "resolve"
	ActionExecMutation Action = "exec_mutation"
	ActionQuery        Action = "query"
	ActionChat         Action = "chat"
	ActionVerify       Action = "verify"
	ActionReflect      Action = "reflect"
	ActionEnd          Action = "end"
)

// Status is the outcome class of a turn.
type Status string

const (
	StatusOK         Status = "ok"
	StatusIncomplete Status = "incomplete"
	StatusError      Status = "error"
)

// ErrorKind refines an incomplete or error result.
type ErrorKind string

const (
	ErrIncomplete     ErrorKind = "incomplete"
	ErrAmbiguous      ErrorKind = "ambiguous"
	ErrStoreFailure   ErrorKind = "store_failure"
	ErrIterationLimit ErrorKind = "iteration_limit"
	ErrForbidden      ErrorKind = "forbidden"
	ErrMalformed      ErrorKind = "malformed_result"
	ErrInternal       ErrorKind = "internal"
)

// Channel is the transport a turn arrived on. It only affects reply formatting.
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelCLI      Channel = "cli"
)

// MaxSMSReply is the longest reply sent over SMS and WhatsApp.
const MaxSMSReply = 1600

// Candidate is one record matching an ambiguous reference.
type Candidate struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// Requirement is a field still missing after resolution, with the question to ask.
type Requirement struct {
	Field      string      `json:"field"`
	Prompt     string      `json:"prompt"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Resolution records an identifier bound from a human reference.
type Resolution struct {
	Field     string `json:"field"`
	ID        int64  `json:"id"`
	Reference string `json:"reference"`
	Value     string `json:"value,omitempty"`
}

// Result is the structured outcome of the last operation.
type Result struct {
	Status  Status            `json:"status"`
	Kind    intent.Kind       `json:"-"`
	Intent  intent.Label      `json:"intent,omitempty"`
	Entity  domain.EntityType `json:"entity,omitempty"`
	Data    domain.Record     `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
	Error   ErrorKind         `json:"error,omitempty"`
	Missing []Requirement     `json:"missing,omitempty"`
}

// MissingFields returns the field names of the unmet requirements.
func (r *Result) MissingFields() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Missing))
	for _, m := range r.Missing {
		out = append(out, m.Field)
	}
	return out
}

// TurnState is the mutable context threaded through the steps of one turn.
type TurnState struct {
	RawInput   string
	Intent     intent.Label
	Entities   map[string]any
	NextAction Action
	LastResult *Result
	History    []domain.Message

	Role    authz.Role
	Channel Channel

	// FastPath is set when the router answered without the extractor.
	FastPath bool
	// Source names the extractor backend that classified the input.
	Source   string
	Resolved []Resolution

	// PendingFields are the fields the previous incomplete turn asked for.
	PendingFields []string
	Iteration     int
	FocusTripID   int64

	Messages    []domain.Message
	reflections int
}

func (st *TurnState) continuing() bool {
	return st.Intent != "" && intent.IsTask(st.Intent) && len(st.PendingFields) > 0
}

func (st *TurnState) pending(field string) bool {
	for _, f := range st.PendingFields {
		if f == field {
			return true
		}
	}
	return false
}

// Request is the turn entry point handed over by a channel adapter.
type Request struct {
	UserInput string
	// Intent, Entities, Pending and Iteration carry an incomplete request from an earlier turn.
	Intent    intent.Label
	Entities  map[string]any
	Pending   []string
	Iteration int
	History   []domain.Message

	Role        authz.Role
	Channel     Channel
	FocusTripID int64
	// Ambient entities describe the sender (sender_phone) and never override user input.
	Ambient map[string]any
}

// Response is the outcome of one turn.
type Response struct {
	// Messages is the history followed by this turn's user message and reply.
	Messages   []domain.Message `json:"messages"`
	Reply      string           `json:"reply"`
	LastResult *Result          `json:"last_result"`
	Intent     intent.Label     `json:"intent"`
	Entities   map[string]any   `json:"entities,omitempty"`
	// Pending lists the fields the next turn should supply; empty unless the turn is incomplete.
	Pending     []string     `json:"pending,omitempty"`
	Iterations  int          `json:"iterations"`
	FocusTripID int64        `json:"focus_trip_id,omitempty"`
	Resolved    []Resolution `json:"resolved,omitempty"`
	Source      string       `json:"source,omitempty"`
	Trace       []Action     `json:"trace"`
}

// Incomplete reports whether the turn is waiting for more input.
func (r Response) Incomplete() bool {
	return r.LastResult != nil && r.LastResult.Status == StatusIncomplete
}
