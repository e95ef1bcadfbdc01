// Package pipeline runs one conversational turn through a fixed sequence of steps:
// router, planner, resolver, executor, verifier and reflector.
//
// Every turn ends at the reflector exactly once. No step loops back to the router;
// continuation across turns is carried by the caller through Request and Response.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/extract"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/store"
)

// Extractor classifies free text. It must not fail; *extract.Chain satisfies it.
type Extractor interface {
	Extract(ctx context.Context, text string, history []domain.Message) extract.Extraction
}

// ChatResponder answers small talk.
type ChatResponder interface {
	Reply(ctx context.Context, text string, history []domain.Message) (string, error)
}

// Config holds the tunables of the engine.
type Config struct {
	// MaxContinuationTurns caps consecutive incomplete turns for one request.
	MaxContinuationTurns int
	// DefaultOwnerID is bound to owner_id when no owner is named and the store has several owners.
	DefaultOwnerID int64
	// StructuredJSON renders successful results as compact JSON.
	StructuredJSON bool
	// MaxSteps guards the dispatch loop.
	MaxSteps int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxContinuationTurns: 3,
		DefaultOwnerID:       1,
		MaxSteps:             12,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the engine configuration. Zero caps fall back to the defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		def := DefaultConfig()
		if cfg.MaxContinuationTurns <= 0 {
			cfg.MaxContinuationTurns = def.MaxContinuationTurns
		}
		if cfg.MaxSteps <= 0 {
			cfg.MaxSteps = def.MaxSteps
		}
		e.cfg = cfg
	}
}

// WithChat sets the chat responder. Without one, chat turns get a fixed help text.
func WithChat(c ChatResponder) Option {
	return func(e *Engine) { e.chat = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

type step func(ctx context.Context, st *TurnState)

// Engine processes turns. It holds no per-turn state and is safe for concurrent use.
type Engine struct {
	store     store.Gateway
	extractor Extractor
	rules     *extract.Rules
	chat      ChatResponder
	cfg       Config
	logger    *slog.Logger
	steps     map[Action]step
}

// New creates an engine over the given gateway. A nil extractor uses the rule set alone.
func New(gw store.Gateway, ex Extractor, opts ...Option) *Engine {
	e := &Engine{
		store:     gw,
		extractor: ex,
		rules:     extract.NewRules(),
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.extractor == nil {
		e.extractor = extract.NewChain(e.logger)
	}
	e.steps = map[Action]step{
		ActionStart:        e.route,
		ActionPlanner:      e.plan,
		ActionResolve:      e.resolve,
		ActionExecMutation: e.execMutation,
		ActionQuery:        e.query,
		ActionChat:         e.respond,
		ActionVerify:       e.verify,
		ActionReflect:      e.reflect,
	}
	return e
}

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run processes one turn. It never fails: every outcome is a Response whose
// last message is the reply.
func (e *Engine) Run(ctx context.Context, req Request) Response {
	start := time.Now()
	st := newTurnState(req)
	var trace []Action

	for steps := 0; st.NextAction != ActionEnd; steps++ {
		if steps >= e.cfg.MaxSteps {
			e.logger.Error("Turn exceeded step limit", "trace", trace)
			if st.reflections > 0 {
				break
			}
			st.LastResult = internalError(st)
			st.NextAction = ActionReflect
		}

		action := st.NextAction
		fn, ok := e.steps[action]
		if !ok {
			e.logger.Error("Unknown turn action", "action", action)
			st.LastResult = internalError(st)
			st.NextAction = ActionReflect
			continue
		}

		st.NextAction = ""
		trace = append(trace, action)
		fn(ctx, st)

		if st.NextAction == "" {
			// A step that does not name its successor is a defect; end the turn through the reflector.
			e.logger.Error("Turn step did not set next action", "action", action)
			st.LastResult = internalError(st)
			st.NextAction = ActionReflect
			if action == ActionReflect {
				st.NextAction = ActionEnd
			}
		}
	}

	resp := e.response(st, trace)
	e.logger.Info("Turn completed",
		"intent", resp.Intent,
		"status", resp.LastResult.Status,
		"fast_path", st.FastPath,
		"source", st.Source,
		"trace", trace,
		"duration", time.Since(start),
	)
	return resp
}

func newTurnState(req Request) *TurnState {
	st := &TurnState{
		RawInput:    req.UserInput,
		Entities:    make(map[string]any),
		NextAction:  ActionStart,
		History:     append([]domain.Message(nil), req.History...),
		Role:        req.Role,
		Channel:     req.Channel,
		FocusTripID: req.FocusTripID,
	}
	if req.Intent != "" && intent.IsTask(req.Intent) && len(req.Pending) > 0 {
		st.Intent = req.Intent
		for k, v := range req.Entities {
			st.Entities[k] = v
		}
		st.PendingFields = append([]string(nil), req.Pending...)
		st.Iteration = req.Iteration
	}
	for k, v := range req.Ambient {
		if _, ok := st.Entities[k]; !ok {
			st.Entities[k] = v
		}
	}
	st.Messages = append(append([]domain.Message(nil), st.History...),
		domain.Message{Role: domain.RoleUser, Content: req.UserInput})
	return st
}

func (e *Engine) response(st *TurnState, trace []Action) Response {
	if st.LastResult == nil {
		st.LastResult = internalError(st)
	}
	resp := Response{
		Messages:    st.Messages,
		LastResult:  st.LastResult,
		Intent:      st.Intent,
		Entities:    st.Entities,
		FocusTripID: st.FocusTripID,
		Resolved:    st.Resolved,
		Source:      st.Source,
		Trace:       trace,
	}
	if n := len(st.Messages); n > 0 && st.Messages[n-1].Role == domain.RoleAssistant {
		resp.Reply = st.Messages[n-1].Content
	}
	if st.LastResult.Status == StatusIncomplete {
		resp.Pending = st.LastResult.MissingFields()
		resp.Iterations = st.Iteration + 1
	}
	return resp
}

func internalError(st *TurnState) *Result {
	return &Result{
		Status:  StatusError,
		Kind:    intent.KindOf(st.Intent),
		Intent:  st.Intent,
		Error:   ErrInternal,
		Message: "Something went wrong while handling that. Please try again.",
	}
}
