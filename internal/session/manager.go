// Package session carries continuation state between turns. It owns the per-identity
// session record, serialises turns of one identity and feeds the transcript.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/authz"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/pipeline"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/shared"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/store"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/transcript"
	"github.com/google/uuid"
)

const (
	defaultTTL          = 24 * time.Hour
	defaultHistoryLimit = 20
	persistAttempts     = 3
	persistBaseDelay    = 50 * time.Millisecond
)

// Runner processes one turn; *pipeline.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Response
}

// Key builds the session key for an identity on a channel, e.g. "web:anon_ab12:tab-1"
// or "whatsapp:+919876543210".
func Key(channel pipeline.Channel, subject, thread string) string {
	if thread == "" {
		return string(channel) + ":" + subject
	}
	return string(channel) + ":" + subject + ":" + thread
}

// Turn is one inbound message.
type Turn struct {
	Subject string
	Thread  string
	Message string
	Role    authz.Role
	Channel pipeline.Channel
	// Ambient entities, such as the sender's phone number, seed every turn.
	Ambient map[string]any
	// Meta is copied into the transcript.
	Meta map[string]any
}

// Key returns the session key of the turn.
func (t Turn) Key() string { return Key(t.Channel, t.Subject, t.Thread) }

// Outcome is the result of a handled turn.
type Outcome struct {
	TurnID   string
	Key      string
	Response pipeline.Response
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets how long an idle session keeps its continuation.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithHistoryLimit caps the messages kept per session.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historyLimit = n
		}
	}
}

// WithTranscript sets the transcript logger.
func WithTranscript(l transcript.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.transcript = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Manager runs turns for many identities concurrently and at most one at a time per identity.
type Manager struct {
	runner       Runner
	repo         store.SessionRepository
	transcript   transcript.Logger
	logger       *slog.Logger
	ttl          time.Duration
	historyLimit int
	now          func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

// New creates a session manager.
func New(runner Runner, repo store.SessionRepository, opts ...Option) *Manager {
	m := &Manager{
		runner:       runner,
		repo:         repo,
		transcript:   transcript.Noop{},
		logger:       slog.Default(),
		ttl:          defaultTTL,
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
		locks:        make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the idle lifetime of a session.
func (m *Manager) TTL() time.Duration { return m.ttl }

func (m *Manager) lock(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Handle runs one turn against the stored continuation of its identity and persists the
// outcome. The reply is returned even when the session cannot be saved; the error then
// reports the persistence failure.
func (m *Manager) Handle(ctx context.Context, t Turn) (Outcome, error) {
	key := t.Key()
	unlock := m.lock(key)
	defer unlock()

	turnID := uuid.NewString()
	sess, err := m.repo.GetTurnSession(ctx, key)
	if err != nil {
		m.logger.Error("Failed to load turn session", "session_key", key, "error", err)
		sess = nil
	}
	if sess != nil && m.expired(sess) {
		m.logger.Info("Turn session expired", "session_key", key, "updated_at", sess.UpdatedAt)
		sess = nil
	}

	req := pipeline.Request{
		UserInput: t.Message,
		Role:      t.Role,
		Channel:   t.Channel,
		Ambient:   t.Ambient,
	}
	if sess != nil {
		req.History = sess.History
		req.FocusTripID = sess.FocusTripID
		if sess.HasContinuation() {
			req.Intent = intent.Label(sess.Intent)
			req.Entities = sess.Entities
			req.Pending = sess.Pending
			req.Iteration = sess.Iterations
		}
	}

	m.record(t, turnID, "inbound", "user_message", t.Message, t.Meta)
	resp := m.runner.Run(ctx, req)
	m.record(t, turnID, "outbound", "assistant_message", resp.Reply, map[string]any{
		"intent":  resp.Intent,
		"status":  resp.LastResult.Status,
		"source":  resp.Source,
		"pending": resp.Pending,
		"trace":   resp.Trace,
	})

	out := Outcome{TurnID: turnID, Key: key, Response: resp}
	if err := m.save(ctx, key, sess, resp); err != nil {
		m.logger.Error("Failed to save turn session", "session_key", key, "error", err)
		return out, err
	}
	return out, nil
}

func (m *Manager) expired(sess *domain.TurnSession) bool {
	return m.ttl > 0 && m.now().Sub(sess.UpdatedAt) > m.ttl
}

// save persists the continuation of an incomplete turn, or clears it otherwise.
// History and the trip focus survive either way.
func (m *Manager) save(ctx context.Context, key string, prev *domain.TurnSession, resp pipeline.Response) error {
	next := &domain.TurnSession{
		Key:         key,
		History:     trimHistory(resp.Messages, m.historyLimit),
		FocusTripID: resp.FocusTripID,
	}
	if prev != nil {
		next.CreatedAt = prev.CreatedAt
	}
	if resp.Incomplete() {
		next.Intent = string(resp.Intent)
		next.Entities = resp.Entities
		next.Pending = resp.Pending
		next.Iterations = resp.Iterations
	}

	err := shared.RetryOnConflict(ctx, persistAttempts, persistBaseDelay, func() error {
		return m.repo.UpsertTurnSession(ctx, next)
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	return nil
}

// Reset drops the session of key, continuation and history alike.
func (m *Manager) Reset(ctx context.Context, key string) error {
	unlock := m.lock(key)
	defer unlock()

	if err := m.repo.DeleteTurnSession(ctx, key); err != nil {
		return fmt.Errorf("reset session %s: %w", key, err)
	}
	m.logger.Info("Turn session reset", "session_key", key)
	return nil
}

// List returns the most recently active sessions.
func (m *Manager) List(ctx context.Context, limit int) ([]*domain.TurnSession, error) {
	sessions, err := m.repo.ListTurnSessions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (m *Manager) record(t Turn, turnID, direction, eventType, content string, meta map[string]any) {
	m.transcript.Log(transcript.Event{
		Timestamp:  m.now().UTC().Format(time.RFC3339Nano),
		TurnID:     turnID,
		Subject:    t.Subject,
		Session:    sessionName(t),
		Channel:    string(t.Channel),
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}

func sessionName(t Turn) string {
	if t.Thread != "" {
		return t.Thread
	}
	return string(t.Channel)
}

func trimHistory(msgs []domain.Message, limit int) []domain.Message {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...)
}
