package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/shared"
)

const sessionColumns = `session_key, intent, entities_json, pending_json, iterations,
	focus_trip_id, history_json, created_at, updated_at`

// GetTurnSession retrieves continuation state for a session key.
func (s *SQLiteStore) GetTurnSession(ctx context.Context, key string) (*domain.TurnSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM turn_sessions WHERE session_key = ?`, key)
	session, err := scanTurnSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// UpsertTurnSession creates or replaces continuation state.
func (s *SQLiteStore) UpsertTurnSession(ctx context.Context, session *domain.TurnSession) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	entities := session.Entities
	if entities == nil {
		entities = map[string]any{}
	}
	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("marshal session entities: %w", err)
	}
	pending := session.Pending
	if pending == nil {
		pending = []string{}
	}
	pendingJSON, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending fields: %w", err)
	}
	history := session.History
	if history == nil {
		history = []domain.Message{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal session history: %w", err)
	}

	now := s.now()
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO turn_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			intent = excluded.intent,
			entities_json = excluded.entities_json,
			pending_json = excluded.pending_json,
			iterations = excluded.iterations,
			focus_trip_id = excluded.focus_trip_id,
			history_json = excluded.history_json,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		session.Key, session.Intent, string(entitiesJSON), string(pendingJSON), session.Iterations,
		session.FocusTripID, string(historyJSON), createdAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert turn session: %w", err)
	}
	return nil
}

// DeleteTurnSession removes continuation state, retrying while the database is busy.
func (s *SQLiteStore) DeleteTurnSession(ctx context.Context, key string) error {
	err := shared.RetryOnConflict(ctx, 3, 100*time.Millisecond, func() error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()
		_, err := s.db.ExecContext(ctx, `DELETE FROM turn_sessions WHERE session_key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete turn session %s: %w", key, err)
	}
	return nil
}

// ListTurnSessions returns the most recently updated sessions.
func (s *SQLiteStore) ListTurnSessions(ctx context.Context, limit int) ([]*domain.TurnSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM turn_sessions ORDER BY updated_at DESC, session_key LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query turn sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.TurnSession
	for rows.Next() {
		session, err := scanTurnSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn sessions: %w", err)
	}
	return sessions, nil
}

// DeleteIdleTurnSessions removes sessions idle for longer than ttl.
func (s *SQLiteStore) DeleteIdleTurnSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := s.now().Add(-ttl).Unix()
	var deleted int64
	err := shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, func() error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()
		res, err := s.db.ExecContext(ctx, `DELETE FROM turn_sessions WHERE updated_at < ?`, threshold)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete idle turn sessions: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurnSession(row rowScanner) (*domain.TurnSession, error) {
	var session domain.TurnSession
	var entitiesJSON, pendingJSON, historyJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.Key, &session.Intent, &entitiesJSON, &pendingJSON, &session.Iterations,
		&session.FocusTripID, &historyJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan turn session: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(entitiesJSON))
	dec.UseNumber()
	if err := dec.Decode(&session.Entities); err != nil {
		return nil, fmt.Errorf("decode session entities: %w", err)
	}
	if err := json.Unmarshal([]byte(pendingJSON), &session.Pending); err != nil {
		return nil, fmt.Errorf("decode pending fields: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &session.History); err != nil {
		return nil, fmt.Errorf("decode session history: %w", err)
	}
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}
