// Package store provides the entity store gateway and session persistence.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrUnknownEntity is returned for entity types the store has no table for.
	ErrUnknownEntity = errors.New("unknown entity type")
	// ErrUnknownField is returned when a field is not part of the entity schema.
	ErrUnknownField = errors.New("unknown field")
	// ErrReadOnlyField is returned when an update touches a field that cannot change.
	ErrReadOnlyField = errors.New("field cannot be updated")
	// ErrConstraint is returned when a write violates a uniqueness or reference constraint.
	ErrConstraint = errors.New("constraint violation")
)

// Gateway is the capability set the turn pipeline needs from the entity store.
// String lookups are case-insensitive exact matches.
type Gateway interface {
	// Lookup returns the ids of every record whose field equals value.
	Lookup(ctx context.Context, entity domain.EntityType, field, value string) ([]int64, error)

	// Create inserts a record and returns it as stored.
	Create(ctx context.Context, entity domain.EntityType, fields map[string]any) (domain.Record, error)

	// Get returns a single record or ErrNotFound.
	Get(ctx context.Context, entity domain.EntityType, id int64) (domain.Record, error)

	// Update changes the given fields of a record and returns it as stored.
	Update(ctx context.Context, entity domain.EntityType, id int64, fields map[string]any) (domain.Record, error)

	// List returns records whose field equals value. An empty field lists every record.
	List(ctx context.Context, entity domain.EntityType, field string, value any) ([]domain.Record, error)
}

// SessionRepository persists continuation state between turns.
type SessionRepository interface {
	// GetTurnSession returns the session for key, or nil when none exists.
	GetTurnSession(ctx context.Context, key string) (*domain.TurnSession, error)

	// UpsertTurnSession creates or replaces the session for its key.
	UpsertTurnSession(ctx context.Context, session *domain.TurnSession) error

	// DeleteTurnSession removes the session for key.
	DeleteTurnSession(ctx context.Context, key string) error

	// ListTurnSessions returns the most recently updated sessions.
	ListTurnSessions(ctx context.Context, limit int) ([]*domain.TurnSession, error)

	// DeleteIdleTurnSessions removes sessions not updated within ttl.
	DeleteIdleTurnSessions(ctx context.Context, ttl time.Duration) (int64, error)
}

// Repository is the full persistence surface of the service.
type Repository interface {
	Gateway
	SessionRepository

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
