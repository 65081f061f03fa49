package repository

import (
	"context"
	"time"

	"x402-delegation/backend/internal/session/domain"
)

// Repository defines persistence for delegation sessions.
type Repository interface {
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// Create inserts s and reports whether it was stored. An existing row with the same id is left untouched.
	Create(ctx context.Context, s *domain.Session) (bool, error)
	// Touch bumps usage_count and sets last_used on an active session in one step. When maxUses is set,
	// the bump happens only while usage_count+1 < maxUses (usage_count+1 successes already seen).
	// It reports whether the row was updated.
	Touch(ctx context.Context, id string, at time.Time, maxUses *int) (bool, error)
	// Deactivate clears active without touching the counters.
	Deactivate(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Session, error)
	CountActive(ctx context.Context) (int, error)
	// DeleteIdleBefore removes sessions whose last_used is before cutoff and returns how many were removed.
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error)
}
