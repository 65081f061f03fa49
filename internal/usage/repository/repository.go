package repository

import (
	"context"
	"time"

	"x402-delegation/backend/internal/usage/domain"
)

// Repository is an append-only store of usage records.
type Repository interface {
	Append(ctx context.Context, rec *domain.Record) error
	// CountSince counts records of any result for sessionID with used_at at or after since.
	CountSince(ctx context.Context, sessionID string, since time.Time) (int, error)
	// CountResult counts records of sessionID with the given result.
	CountResult(ctx context.Context, sessionID string, result domain.Result) (int, error)
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Record, error)
	Total(ctx context.Context) (int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}
