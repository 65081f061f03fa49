package repository

import (
	"context"

	"x402-delegation/backend/internal/telemetry/domain"
)

// Repository defines persistence for telemetry events consumed by the worker.
type Repository interface {
	Save(ctx context.Context, e *domain.Event) error
	GetByID(ctx context.Context, id int64) (*domain.Event, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int32) ([]*domain.Event, error)
}
