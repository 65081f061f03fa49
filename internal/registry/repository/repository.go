package repository

import (
	"context"

	"x402-delegation/backend/internal/registry/domain"
)

// Repository defines persistence for registry services.
type Repository interface {
	// GetByID returns the service for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Service, error)
	// Save inserts s or replaces the stored service with the same id.
	Save(ctx context.Context, s *domain.Service) error
	// List returns every stored service in no particular order.
	List(ctx context.Context) ([]*domain.Service, error)
}
