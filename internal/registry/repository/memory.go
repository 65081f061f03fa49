package repository

import (
	"context"
	"sync"

	"x402-delegation/backend/internal/registry/domain"
)

// MemoryRepository keeps services in process. Stored values are copied in and out.
type MemoryRepository struct {
	mu       sync.RWMutex
	services map[string]*domain.Service
}

// NewMemoryRepository returns an empty in-memory registry repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{services: make(map[string]*domain.Service)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[id].Clone(), nil
}

func (r *MemoryRepository) Save(ctx context.Context, s *domain.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*domain.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s.Clone())
	}
	return out, nil
}
