package repository

import (
	"context"
	"sync"

	"x402-delegation/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process in insertion order.
type MemoryRepository struct {
	mu   sync.RWMutex
	logs []*domain.AuditLog
}

// NewMemoryRepository returns an empty in-memory audit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.logs {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) List(ctx context.Context, resource string, limit, offset int32) ([]*domain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.AuditLog
	skipped := int32(0)
	for i := len(r.logs) - 1; i >= 0 && (limit <= 0 || int32(len(out)) < limit); i-- {
		a := r.logs[i]
		if resource != "" && a.Resource != resource {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.logs = append(r.logs, &c)
	return nil
}
