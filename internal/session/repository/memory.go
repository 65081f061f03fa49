package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"x402-delegation/backend/internal/session/domain"
)

// MemoryRepository keeps sessions in process. Stored values are copied in and out.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id].Clone(), nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return false, nil
	}
	r.sessions[s.ID] = s.Clone()
	return true, nil
}

func (r *MemoryRepository) Touch(ctx context.Context, id string, at time.Time, maxUses *int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[id]
	if !ok || !cur.Active {
		return false, nil
	}
	if maxUses != nil && cur.UsageCount+1 >= *maxUses {
		return false, nil
	}
	cur.UsageCount++
	cur.LastUsed = at
	return true, nil
}

func (r *MemoryRepository) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[id]; ok {
		cur.Active = false
	}
	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*domain.Session, error) {
	r.mu.RLock()
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) CountActive(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.Active {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.LastUsed.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}
