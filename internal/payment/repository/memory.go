// Package repository stores payment sessions.
package repository

import (
	"context"
	"sync"
	"time"

	"x402-delegation/backend/internal/payment/domain"
)

// MemoryRepository keeps payment sessions in process. Sessions live for minutes, so they are not persisted.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

func (r *MemoryRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s.Clone()
	return nil
}

// Get returns a copy of the session, or nil if none exists.
func (r *MemoryRepository) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id].Clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		r.sessions[s.ID] = s.Clone()
	}
	return nil
}

// UpdateIf replaces the stored session only while its status is still from.
func (r *MemoryRepository) UpdateIf(_ context.Context, s *domain.Session, from domain.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok || cur.Status != from {
		return false, nil
	}
	r.sessions[s.ID] = s.Clone()
	return true, nil
}

// FindByTransaction returns the session that produced transactionID, or nil.
func (r *MemoryRepository) FindByTransaction(_ context.Context, transactionID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.TransactionID == transactionID {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

// DeleteExpired removes sessions whose deadline is before now.
func (r *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}
