package repository

import (
	"context"
	"sync"
	"time"

	"x402-delegation/backend/internal/usage/domain"
)

// MemoryRepository keeps usage records in process, in append order.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []domain.Record
}

// NewMemoryRepository returns an empty in-memory usage log.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(ctx context.Context, rec *domain.Record) error {
	r.mu.Lock()
	r.records = append(r.records, *rec)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) CountSince(ctx context.Context, sessionID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for i := range r.records {
		if r.records[i].SessionID == sessionID && !r.records[i].UsedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountResult(ctx context.Context, sessionID string, result domain.Result) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for i := range r.records {
		if r.records[i].SessionID == sessionID && r.records[i].Result == result {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListBySession(ctx context.Context, sessionID string) ([]*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Record
	for i := range r.records {
		if r.records[i].SessionID == sessionID {
			rec := r.records[i]
			out = append(out, &rec)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Total(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}

func (r *MemoryRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.records[:0]
	for _, rec := range r.records {
		if !rec.UsedAt.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	removed := len(r.records) - len(kept)
	r.records = kept
	return removed, nil
}
