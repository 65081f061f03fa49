// Package cache stores payment verifications keyed by transaction id for a bounded TTL.
package cache

import (
	"context"
	"sync"
	"time"

	"x402-delegation/backend/internal/payment/domain"
)

// Cache returns fresh verifications only; an entry older than the TTL is a miss.
// Claim records a transaction as redeemed for ttl and reports whether this call was the first.
type Cache interface {
	Get(ctx context.Context, transactionID string) (*domain.Verification, bool, error)
	Put(ctx context.Context, v *domain.Verification) error
	Claim(ctx context.Context, transactionID string, ttl time.Duration) (bool, error)
}

type entry struct {
	v        domain.Verification
	storedAt time.Time
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry
	claims  map[string]time.Time
	nowF    func() time.Time
}

// NewMemory returns an in-process cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]entry), claims: make(map[string]time.Time), nowF: time.Now}
}

func (m *Memory) Get(_ context.Context, transactionID string) (*domain.Verification, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[transactionID]
	m.mu.RUnlock()
	if !ok || m.nowF().Sub(e.storedAt) >= m.ttl {
		return nil, false, nil
	}
	v := e.v
	return &v, true, nil
}

func (m *Memory) Put(_ context.Context, v *domain.Verification) error {
	m.mu.Lock()
	m.entries[v.TransactionID] = entry{v: *v, storedAt: m.nowF()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Claim(_ context.Context, transactionID string, ttl time.Duration) (bool, error) {
	now := m.nowF()
	m.mu.Lock()
	defer m.mu.Unlock()
	if until, ok := m.claims[transactionID]; ok && now.Before(until) {
		return false, nil
	}
	m.claims[transactionID] = now.Add(ttl)
	return true, nil
}

// Prune drops verifications older than the TTL and lapsed claims, and returns how many were removed.
func (m *Memory) Prune(_ context.Context) int {
	now := m.nowF()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if now.Sub(e.storedAt) >= m.ttl {
			delete(m.entries, k)
			n++
		}
	}
	for k, until := range m.claims {
		if !now.Before(until) {
			delete(m.claims, k)
			n++
		}
	}
	return n
}
