// Package service implements the delegation session manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	capdomain "x402-delegation/backend/internal/capability/domain"
	"x402-delegation/backend/internal/platform/keylock"
	"x402-delegation/backend/internal/security"
	"x402-delegation/backend/internal/session/domain"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// ErrUsageExhausted is returned by GetOrCreate when the token's max_uses is already consumed.
var ErrUsageExhausted = errors.New("session usage limit reached")

// Repository is the persistence the manager needs.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) (bool, error)
	Touch(ctx context.Context, id string, at time.Time, maxUses *int) (bool, error)
	Deactivate(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Session, error)
	CountActive(ctx context.Context) (int, error)
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Manager maps token identities to sessions. Mutations of one session id are serialized.
type Manager struct {
	repo  Repository
	locks *keylock.Table
	nowF  func() time.Time
}

// NewManager returns a session manager backed by repo.
func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo, locks: keylock.New(), nowF: time.Now}
}

// SessionID is the hex SHA-256 of issuer:delegate:nonce.
func SessionID(token *capdomain.CapabilityToken) string {
	return security.Fingerprint(token.Issuer, token.Delegate, token.Nonce)
}

// Lookup returns the session for token without mutating it, or nil if none exists.
func (m *Manager) Lookup(ctx context.Context, token *capdomain.CapabilityToken) (*domain.Session, error) {
	return m.repo.GetByID(ctx, SessionID(token))
}

// GetOrCreate returns the session for token, creating it active with zero usage on first sight.
// An existing active session has last_used and usage_count bumped, unless that would exceed the
// token's max_uses, in which case ErrUsageExhausted is returned. The limit check and the bump are
// one repository step. An inactive session is returned unchanged so the caller can report
// revocation. created reports a new session.
func (m *Manager) GetOrCreate(ctx context.Context, token *capdomain.CapabilityToken) (s *domain.Session, created bool, err error) {
	id := SessionID(token)
	unlock := m.locks.Lock(id)
	defer unlock()

	now := m.nowF().UTC()
	maxUses := token.Constraints.MaxUses
	s, err = m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		if maxUses != nil && *maxUses <= 0 {
			return nil, false, ErrUsageExhausted
		}
		s = &domain.Session{ID: id, Token: token, CreatedAt: now, LastUsed: now, Active: true}
		ok, err := m.repo.Create(ctx, s)
		if err != nil {
			return nil, false, fmt.Errorf("create session: %w", err)
		}
		if ok {
			return s, true, nil
		}
		// Another writer created it first; count this use against that row.
	} else if !s.Active {
		return s, false, nil
	}

	ok, err := m.repo.Touch(ctx, id, now, maxUses)
	if err != nil {
		return nil, false, fmt.Errorf("touch session: %w", err)
	}
	s, err = m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return nil, false, ErrSessionNotFound
	}
	if !ok && s.Active {
		return s, false, ErrUsageExhausted
	}
	return s, false, nil
}

// Revoke deactivates the session. Later validations for it fail even before the token expires.
func (m *Manager) Revoke(ctx context.Context, id string) (*domain.Session, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if !s.Active {
		return s, nil
	}
	if err := m.repo.Deactivate(ctx, id); err != nil {
		return nil, fmt.Errorf("revoke session: %w", err)
	}
	s.Active = false
	return s, nil
}

// Get returns the session for id or ErrSessionNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	s, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns every session ordered by creation time.
func (m *Manager) List(ctx context.Context) ([]*domain.Session, error) {
	return m.repo.List(ctx)
}

// CountActive returns how many sessions are not revoked.
func (m *Manager) CountActive(ctx context.Context) (int, error) {
	return m.repo.CountActive(ctx)
}

// Cleanup removes sessions idle for longer than domain.IdleTTL, active or not.
func (m *Manager) Cleanup(ctx context.Context, now time.Time) (int, error) {
	return m.repo.DeleteIdleBefore(ctx, now.Add(-domain.IdleTTL))
}
