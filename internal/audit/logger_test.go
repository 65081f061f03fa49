package audit

import (
	"context"
	"errors"
	"testing"

	"x402-delegation/backend/internal/audit/domain"
)

// mockAuditRepo implements the audit repository interface for tests.
type mockAuditRepo struct {
	entries   []*domain.AuditLog
	createErr error
}

func (m *mockAuditRepo) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	return nil, nil
}

func (m *mockAuditRepo) List(ctx context.Context, resource string, limit, offset int32) ([]*domain.AuditLog, error) {
	return m.entries, nil
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func TestLogger_LogEvent(t *testing.T) {
	repo := &mockAuditRepo{}
	l := NewLogger(repo, func(context.Context) string { return "10.0.0.1" })

	l.LogEvent(context.Background(), Entry{Actor: "operator", Action: "revoke", Resource: "delegation_session", ResourceID: "s1", Status: 204})

	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(repo.entries))
	}
	e := repo.entries[0]
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Error("id and created_at must be set")
	}
	if e.Actor != "operator" || e.IP != "10.0.0.1" || e.ResourceID != "s1" {
		t.Errorf("entry = %+v", e)
	}
}

func TestLogger_DefaultsActorAndIP(t *testing.T) {
	repo := &mockAuditRepo{}
	NewLogger(repo, nil).LogEvent(context.Background(), Entry{Action: "register", Resource: "registry_service"})
	e := repo.entries[0]
	if e.Actor != SystemActor {
		t.Errorf("actor = %q, want %q", e.Actor, SystemActor)
	}
	if e.IP != "unknown" {
		t.Errorf("ip = %q, want unknown", e.IP)
	}
}

func TestLogger_CreateErrorIsSwallowed(t *testing.T) {
	repo := &mockAuditRepo{createErr: errors.New("db down")}
	NewLogger(repo, nil).LogEvent(context.Background(), Entry{Action: "x", Resource: "y"})
	if len(repo.entries) != 0 {
		t.Errorf("entries = %d, want 0", len(repo.entries))
	}
}

func TestLogger_NilRepoNoop(t *testing.T) {
	var l *Logger
	l.LogEvent(context.Background(), Entry{Action: "x"})
	NewLogger(nil, nil).LogEvent(context.Background(), Entry{Action: "x"})
}
