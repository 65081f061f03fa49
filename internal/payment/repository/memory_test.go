package repository

import (
	"context"
	"testing"
	"time"

	"x402-delegation/backend/internal/payment/domain"
)

func TestMemoryRepository_UpdateIf(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	if err := r.Create(ctx, &domain.Session{ID: "p1", Status: domain.StatusPending, ExpiresAt: now.Add(domain.SessionTTL)}); err != nil {
		t.Fatal(err)
	}

	first := &domain.Session{ID: "p1", Status: domain.StatusProcessing}
	if ok, err := r.UpdateIf(ctx, first, domain.StatusPending); err != nil || !ok {
		t.Fatalf("UpdateIf pending = %v, %v", ok, err)
	}
	second := &domain.Session{ID: "p1", Status: domain.StatusFailed}
	if ok, _ := r.UpdateIf(ctx, second, domain.StatusPending); ok {
		t.Error("UpdateIf should lose once the session left pending")
	}
	if ok, _ := r.UpdateIf(ctx, &domain.Session{ID: "missing"}, domain.StatusPending); ok {
		t.Error("UpdateIf of a missing session should report false")
	}

	got, _ := r.Get(ctx, "p1")
	if got.Status != domain.StatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
}
