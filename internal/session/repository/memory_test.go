package repository

import (
	"context"
	"testing"
	"time"

	"x402-delegation/backend/internal/session/domain"
)

func TestMemoryRepository_CopiesValues(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	s := &domain.Session{ID: "s1", Active: true}
	if ok, err := r.Create(ctx, s); err != nil || !ok {
		t.Fatalf("Create = %v, %v", ok, err)
	}
	if ok, _ := r.Create(ctx, &domain.Session{ID: "s1"}); ok {
		t.Error("Create must not replace an existing session")
	}
	s.UsageCount = 99
	got, _ := r.GetByID(ctx, "s1")
	if got.UsageCount != 0 {
		t.Errorf("stored session mutated through caller pointer: %d", got.UsageCount)
	}
	got.UsageCount = 5
	again, _ := r.GetByID(ctx, "s1")
	if again.UsageCount != 0 {
		t.Errorf("stored session mutated through returned pointer: %d", again.UsageCount)
	}
	if missing, err := r.GetByID(ctx, "nope"); missing != nil || err != nil {
		t.Errorf("GetByID missing = %v, %v", missing, err)
	}
}

func TestMemoryRepository_DeleteIdleBefore(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	_, _ = r.Create(ctx, &domain.Session{ID: "old", LastUsed: base.Add(-2 * time.Hour), Active: false})
	_, _ = r.Create(ctx, &domain.Session{ID: "fresh", LastUsed: base, Active: true})

	n, err := r.DeleteIdleBefore(ctx, base.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteIdleBefore = %d, %v", n, err)
	}
	list, _ := r.List(ctx)
	if len(list) != 1 || list[0].ID != "fresh" {
		t.Errorf("List = %v", list)
	}
	if n, _ := r.CountActive(ctx); n != 1 {
		t.Errorf("CountActive = %d, want 1", n)
	}
}

func TestMemoryRepository_TouchHonoursLimitAndRevocation(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	at := time.Unix(1700000000, 0)
	_, _ = r.Create(ctx, &domain.Session{ID: "s1", Active: true})
	limit := 3

	// usage_count 0 means one success seen; a limit of 3 allows two more.
	for i := 0; i < 2; i++ {
		if ok, err := r.Touch(ctx, "s1", at, &limit); err != nil || !ok {
			t.Fatalf("Touch %d = %v, %v", i, ok, err)
		}
	}
	if ok, _ := r.Touch(ctx, "s1", at, &limit); ok {
		t.Error("Touch past the limit should not update")
	}
	got, _ := r.GetByID(ctx, "s1")
	if got.UsageCount != 2 || !got.LastUsed.Equal(at) {
		t.Errorf("session = %+v", got)
	}

	if err := r.Deactivate(ctx, "s1"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if ok, _ := r.Touch(ctx, "s1", at, nil); ok {
		t.Error("Touch on a revoked session should not update")
	}
	if ok, _ := r.Touch(ctx, "missing", at, nil); ok {
		t.Error("Touch on a missing session should not update")
	}
}
