package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"x402-delegation/backend/internal/usage/domain"
	"x402-delegation/backend/internal/usage/repository"
)

func TestRecorder_CountsAndWindow(t *testing.T) {
	r := NewRecorder(repository.NewMemoryRepository())
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	recs := []*domain.Record{
		{SessionID: "s1", Capability: "chat", UsedAt: base.Add(-90 * time.Second)},
		{SessionID: "s1", Capability: "chat", UsedAt: base.Add(-30 * time.Second)},
		{SessionID: "s1", Capability: "chat", UsedAt: base, Result: domain.ResultDenied},
		{SessionID: "s2", Capability: "chat", UsedAt: base},
	}
	for _, rec := range recs {
		if err := r.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if n, _ := r.CountSince(ctx, "s1", base.Add(-time.Minute)); n != 2 {
		t.Errorf("CountSince last minute = %d, want 2", n)
	}
	if n, _ := r.Count(ctx, "s1"); n != 2 {
		t.Errorf("Count successes = %d, want 2", n)
	}
	if n, _ := r.Total(ctx); n != 4 {
		t.Errorf("Total = %d, want 4", n)
	}
	list, _ := r.List(ctx, "s1")
	if len(list) != 3 || list[2].Result != domain.ResultDenied {
		t.Errorf("List = %v", list)
	}
}

func TestRecorder_StampsDefaults(t *testing.T) {
	r := NewRecorder(repository.NewMemoryRepository())
	fixed := time.Unix(1700000000, 0).UTC()
	r.nowF = func() time.Time { return fixed }
	rec := &domain.Record{SessionID: "s1", Capability: "chat"}
	if err := r.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !rec.UsedAt.Equal(fixed) || rec.Result != domain.ResultSuccess {
		t.Errorf("record = %+v", rec)
	}
	if err := r.Record(context.Background(), &domain.Record{Capability: "chat"}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("missing session: want ErrInvalidRecord, got %v", err)
	}
}

func TestRecorder_CleanupUsesRecordTimestamp(t *testing.T) {
	r := NewRecorder(repository.NewMemoryRepository())
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	_ = r.Record(ctx, &domain.Record{SessionID: "s1", Capability: "chat", UsedAt: base.Add(-61 * time.Minute)})
	_ = r.Record(ctx, &domain.Record{SessionID: "s1", Capability: "chat", UsedAt: base.Add(-59 * time.Minute)})

	n, err := r.Cleanup(ctx, base)
	if err != nil || n != 1 {
		t.Fatalf("Cleanup = %d, %v", n, err)
	}
	if total, _ := r.Total(ctx); total != 1 {
		t.Errorf("Total = %d, want 1", total)
	}
}
