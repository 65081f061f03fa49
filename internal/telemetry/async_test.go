package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"x402-delegation/backend/internal/telemetry/domain"
)

// mockEventEmitter records emitted events. A non-zero delay blocks Emit until it elapses or ctx ends.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Event(nil), m.events...)
}

func TestEmitAsync_NilArguments(t *testing.T) {
	EmitAsync(nil, context.Background(), &domain.Event{EventType: domain.TypeTokenValidated})

	m := &mockEventEmitter{}
	EmitAsync(m, context.Background(), nil)
	time.Sleep(10 * time.Millisecond)
	if n := len(m.getEvents()); n != 0 {
		t.Errorf("nil event emitted %d events", n)
	}
}

func TestEmitAsync_DetachedFromRequestContext(t *testing.T) {
	m := &mockEventEmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(m, ctx, &domain.Event{
		EventType: domain.TypeSessionRevoked,
		SessionID: "3f1c",
		Issuer:    "solana:issuer",
	})

	events := waitForEvents(t, m, 1)
	if events[0].SessionID != "3f1c" || events[0].Issuer != "solana:issuer" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestEmitAsync_ErrorDoesNotReachCaller(t *testing.T) {
	m := &mockEventEmitter{emitErr: errors.New("broker down")}
	EmitAsync(m, context.Background(), &domain.Event{EventType: domain.TypeUsageRecorded})
	waitForEvents(t, m, 1)
}

func TestEmitAsync_Concurrent(t *testing.T) {
	m := &mockEventEmitter{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(m, context.Background(), &domain.Event{EventType: domain.TypeTokenRejected})
		}()
	}
	wg.Wait()
	waitForEvents(t, m, 10)
}

func TestShutdownDrainCoversEmitTimeout(t *testing.T) {
	if ShutdownDrainDuration < emitTimeout {
		t.Errorf("ShutdownDrainDuration %v < emitTimeout %v", ShutdownDrainDuration, emitTimeout)
	}
}
