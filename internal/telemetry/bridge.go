package telemetry

import (
	"context"
	"encoding/json"
	"log"

	"x402-delegation/backend/internal/delegation/events"
	"x402-delegation/backend/internal/telemetry/domain"
)

// DelegationEvents forwards typed delegation events to an EventEmitter as telemetry events.
type DelegationEvents struct {
	emitter EventEmitter
	source  string
}

var _ events.Handler = (*DelegationEvents)(nil)

// NewDelegationEvents returns a delegation event handler that emits asynchronously via emitter.
func NewDelegationEvents(emitter EventEmitter, source string) *DelegationEvents {
	return &DelegationEvents{emitter: emitter, source: source}
}

func (d *DelegationEvents) emit(ctx context.Context, ev *domain.Event, meta any) {
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			log.Printf("telemetry: marshal %s metadata: %v", ev.EventType, err)
		} else {
			ev.Metadata = b
		}
	}
	ev.Source = d.source
	EmitAsync(d.emitter, ctx, ev)
}

func (d *DelegationEvents) TokenValidated(ctx context.Context, e events.TokenValidated) {
	d.emit(ctx, &domain.Event{
		EventType: domain.TypeTokenValidated,
		SessionID: e.SessionID,
		Issuer:    e.Issuer,
		Delegate:  e.Delegate,
		CreatedAt: e.At,
	}, map[string]any{
		"capabilities":   e.Capabilities,
		"remaining_uses": e.RemainingUses,
		"time_remaining": e.TimeRemaining,
	})
}

func (d *DelegationEvents) TokenRejected(ctx context.Context, e events.TokenRejected) {
	d.emit(ctx, &domain.Event{
		EventType: domain.TypeTokenRejected,
		SessionID: e.SessionID,
		Issuer:    e.Issuer,
		Delegate:  e.Delegate,
		Code:      string(e.Code),
		CreatedAt: e.At,
	}, map[string]any{"errors": e.Errors})
}

func (d *DelegationEvents) SessionCreated(ctx context.Context, e events.SessionCreated) {
	d.emit(ctx, &domain.Event{
		EventType: domain.TypeSessionCreated,
		SessionID: e.SessionID,
		Issuer:    e.Issuer,
		Delegate:  e.Delegate,
		CreatedAt: e.At,
	}, nil)
}

func (d *DelegationEvents) SessionRevoked(ctx context.Context, e events.SessionRevoked) {
	d.emit(ctx, &domain.Event{
		EventType: domain.TypeSessionRevoked,
		SessionID: e.SessionID,
		CreatedAt: e.At,
	}, nil)
}

func (d *DelegationEvents) UsageRecorded(ctx context.Context, e events.UsageRecorded) {
	d.emit(ctx, &domain.Event{
		EventType: domain.TypeUsageRecorded,
		SessionID: e.SessionID,
		CreatedAt: e.At,
	}, map[string]any{
		"capability":        e.Capability,
		"result":            e.Result,
		"execution_time_ms": e.ExecutionTimeMs,
	})
}
