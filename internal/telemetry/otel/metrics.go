package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"x402-delegation/backend/internal/delegation/events"
)

// Metrics records delegation pipeline counters on an OTel meter.
type Metrics struct {
	events.Nop

	validated     metric.Int64Counter
	rejected      metric.Int64Counter
	sessions      metric.Int64UpDownCounter
	revoked       metric.Int64Counter
	usage         metric.Int64Counter
	executionTime metric.Int64Histogram
}

var _ events.Handler = (*Metrics)(nil)

// NewMetrics creates the delegation instruments on provider's "x402.delegation" meter.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("x402.delegation")
	m := &Metrics{}
	var err error
	if m.validated, err = meter.Int64Counter("x402.tokens.validated", metric.WithDescription("Capability tokens that passed validation")); err != nil {
		return nil, err
	}
	if m.rejected, err = meter.Int64Counter("x402.tokens.rejected", metric.WithDescription("Capability tokens rejected, by code")); err != nil {
		return nil, err
	}
	if m.sessions, err = meter.Int64UpDownCounter("x402.sessions.active", metric.WithDescription("Sessions created minus sessions revoked")); err != nil {
		return nil, err
	}
	if m.revoked, err = meter.Int64Counter("x402.sessions.revoked"); err != nil {
		return nil, err
	}
	if m.usage, err = meter.Int64Counter("x402.usage.records", metric.WithDescription("Recorded capability invocations")); err != nil {
		return nil, err
	}
	if m.executionTime, err = meter.Int64Histogram("x402.usage.execution_time", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) TokenValidated(ctx context.Context, _ events.TokenValidated) {
	m.validated.Add(ctx, 1)
}

func (m *Metrics) TokenRejected(ctx context.Context, e events.TokenRejected) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(e.Code))))
}

func (m *Metrics) SessionCreated(ctx context.Context, _ events.SessionCreated) {
	m.sessions.Add(ctx, 1)
}

func (m *Metrics) SessionRevoked(ctx context.Context, _ events.SessionRevoked) {
	m.sessions.Add(ctx, -1)
	m.revoked.Add(ctx, 1)
}

func (m *Metrics) UsageRecorded(ctx context.Context, e events.UsageRecorded) {
	attrs := metric.WithAttributes(attribute.String("capability", e.Capability), attribute.String("result", e.Result))
	m.usage.Add(ctx, 1, attrs)
	m.executionTime.Record(ctx, e.ExecutionTimeMs, attrs)
}
