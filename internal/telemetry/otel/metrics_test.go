package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"x402-delegation/backend/internal/delegation/events"
	"x402-delegation/backend/internal/platform/errcode"
)

func TestMetrics_RecordsDelegationEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()

	m.TokenValidated(ctx, events.TokenValidated{})
	m.TokenValidated(ctx, events.TokenValidated{})
	m.TokenRejected(ctx, events.TokenRejected{Code: errcode.TokenExpired})
	m.SessionCreated(ctx, events.SessionCreated{})
	m.SessionCreated(ctx, events.SessionCreated{})
	m.SessionRevoked(ctx, events.SessionRevoked{})
	m.UsageRecorded(ctx, events.UsageRecorded{Capability: "chat_completion", Result: "success", ExecutionTimeMs: 4})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	want := map[string]int64{
		"x402.tokens.validated": 2,
		"x402.tokens.rejected":  1,
		"x402.sessions.active":  1,
		"x402.sessions.revoked": 1,
		"x402.usage.records":    1,
	}
	for name, v := range want {
		if sums[name] != v {
			t.Errorf("%s = %d, want %d", name, sums[name], v)
		}
	}
}
