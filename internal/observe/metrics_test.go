package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func metricNames(rm metricdata.ResourceMetrics) map[string]bool {
	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.STTDuration.Record(ctx, 0.4)
	m.LLMFirstToken.Record(ctx, 0.2)
	m.LLMDuration.Record(ctx, 1.1)
	m.TTSFirstChunk.Record(ctx, 0.3)
	m.ModerationDuration.Record(ctx, 0.1)
	m.TurnDuration.Record(ctx, 1.8)
	m.RecordTurn(ctx, "bob", "ok")
	m.BargeIns.Add(ctx, 1)
	m.RecordGuardrailBlock(ctx, "input", "blocklist_match")
	m.RecordHandoff(ctx, "alice")
	m.RecordProviderError(ctx, "openai", "stt")
	m.ActiveSessions.Add(ctx, 1)

	names := metricNames(collect(t, reader))
	for _, want := range []string{
		"renovox.stt.duration",
		"renovox.llm.first_token",
		"renovox.llm.duration",
		"renovox.tts.first_chunk",
		"renovox.moderation.duration",
		"renovox.turn.duration",
		"renovox.turns",
		"renovox.barge_ins",
		"renovox.guardrail.blocks",
		"renovox.handoffs",
		"renovox.provider.errors",
		"renovox.active_sessions",
	} {
		if !names[want] {
			t.Errorf("metric %q not recorded", want)
		}
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Fatal("DefaultMetrics returned different instances")
	}
}
