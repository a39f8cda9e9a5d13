// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing helpers, and the SDK wiring that exposes
// both through the standard /metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported via
// the Prometheus bridge configured in [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/renovox/renovox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMFirstToken tracks time from LLM request to first streamed token.
	LLMFirstToken metric.Float64Histogram

	// LLMDuration tracks total LLM streaming latency per turn.
	LLMDuration metric.Float64Histogram

	// TTSFirstChunk tracks time from synthesis request to first audio chunk.
	TTSFirstChunk metric.Float64Histogram

	// ModerationDuration tracks remote moderation check latency.
	ModerationDuration metric.Float64Histogram

	// TurnDuration tracks end-of-utterance to first TTS audio latency.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed pipeline turns. Use with attributes:
	//   attribute.String("persona", ...), attribute.String("status", ...)
	Turns metric.Int64Counter

	// BargeIns counts user interruptions of agent speech.
	BargeIns metric.Int64Counter

	// GuardrailBlocks counts blocked texts. Use with attributes:
	//   attribute.String("direction", "input"|"output"), attribute.String("category", ...)
	GuardrailBlocks metric.Int64Counter

	// Handoffs counts persona transfers. Use with attribute:
	//   attribute.String("target", ...)
	Handoffs metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "renovox.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMFirstToken, "renovox.llm.first_token", "Time to first streamed LLM token."},
		{&met.LLMDuration, "renovox.llm.duration", "Total LLM streaming latency per turn."},
		{&met.TTSFirstChunk, "renovox.tts.first_chunk", "Time to first synthesised audio chunk."},
		{&met.ModerationDuration, "renovox.moderation.duration", "Latency of remote moderation checks."},
		{&met.TurnDuration, "renovox.turn.duration", "End-of-utterance to first agent audio latency."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.Turns, err = m.Int64Counter("renovox.turns",
		metric.WithDescription("Completed pipeline turns by persona and status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("renovox.barge_ins",
		metric.WithDescription("User interruptions of agent speech."),
	); err != nil {
		return nil, err
	}
	if met.GuardrailBlocks, err = m.Int64Counter("renovox.guardrail.blocks",
		metric.WithDescription("Texts blocked by the guardrail by direction and category."),
	); err != nil {
		return nil, err
	}
	if met.Handoffs, err = m.Int64Counter("renovox.handoffs",
		metric.WithDescription("Persona transfers by target."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("renovox.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("renovox.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records a completed turn with the standard attribute set.
func (m *Metrics) RecordTurn(ctx context.Context, persona, status string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("persona", persona),
			attribute.String("status", status),
		),
	)
}

// RecordGuardrailBlock records a guardrail block by direction and category.
func (m *Metrics) RecordGuardrailBlock(ctx context.Context, direction, category string) {
	m.GuardrailBlocks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("category", category),
		),
	)
}

// RecordHandoff records a persona transfer.
func (m *Metrics) RecordHandoff(ctx context.Context, target string) {
	m.Handoffs.Add(ctx, 1,
		metric.WithAttributes(attribute.String("target", target)),
	)
}

// RecordProviderError records a provider error by provider and kind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
