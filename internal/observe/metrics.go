// Package observe provides application-wide observability primitives for the
// conversation ingestion service: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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
const meterName = "github.com/anantham/live-conversational-threads-sub000"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks the latency of an outbound STT provider POST.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks the latency of an outbound LLM completion call.
	LLMDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time.
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts outbound STT/LLM provider calls. Attributes:
	// provider ("stt"|"llm"), status ("ok"|"error"|"timeout").
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts recoverable provider errors by stage.
	ProviderErrors metric.Int64Counter

	// ChunksEmitted counts chunks emitted by the accumulator.
	ChunksEmitted metric.Int64Counter

	// NodesUpserted counts graph node upserts performed by the LLM graph
	// builder.
	NodesUpserted metric.Int64Counter

	// SpeakerUpdates counts diarization revisions emitted by the
	// reconciler.
	SpeakerUpdates metric.Int64Counter

	// SubscriberDrops counts hub subscribers disconnected for exceeding
	// their bounded send queue.
	SubscriberDrops metric.Int64Counter

	// AudioFramesDropped counts ingress audio frames dropped due to
	// per-session backpressure.
	AudioFramesDropped metric.Int64Counter

	// ProcessingWarnings counts processing_status warning/error events
	// emitted to subscribers, by stage and level.
	ProcessingWarnings metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HubSubscribers tracks the number of connected hub subscribers across
	// all sessions.
	HubSubscribers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider-call and request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("convo.stt.duration",
		metric.WithDescription("Latency of outbound speech-to-text provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("convo.llm.duration",
		metric.WithDescription("Latency of outbound LLM completion calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("convo.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("convo.provider.requests",
		metric.WithDescription("Total outbound provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("convo.provider.errors",
		metric.WithDescription("Total recoverable provider errors by stage."),
	); err != nil {
		return nil, err
	}
	if met.ChunksEmitted, err = m.Int64Counter("convo.chunks.emitted",
		metric.WithDescription("Total chunks emitted by the transcript accumulator."),
	); err != nil {
		return nil, err
	}
	if met.NodesUpserted, err = m.Int64Counter("convo.nodes.upserted",
		metric.WithDescription("Total graph node upserts performed by the LLM graph builder."),
	); err != nil {
		return nil, err
	}
	if met.SpeakerUpdates, err = m.Int64Counter("convo.speaker_updates.emitted",
		metric.WithDescription("Total diarization speaker revisions emitted."),
	); err != nil {
		return nil, err
	}
	if met.SubscriberDrops, err = m.Int64Counter("convo.hub.subscriber_drops",
		metric.WithDescription("Total hub subscribers disconnected for queue overflow."),
	); err != nil {
		return nil, err
	}
	if met.AudioFramesDropped, err = m.Int64Counter("convo.ingress.audio_frames_dropped",
		metric.WithDescription("Total audio frames dropped due to per-session backpressure."),
	); err != nil {
		return nil, err
	}
	if met.ProcessingWarnings, err = m.Int64Counter("convo.processing_status.warnings",
		metric.WithDescription("Total processing_status warning/error events emitted, by stage."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("convo.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}
	if met.HubSubscribers, err = m.Int64UpDownCounter("convo.hub.subscribers",
		metric.WithDescription("Number of connected hub subscribers across all sessions."),
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

// RecordProviderRequest records a provider request counter increment.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment by stage.
func (m *Metrics) RecordProviderError(ctx context.Context, stage string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordProcessingWarning records a processing_status warning/error emission
// by stage and level.
func (m *Metrics) RecordProcessingWarning(ctx context.Context, stage, level string) {
	m.ProcessingWarnings.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("level", level),
		),
	)
}
