// Package observe provides observability primitives for the voxtale core:
// OpenTelemetry metrics, tracing helpers, and the Prometheus exporter
// bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via a standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all voxtale metrics.
const meterName = "github.com/voxtale/voxtale"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ChatDuration tracks the chat request round-trip latency.
	ChatDuration metric.Float64Histogram

	// ResolveDuration tracks character profile resolution latency,
	// including fallback tiers. Cache hits are not recorded.
	ResolveDuration metric.Float64Histogram

	// SynthesisDuration tracks the network phase of a synthesis request,
	// from submit until the last push event is consumed.
	SynthesisDuration metric.Float64Histogram

	// FirstChunkDelay tracks the time from synthesis submit to the first
	// playable audio chunk.
	FirstChunkDelay metric.Float64Histogram

	// --- Counters ---

	// BackendRequests counts backend API calls. Use with attributes:
	//   attribute.String("endpoint", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// BackendRetries counts retry attempts made by the API client.
	BackendRetries metric.Int64Counter

	// DroppedFrames counts decoded frames discarded because the buffer
	// queue was full.
	DroppedFrames metric.Int64Counter

	// SkippedEvents counts push events that were not enqueued. Use with
	// attribute.String("reason", "malformed"|"final_merged"|"decode").
	SkippedEvents metric.Int64Counter

	// EngineRebuilds counts audio engine teardown/rebuild cycles.
	EngineRebuilds metric.Int64Counter

	// --- Gauges ---

	// BufferedFrames tracks the current buffer queue depth.
	BufferedFrames metric.Int64UpDownCounter

	// ActiveSynthesis tracks in-flight synthesis sessions (0 or 1 by
	// design; values above 1 indicate a single-flight violation).
	ActiveSynthesis metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ChatDuration, err = m.Float64Histogram("voxtale.chat.duration",
		metric.WithDescription("Chat request round-trip latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResolveDuration, err = m.Float64Histogram("voxtale.resolve.duration",
		metric.WithDescription("Character profile resolution latency (cache misses only)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("voxtale.synthesis.duration",
		metric.WithDescription("Network phase duration of a synthesis request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstChunkDelay, err = m.Float64Histogram("voxtale.synthesis.first_chunk_delay",
		metric.WithDescription("Time from synthesis submit to first playable chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BackendRequests, err = m.Int64Counter("voxtale.backend.requests",
		metric.WithDescription("Backend API requests by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendRetries, err = m.Int64Counter("voxtale.backend.retries",
		metric.WithDescription("Retry attempts made by the API client."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("voxtale.playback.dropped_frames",
		metric.WithDescription("Decoded frames dropped because the buffer queue was full."),
	); err != nil {
		return nil, err
	}
	if met.SkippedEvents, err = m.Int64Counter("voxtale.synthesis.skipped_events",
		metric.WithDescription("Push events not enqueued, by reason."),
	); err != nil {
		return nil, err
	}
	if met.EngineRebuilds, err = m.Int64Counter("voxtale.playback.engine_rebuilds",
		metric.WithDescription("Audio engine teardown/rebuild cycles."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.BufferedFrames, err = m.Int64UpDownCounter("voxtale.playback.buffered_frames",
		metric.WithDescription("Current buffer queue depth."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSynthesis, err = m.Int64UpDownCounter("voxtale.synthesis.active",
		metric.WithDescription("In-flight synthesis sessions."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordBackendRequest records a backend API call with the standard
// attribute set.
func (m *Metrics) RecordBackendRequest(ctx context.Context, endpoint, status string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", status),
		),
	)
}

// RecordSkippedEvent records a push event that was not enqueued.
func (m *Metrics) RecordSkippedEvent(ctx context.Context, reason string) {
	m.SkippedEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
