// Package observe provides application-wide observability primitives for
// Argus: OpenTelemetry metrics, tracing setup, and structured logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Argus metrics.
const meterName = "github.com/argushq/argus"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ResolveDuration tracks how long audio source resolution takes per
	// camera, including all failed candidate probes.
	ResolveDuration metric.Float64Histogram

	// TranscribeDuration tracks wake-loop transcription latency.
	TranscribeDuration metric.Float64Histogram

	// AnalyzeDuration tracks vision service round-trip latency.
	AnalyzeDuration metric.Float64Histogram

	// ToolDuration tracks agent tool execution latency.
	ToolDuration metric.Float64Histogram

	// --- Counters ---

	// ResolveAttempts counts audio candidate probes. Use with attributes:
	//   attribute.String("camera", ...), attribute.String("status", ...)
	ResolveAttempts metric.Int64Counter

	// WakeDetections counts wake-phrase matches per camera.
	WakeDetections metric.Int64Counter

	// Captures counts snapshot analysis rounds. Use with attributes:
	//   attribute.String("camera", ...), attribute.String("status", ...)
	Captures metric.Int64Counter

	// Alarms counts alarm-level detections per camera.
	Alarms metric.Int64Counter

	// ToolCalls counts agent tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ProviderErrors counts provider failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCameras tracks the number of attached camera supervisors.
	ActiveCameras metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// probe, transcription, and vision round-trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResolveDuration, err = m.Float64Histogram("argus.resolve.duration",
		metric.WithDescription("Latency of audio source resolution per camera."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("argus.transcribe.duration",
		metric.WithDescription("Latency of wake-loop chunk transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalyzeDuration, err = m.Float64Histogram("argus.analyze.duration",
		metric.WithDescription("Latency of vision service snapshot analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("argus.tool.duration",
		metric.WithDescription("Latency of agent tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ResolveAttempts, err = m.Int64Counter("argus.resolve.attempts",
		metric.WithDescription("Total audio candidate probes by camera and status."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("argus.wake.detections",
		metric.WithDescription("Total wake-phrase detections by camera."),
	); err != nil {
		return nil, err
	}
	if met.Captures, err = m.Int64Counter("argus.captures",
		metric.WithDescription("Total snapshot analysis rounds by camera and status."),
	); err != nil {
		return nil, err
	}
	if met.Alarms, err = m.Int64Counter("argus.alarms",
		metric.WithDescription("Total alarm-level detections by camera."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("argus.tool.calls",
		metric.WithDescription("Total agent tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("argus.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCameras, err = m.Int64UpDownCounter("argus.active_cameras",
		metric.WithDescription("Number of attached camera supervisors."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("argus.active_sessions",
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

// RecordResolveAttempt records one audio candidate probe.
func (m *Metrics) RecordResolveAttempt(ctx context.Context, camera, status string) {
	m.ResolveAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("camera", camera),
			attribute.String("status", status),
		),
	)
}

// RecordCapture records one snapshot analysis round.
func (m *Metrics) RecordCapture(ctx context.Context, camera, status string) {
	m.Captures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("camera", camera),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall records one agent tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
