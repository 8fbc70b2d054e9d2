// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Detector ---

	// Chunks counts processed chunks. Use with attribute:
	//   attribute.String("class", ...) // calibrating, silence, speech, utterance
	Chunks metric.Int64Counter

	// ChunkDuration tracks how long one ProcessFrame call takes.
	ChunkDuration metric.Float64Histogram

	// Utterances counts extracted utterances.
	Utterances metric.Int64Counter

	// UtteranceDuration tracks the audio length of extracted utterances.
	UtteranceDuration metric.Float64Histogram

	// ExtractionsAbandoned counts triggers whose boundary trims crossed.
	ExtractionsAbandoned metric.Int64Counter

	// NoiseFloor reports the detector's current noise floor estimate.
	NoiseFloor metric.Float64Gauge

	// --- Sources and sinks ---

	// SourceErrors counts source read failures other than end of stream.
	SourceErrors metric.Int64Counter

	// SinkWrites counts utterance deliveries. Use with attributes:
	//   attribute.String("sink", ...), attribute.String("status", ...)
	SinkWrites metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// chunkBuckets are histogram boundaries (in seconds) for per-chunk DSP work.
var chunkBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025,
}

// utteranceBuckets are histogram boundaries (in seconds) for utterance length.
var utteranceBuckets = []float64{
	0.25, 0.5, 1, 1.5, 2, 3, 4, 6, 8, 12,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Detector.
	if met.Chunks, err = m.Int64Counter("earshot.detector.chunks",
		metric.WithDescription("Total chunks processed by classification."),
	); err != nil {
		return nil, err
	}
	if met.ChunkDuration, err = m.Float64Histogram("earshot.detector.chunk.duration",
		metric.WithDescription("Time spent processing one chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(chunkBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("earshot.detector.utterances",
		metric.WithDescription("Total utterances extracted."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("earshot.utterance.duration",
		metric.WithDescription("Audio length of extracted utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionsAbandoned, err = m.Int64Counter("earshot.detector.extractions_abandoned",
		metric.WithDescription("Total extractions abandoned because no speech majority was found."),
	); err != nil {
		return nil, err
	}
	if met.NoiseFloor, err = m.Float64Gauge("earshot.detector.noise_floor",
		metric.WithDescription("Current smoothed noise floor (square-root power domain)."),
	); err != nil {
		return nil, err
	}

	// Sources and sinks.
	if met.SourceErrors, err = m.Int64Counter("earshot.source.errors",
		metric.WithDescription("Total audio source read failures."),
	); err != nil {
		return nil, err
	}
	if met.SinkWrites, err = m.Int64Counter("earshot.sink.writes",
		metric.WithDescription("Total utterance deliveries by sink and status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordChunk records one processed chunk with its classification and
// processing time.
func (m *Metrics) RecordChunk(ctx context.Context, class string, seconds float64) {
	m.Chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
	m.ChunkDuration.Record(ctx, seconds)
}

// RecordUtterance records one extracted utterance of the given length.
func (m *Metrics) RecordUtterance(ctx context.Context, seconds float64) {
	m.Utterances.Add(ctx, 1)
	m.UtteranceDuration.Record(ctx, seconds)
}

// RecordSinkWrite records one utterance delivery attempt.
func (m *Metrics) RecordSinkWrite(ctx context.Context, sink, status string) {
	m.SinkWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("status", status),
		),
	)
}
