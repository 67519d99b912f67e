// Package observe provides application-wide observability primitives for
// voicerouter: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all voicerouter metrics.
const meterName = "github.com/sayverb/voicerouter"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// FrameLatency tracks per-frame KWS pipeline processing latency.
	FrameLatency metric.Float64Histogram

	// ASRDuration tracks batch ASR transcription latency.
	ASRDuration metric.Float64Histogram

	// SpeechSegmentDuration tracks the duration of VAD-bounded speech segments.
	SpeechSegmentDuration metric.Float64Histogram

	// --- Counters ---

	// KeywordFires counts keyword detections. Use with attribute:
	//   attribute.String("keyword", ...)
	KeywordFires metric.Int64Counter

	// KeywordScores records the raw per-keyword score on every embedding
	// window, regardless of threshold. Use with attribute:
	//   attribute.String("keyword", ...)
	KeywordScores metric.Float64Histogram

	// ResolutionOutcomes counts matcher outcomes. Use with attribute:
	//   attribute.String("outcome", ...) // unique|ambiguous|no_match|misconfiguration
	ResolutionOutcomes metric.Int64Counter

	// ActionExecutions counts action executor outcomes. Use with attribute:
	//   attribute.String("status", ...) // ok|error
	ActionExecutions metric.Int64Counter

	// --- Gauges ---

	// ActiveRequests tracks the number of in-flight engine requests (0 or 1
	// in the current single-request model, but expressed as a gauge so a
	// future multi-tab host can share the same instrument).
	ActiveRequests metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for sub-200ms pipeline latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameLatency, err = m.Float64Histogram("voicerouter.frame.latency",
		metric.WithDescription("Per-frame KWS pipeline processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ASRDuration, err = m.Float64Histogram("voicerouter.asr.duration",
		metric.WithDescription("Latency of batch ASR transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechSegmentDuration, err = m.Float64Histogram("voicerouter.vad.speech_segment.duration",
		metric.WithDescription("Duration of VAD-bounded speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.KeywordScores, err = m.Float64Histogram("voicerouter.kws.score",
		metric.WithDescription("Raw per-keyword classifier score, published unconditionally for live metering."),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.KeywordFires, err = m.Int64Counter("voicerouter.kws.fires",
		metric.WithDescription("Total keyword detections by keyword."),
	); err != nil {
		return nil, err
	}
	if met.ResolutionOutcomes, err = m.Int64Counter("voicerouter.matcher.outcomes",
		metric.WithDescription("Total matcher resolution outcomes by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActionExecutions, err = m.Int64Counter("voicerouter.action.executions",
		metric.WithDescription("Total action executions by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRequests, err = m.Int64UpDownCounter("voicerouter.active_requests",
		metric.WithDescription("Number of in-flight engine requests."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicerouter.http.request.duration",
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

// RecordKeywordFire is a convenience method that records a keyword
// detection counter increment.
func (m *Metrics) RecordKeywordFire(ctx context.Context, keyword string) {
	m.KeywordFires.Add(ctx, 1, metric.WithAttributes(attribute.String("keyword", keyword)))
}

// RecordKeywordScore records a raw per-keyword classifier score.
func (m *Metrics) RecordKeywordScore(ctx context.Context, keyword string, score float64) {
	m.KeywordScores.Record(ctx, score, metric.WithAttributes(attribute.String("keyword", keyword)))
}

// RecordResolutionOutcome is a convenience method that records a matcher
// outcome counter increment.
func (m *Metrics) RecordResolutionOutcome(ctx context.Context, outcome string) {
	m.ResolutionOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordActionExecution is a convenience method that records an action
// executor outcome counter increment.
func (m *Metrics) RecordActionExecution(ctx context.Context, status string) {
	m.ActionExecutions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
