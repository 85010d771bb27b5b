// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, structured logging helpers, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up via [InitProvider] so that metrics are scraped
// through the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/lexhound/lexhound"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// DetectionDuration tracks term-extraction LLM latency per utterance.
	DetectionDuration metric.Float64Histogram

	// ExplanationDuration tracks explanation-generation LLM latency per term.
	ExplanationDuration metric.Float64Histogram

	// PipelineLatency tracks end-to-end latency from transcription receipt
	// to explanation delivery.
	PipelineLatency metric.Float64Histogram

	// --- Counters ---

	// LLMRequests counts LLM API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("role", ...), attribute.String("status", ...)
	LLMRequests metric.Int64Counter

	// TermsDetected counts detected jargon terms. Use with attribute:
	//   attribute.String("source", "llm"|"fallback"|"manual")
	TermsDetected metric.Int64Counter

	// TermsFiltered counts terms rejected before persistence. Use with
	// attribute: attribute.String("reason", ...)
	TermsFiltered metric.Int64Counter

	// ExplanationsDelivered counts explanations pushed to frontends.
	ExplanationsDelivered metric.Int64Counter

	// EnvelopesRouted counts messages dispatched by the router. Use with
	// attribute: attribute.String("type", ...)
	EnvelopesRouted metric.Int64Counter

	// --- Error counters ---

	// LLMErrors counts LLM call failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("role", ...)
	LLMErrors metric.Int64Counter

	// --- Gauges ---

	// ConnectedClients tracks the number of live WebSocket connections.
	ConnectedClients metric.Int64UpDownCounter

	// ActiveSessions tracks the number of open listening sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	meter metric.Meter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// live-pipeline latencies: sub-second transcription through multi-second
// explanation generation.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("lexhound.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DetectionDuration, err = m.Float64Histogram("lexhound.detection.duration",
		metric.WithDescription("Latency of term-extraction LLM calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExplanationDuration, err = m.Float64Histogram("lexhound.explanation.duration",
		metric.WithDescription("Latency of explanation-generation LLM calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineLatency, err = m.Float64Histogram("lexhound.pipeline.latency",
		metric.WithDescription("End-to-end latency from transcription to explanation delivery."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.LLMRequests, err = m.Int64Counter("lexhound.llm.requests",
		metric.WithDescription("Total LLM API requests by provider, role, and status."),
	); err != nil {
		return nil, err
	}
	if met.TermsDetected, err = m.Int64Counter("lexhound.terms.detected",
		metric.WithDescription("Total jargon terms detected by extraction source."),
	); err != nil {
		return nil, err
	}
	if met.TermsFiltered, err = m.Int64Counter("lexhound.terms.filtered",
		metric.WithDescription("Total terms rejected before persistence by reason."),
	); err != nil {
		return nil, err
	}
	if met.ExplanationsDelivered, err = m.Int64Counter("lexhound.explanations.delivered",
		metric.WithDescription("Total explanations delivered to frontends."),
	); err != nil {
		return nil, err
	}
	if met.EnvelopesRouted, err = m.Int64Counter("lexhound.envelopes.routed",
		metric.WithDescription("Total envelopes dispatched by the router, by message type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.LLMErrors, err = m.Int64Counter("lexhound.llm.errors",
		metric.WithDescription("Total LLM call failures by provider and role."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ConnectedClients, err = m.Int64UpDownCounter("lexhound.connected_clients",
		metric.WithDescription("Number of live WebSocket connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lexhound.active_sessions",
		metric.WithDescription("Number of open listening sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lexhound.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// QueueLener reports its current depth. Implemented by the bus queues.
type QueueLener interface {
	Name() string
	Len() int
}

// RegisterQueueDepth registers an observable gauge that reports the depth of
// each given queue on every collection cycle.
func (m *Metrics) RegisterQueueDepth(queues ...QueueLener) error {
	gauge, err := m.meter.Int64ObservableGauge("lexhound.queue.depth",
		metric.WithDescription("Current depth of each in-process message queue."),
	)
	if err != nil {
		return err
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, q := range queues {
			o.ObserveInt64(gauge, int64(q.Len()),
				metric.WithAttributes(attribute.String("queue", q.Name())))
		}
		return nil
	}, gauge)
	return err
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

// RecordLLMRequest records an LLM request counter increment with the standard
// attribute set.
func (m *Metrics) RecordLLMRequest(ctx context.Context, provider, role, status string) {
	m.LLMRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("role", role),
			attribute.String("status", status),
		),
	)
}

// RecordLLMError records an LLM error counter increment.
func (m *Metrics) RecordLLMError(ctx context.Context, provider, role string) {
	m.LLMErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("role", role),
		),
	)
}

// RecordTermDetected records one detected term by extraction source.
func (m *Metrics) RecordTermDetected(ctx context.Context, source string) {
	m.TermsDetected.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordTermFiltered records one rejected term by reason.
func (m *Metrics) RecordTermFiltered(ctx context.Context, reason string) {
	m.TermsFiltered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordEnvelopeRouted records one routed envelope by message type.
func (m *Metrics) RecordEnvelopeRouted(ctx context.Context, msgType string) {
	m.EnvelopesRouted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", msgType)),
	)
}
