// Package observe provides the observability primitives for scenecheck:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [Setup] so that metrics can be
// scraped via /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all scenecheck metrics.
const meterName = "github.com/MrWong99/scenecheck"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ValidationDuration tracks end-to-end latency of one validate call,
	// including cache lookups. Attributes: cached, final_state.
	ValidationDuration metric.Float64Histogram

	// MatcherDuration tracks a single matcher invocation, retries included.
	// Attributes: matcher.
	MatcherDuration metric.Float64Histogram

	// --- Counters ---

	// MatcherOutcomes counts matcher invocations. Attributes:
	//   attribute.String("matcher", ...), attribute.String("outcome", ...)
	// where outcome is ok, timeout, crash or degraded.
	MatcherOutcomes metric.Int64Counter

	// MatcherRetries counts re-attempts issued by the escalation controller.
	// Attributes: matcher, kind (retryable or malformed).
	MatcherRetries metric.Int64Counter

	// CacheLookups counts result-cache lookups. Attributes: backend, result
	// (hit, miss, error).
	CacheLookups metric.Int64Counter

	// Escalations counts validate calls by the state escalation stopped in.
	// Attributes: final_state.
	Escalations metric.Int64Counter

	// DegradedResults counts results returned with degraded=true.
	DegradedResults metric.Int64Counter

	// --- Gauges ---

	// InFlight tracks validations currently being computed (cache misses).
	InFlight metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning the
// sub-millisecond lexical tiers up to slow LLM calls.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ValidationDuration, err = m.Float64Histogram("scenecheck.validation.duration",
		metric.WithDescription("Latency of a complete narrative validation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatcherDuration, err = m.Float64Histogram("scenecheck.matcher.duration",
		metric.WithDescription("Latency of a single matcher invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MatcherOutcomes, err = m.Int64Counter("scenecheck.matcher.outcomes",
		metric.WithDescription("Matcher invocations by matcher and outcome."),
	); err != nil {
		return nil, err
	}
	if met.MatcherRetries, err = m.Int64Counter("scenecheck.matcher.retries",
		metric.WithDescription("Matcher re-attempts by matcher and failure kind."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("scenecheck.cache.lookups",
		metric.WithDescription("Result cache lookups by backend and result."),
	); err != nil {
		return nil, err
	}
	if met.Escalations, err = m.Int64Counter("scenecheck.escalation.final_state",
		metric.WithDescription("Validations by the escalation state they stopped in."),
	); err != nil {
		return nil, err
	}
	if met.DegradedResults, err = m.Int64Counter("scenecheck.results.degraded",
		metric.WithDescription("Validation results returned with degraded=true."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.InFlight, err = m.Int64UpDownCounter("scenecheck.validations.in_flight",
		metric.WithDescription("Number of validations currently being computed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("scenecheck.http.request.duration",
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

// RecordMatcher records one matcher invocation's latency and outcome.
func (m *Metrics) RecordMatcher(ctx context.Context, matcher, outcome string, d time.Duration) {
	m.MatcherDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("matcher", matcher)))
	m.MatcherOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("matcher", matcher),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordRetry records a re-attempt of matcher after a failure of kind.
func (m *Metrics) RecordRetry(ctx context.Context, matcher, kind string) {
	m.MatcherRetries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("matcher", matcher),
			attribute.String("kind", kind),
		),
	)
}

// RecordCacheLookup records a cache hit, miss or error.
func (m *Metrics) RecordCacheLookup(ctx context.Context, backend, result string) {
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("result", result),
		),
	)
}

// RecordValidation records a finished validate call.
func (m *Metrics) RecordValidation(ctx context.Context, d time.Duration, finalState string, cached, degraded bool) {
	m.ValidationDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.Bool("cached", cached),
			attribute.String("final_state", finalState),
		),
	)
	if !cached {
		m.Escalations.Add(ctx, 1, metric.WithAttributes(Attr("final_state", finalState)))
	}
	if degraded {
		m.DegradedResults.Add(ctx, 1)
	}
}
