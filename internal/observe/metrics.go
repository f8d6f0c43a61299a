// Package observe provides application-wide observability primitives for
// coxswain: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all coxswain metrics.
const meterName = "github.com/crewmatch/coxswain"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CallDuration tracks the latency of individual model calls. Use with
	// attributes: attribute.String("provider", ...), attribute.String("model", ...)
	CallDuration metric.Float64Histogram

	// ToolDuration tracks tool-batch execution latency per session iteration.
	ToolDuration metric.Float64Histogram

	// GovernorWaitDuration tracks how long callers wait for a free slot in a
	// key's admission window.
	GovernorWaitDuration metric.Float64Histogram

	// --- Counters ---

	// RouterAttempts counts provider/model attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("model", ...), attribute.String("status", ...)
	RouterAttempts metric.Int64Counter

	// GovernorRetries counts backoff retries of rate-limited calls.
	GovernorRetries metric.Int64Counter

	// GovernorDeduped counts callers that received a shared in-flight
	// outcome instead of triggering their own call.
	GovernorDeduped metric.Int64Counter

	// Invocations counts commands recovered from model output. Use with
	// attribute: attribute.String("convention", ...)
	Invocations metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// SessionsExhausted counts sessions that hit the iteration ceiling.
	SessionsExhausted metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of orchestration loops in flight.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model-call latencies, which routinely run into tens of seconds.
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
	if met.CallDuration, err = m.Float64Histogram("coxswain.call.duration",
		metric.WithDescription("Latency of individual model calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("coxswain.tool.duration",
		metric.WithDescription("Latency of tool-batch execution per iteration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GovernorWaitDuration, err = m.Float64Histogram("coxswain.governor.wait.duration",
		metric.WithDescription("Time spent waiting for a free admission slot."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RouterAttempts, err = m.Int64Counter("coxswain.router.attempts",
		metric.WithDescription("Total provider/model attempts by provider, model, and status."),
	); err != nil {
		return nil, err
	}
	if met.GovernorRetries, err = m.Int64Counter("coxswain.governor.retries",
		metric.WithDescription("Total backoff retries of rate-limited calls."),
	); err != nil {
		return nil, err
	}
	if met.GovernorDeduped, err = m.Int64Counter("coxswain.governor.deduped",
		metric.WithDescription("Total callers served a shared in-flight outcome."),
	); err != nil {
		return nil, err
	}
	if met.Invocations, err = m.Int64Counter("coxswain.command.invocations",
		metric.WithDescription("Total commands recovered from model output by convention."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("coxswain.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionsExhausted, err = m.Int64Counter("coxswain.sessions.exhausted",
		metric.WithDescription("Total sessions terminated at the iteration ceiling."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("coxswain.active_sessions",
		metric.WithDescription("Number of orchestration loops in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("coxswain.http.request.duration",
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

// RecordAttempt records one provider/model attempt with the standard
// attribute set and its latency.
func (m *Metrics) RecordAttempt(ctx context.Context, provider, model, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.RouterAttempts.Add(ctx, 1, attrs)
	m.CallDuration.Record(ctx, seconds, attrs)
}

// RecordToolCall records a tool invocation counter increment with the
// standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordInvocation records one extracted command, tagged with the textual
// convention that carried it.
func (m *Metrics) RecordInvocation(ctx context.Context, convention string) {
	m.Invocations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("convention", convention)),
	)
}
