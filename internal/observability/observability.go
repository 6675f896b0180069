// Package observability wires Prometheus metrics and an OpenTelemetry
// tracer matching spec.md §6.6, grounded on
// original_source/perf/exporters.py (metric names/labels) and
// server/service.py's tracer.start_as_current_span call sites.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the counters/gauges/histogram named in spec.md §6.6,
// registered against a dedicated registry so a single process can run
// more than one instance (tests included) without label collisions.
type Metrics struct {
	Registry *prometheus.Registry

	TokensTotal            *prometheus.CounterVec
	PrefixCacheHitsTotal   *prometheus.CounterVec
	PrefixCacheMissesTotal *prometheus.CounterVec
	QueueDepth             *prometheus.GaugeVec
	KVResidentBytes        *prometheus.GaugeVec
	RequestLatencySeconds  *prometheus.HistogramVec
}

// NewMetrics constructs and registers every metric on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primerl_tokens_total",
			Help: "Tokens generated",
		}, []string{"phase", "model"}),
		PrefixCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primerl_prefix_cache_hits_total",
			Help: "Prefix cache hits",
		}, []string{"model"}),
		PrefixCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primerl_prefix_cache_misses_total",
			Help: "Prefix cache misses",
		}, []string{"model"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "primerl_queue_depth",
			Help: "Requests queued",
		}, []string{"model"}),
		KVResidentBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "primerl_kv_resident_bytes",
			Help: "Resident KV bytes",
		}, []string{"model"}),
		RequestLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "primerl_request_latency_seconds",
			Help: "Request latency by route/model",
		}, []string{"route", "model"}),
	}

	reg.MustRegister(
		m.TokensTotal,
		m.PrefixCacheHitsTotal,
		m.PrefixCacheMissesTotal,
		m.QueueDepth,
		m.KVResidentBytes,
		m.RequestLatencySeconds,
	)
	return m
}

// RecordTokens increments tokens_total{phase,model} by n.
func (m *Metrics) RecordTokens(phase, model string, n int) {
	m.TokensTotal.WithLabelValues(phase, model).Add(float64(n))
}

// RecordCacheHit increments prefix_cache_hits_total{model}.
func (m *Metrics) RecordCacheHit(model string) {
	m.PrefixCacheHitsTotal.WithLabelValues(model).Inc()
}

// RecordCacheMiss increments prefix_cache_misses_total{model}.
func (m *Metrics) RecordCacheMiss(model string) {
	m.PrefixCacheMissesTotal.WithLabelValues(model).Inc()
}

// SetQueueDepth sets queue_depth{model}.
func (m *Metrics) SetQueueDepth(model string, depth int) {
	m.QueueDepth.WithLabelValues(model).Set(float64(depth))
}

// SetKVResidentBytes sets kv_resident_bytes{model}.
func (m *Metrics) SetKVResidentBytes(model string, bytes int64) {
	m.KVResidentBytes.WithLabelValues(model).Set(float64(bytes))
}

// ObserveLatency records one request_latency_seconds{route,model} sample.
func (m *Metrics) ObserveLatency(route, model string, seconds float64) {
	m.RequestLatencySeconds.WithLabelValues(route, model).Observe(seconds)
}

// NewTracer builds an OpenTelemetry tracer provider exporting spans to
// stdout, matching the original's dev-mode tracer.get_tracer("primerl.service")
// setup. Callers should defer the returned shutdown func.
func NewTracer(ctx context.Context) (trace.Tracer, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("primerl-bridge"),
	))
	if err != nil {
		return nil, nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	tracer := provider.Tracer("primerl.service")
	return tracer, provider.Shutdown, nil
}
