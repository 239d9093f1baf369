// Package telemetry wires the runtime's OpenTelemetry tracing and
// Prometheus metrics into the core.Telemetry/core.MetricsRegistry seams.
package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/dangerprep/syncrt/core"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the telemetry provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// PrettyPrintTraces writes human-readable trace output to Writer
	// instead of compact JSON; intended for local development.
	PrettyPrintTraces bool
	Writer            io.Writer
	Registry          *prometheus.Registry
}

// Provider bundles a tracer and a Prometheus-backed MetricsRegistry,
// implementing core.Telemetry.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	registry       *prometheus.Registry

	genericCounter   *prometheus.CounterVec
	genericGauge     *prometheus.GaugeVec
	genericHistogram *prometheus.HistogramVec
}

// New constructs a Provider. Traces are exported via stdouttrace, matching
// the teacher's local/dev telemetry posture (no external collector
// dependency required to see spans).
func New(cfg Config) (*Provider, error) {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	exporterOpts := []stdouttrace.Option{stdouttrace.WithWriter(writer)}
	if !cfg.PrettyPrintTraces {
		exporterOpts = append(exporterOpts, stdouttrace.WithoutTimestamps())
	} else {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}

	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, core.NewFrameworkError("telemetry.New", "telemetry", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, core.NewFrameworkError("telemetry.New", "telemetry", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	p := &Provider{
		tracerProvider: tp,
		tracer:         tp.Tracer(cfg.ServiceName),
		registry:       registry,
		genericCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syncrt_runtime_events_total",
			Help: "Generic counter metric emitted via the MetricsRegistry seam.",
		}, []string{"name"}),
		genericGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "syncrt_runtime_gauge",
			Help: "Generic gauge metric emitted via the MetricsRegistry seam.",
		}, []string{"name"}),
		genericHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "syncrt_runtime_histogram_seconds",
			Help:    "Generic histogram metric emitted via the MetricsRegistry seam.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}
	registry.MustRegister(p.genericCounter, p.genericGauge, p.genericHistogram)

	return p, nil
}

// Registry exposes the underlying Prometheus registry, e.g. for wiring
// into an executor.Config.Metrics or an HTTP /metrics handler.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

// Shutdown flushes pending spans and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tracerProvider.Shutdown(ctx)
}

// StartSpan implements core.Telemetry.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	spanCtx, span := p.tracer.Start(ctx, name)
	return spanCtx, &otelSpan{span: span}
}

// RecordMetric implements core.Telemetry by routing to the generic
// histogram, labeled by name only; the labels argument is ignored, since
// Prometheus label sets must be fixed at registration time.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	p.genericHistogram.WithLabelValues(name).Observe(value)
}

// otelSpan adapts an OTel span to core.Span.
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, toString(v)))
	}
}

func toString(v interface{}) string {
	if stringer, ok := v.(interface{ String() string }); ok {
		return stringer.String()
	}
	return ""
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

// MetricsRegistryAdapter bridges a Provider into core.MetricsRegistry so
// core.ProductionLogger can emit metrics through it via
// core.SetMetricsRegistry.
type MetricsRegistryAdapter struct {
	provider *Provider
}

// NewMetricsRegistryAdapter wraps p as a core.MetricsRegistry.
func NewMetricsRegistryAdapter(p *Provider) *MetricsRegistryAdapter {
	return &MetricsRegistryAdapter{provider: p}
}

func (a *MetricsRegistryAdapter) Counter(name string, labels ...string) {
	a.provider.genericCounter.WithLabelValues(name).Inc()
}

func (a *MetricsRegistryAdapter) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	a.provider.genericHistogram.WithLabelValues(name).Observe(value)
}

func (a *MetricsRegistryAdapter) Gauge(name string, value float64, labels ...string) {
	a.provider.genericGauge.WithLabelValues(name).Set(value)
}

func (a *MetricsRegistryAdapter) Histogram(name string, value float64, labels ...string) {
	a.provider.genericHistogram.WithLabelValues(name).Observe(value)
}

// GetBaggage implements core.MetricsRegistry by pulling the active span's
// trace/span ids out of ctx, so ProductionLogger can stitch correlation
// fields onto a log line without importing OTel itself.
func (a *MetricsRegistryAdapter) GetBaggage(ctx context.Context) map[string]string {
	baggage := make(map[string]string, 2)
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		baggage["request_id"] = sc.TraceID().String()
		baggage["span_id"] = sc.SpanID().String()
	}
	return baggage
}
