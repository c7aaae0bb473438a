package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys describing the bridge deployment.
const (
	ResourceAttrDomoticzHost  = "domoticz.host"
	ResourceAttrTransport     = "mcp.transport"
	ResourceAttrBridgeEnabled = "oauth.bridge.enabled"
)

// Provider owns the meter and tracer providers of one serve run.
type Provider struct {
	enabled  bool
	resource *resource.Resource
	meters   *sdkmetric.MeterProvider
	tracers  *sdktrace.TracerProvider
	registry *prometheus.Exporter
	metrics  *Metrics
}

// NewProvider validates cfg and builds the exporters it selects. The meter
// and tracer providers are installed as the otel globals. A disabled cfg
// yields a provider whose Metrics records nothing.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{metrics: &Metrics{}}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConsoleWriter == nil {
		cfg.ConsoleWriter = os.Stderr
	}

	p := &Provider{
		enabled:  true,
		resource: NewResource(cfg.Deployment),
	}

	reader, registry, err := newMetricReader(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.registry = registry
	p.meters = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(p.resource),
		sdkmetric.WithReader(reader),
	)

	spans, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, errors.Join(err, p.meters.Shutdown(ctx))
	}
	if spans != nil {
		p.tracers = sdktrace.NewTracerProvider(
			sdktrace.WithResource(p.resource),
			sdktrace.WithBatcher(spans),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSamplingRate))),
		)
		otel.SetTracerProvider(p.tracers)
	}
	otel.SetMeterProvider(p.meters)

	p.metrics, err = NewMetrics(p.meters.Meter(TracerName), cfg.DetailedLabels)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create metrics recorder: %w", err), p.Shutdown(ctx))
	}
	return p, nil
}

// NewResource describes d as an OpenTelemetry resource: service identity
// plus the Domoticz host, the MCP transport and whether the redirect bridge
// is on.
func NewResource(d Deployment) *resource.Resource {
	instance := d.InstanceID
	if instance == "" {
		instance, _ = os.Hostname()
	}
	version := d.Version
	if version == "" {
		version = "unknown"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(version),
		attribute.Bool(ResourceAttrBridgeEnabled, d.BridgeEnabled),
	}
	if instance != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(instance))
	}
	if d.Transport != "" {
		attrs = append(attrs, attribute.String(ResourceAttrTransport, d.Transport))
	}
	if u, err := url.Parse(d.DomoticzURL); err == nil && u.Host != "" {
		attrs = append(attrs, attribute.String(ResourceAttrDomoticzHost, u.Host))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// newMetricReader returns the reader for cfg.MetricsExporter. The
// Prometheus exporter is also returned so the metrics server can tell it
// is in use.
func newMetricReader(ctx context.Context, cfg Config) (sdkmetric.Reader, *prometheus.Exporter, error) {
	switch cfg.MetricsExporter {
	case ExporterPrometheus:
		exporter, err := prometheus.New()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		return exporter, exporter, nil

	case ExporterOTLP:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		return periodic(exporter), nil, nil

	default:
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.ConsoleWriter))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create console metrics exporter: %w", err)
		}
		return periodic(exporter), nil, nil
	}
}

func periodic(exporter sdkmetric.Exporter) sdkmetric.Reader {
	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricInterval))
}

// newSpanExporter returns the exporter for cfg.TracingExporter, or nil for
// ExporterNone.
func newSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.TracingExporter {
	case ExporterNone:
		return nil, nil

	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			slog.Warn("OTLP traces sent without TLS; spans carry Domoticz commands and device indexes",
				"endpoint", cfg.OTLPEndpoint)
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		return exporter, nil

	default:
		return newConsoleSpanExporter(cfg.ConsoleWriter)
	}
}

func newConsoleSpanExporter(w io.Writer) (sdktrace.SpanExporter, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create console trace exporter: %w", err)
	}
	return exporter, nil
}

// Metrics returns the recorder. It is never nil.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Resource returns the exported resource, or nil when disabled.
func (p *Provider) Resource() *resource.Resource {
	return p.resource
}

// PrometheusEnabled reports whether metrics are exported through the
// Prometheus registry served by the metrics server.
func (p *Provider) PrometheusEnabled() bool {
	return p.registry != nil
}

// TracingEnabled reports whether spans are exported.
func (p *Provider) TracingEnabled() bool {
	return p.tracers != nil
}

// Enabled returns true if instrumentation is enabled.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.meters != nil {
		if err := p.meters.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	if p.tracers != nil {
		if err := p.tracers.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
