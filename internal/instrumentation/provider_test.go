package instrumentation

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:         false,
		MetricsExporter: "ignored when disabled",
	})
	require.NoError(t, err)
	require.NotNil(t, provider)

	assert.False(t, provider.Enabled())
	assert.NotNil(t, provider.Metrics(), "metrics must be usable when disabled")
	assert.Nil(t, provider.Resource())
	assert.False(t, provider.PrometheusEnabled())
	assert.False(t, provider.TracingEnabled())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name           string
		metrics        string
		tracing        string
		wantPrometheus bool
		wantTracing    bool
	}{
		{"prometheus without tracing", ExporterPrometheus, ExporterNone, true, false},
		{"prometheus with console tracing", ExporterPrometheus, ExporterConsole, true, true},
		{"console", ExporterConsole, ExporterConsole, false, true},
		{"console metrics only", ExporterConsole, ExporterNone, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			provider, err := NewProvider(ctx, Config{
				Enabled:           true,
				MetricsExporter:   tt.metrics,
				TracingExporter:   tt.tracing,
				TraceSamplingRate: 1,
				ConsoleWriter:     io.Discard,
				Deployment:        Deployment{Version: "1.0.0"},
			})
			require.NoError(t, err)
			defer func() { _ = provider.Shutdown(ctx) }()

			assert.True(t, provider.Enabled())
			assert.NotNil(t, provider.Metrics())
			assert.Equal(t, tt.wantPrometheus, provider.PrometheusEnabled())
			assert.Equal(t, tt.wantTracing, provider.TracingEnabled())
		})
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{
			name:   "invalid metrics exporter",
			config: Config{Enabled: true, MetricsExporter: "stdout", TracingExporter: ExporterNone},
		},
		{
			name:   "invalid tracing exporter",
			config: Config{Enabled: true, MetricsExporter: ExporterPrometheus, TracingExporter: "jaeger"},
		},
		{
			name:   "otlp tracing without endpoint",
			config: Config{Enabled: true, MetricsExporter: ExporterPrometheus, TracingExporter: ExporterOTLP},
		},
		{
			name:   "otlp metrics without endpoint",
			config: Config{Enabled: true, MetricsExporter: ExporterOTLP, TracingExporter: ExporterNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := NewProvider(ctx, tt.config)
			assert.Error(t, err)
		})
	}
}

func TestNewResource(t *testing.T) {
	tests := []struct {
		name       string
		deployment Deployment
		want       map[attribute.Key]attribute.Value
		absent     []attribute.Key
	}{
		{
			name: "http with bridge",
			deployment: Deployment{
				Version:       "1.2.3",
				InstanceID:    "pi-4",
				DomoticzURL:   "http://192.168.1.10:8080",
				Transport:     "streamable-http",
				BridgeEnabled: true,
			},
			want: map[attribute.Key]attribute.Value{
				semconv.ServiceNameKey:       attribute.StringValue(ServiceName),
				semconv.ServiceVersionKey:    attribute.StringValue("1.2.3"),
				semconv.ServiceInstanceIDKey: attribute.StringValue("pi-4"),
				ResourceAttrDomoticzHost:     attribute.StringValue("192.168.1.10:8080"),
				ResourceAttrTransport:        attribute.StringValue("streamable-http"),
				ResourceAttrBridgeEnabled:    attribute.BoolValue(true),
			},
		},
		{
			name:       "stdio without domoticz url",
			deployment: Deployment{InstanceID: "laptop", Transport: "stdio"},
			want: map[attribute.Key]attribute.Value{
				semconv.ServiceVersionKey: attribute.StringValue("unknown"),
				ResourceAttrTransport:     attribute.StringValue("stdio"),
				ResourceAttrBridgeEnabled: attribute.BoolValue(false),
			},
			absent: []attribute.Key{ResourceAttrDomoticzHost},
		},
		{
			name:       "unparseable domoticz url",
			deployment: Deployment{InstanceID: "x", DomoticzURL: "://nohost"},
			absent:     []attribute.Key{ResourceAttrDomoticzHost, ResourceAttrTransport},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := NewResource(tt.deployment).Set()
			for key, want := range tt.want {
				got, ok := set.Value(key)
				require.True(t, ok, "missing %s", key)
				assert.Equal(t, want, got, key)
			}
			for _, key := range tt.absent {
				_, ok := set.Value(key)
				assert.False(t, ok, "unexpected %s", key)
			}
		})
	}
}

func TestNewProvider_ResourceFromDeployment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewProvider(ctx, Config{
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
		Deployment: Deployment{
			Version:       "2.0.0",
			InstanceID:    "test",
			DomoticzURL:   "https://domoticz.example.com",
			Transport:     "sse",
			BridgeEnabled: true,
		},
	})
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(ctx) }()

	set := provider.Resource().Set()
	host, _ := set.Value(ResourceAttrDomoticzHost)
	assert.Equal(t, "domoticz.example.com", host.AsString())
	version, _ := set.Value(semconv.ServiceVersionKey)
	assert.Equal(t, "2.0.0", version.AsString())
}
