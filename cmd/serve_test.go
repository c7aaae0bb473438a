package cmd

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galadril/domoticz-mcp/internal/instrumentation"
)

// newTestServeViper returns the viper instance of a fresh serve command
// after parsing args.
func newTestServeViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	v := viper.New()
	cmd := newServeCmdWithViper(v)
	require.NoError(t, cmd.Flags().Parse(args))
	return v
}

func TestServeConfig_Defaults(t *testing.T) {
	cfg, err := serveConfigFromViper(newTestServeViper(t))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8765, cfg.Port)
	assert.Equal(t, "0.0.0.0:8765", cfg.Addr())
	assert.Equal(t, transportHTTP, cfg.Transport)
	assert.True(t, cfg.AutoStart)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.DomoticzURL)
	assert.True(t, cfg.BridgeEnabled)
	assert.Empty(t, cfg.BridgeBaseURL)
	assert.False(t, cfg.BridgeForceHTTPS)
	assert.Equal(t, 10*time.Minute, cfg.BridgeTTL)
	assert.False(t, cfg.LogFullCodes)
	assert.False(t, cfg.BridgeDebugPage)
	assert.Equal(t, 20, cfg.AuthCodesCapacity)
	assert.Equal(t, 8, cfg.TokenWorkers)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.True(t, cfg.InstrumentationEnabled)
	assert.Equal(t, instrumentation.ExporterPrometheus, cfg.MetricsExporter)
	assert.Equal(t, instrumentation.ExporterNone, cfg.TracingExporter)
	assert.Equal(t, 0.1, cfg.TraceSampleRate)
	assert.False(t, cfg.DetailedLabels)
	assert.True(t, cfg.AuditLog)
}

func TestServeConfig_Environment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("DOMOTICZ_URL", "https://domoticz.lan/")
	t.Setenv("OAUTH_BRIDGE_BASE_URL", "https://mcp.example.com/")
	t.Setenv("FORCE_HTTPS_BRIDGE", "true")
	t.Setenv("OAUTH_BRIDGE_TTL", "120s")
	t.Setenv("OAUTH_LOG_FULL_CODES", "true")
	t.Setenv("MCP_TRANSPORT", "STDIO")
	t.Setenv("DOMOTICZ_ACCESS_TOKEN", " tok ")

	cfg, err := serveConfigFromViper(newTestServeViper(t))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "https://domoticz.lan", cfg.DomoticzURL)
	assert.Equal(t, "https://mcp.example.com", cfg.BridgeBaseURL)
	assert.True(t, cfg.BridgeForceHTTPS)
	assert.Equal(t, 2*time.Minute, cfg.BridgeTTL)
	assert.True(t, cfg.LogFullCodes)
	assert.Equal(t, transportStdio, cfg.Transport)
	assert.Equal(t, "tok", cfg.AccessToken)
}

func TestServeConfig_FlagOverridesEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")

	cfg, err := serveConfigFromViper(newTestServeViper(t, "--port", "9100", "--host", "127.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.Addr())
}

func TestServeConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown transport", args: []string{"--transport", "sse"}},
		{name: "port out of range", args: []string{"--port", "70000"}},
		{name: "empty domoticz url", args: []string{"--domoticz-url", " "}},
		{name: "username without password", args: []string{"--domoticz-username", "admin"}},
		{name: "unknown metrics exporter", args: []string{"--metrics-exporter", "stdout"}},
		{name: "otlp tracing without endpoint", args: []string{"--tracing-exporter", "otlp"}},
		{name: "sample rate above one", args: []string{"--trace-sample-rate", "1.5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := serveConfigFromViper(newTestServeViper(t, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestServeConfig_OAuthConfig(t *testing.T) {
	cfg, err := serveConfigFromViper(newTestServeViper(t,
		"--bridge-enabled=false",
		"--bridge-base-url", "https://mcp.example.com",
		"--bridge-ttl", "5m",
		"--bridge-debug-page",
		"--auth-codes-capacity", "5",
		"--token-workers", "2",
		"--oauth-rate-limit", "10",
		"--trust-proxy",
	))
	require.NoError(t, err)

	oc := cfg.OAuthConfig()
	assert.False(t, oc.Bridge.Enabled)
	assert.Equal(t, "https://mcp.example.com", oc.Bridge.BaseURL)
	assert.Equal(t, 5*time.Minute, oc.Bridge.TTL)
	assert.True(t, oc.Bridge.DebugPage)
	assert.Equal(t, 5, oc.Bridge.AuthCodesCapacity)
	assert.Equal(t, 2, oc.TokenProxy.Workers)
	assert.Equal(t, 10, oc.RateLimit.Rate)
	assert.True(t, oc.RateLimit.TrustProxy)
}

func TestMustBindFlag_PanicsOnMissingFlag(t *testing.T) {
	assert.Panics(t, func() {
		mustBindFlag(viper.New(), "missing", "", nil)
	})
}

func TestServeConfig_InstrumentationEnvironment(t *testing.T) {
	t.Setenv("INSTRUMENTATION_ENABLED", "true")
	t.Setenv("METRICS_EXPORTER", "OTLP")
	t.Setenv("TRACING_EXPORTER", " console ")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")
	t.Setenv("METRICS_DETAILED_LABELS", "true")
	t.Setenv("AUDIT_LOGGING_ENABLED", "false")

	cfg, err := serveConfigFromViper(newTestServeViper(t))
	require.NoError(t, err)

	assert.Equal(t, instrumentation.ExporterOTLP, cfg.MetricsExporter)
	assert.Equal(t, instrumentation.ExporterConsole, cfg.TracingExporter)
	assert.Equal(t, "collector:4318", cfg.OTLPEndpoint)
	assert.True(t, cfg.OTLPInsecure)
	assert.Equal(t, 0.5, cfg.TraceSampleRate)
	assert.True(t, cfg.DetailedLabels)
	assert.False(t, cfg.AuditLog)
}

func TestServeConfig_InstrumentationConfig(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantBridge bool
		check      func(t *testing.T, ic instrumentation.Config)
	}{
		{
			name:       "http defaults",
			args:       []string{"--domoticz-url", "http://10.0.0.5:8080"},
			wantBridge: true,
			check: func(t *testing.T, ic instrumentation.Config) {
				assert.True(t, ic.Enabled)
				assert.Equal(t, instrumentation.ExporterPrometheus, ic.MetricsExporter)
				assert.True(t, ic.Audit)
				assert.Equal(t, "http://10.0.0.5:8080", ic.Deployment.DomoticzURL)
				assert.Equal(t, transportHTTP, ic.Deployment.Transport)
			},
		},
		{
			name:       "stdio never reports the bridge",
			args:       []string{"--transport", "stdio", "--bridge-enabled"},
			wantBridge: false,
			check: func(t *testing.T, ic instrumentation.Config) {
				assert.Equal(t, transportStdio, ic.Deployment.Transport)
			},
		},
		{
			name: "disabled with otlp settings",
			args: []string{
				"--instrumentation-enabled=false",
				"--bridge-enabled=false",
				"--tracing-exporter", "otlp",
				"--audit-log=false",
				"--metrics-detailed-labels",
			},
			check: func(t *testing.T, ic instrumentation.Config) {
				assert.False(t, ic.Enabled)
				assert.Equal(t, instrumentation.ExporterOTLP, ic.TracingExporter)
				assert.False(t, ic.Audit)
				assert.True(t, ic.DetailedLabels)
				assert.NoError(t, ic.Validate(), "a disabled pipeline needs no endpoint")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := serveConfigFromViper(newTestServeViper(t, tt.args...))
			require.NoError(t, err)

			ic := cfg.InstrumentationConfig()
			assert.Equal(t, version, ic.Deployment.Version)
			assert.Equal(t, tt.wantBridge, ic.Deployment.BridgeEnabled)
			tt.check(t, ic)
		})
	}
}
