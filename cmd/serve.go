package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/galadril/domoticz-mcp/internal/domoticz"
	"github.com/galadril/domoticz-mcp/internal/instrumentation"
	"github.com/galadril/domoticz-mcp/internal/logging"
	"github.com/galadril/domoticz-mcp/internal/mcp/oauth"
	"github.com/galadril/domoticz-mcp/internal/server"
	"github.com/galadril/domoticz-mcp/internal/tools/domoticz_tools"
)

// Transports accepted by --transport.
const (
	transportHTTP  = "streamable-http"
	transportStdio = "stdio"
)

const (
	serveHostKey              = "server.host"
	servePortKey              = "server.port"
	serveTransportKey         = "server.transport"
	serveAutoStartKey         = "server.auto_start"
	serveDomoticzURLKey       = "domoticz.url"
	serveDomoticzUserKey      = "domoticz.username"
	serveDomoticzPasswordKey  = "domoticz.password"
	serveAccessTokenKey       = "domoticz.access_token"
	serveBridgeEnabledKey     = "oauth.bridge.enabled"
	serveBridgeBaseURLKey     = "oauth.bridge.base_url"
	serveBridgeForceHTTPSKey  = "oauth.bridge.force_https"
	serveBridgeTTLKey         = "oauth.bridge.ttl"
	serveBridgeDebugPageKey   = "oauth.bridge.debug_page"
	serveLogFullCodesKey      = "oauth.log_full_codes"
	serveAuthCodesCapacityKey = "oauth.auth_codes_capacity"
	serveTokenWorkersKey      = "oauth.token_workers"
	serveTokenTimeoutKey      = "oauth.token_timeout"
	serveRateLimitKey         = "oauth.rate_limit"
	serveTrustProxyKey        = "oauth.trust_proxy"
	serveDebugKey             = "log.debug"
	serveLogFormatKey         = "log.format"
	serveMetricsEnabledKey    = "metrics.enabled"
	serveMetricsAddrKey       = "metrics.addr"

	serveInstrEnabledKey    = "instrumentation.enabled"
	serveMetricsExporterKey = "instrumentation.metrics_exporter"
	serveTracingExporterKey = "instrumentation.tracing_exporter"
	serveOTLPEndpointKey    = "instrumentation.otlp.endpoint"
	serveOTLPInsecureKey    = "instrumentation.otlp.insecure"
	serveTraceSampleRateKey = "instrumentation.trace_sample_rate"
	serveDetailedLabelsKey  = "instrumentation.detailed_labels"
	serveAuditLogKey        = "instrumentation.audit"
)

// serveConfig is the resolved configuration of the serve command.
type serveConfig struct {
	Host      string
	Port      int
	Transport string
	AutoStart bool

	DomoticzURL      string
	DomoticzUsername string
	DomoticzPassword string
	AccessToken      string

	BridgeEnabled     bool
	BridgeBaseURL     string
	BridgeForceHTTPS  bool
	BridgeTTL         time.Duration
	BridgeDebugPage   bool
	LogFullCodes      bool
	AuthCodesCapacity int
	TokenWorkers      int
	TokenTimeout      time.Duration
	RateLimit         int
	TrustProxy        bool

	Debug     bool
	LogFormat string

	MetricsEnabled bool
	MetricsAddr    string

	InstrumentationEnabled bool
	MetricsExporter        string
	TracingExporter        string
	OTLPEndpoint           string
	OTLPInsecure           bool
	TraceSampleRate        float64
	DetailedLabels         bool
	AuditLog               bool
}

// Addr returns the host:port the HTTP transport binds.
func (c serveConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// OAuthConfig maps the bridge and token proxy settings onto oauth.Config.
func (c serveConfig) OAuthConfig() *oauth.Config {
	cfg := oauth.DefaultConfig()
	cfg.Bridge.Enabled = c.BridgeEnabled
	cfg.Bridge.BaseURL = c.BridgeBaseURL
	cfg.Bridge.ForceHTTPS = c.BridgeForceHTTPS
	cfg.Bridge.TTL = c.BridgeTTL
	cfg.Bridge.DebugPage = c.BridgeDebugPage
	cfg.Bridge.LogFullCodes = c.LogFullCodes
	cfg.Bridge.AuthCodesCapacity = c.AuthCodesCapacity
	cfg.TokenProxy.Workers = c.TokenWorkers
	cfg.TokenProxy.Timeout = c.TokenTimeout
	cfg.RateLimit.Rate = c.RateLimit
	cfg.RateLimit.TrustProxy = c.TrustProxy
	return cfg
}

// InstrumentationConfig maps the telemetry settings onto
// instrumentation.Config. The deployment resource describes this run.
func (c serveConfig) InstrumentationConfig() instrumentation.Config {
	cfg := instrumentation.DefaultConfig()
	cfg.Enabled = c.InstrumentationEnabled
	cfg.MetricsExporter = c.MetricsExporter
	cfg.TracingExporter = c.TracingExporter
	cfg.OTLPEndpoint = c.OTLPEndpoint
	cfg.OTLPInsecure = c.OTLPInsecure
	cfg.TraceSamplingRate = c.TraceSampleRate
	cfg.DetailedLabels = c.DetailedLabels
	cfg.Audit = c.AuditLog
	cfg.Deployment = instrumentation.Deployment{
		Version:       version,
		DomoticzURL:   c.DomoticzURL,
		Transport:     c.Transport,
		BridgeEnabled: c.Transport == transportHTTP && c.BridgeEnabled,
	}
	return cfg
}

func (c serveConfig) validate() error {
	switch c.Transport {
	case transportHTTP, transportStdio:
	default:
		return fmt.Errorf("unsupported transport %q (expected %s or %s)", c.Transport, transportHTTP, transportStdio)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DomoticzURL == "" {
		return errors.New("domoticz URL is required")
	}
	if (c.DomoticzUsername == "") != (c.DomoticzPassword == "") {
		return errors.New("domoticz username and password must be set together")
	}
	if err := c.InstrumentationConfig().Validate(); err != nil {
		return fmt.Errorf("invalid instrumentation settings: %w", err)
	}
	return nil
}

func newServeCmd() *cobra.Command {
	return newServeCmdWithViper(viper.New())
}

// newServeCmdWithViper builds the serve command with its flags and
// environment variables bound into v.
func newServeCmdWithViper(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server that exposes a Domoticz
home automation instance to AI assistants.

Supports two transport types:
  - streamable-http: JSON-RPC over POST /mcp (default)
  - stdio: Standard input/output

Authentication:
  HTTP Transport:
    Every tools/call must carry "Authorization: Bearer <token>". The token is
    passed through to Domoticz unchanged. Clients obtain it through the
    /authorize and /token endpoints, which proxy Domoticz's own OAuth 2.1
    authorization server. Loopback redirect URIs used by desktop clients are
    bridged through /redirect_bridge (see --bridge-* flags).

  STDIO Transport:
    There is no Authorization header. Configure --access-token, or
    --domoticz-username and --domoticz-password for session login.

Every flag can also be set through the environment variable named in its
description.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := serveConfigFromViper(v)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("host", "0.0.0.0", "Interface to bind (SERVER_HOST)")
	flags.Int("port", 8765, "Port to bind (SERVER_PORT)")
	flags.String("transport", transportHTTP, "Transport type: streamable-http or stdio (MCP_TRANSPORT)")
	flags.Bool("auto-start", true, "Start the HTTP listener on launch (MCP_AUTO_START)")
	flags.String("domoticz-url", "http://127.0.0.1:8080", "Base URL of the Domoticz instance (DOMOTICZ_URL)")
	flags.String("domoticz-username", "", "Domoticz user for session login, stdio transport only (DOMOTICZ_USERNAME)")
	flags.String("domoticz-password", "", "Domoticz password for session login, stdio transport only (DOMOTICZ_PASSWORD)")
	flags.String("access-token", "", "Bearer token used for Domoticz calls, stdio transport only (DOMOTICZ_ACCESS_TOKEN)")

	flags.Bool("bridge-enabled", true, "Rewrite loopback redirect URIs through /redirect_bridge (OAUTH_BRIDGE_ENABLED)")
	flags.String("bridge-base-url", "", "Public base URL of this server used to build the bridge callback, e.g. https://mcp.example.com (OAUTH_BRIDGE_BASE_URL)")
	flags.Bool("bridge-force-https", false, "Derive the bridge callback as https even for plain HTTP requests (FORCE_HTTPS_BRIDGE)")
	flags.Duration("bridge-ttl", oauth.DefaultBridgeTTL, "Lifetime of a pending bridge entry (OAUTH_BRIDGE_TTL)")
	flags.Bool("bridge-debug-page", false, "Render an HTML page instead of redirecting from /redirect_bridge (OAUTH_BRIDGE_DEBUG_PAGE)")
	flags.Bool("log-full-codes", false, "WARNING: Log and retain full authorization codes (OAUTH_LOG_FULL_CODES)")
	flags.Int("auth-codes-capacity", oauth.DefaultAuthCodesCapacity, "Number of authorization codes kept for /last_auth_codes (OAUTH_AUTH_CODES_CAPACITY)")
	flags.Int("token-workers", oauth.DefaultTokenWorkers, "Maximum concurrent upstream token requests (OAUTH_TOKEN_WORKERS)")
	flags.Duration("token-timeout", oauth.DefaultTokenTimeout, "Timeout of the upstream token request (OAUTH_TOKEN_TIMEOUT)")
	flags.Int("oauth-rate-limit", 0, "Requests per second per client IP on the OAuth endpoints, 0 disables (OAUTH_RATE_LIMIT)")
	flags.Bool("trust-proxy", false, "Trust X-Forwarded-For and X-Real-IP for rate limiting (OAUTH_TRUST_PROXY)")

	flags.Bool("debug", false, "Enable debug logging (MCP_DEBUG)")
	flags.String("log-format", logging.FormatText, "Log format: text or json (MCP_LOG_FORMAT)")
	flags.Bool("metrics-enabled", true, "Serve Prometheus metrics on a dedicated port (METRICS_ENABLED)")
	flags.String("metrics-addr", ":9090", "Metrics server address (METRICS_ADDR)")
	flags.Bool("instrumentation-enabled", true, "Enable OpenTelemetry metrics and tracing (INSTRUMENTATION_ENABLED)")
	flags.String("metrics-exporter", instrumentation.ExporterPrometheus, "Metrics exporter: prometheus, otlp or console (METRICS_EXPORTER)")
	flags.String("tracing-exporter", instrumentation.ExporterNone, "Tracing exporter: none, otlp or console (TRACING_EXPORTER)")
	flags.String("otlp-endpoint", "", "OTLP collector host:port (OTEL_EXPORTER_OTLP_ENDPOINT)")
	flags.Bool("otlp-insecure", false, "Send OTLP over plain HTTP (OTEL_EXPORTER_OTLP_INSECURE)")
	flags.Float64("trace-sample-rate", instrumentation.DefaultTraceSamplingRate, "Fraction of traces sampled, 0 to 1 (OTEL_TRACES_SAMPLER_ARG)")
	flags.Bool("metrics-detailed-labels", false, "Add the Domoticz device idx to tool metrics (METRICS_DETAILED_LABELS)")
	flags.Bool("audit-log", true, "Log every tool invocation to the audit log (AUDIT_LOGGING_ENABLED)")

	mustBindFlag(v, serveHostKey, "SERVER_HOST", flags.Lookup("host"))
	mustBindFlag(v, servePortKey, "SERVER_PORT", flags.Lookup("port"))
	mustBindFlag(v, serveTransportKey, "MCP_TRANSPORT", flags.Lookup("transport"))
	mustBindFlag(v, serveAutoStartKey, "MCP_AUTO_START", flags.Lookup("auto-start"))
	mustBindFlag(v, serveDomoticzURLKey, "DOMOTICZ_URL", flags.Lookup("domoticz-url"))
	mustBindFlag(v, serveDomoticzUserKey, "DOMOTICZ_USERNAME", flags.Lookup("domoticz-username"))
	mustBindFlag(v, serveDomoticzPasswordKey, "DOMOTICZ_PASSWORD", flags.Lookup("domoticz-password"))
	mustBindFlag(v, serveAccessTokenKey, "DOMOTICZ_ACCESS_TOKEN", flags.Lookup("access-token"))
	mustBindFlag(v, serveBridgeEnabledKey, "OAUTH_BRIDGE_ENABLED", flags.Lookup("bridge-enabled"))
	mustBindFlag(v, serveBridgeBaseURLKey, "OAUTH_BRIDGE_BASE_URL", flags.Lookup("bridge-base-url"))
	mustBindFlag(v, serveBridgeForceHTTPSKey, "FORCE_HTTPS_BRIDGE", flags.Lookup("bridge-force-https"))
	mustBindFlag(v, serveBridgeTTLKey, "OAUTH_BRIDGE_TTL", flags.Lookup("bridge-ttl"))
	mustBindFlag(v, serveBridgeDebugPageKey, "OAUTH_BRIDGE_DEBUG_PAGE", flags.Lookup("bridge-debug-page"))
	mustBindFlag(v, serveLogFullCodesKey, "OAUTH_LOG_FULL_CODES", flags.Lookup("log-full-codes"))
	mustBindFlag(v, serveAuthCodesCapacityKey, "OAUTH_AUTH_CODES_CAPACITY", flags.Lookup("auth-codes-capacity"))
	mustBindFlag(v, serveTokenWorkersKey, "OAUTH_TOKEN_WORKERS", flags.Lookup("token-workers"))
	mustBindFlag(v, serveTokenTimeoutKey, "OAUTH_TOKEN_TIMEOUT", flags.Lookup("token-timeout"))
	mustBindFlag(v, serveRateLimitKey, "OAUTH_RATE_LIMIT", flags.Lookup("oauth-rate-limit"))
	mustBindFlag(v, serveTrustProxyKey, "OAUTH_TRUST_PROXY", flags.Lookup("trust-proxy"))
	mustBindFlag(v, serveDebugKey, "MCP_DEBUG", flags.Lookup("debug"))
	mustBindFlag(v, serveLogFormatKey, "MCP_LOG_FORMAT", flags.Lookup("log-format"))
	mustBindFlag(v, serveMetricsEnabledKey, "METRICS_ENABLED", flags.Lookup("metrics-enabled"))
	mustBindFlag(v, serveMetricsAddrKey, "METRICS_ADDR", flags.Lookup("metrics-addr"))
	mustBindFlag(v, serveInstrEnabledKey, "INSTRUMENTATION_ENABLED", flags.Lookup("instrumentation-enabled"))
	mustBindFlag(v, serveMetricsExporterKey, "METRICS_EXPORTER", flags.Lookup("metrics-exporter"))
	mustBindFlag(v, serveTracingExporterKey, "TRACING_EXPORTER", flags.Lookup("tracing-exporter"))
	mustBindFlag(v, serveOTLPEndpointKey, "OTEL_EXPORTER_OTLP_ENDPOINT", flags.Lookup("otlp-endpoint"))
	mustBindFlag(v, serveOTLPInsecureKey, "OTEL_EXPORTER_OTLP_INSECURE", flags.Lookup("otlp-insecure"))
	mustBindFlag(v, serveTraceSampleRateKey, "OTEL_TRACES_SAMPLER_ARG", flags.Lookup("trace-sample-rate"))
	mustBindFlag(v, serveDetailedLabelsKey, "METRICS_DETAILED_LABELS", flags.Lookup("metrics-detailed-labels"))
	mustBindFlag(v, serveAuditLogKey, "AUDIT_LOGGING_ENABLED", flags.Lookup("audit-log"))

	return cmd
}

// mustBindFlag binds flag to key and, when env is set, the environment
// variable env. Precedence is flag, then env, then the flag default.
func mustBindFlag(v *viper.Viper, key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := v.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func serveConfigFromViper(v *viper.Viper) (serveConfig, error) {
	cfg := serveConfig{
		Host:              strings.TrimSpace(v.GetString(serveHostKey)),
		Port:              v.GetInt(servePortKey),
		Transport:         strings.ToLower(strings.TrimSpace(v.GetString(serveTransportKey))),
		AutoStart:         v.GetBool(serveAutoStartKey),
		DomoticzURL:       strings.TrimRight(strings.TrimSpace(v.GetString(serveDomoticzURLKey)), "/"),
		DomoticzUsername:  v.GetString(serveDomoticzUserKey),
		DomoticzPassword:  v.GetString(serveDomoticzPasswordKey),
		AccessToken:       strings.TrimSpace(v.GetString(serveAccessTokenKey)),
		BridgeEnabled:     v.GetBool(serveBridgeEnabledKey),
		BridgeBaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString(serveBridgeBaseURLKey)), "/"),
		BridgeForceHTTPS:  v.GetBool(serveBridgeForceHTTPSKey),
		BridgeTTL:         v.GetDuration(serveBridgeTTLKey),
		BridgeDebugPage:   v.GetBool(serveBridgeDebugPageKey),
		LogFullCodes:      v.GetBool(serveLogFullCodesKey),
		AuthCodesCapacity: v.GetInt(serveAuthCodesCapacityKey),
		TokenWorkers:      v.GetInt(serveTokenWorkersKey),
		TokenTimeout:      v.GetDuration(serveTokenTimeoutKey),
		RateLimit:         v.GetInt(serveRateLimitKey),
		TrustProxy:        v.GetBool(serveTrustProxyKey),
		Debug:             v.GetBool(serveDebugKey),
		LogFormat:         strings.TrimSpace(v.GetString(serveLogFormatKey)),
		MetricsEnabled:    v.GetBool(serveMetricsEnabledKey),
		MetricsAddr:       strings.TrimSpace(v.GetString(serveMetricsAddrKey)),

		InstrumentationEnabled: v.GetBool(serveInstrEnabledKey),
		MetricsExporter:        strings.ToLower(strings.TrimSpace(v.GetString(serveMetricsExporterKey))),
		TracingExporter:        strings.ToLower(strings.TrimSpace(v.GetString(serveTracingExporterKey))),
		OTLPEndpoint:           strings.TrimSpace(v.GetString(serveOTLPEndpointKey)),
		OTLPInsecure:           v.GetBool(serveOTLPInsecureKey),
		TraceSampleRate:        v.GetFloat64(serveTraceSampleRateKey),
		DetailedLabels:         v.GetBool(serveDetailedLabelsKey),
		AuditLog:               v.GetBool(serveAuditLogKey),
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if err := cfg.validate(); err != nil {
		return serveConfig{}, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg serveConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	shutdownCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// stdout carries the stdio transport, so logs always go to stderr.
	logger := logging.NewLogger(os.Stderr, cfg.LogFormat, cfg.Debug)
	slog.SetDefault(logger)

	instrConfig := cfg.InstrumentationConfig()

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	var (
		metrics *instrumentation.Metrics
		audit   *instrumentation.AuditLogger
	)
	if provider.Enabled() {
		metrics = provider.Metrics()
		if instrConfig.Audit {
			audit = instrumentation.NewAuditLogger(logger)
		}
	}

	clientOpts := []domoticz.Option{
		domoticz.WithLogger(logging.NewSlogAdapter(logger)),
		domoticz.WithMetrics(metrics),
	}
	if cfg.DomoticzUsername != "" {
		clientOpts = append(clientOpts, domoticz.WithCredentials(cfg.DomoticzUsername, cfg.DomoticzPassword))
	}
	client, err := domoticz.NewClient(cfg.DomoticzURL, clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create domoticz client: %w", err)
	}

	scConfig := server.ServerContextConfig{
		Domoticz:    client,
		Metrics:     metrics,
		AuditLogger: audit,
		Logger:      logger,
		AccessToken: cfg.AccessToken,
	}

	if cfg.Transport == transportHTTP {
		oauthConfig := cfg.OAuthConfig()
		oauthConfig.Logger = logger
		oauthConfig.Metrics = metrics
		scConfig.OAuth, err = oauth.NewHandler(client, oauthConfig)
		if err != nil {
			return fmt.Errorf("failed to create OAuth handler: %w", err)
		}
	}

	sc, err := server.NewServerContext(shutdownCtx, scConfig)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := sc.Shutdown(); err != nil {
			logger.Warn("server context shutdown failed", logging.Err(err))
		}
	}()

	executor := domoticz_tools.NewExecutor(client, logging.NewSlogAdapter(logger))

	if cfg.Transport == transportStdio {
		return runStdioServer(shutdownCtx, sc, executor)
	}
	return runHTTPServer(shutdownCtx, sc, executor, provider, cfg)
}

func runStdioServer(ctx context.Context, sc *server.ServerContext, executor *domoticz_tools.Executor) error {
	logger := sc.Logger()
	if sc.AccessToken() == "" && !sc.Domoticz().HasCredentials() {
		logger.Warn("stdio transport without access token or credentials; Domoticz calls will be unauthenticated")
	}

	mcpSrv := mcpserver.NewMCPServer(server.ServerName, version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)
	if err := domoticz_tools.RegisterDomoticzTools(mcpSrv, sc, executor); err != nil {
		return fmt.Errorf("failed to register Domoticz tools: %w", err)
	}

	stdio := mcpserver.NewStdioServer(mcpSrv)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))

	logger.Info("serving MCP over stdio", slog.String("domoticz_url", sc.Domoticz().BaseURL()))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runHTTPServer(ctx context.Context, sc *server.ServerContext, executor *domoticz_tools.Executor, provider *instrumentation.Provider, cfg serveConfig) error {
	logger := sc.Logger()

	if cfg.MetricsEnabled && provider.Enabled() && provider.PrometheusEnabled() {
		metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("metrics server failed to start: %w", err)
		}
		logger.Info("metrics server started", slog.String("addr", metricsServer.Addr()))
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
			defer stopCancel()
			if err := metricsServer.Shutdown(stopCtx); err != nil {
				logger.Warn("metrics server shutdown failed", logging.Err(err))
			}
		}()
	}

	// Discovery failures are not fatal; /authorize and /token retry lazily.
	go func() {
		discoverCtx, discoverCancel := context.WithTimeout(ctx, 15*time.Second)
		defer discoverCancel()
		if err := sc.Domoticz().Discover(discoverCtx); err != nil {
			logger.Warn("OAuth discovery failed, will retry on demand", logging.Err(err))
		}
	}()

	handle, err := server.Start(ctx, server.Config{
		ServerContext: sc,
		Executor:      executor,
		Version:       version,
		Addr:          cfg.Addr(),
		Enabled:       cfg.AutoStart,
	})
	if err != nil {
		return fmt.Errorf("failed to start MCP server: %w", err)
	}

	if handle.Mode() == server.ModeDisabled {
		logger.Info("auto-start disabled, HTTP listener not started")
		return nil
	}

	logger.Info("MCP server listening",
		slog.String("addr", handle.Addr()),
		slog.String("domoticz_url", sc.Domoticz().BaseURL()),
		slog.Bool("bridge_enabled", cfg.BridgeEnabled))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-handle.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer stopCancel()
	if err := handle.Stop(stopCtx); err != nil {
		return fmt.Errorf("error during server shutdown: %w", err)
	}
	return handle.Err()
}
