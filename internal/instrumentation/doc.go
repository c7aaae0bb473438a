// Package instrumentation provides OpenTelemetry instrumentation
// for the domoticz-mcp server.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Domoticz API Metrics:
//   - domoticz_api_operations_total: Counter of json.htm calls by command and status
//   - domoticz_api_operation_duration_seconds: Histogram of json.htm call durations
//
// OAuth Proxy Metrics:
//   - oauth_discovery_total: Counter of discovery attempts by result
//   - oauth_bridge_events_total: Counter of redirect bridge events by kind
//   - oauth_bridge_pending: Gauge of bridge entries awaiting a callback
//   - oauth_token_exchanges_total: Counter of proxied token requests by upstream status
//   - oauth_token_exchange_duration_seconds: Histogram of proxied token request durations
//
// MCP Tool Metrics:
//   - mcp_tool_invocations_total: Counter of MCP tool invocations by tool name and status
//   - mcp_tool_duration_seconds: Histogram of MCP tool execution durations
//
// # Tracing
//
// Spans are created for MCP tool invocations (tool.<name>), Domoticz API
// calls (domoticz.<command>) and OAuth proxy steps (oauth.<operation>).
//
// # Configuration
//
// The serve command builds a Config from its flags (each also settable
// through the environment variable in parentheses):
//   - --instrumentation-enabled (INSTRUMENTATION_ENABLED), default true
//   - --metrics-exporter (METRICS_EXPORTER): prometheus, otlp or console
//   - --tracing-exporter (TRACING_EXPORTER): none, otlp or console
//   - --otlp-endpoint (OTEL_EXPORTER_OTLP_ENDPOINT), required by otlp
//   - --trace-sample-rate (OTEL_TRACES_SAMPLER_ARG), default 0.1
//   - --audit-log (AUDIT_LOGGING_ENABLED), default true
//
// Console exporters write to stderr. The exported resource carries the
// Domoticz host, the MCP transport and whether the redirect bridge is on.
//
// # Example Usage
//
//	cfg := instrumentation.DefaultConfig()
//	cfg.Deployment = instrumentation.Deployment{Version: version, DomoticzURL: url, Transport: "stdio"}
//	provider, err := instrumentation.NewProvider(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	recorder := provider.Metrics()
//	recorder.RecordDomoticzOperation(ctx, "getdevices", "success", time.Since(start))
package instrumentation
