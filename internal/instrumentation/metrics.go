package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrCommand = "command"
	attrResult  = "result"
	attrEvent   = "event"
	attrTool    = "tool"
	attrIdx     = "idx"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Domoticz API metrics
	domoticzOperationsTotal   metric.Int64Counter
	domoticzOperationDuration metric.Float64Histogram

	// OAuth bridge metrics
	discoveryTotal       metric.Int64Counter
	bridgeEventsTotal    metric.Int64Counter
	bridgePending        metric.Int64UpDownCounter
	tokenExchangesTotal  metric.Int64Counter
	tokenExchangeLatency metric.Float64Histogram

	// MCP Tool metrics
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	// HTTP Metrics
	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	// Domoticz API Metrics
	m.domoticzOperationsTotal, err = meter.Int64Counter(
		"domoticz_api_operations_total",
		metric.WithDescription("Total number of Domoticz JSON API calls"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create domoticz_api_operations_total counter: %w", err)
	}

	m.domoticzOperationDuration, err = meter.Float64Histogram(
		"domoticz_api_operation_duration_seconds",
		metric.WithDescription("Domoticz JSON API call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create domoticz_api_operation_duration_seconds histogram: %w", err)
	}

	// OAuth Metrics
	m.discoveryTotal, err = meter.Int64Counter(
		"oauth_discovery_total",
		metric.WithDescription("Total number of OpenID configuration discovery attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_discovery_total counter: %w", err)
	}

	m.bridgeEventsTotal, err = meter.Int64Counter(
		"oauth_bridge_events_total",
		metric.WithDescription("Redirect bridge events by kind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_bridge_events_total counter: %w", err)
	}

	m.bridgePending, err = meter.Int64UpDownCounter(
		"oauth_bridge_pending",
		metric.WithDescription("Redirect bridge entries awaiting a callback"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_bridge_pending gauge: %w", err)
	}

	m.tokenExchangesTotal, err = meter.Int64Counter(
		"oauth_token_exchanges_total",
		metric.WithDescription("Token requests proxied to the authorization server"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_exchanges_total counter: %w", err)
	}

	m.tokenExchangeLatency, err = meter.Float64Histogram(
		"oauth_token_exchange_duration_seconds",
		metric.WithDescription("Proxied token request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_exchange_duration_seconds histogram: %w", err)
	}

	// MCP Tool Metrics
	m.toolInvocationsTotal, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, NormalizePath(path)),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordDomoticzOperation records a Domoticz JSON API call.
//
// Parameters:
//   - command: the json.htm "param" value (getdevices, getscenes, ...)
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the call
func (m *Metrics) RecordDomoticzOperation(ctx context.Context, command, status string, duration time.Duration) {
	if m == nil || m.domoticzOperationsTotal == nil || m.domoticzOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrCommand, command),
		attribute.String(attrStatus, status),
	}

	m.domoticzOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.domoticzOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordDiscovery records an OpenID configuration discovery attempt.
// Result should be one of: "success", "failure"
func (m *Metrics) RecordDiscovery(ctx context.Context, result string) {
	if m == nil || m.discoveryTotal == nil {
		return
	}
	m.discoveryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordBridgeEvent records a redirect bridge event and keeps the pending
// gauge in step: stored entries add one, forwarded entries remove one.
func (m *Metrics) RecordBridgeEvent(ctx context.Context, event string) {
	if m == nil || m.bridgeEventsTotal == nil {
		return
	}
	m.bridgeEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrEvent, event)))

	if m.bridgePending == nil {
		return
	}
	switch event {
	case BridgeEventStored:
		m.bridgePending.Add(ctx, 1)
	case BridgeEventForwarded, BridgeEventRejected:
		m.bridgePending.Add(ctx, -1)
	}
}

// RecordBridgeExpired removes purged entries from the pending gauge.
func (m *Metrics) RecordBridgeExpired(ctx context.Context, n int) {
	if m == nil || m.bridgePending == nil || n == 0 {
		return
	}
	m.bridgePending.Add(ctx, -int64(n))
}

// RecordTokenExchange records a proxied token request with the upstream
// status code (0 when the upstream could not be reached).
func (m *Metrics) RecordTokenExchange(ctx context.Context, statusCode int, duration time.Duration) {
	if m == nil || m.tokenExchangesTotal == nil || m.tokenExchangeLatency == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.tokenExchangesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.tokenExchangeLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordToolInvocation records an MCP tool invocation with tool name, status, and duration.
//
// Parameters:
//   - toolName: Name of the MCP tool (e.g., "domoticz_list_devices")
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the tool execution
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	m.RecordToolInvocationWithIdx(ctx, toolName, status, "", duration)
}

// RecordToolInvocationWithIdx records an MCP tool invocation and, when
// detailed labels are enabled, the Domoticz device idx it targeted.
func (m *Metrics) RecordToolInvocationWithIdx(ctx context.Context, toolName, status, idx string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	if m.detailedLabels && idx != "" {
		attrs = append(attrs, attribute.String(attrIdx, idx))
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
