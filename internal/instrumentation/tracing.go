package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every span the bridge creates.
const TracerName = "github.com/galadril/domoticz-mcp"

// Span attribute keys.
const (
	SpanAttrTool           = "mcp.tool"
	SpanAttrReadOnly       = "mcp.read_only"
	SpanAttrCommand        = "domoticz.command"
	SpanAttrIdx            = "domoticz.idx"
	SpanAttrOAuthOperation = "oauth.operation"

	// SpanAttrBridged reports whether /authorize rewrote the redirect_uri.
	SpanAttrBridged = "oauth.bridged"
)

// ToolTarget describes what a tool call reads in Domoticz. Every tool is
// read-only; command and idx are omitted when empty.
func ToolTarget(command, idx string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Bool(SpanAttrReadOnly, true)}
	if command != "" {
		attrs = append(attrs, attribute.String(SpanAttrCommand, command))
	}
	if idx != "" {
		attrs = append(attrs, attribute.String(SpanAttrIdx, idx))
	}
	return attrs
}

// StartToolSpan starts the server span "tool.<name>" of a tools/call.
// name must already be normalized with NormalizeTool.
func StartToolSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, "tool", SpanAttrTool, name, trace.SpanKindServer, attrs)
}

// StartDomoticzSpan starts the client span "domoticz.<command>" of a
// json.htm call.
func StartDomoticzSpan(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, "domoticz", SpanAttrCommand, command, trace.SpanKindClient, attrs)
}

// StartOAuthSpan starts the span "oauth.<operation>" of one OAuth proxy
// step (discovery, authorize, redirect_bridge, token).
func StartOAuthSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, "oauth", SpanAttrOAuthOperation, operation, trace.SpanKindInternal, attrs)
}

func startSpan(ctx context.Context, prefix, key, name string, kind trace.SpanKind, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+1)
	all = append(all, attribute.String(key, name))
	all = append(all, attrs...)
	return otel.Tracer(TracerName).Start(ctx, prefix+"."+name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(all...),
	)
}

// SetSpanError marks span as failed with err. A nil err is ignored.
func SetSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks span as OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// SpanIDs returns the trace and span id of the span in ctx, or two empty
// strings when ctx carries no recording span context.
func SpanIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
