package common

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/galadril/domoticz-mcp/internal/instrumentation"
)

// Recorder provides the optional instrumentation sinks. Both methods may
// return nil. *server.ServerContext implements it.
type Recorder interface {
	Metrics() *instrumentation.Metrics
	AuditLogger() *instrumentation.AuditLogger
}

// ToolExecutor runs a named tool and returns a JSON-serializable result.
// Failures are reported as a map with an "error" key.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any, accessToken string) map[string]any
	Command(name string) string
}

// InstrumentedExecute runs the tool through exec inside a tool span, records
// the invocation metrics and writes an audit entry. Names exec does not
// serve are recorded as instrumentation.ToolUnknown in spans and metrics;
// the audit entry keeps the name as sent.
//
// Usage:
//
//	result := common.InstrumentedExecute(ctx, sc, executor, name, args, token)
func InstrumentedExecute(
	ctx context.Context,
	rec Recorder,
	exec ToolExecutor,
	toolName string,
	args map[string]any,
	accessToken string,
) map[string]any {
	command := exec.Command(toolName)
	idx := idxFromArgs(args)
	label := instrumentation.NormalizeTool(toolName, command != "")

	ctx, span := instrumentation.StartToolSpan(ctx, label, instrumentation.ToolTarget(command, idx)...)
	defer span.End()

	var metrics *instrumentation.Metrics
	var auditLogger *instrumentation.AuditLogger
	if rec != nil {
		metrics = rec.Metrics()
		auditLogger = rec.AuditLogger()
	}

	invocation := instrumentation.NewToolInvocation(toolName).
		WithTarget(command, idx).
		WithCaller(instrumentation.RequestIDFromContext(ctx), accessToken).
		WithSpanContext(ctx)

	start := time.Now()
	result := exec.Execute(ctx, toolName, args, accessToken)
	duration := time.Since(start)

	status := instrumentation.StatusSuccess
	if errMsg, failed := ResultError(result); failed {
		status = instrumentation.StatusError
		invocation.Complete(false, errMsg)
		instrumentation.SetSpanError(span, fmt.Errorf("%s", errMsg))
	} else {
		invocation.Complete(true, "")
		instrumentation.SetSpanSuccess(span)
	}

	metrics.RecordToolInvocationWithIdx(ctx, label, status, idx, duration)
	auditLogger.LogToolInvocation(invocation)

	return result
}

// idxFromArgs renders the idx argument for labels and audit entries.
func idxFromArgs(args map[string]any) string {
	idx, ok, err := IntArg(args, "idx")
	if !ok || err != nil {
		return ""
	}
	return strconv.Itoa(idx)
}
