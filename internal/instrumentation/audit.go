package instrumentation

import (
	"context"
	"log/slog"
	"time"
)

// ToolInvocation captures one MCP tool call for audit logging.
//
// The caller's bearer token is never stored here; TokenLength is enough to
// tell an empty header from a real one when reading the audit stream.
type ToolInvocation struct {
	Tool string

	// Downstream target
	Command string // json.htm "param" value
	Idx     string // device or scene index, when the tool takes one

	// Caller
	TokenLength int
	RequestID   string

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Tracing context
	TraceID string
	SpanID  string
}

// Status returns "success" or "error" based on the Success field.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns slog attributes for structured logging.
func (ti *ToolInvocation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}

	if ti.Command != "" {
		attrs = append(attrs, slog.String("command", ti.Command))
	}
	if ti.Idx != "" {
		attrs = append(attrs, slog.String("idx", ti.Idx))
	}
	if ti.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", ti.RequestID))
	}
	if ti.TokenLength > 0 {
		attrs = append(attrs, slog.Int("token_length", ti.TokenLength))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID))
	}
	if ti.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String("error", ti.Error))
	}

	return attrs
}

// NewToolInvocation creates a new ToolInvocation with timing started.
// Call Complete() when the tool operation finishes.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{
		Tool:      tool,
		StartTime: time.Now(),
	}
}

// WithTarget sets the Domoticz command and index.
func (ti *ToolInvocation) WithTarget(command, idx string) *ToolInvocation {
	ti.Command = command
	ti.Idx = idx
	return ti
}

// WithCaller records the request id and the length of the caller's token.
func (ti *ToolInvocation) WithCaller(requestID, token string) *ToolInvocation {
	ti.RequestID = requestID
	ti.TokenLength = len(token)
	return ti
}

// WithSpanContext extracts trace context from the current span.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	ti.TraceID, ti.SpanID = SpanIDs(ctx)
	return ti
}

// Complete marks the invocation as completed and calculates duration.
func (ti *ToolInvocation) Complete(success bool, errMsg string) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	ti.Error = errMsg
	return ti
}

// AuditLogger writes one structured entry per tool invocation. A nil
// *AuditLogger discards everything.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates an AuditLogger writing to logger, or to
// slog.Default when logger is nil.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger.With(slog.String("component", "audit"))}
}

// LogToolInvocation logs a finished tool invocation.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || ti == nil {
		return
	}

	attrs := ti.LogAttrs()
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if ti.Success {
		al.logger.Info("tool_executed", args...)
	} else {
		al.logger.Warn("tool_failed", args...)
	}
}
