package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Redirect bridge events
	AuditEventBridgeStored    AuditEventType = "bridge_stored"
	AuditEventBridgeForwarded AuditEventType = "bridge_forwarded"
	AuditEventUnknownState    AuditEventType = "bridge_unknown_state"
	AuditEventBridgeRejected  AuditEventType = "bridge_rejected"

	// Token proxy events
	AuditEventTokenExchanged AuditEventType = "token_exchanged"
	AuditEventTokenFailed    AuditEventType = "token_failed"

	// Security events
	AuditEventRateLimitExceeded AuditEventType = "rate_limit_exceeded"
	AuditEventSecretStripped    AuditEventType = "client_secret_stripped"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	// Timestamp when the event occurred
	Timestamp time.Time

	// EventType is the type of audit event
	EventType AuditEventType

	// ClientID is the client_id the MCP client sent, when known
	ClientID string

	// IPAddress is the source IP address (for security monitoring)
	IPAddress string

	// State is the OAuth state of the transaction
	State string

	// CodeHash is a hash of the authorization code, never the code itself
	CodeHash string

	// Success indicates if the operation succeeded
	Success bool

	// ErrorMessage contains error details if Success is false
	ErrorMessage string

	// Metadata contains additional context-specific data
	Metadata map[string]string
}

// AuditLogger writes OAuth proxy audit events. Authorization codes are
// hashed before logging and tokens are never passed in.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger: logger,
	}
}

// LogEvent logs an audit event with structured logging
func (a *AuditLogger) LogEvent(event AuditEvent) {
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}

	switch event.EventType {
	case AuditEventUnknownState, AuditEventBridgeRejected, AuditEventRateLimitExceeded:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event_type", string(event.EventType)),
		slog.Time("timestamp", event.Timestamp),
		slog.Bool("success", event.Success),
	}

	if event.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", event.ClientID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.State != "" {
		attrs = append(attrs, slog.String("state", event.State))
	}
	if event.CodeHash != "" {
		attrs = append(attrs, slog.String("code_hash", event.CodeHash))
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", event.ErrorMessage))
	}

	for key, value := range event.Metadata {
		attrs = append(attrs, slog.String("meta_"+key, value))
	}

	a.logger.LogAttrs(context.Background(), level, "audit_event", attrs...)
}

// LogBridgeStored logs that /authorize swapped a loopback redirect for the bridge
func (a *AuditLogger) LogBridgeStored(clientID, ipAddress, state, originalRedirect string, generatedState bool) {
	a.LogEvent(AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditEventBridgeStored,
		ClientID:  clientID,
		IPAddress: ipAddress,
		State:     state,
		Success:   true,
		Metadata: map[string]string{
			"original_redirect": originalRedirect,
			"generated_state":   strconv.FormatBool(generatedState),
		},
	})
}

// LogBridgeForwarded logs a callback forwarded to the client's loopback redirect
func (a *AuditLogger) LogBridgeForwarded(ipAddress, state, code, providerErr string) {
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditEventBridgeForwarded,
		IPAddress: ipAddress,
		State:     state,
		CodeHash:  codeHash(code),
		Success:   providerErr == "",
	}
	if providerErr != "" {
		event.ErrorMessage = providerErr
	}
	a.LogEvent(event)
}

// LogUnknownState logs a callback whose state was never stored, already used or expired
func (a *AuditLogger) LogUnknownState(ipAddress, state string) {
	a.LogEvent(AuditEvent{
		Timestamp:    time.Now(),
		EventType:    AuditEventUnknownState,
		IPAddress:    ipAddress,
		State:        state,
		Success:      false,
		ErrorMessage: ErrUnknownState.Error(),
	})
}

// LogBridgeRejected logs a callback that could not be forwarded
func (a *AuditLogger) LogBridgeRejected(ipAddress, state, reason string) {
	a.LogEvent(AuditEvent{
		Timestamp:    time.Now(),
		EventType:    AuditEventBridgeRejected,
		IPAddress:    ipAddress,
		State:        state,
		Success:      false,
		ErrorMessage: reason,
	})
}

// LogTokenExchange logs a relayed token response. status is 0 when the
// upstream request failed before a response arrived.
func (a *AuditLogger) LogTokenExchange(clientID, ipAddress, grantType string, status int, errMsg string) {
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditEventTokenExchanged,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Success:   status > 0 && status < 400,
		Metadata: map[string]string{
			"grant_type":  grantType,
			"status_code": strconv.Itoa(status),
		},
	}
	if !event.Success {
		event.EventType = AuditEventTokenFailed
		event.ErrorMessage = errMsg
	}
	a.LogEvent(event)
}

// LogRateLimitExceeded logs when rate limit is exceeded
func (a *AuditLogger) LogRateLimitExceeded(ipAddress, path string) {
	a.LogEvent(AuditEvent{
		Timestamp:    time.Now(),
		EventType:    AuditEventRateLimitExceeded,
		IPAddress:    ipAddress,
		Success:      false,
		ErrorMessage: "Rate limit exceeded",
		Metadata: map[string]string{
			"path": path,
		},
	})
}

// LogSecretStripped logs that a client_secret was removed from /authorize
func (a *AuditLogger) LogSecretStripped(clientID, ipAddress string) {
	a.LogEvent(AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditEventSecretStripped,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Success:   true,
	})
}

// codeHash returns a 16 hex digit SHA-256 prefix of code so repeated
// redemptions of one code can be correlated without logging it.
func codeHash(code string) string {
	if code == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:8])
}
