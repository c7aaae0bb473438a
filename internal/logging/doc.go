// Package logging provides structured logging utilities for the domoticz-mcp server.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - Secret masking for bearer tokens and OAuth authorization codes
//   - Consistent attribute naming across the codebase
//   - Logger adapter interface for flexibility
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "oauth.authorize")
//	logger.Info("forwarding authorization request",
//	    logging.Status("success"))
//
// Mask sensitive data before logging:
//
//	logger.Info("callback received",
//	    logging.State(state),
//	    logging.Code(code))
//
// # Security Considerations
//
//   - Authorization codes are reduced to a short prefix unless full-code logging is enabled
//   - Tokens are never logged directly
package logging
