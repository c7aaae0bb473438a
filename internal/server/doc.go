// Package server provides the server context and the HTTP surface of the
// Domoticz MCP bridge.
//
// # Key Components
//
// ServerContext holds the Domoticz client, the OAuth proxy handler and the
// instrumentation sinks. It is created once at startup and passed to every
// handler.
//
// MCPHandler is a stateless JSON-RPC 2.0 dispatcher for POST /mcp:
//   - initialize, ping, tools/list, logging/setLevel
//   - tools/call, which requires an "Authorization: Bearer" header and
//     forwards the token to Domoticz
//
// HTTPServer routes /mcp, /health, /healthz, /readyz, /info and the OAuth
// proxy endpoints (/authorize, /token, /redirect_bridge, /last_auth_codes)
// behind request ID, CORS, tracing and metrics middleware.
//
// Start binds the listener and returns a Handle. A disabled configuration
// yields a Handle in ModeDisabled that never binds.
//
// MetricsServer exposes Prometheus metrics on a separate port.
package server
