// Package common provides shared helpers for the MCP tool packages:
// argument parsing, result conversion and the instrumentation wrapper used
// by both the HTTP dispatcher and the stdio transport.
package common
