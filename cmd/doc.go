// Package cmd implements the command-line interface for domoticz-mcp.
//
// This package provides the following commands:
//   - serve: Start the MCP server (streamable-http or stdio transport)
//   - healthcheck: Probe a running server's /health endpoint
//   - generate-docs: Generate markdown documentation for all MCP tools
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
// Its flags are bound through viper so that every setting can also come from
// the environment.
package cmd
