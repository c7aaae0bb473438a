// Package domoticz_tools provides the MCP tools that query a Domoticz
// controller through its json.htm API.
//
// Available tools (all read-only):
//   - domoticz_get_version - Domoticz version information (param=getversion)
//   - domoticz_list_devices - Device listing with optional filter and used flag (param=getdevices)
//   - domoticz_device_status - A single device by idx (param=getdevices&rid=<idx>)
//   - domoticz_list_scenes - Scenes and groups (param=getscenes)
//   - domoticz_get_log - Log entries by type (param=getlog)
//
// The Executor is shared by both transports. The HTTP dispatcher in
// internal/server calls it directly with the caller's bearer token, and
// RegisterDomoticzTools exposes the same tools through an mcp-go server for
// the stdio transport.
//
// Example usage:
//
//	# Only devices that are in use, lights only
//	domoticz_list_devices(filter="light", used=true)
//
//	# A single device
//	domoticz_device_status(idx=42)
package domoticz_tools
