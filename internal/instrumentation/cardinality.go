package instrumentation

// Cardinality management helpers for metrics.
// Unbounded label values (arbitrary request paths, device ids) inflate
// memory in Prometheus and slow queries, so labels pass through these first.

// PathOther is the label used for any path the server does not route.
const PathOther = "other"

var knownPaths = map[string]struct{}{
	"/mcp":              {},
	"/health":           {},
	"/healthz":          {},
	"/readyz":           {},
	"/info":             {},
	"/authorize":        {},
	"/token":            {},
	"/redirect_bridge":  {},
	"/last_auth_codes":  {},
	"/healthz/detailed": {},
}

// NormalizePath maps a request path onto the fixed set of routed paths.
//
// Example:
//
//	NormalizePath("/mcp")           // "/mcp"
//	NormalizePath("/wp-login.php")  // "other"
func NormalizePath(path string) string {
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return PathOther
}

// ToolUnknown is the tool label for names the executor does not serve.
const ToolUnknown = "unknown"

// NormalizeTool returns name when served is true and ToolUnknown otherwise.
// tools/call accepts any string as the tool name, so only names from the
// executor's fixed tool list may become label values.
func NormalizeTool(name string, served bool) string {
	if !served || name == "" {
		return ToolUnknown
	}
	return name
}
