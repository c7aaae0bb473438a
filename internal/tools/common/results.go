package common

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ResultError reports whether result carries an "error" key and returns its
// message.
func ResultError(result map[string]any) (string, bool) {
	raw, ok := result["error"]
	if !ok {
		return "", false
	}
	if s, ok := raw.(string); ok {
		return s, true
	}
	return fmt.Sprint(raw), true
}

// MarshalResult renders result as indented JSON, the text placed into a
// tool call's content.
func MarshalResult(result map[string]any) string {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		b, _ = json.Marshal(map[string]any{"error": fmt.Sprintf("failed to encode result: %v", err)})
	}
	return string(b)
}

// ToolResult converts an executor result into an mcp-go tool result,
// flagging results that carry an "error" key.
func ToolResult(result map[string]any) *mcp.CallToolResult {
	text := MarshalResult(result)
	if _, failed := ResultError(result); failed {
		return mcp.NewToolResultError(text)
	}
	return mcp.NewToolResultText(text)
}
