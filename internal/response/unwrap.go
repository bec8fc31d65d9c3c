// Package response turns MCP tool-call results into JSON-RPC result values.
//
// The teacher's version of this package (internal/response/unwrap.go) flattens
// a CallToolResult into CLI stdout bytes, writing images and resources to temp
// files because a CLI's stdout is flat text. This proxy forwards results to an
// MCP client over JSON-RPC, which can carry the same structured value the
// child server produced, so no flattening happens here: content blocks and
// structured content pass through as the typed JSON values they already are.
package response

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToResult marshals a CallToolResult into the JSON-RPC "result" payload for
// tools/call. A nil result is treated as a tool that returned nothing.
func ToResult(result *mcp.CallToolResult) (json.RawMessage, error) {
	if result == nil {
		result = &mcp.CallToolResult{}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling tool result: %w", err)
	}
	return raw, nil
}

// IsToolError reports whether a result represents a tool-level failure
// (isError:true), which per spec is carried as a normal successful JSON-RPC
// response rather than a JSON-RPC error object.
func IsToolError(result *mcp.CallToolResult) bool {
	return result != nil && result.IsError
}

// TextError builds a CallToolResult carrying a single text content block with
// isError set, for synthesizing a tool-shaped error from proxy-side failures
// (e.g. a child restart that still leaves the call unresolved).
func TextError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: message},
		},
	}
}
