package child

import (
	"context"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mcpmux/mcpx/internal/config"
)

const protocolVersion = "2025-06-18"

// connection wraps one live MCP client, grounded on the teacher's
// internal/mcppool/connection type. Tests construct fakes by setting the
// func fields directly, bypassing the real subprocess spawn below.
type connection struct {
	listTools             func(ctx context.Context) ([]mcp.Tool, error)
	callTool              func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	cancel                func(ctx context.Context, requestID string) error
	ping                  func(ctx context.Context) error
	close                 func() error
	listPrompts           func(ctx context.Context) ([]mcp.Prompt, error)
	getPrompt             func(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)
	listResources         func(ctx context.Context) ([]mcp.Resource, error)
	listResourceTemplates func(ctx context.Context) ([]mcp.ResourceTemplate, error)
	readResource          func(ctx context.Context, uri string) ([]mcp.ResourceContents, error)
	capabilities          mcp.ServerCapabilities
}

// connectStdio spawns a child MCP server over stdio and performs the
// initialize handshake, the same sequence as the teacher's
// internal/mcppool/stdio.go, using mark3labs/mcp-go's client package instead
// of hand-rolled JSON-RPC framing.
func connectStdio(ctx context.Context, name string, spec config.ServerSpec) (*connection, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	c, err := mcpclient.NewStdioMCPClient(spec.Command, env, spec.Args...)
	if err != nil {
		return nil, fmt.Errorf("spawning %s: %w", name, err)
	}

	initResult, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "mcpx",
				Version: "0.1.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initializing %s: %w", name, err)
	}

	return &connection{
		capabilities: initResult.Capabilities,
		listTools: func(ctx context.Context) ([]mcp.Tool, error) {
			result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
			if err != nil {
				return nil, err
			}
			return result.Tools, nil
		},
		callTool: func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
			return c.CallTool(ctx, mcp.CallToolRequest{
				Params: mcp.CallToolParams{
					Name:      name,
					Arguments: args,
				},
			})
		},
		cancel: func(ctx context.Context, requestID string) error {
			return c.GetTransport().SendNotification(ctx, mcp.JSONRPCNotification{
				JSONRPC: mcp.JSONRPC_VERSION,
				Notification: mcp.Notification{
					Method: "notifications/cancelled",
					Params: mcp.NotificationParams{
						AdditionalFields: map[string]any{
							"requestId": requestID,
						},
					},
				},
			})
		},
		ping: func(ctx context.Context) error {
			return c.Ping(ctx)
		},
		close: func() error {
			return c.Close()
		},
		listPrompts: func(ctx context.Context) ([]mcp.Prompt, error) {
			result, err := c.ListPrompts(ctx, mcp.ListPromptsRequest{})
			if err != nil {
				return nil, err
			}
			return result.Prompts, nil
		},
		getPrompt: func(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
			return c.GetPrompt(ctx, mcp.GetPromptRequest{
				Params: mcp.GetPromptParams{Name: name, Arguments: args},
			})
		},
		listResources: func(ctx context.Context) ([]mcp.Resource, error) {
			result, err := c.ListResources(ctx, mcp.ListResourcesRequest{})
			if err != nil {
				return nil, err
			}
			return result.Resources, nil
		},
		listResourceTemplates: func(ctx context.Context) ([]mcp.ResourceTemplate, error) {
			result, err := c.ListResourceTemplates(ctx, mcp.ListResourceTemplatesRequest{})
			if err != nil {
				return nil, err
			}
			return result.ResourceTemplates, nil
		},
		readResource: func(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
			result, err := c.ReadResource(ctx, mcp.ReadResourceRequest{
				Params: mcp.ReadResourceParams{URI: uri},
			})
			if err != nil {
				return nil, err
			}
			return result.Contents, nil
		},
	}, nil
}

// isConnectionError reports whether err indicates the child process's pipe
// broke rather than the tool call itself failing, the Go-idiomatic
// equivalent of original_source/child.rs's is_connection_error substring
// check (which inspected hand-rolled "Write error"/"Read error" messages;
// mcp-go's client surfaces the underlying pipe/EOF errors instead).
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"closed pipe", "broken pipe", "eof", "connection reset", "file already closed", "process already finished"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
