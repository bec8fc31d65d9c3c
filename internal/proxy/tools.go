package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mcpmux/mcpx/internal/protocol"
	"github.com/mcpmux/mcpx/internal/response"
	"github.com/mark3labs/mcp-go/mcp"
)

// maxDiscoverResults clamps top_k/max_results, resolving spec.md §9's Open
// Question about original_source's looser 50-result clamp: spec.md §4.5
// names 30 explicitly, so that wins over original_source's number.
const maxDiscoverResults = 30

// discoverDescriptionBudget matches original_source's handle_discover, which
// truncates each match's description to 200 characters before returning it —
// full descriptions are still available via execute's underlying tool schema,
// this only bounds the size of the discover response itself.
const discoverDescriptionBudget = 200

// truncateDescription trims s to at most n runes, appending an ellipsis when
// truncated, without splitting a multi-byte rune.
func truncateDescription(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// sortedServerNames returns every enabled server name, sorted. A server
// marked "disabled" in config.json is excluded here so it never appears in
// the discover/execute catalog, cold-cache generation, or the passthrough
// tool list, matching spec.md §6's servers.<name>.disabled flag.
func (s *Server) sortedServerNames() []string {
	cfg := s.Config()
	names := make([]string, 0, len(cfg.Servers))
	for name, spec := range cfg.Servers {
		if spec.Disabled {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) handleToolsList(id json.RawMessage) *protocol.Response {
	cfg := s.Config()
	var tools []mcp.Tool
	if cfg.Settings.EffectiveMode() == "passthrough" {
		tools = s.getPassthroughTools()
	} else {
		tools = s.getDiscoverTools()
	}
	raw, err := json.Marshal(map[string]any{"tools": tools})
	if err != nil {
		return protocol.Fail(id, protocol.CodeInternalError, err.Error(), nil)
	}
	return protocol.Success(id, raw)
}

// getDiscoverTools returns the two meta-tools, their descriptions embedding
// the sorted server-name catalog per spec.md §4.3/§4.5, the concrete shape
// original_source's get_discover_tools uses.
func (s *Server) getDiscoverTools() []mcp.Tool {
	serverList := strings.Join(s.sortedServerNames(), ", ")

	discoverDesc := fmt.Sprintf(
		"Search for available MCP tools across all connected servers. Returns matching tools with full schemas. "+
			"Available servers: [%s]. Call this first when you need to find the right tool for a task. "+
			"Then use 'execute' with the server and tool names from the results.",
		serverList,
	)
	executeDesc := fmt.Sprintf(
		"Execute a tool on a specific MCP server. Available servers: [%s]. "+
			"If you don't know the exact tool name, call 'discover' first with a natural language query.",
		serverList,
	)

	return []mcp.Tool{
		{
			Name:        "discover",
			Description: discoverDesc,
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Natural language search query (e.g. 'deploy worker', 'send email')",
					},
					"max_results": map[string]any{
						"type":        "number",
						"description": "Max results to return (default 10, max 30)",
						"default":     10,
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "execute",
			Description: executeDesc,
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"server": map[string]any{
						"type":        "string",
						"description": fmt.Sprintf("Server name. One of: %s", serverList),
					},
					"tool": map[string]any{
						"type":        "string",
						"description": "Tool name (from discover results, or a known tool name)",
					},
					"arguments": map[string]any{
						"type":        "object",
						"description": "Tool arguments matching the tool's inputSchema",
						"default":     map[string]any{},
					},
				},
				Required: []string{"server", "tool"},
			},
		},
	}
}

// getPassthroughTools exposes every cached tool, prefixing a name with
// "<server>__" only when it collides with another server's tool name,
// unless settings.prefixTools forces prefixing unconditionally, per
// spec.md §4.5.
func (s *Server) getPassthroughTools() []mcp.Tool {
	catalog := s.Engine.Catalog()
	forceAll := s.Config().Settings.PrefixTools

	nameCounts := make(map[string]int, len(catalog))
	for _, entry := range catalog {
		nameCounts[entry.Name]++
	}

	tools := make([]mcp.Tool, 0, len(catalog))
	for _, entry := range catalog {
		doc, ok := s.Engine.FindTool(entry.Server, entry.Name)
		if !ok {
			continue
		}
		t := doc.Tool
		if forceAll || nameCounts[entry.Name] > 1 {
			t.Name = doc.PrefixedName
		} else {
			t.Name = doc.OriginalName
		}
		tools = append(tools, t)
	}
	return tools
}

func (s *Server) handleToolsCall(ctx context.Context, id json.RawMessage, params json.RawMessage) *protocol.Response {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return protocol.Fail(id, protocol.CodeInvalidParams, "invalid tools/call params", nil)
	}
	if len(call.Arguments) == 0 {
		call.Arguments = json.RawMessage(`{}`)
	}

	checkCancelled, done := s.TrackCancellable(id)
	defer done()

	if s.Config().Settings.EffectiveMode() == "passthrough" {
		return s.handlePassthroughCall(ctx, id, call.Name, call.Arguments, checkCancelled)
	}

	switch call.Name {
	case "discover":
		return s.handleDiscover(id, call.Arguments)
	case "execute":
		return s.handleExecute(ctx, id, call.Arguments, checkCancelled)
	default:
		return protocol.Fail(id, protocol.CodeToolNotFound, fmt.Sprintf("Unknown tool: %s. Use 'discover' first.", call.Name), nil)
	}
}

func (s *Server) handleDiscover(id json.RawMessage, argsJSON json.RawMessage) *protocol.Response {
	var args struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
		TopK       int    `json:"top_k"`
	}
	_ = json.Unmarshal(argsJSON, &args)

	topK := args.MaxResults
	if topK == 0 {
		topK = args.TopK
	}
	if topK <= 0 {
		topK = 10
	}
	if topK > maxDiscoverResults {
		topK = maxDiscoverResults
	}

	results := s.Engine.Search(args.Query, topK)

	type match struct {
		Server      string          `json:"server"`
		ToolName    string          `json:"tool_name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
		Relevance   float64         `json:"relevance"`
	}
	matches := make([]match, 0, len(results))
	for _, r := range results {
		schema := stripSchema(rawSchema(r.Document.Tool))
		matches = append(matches, match{
			Server:      r.Document.ServerName,
			ToolName:    r.Document.OriginalName,
			Description: truncateDescription(r.Document.Description, discoverDescriptionBudget),
			Parameters:  schema,
			Relevance:   r.Score,
		})
	}

	payload := map[string]any{
		"query":            args.Query,
		"total_match_count": len(matches),
		"results":          matches,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return protocol.Fail(id, protocol.CodeInternalError, err.Error(), nil)
	}
	return protocol.Success(id, json.RawMessage(fmt.Sprintf(`{"content":[{"type":"text","text":%s}]}`, mustQuoteJSON(raw))))
}

func (s *Server) handleExecute(ctx context.Context, id json.RawMessage, argsJSON json.RawMessage, checkCancelled func() bool) *protocol.Response {
	var args struct {
		Server    string          `json:"server"`
		Tool      string          `json:"tool"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil || args.Server == "" || args.Tool == "" {
		return protocol.Fail(id, protocol.CodeInvalidParams, "execute requires 'server' and 'tool'", nil)
	}
	if len(args.Arguments) == 0 {
		args.Arguments = json.RawMessage(`{}`)
	}

	return s.callAndRecord(ctx, id, args.Server, args.Tool, args.Arguments, checkCancelled)
}

// handlePassthroughCall parses "server__tool" (or, if unprefixed, a
// name unique across the whole catalog) and forwards the call.
func (s *Server) handlePassthroughCall(ctx context.Context, id json.RawMessage, name string, argsJSON json.RawMessage, checkCancelled func() bool) *protocol.Response {
	server, tool, ok := strings.Cut(name, "__")
	if !ok {
		doc, unique := s.Engine.FindUnprefixed(name)
		if !unique {
			return protocol.Fail(id, protocol.CodeInvalidParams, fmt.Sprintf("Invalid tool name format: %s", name), nil)
		}
		server, tool = doc.ServerName, doc.OriginalName
	}
	return s.callAndRecord(ctx, id, server, tool, argsJSON, checkCancelled)
}

// callAndRecord forwards one call to the named server and tool. The
// forwarded call is never aborted by a notifications/cancelled received
// while it's in flight (per spec.md §5); checkCancelled is only consulted
// once the child's real response arrives, to log that the response is
// being delivered anyway, since MCP requires a cancelled request's
// eventual response still reach the client.
func (s *Server) callAndRecord(ctx context.Context, id json.RawMessage, server, tool string, argsJSON json.RawMessage, checkCancelled func() bool) *protocol.Response {
	s.cancels.Bind(id, server)
	start := time.Now()
	result, err := s.Child.CallTool(ctx, server, tool, argsJSON)
	elapsed := time.Since(start)
	s.Metrics.RecordCall(server, elapsed, err, time.Now())

	if checkCancelled != nil && checkCancelled() && s.Log != nil {
		s.Log.Debug("tools/call %s/%s finished after cancellation; delivering response anyway", server, tool)
	}

	if err != nil {
		return protocol.Fail(id, protocol.CodeServerUnavailable, err.Error(), nil)
	}
	raw, err := response.ToResult(result)
	if err != nil {
		return protocol.Fail(id, protocol.CodeInternalError, err.Error(), nil)
	}
	return protocol.Success(id, raw)
}

func rawSchema(t mcp.Tool) json.RawMessage {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema
	}
	b, err := json.Marshal(t.InputSchema)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// stripSchema drops noisy keys before a schema goes into a discover result,
// matching original_source's strip_schema: title, examples, $schema,
// additionalProperties, $id, $comment, default are removed at every level;
// everything else (type, properties, required, items, enum, description)
// survives.
func stripSchema(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	cleaned := stripSchemaValue(v)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return raw
	}
	return out
}

func stripSchemaValue(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	clean := make(map[string]any, len(obj))
	for k, val := range obj {
		switch k {
		case "title", "examples", "$schema", "additionalProperties", "$id", "$comment", "default":
			continue
		case "properties":
			if props, ok := val.(map[string]any); ok {
				cleanProps := make(map[string]any, len(props))
				for pk, pv := range props {
					cleanProps[pk] = stripSchemaValue(pv)
				}
				clean[k] = cleanProps
			}
		case "items":
			clean[k] = stripSchemaValue(val)
		default:
			clean[k] = val
		}
	}
	return clean
}

func mustQuoteJSON(raw json.RawMessage) json.RawMessage {
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return json.RawMessage(`""`)
	}
	return quoted
}
