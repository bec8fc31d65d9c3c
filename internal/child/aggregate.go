package child

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// PromptsResult and ResourcesResult pair a server name with its own
// listing call outcome, letting the proxy core merge partial results the
// way spec.md §4.5 requires: a server that errors is omitted, not fatal.
type PromptsResult struct {
	Server  string
	Prompts []mcp.Prompt
	Err     error
}

type ResourcesResult struct {
	Server    string
	Resources []mcp.Resource
	Err       error
}

type ResourceTemplatesResult struct {
	Server    string
	Templates []mcp.ResourceTemplate
	Err       error
}

// Capabilities reports the named server's capabilities as negotiated at its
// last successful initialize handshake. Returns false if the server has
// never been started (lazily-started servers report no capabilities until
// their first call).
func (m *Manager) Capabilities(name string) (mcp.ServerCapabilities, bool) {
	resolved, ok := m.ResolveName(name)
	if !ok {
		return mcp.ServerCapabilities{}, false
	}
	m.mu.RLock()
	pool, ok := m.pools[resolved]
	m.mu.RUnlock()
	if !ok {
		return mcp.ServerCapabilities{}, false
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	for _, s := range pool.slots {
		if s != nil && s.conn != nil {
			return s.conn.capabilities, true
		}
	}
	return mcp.ServerCapabilities{}, false
}

// ListPromptsAll fans out prompts/list to every currently running server,
// matching original_source's request_all_running("prompts/list").
func (m *Manager) ListPromptsAll(ctx context.Context) []PromptsResult {
	var out []PromptsResult
	for _, name := range m.runningServerNames() {
		pool, err := m.poolFor(name)
		if err != nil {
			continue
		}
		s, err := m.acquire(ctx, pool)
		if err != nil {
			out = append(out, PromptsResult{Server: name, Err: err})
			continue
		}
		if s.conn.listPrompts == nil {
			continue
		}
		prompts, err := s.conn.listPrompts(ctx)
		out = append(out, PromptsResult{Server: name, Prompts: prompts, Err: err})
	}
	return out
}

// ListResourcesAll fans out resources/list the same way.
func (m *Manager) ListResourcesAll(ctx context.Context) []ResourcesResult {
	var out []ResourcesResult
	for _, name := range m.runningServerNames() {
		pool, err := m.poolFor(name)
		if err != nil {
			continue
		}
		s, err := m.acquire(ctx, pool)
		if err != nil {
			out = append(out, ResourcesResult{Server: name, Err: err})
			continue
		}
		if s.conn.listResources == nil {
			continue
		}
		resources, err := s.conn.listResources(ctx)
		out = append(out, ResourcesResult{Server: name, Resources: resources, Err: err})
	}
	return out
}

// ListResourceTemplatesAll fans out resources/templates/list.
func (m *Manager) ListResourceTemplatesAll(ctx context.Context) []ResourceTemplatesResult {
	var out []ResourceTemplatesResult
	for _, name := range m.runningServerNames() {
		pool, err := m.poolFor(name)
		if err != nil {
			continue
		}
		s, err := m.acquire(ctx, pool)
		if err != nil {
			out = append(out, ResourceTemplatesResult{Server: name, Err: err})
			continue
		}
		if s.conn.listResourceTemplates == nil {
			continue
		}
		templates, err := s.conn.listResourceTemplates(ctx)
		out = append(out, ResourceTemplatesResult{Server: name, Templates: templates, Err: err})
	}
	return out
}

// GetPrompt forwards prompts/get to the named server.
func (m *Manager) GetPrompt(ctx context.Context, server, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	resolved, ok := m.ResolveName(server)
	if !ok {
		return nil, fmt.Errorf("unknown server: %s", server)
	}
	pool, err := m.poolFor(resolved)
	if err != nil {
		return nil, err
	}
	s, err := m.acquire(ctx, pool)
	if err != nil {
		return nil, err
	}
	if s.conn.getPrompt == nil {
		return nil, fmt.Errorf("server %s does not support prompts", resolved)
	}
	return s.conn.getPrompt(ctx, name, args)
}

// ReadResource forwards resources/read to the named server.
func (m *Manager) ReadResource(ctx context.Context, server, uri string) ([]mcp.ResourceContents, error) {
	resolved, ok := m.ResolveName(server)
	if !ok {
		return nil, fmt.Errorf("unknown server: %s", server)
	}
	pool, err := m.poolFor(resolved)
	if err != nil {
		return nil, err
	}
	s, err := m.acquire(ctx, pool)
	if err != nil {
		return nil, err
	}
	if s.conn.readResource == nil {
		return nil, fmt.Errorf("server %s does not support resources", resolved)
	}
	return s.conn.readResource(ctx, uri)
}

func (m *Manager) runningServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name, pool := range m.pools {
		pool.mu.Lock()
		running := false
		for _, s := range pool.slots {
			if s != nil {
				running = true
				break
			}
		}
		pool.mu.Unlock()
		if running {
			names = append(names, name)
		}
	}
	return names
}

// splitPrefixed splits a "server__rest" name into its two parts, the
// convention original_source uses for prompt/resource name prefixing.
func splitPrefixed(name string) (server, rest string, ok bool) {
	parts := strings.SplitN(name, "__", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
