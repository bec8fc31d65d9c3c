// Package cache persists the discovered tool schema for every configured
// server so the proxy can answer tools/list and the discover meta-tool
// without restarting every child on every cold boot.
//
// Grounded on original_source/src/cache.rs for the on-disk shape
// (version + servers map), but original_source writes the file directly
// (fs::write, no rename) which contradicts the atomic-snapshot invariant
// this cache must uphold; the write-to-temp-then-rename idiom here follows
// the teacher's internal/config/save.go instead.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// Version identifies the on-disk schema cache format.
const Version = "1"

// SchemaCache is a snapshot of every server's advertised tools, plus the
// ServerCapabilities each one declared during its initialize handshake.
type SchemaCache struct {
	mu      sync.RWMutex
	version string
	servers map[string][]mcp.Tool
	caps    map[string]mcp.ServerCapabilities
}

// New returns an empty schema cache.
func New() *SchemaCache {
	return &SchemaCache{
		version: Version,
		servers: make(map[string][]mcp.Tool),
		caps:    make(map[string]mcp.ServerCapabilities),
	}
}

// Set replaces one server's tool list.
func (c *SchemaCache) Set(server string, tools []mcp.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers[server] = tools
}

// SetCapabilities records the ServerCapabilities a child declared at its
// initialize handshake, captured by internal/child at spawn time and
// persisted here during cold-cache generation so initialize can advertise
// resources/prompts/logging from real child declarations instead of
// guessing from whether any server is merely configured.
func (c *SchemaCache) SetCapabilities(server string, caps mcp.ServerCapabilities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caps[server] = caps
}

// AggregateCapabilities reports whether any cached server declared the
// resources, prompts, or logging capability, per spec.md §4.5's "when any
// child declares the capability" rule for what initialize advertises.
func (c *SchemaCache) AggregateCapabilities() (resources, prompts, logging bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, caps := range c.caps {
		if caps.Resources != nil {
			resources = true
		}
		if caps.Prompts != nil {
			prompts = true
		}
		if caps.Logging != nil {
			logging = true
		}
	}
	return resources, prompts, logging
}

// Delete removes a server's entry, e.g. after it's removed from config.
func (c *SchemaCache) Delete(server string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.servers, server)
	delete(c.caps, server)
}

// Tools returns a server's cached tool list and whether it is present.
func (c *SchemaCache) Tools(server string) ([]mcp.Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tools, ok := c.servers[server]
	return tools, ok
}

// Snapshot returns a shallow copy of every server's tool list, keyed by
// server name, for building the search index. Map iteration order is not
// defined; callers that need a stable order sort the keys themselves.
func (c *SchemaCache) Snapshot() map[string][]mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]mcp.Tool, len(c.servers))
	for name, tools := range c.servers {
		out[name] = append([]mcp.Tool(nil), tools...)
	}
	return out
}

// ServerCount and ToolCount summarize the cache for `status`.
func (c *SchemaCache) ServerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.servers)
}

func (c *SchemaCache) ToolCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, tools := range c.servers {
		total += len(tools)
	}
	return total
}

type onDiskCache struct {
	Version      string                            `json:"version"`
	Servers      map[string][]mcp.Tool             `json:"servers"`
	Capabilities map[string]mcp.ServerCapabilities `json:"capabilities,omitempty"`
}

// Load reads a schema cache from path. On a parse failure at the top level,
// it returns the error. On a parse failure of an individual server entry
// (one corrupt value inside an otherwise valid document), it discards just
// that entry, logs the discard through discardLog, and keeps the rest —
// the repair path spec.md requires that original_source's load_cache does
// not attempt (it discards the whole file on any error).
func Load(path string, discardLog func(server string, err error)) (*SchemaCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Version      string                         `json:"version"`
		Servers      map[string]json.RawMessage      `json:"servers"`
		Capabilities map[string]mcp.ServerCapabilities `json:"capabilities"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing schema cache %s: %w", path, err)
	}

	c := New()
	if raw.Version != "" {
		c.version = raw.Version
	}

	names := make([]string, 0, len(raw.Servers))
	for name := range raw.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var tools []mcp.Tool
		if err := json.Unmarshal(raw.Servers[name], &tools); err != nil {
			if discardLog != nil {
				discardLog(name, err)
			}
			continue
		}
		c.servers[name] = tools
	}
	for name, caps := range raw.Capabilities {
		if _, ok := c.servers[name]; ok {
			c.caps[name] = caps
		}
	}
	return c, nil
}

// Flush writes the cache to path atomically: write to a sibling temp file,
// fsync, close, then rename over the destination. The file on disk is
// therefore always either the previous complete snapshot or the new one,
// never a partial write.
func (c *SchemaCache) Flush(path string) error {
	c.mu.RLock()
	snapshot := onDiskCache{
		Version:      c.version,
		Servers:      make(map[string][]mcp.Tool, len(c.servers)),
		Capabilities: make(map[string]mcp.ServerCapabilities, len(c.caps)),
	}
	for name, tools := range c.servers {
		snapshot.Servers[name] = tools
	}
	for name, caps := range c.caps {
		snapshot.Capabilities[name] = caps
	}
	c.mu.RUnlock()

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding schema cache: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating cache directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".schema-cache.json.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting temp cache permissions: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp cache file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	cleanup = false
	return nil
}
