package proxy

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mcpmux/mcpx/internal/config"
	"github.com/mcpmux/mcpx/internal/logging"
	"github.com/mcpmux/mcpx/internal/protocol"
)

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{Servers: map[string]config.ServerSpec{}}
	}
	return New(cfg, logging.NewStderr("mcpx-test", logging.LevelSilent), time.Now())
}

func TestHandleInitializeReportsToolsCapabilityAlways(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.Dispatch(context.Background(), reqFor(t, "initialize", nil))
	if resp.Error != nil {
		t.Fatalf("initialize error = %v", resp.Error)
	}
	var result struct {
		Capabilities struct {
			Tools *struct{} `json:"tools"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Capabilities.Tools == nil {
		t.Fatal("expected tools capability to always be present")
	}
}

func TestHandleToolsListDiscoverModeReturnsTwoMetaTools(t *testing.T) {
	cfg := &config.Config{Servers: map[string]config.ServerSpec{
		"github": {Command: "github-mcp"},
		"fs":     {Command: "fs-mcp"},
	}}
	s := newTestServer(t, cfg)

	resp := s.Dispatch(context.Background(), reqFor(t, "tools/list", nil))
	var result struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Tools) != 2 {
		t.Fatalf("tools/list = %d tools, want 2 meta-tools", len(result.Tools))
	}
	for _, tool := range result.Tools {
		if tool.Name != "discover" && tool.Name != "execute" {
			t.Fatalf("unexpected meta-tool %q", tool.Name)
		}
		if !contains(tool.Description, "github") || !contains(tool.Description, "fs") {
			t.Fatalf("tool %q description missing server catalog: %q", tool.Name, tool.Description)
		}
	}
}

func TestHandleToolsListDiscoverModeOmitsDisabledServers(t *testing.T) {
	cfg := &config.Config{Servers: map[string]config.ServerSpec{
		"github": {Command: "github-mcp"},
		"fs":     {Command: "fs-mcp", Disabled: true},
	}}
	s := newTestServer(t, cfg)

	resp := s.Dispatch(context.Background(), reqFor(t, "tools/list", nil))
	var result struct {
		Tools []struct {
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, tool := range result.Tools {
		if contains(tool.Description, "fs") {
			t.Fatalf("tool description %q names disabled server %q", tool.Description, "fs")
		}
		if !contains(tool.Description, "github") {
			t.Fatalf("tool description %q missing enabled server %q", tool.Description, "github")
		}
	}
}

func TestHandleExecuteRejectsDisabledServer(t *testing.T) {
	cfg := &config.Config{Servers: map[string]config.ServerSpec{
		"fs": {Command: "fs-mcp", Disabled: true},
	}}
	s := newTestServer(t, cfg)

	resp := s.Dispatch(context.Background(), reqFor(t, "tools/call", map[string]any{
		"name":      "execute",
		"arguments": map[string]any{"server": "fs", "tool": "read"},
	}))
	if resp.Error == nil {
		t.Fatal("expected error calling a tool on a disabled server")
	}
}

func TestHandleToolsCallUnknownMetaToolReturnsToolNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.Dispatch(context.Background(), reqFor(t, "tools/call", map[string]any{"name": "bogus", "arguments": map[string]any{}}))
	if resp.Error == nil {
		t.Fatal("expected error for unknown meta-tool")
	}
}

func TestHandleDiscoverClampsMaxResultsTo30(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.Dispatch(context.Background(), reqFor(t, "tools/call", map[string]any{
		"name":      "discover",
		"arguments": map[string]any{"query": "anything", "max_results": 500},
	}))
	if resp.Error != nil {
		t.Fatalf("discover error = %v", resp.Error)
	}
	// Empty index: just confirm the call succeeds and yields zero matches
	// rather than clamping math overflowing or panicking.
	var content struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(resp.Result, &content); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var payload struct {
		Results []any `json:"results"`
	}
	if err := json.Unmarshal([]byte(content.Content[0].Text), &payload); err != nil {
		t.Fatalf("unmarshal discover payload: %v", err)
	}
	if len(payload.Results) != 0 {
		t.Fatalf("expected no results against an empty index, got %d", len(payload.Results))
	}
}

func TestStripSchemaDropsNoiseKeysRecursively(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"title": "noisy",
		"$schema": "http://json-schema.org/draft-07/schema#",
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string", "default": "x", "title": "Name"}
		},
		"required": ["name"]
	}`)

	cleaned := stripSchema(raw)
	var obj map[string]any
	if err := json.Unmarshal(cleaned, &obj); err != nil {
		t.Fatalf("unmarshal cleaned schema: %v", err)
	}
	for _, noisy := range []string{"title", "$schema", "additionalProperties"} {
		if _, ok := obj[noisy]; ok {
			t.Fatalf("stripSchema kept %q", noisy)
		}
	}
	props := obj["properties"].(map[string]any)
	name := props["name"].(map[string]any)
	if _, ok := name["default"]; ok {
		t.Fatal("stripSchema kept nested default")
	}
	if name["type"] != "string" {
		t.Fatal("stripSchema dropped a field it should have kept")
	}
}

func TestApplyConfigDiffStopsRemovedAndChangedServers(t *testing.T) {
	cfg := &config.Config{Servers: map[string]config.ServerSpec{
		"keep":    {Command: "keep-mcp"},
		"remove":  {Command: "remove-mcp"},
		"changed": {Command: "changed-mcp"},
	}}
	s := newTestServer(t, cfg)
	s.Cache.Set("keep", nil)
	s.Cache.Set("remove", nil)
	s.Cache.Set("changed", nil)

	newCfg := &config.Config{Servers: map[string]config.ServerSpec{
		"keep":    {Command: "keep-mcp"},
		"changed": {Command: "changed-mcp", Args: []string{"--new-flag"}},
		"added":   {Command: "added-mcp"},
	}}
	s.ApplyConfigDiff(newCfg)

	if _, ok := s.Cache.Tools("remove"); ok {
		t.Fatal("removed server's cache entry should be dropped")
	}
	if _, ok := s.Cache.Tools("changed"); ok {
		t.Fatal("changed server's cache entry should be dropped")
	}
	if _, ok := s.Cache.Tools("keep"); !ok {
		t.Fatal("unchanged server's cache entry should survive")
	}
}

func TestTruncateDescriptionLeavesShortStringsAlone(t *testing.T) {
	short := "a short description"
	if got := truncateDescription(short, discoverDescriptionBudget); got != short {
		t.Fatalf("truncateDescription(%q) = %q, want unchanged", short, got)
	}
}

func TestTruncateDescriptionTruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("é", 250) // multi-byte rune, exercises rune-safety
	got := truncateDescription(long, discoverDescriptionBudget)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if runeCount := len([]rune(got)) - 3; runeCount != discoverDescriptionBudget {
		t.Fatalf("truncated rune count = %d, want %d", runeCount, discoverDescriptionBudget)
	}
}

func reqFor(t *testing.T, method string, params any) *protocol.Request {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return &protocol.Request{JSONRPC: protocol.Version, ID: json.RawMessage("1"), Method: method, Params: raw}
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
