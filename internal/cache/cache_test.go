package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestFlushThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema-cache.json")

	c := New()
	c.Set("fs", []mcp.Tool{{Name: "readFile", Description: "reads a file"}})
	c.Set("git", []mcp.Tool{{Name: "commit"}})

	if err := c.Flush(path); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ServerCount() != 2 || loaded.ToolCount() != 2 {
		t.Fatalf("loaded cache = %d servers, %d tools", loaded.ServerCount(), loaded.ToolCount())
	}
	tools, ok := loaded.Tools("fs")
	if !ok || len(tools) != 1 || tools[0].Name != "readFile" {
		t.Fatalf("Tools(fs) = %+v, %v", tools, ok)
	}
}

func TestFlushIsAtomicNoLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema-cache.json")

	c := New()
	c.Set("fs", []mcp.Tool{{Name: "readFile"}})
	if err := c.Flush(path); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "schema-cache.json" {
			t.Fatalf("leftover temp file after Flush: %s", e.Name())
		}
	}
}

func TestLoadDiscardsCorruptServerEntryKeepsRest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema-cache.json")

	raw := `{"version":"1","servers":{"good":[{"name":"ok"}],"bad":"not-an-array"}}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var discarded []string
	loaded, err := Load(path, func(server string, _ error) {
		discarded = append(discarded, server)
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ServerCount() != 1 {
		t.Fatalf("ServerCount() = %d, want 1", loaded.ServerCount())
	}
	if len(discarded) != 1 || discarded[0] != "bad" {
		t.Fatalf("discarded = %v, want [bad]", discarded)
	}
	if _, ok := loaded.Tools("good"); !ok {
		t.Fatalf("good server entry should survive")
	}
}

func TestLoadTopLevelParseFailureReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema-cache.json")
	if err := os.WriteFile(path, []byte("not json at all"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path, nil); err == nil {
		t.Fatalf("expected error for top-level parse failure")
	}
}

func TestDeleteRemovesServer(t *testing.T) {
	c := New()
	c.Set("fs", []mcp.Tool{{Name: "x"}})
	c.Delete("fs")
	if _, ok := c.Tools("fs"); ok {
		t.Fatalf("Tools(fs) should be absent after Delete")
	}
}

func TestAggregateCapabilitiesReflectsAnyDeclaringServer(t *testing.T) {
	c := New()
	c.Set("fs", []mcp.Tool{{Name: "readFile"}})
	c.Set("git", []mcp.Tool{{Name: "commit"}})
	c.SetCapabilities("fs", mcp.ServerCapabilities{})
	c.SetCapabilities("git", mcp.ServerCapabilities{
		Resources: &struct {
			Subscribe   bool `json:"subscribe,omitempty"`
			ListChanged bool `json:"listChanged,omitempty"`
		}{},
	})

	resources, prompts, logging := c.AggregateCapabilities()
	if !resources {
		t.Fatal("AggregateCapabilities() resources = false, want true (git declared it)")
	}
	if prompts {
		t.Fatal("AggregateCapabilities() prompts = true, want false (no server declared it)")
	}
	if logging {
		t.Fatal("AggregateCapabilities() logging = true, want false (no server declared it)")
	}
}

func TestCapabilitiesRoundTripThroughFlushAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema-cache.json")

	c := New()
	c.Set("git", []mcp.Tool{{Name: "commit"}})
	c.SetCapabilities("git", mcp.ServerCapabilities{Prompts: &struct {
		ListChanged bool `json:"listChanged,omitempty"`
	}{}})

	if err := c.Flush(path); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, prompts, _ := loaded.AggregateCapabilities()
	if !prompts {
		t.Fatal("prompts capability should survive a Flush/Load round trip")
	}
}
