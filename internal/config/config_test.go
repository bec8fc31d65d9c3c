package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromExpandsEnvValuesAfterParsing(t *testing.T) {
	t.Setenv("API_TOKEN", `abc"def`)

	path := filepath.Join(t.TempDir(), "config.json")
	const raw = `{
		"servers": {
			"github": {
				"command": "github-mcp",
				"env": {"TOKEN": "Bearer ${API_TOKEN}"}
			}
		}
	}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	got := cfg.Servers["github"].Env["TOKEN"]
	want := `Bearer abc"def`
	if got != want {
		t.Fatalf("TOKEN env = %q, want %q", got, want)
	}
}

func TestLoadFromExpandsFallbackSourcePaths(t *testing.T) {
	t.Setenv("HOME", "/tmp/mcpx-home")

	path := filepath.Join(t.TempDir(), "config.json")
	const raw = `{"fallbackSources": ["${HOME}/custom/mcp.json"]}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if len(cfg.FallbackSources) != 1 {
		t.Fatalf("fallbackSources len = %d, want 1", len(cfg.FallbackSources))
	}
	want := "/tmp/mcpx-home/custom/mcp.json"
	if cfg.FallbackSources[0] != want {
		t.Fatalf("fallback source = %q, want %q", cfg.FallbackSources[0], want)
	}
}

func TestLoadFromMissingFileReturnsEmptyConfig(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Servers == nil || len(cfg.Servers) != 0 {
		t.Fatalf("cfg.Servers = %+v, want empty non-nil map", cfg.Servers)
	}
}

func TestLoadForEditDoesNotExpandEnv(t *testing.T) {
	t.Setenv("API_TOKEN", "secret")

	path := filepath.Join(t.TempDir(), "config.json")
	const raw = `{"servers":{"github":{"command":"github-mcp","env":{"TOKEN":"${API_TOKEN}"}}}}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadForEditFrom(path)
	if err != nil {
		t.Fatalf("LoadForEditFrom() error = %v", err)
	}
	if cfg.Servers["github"].Env["TOKEN"] != "${API_TOKEN}" {
		t.Fatalf("LoadForEdit should preserve placeholder, got %q", cfg.Servers["github"].Env["TOKEN"])
	}
}
