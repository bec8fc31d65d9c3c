package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadForEditFromPreservesEnvPlaceholders(t *testing.T) {
	t.Setenv("API_TOKEN", "secret-value")

	path := filepath.Join(t.TempDir(), "config.json")
	const raw = `{"servers":{"github":{"command":"github-mcp","env":{"TOKEN":"${API_TOKEN}"}}}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadForEditFrom(path)
	if err != nil {
		t.Fatalf("LoadForEditFrom() error = %v", err)
	}

	got := cfg.Servers["github"].Env["TOKEN"]
	want := "${API_TOKEN}"
	if got != want {
		t.Fatalf("TOKEN env = %q, want %q", got, want)
	}
}

func TestSaveToWritesConfigAndCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := &Config{
		Servers: map[string]ServerSpec{
			"github": {
				Command: "npx",
				Args:    []string{"-y", "@modelcontextprotocol/server-github"},
			},
		},
	}

	if err := SaveTo(path, cfg); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	text := string(raw)
	if !strings.Contains(text, `"github"`) {
		t.Fatalf("saved config missing server entry: %q", text)
	}
	if !strings.Contains(text, `"command": "npx"`) {
		t.Fatalf("saved config missing command: %q", text)
	}
}

func TestValidateForCurrentEnvExpandsWithoutMutatingSource(t *testing.T) {
	t.Setenv("MCP_COMMAND", "real-command")

	cfg := &Config{
		Servers: map[string]ServerSpec{
			"existing": {
				Command: "${MCP_COMMAND}",
			},
		},
	}

	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v, want nil (unexpanded placeholder is still a non-empty command)", err)
	}
	if err := ValidateForCurrentEnv(cfg); err != nil {
		t.Fatalf("ValidateForCurrentEnv() error = %v, want nil", err)
	}
	if cfg.Servers["existing"].Command != "${MCP_COMMAND}" {
		t.Fatalf("source config Command mutated to %q, want placeholder preserved", cfg.Servers["existing"].Command)
	}
}
