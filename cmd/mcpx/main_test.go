package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func withStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestRunUnknownCommandReturnsUsageError(t *testing.T) {
	t.Setenv("MCPX_HOME", t.TempDir())
	code := run([]string{"bogus"})
	if code != exitUsageErr {
		t.Fatalf("code = %d, want %d", code, exitUsageErr)
	}
}

func TestRunSearchWithoutQueryReturnsUsageError(t *testing.T) {
	t.Setenv("MCPX_HOME", t.TempDir())
	code := run([]string{"search"})
	if code != exitUsageErr {
		t.Fatalf("code = %d, want %d", code, exitUsageErr)
	}
}

func TestCmdStatusPrintsConfiguredServers(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MCPX_HOME", home)
	configJSON := `{"servers":{"github":{"command":"gh-mcp"},"fs":{"command":"fs-mcp","disabled":true}}}`
	if err := os.WriteFile(filepath.Join(home, "config.json"), []byte(configJSON), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	out := withStdout(t, func() {
		code := run([]string{"status"})
		if code != exitOK {
			t.Fatalf("code = %d, want %d", code, exitOK)
		}
	})

	if !containsAll(out, "servers configured: 2", "github", "fs", "enabled", "disabled") {
		t.Fatalf("unexpected status output: %q", out)
	}
}

func TestCmdSearchWithNoCacheReturnsToolError(t *testing.T) {
	t.Setenv("MCPX_HOME", t.TempDir())
	code := run([]string{"search", "deploy"})
	if code != exitToolErr {
		t.Fatalf("code = %d, want %d", code, exitToolErr)
	}
}

func containsAll(haystack string, needles ...string) bool {
	for _, n := range needles {
		if !contains(haystack, n) {
			return false
		}
	}
	return true
}

func contains(haystack, needle string) bool {
	return bytes.Contains([]byte(haystack), []byte(needle))
}
