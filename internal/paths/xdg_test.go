package paths

import (
	"path/filepath"
	"testing"
)

func TestHomeDefault(t *testing.T) {
	t.Setenv("MCPX_HOME", "")
	t.Setenv("HOME", "/tmp/home")

	if got, want := Home(), filepath.Join("/tmp/home", ".mcpx"); got != want {
		t.Fatalf("Home() = %q, want %q", got, want)
	}
}

func TestHomeOverride(t *testing.T) {
	t.Setenv("MCPX_HOME", "/tmp/custom-mcpx")

	if got := Home(); got != "/tmp/custom-mcpx" {
		t.Fatalf("Home() = %q, want override", got)
	}
	if got, want := ConfigFile(), filepath.Join("/tmp/custom-mcpx", "config.json"); got != want {
		t.Fatalf("ConfigFile() = %q, want %q", got, want)
	}
	if got, want := CacheFile(), filepath.Join("/tmp/custom-mcpx", "schema-cache.json"); got != want {
		t.Fatalf("CacheFile() = %q, want %q", got, want)
	}
	if got, want := AuthTokenFile(), filepath.Join("/tmp/custom-mcpx", "auth-token"); got != want {
		t.Fatalf("AuthTokenFile() = %q, want %q", got, want)
	}
	if got, want := LogFile(), filepath.Join("/tmp/custom-mcpx", "daemon.log"); got != want {
		t.Fatalf("LogFile() = %q, want %q", got, want)
	}
}
