// Package paths resolves the single state directory this proxy persists to.
//
// The teacher splits config/cache/state/runtime across four XDG locations;
// this proxy persists everything under one directory per its external
// interface contract, overridable with MCPX_HOME for tests and containers.
package paths

import (
	"os"
	"path/filepath"
)

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

// Home returns the proxy's state directory, default ~/.mcpx.
func Home() string {
	if v := os.Getenv("MCPX_HOME"); v != "" {
		return v
	}
	return filepath.Join(homeDir(), ".mcpx")
}

// ConfigFile returns the path to config.json.
func ConfigFile() string {
	return filepath.Join(Home(), "config.json")
}

// CacheFile returns the path to schema-cache.json.
func CacheFile() string {
	return filepath.Join(Home(), "schema-cache.json")
}

// AuthTokenFile returns the path to the SSE bearer-token file.
func AuthTokenFile() string {
	return filepath.Join(Home(), "auth-token")
}

// LogFile returns the path to daemon.log.
func LogFile() string {
	return filepath.Join(Home(), "daemon.log")
}

// EnsureHome creates the state directory if needed, owner-only.
func EnsureHome() error {
	return os.MkdirAll(Home(), 0700)
}
