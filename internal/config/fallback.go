package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

type mcpServersDocument struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
	Servers    map[string]mcpServerEntry `json:"servers"`
	Projects   map[string]projectEntry   `json:"projects"`
}

type projectEntry struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
}

type mcpServerEntry struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args"`
	Env      map[string]string `json:"env"`
	URL      string            `json:"url"`
	Disabled bool              `json:"disabled"`
}

type codexConfigDocument struct {
	MCPServers map[string]codexMCPServerEntry `toml:"mcp_servers"`
}

type codexMCPServerEntry struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	EnvVars []string          `toml:"env_vars"`
	URL     string            `toml:"url"`
	Enabled *bool             `toml:"enabled"`
}

// MergeFallbackServers fills cfg.Servers from external editor MCP configs
// when the primary config has no servers of its own.
func MergeFallbackServers(cfg *Config) error {
	return MergeFallbackServersForCWD(cfg, "")
}

// MergeFallbackServersForCWD is like MergeFallbackServers but resolves
// project-scoped fallback files against the provided working directory.
func MergeFallbackServersForCWD(cfg *Config, cwd string) error {
	if cfg == nil || len(cfg.Servers) > 0 {
		return nil
	}

	fallback, err := loadFallbackServersForCWD(fallbackSourcePathsForCWD(cfg, cwd), cwd)
	if len(fallback) > 0 {
		if cfg.Servers == nil {
			cfg.Servers = make(map[string]ServerSpec)
		}
		for name, srv := range fallback {
			cfg.Servers[name] = srv
		}
	}
	return err
}

// LoadFallbackServers imports server configs from well-known editor config
// files (Cursor, Claude Desktop, Cline/VSCode, Windsurf, Kiro, Codex, and an
// upward .mcp.json search), excluding entries that don't belong: self
// references to this proxy, URL-only (remote) entries this spec's data
// model has no room for, disabled entries, and names starting with "_".
// Grounded on internal/config/fallback.go, generalized per spec.md §4.8.
func LoadFallbackServers() (map[string]ServerSpec, error) {
	return loadFallbackServersForCWD(fallbackSourcePaths(nil), "")
}

func loadFallbackServersForCWD(paths []string, cwd string) (map[string]ServerSpec, error) {
	servers := make(map[string]ServerSpec)
	var errs []error

	for _, path := range paths {
		found, err := loadFallbackSourceForCWD(path, cwd)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}

		for name, srv := range found {
			if _, exists := servers[name]; exists {
				continue
			}
			servers[name] = srv
		}
	}

	if len(errs) > 0 {
		return servers, errors.Join(errs...)
	}
	return servers, nil
}

func loadFallbackSourceForCWD(path, cwd string) (map[string]ServerSpec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return loadCodexConfigFile(path)
	default:
		return loadMCPServersFileForCWD(path, cwd)
	}
}

func loadMCPServersFileForCWD(path, cwd string) (map[string]ServerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc mcpServersDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing mcpServers JSON: %w", err)
	}

	servers := make(map[string]ServerSpec, len(doc.MCPServers)+len(doc.Servers))
	mergeServerEntries(servers, matchProjectServers(doc.Projects, cwd))
	mergeServerEntries(servers, doc.MCPServers)
	mergeServerEntries(servers, doc.Servers)
	return servers, nil
}

// mergeServerEntries applies the spec §4.8 exclusion rules: self-referencing
// entries (name or command names this proxy), URL-only entries (no
// command — ServerSpec has no remote-transport field to carry one), entries
// explicitly disabled, and names starting with "_".
func mergeServerEntries(dst map[string]ServerSpec, src map[string]mcpServerEntry) {
	for name, srv := range src {
		if _, exists := dst[name]; exists {
			continue
		}
		if shouldExcludeFallbackEntry(name, srv.Command, srv.Disabled) {
			continue
		}
		if strings.TrimSpace(srv.Command) == "" {
			continue // URL-only entry, no home in this spec's data model
		}
		dst[name] = expandServerEnvVars(ServerSpec{
			Command: srv.Command,
			Args:    srv.Args,
			Env:     srv.Env,
		})
	}
}

func shouldExcludeFallbackEntry(name, command string, disabled bool) bool {
	if disabled {
		return true
	}
	if strings.HasPrefix(name, "_") {
		return true
	}
	lowerName := strings.ToLower(name)
	lowerCommand := strings.ToLower(command)
	return strings.Contains(lowerName, "mcpx") || strings.Contains(lowerCommand, "mcpx")
}

func loadCodexConfigFile(path string) (map[string]ServerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc codexConfigDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing codex config TOML: %w", err)
	}

	servers := make(map[string]ServerSpec, len(doc.MCPServers))
	for name, entry := range doc.MCPServers {
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		if shouldExcludeFallbackEntry(name, entry.Command, false) {
			continue
		}
		if strings.TrimSpace(entry.Command) == "" {
			continue
		}

		env := copyStringMap(entry.Env)
		for _, key := range entry.EnvVars {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if _, exists := env[key]; exists {
				continue
			}
			if val, ok := os.LookupEnv(key); ok {
				if env == nil {
					env = make(map[string]string)
				}
				env[key] = val
			}
		}

		servers[name] = expandServerEnvVars(ServerSpec{
			Command: entry.Command,
			Args:    entry.Args,
			Env:     env,
		})
	}

	return servers, nil
}

func copyStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func matchProjectServers(projects map[string]projectEntry, cwd string) map[string]mcpServerEntry {
	if len(projects) == 0 {
		return nil
	}

	base := resolveWorkingDirectory(cwd)
	if base == "" {
		return nil
	}

	candidates := []string{base}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		resolved = filepath.Clean(resolved)
		if resolved != candidates[0] {
			candidates = append(candidates, resolved)
		}
	}

	bestLen := -1
	var best map[string]mcpServerEntry
	for projectPath, entry := range projects {
		if len(entry.MCPServers) == 0 {
			continue
		}

		projectPaths := []string{filepath.Clean(projectPath)}
		if resolved, err := filepath.EvalSymlinks(projectPath); err == nil {
			resolved = filepath.Clean(resolved)
			if resolved != projectPaths[0] {
				projectPaths = append(projectPaths, resolved)
			}
		}

		for _, cwdPath := range candidates {
			for _, candidateProjectPath := range projectPaths {
				if !isWithinPath(cwdPath, candidateProjectPath) {
					continue
				}
				if len(candidateProjectPath) > bestLen {
					bestLen = len(candidateProjectPath)
					best = entry.MCPServers
				}
				break
			}
		}
	}

	return best
}

func isWithinPath(path, root string) bool {
	if path == root {
		return true
	}
	if root == string(os.PathSeparator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(os.PathSeparator))
}

func nearestUpwardPath(relPath, cwd string) string {
	base := resolveWorkingDirectory(cwd)
	if base == "" {
		return ""
	}

	dir := base
	for {
		candidate := filepath.Join(dir, relPath)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func fallbackSourcePaths(cfg *Config) []string {
	return fallbackSourcePathsForCWD(cfg, "")
}

func fallbackSourcePathsForCWD(cfg *Config, cwd string) []string {
	if cfg != nil && cfg.FallbackSources != nil {
		return compactPaths(cfg.FallbackSources)
	}
	return compactPaths(defaultFallbackSourcePathsForCWD(cwd))
}

func defaultFallbackSourcePathsForCWD(cwd string) []string {
	home, _ := os.UserHomeDir()
	if home == "" {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return []string{
			filepath.Join(home, ".cursor", "mcp.json"),
			filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"),
			filepath.Join(home, "Library", "Application Support", "Code", "User", "globalStorage", "saoudrizwan.claude-dev", "settings", "cline_mcp_settings.json"),
			filepath.Join(home, ".codeium", "windsurf", "mcp_config.json"),
			filepath.Join(home, ".vscode", "mcp.json"),
			filepath.Join(home, ".claude.json"),
			filepath.Join(home, ".codex", "config.toml"),
			nearestUpwardPath(".mcp.json", cwd),
			filepath.Join(home, ".kiro", "settings", "mcp.json"),
			nearestUpwardPath(filepath.Join(".kiro", "settings", "mcp.json"), cwd),
		}
	case "linux":
		return []string{
			filepath.Join(home, ".cursor", "mcp.json"),
			filepath.Join(home, ".config", "Claude", "claude_desktop_config.json"),
			filepath.Join(home, ".config", "Code", "User", "globalStorage", "saoudrizwan.claude-dev", "settings", "cline_mcp_settings.json"),
			filepath.Join(home, ".codeium", "windsurf", "mcp_config.json"),
			filepath.Join(home, ".vscode", "mcp.json"),
			filepath.Join(home, ".claude.json"),
			filepath.Join(home, ".codex", "config.toml"),
			nearestUpwardPath(".mcp.json", cwd),
			filepath.Join(home, ".kiro", "settings", "mcp.json"),
			nearestUpwardPath(filepath.Join(".kiro", "settings", "mcp.json"), cwd),
		}
	default:
		return nil
	}
}

func resolveWorkingDirectory(cwd string) string {
	cwd = strings.TrimSpace(cwd)
	if cwd != "" {
		return filepath.Clean(cwd)
	}

	wd, err := os.Getwd()
	if err != nil || wd == "" {
		return ""
	}
	return filepath.Clean(wd)
}

func compactPaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	return out
}
