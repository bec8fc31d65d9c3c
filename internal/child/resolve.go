package child

import "strings"

// ResolveName matches a requested server name against the configured
// servers in three tiers: exact, case-insensitive, then hyphen/underscore
// normalized — the same order as original_source/src/child.rs's
// resolve_name.
func (m *Manager) ResolveName(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.cfg.Servers[name]; ok {
		return name, true
	}

	lower := strings.ToLower(name)
	for key := range m.cfg.Servers {
		if strings.ToLower(key) == lower {
			return key, true
		}
	}

	normalized := stripSeparators(lower)
	for key := range m.cfg.Servers {
		if stripSeparators(strings.ToLower(key)) == normalized {
			return key, true
		}
	}

	return "", false
}

// stripSeparators drops hyphens and underscores, the server-name
// normalization original_source/src/child.rs's resolve_name applies as its
// third and final match tier.
func stripSeparators(name string) string {
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, "_", "")
	return name
}

// normalizeToolAlias swaps hyphens for underscores or vice versa, matching
// the teacher's internal/mcppool normalizeToolAlias used for tool-name
// lookups in findTool (pool.go) — a narrower alias than server-name
// resolution's full separator strip above.
func normalizeToolAlias(name string) string {
	if strings.Contains(name, "-") {
		return strings.ReplaceAll(name, "-", "_")
	}
	if strings.Contains(name, "_") {
		return strings.ReplaceAll(name, "_", "-")
	}
	return name
}
