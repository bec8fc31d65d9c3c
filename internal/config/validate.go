package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate checks configuration invariants and returns actionable errors,
// joined with errors.Join so every problem is reported at once rather than
// stopping at the first, matching the teacher's internal/config/validate.go.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		errs = append(errs, validateServer(name, cfg.Servers[name])...)
	}
	errs = append(errs, validateSettings(cfg.Settings)...)

	return errors.Join(errs...)
}

// ValidateForCurrentEnv checks config invariants after expanding ${ENV_VAR}
// placeholders against the current process environment.
func ValidateForCurrentEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	expanded := cloneConfig(cfg)
	expandConfigEnvVars(expanded)
	return Validate(expanded)
}

func cloneConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}

	cloned := &Config{
		FallbackSources: append([]string(nil), cfg.FallbackSources...),
		Settings:        cfg.Settings,
		Servers:         make(map[string]ServerSpec, len(cfg.Servers)),
	}

	for name, srv := range cfg.Servers {
		cloned.Servers[name] = cloneServerSpec(srv)
	}

	return cloned
}

func cloneServerSpec(srv ServerSpec) ServerSpec {
	cloned := srv
	cloned.Args = append([]string(nil), srv.Args...)
	cloned.Env = cloneStringMap(srv.Env)
	return cloned
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// validateServer checks one server's invariants. Unlike the teacher's
// version (which enforces "command XOR url" for its stdio/http transport
// split), ServerSpec has no url field at all — spec.md's data model only
// names stdio children — so the only transport check left is "command is
// non-empty".
func validateServer(name string, srv ServerSpec) []error {
	var errs []error

	if strings.TrimSpace(srv.Command) == "" {
		errs = append(errs, fmt.Errorf("servers.%s: command must not be empty", name))
	}

	if srv.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("servers.%s.pool_size: must be >= 1, got %d", name, srv.PoolSize))
	}

	if srv.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("servers.%s.idleTimeout: must be >= 0 seconds, got %d", name, srv.IdleTimeout))
	}

	for k := range srv.Env {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, fmt.Errorf("servers.%s.env: empty variable name", name))
		}
	}

	return errs
}

func validateSettings(s Settings) []error {
	var errs []error

	switch s.Mode {
	case "", ModeDiscover, ModePassthrough:
	default:
		errs = append(errs, fmt.Errorf("settings.mode: unknown mode %q", s.Mode))
	}

	durations := map[string]int{
		"settings.idleTimeout":          s.IdleTimeout,
		"settings.startupTimeout":       s.StartupTimeout,
		"settings.health.checkInterval": s.Health.CheckInterval,
	}
	fields := make([]string, 0, len(durations))
	for field := range durations {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if durations[field] < 0 {
			errs = append(errs, fmt.Errorf("%s: must be >= 0, got %d", field, durations[field]))
		}
	}

	return errs
}
