package proxy

import (
	"encoding/json"

	"github.com/mcpmux/mcpx/internal/protocol"
)

// ProxyVersion is reported in serverInfo, mirroring original_source's
// env!("CARGO_PKG_VERSION") with a fixed string since this module has no
// build-time version injection wired up.
const ProxyVersion = "0.1.0"

func (s *Server) handleInitialize(id json.RawMessage) *protocol.Response {
	cfg := s.Config()
	if s.Log != nil {
		s.Log.Info("initialize: mode=%s servers=%d", cfg.Settings.EffectiveMode(), len(cfg.Servers))
	}

	// Capability discovery is cache-only (spec.md §4.5: "It does not wait
	// for children to start; discovery is purely from the cache"). The
	// schema cache now carries each child's declared ServerCapabilities
	// alongside its tool list (see cache.SetCapabilities, populated during
	// cold-cache generation), so resources/prompts/logging are advertised
	// only when some child actually declared them.
	resources, prompts, logging := s.Cache.AggregateCapabilities()
	caps := protocol.Capabilities{Tools: &protocol.ToolsCapability{}}
	if prompts {
		caps.Prompts = &protocol.PromptsCapability{}
	}
	if resources {
		caps.Resources = &protocol.ResourcesCapability{}
	}
	if logging {
		caps.Logging = &protocol.LoggingCapability{}
	}

	result := protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    caps,
		ServerInfo: protocol.ServerInfo{
			Name:    "mcpx",
			Version: ProxyVersion,
		},
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return protocol.Fail(id, protocol.CodeInternalError, err.Error(), nil)
	}
	return protocol.Success(id, raw)
}
