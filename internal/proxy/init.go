package proxy

import (
	"context"

	"github.com/mcpmux/mcpx/internal/cache"
	"github.com/mcpmux/mcpx/internal/paths"
)

// Init performs original_source's ProxyServer::init sequence: load the
// on-disk schema cache synchronously first (so tools/list and discover
// answer instantly even before any child has started), then start the
// idle reaper, the config/cache hot-reload watcher, and the health
// monitor (only when settings.health.autoRestart is true) as
// background goroutines tied to ctx. Call once before serving either
// transport.
func (s *Server) Init(ctx context.Context) {
	if loaded, err := cache.Load(paths.CacheFile(), func(server string, err error) {
		if s.Log != nil {
			s.Log.Warn("discarding corrupt cache entry for %s: %v", server, err)
		}
	}); err == nil {
		s.Cache = loaded
	}
	s.LoadCacheIntoIndex()

	go func() {
		idle := s.Config().Settings.EffectiveIdleTimeout()
		s.Child.RunIdleReaper(idle, ctx.Done())
	}()

	go func() {
		if err := s.WatchConfigAndCache(ctx); err != nil && s.Log != nil {
			s.Log.Warn("config watcher stopped: %v", err)
		}
	}()

	health := s.Config().Settings.Health
	if health.AutoRestart {
		go s.Child.RunHealthMonitor(ctx, health.EffectiveCheckInterval(), s.Config().Settings.EffectiveStartupTimeout(), health.AutoRestart)
	}
}
