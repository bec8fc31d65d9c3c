package proxy

import (
	"context"
	"fmt"
	"reflect"

	"github.com/fsnotify/fsnotify"
	"github.com/mcpmux/mcpx/internal/cache"
	"github.com/mcpmux/mcpx/internal/config"
	"github.com/mcpmux/mcpx/internal/paths"
)

// Generate runs cold-cache generation to completion: for every configured
// server, in sorted name order (config.json carries no order of its own
// once decoded into a Go map, so this proxy substitutes the same
// alphabetical order the discover/execute tool descriptions already use
// for the server catalog), start it, record its tools, stop it again to
// free memory, then flush the cache and rebuild the search index. Matches
// spec.md §4.5's cold-cache generation and original_source's cmd_generate,
// except original_source never stops servers between discovery passes;
// spec.md §4.5 explicitly calls for `stop` after `cache.update` per server.
func (s *Server) Generate(ctx context.Context, progress func(index, total int, name string, toolCount int, err error)) error {
	names := s.sortedServerNames()
	total := len(names)

	for i, name := range names {
		tools, err := s.Child.StartServer(ctx, name)
		if err != nil {
			s.Cache.Delete(name)
			if progress != nil {
				progress(i+1, total, name, 0, err)
			}
			continue
		}
		s.Cache.Set(name, tools)
		if caps, ok := s.Child.Capabilities(name); ok {
			s.Cache.SetCapabilities(name, caps)
		}
		s.Child.StopServer(name)
		if progress != nil {
			progress(i+1, total, name, len(tools), nil)
		}
	}

	s.LoadCacheIntoIndex()
	return s.Cache.Flush(paths.CacheFile())
}

// ApplyConfigDiff swaps in a new configuration and applies spec.md §4.5's
// hot-reload rule: removed servers are stopped and their cache entry
// dropped; changed servers are stopped (and their cache entry dropped, so
// the next request re-spawns and re-discovers with the new arguments);
// added servers are left lazily empty. The search index is rebuilt from
// whatever remains in the cache afterward.
func (s *Server) ApplyConfigDiff(newCfg *config.Config) {
	oldCfg := s.Config()

	for name, oldSpec := range oldCfg.Servers {
		newSpec, stillPresent := newCfg.Servers[name]
		if !stillPresent || !reflect.DeepEqual(oldSpec, newSpec) {
			s.Child.StopServer(name)
			s.Cache.Delete(name)
		}
	}

	s.setConfig(newCfg)
	s.Child.UpdateConfig(newCfg)
	s.LoadCacheIntoIndex()
}

// WatchConfigAndCache starts original_source's config_and_cache_watcher,
// rebuilt on fsnotify instead of the 5-second poll loop original_source
// uses, per SPEC_FULL.md §1 (fsnotify comes from the pack's
// coma-toast-ast-context-cache example; the teacher has no file watcher).
// Runs until ctx is cancelled.
func (s *Server) WatchConfigAndCache(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(paths.Home()); err != nil {
		return fmt.Errorf("watching %s: %w", paths.Home(), err)
	}

	configPath := paths.ConfigFile()
	cachePath := paths.CacheFile()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name == configPath && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				s.reloadConfig(configPath)
			}
			if event.Name == cachePath && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				s.reloadCache(cachePath)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if s.Log != nil {
				s.Log.Warn("config watcher error: %v", err)
			}
		}
	}
}

func (s *Server) reloadConfig(path string) {
	newCfg, err := config.LoadFrom(path)
	if err != nil {
		if s.Log != nil {
			s.Log.Warn("config hot-reload failed: %v", err)
		}
		return
	}
	s.ApplyConfigDiff(newCfg)
	if s.Log != nil {
		s.Log.Info("config hot-reloaded")
	}
}

func (s *Server) reloadCache(path string) {
	loaded, err := cache.Load(path, func(server string, err error) {
		if s.Log != nil {
			s.Log.Warn("discarding corrupt cache entry for %s: %v", server, err)
		}
	})
	if err != nil {
		if s.Log != nil {
			s.Log.Warn("cache hot-reload failed: %v", err)
		}
		return
	}
	s.Cache = loaded
	s.LoadCacheIntoIndex()
	if s.Log != nil {
		s.Log.Info("cache hot-reloaded: %d tools", s.Engine.Count())
	}
}
