// Package proxy implements the MCP multiplexing core: method dispatch,
// discover/execute meta-tools, passthrough mode, resource/prompt
// aggregation, cold-cache generation and hot reload.
//
// Restructured from the teacher's internal/daemon (which answers a CLI
// shim's list_tools/call_tool IPC requests) into the direct MCP dispatch
// table original_source/src/proxy.rs's ProxyServer shows, generalized to
// spec.md §4.5/§8's discover-vs-passthrough, aggregation and hot-reload
// semantics.
package proxy

import (
	"sync"
	"time"

	"github.com/mcpmux/mcpx/internal/cache"
	"github.com/mcpmux/mcpx/internal/child"
	"github.com/mcpmux/mcpx/internal/config"
	"github.com/mcpmux/mcpx/internal/logging"
	"github.com/mcpmux/mcpx/internal/search"
	"github.com/mark3labs/mcp-go/mcp"
)

// Server is the shared proxy core. One instance is wired into both the
// stdio transport (a single peer) and the SSE transport (many sessions);
// every exported method is safe for concurrent use across both.
type Server struct {
	mu  sync.RWMutex
	cfg *config.Config

	Child   *child.Manager
	Engine  *search.Engine
	Cache   *cache.SchemaCache
	Metrics *GlobalMetrics
	Log     *logging.Logger

	cancels *cancelTable
}

// New constructs a Server wired to the given configuration. Callers should
// follow with Init to load the on-disk cache and start background tasks.
func New(cfg *config.Config, log *logging.Logger, startTime time.Time) *Server {
	return &Server{
		cfg:     cfg,
		Child:   child.NewManager(cfg),
		Engine:  search.NewEngine(),
		Cache:   cache.New(),
		Metrics: NewGlobalMetrics(startTime),
		Log:     log,
		cancels: newCancelTable(),
	}
}

// Config returns the live configuration snapshot.
func (s *Server) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Server) setConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// LoadCacheIntoIndex rebuilds the search index from the current schema
// cache snapshot, matching original_source's init() step 1: "load cache
// synchronously FIRST (instant, <1ms)".
func (s *Server) LoadCacheIntoIndex() {
	snapshot := s.Cache.Snapshot()
	docs := documentsFromSnapshot(snapshot)
	s.Engine.BuildIndex(docs)
	if s.Log != nil {
		if len(docs) > 0 {
			s.Log.Info("ready: %d tools from cache", len(docs))
		} else {
			s.Log.Warn("no cache found; run 'mcpx generate' for instant startup")
		}
	}
}

func documentsFromSnapshot(snapshot map[string][]mcp.Tool) []search.Document {
	docs := make([]search.Document, 0)
	for server, tools := range snapshot {
		for _, t := range tools {
			docs = append(docs, search.Document{
				PrefixedName: server + "__" + t.Name,
				OriginalName: t.Name,
				ServerName:   server,
				Description:  t.Description,
				Tool:         t,
			})
		}
	}
	return docs
}

// Shutdown stops every child server, matching original_source's
// ProxyServer::shutdown.
func (s *Server) Shutdown() {
	s.Child.StopAll()
}
