package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/mcpmux/mcpx/internal/cache"
	"github.com/mcpmux/mcpx/internal/config"
	"github.com/mcpmux/mcpx/internal/logging"
	"github.com/mcpmux/mcpx/internal/paths"
	"github.com/mcpmux/mcpx/internal/proxy"
	"github.com/mcpmux/mcpx/internal/search"
	"github.com/mcpmux/mcpx/internal/sse"
	"github.com/mcpmux/mcpx/internal/stdiotransport"
)

// Exit codes, matching original_source/src/main.rs's convention.
const (
	exitOK       = 0
	exitToolErr  = 1
	exitUsageErr = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if err := paths.EnsureHome(); err != nil {
		fmt.Fprintf(os.Stderr, "mcpx: %v\n", err)
		return exitUsageErr
	}

	cmd := "default"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "serve":
		return cmdServe()
	case "generate":
		return cmdGenerate()
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "mcpx: search requires a query argument")
			return exitUsageErr
		}
		return cmdSearch(args[1])
	case "status":
		return cmdStatus()
	case "default", "":
		return cmdDefault()
	default:
		fmt.Fprintf(os.Stderr, "mcpx: unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Usage: mcpx [serve|generate|search <query>|status]")
		return exitUsageErr
	}
}

func newLogger() *logging.Logger {
	level := logging.ParseLevel(os.Getenv("MCP_ON_DEMAND_LOG_LEVEL"))
	log := logging.NewStderr("mcpx", level)
	if os.Getenv("MCP_ON_DEMAND_DEBUG") != "" {
		log.SetLevel(logging.LevelDebug)
	}
	return log
}

func loadConfig(log *logging.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.MergeFallbackServers(cfg); err != nil {
		log.Warn("failed to load fallback MCP server config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newCore(cfg *config.Config, log *logging.Logger) *proxy.Server {
	level := logging.ParseLevel(cfg.Settings.LogLevel)
	if os.Getenv("MCP_ON_DEMAND_DEBUG") != "" {
		level = logging.LevelDebug
	}
	log.SetLevel(level)
	return proxy.New(cfg, log, time.Now())
}

// cmdDefault runs the stdio transport and the SSE transport concurrently,
// matching original_source's main.rs default branch, which starts both
// transports so a single `mcpx` invocation serves editors that speak stdio
// and dashboards that speak SSE.
func cmdDefault() int {
	log := newLogger()
	cfg, err := loadConfig(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpx: %v\n", err)
		return exitUsageErr
	}

	core := newCore(cfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	core.Init(ctx)

	if os.Getenv("MCP_ON_DEMAND_PRELOAD") != "none" {
		preloadServers(ctx, core, log)
	}

	errCh := make(chan error, 2)

	go func() {
		tr := stdiotransport.New(core, os.Stdin, os.Stdout)
		errCh <- tr.Run(ctx)
	}()

	// Both transports run concurrently in the default command, matching
	// original_source/src/dashboard.rs's "Start full server: dashboard + SSE
	// transport. For McpHub serve and default mode" — unlike MCP_ON_DEMAND_MODE
	// (settings.mode discover/passthrough, see config.EffectiveMode), there is
	// no environment variable that suppresses SSE here.
	var sseSrv *sse.Server
	sseSrv, err = sse.New(core, log, sseAddr(), paths.AuthTokenFile())
	if err != nil {
		log.Error("sse: %v", err)
		sseSrv = nil
	} else if err := sseSrv.Start(ctx); err != nil {
		log.Error("sse: %v", err)
		sseSrv = nil
	} else {
		log.Info("auth token at %s", paths.AuthTokenFile())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("stdio transport stopped: %v", err)
		}
	}

	cancel()
	if sseSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = sseSrv.Shutdown(shutdownCtx)
	}
	core.Shutdown()
	return exitOK
}

// cmdServe runs only the SSE/HTTP transport, for dashboard/remote-client
// deployments that never speak stdio, per spec.md §6's `serve` subcommand.
func cmdServe() int {
	log := newLogger()
	cfg, err := loadConfig(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpx: %v\n", err)
		return exitUsageErr
	}

	core := newCore(cfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	core.Init(ctx)

	sseSrv, err := sse.New(core, log, sseAddr(), paths.AuthTokenFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpx: %v\n", err)
		return exitUsageErr
	}
	if err := sseSrv.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mcpx: %v\n", err)
		return exitUsageErr
	}
	log.Info("auth token at %s", paths.AuthTokenFile())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = sseSrv.Shutdown(shutdownCtx)
	core.Shutdown()
	return exitOK
}

// cmdGenerate builds the schema cache from a cold start, starting every
// configured server in turn and persisting its tool list, matching
// original_source's cmd_generate.
func cmdGenerate() int {
	log := newLogger()
	cfg, err := loadConfig(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpx: %v\n", err)
		return exitUsageErr
	}

	core := newCore(cfg, log)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	err = core.Generate(ctx, func(index, total int, name string, toolCount int, err error) {
		if err != nil {
			fmt.Printf("[%d/%d] %s: failed: %v\n", index, total, name, err)
			return
		}
		fmt.Printf("[%d/%d] %s: %d tools\n", index, total, name, toolCount)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpx: generate: %v\n", err)
		return exitToolErr
	}
	fmt.Println("cache generated")
	return exitOK
}

// cmdSearch loads the on-disk schema cache, builds a throwaway search
// index, and prints the top BM25 matches for query — a quick way to
// sanity-check discover's ranking without a live MCP client attached.
func cmdSearch(query string) int {
	log := newLogger()
	c, err := cache.Load(paths.CacheFile(), func(server string, err error) {
		log.Warn("discarding corrupt cache entry for %s: %v", server, err)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpx: search: %v\n", err)
		return exitToolErr
	}

	engine := search.NewEngine()
	docs := make([]search.Document, 0)
	for server, tools := range c.Snapshot() {
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
	engine.BuildIndex(docs)

	results := engine.Search(query, 10)
	if len(results) == 0 {
		fmt.Println("no matches")
		return exitOK
	}
	for i, r := range results {
		fmt.Printf("%d. %s__%s (score %.3f)\n   %s\n", i+1, r.Document.ServerName, r.Document.OriginalName, r.Score, r.Document.Description)
	}
	return exitOK
}

// cmdStatus prints the effective mode, the configured server catalog and
// cache statistics, matching original_source's cmd_status.
func cmdStatus() int {
	log := newLogger()
	cfg, err := loadConfig(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpx: %v\n", err)
		return exitUsageErr
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("mode: %s\n", cfg.Settings.EffectiveMode())
	fmt.Printf("servers configured: %d\n", len(names))
	for _, name := range names {
		spec := cfg.Servers[name]
		state := "enabled"
		if spec.Disabled {
			state = "disabled"
		}
		fmt.Printf("  %-20s %s\n", name, state)
	}

	c, err := cache.Load(paths.CacheFile(), func(server string, err error) {
		log.Warn("discarding corrupt cache entry for %s: %v", server, err)
	})
	if err != nil {
		fmt.Printf("cache: unavailable (%v)\n", err)
		return exitOK
	}
	fmt.Printf("cache: %d servers, %d tools\n", c.ServerCount(), c.ToolCount())
	return exitOK
}

func sseAddr() string {
	if addr := os.Getenv("MCP_ON_DEMAND_SSE_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:24680"
}

// preloadServers runs cold-cache generation at boot, matching spec.md §6's
// "MCP_ON_DEMAND_PRELOAD with value none suppresses cold-cache generation at
// start" — by default every configured server is started once, its tool
// list cached, and the search index rebuilt before the transports accept
// their first request; setting MCP_ON_DEMAND_PRELOAD=none skips this and
// leaves the proxy running on whatever schema cache was already on disk.
func preloadServers(ctx context.Context, core *proxy.Server, log *logging.Logger) {
	err := core.Generate(ctx, func(index, total int, name string, toolCount int, err error) {
		if err != nil {
			log.Warn("preload: %s failed to start: %v", name, err)
			return
		}
		log.Debug("preload: %s (%d/%d): %d tools", name, index, total, toolCount)
	})
	if err != nil {
		log.Warn("preload: cold-cache generation failed: %v", err)
	}
}
