// Package child manages the lifecycle of MCP child server processes:
// spawning them on demand, pooling multiple instances per server for
// concurrency, reaping idle connections, and restarting on crash.
// Grounded on the teacher's internal/mcppool and internal/daemon packages,
// generalized to original_source/src/child.rs's multi-instance pool_size
// and retry-once-with-restart semantics.
package child

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mcpmux/mcpx/internal/config"
)

// slot is one running instance of a child server process.
type slot struct {
	conn     *connection
	tools    []mcp.Tool
	lastUsed time.Time

	// inFlight counts calls currently forwarded to this slot, consulted by
	// the idle reaper alongside lastUsed per spec.md §4.4's ChildPool
	// load-balancing requirement: a slot mid-call is never idle, no matter
	// how long ago it was selected.
	inFlight int32
}

// InFlight reports the number of calls currently forwarded to this slot.
func (s *slot) InFlight() int32 {
	return atomic.LoadInt32(&s.inFlight)
}

// serverPool holds up to spec.EffectivePoolSize() concurrent instances of
// one configured server, started lazily and selected round-robin.
type serverPool struct {
	name string
	spec config.ServerSpec

	mu    sync.Mutex
	slots []*slot
	next  uint64
}

// Manager owns every configured server's pool plus the connect function
// used to spawn new instances (overridable in tests).
type Manager struct {
	mu      sync.RWMutex
	cfg     *config.Config
	pools   map[string]*serverPool
	connect func(ctx context.Context, name string, spec config.ServerSpec) (*connection, error)

	idleDefault time.Duration
}

// NewManager creates a Manager for the given configuration.
func NewManager(cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = &config.Config{Servers: map[string]config.ServerSpec{}}
	}
	return &Manager{
		cfg:         cfg,
		pools:       make(map[string]*serverPool),
		connect:     connectStdio,
		idleDefault: cfg.Settings.EffectiveIdleTimeout(),
	}
}

// UpdateConfig swaps in a new configuration, stopping pools whose spec
// changed or was removed, matching original_source's update_configs.
func (m *Manager) UpdateConfig(cfg *config.Config) {
	m.mu.Lock()
	old := m.cfg
	m.cfg = cfg
	m.idleDefault = cfg.Settings.EffectiveIdleTimeout()
	var toStop []string
	for name, pool := range m.pools {
		newSpec, ok := cfg.Servers[name]
		if !ok || !serverSpecEqual(newSpec, pool.spec) {
			toStop = append(toStop, name)
		}
	}
	m.mu.Unlock()
	_ = old

	for _, name := range toStop {
		m.StopServer(name)
	}
}

func serverSpecEqual(a, b config.ServerSpec) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// ServerNames returns every configured server name.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.cfg.Servers))
	for name := range m.cfg.Servers {
		names = append(names, name)
	}
	return names
}

// IsRunning reports whether the named server has at least one started slot.
func (m *Manager) IsRunning(name string) bool {
	m.mu.RLock()
	pool, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	for _, s := range pool.slots {
		if s != nil {
			return true
		}
	}
	return false
}

func (m *Manager) poolFor(name string) (*serverPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, ok := m.pools[name]; ok {
		return pool, nil
	}
	spec, ok := m.cfg.Servers[name]
	if !ok {
		return nil, fmt.Errorf("unknown server: %s", name)
	}
	if spec.Disabled {
		return nil, fmt.Errorf("server %s is disabled", name)
	}
	pool := &serverPool{name: name, spec: spec, slots: make([]*slot, spec.EffectivePoolSize())}
	m.pools[name] = pool
	return pool, nil
}

// StartServer ensures at least one instance of name is running and returns
// its tool list, matching original_source's start_server (minus the
// 3x-backoff startup retry, which spec.md does not carry over).
func (m *Manager) StartServer(ctx context.Context, name string) ([]mcp.Tool, error) {
	resolved, ok := m.ResolveName(name)
	if !ok {
		return nil, fmt.Errorf("unknown server: %s", name)
	}

	pool, err := m.poolFor(resolved)
	if err != nil {
		return nil, err
	}
	s, err := m.acquire(ctx, pool)
	if err != nil {
		return nil, err
	}
	return s.tools, nil
}

// acquire round-robins across the pool's slots, spawning whichever slot it
// lands on if it hasn't started yet.
func (m *Manager) acquire(ctx context.Context, pool *serverPool) (*slot, error) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	n := len(pool.slots)
	idx := int(atomic.AddUint64(&pool.next, 1)-1) % n

	if pool.slots[idx] == nil {
		s, err := m.spawn(ctx, pool)
		if err != nil {
			return nil, err
		}
		pool.slots[idx] = s
	}

	pool.slots[idx].lastUsed = time.Now()
	return pool.slots[idx], nil
}

func (m *Manager) spawn(ctx context.Context, pool *serverPool) (*slot, error) {
	conn, err := m.connect(ctx, pool.name, pool.spec)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", pool.name, err)
	}
	tools, err := conn.listTools(ctx)
	if err != nil {
		_ = conn.close()
		return nil, fmt.Errorf("listing tools for %s: %w", pool.name, err)
	}
	return &slot{conn: conn, tools: tools, lastUsed: time.Now()}, nil
}

// ListTools returns the named server's cached tool list, starting it if
// necessary.
func (m *Manager) ListTools(ctx context.Context, name string) ([]mcp.Tool, error) {
	return m.StartServer(ctx, name)
}

// CallTool invokes a tool on the named server, coercing arguments against
// the tool's input schema and retrying once after a restart if the
// connection itself failed, matching original_source's call_tool.
func (m *Manager) CallTool(ctx context.Context, name, tool string, argsJSON json.RawMessage) (*mcp.CallToolResult, error) {
	resolved, ok := m.ResolveName(name)
	if !ok {
		return nil, fmt.Errorf("unknown server: %s", name)
	}

	pool, err := m.poolFor(resolved)
	if err != nil {
		return nil, err
	}

	s, err := m.acquire(ctx, pool)
	if err != nil {
		return nil, err
	}

	canonical, schema, ok := findTool(s.tools, tool)
	if !ok {
		return nil, fmt.Errorf("tool %s not found on server %s", tool, resolved)
	}

	args, err := decodeArgs(argsJSON)
	if err != nil {
		return nil, err
	}
	args, err = compileToolArgs(args, schema)
	if err != nil {
		return nil, err
	}

	result, err := callWithInFlight(ctx, s, canonical, args)
	if err == nil {
		return result, nil
	}
	if !isConnectionError(err) {
		return nil, err
	}

	restarted, restartErr := m.restartSlot(ctx, pool, s)
	if restartErr != nil {
		return nil, fmt.Errorf("%w (restart failed: %v)", err, restartErr)
	}
	canonical, _, ok = findTool(restarted.tools, tool)
	if !ok {
		return nil, fmt.Errorf("tool %s not found on server %s after restart", tool, resolved)
	}
	return callWithInFlight(ctx, restarted, canonical, args)
}

// callWithInFlight forwards one call to s.conn, bracketing it with the
// slot's in-flight counter so a concurrently running ReapIdle never evicts
// a slot that's mid-call.
func callWithInFlight(ctx context.Context, s *slot, canonical string, args map[string]any) (*mcp.CallToolResult, error) {
	atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	return s.conn.callTool(ctx, canonical, args)
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid args: %w", err)
	}
	return args, nil
}

func findTool(tools []mcp.Tool, requested string) (canonical string, schema json.RawMessage, ok bool) {
	for _, t := range tools {
		if t.Name == requested {
			return t.Name, toolSchema(t), true
		}
	}
	alias := normalizeToolAlias(requested)
	if alias == requested {
		return "", nil, false
	}
	for _, t := range tools {
		if t.Name == alias {
			return t.Name, toolSchema(t), true
		}
	}
	return "", nil, false
}

func toolSchema(t mcp.Tool) json.RawMessage {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema
	}
	b, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil
	}
	return b
}

// restartSlot kills and respawns the slot at its current index, matching
// original_source's restart_server.
func (m *Manager) restartSlot(ctx context.Context, pool *serverPool, failed *slot) (*slot, error) {
	pool.mu.Lock()
	idx := -1
	for i, s := range pool.slots {
		if s == failed {
			idx = i
			break
		}
	}
	pool.mu.Unlock()
	if idx < 0 {
		return nil, fmt.Errorf("slot already removed")
	}

	if failed.conn != nil && failed.conn.close != nil {
		_ = failed.conn.close()
	}

	fresh, err := m.spawn(ctx, pool)
	if err != nil {
		pool.mu.Lock()
		pool.slots[idx] = nil
		pool.mu.Unlock()
		return nil, err
	}

	pool.mu.Lock()
	pool.slots[idx] = fresh
	pool.mu.Unlock()
	return fresh, nil
}

// Cancel forwards notifications/cancelled to every running instance of the
// named server, per spec.md §4.4's cancel(server, client-request-id)
// ("writes notifications/cancelled to that child with that ID"). mcp-go's
// client assigns its own JSON-RPC id to each forwarded CallTool internally
// and does not expose it back to the caller, so childRequestID here is the
// original client-supplied request ID rather than the id mcp-go minted for
// its own wire message; well-behaved children key cancellation off whatever
// id notifications/cancelled names, not off the value they themselves
// assigned. A pool can hold more than one slot for a server (pool_size>1),
// and CallTool round-robins across them, so this notifies every slot rather
// than trying to guess which one is running the call.
func (m *Manager) Cancel(ctx context.Context, server, childRequestID string) error {
	m.mu.RLock()
	pool, ok := m.pools[server]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown server: %s", server)
	}

	pool.mu.Lock()
	slots := pool.slots
	pool.mu.Unlock()

	var firstErr error
	for _, s := range slots {
		if s == nil || s.conn == nil || s.conn.cancel == nil {
			continue
		}
		if err := s.conn.cancel(ctx, childRequestID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopServer kills every running instance of the named server.
func (m *Manager) StopServer(name string) {
	m.mu.Lock()
	pool, ok := m.pools[name]
	if ok {
		delete(m.pools, name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	pool.mu.Lock()
	slots := pool.slots
	pool.mu.Unlock()
	for _, s := range slots {
		if s != nil && s.conn != nil && s.conn.close != nil {
			_ = s.conn.close()
		}
	}
}

// StopAll kills every running server instance.
func (m *Manager) StopAll() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*serverPool)
	m.mu.Unlock()

	for _, pool := range pools {
		pool.mu.Lock()
		slots := pool.slots
		pool.mu.Unlock()
		for _, s := range slots {
			if s != nil && s.conn != nil && s.conn.close != nil {
				_ = s.conn.close()
			}
		}
	}
}
