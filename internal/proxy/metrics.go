package proxy

import (
	"sync"
	"time"
)

// ServerMetrics tracks one child server's call volume and last failure,
// ported from original_source/src/proxy.rs's ServerMetrics. Readers get
// them through GlobalMetrics.Snapshot; the `status` command does not print
// them.
type ServerMetrics struct {
	CallCount      uint64
	ErrorCount     uint64
	TotalLatencyMs uint64
	LastCallTime   time.Time
	LastError      string
}

// GlobalMetrics aggregates every server's metrics plus daemon-wide counters,
// guarded by a single mutex per spec.md §5's "metrics counters are
// incremented with atomic fetch-add; aggregated readers snapshot them
// without locking" guidance — a plain mutex stands in for Rust's atomics
// here since Go has no lock-free map update, and every field changes
// together per call.
type GlobalMetrics struct {
	mu                sync.Mutex
	StartTime         time.Time
	TotalRequests     uint64
	ActiveSSESessions int
	Servers           map[string]*ServerMetrics
}

// NewGlobalMetrics returns a zeroed metrics table stamped with the given
// start time (Date.Now-equivalents are forbidden at module scope, so the
// caller supplies "now").
func NewGlobalMetrics(startTime time.Time) *GlobalMetrics {
	return &GlobalMetrics{StartTime: startTime, Servers: make(map[string]*ServerMetrics)}
}

// RecordCall updates a server's call counters after a tool invocation
// completes, matching original_source's handle_execute/handle_passthrough_call
// bookkeeping.
func (g *GlobalMetrics) RecordCall(server string, latency time.Duration, callErr error, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.TotalRequests++
	sm, ok := g.Servers[server]
	if !ok {
		sm = &ServerMetrics{}
		g.Servers[server] = sm
	}
	sm.CallCount++
	sm.TotalLatencyMs += uint64(latency.Milliseconds())
	sm.LastCallTime = now
	if callErr != nil {
		sm.ErrorCount++
		sm.LastError = callErr.Error()
	}
}

// SetActiveSSESessions updates the live session gauge the SSE transport
// reports through.
func (g *GlobalMetrics) SetActiveSSESessions(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ActiveSSESessions = n
}

// Snapshot is a point-in-time copy, safe to marshal or print after the lock
// is released.
type Snapshot struct {
	StartTime         time.Time
	TotalRequests     uint64
	ActiveSSESessions int
	Servers           map[string]ServerMetrics
}

func (g *GlobalMetrics) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := Snapshot{
		StartTime:         g.StartTime,
		TotalRequests:     g.TotalRequests,
		ActiveSSESessions: g.ActiveSSESessions,
		Servers:           make(map[string]ServerMetrics, len(g.Servers)),
	}
	for name, sm := range g.Servers {
		out.Servers[name] = *sm
	}
	return out
}
