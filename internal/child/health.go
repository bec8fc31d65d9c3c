package child

import (
	"context"
	"fmt"
	"time"
)

// ServerHealth reports one server's liveness after a health check pass.
type ServerHealth struct {
	Name  string
	Alive bool
	Err   error
}

// HealthCheck pings every running slot across every server with a short
// per-call timeout, restarting dead slots when autoRestart is true.
// Grounded on original_source/src/child.rs's health_check, which kills and
// reports any server whose process has exited or whose ping times out.
func (m *Manager) HealthCheck(ctx context.Context, timeout time.Duration, autoRestart bool) []ServerHealth {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	m.mu.RLock()
	type candidate struct {
		name string
		pool *serverPool
	}
	candidates := make([]candidate, 0, len(m.pools))
	for name, pool := range m.pools {
		candidates = append(candidates, candidate{name: name, pool: pool})
	}
	m.mu.RUnlock()

	var results []ServerHealth
	for _, c := range candidates {
		c.pool.mu.Lock()
		slots := append([]*slot(nil), c.pool.slots...)
		c.pool.mu.Unlock()

		for _, s := range slots {
			if s == nil || s.conn == nil || s.conn.ping == nil {
				continue
			}

			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err := s.conn.ping(pingCtx)
			cancel()

			if err == nil {
				results = append(results, ServerHealth{Name: c.name, Alive: true})
				continue
			}

			results = append(results, ServerHealth{Name: c.name, Alive: false, Err: fmt.Errorf("ping failed: %w", err)})
			if autoRestart {
				if _, restartErr := m.restartSlot(ctx, c.pool, s); restartErr != nil {
					results = append(results, ServerHealth{Name: c.name, Alive: false, Err: fmt.Errorf("restart after failed ping: %w", restartErr)})
				}
			} else {
				m.StopServer(c.name)
			}
		}
	}

	return results
}

// RunHealthMonitor runs HealthCheck on the given interval until ctx is
// done, wired to Settings.Health per spec.md §6.
func (m *Manager) RunHealthMonitor(ctx context.Context, interval, timeout time.Duration, autoRestart bool) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.HealthCheck(ctx, timeout, autoRestart)
		}
	}
}
