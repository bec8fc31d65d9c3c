package child

import (
	"sync/atomic"
	"time"
)

// ReapIdle stops every running server whose slots have all sat idle past
// their effective idle timeout with zero in-flight calls, unless the
// server is marked Persistent. Grounded on original_source/src/child.rs's
// reap_idle, adapted from the teacher's internal/daemon/keepalive.go
// sliding-window idiom to operate per-server instead of via a single
// AfterFunc timer table, since each server here can carry its own
// idleTimeout override.
func (m *Manager) ReapIdle() {
	m.mu.RLock()
	type candidate struct {
		name string
		pool *serverPool
	}
	candidates := make([]candidate, 0, len(m.pools))
	for name, pool := range m.pools {
		candidates = append(candidates, candidate{name: name, pool: pool})
	}
	defaultIdle := m.idleDefault
	m.mu.RUnlock()

	now := time.Now()
	for _, c := range candidates {
		if c.pool.spec.Persistent {
			continue
		}
		timeout := c.pool.spec.EffectiveIdleTimeout(defaultIdle)

		c.pool.mu.Lock()
		idle := true
		for _, s := range c.pool.slots {
			if s != nil && (now.Sub(s.lastUsed) <= timeout || atomic.LoadInt32(&s.inFlight) > 0) {
				idle = false
				break
			}
		}
		hasAny := false
		for _, s := range c.pool.slots {
			if s != nil {
				hasAny = true
				break
			}
		}
		c.pool.mu.Unlock()

		if hasAny && idle {
			m.StopServer(c.name)
		}
	}
}

// RunIdleReaper runs ReapIdle on the given interval until done is closed,
// matching the teacher's keepalive loop driven by internal/daemon.go.
func (m *Manager) RunIdleReaper(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.ReapIdle()
		}
	}
}
