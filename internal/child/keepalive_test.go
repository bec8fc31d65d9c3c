package child

import (
	"context"
	"testing"
	"time"

	"github.com/mcpmux/mcpx/internal/config"
	"github.com/mark3labs/mcp-go/mcp"
)

func TestReapIdleStopsServersPastTimeout(t *testing.T) {
	closed := false
	conn := &connection{
		listTools: func(context.Context) ([]mcp.Tool, error) { return nil, nil },
		close: func() error {
			closed = true
			return nil
		},
	}

	m := managerWithFakePool(t, "fs", config.ServerSpec{Command: "fs-mcp", IdleTimeout: 1}, conn)
	m.pools["fs"].slots[0].lastUsed = time.Now().Add(-time.Hour)

	m.ReapIdle()

	if !closed {
		t.Fatal("expected idle server to be closed")
	}
	if m.IsRunning("fs") {
		t.Fatal("IsRunning() = true after ReapIdle evicted it")
	}
}

func TestReapIdleSkipsPersistentServers(t *testing.T) {
	closed := false
	conn := &connection{
		listTools: func(context.Context) ([]mcp.Tool, error) { return nil, nil },
		close: func() error {
			closed = true
			return nil
		},
	}

	m := managerWithFakePool(t, "fs", config.ServerSpec{Command: "fs-mcp", Persistent: true, IdleTimeout: 1}, conn)
	m.pools["fs"].slots[0].lastUsed = time.Now().Add(-time.Hour)

	m.ReapIdle()

	if closed {
		t.Fatal("persistent server should not be reaped")
	}
}

func TestReapIdleSkipsSlotsWithInFlightCalls(t *testing.T) {
	closed := false
	conn := &connection{
		listTools: func(context.Context) ([]mcp.Tool, error) { return nil, nil },
		close: func() error {
			closed = true
			return nil
		},
	}

	m := managerWithFakePool(t, "fs", config.ServerSpec{Command: "fs-mcp", IdleTimeout: 1}, conn)
	slot := m.pools["fs"].slots[0]
	slot.lastUsed = time.Now().Add(-time.Hour)
	slot.inFlight = 1

	m.ReapIdle()

	if closed {
		t.Fatal("slot with an in-flight call should not be reaped even when its lastUsed is stale")
	}
}

func TestReapIdleLeavesRecentlyUsedServersRunning(t *testing.T) {
	closed := false
	conn := &connection{
		listTools: func(context.Context) ([]mcp.Tool, error) { return nil, nil },
		close: func() error {
			closed = true
			return nil
		},
	}

	m := managerWithFakePool(t, "fs", config.ServerSpec{Command: "fs-mcp", IdleTimeout: 3600}, conn)
	m.ReapIdle()

	if closed {
		t.Fatal("recently used server should not be reaped")
	}
}
