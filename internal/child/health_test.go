package child

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcpmux/mcpx/internal/config"
	"github.com/mark3labs/mcp-go/mcp"
)

func TestHealthCheckReportsAliveOnSuccessfulPing(t *testing.T) {
	conn := &connection{
		listTools: func(context.Context) ([]mcp.Tool, error) { return nil, nil },
		ping:      func(context.Context) error { return nil },
	}
	m := managerWithFakePool(t, "fs", config.ServerSpec{Command: "fs-mcp"}, conn)

	results := m.HealthCheck(context.Background(), time.Second, false)
	if len(results) != 1 || !results[0].Alive {
		t.Fatalf("HealthCheck() = %#v, want one alive result", results)
	}
}

func TestHealthCheckStopsDeadServerWithoutAutoRestart(t *testing.T) {
	conn := &connection{
		listTools: func(context.Context) ([]mcp.Tool, error) { return nil, nil },
		ping:      func(context.Context) error { return errors.New("no response") },
		close:     func() error { return nil },
	}
	m := managerWithFakePool(t, "fs", config.ServerSpec{Command: "fs-mcp"}, conn)

	results := m.HealthCheck(context.Background(), time.Second, false)
	if len(results) != 1 || results[0].Alive {
		t.Fatalf("HealthCheck() = %#v, want one dead result", results)
	}
	if m.IsRunning("fs") {
		t.Fatal("IsRunning() = true, want dead server stopped since autoRestart is false")
	}
}

func TestHealthCheckRestartsDeadServerWithAutoRestart(t *testing.T) {
	pingCalls := 0
	conn := &connection{
		listTools: func(context.Context) ([]mcp.Tool, error) { return nil, nil },
		ping: func(context.Context) error {
			pingCalls++
			return errors.New("no response")
		},
		close: func() error { return nil },
	}
	m := managerWithFakePool(t, "fs", config.ServerSpec{Command: "fs-mcp"}, conn)
	m.connect = func(ctx context.Context, name string, spec config.ServerSpec) (*connection, error) {
		return &connection{
			listTools: func(context.Context) ([]mcp.Tool, error) { return nil, nil },
			ping:      func(context.Context) error { return nil },
			close:     func() error { return nil },
		}, nil
	}

	m.HealthCheck(context.Background(), time.Second, true)

	if !m.IsRunning("fs") {
		t.Fatal("IsRunning() = false, want server restarted in place")
	}
	if pingCalls != 1 {
		t.Fatalf("ping called %d times, want 1", pingCalls)
	}
}
