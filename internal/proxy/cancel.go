package proxy

import (
	"encoding/json"
	"sync"
)

// cancelEntry tracks one in-flight client request: whether it has since
// received a notifications/cancelled, and which child server it was
// forwarded to (once known), so a cancel can be relayed to that child.
type cancelEntry struct {
	cancelled bool
	server    string
}

// cancelTable tracks every in-flight client request ID, per spec.md §5's
// cancellation semantics: a cancellation is advisory to the client-facing
// response path (it does not abort the forwarded child call — the child may
// already be mid-execution, and MCP requires its eventual response still be
// delivered to the client), but it IS forwarded down to the owning child
// via internal/child's Manager.Cancel, matching spec.md §4.4's cancel(server,
// client-request-id).
type cancelTable struct {
	mu      sync.Mutex
	entries map[string]*cancelEntry
}

func newCancelTable() *cancelTable {
	return &cancelTable{entries: make(map[string]*cancelEntry)}
}

// Track registers id as in-flight and returns a function reporting
// whether notifications/cancelled has since been received for it, plus a
// cleanup to call once the request resolves so the table doesn't grow
// unbounded.
func (t *cancelTable) Track(id json.RawMessage) (checkCancelled func() bool, done func()) {
	if len(id) == 0 {
		return func() bool { return false }, func() {}
	}
	key := string(id)

	t.mu.Lock()
	t.entries[key] = &cancelEntry{}
	t.mu.Unlock()

	checkCancelled = func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		e := t.entries[key]
		return e != nil && e.cancelled
	}
	done = func() {
		t.mu.Lock()
		delete(t.entries, key)
		t.mu.Unlock()
	}
	return checkCancelled, done
}

// Bind records which server id's forwarded call landed on, called once
// callAndRecord knows the target, so a later Cancel can name that server.
func (t *cancelTable) Bind(id json.RawMessage, server string) {
	if len(id) == 0 {
		return
	}
	key := string(id)
	t.mu.Lock()
	if e, ok := t.entries[key]; ok {
		e.server = server
	}
	t.mu.Unlock()
}

// Cancel marks id as cancelled, if it is still in flight, and reports which
// server it was bound to so the caller can forward notifications/cancelled
// to that child. It never touches the request's context or goroutine: the
// forwarded child call keeps running, and its response, whenever it
// arrives, is still delivered to the client per spec.md §5.
func (t *cancelTable) Cancel(id json.RawMessage) (server string, ok bool) {
	if len(id) == 0 {
		return "", false
	}
	key := string(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	e, exists := t.entries[key]
	if !exists {
		return "", false
	}
	e.cancelled = true
	return e.server, e.server != ""
}
