// Package stdiotransport implements spec.md §4.6's stdio transport: one
// JSON document per input line, framed responses on stdout, stderr
// reserved for diagnostics, a single peer whose own request IDs are
// echoed back unchanged.
//
// Grounded on original_source/src/proxy.rs's ProxyServer::stdio_loop
// (line-buffered read, skip blank lines, decode, dispatch, encode,
// write-and-flush) for the loop shape, and the teacher's
// internal/ipc/server.go for the start/stop lifecycle convention (without
// the Unix-socket accept loop, which doesn't apply to a single stdio peer).
package stdiotransport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mcpmux/mcpx/internal/protocol"
	"github.com/mcpmux/mcpx/internal/proxy"
)

// Transport reads one JSON-RPC message per line from in and writes
// responses to out.
type Transport struct {
	Server *proxy.Server
	In     io.Reader
	Out    io.Writer
}

// New returns a Transport wired to the given proxy core and streams.
func New(server *proxy.Server, in io.Reader, out io.Writer) *Transport {
	return &Transport{Server: server, In: in, Out: out}
}

// Run reads lines until ctx is cancelled or In returns EOF, dispatching
// each decoded request/notification to the proxy core and writing back
// any response. On exit (including ctx cancellation) every child server is
// stopped, matching original_source's stdio_loop cleanup.
func (t *Transport) Run(ctx context.Context) error {
	defer t.Server.Shutdown()

	scanner := bufio.NewScanner(t.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		env, err := protocol.Decode([]byte(line))
		if err != nil {
			continue
		}

		if env.IsNotification() {
			t.Server.DispatchNotification(env.Method, env.Params)
			continue
		}
		if !env.IsRequest() {
			continue
		}

		req := &protocol.Request{JSONRPC: protocol.Version, ID: env.ID, Method: env.Method, Params: env.Params}
		resp := t.Server.Dispatch(ctx, req)
		if resp == nil {
			continue
		}
		if err := t.write(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (t *Transport) write(resp *protocol.Response) error {
	msg, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	msg = append(msg, '\n')
	_, err = t.Out.Write(msg)
	return err
}
