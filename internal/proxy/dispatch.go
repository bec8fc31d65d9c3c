package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpmux/mcpx/internal/protocol"
)

// Dispatch answers one JSON-RPC request, matching original_source's
// handle_request. A nil return means no response should be sent (the
// method was a notification).
func (s *Server) Dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.ID)
	case "tools/list":
		return s.handleToolsList(req.ID)
	case "tools/call":
		return s.handleToolsCall(ctx, req.ID, req.Params)
	case "prompts/list":
		return s.handlePromptsList(ctx, req.ID)
	case "prompts/get":
		return s.handlePromptsGet(ctx, req.ID, req.Params)
	case "resources/list":
		return s.handleResourcesList(ctx, req.ID)
	case "resources/templates/list":
		return s.handleResourceTemplatesList(ctx, req.ID)
	case "resources/read":
		return s.handleResourcesRead(ctx, req.ID, req.Params)
	case "completion/complete":
		return protocol.Success(req.ID, json.RawMessage(`{"completion":{"values":[]}}`))
	case "ping":
		return protocol.Success(req.ID, json.RawMessage(`{}`))
	default:
		if s.Log != nil {
			s.Log.Warn("unknown method: %s", req.Method)
		}
		return protocol.Fail(req.ID, protocol.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}
}

// DispatchNotification handles a JSON-RPC notification, which never
// produces a response. notifications/initialized is acknowledged silently
// (this proxy doesn't forward it to children: each child already completed
// its own initialize handshake at spawn time). notifications/cancelled
// marks the named in-flight request cancelled, per cancelTable's doc
// comment — it does not abort the forwarded child call.
func (s *Server) DispatchNotification(method string, params json.RawMessage) {
	switch method {
	case "notifications/initialized":
		return
	case "notifications/cancelled":
		var payload struct {
			RequestID json.RawMessage `json:"requestId"`
		}
		if err := json.Unmarshal(params, &payload); err != nil {
			return
		}
		s.Cancel(payload.RequestID)
	default:
		if s.Log != nil {
			s.Log.Debug("unhandled notification: %s", method)
		}
	}
}

// TrackCancellable registers an in-flight request id and returns a
// function reporting whether it has since been cancelled, used by
// tools/call so the eventual child response can note a cancellation
// without suppressing delivery. Callers must invoke the returned cleanup
// once the request resolves.
func (s *Server) TrackCancellable(id json.RawMessage) (checkCancelled func() bool, done func()) {
	return s.cancels.Track(id)
}

// Cancel marks id — from a notifications/cancelled payload, or a dropped
// SSE session — as cancelled, and forwards notifications/cancelled down to
// the child it was dispatched to, per spec.md §4.4/§4.5. See cancelTable's
// doc comment: this never aborts the forwarded child call already in
// flight for id; the client-facing response is still delivered once (or if)
// the child answers.
func (s *Server) Cancel(id json.RawMessage) {
	server, ok := s.cancels.Cancel(id)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelForwardTimeout)
	defer cancel()
	if err := s.Child.Cancel(ctx, server, string(id)); err != nil && s.Log != nil {
		s.Log.Debug("forwarding cancel for %s to %s: %v", string(id), server, err)
	}
}

// cancelForwardTimeout bounds how long Cancel waits for the notification
// write to the child's stdin pipe, matching spec.md §8 scenario 5's "within
// 1s" expectation for cancel delivery.
const cancelForwardTimeout = time.Second
