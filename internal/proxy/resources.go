package proxy

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mcpmux/mcpx/internal/protocol"
)

// Aggregation of resources and prompts across every running child, each
// name/URI prefixed with "<server>/" to avoid collisions, matching spec.md
// §4.5's explicit prefix separator (deliberately a single slash here, unlike
// tools/call's "<server>__<tool>" double-underscore form — spec.md §4.5
// documents the two surfaces with different joiners). A child that errors
// is omitted from the merged list; the overall request still succeeds with
// whatever partial data the other children returned, per original_source's
// request_all_running pattern.

func (s *Server) handlePromptsList(ctx context.Context, id json.RawMessage) *protocol.Response {
	results := s.Child.ListPromptsAll(ctx)
	all := make([]map[string]any, 0)
	for _, r := range results {
		if r.Err != nil {
			if s.Log != nil {
				s.Log.Warn("prompts/list on %s failed: %v", r.Server, r.Err)
			}
			continue
		}
		for _, p := range r.Prompts {
			raw, err := json.Marshal(p)
			if err != nil {
				continue
			}
			var obj map[string]any
			if err := json.Unmarshal(raw, &obj); err != nil {
				continue
			}
			obj["name"] = r.Server + "/" + p.Name
			all = append(all, obj)
		}
	}
	raw, err := json.Marshal(map[string]any{"prompts": all})
	if err != nil {
		return protocol.Fail(id, protocol.CodeInternalError, err.Error(), nil)
	}
	return protocol.Success(id, raw)
}

func (s *Server) handlePromptsGet(ctx context.Context, id json.RawMessage, params json.RawMessage) *protocol.Response {
	var args struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return protocol.Fail(id, protocol.CodeInvalidParams, "invalid prompts/get params", nil)
	}
	server, prompt, ok := strings.Cut(args.Name, "/")
	if !ok {
		return protocol.Fail(id, protocol.CodeInvalidParams, "Invalid prompt name format", nil)
	}
	result, err := s.Child.GetPrompt(ctx, server, prompt, args.Arguments)
	if err != nil {
		return protocol.Fail(id, protocol.CodeServerUnavailable, err.Error(), nil)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return protocol.Fail(id, protocol.CodeInternalError, err.Error(), nil)
	}
	return protocol.Success(id, raw)
}

func (s *Server) handleResourcesList(ctx context.Context, id json.RawMessage) *protocol.Response {
	results := s.Child.ListResourcesAll(ctx)
	all := make([]map[string]any, 0)
	for _, r := range results {
		if r.Err != nil {
			if s.Log != nil {
				s.Log.Warn("resources/list on %s failed: %v", r.Server, r.Err)
			}
			continue
		}
		for _, res := range r.Resources {
			raw, err := json.Marshal(res)
			if err != nil {
				continue
			}
			var obj map[string]any
			if err := json.Unmarshal(raw, &obj); err != nil {
				continue
			}
			obj["uri"] = r.Server + "/" + res.URI
			all = append(all, obj)
		}
	}
	raw, err := json.Marshal(map[string]any{"resources": all})
	if err != nil {
		return protocol.Fail(id, protocol.CodeInternalError, err.Error(), nil)
	}
	return protocol.Success(id, raw)
}

func (s *Server) handleResourceTemplatesList(ctx context.Context, id json.RawMessage) *protocol.Response {
	results := s.Child.ListResourceTemplatesAll(ctx)
	all := make([]map[string]any, 0)
	for _, r := range results {
		if r.Err != nil {
			if s.Log != nil {
				s.Log.Warn("resources/templates/list on %s failed: %v", r.Server, r.Err)
			}
			continue
		}
		for _, t := range r.Templates {
			raw, err := json.Marshal(t)
			if err != nil {
				continue
			}
			var obj map[string]any
			if err := json.Unmarshal(raw, &obj); err != nil {
				continue
			}
			obj["uriTemplate"] = r.Server + "/" + t.URITemplate.Raw()
			all = append(all, obj)
		}
	}
	raw, err := json.Marshal(map[string]any{"resourceTemplates": all})
	if err != nil {
		return protocol.Fail(id, protocol.CodeInternalError, err.Error(), nil)
	}
	return protocol.Success(id, raw)
}

func (s *Server) handleResourcesRead(ctx context.Context, id json.RawMessage, params json.RawMessage) *protocol.Response {
	var args struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return protocol.Fail(id, protocol.CodeInvalidParams, "invalid resources/read params", nil)
	}
	server, uri, ok := strings.Cut(args.URI, "/")
	if !ok {
		return protocol.Fail(id, protocol.CodeInvalidParams, "Invalid resource uri format", nil)
	}
	contents, err := s.Child.ReadResource(ctx, server, uri)
	if err != nil {
		return protocol.Fail(id, protocol.CodeServerUnavailable, err.Error(), nil)
	}
	raw, err := json.Marshal(map[string]any{"contents": contents})
	if err != nil {
		return protocol.Fail(id, protocol.CodeInternalError, err.Error(), nil)
	}
	return protocol.Success(id, raw)
}
