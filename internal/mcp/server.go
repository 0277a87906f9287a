package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mcportfolio/mcportfolio/internal/tools"
)

// Server dispatches JSON-RPC 2.0 messages onto the tool registry.
type Server struct {
	registry *tools.Registry
	name     string
	version  string
	log      zerolog.Logger
}

// NewServer creates the dispatcher.
func NewServer(registry *tools.Registry, name, version string, log zerolog.Logger) *Server {
	return &Server{
		registry: registry,
		name:     name,
		version:  version,
		log:      log.With().Str("module", "mcp").Logger(),
	}
}

// Handle processes one raw JSON-RPC message and returns the marshalled
// response. Notifications (requests without an id) return nil.
func (s *Server) Handle(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshalResponse(errorResponse(nil, CodeParseError, "parse error"), s.log)
	}

	resp := s.dispatch(ctx, &req)
	if req.ID == nil {
		// Notification: no response on the wire.
		return nil
	}
	return marshalResponse(resp, s.log)
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request")
	}

	switch req.Method {
	case "initialize":
		return successResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			ServerInfo: ServerInfo{Name: s.name, Version: s.version},
		})

	case "ping":
		return successResponse(req.ID, map[string]interface{}{})

	case "tools/list":
		return successResponse(req.ID, map[string]interface{}{
			"tools": s.registry.List(),
		})

	case "tools/call":
		return s.handleToolsCall(ctx, req)

	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid tools/call params")
	}
	if params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "missing tool name")
	}

	envelope, err := s.registry.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		switch {
		case errors.Is(err, tools.ErrUnknownTool):
			return errorResponse(req.ID, CodeMethodNotFound, err.Error())
		case errors.Is(err, tools.ErrInvalidParams):
			return errorResponse(req.ID, CodeInvalidParams, err.Error())
		default:
			return errorResponse(req.ID, CodeInternalError, err.Error())
		}
	}

	text, err := json.Marshal(envelope)
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, "failed to encode tool result")
	}

	return successResponse(req.ID, CallResult{
		Content: []TextContent{{Type: "text", Text: string(text)}},
		IsError: envelope["status"] == "error",
	})
}

func marshalResponse(resp *Response, log zerolog.Logger) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		fallback := errorResponse(resp.ID, CodeInternalError, "internal error")
		out, _ = json.Marshal(fallback)
	}
	return out
}
