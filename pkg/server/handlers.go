package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/auth"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/mediator"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/observability"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/protocol"
)

// handleJSONRPC is the agent-facing POST /mcp endpoint.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeResponse(w, protocol.NewErrorResponse(nil, protocol.ParseError, "failed to read request body"))
		return
	}

	resp := s.dispatch(r.Context(), body, userContextFrom(r))
	writeResponse(w, resp)
}

// dispatch parses one JSON-RPC message and routes it to the mediator.
// Shared by the HTTP and WebSocket transports.
func (s *Server) dispatch(ctx context.Context, body []byte, user mediator.UserContext) *protocol.JSONRPCResponse {
	var req protocol.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.NewErrorResponse(nil, protocol.ParseError, "invalid JSON")
	}
	if req.JSONRPC != protocol.Version {
		return protocol.NewErrorResponse(req.ID, protocol.InvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case protocol.MethodInitialize:
		return protocol.NewResponse(req.ID, s.mediator.Initialize())

	case protocol.MethodListTools:
		return protocol.NewResponse(req.ID, s.mediator.ListTools(ctx))

	case protocol.MethodCallTool:
		var params protocol.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			return protocol.NewErrorResponse(req.ID, protocol.InvalidParams, "tools/call requires a tool name")
		}
		result := s.mediator.HandleToolCall(ctx, params.Name, params.Arguments, user)
		return protocol.NewResponse(req.ID, result)

	default:
		return protocol.NewErrorResponse(req.ID, protocol.MethodNotFound, "unknown method "+req.Method)
	}
}

// handleContextFetch is the Executor's claim-check dereference:
// GET /context/{requestID} consumes the stored body exactly once.
func (s *Server) handleContextFetch(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	stored := s.store.FetchAndConsume(requestID)
	if stored == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"found": false,
			"error": "Context not found or already consumed",
		})
		return
	}

	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordContextStore(r.Context(), 0, 1)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"found":   true,
		"context": stored,
	})
}

// handleContextCounts reports store occupancy for monitoring.
func (s *Server) handleContextCounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stored":   s.store.Count(),
		"consumed": s.store.ConsumedCount(),
	})
}

// handleCallback receives the Executor's result and wakes the waiter.
// Duplicate or late callbacks are acknowledged and dropped.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var result protocol.ExecuteResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid callback body"})
		return
	}
	if result.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "requestId is required"})
		return
	}

	s.mediator.CompleteExecution(&result)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// userContextFrom derives the calling principal from validated JWT
// claims when present.
func userContextFrom(r *http.Request) mediator.UserContext {
	user := mediator.UserContext{}
	if claims := auth.GetClaims(r); claims != nil {
		user.UserID = claims.Subject
		user.TenantID = claims.TenantID
	}
	return user
}

func writeResponse(w http.ResponseWriter, resp *protocol.JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to write JSON-RPC response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
