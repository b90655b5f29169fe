package mcp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/llmtools"
)

const protocolVersion = "2024-11-05"

// Server exposes the tool registry over the Model Context Protocol:
// JSON-RPC 2.0 on POST /mcp (streamable HTTP) plus the legacy SSE
// transport.
type Server struct {
	registry *llmtools.Registry
	sessions *sessionStore
	log      *logrus.Logger
}

func NewServer(registry *llmtools.Registry, log *logrus.Logger) *Server {
	return &Server{
		registry: registry,
		sessions: newSessionStore(),
		log:      log,
	}
}

// RegisterRoutes mounts the MCP endpoints on a router group.
func (s *Server) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/mcp", s.handlePost)
	group.GET("/mcp/sse", s.handleSSE)
	group.POST("/mcp/messages/:session", s.handleSessionMessage)
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// isNotification reports whether the frame needs no reply: either a
// request without an id, or a client-side response object.
func (r *rpcRequest) isNotification() bool {
	if r.Method == "" {
		return true
	}
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// handlePost is the streamable-HTTP transport: one JSON-RPC frame per
// request. Notifications and response objects are acknowledged with
// 202 and never dispatched.
func (s *Server) handlePost(c *gin.Context) {
	var req rpcRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			ID:      json.RawMessage("null"),
			Error:   &rpcError{Code: codeParseError, Message: "parse error: " + err.Error()},
		})
		return
	}

	if req.isNotification() {
		c.Status(http.StatusAccepted)
		return
	}

	c.JSON(http.StatusOK, s.dispatch(c, &req))
}

// dispatch runs one JSON-RPC request to completion.
func (s *Server) dispatch(c *gin.Context, req *rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{"listChanged": false},
			},
			"serverInfo": map[string]interface{}{
				"name":    "hearth",
				"version": "1.0.0",
			},
		}
	case "ping":
		resp.Result = map[string]interface{}{}
	case "tools/list":
		resp.Result = map[string]interface{}{"tools": s.listTools()}
	case "tools/call":
		result, rpcErr := s.callTool(c, req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}
	return resp
}

type toolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// listTools flattens the registry: tool names are "<api>.<tool>".
func (s *Server) listTools() []toolInfo {
	var out []toolInfo
	for _, api := range s.registry.APIs() {
		for _, tool := range api.Tools() {
			schema := tool.Parameters
			if schema == nil {
				schema = map[string]interface{}{"type": "object"}
			}
			out = append(out, toolInfo{
				Name:        api.Name + "." + tool.Name,
				Description: tool.Description,
				InputSchema: schema,
			})
		}
	}
	return out
}

func (s *Server) callTool(c *gin.Context, rawParams json.RawMessage) (interface{}, *rpcError) {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}

	dot := strings.Index(params.Name, ".")
	if dot < 0 {
		return nil, &rpcError{Code: codeInvalidParams, Message: "tool name must be <api>.<tool>: " + params.Name}
	}

	result, err := s.registry.Call(c.Request.Context(), params.Name[:dot], params.Name[dot+1:], params.Arguments)
	if err != nil {
		var notFound *llmtools.NotFoundError
		if errors.As(err, &notFound) {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		// Tool execution failures are reported in-band per MCP.
		return map[string]interface{}{
			"isError": true,
			"content": []map[string]interface{}{
				{"type": "text", "text": err.Error()},
			},
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: "failed to encode result"}
	}
	return map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(text)},
		},
	}, nil
}

// handleSessionMessage is the legacy SSE companion endpoint: the reply
// travels over the session's event stream, the POST itself only
// acknowledges.
func (s *Server) handleSessionMessage(c *gin.Context) {
	session, ok := s.sessions.get(c.Param("session"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "parse error: " + err.Error()})
		return
	}

	if req.isNotification() {
		c.Status(http.StatusAccepted)
		return
	}

	resp := s.dispatch(c, &req)
	data, err := json.Marshal(resp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode response"})
		return
	}
	if !session.push(data) {
		c.JSON(http.StatusGone, gin.H{"error": "session closed"})
		return
	}
	c.Status(http.StatusAccepted)
}
