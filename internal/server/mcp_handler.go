package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/galadril/domoticz-mcp/internal/instrumentation"
	"github.com/galadril/domoticz-mcp/internal/logging"
	"github.com/galadril/domoticz-mcp/internal/tools/common"
)

const (
	// ServerName is reported in the initialize result.
	ServerName = "domoticz-mcp-server"

	// DefaultServerVersion is reported when no version is configured.
	DefaultServerVersion = "2.0.0"

	// BearerRealm is the realm of the WWW-Authenticate challenge.
	BearerRealm = "Domoticz MCP"

	maxRPCBodyBytes = 1 << 20
)

// JSON-RPC methods handled by MCPHandler.
const (
	MethodInitialize  = "initialize"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodSetLogLevel = "logging/setLevel"

	notificationPrefix = "notifications/"
)

// ToolExecutor is the tool backend of the dispatcher.
type ToolExecutor interface {
	common.ToolExecutor
	Tools() []mcp.Tool
}

// MCPHandler is a stateless JSON-RPC 2.0 dispatcher for POST /mcp. Every
// request is handled on its own; there are no MCP sessions.
type MCPHandler struct {
	sc       *ServerContext
	executor ToolExecutor
	version  string
	logger   *slog.Logger
}

// NewMCPHandler creates a dispatcher. An empty version selects
// DefaultServerVersion.
func NewMCPHandler(sc *ServerContext, executor ToolExecutor, version string) (*MCPHandler, error) {
	if sc == nil {
		return nil, fmt.Errorf("server context is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if version == "" {
		version = DefaultServerVersion
	}
	return &MCPHandler{
		sc:       sc,
		executor: executor,
		version:  version,
		logger:   sc.Logger().With(logging.KeyService, "mcp"),
	}, nil
}

// rpcRequest is the decoded envelope. hasID distinguishes a notification
// from a request with "id": null.
type rpcRequest struct {
	ID     mcp.RequestId
	hasID  bool
	Method string
	Params json.RawMessage
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type setLevelParams struct {
	Level string `json:"level"`
}

// errUnauthorized is returned by dispatch when tools/call has no usable
// bearer token.
var errUnauthorized = errors.New("missing or invalid access token")

// ServeHTTP implements http.Handler.
func (h *MCPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var id mcp.RequestId
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic while handling MCP request", "panic", rec)
			h.writeRPC(w, http.StatusInternalServerError,
				mcp.NewJSONRPCError(id, mcp.INTERNAL_ERROR, fmt.Sprintf("Internal error: %v", rec), nil))
		}
	}()

	req, err := decodeRPCRequest(http.MaxBytesReader(w, r.Body, maxRPCBodyBytes))
	id = req.ID
	if err != nil {
		h.logger.Warn("invalid MCP request", logging.Err(err))
		h.writeRPC(w, http.StatusInternalServerError,
			mcp.NewJSONRPCError(id, mcp.INTERNAL_ERROR, fmt.Sprintf("Internal error: %v", err), nil))
		return
	}

	h.logger.Debug("MCP request",
		"method", req.Method,
		logging.RequestID(instrumentation.RequestIDFromContext(r.Context())))

	if !req.hasID && strings.HasPrefix(req.Method, notificationPrefix) {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, rpcErr := h.dispatch(r, req)
	if errors.Is(rpcErr, errUnauthorized) {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", BearerRealm))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "Missing or invalid access token")
		return
	}

	var methodErr *methodNotFoundError
	if errors.As(rpcErr, &methodErr) {
		h.writeRPC(w, http.StatusOK,
			mcp.NewJSONRPCError(req.ID, mcp.METHOD_NOT_FOUND, methodErr.Error(), nil))
		return
	}
	if rpcErr != nil {
		h.writeRPC(w, http.StatusInternalServerError,
			mcp.NewJSONRPCError(req.ID, mcp.INTERNAL_ERROR, fmt.Sprintf("Internal error: %v", rpcErr), nil))
		return
	}

	h.writeRPC(w, http.StatusOK, mcp.NewJSONRPCResultResponse(req.ID, result))
}

type methodNotFoundError struct {
	method string
}

func (e *methodNotFoundError) Error() string {
	return "Method not found: " + e.method
}

func (h *MCPHandler) dispatch(r *http.Request, req rpcRequest) (any, error) {
	switch req.Method {
	case MethodInitialize:
		return h.initializeResult(), nil

	case MethodPing:
		return struct{}{}, nil

	case MethodToolsList:
		return mcp.ListToolsResult{Tools: h.executor.Tools()}, nil

	case MethodToolsCall:
		token, ok := bearerToken(r)
		if !ok {
			return nil, errUnauthorized
		}
		var params callToolParams
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		h.logger.Debug("tools/call",
			logging.Tool(params.Name),
			"token", logging.SanitizeToken(token))
		result := common.InstrumentedExecute(r.Context(), h.sc, h.executor, params.Name, params.Arguments, token)
		return map[string]any{
			"content": []mcp.Content{mcp.NewTextContent(common.MarshalResult(result))},
		}, nil

	case MethodSetLogLevel:
		var params setLevelParams
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		if params.Level == "" {
			params.Level = "info"
		}
		h.logger.Info("log level requested by client", "level", params.Level)
		return struct{}{}, nil

	default:
		return nil, &methodNotFoundError{method: req.Method}
	}
}

func (h *MCPHandler) initializeResult() mcp.InitializeResult {
	return mcp.InitializeResult{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged,omitempty"`
			}{},
			Logging: &struct{}{},
		},
		ServerInfo: mcp.Implementation{
			Name:    ServerName,
			Version: h.version,
		},
	}
}

func (h *MCPHandler) writeRPC(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write MCP response", logging.Err(err))
	}
}

// decodeRPCRequest parses the envelope field by field so the id can be
// echoed even when another member is malformed.
func decodeRPCRequest(body io.Reader) (rpcRequest, error) {
	var req rpcRequest

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return req, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw == nil {
		return req, fmt.Errorf("request must be a JSON object")
	}

	if rawID, ok := raw["id"]; ok {
		req.hasID = true
		if err := json.Unmarshal(rawID, &req.ID); err != nil {
			req.ID = mcp.RequestId{}
			return req, err
		}
	}

	rawMethod, ok := raw["method"]
	if !ok {
		return req, fmt.Errorf("method is required")
	}
	if err := json.Unmarshal(rawMethod, &req.Method); err != nil {
		return req, fmt.Errorf("method must be a string")
	}

	req.Params = raw["params"]
	return req, nil
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
