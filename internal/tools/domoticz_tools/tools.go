package domoticz_tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/galadril/domoticz-mcp/internal/domoticz"
	"github.com/galadril/domoticz-mcp/internal/logging"
	"github.com/galadril/domoticz-mcp/internal/server"
	"github.com/galadril/domoticz-mcp/internal/tools/common"
)

// Tool names.
const (
	ToolGetVersion   = "domoticz_get_version"
	ToolListDevices  = "domoticz_list_devices"
	ToolDeviceStatus = "domoticz_device_status"
	ToolListScenes   = "domoticz_list_scenes"
	ToolGetLog       = "domoticz_get_log"
)

// Domoticz json.htm commands, sent as the "param" query value.
const (
	commandGetVersion = "getversion"
	commandGetDevices = "getdevices"
	commandGetScenes  = "getscenes"
	commandGetLog     = "getlog"
)

const (
	defaultFilter  = "all"
	defaultLogType = "status"

	errUnauthorized = "OAuth token expired or invalid"
)

// Caller issues a single json.htm command. *domoticz.Client implements it.
type Caller interface {
	Call(ctx context.Context, accessToken string, params url.Values) (map[string]any, error)
}

// Executor validates tool arguments, maps each tool onto its Domoticz
// command and converts failures into {"error": ...} results.
type Executor struct {
	client Caller
	logger logging.Logger
	tools  []mcp.Tool
}

// NewExecutor creates an executor calling Domoticz through client.
func NewExecutor(client Caller, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Executor{
		client: client,
		logger: logger,
		tools:  definitions(),
	}
}

// withInteger adds an integer property to the tool schema. mcp-go only
// ships a "number" variant.
func withInteger(name string, opts ...mcp.PropertyOption) mcp.ToolOption {
	return func(t *mcp.Tool) {
		schema := map[string]any{
			"type": "integer",
		}
		for _, opt := range opts {
			opt(schema)
		}
		if required, ok := schema["required"].(bool); ok && required {
			delete(schema, "required")
			t.InputSchema.Required = append(t.InputSchema.Required, name)
		}
		t.InputSchema.Properties[name] = schema
	}
}

func readOnly() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
	}
}

func newTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	all := append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)
	return mcp.NewTool(name, append(all, readOnly()...)...)
}

func definitions() []mcp.Tool {
	return []mcp.Tool{
		newTool(ToolGetVersion, "Get Domoticz version information"),
		newTool(ToolListDevices, "List all Domoticz devices with optional filtering",
			mcp.WithString("filter",
				mcp.Description("Device type filter"),
				mcp.Enum("all", "light", "weather", "temperature", "utility"),
				mcp.DefaultString(defaultFilter),
			),
			mcp.WithBoolean("used",
				mcp.Description("Only return devices that are marked as used"),
				mcp.DefaultBool(true),
			),
		),
		newTool(ToolDeviceStatus, "Get detailed status of a specific device",
			withInteger("idx",
				mcp.Required(),
				mcp.Description("Device index (idx) as shown in the Domoticz device list"),
				mcp.Min(1),
			),
		),
		newTool(ToolListScenes, "List all scenes and groups"),
		newTool(ToolGetLog, "Retrieve Domoticz logs",
			mcp.WithString("log_type",
				mcp.Description("Which log to read"),
				mcp.Enum("status", "error", "notification"),
				mcp.DefaultString(defaultLogType),
			),
		),
	}
}

// Tools returns the static tool list. The slice is a copy.
func (e *Executor) Tools() []mcp.Tool {
	out := make([]mcp.Tool, len(e.tools))
	copy(out, e.tools)
	return out
}

// Command returns the Domoticz command a tool issues, or "" for an unknown
// tool.
func (e *Executor) Command(name string) string {
	switch name {
	case ToolGetVersion:
		return commandGetVersion
	case ToolListDevices, ToolDeviceStatus:
		return commandGetDevices
	case ToolListScenes:
		return commandGetScenes
	case ToolGetLog:
		return commandGetLog
	default:
		return ""
	}
}

// Execute runs the named tool. It never returns an error: validation and
// downstream failures are reported in the result's "error" key.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any, accessToken string) map[string]any {
	if args == nil {
		args = map[string]any{}
	}

	params, err := e.params(name, args)
	if err != nil {
		return errorResult(err.Error())
	}
	if params == nil {
		return errorResult(fmt.Sprintf("Unknown tool: %s", name))
	}

	result, err := e.client.Call(ctx, accessToken, params)
	if err != nil {
		e.logger.Warn("domoticz call failed", logging.Tool(name), logging.Err(err))
		return callErrorResult(err)
	}
	if result == nil {
		result = map[string]any{}
	}
	return result
}

// params builds the json.htm query for a tool. A nil result without error
// means the tool is unknown.
func (e *Executor) params(name string, args map[string]any) (url.Values, error) {
	switch name {
	case ToolGetVersion:
		return url.Values{"param": {commandGetVersion}}, nil

	case ToolListDevices:
		filter, err := common.StringArg(args, "filter", defaultFilter)
		if err != nil {
			return nil, err
		}
		used, err := common.BoolArg(args, "used", true)
		if err != nil {
			return nil, err
		}
		params := url.Values{"param": {commandGetDevices}, "filter": {filter}}
		if used {
			params.Set("used", "true")
		}
		return params, nil

	case ToolDeviceStatus:
		idx, ok, err := common.IntArg(args, "idx")
		if err != nil {
			return nil, err
		}
		if !ok || idx == 0 {
			return nil, errors.New("idx parameter is required")
		}
		if idx < 0 {
			return nil, errors.New("idx must be a positive integer")
		}
		return url.Values{"param": {commandGetDevices}, "rid": {strconv.Itoa(idx)}}, nil

	case ToolListScenes:
		return url.Values{"param": {commandGetScenes}}, nil

	case ToolGetLog:
		logType, err := common.StringArg(args, "log_type", defaultLogType)
		if err != nil {
			return nil, err
		}
		return url.Values{"param": {commandGetLog}, "log": {logType}}, nil

	default:
		return nil, nil
	}
}

func errorResult(msg string) map[string]any {
	return map[string]any{"error": msg}
}

func callErrorResult(err error) map[string]any {
	var apiErr *domoticz.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Unauthorized() {
			return map[string]any{"error": errUnauthorized, "status_code": apiErr.StatusCode}
		}
		return errorResult(fmt.Sprintf("Domoticz API call failed: %d", apiErr.StatusCode))
	}
	return errorResult(fmt.Sprintf("Domoticz OAuth API call error: %v", err))
}

// RegisterDomoticzTools registers the Domoticz tools with an mcp-go server,
// used by the stdio transport. Calls are made with the server context's
// configured access token.
func RegisterDomoticzTools(s *mcpserver.MCPServer, sc *server.ServerContext, executor *Executor) error {
	if executor == nil {
		return fmt.Errorf("executor is required")
	}
	if sc == nil {
		return fmt.Errorf("server context is required")
	}

	for _, tool := range executor.Tools() {
		name := tool.Name
		s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			result := common.InstrumentedExecute(ctx, sc, executor, name, request.GetArguments(), sc.AccessToken())
			return common.ToolResult(result), nil
		})
	}

	return nil
}
