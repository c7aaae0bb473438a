package domoticz_tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galadril/domoticz-mcp/internal/domoticz"
	"github.com/galadril/domoticz-mcp/internal/logging"
	"github.com/galadril/domoticz-mcp/internal/server"
)

type fakeCaller struct {
	calls  []url.Values
	tokens []string
	result map[string]any
	err    error
}

func (f *fakeCaller) Call(_ context.Context, accessToken string, params url.Values) (map[string]any, error) {
	f.calls = append(f.calls, params)
	f.tokens = append(f.tokens, accessToken)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return map[string]any{"status": "OK"}, nil
}

func TestExecutor_Tools(t *testing.T) {
	e := NewExecutor(&fakeCaller{}, logging.Discard())
	tools := e.Tools()
	require.Len(t, tools, 5)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
		assert.Equal(t, "object", tool.InputSchema.Type, tool.Name)
		require.NotNil(t, tool.Annotations.ReadOnlyHint)
		assert.True(t, *tool.Annotations.ReadOnlyHint, tool.Name)
		assert.NotEmpty(t, e.Command(tool.Name), tool.Name)
	}
	assert.Equal(t, []string{ToolGetVersion, ToolListDevices, ToolDeviceStatus, ToolListScenes, ToolGetLog}, names)

	// Callers get a copy.
	tools[0].Name = "changed"
	assert.Equal(t, ToolGetVersion, e.Tools()[0].Name)
}

func TestExecutor_DeviceStatusSchema(t *testing.T) {
	e := NewExecutor(&fakeCaller{}, logging.Discard())

	var tool mcp.Tool
	for _, tt := range e.Tools() {
		if tt.Name == ToolDeviceStatus {
			tool = tt
		}
	}

	raw, err := json.Marshal(tool.InputSchema)
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.Equal(t, []any{"idx"}, schema["required"])

	idx := schema["properties"].(map[string]any)["idx"].(map[string]any)
	assert.Equal(t, "integer", idx["type"])
	assert.Equal(t, float64(1), idx["minimum"])
	_, hasRequired := idx["required"]
	assert.False(t, hasRequired)
}

func TestExecutor_Execute_Params(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args map[string]any
		want url.Values
	}{
		{
			name: "version",
			tool: ToolGetVersion,
			want: url.Values{"param": {"getversion"}},
		},
		{
			name: "devices defaults",
			tool: ToolListDevices,
			want: url.Values{"param": {"getdevices"}, "filter": {"all"}, "used": {"true"}},
		},
		{
			name: "devices filtered, unused included",
			tool: ToolListDevices,
			args: map[string]any{"filter": "light", "used": false},
			want: url.Values{"param": {"getdevices"}, "filter": {"light"}},
		},
		{
			name: "device status",
			tool: ToolDeviceStatus,
			args: map[string]any{"idx": float64(42)},
			want: url.Values{"param": {"getdevices"}, "rid": {"42"}},
		},
		{
			name: "device status string idx",
			tool: ToolDeviceStatus,
			args: map[string]any{"idx": "7"},
			want: url.Values{"param": {"getdevices"}, "rid": {"7"}},
		},
		{
			name: "scenes",
			tool: ToolListScenes,
			want: url.Values{"param": {"getscenes"}},
		},
		{
			name: "log default",
			tool: ToolGetLog,
			want: url.Values{"param": {"getlog"}, "log": {"status"}},
		},
		{
			name: "error log",
			tool: ToolGetLog,
			args: map[string]any{"log_type": "error"},
			want: url.Values{"param": {"getlog"}, "log": {"error"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &fakeCaller{}
			e := NewExecutor(caller, logging.Discard())

			result := e.Execute(context.Background(), tt.tool, tt.args, "tok")
			assert.Equal(t, map[string]any{"status": "OK"}, result)
			require.Len(t, caller.calls, 1)
			assert.Equal(t, tt.want, caller.calls[0])
			assert.Equal(t, "tok", caller.tokens[0])
		})
	}
}

func TestExecutor_Execute_Validation(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		wantErr string
	}{
		{name: "unknown tool", tool: "domoticz_switch_device", wantErr: "Unknown tool: domoticz_switch_device"},
		{name: "idx missing", tool: ToolDeviceStatus, wantErr: "idx parameter is required"},
		{name: "idx zero", tool: ToolDeviceStatus, args: map[string]any{"idx": float64(0)}, wantErr: "idx parameter is required"},
		{name: "idx negative", tool: ToolDeviceStatus, args: map[string]any{"idx": float64(-3)}, wantErr: "idx must be a positive integer"},
		{name: "idx fractional", tool: ToolDeviceStatus, args: map[string]any{"idx": 1.5}, wantErr: "idx must be an integer"},
		{name: "filter wrong type", tool: ToolListDevices, args: map[string]any{"filter": 3.0}, wantErr: "filter must be a string"},
		{name: "used wrong type", tool: ToolListDevices, args: map[string]any{"used": "maybe"}, wantErr: "used must be a boolean"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &fakeCaller{}
			e := NewExecutor(caller, logging.Discard())

			result := e.Execute(context.Background(), tt.tool, tt.args, "tok")
			assert.Equal(t, map[string]any{"error": tt.wantErr}, result)
			assert.Empty(t, caller.calls, "no downstream call on validation failure")
		})
	}
}

func TestExecutor_Execute_CallErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want map[string]any
	}{
		{
			name: "unauthorized",
			err:  &domoticz.APIError{StatusCode: http.StatusUnauthorized, Command: "getversion"},
			want: map[string]any{"error": "OAuth token expired or invalid", "status_code": 401},
		},
		{
			name: "other status",
			err:  &domoticz.APIError{StatusCode: http.StatusInternalServerError, Command: "getversion"},
			want: map[string]any{"error": "Domoticz API call failed: 500"},
		},
		{
			name: "network",
			err:  errors.New("connection refused"),
			want: map[string]any{"error": "Domoticz OAuth API call error: connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecutor(&fakeCaller{err: tt.err}, logging.Discard())
			assert.Equal(t, tt.want, e.Execute(context.Background(), ToolGetVersion, nil, "tok"))
		})
	}
}

func TestExecutor_Execute_AgainstDomoticz(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "getdevices", r.URL.Query().Get("param"))
		assert.Equal(t, "12", r.URL.Query().Get("rid"))
		_, _ = w.Write([]byte(`{"status":"OK","result":[{"idx":"12","Name":"Kitchen","Data":"On"}]}`))
	}))
	defer srv.Close()

	client, err := domoticz.NewClient(srv.URL, domoticz.WithLogger(logging.Discard()))
	require.NoError(t, err)
	e := NewExecutor(client, logging.Discard())

	result := e.Execute(context.Background(), ToolDeviceStatus, map[string]any{"idx": float64(12)}, "good")
	assert.Equal(t, "OK", result["status"])

	result = e.Execute(context.Background(), ToolDeviceStatus, map[string]any{"idx": float64(12)}, "stale")
	assert.Equal(t, map[string]any{"error": "OAuth token expired or invalid", "status_code": 401}, result)
}

func TestRegisterDomoticzTools(t *testing.T) {
	caller := &fakeCaller{result: map[string]any{"status": "OK", "version": "2024.7"}}
	e := NewExecutor(caller, logging.Discard())

	client, err := domoticz.NewClient("http://127.0.0.1:8080")
	require.NoError(t, err)
	sc, err := server.NewServerContext(context.Background(), server.ServerContextConfig{
		Domoticz:    client,
		AccessToken: "stdio-token",
		Logger:      logging.Discard().Logger(),
	})
	require.NoError(t, err)
	defer func() { _ = sc.Shutdown() }()

	s := mcpserver.NewMCPServer("test", "0.0.0", mcpserver.WithToolCapabilities(false))
	require.NoError(t, RegisterDomoticzTools(s, sc, e))
	assert.Len(t, s.ListTools(), 5)

	registered := s.GetTool(ToolGetVersion)
	require.NotNil(t, registered)

	res, err := registered.Handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: ToolGetVersion},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	assert.JSONEq(t, `{"status":"OK","version":"2024.7"}`, text.Text)
	assert.Equal(t, []string{"stdio-token"}, caller.tokens)

	// Validation failures come back as tool errors.
	res, err = s.GetTool(ToolDeviceStatus).Handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: ToolDeviceStatus, Arguments: map[string]any{}},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRegisterDomoticzTools_RequiresExecutor(t *testing.T) {
	s := mcpserver.NewMCPServer("test", "0.0.0")
	assert.Error(t, RegisterDomoticzTools(s, nil, nil))
}
