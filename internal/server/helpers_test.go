package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/galadril/domoticz-mcp/internal/domoticz"
	"github.com/galadril/domoticz-mcp/internal/logging"
	"github.com/galadril/domoticz-mcp/internal/mcp/oauth"
)

type executorCall struct {
	name  string
	args  map[string]any
	token string
}

type fakeExecutor struct {
	mu     sync.Mutex
	calls  []executorCall
	result map[string]any
	panic  string
}

func (f *fakeExecutor) Tools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("domoticz_get_version", mcp.WithDescription("Get Domoticz version information")),
		mcp.NewTool("domoticz_device_status",
			mcp.WithDescription("Get detailed status of a specific device"),
			mcp.WithNumber("idx", mcp.Required()),
		),
	}
}

func (f *fakeExecutor) Command(name string) string {
	return "getversion"
}

func (f *fakeExecutor) Execute(_ context.Context, name string, args map[string]any, accessToken string) map[string]any {
	if f.panic != "" {
		panic(f.panic)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, executorCall{name: name, args: args, token: accessToken})
	if f.result != nil {
		return f.result
	}
	return map[string]any{"status": "OK"}
}

func (f *fakeExecutor) recorded() []executorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executorCall(nil), f.calls...)
}

// fakeDomoticz serves the OpenID configuration with endpoints on
// auth.example.com.
func fakeDomoticz(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != domoticz.WellKnownPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"issuer": "https://auth.example.com",
			"authorization_endpoint": "https://auth.example.com/oauth2/v1/authorize",
			"token_endpoint": "https://auth.example.com/oauth2/v1/token"
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testContextOptions struct {
	domoticzURL string
	withOAuth   bool
	mutateOAuth func(*oauth.Config)
}

func newTestServerContext(t *testing.T, opts testContextOptions) *ServerContext {
	t.Helper()

	baseURL := opts.domoticzURL
	if baseURL == "" {
		// Nothing listens on port 1; discovery fails fast.
		baseURL = "http://127.0.0.1:1"
	}
	client, err := domoticz.NewClient(baseURL, domoticz.WithLogger(logging.Discard()))
	require.NoError(t, err)

	var oauthHandler *oauth.Handler
	if opts.withOAuth {
		cfg := oauth.DefaultConfig()
		cfg.Logger = logging.Discard().Logger()
		if opts.mutateOAuth != nil {
			opts.mutateOAuth(cfg)
		}
		oauthHandler, err = oauth.NewHandler(client, cfg)
		require.NoError(t, err)
	}

	sc, err := NewServerContext(context.Background(), ServerContextConfig{
		Domoticz: client,
		OAuth:    oauthHandler,
		Logger:   logging.Discard().Logger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

func newTestMCPHandler(t *testing.T, executor *fakeExecutor) *MCPHandler {
	t.Helper()
	h, err := NewMCPHandler(newTestServerContext(t, testContextOptions{}), executor, "")
	require.NoError(t, err)
	return h
}

func postRPC(h http.Handler, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}
