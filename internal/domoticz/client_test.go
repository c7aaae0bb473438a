package domoticz

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galadril/domoticz-mcp/internal/logging"
)

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	c, err := NewClient(baseURL, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
		wantErr bool
	}{
		{name: "default", baseURL: "", want: DefaultBaseURL},
		{name: "trailing slash trimmed", baseURL: "http://192.168.1.10:8080/", want: "http://192.168.1.10:8080"},
		{name: "sub path kept", baseURL: "https://home.example.com/domoticz", want: "https://home.example.com/domoticz"},
		{name: "missing scheme", baseURL: "192.168.1.10:8080", wantErr: true},
		{name: "unsupported scheme", baseURL: "ftp://host", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.baseURL)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.BaseURL())
		})
	}
}

func TestClient_Call_BearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json.htm", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "command", r.URL.Query().Get("type"))
		assert.Equal(t, "getdevices", r.URL.Query().Get("param"))
		assert.Equal(t, "5", r.URL.Query().Get("rid"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","result":[{"idx":"5","Name":"Lamp"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	result, err := c.Call(context.Background(), "tok-123", url.Values{"param": {"getdevices"}, "rid": {"5"}})
	require.NoError(t, err)
	assert.Equal(t, "OK", result["status"])
}

func TestClient_Call_StatusErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantUnauth  bool
		wantCommand string
	}{
		{"unauthorized", http.StatusUnauthorized, true, "getversion"},
		{"server error", http.StatusInternalServerError, false, "getversion"},
		{"forbidden", http.StatusForbidden, false, "getversion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			_, err := c.Call(context.Background(), "tok", url.Values{"param": {"getversion"}})

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantUnauth, apiErr.Unauthorized())
			assert.Equal(t, tt.wantCommand, apiErr.Command)
		})
	}
}

func TestClient_Call_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Call(context.Background(), "tok", url.Values{"param": {"getversion"}})
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestClient_Call_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL, WithRequestTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := c.Call(context.Background(), "tok", url.Values{"param": {"getversion"}})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_SessionLogin(t *testing.T) {
	var logins, calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("param") == "logincheck" {
			logins.Add(1)
			assert.NoError(t, r.ParseForm())
			sum := md5.Sum([]byte("s3cret"))
			assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("admin")), r.PostForm.Get("username"))
			assert.Equal(t, hex.EncodeToString(sum[:]), r.PostForm.Get("password"))
			assert.Equal(t, "false", r.PostForm.Get("rememberme"))
			http.SetCookie(w, &http.Cookie{Name: "DMZSID", Value: "session-1", Path: "/"})
			_, _ = w.Write([]byte(`{"status":"OK","title":"logincheck"}`))
			return
		}

		calls.Add(1)
		if _, err := r.Cookie("DMZSID"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":"OK","version":"2024.7"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithCredentials("admin", "s3cret"))
	require.True(t, c.HasCredentials())

	for i := 0; i < 2; i++ {
		result, err := c.Call(context.Background(), "", url.Values{"param": {"getversion"}})
		require.NoError(t, err)
		assert.Equal(t, "2024.7", result["version"])
	}
	assert.Equal(t, int32(1), logins.Load(), "session should be reused")
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_SessionLogin_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ERR"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithCredentials("admin", "wrong"))
	_, err := c.Call(context.Background(), "", url.Values{"param": {"getversion"}})
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestClient_Login_WithoutCredentials(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	assert.ErrorIs(t, c.Login(context.Background()), ErrLoginFailed)
}
