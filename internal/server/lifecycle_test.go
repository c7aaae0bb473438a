package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMode_String(t *testing.T) {
	assert.Equal(t, "full", ModeFull.String())
	assert.Equal(t, "disabled", ModeDisabled.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}

func TestStart_Disabled(t *testing.T) {
	sc := newTestServerContext(t, testContextOptions{})

	h, err := Start(context.Background(), Config{ServerContext: sc, Executor: &fakeExecutor{}})
	require.NoError(t, err)

	assert.Equal(t, ModeDisabled, h.Mode())
	assert.Empty(t, h.Addr())
	assert.Nil(t, h.Server())
	assert.NoError(t, h.Stop(context.Background()))
	assert.NoError(t, h.Err())

	select {
	case <-h.Done():
	default:
		t.Fatal("disabled handle must report done")
	}
}

func TestStart_RequiresDependencies(t *testing.T) {
	_, err := Start(context.Background(), Config{Enabled: true})
	assert.Error(t, err)

	sc := newTestServerContext(t, testContextOptions{})
	_, err = Start(context.Background(), Config{ServerContext: sc, Enabled: true, Addr: "127.0.0.1:0"})
	assert.Error(t, err, "executor is required")
}

func TestStart_InvalidAddr(t *testing.T) {
	sc := newTestServerContext(t, testContextOptions{})
	_, err := Start(context.Background(), Config{
		ServerContext: sc,
		Executor:      &fakeExecutor{},
		Enabled:       true,
		Addr:          "127.0.0.1:not-a-port",
	})
	assert.Error(t, err)
}

func TestStart_ServeAndStop(t *testing.T) {
	sc := newTestServerContext(t, testContextOptions{})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h, err := Start(context.Background(), Config{
		ServerContext: sc,
		Executor:      &fakeExecutor{},
		Enabled:       true,
		Listener:      l,
	})
	require.NoError(t, err)
	assert.Equal(t, ModeFull, h.Mode())
	assert.Equal(t, l.Addr().String(), h.Addr())

	resp, err := http.Get("http://" + h.Addr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy","service":"domoticz-mcp"}`, string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))
	require.NoError(t, h.Stop(ctx), "Stop is idempotent")

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, h.Err())

	_, err = http.Get("http://" + h.Addr() + "/health")
	assert.Error(t, err, "listener is closed")
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	sc := newTestServerContext(t, testContextOptions{})
	ctx, cancel := context.WithCancel(context.Background())

	h, err := Start(ctx, Config{
		ServerContext: sc,
		Executor:      &fakeExecutor{},
		Enabled:       true,
		Addr:          "127.0.0.1:0",
	})
	require.NoError(t, err)

	cancel()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancellation")
	}
	assert.NoError(t, h.Err())
}
