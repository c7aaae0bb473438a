package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galadril/domoticz-mcp/internal/domoticz"
)

func TestNewServerContext(t *testing.T) {
	_, err := NewServerContext(context.Background(), ServerContextConfig{})
	assert.Error(t, err, "domoticz client is required")

	client, err := domoticz.NewClient("http://127.0.0.1:8080")
	require.NoError(t, err)

	sc, err := NewServerContext(context.Background(), ServerContextConfig{
		Domoticz:    client,
		AccessToken: "tok",
	})
	require.NoError(t, err)

	assert.Same(t, client, sc.Domoticz())
	assert.Nil(t, sc.OAuthHandler())
	assert.Nil(t, sc.Metrics())
	assert.Nil(t, sc.AuditLogger())
	assert.NotNil(t, sc.Logger(), "falls back to slog.Default")
	assert.Equal(t, "tok", sc.AccessToken())
	assert.False(t, sc.StartTime().IsZero())
	assert.GreaterOrEqual(t, sc.Uptime().Nanoseconds(), int64(0))
}

func TestServerContext_Shutdown(t *testing.T) {
	sc := newTestServerContext(t, testContextOptions{withOAuth: true})

	assert.False(t, sc.IsShutdown())
	assert.NoError(t, sc.Context().Err())

	require.NoError(t, sc.Shutdown())
	assert.True(t, sc.IsShutdown())
	assert.ErrorIs(t, sc.Context().Err(), context.Canceled)

	assert.NoError(t, sc.Shutdown(), "second call is a no-op")
}
