package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/galadril/domoticz-mcp/internal/domoticz"
	"github.com/galadril/domoticz-mcp/internal/instrumentation"
	"github.com/galadril/domoticz-mcp/internal/mcp/oauth"
)

// ServerContextConfig holds the dependencies of a ServerContext.
type ServerContextConfig struct {
	// Domoticz is the downstream client. Required.
	Domoticz *domoticz.Client

	// OAuth serves the authorization proxy endpoints. Optional; without it
	// /authorize, /token and /redirect_bridge are not registered.
	OAuth *oauth.Handler

	Metrics     *instrumentation.Metrics
	AuditLogger *instrumentation.AuditLogger
	Logger      *slog.Logger

	// AccessToken is the bearer token used by the stdio transport, where
	// requests carry no Authorization header.
	AccessToken string
}

// ServerContext holds the shared state every handler needs. It is built
// once at startup and passed explicitly.
type ServerContext struct {
	ctx         context.Context
	cancel      context.CancelFunc
	domoticz    *domoticz.Client
	oauth       *oauth.Handler
	metrics     *instrumentation.Metrics
	auditLogger *instrumentation.AuditLogger
	logger      *slog.Logger
	accessToken string
	startTime   time.Time
	mu          sync.RWMutex
	shutdown    bool
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, config ServerContextConfig) (*ServerContext, error) {
	if config.Domoticz == nil {
		return nil, fmt.Errorf("domoticz client is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	shutdownCtx, cancel := context.WithCancel(ctx)

	return &ServerContext{
		ctx:         shutdownCtx,
		cancel:      cancel,
		domoticz:    config.Domoticz,
		oauth:       config.OAuth,
		metrics:     config.Metrics,
		auditLogger: config.AuditLogger,
		logger:      logger,
		accessToken: config.AccessToken,
		startTime:   time.Now(),
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Domoticz returns the downstream client.
func (sc *ServerContext) Domoticz() *domoticz.Client {
	return sc.domoticz
}

// OAuthHandler returns the OAuth proxy handler, or nil when disabled.
func (sc *ServerContext) OAuthHandler() *oauth.Handler {
	return sc.oauth
}

// Metrics returns the metrics recorder. May be nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the audit logger. May be nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.auditLogger
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// AccessToken returns the configured stdio access token.
func (sc *ServerContext) AccessToken() string {
	return sc.accessToken
}

// StartTime returns when the context was created.
func (sc *ServerContext) StartTime() time.Time {
	return sc.startTime
}

// Uptime returns the time elapsed since StartTime.
func (sc *ServerContext) Uptime() time.Duration {
	return time.Since(sc.startTime)
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context and stops the OAuth handler's
// background work.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	if sc.oauth != nil {
		sc.oauth.Stop()
	}
	sc.cancel()
	return nil
}
