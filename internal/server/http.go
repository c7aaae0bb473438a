package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/galadril/domoticz-mcp/internal/instrumentation"
	"github.com/galadril/domoticz-mcp/internal/logging"
)

const (
	// DefaultReadHeaderTimeout bounds reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultWriteTimeout covers the slowest handler: a token exchange (15s)
	// queued behind the worker pool.
	DefaultWriteTimeout = 45 * time.Second

	// DefaultIdleTimeout closes idle keep-alive connections.
	DefaultIdleTimeout = 120 * time.Second

	httpSpanName = "domoticz-mcp.http"
)

// HTTPServer serves the MCP dispatcher, the OAuth proxy endpoints and the
// health/info endpoints on one listener.
type HTTPServer struct {
	sc         *ServerContext
	mcpHandler *MCPHandler
	health     *HealthChecker
	handler    http.Handler
	httpServer *http.Server
}

// NewHTTPServer builds the routing table and middleware chain.
func NewHTTPServer(sc *ServerContext, mcpHandler *MCPHandler) (*HTTPServer, error) {
	if sc == nil {
		return nil, fmt.Errorf("server context is required")
	}
	if mcpHandler == nil {
		return nil, fmt.Errorf("MCP handler is required")
	}

	s := &HTTPServer{
		sc:         sc,
		mcpHandler: mcpHandler,
		health:     NewHealthChecker(sc),
	}
	s.handler = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return sc.Context()
		},
	}
	return s, nil
}

func (s *HTTPServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /mcp", s.mcpHandler)
	mux.Handle("GET /info", NewInfoHandler(s.sc, s.mcpHandler.version))
	mux.Handle("GET /health", s.health.HealthHandler())
	s.health.RegisterHealthEndpoints(mux)

	// OAuth proxy endpoints with rate limiting. The handlers check the
	// method themselves so errors come back as OAuth JSON.
	if oauthHandler := s.sc.OAuthHandler(); oauthHandler != nil {
		mux.Handle("/authorize", oauthHandler.RateLimitMiddleware(http.HandlerFunc(oauthHandler.ServeAuthorize)))
		mux.Handle("/token", oauthHandler.RateLimitMiddleware(http.HandlerFunc(oauthHandler.ServeToken)))
		mux.Handle("/redirect_bridge", oauthHandler.RateLimitMiddleware(http.HandlerFunc(oauthHandler.ServeRedirectBridge)))
		mux.HandleFunc("/last_auth_codes", oauthHandler.ServeLastAuthCodes)
	}

	var handler http.Handler = mux
	handler = s.metricsMiddleware(handler)
	handler = otelhttp.NewHandler(handler, httpSpanName)
	handler = corsMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// Handler returns the complete handler, middleware included.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// HealthChecker returns the readiness state holder.
func (s *HTTPServer) HealthChecker() *HealthChecker {
	return s.health
}

// Serve accepts connections on l until Shutdown is called. It returns nil
// after a graceful shutdown.
func (s *HTTPServer) Serve(l net.Listener) error {
	s.sc.Logger().Info("starting HTTP server", "addr", l.Addr().String())
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	return s.httpServer.Shutdown(ctx)
}

// requestIDMiddleware reuses an incoming X-Request-ID or generates one and
// stores it in the request context.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(instrumentation.RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = xid.New().String()
		}
		w.Header().Set(instrumentation.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(instrumentation.WithRequestID(r.Context(), id)))
	})
}

// corsMiddleware allows any origin and answers preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Protocol-Version, Mcp-Session-Id, "+instrumentation.RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", "WWW-Authenticate, "+instrumentation.RequestIDHeader)

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		s.sc.Metrics().RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, status, duration)
		s.sc.Logger().Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			logging.Status(fmt.Sprint(status)),
			logging.RequestID(instrumentation.RequestIDFromContext(r.Context())),
			"duration", duration)
	})
}
