package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Mode tells whether Start bound a listener.
type Mode int

const (
	// ModeDisabled means the HTTP surface was not started.
	ModeDisabled Mode = iota
	// ModeFull means the HTTP surface is serving.
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Config configures Start.
type Config struct {
	// ServerContext carries the shared dependencies. Required.
	ServerContext *ServerContext

	// Executor backs tools/list and tools/call. Required.
	Executor ToolExecutor

	// Version is reported by initialize and /info.
	Version string

	// Addr is the host:port to bind, e.g. "0.0.0.0:8765".
	Addr string

	// Enabled selects ModeFull. When false Start returns a disabled handle
	// without binding.
	Enabled bool

	// Listener, when set, is used instead of binding Addr.
	Listener net.Listener
}

// Handle controls a started HTTP surface.
type Handle struct {
	mode     Mode
	server   *HTTPServer
	listener net.Listener

	done     chan struct{}
	errMu    sync.Mutex
	err      error
	stopOnce sync.Once
	stopErr  error
}

// Start binds the listener and serves in the background. The server shuts
// down when ctx is cancelled or Stop is called.
func Start(ctx context.Context, cfg Config) (*Handle, error) {
	if cfg.ServerContext == nil {
		return nil, fmt.Errorf("server context is required")
	}

	if !cfg.Enabled {
		h := &Handle{mode: ModeDisabled, done: make(chan struct{})}
		close(h.done)
		cfg.ServerContext.Logger().Info("HTTP server disabled")
		return h, nil
	}

	mcpHandler, err := NewMCPHandler(cfg.ServerContext, cfg.Executor, cfg.Version)
	if err != nil {
		return nil, err
	}
	httpServer, err := NewHTTPServer(cfg.ServerContext, mcpHandler)
	if err != nil {
		return nil, err
	}

	l := cfg.Listener
	if l == nil {
		l, err = net.Listen("tcp", cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
		}
	}

	h := &Handle{
		mode:     ModeFull,
		server:   httpServer,
		listener: l,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		if err := httpServer.Serve(l); err != nil && !errors.Is(err, net.ErrClosed) {
			h.setErr(err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
			defer cancel()
			_ = h.Stop(shutdownCtx)
		case <-h.done:
		}
	}()

	return h, nil
}

// Mode reports whether the handle is serving.
func (h *Handle) Mode() Mode {
	return h.mode
}

// Addr returns the bound address, or "" for a disabled handle.
func (h *Handle) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Server returns the HTTP server, or nil for a disabled handle.
func (h *Handle) Server() *HTTPServer {
	return h.server
}

// Done is closed when the server has stopped serving.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the error that stopped the server, if any. It is nil after a
// graceful Stop.
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

func (h *Handle) setErr(err error) {
	h.errMu.Lock()
	h.err = err
	h.errMu.Unlock()
}

// Stop gracefully shuts the server down and waits for it to finish. It is
// safe to call more than once.
func (h *Handle) Stop(ctx context.Context) error {
	if h.mode == ModeDisabled {
		return nil
	}
	h.stopOnce.Do(func() {
		h.stopErr = h.server.Shutdown(ctx)
	})
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return h.stopErr
}
