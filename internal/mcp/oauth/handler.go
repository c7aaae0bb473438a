package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/galadril/domoticz-mcp/internal/domoticz"
	"github.com/galadril/domoticz-mcp/internal/instrumentation"
)

// ConfigSource provides the discovered upstream OAuth configuration,
// discovering it on first use. *domoticz.Client implements it.
type ConfigSource interface {
	EnsureOAuthConfig(ctx context.Context) (*domoticz.OAuthConfig, error)
}

// Handler serves the OAuth proxy endpoints: /authorize, /redirect_bridge,
// /token and /last_auth_codes. It never issues tokens itself; everything is
// forwarded to the authorization server Domoticz advertises.
type Handler struct {
	config      *Config
	source      ConfigSource
	bridges     *BridgeStore  // Pending loopback redirects keyed by state
	authCodes   *AuthCodeLog  // Recent bridge callbacks for /last_auth_codes
	rateLimiter *RateLimiter  // Optional IP-based rate limiter for protecting endpoints
	tokenSlots  *semaphore.Weighted
	httpClient  *http.Client // HTTP client for upstream token requests
	debugPage   *template.Template
	logger      *slog.Logger
	audit       *AuditLogger
	metrics     *instrumentation.Metrics
}

// NewHandler creates a new OAuth proxy handler
func NewHandler(source ConfigSource, config *Config) (*Handler, error) {
	if source == nil {
		return nil, fmt.Errorf("config source is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	config.applyDefaults()

	if config.Bridge.BaseURL != "" {
		u, err := url.Parse(config.Bridge.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid bridge base URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("bridge base URL must be an absolute http(s) URL (got %q)", config.Bridge.BaseURL)
		}
		config.Bridge.BaseURL = strings.TrimRight(config.Bridge.BaseURL, "/")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if config.Bridge.LogFullCodes {
		logger.Warn("SECURITY WARNING: authorization codes are logged and exposed unmasked",
			"recommendation", "Disable full code logging outside of debugging sessions")
	}

	var rateLimiter *RateLimiter
	if config.RateLimit.Rate > 0 {
		rateLimiter = NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst,
			config.RateLimit.TrustProxy, config.RateLimit.CleanupInterval, logger)
		logger.Info("IP-based rate limiting enabled",
			"rate", config.RateLimit.Rate,
			"burst", config.RateLimit.Burst)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	debugPage, err := template.New("bridge").Parse(bridgeDebugTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bridge debug page: %w", err)
	}

	return &Handler{
		config:      config,
		source:      source,
		bridges:     NewBridgeStore(config.Bridge.TTL, logger, config.Metrics),
		authCodes:   NewAuthCodeLog(config.Bridge.AuthCodesCapacity, config.Bridge.LogFullCodes),
		rateLimiter: rateLimiter,
		tokenSlots:  semaphore.NewWeighted(int64(config.TokenProxy.Workers)),
		httpClient:  httpClient,
		debugPage:   debugPage,
		logger:      logger,
		audit:       NewAuditLogger(logger),
		metrics:     config.Metrics,
	}, nil
}

// GetConfig returns the OAuth configuration
func (h *Handler) GetConfig() *Config {
	return h.config
}

// BridgeStore returns the pending bridge entries (for testing and diagnostics)
func (h *Handler) BridgeStore() *BridgeStore {
	return h.bridges
}

// AuthCodes returns the recent callback log
func (h *Handler) AuthCodes() *AuthCodeLog {
	return h.authCodes
}

// Stop releases background resources.
func (h *Handler) Stop() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// ServeAuthorize proxies the front-channel authorization request to the
// discovered authorization_endpoint. Loopback redirect URIs are swapped for
// this server's /redirect_bridge when bridging is enabled, and any
// client_secret is dropped.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := instrumentation.StartOAuthSpan(r.Context(), "authorize")
	defer span.End()

	params := r.URL.Query()

	cfg, err := h.source.EnsureOAuthConfig(ctx)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		h.writeOAuthError(w, ErrConfiguration("OAuth discovery failed"))
		return
	}
	if cfg.AuthorizationEndpoint == "" {
		instrumentation.SetSpanError(span, ErrNoAuthorizationEndpoint)
		h.writeOAuthError(w, ErrConfiguration(ErrNoAuthorizationEndpoint.Error()))
		return
	}

	bridged := h.bridgeRedirect(ctx, r, params)
	span.SetAttributes(attribute.Bool(instrumentation.SpanAttrBridged, bridged))

	if params.Has(ParamClientSecret) {
		h.logger.Info("Stripping client_secret from /authorize request")
		params.Del(ParamClientSecret)
		h.audit.LogSecretStripped(params.Get(ParamClientID), h.clientIP(r))
	}

	target := appendQuery(cfg.AuthorizationEndpoint, params.Encode())
	h.logger.Debug("Proxying /authorize",
		"authorization_endpoint", cfg.AuthorizationEndpoint,
		"bridged", bridged)

	instrumentation.SetSpanSuccess(span)
	h.setSecurityHeaders(w, r)
	http.Redirect(w, r, target, http.StatusFound)
}

// bridgeRedirect rewrites redirect_uri in params when the bridge applies and
// reports whether it did.
func (h *Handler) bridgeRedirect(ctx context.Context, r *http.Request, params url.Values) bool {
	if !h.config.Bridge.Enabled {
		return false
	}
	redirectURI := params.Get(ParamRedirectURI)
	if !isLoopbackHTTP(redirectURI) {
		return false
	}

	base, ok := h.bridgeBase(r)
	if !ok {
		h.metrics.RecordBridgeEvent(ctx, instrumentation.BridgeEventSkipped)
		h.logger.Warn("Redirect bridge enabled but no external base URL could be determined; forwarding without bridging",
			"redirect_uri", redirectURI,
			"recommendation", "Set the bridge base URL or enable force HTTPS behind a TLS proxy")
		return false
	}

	state := params.Get(ParamState)
	generated := state == ""
	if generated {
		state = uuid.NewString()
		params.Set(ParamState, state)
	}

	h.bridges.Put(ctx, state, redirectURI)
	params.Set(ParamRedirectURI, base+RedirectBridgePath)
	h.audit.LogBridgeStored(params.Get(ParamClientID), h.clientIP(r), state, redirectURI, generated)

	h.logger.Info("Bridging loopback redirect",
		"state", state,
		"original_redirect", redirectURI,
		"bridge_redirect", base+RedirectBridgePath)
	return true
}

// bridgeBase returns the externally reachable base URL of this server.
func (h *Handler) bridgeBase(r *http.Request) (string, bool) {
	if h.config.Bridge.BaseURL != "" {
		return h.config.Bridge.BaseURL, true
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		host = strings.TrimSpace(first)
	}
	if host == "" {
		return "", false
	}

	if h.config.Bridge.ForceHTTPS || isHTTPSRequest(r) {
		return "https://" + host, true
	}
	return "", false
}

// clientIP returns the caller address used in audit events.
func (h *Handler) clientIP(r *http.Request) string {
	return getClientIP(r, h.config.RateLimit.TrustProxy)
}

// ServeLastAuthCodes returns the recent bridge callbacks as {"recent": [...]}.
func (h *Handler) ServeLastAuthCodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"recent": h.authCodes.Recent(),
	})
}

// isLoopbackHTTP reports whether raw is a plain http URL on a loopback host.
func isLoopbackHTTP(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	for _, loopback := range LoopbackHosts {
		if strings.EqualFold(host, loopback) {
			return true
		}
	}
	return false
}

func isHTTPSRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

// appendQuery joins base and an encoded query with "?" or "&".
func appendQuery(base, query string) string {
	if query == "" {
		return base
	}
	if strings.Contains(base, "?") {
		return base + "&" + query
	}
	return base + "?" + query
}

// setSecurityHeaders sets security headers on HTTP responses
func (h *Handler) setSecurityHeaders(w http.ResponseWriter, r *http.Request) {
	// Prevent clickjacking attacks
	w.Header().Set("X-Frame-Options", "DENY")

	// Prevent MIME type sniffing
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// Content Security Policy - restrict resource loading
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

	// Referrer policy - don't leak codes through the referrer
	w.Header().Set("Referrer-Policy", "no-referrer")

	// Only set HSTS if the current request is HTTPS
	if r != nil && isHTTPSRequest(r) {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// writeJSON writes v as a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	h.setSecurityHeaders(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeOAuthError is a helper to write proxy error responses
func (h *Handler) writeOAuthError(w http.ResponseWriter, oauthErr *OAuthError) {
	h.logger.Debug("OAuth proxy error",
		"code", oauthErr.Code,
		"description", oauthErr.Description,
		"status", oauthErr.Status)
	h.writeJSON(w, nil, oauthErr.Status, ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// writeText writes a plain-text diagnostic
func (h *Handler) writeText(w http.ResponseWriter, status int, msg string) {
	h.setSecurityHeaders(w, nil)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

// asOAuthError unwraps err into an *OAuthError, defaulting to a 500.
func asOAuthError(err error) *OAuthError {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return NewOAuthError("server_error", err.Error(), http.StatusInternalServerError)
}
