package oauth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/galadril/domoticz-mcp/internal/instrumentation"
)

// Config holds the OAuth proxy configuration.
// Structured using composition, one block per endpoint family.
type Config struct {
	// Bridge controls /authorize redirect rewriting and /redirect_bridge.
	Bridge BridgeConfig

	// TokenProxy controls /token forwarding.
	TokenProxy TokenProxyConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// HTTPClient is used for the upstream token request.
	// If not provided, a client with the otelhttp transport is created.
	HTTPClient *http.Client

	// Metrics records bridge and token exchange events (optional).
	Metrics *instrumentation.Metrics
}

// BridgeConfig holds the redirect bridge settings.
type BridgeConfig struct {
	// Enabled turns on rewriting of loopback redirect_uri values.
	// Default: true when built through DefaultConfig
	Enabled bool

	// BaseURL is the externally reachable base URL of this server, e.g.
	// https://mcp.example.com. The bridge callback is {BaseURL}/redirect_bridge.
	// When empty the base is derived from the request (see ForceHTTPS).
	BaseURL string

	// ForceHTTPS derives the base URL as https://{host} from the inbound
	// request even when it arrived over plain HTTP (TLS terminated upstream).
	ForceHTTPS bool

	// TTL is how long a pending bridge entry stays valid.
	// Default: 10 minutes
	TTL time.Duration

	// LogFullCodes stores and logs authorization codes unmasked.
	// Only for debugging a broken client.
	LogFullCodes bool

	// DebugPage renders an HTML page with a delayed redirect instead of an
	// immediate 302 from /redirect_bridge.
	DebugPage bool

	// AuthCodesCapacity is the size of the /last_auth_codes ring buffer.
	// Default: 20
	AuthCodesCapacity int
}

// TokenProxyConfig holds the /token forwarding settings.
type TokenProxyConfig struct {
	// Timeout bounds the upstream token request.
	// Default: 15 seconds
	Timeout time.Duration

	// Workers is the number of upstream token requests allowed in flight.
	// Default: 8
	Workers int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is the number of requests per second allowed per IP (0 = no limit)
	Rate int

	// Burst is the maximum burst size allowed per IP
	Burst int

	// CleanupInterval is how often to cleanup inactive rate limiters
	// Default: 5 minutes
	CleanupInterval time.Duration

	// TrustProxy indicates whether to trust X-Forwarded-For and X-Real-IP headers
	// Only set to true if the server is behind a trusted proxy
	// Default: false
	TrustProxy bool
}

// DefaultConfig returns a Config with bridging enabled and every other
// value at its default.
func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Enabled:           true,
			TTL:               DefaultBridgeTTL,
			AuthCodesCapacity: DefaultAuthCodesCapacity,
		},
		TokenProxy: TokenProxyConfig{
			Timeout: DefaultTokenTimeout,
			Workers: DefaultTokenWorkers,
		},
	}
}

// applyDefaults fills zero values in place.
func (c *Config) applyDefaults() {
	if c.Bridge.TTL <= 0 {
		c.Bridge.TTL = DefaultBridgeTTL
	}
	if c.Bridge.AuthCodesCapacity <= 0 {
		c.Bridge.AuthCodesCapacity = DefaultAuthCodesCapacity
	}
	if c.TokenProxy.Timeout <= 0 {
		c.TokenProxy.Timeout = DefaultTokenTimeout
	}
	if c.TokenProxy.Workers <= 0 {
		c.TokenProxy.Workers = DefaultTokenWorkers
	}
	if c.RateLimit.Rate > 0 {
		if c.RateLimit.Burst <= 0 {
			c.RateLimit.Burst = c.RateLimit.Rate * 2 // Default burst is 2x rate
		}
		if c.RateLimit.CleanupInterval <= 0 {
			c.RateLimit.CleanupInterval = DefaultRateLimitCleanupInterval
		}
	}
}
