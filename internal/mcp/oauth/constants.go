package oauth

import "time"

// Bridge and token proxy defaults
const (
	// DefaultBridgeTTL is how long a pending redirect bridge entry is kept (10 minutes)
	DefaultBridgeTTL = 10 * time.Minute

	// DefaultAuthCodesCapacity is the size of the recent auth code ring buffer
	DefaultAuthCodesCapacity = 20

	// DefaultTokenTimeout bounds the upstream token request
	DefaultTokenTimeout = 15 * time.Second

	// DefaultTokenWorkers is the number of concurrent upstream token requests
	DefaultTokenWorkers = 8

	// MaxRawBodyLength is how much of a non-JSON token response is echoed back
	MaxRawBodyLength = 2000

	// maxTokenRequestBytes caps the inbound /token form body
	maxTokenRequestBytes = 64 << 10

	// maxTokenResponseBytes caps the upstream token response body
	maxTokenResponseBytes = 1 << 20

	// bridgeDebugDelaySeconds is the meta refresh delay of the debug page
	bridgeDebugDelaySeconds = 3
)

// Rate limiting defaults
const (
	// DefaultRateLimitCleanupInterval is how often to cleanup inactive rate limiters
	DefaultRateLimitCleanupInterval = 5 * time.Minute

	// InactiveLimiterCleanupWindow is the time after which inactive limiters are removed
	InactiveLimiterCleanupWindow = 10 * time.Minute

	// DefaultRateLimitRate is the default requests per second per IP
	DefaultRateLimitRate = 10

	// DefaultRateLimitBurst is the default burst size for rate limiting
	DefaultRateLimitBurst = 20
)

// Paths and parameter names used by the proxy.
const (
	RedirectBridgePath = "/redirect_bridge"

	ParamRedirectURI  = "redirect_uri"
	ParamState        = "state"
	ParamCode         = "code"
	ParamError        = "error"
	ParamClientID     = "client_id"
	ParamClientSecret = "client_secret"

	// UnknownErrorCode is forwarded when the provider sent neither code nor error
	UnknownErrorCode = "unknown_error"
)

// LoopbackHosts lists the redirect hosts the bridge accepts.
var LoopbackHosts = []string{"127.0.0.1", "localhost"}
