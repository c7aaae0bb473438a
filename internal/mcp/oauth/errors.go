package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors returned by the bridge store and the proxy handlers.
var (
	// ErrUnknownState means the state was never stored, was already consumed or expired.
	ErrUnknownState = errors.New("unknown or expired state")

	// ErrNotLoopback means a redirect target is not a plain HTTP loopback URL.
	ErrNotLoopback = errors.New("redirect target is not a loopback http url")

	// ErrNoAuthorizationEndpoint means discovery returned no authorization_endpoint.
	ErrNoAuthorizationEndpoint = errors.New("authorization_endpoint missing")

	// ErrNoTokenEndpoint means discovery returned no token_endpoint.
	ErrNoTokenEndpoint = errors.New("token_endpoint missing")
)

// OAuthError represents an error written back to the OAuth client as JSON
type OAuthError struct {
	Code        string // Error text placed in the "error" field
	Description string // Optional human-readable detail
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common proxy errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError("invalid_request", desc, http.StatusBadRequest)
	}

	// ErrConfiguration indicates the upstream OAuth configuration is unusable.
	// The message itself goes into "error" with no description.
	ErrConfiguration = func(msg string) *OAuthError {
		return NewOAuthError(msg, "", http.StatusInternalServerError)
	}

	// ErrUpstream indicates the upstream token endpoint could not be reached.
	// There is no upstream status to mirror, so it is a plain 500.
	ErrUpstream = func(desc string) *OAuthError {
		return NewOAuthError("upstream_unreachable", desc, http.StatusInternalServerError)
	}

	// ErrTemporarilyUnavailable indicates the token worker pool is exhausted
	ErrTemporarilyUnavailable = func(desc string) *OAuthError {
		return NewOAuthError("temporarily_unavailable", desc, http.StatusServiceUnavailable)
	}

	// ErrRateLimited indicates the client exceeded its request budget
	ErrRateLimited = func(desc string) *OAuthError {
		return NewOAuthError("rate_limit_exceeded", desc, http.StatusTooManyRequests)
	}
)
