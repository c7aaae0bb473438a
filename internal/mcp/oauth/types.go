package oauth

import "time"

// BridgeEntry is a pending redirect bridge transaction, keyed by OAuth state.
type BridgeEntry struct {
	// State is the OAuth state the entry is stored under
	State string `json:"state"`

	// OriginalRedirect is the loopback redirect_uri the client sent to /authorize
	OriginalRedirect string `json:"original_redirect"`

	// CreatedAt is when /authorize stored the entry
	CreatedAt time.Time `json:"created_at"`
}

// AuthCodeRecord is one /redirect_bridge callback as shown by /last_auth_codes.
type AuthCodeRecord struct {
	// Timestamp is when the callback arrived
	Timestamp time.Time `json:"timestamp"`

	// State is the OAuth state of the transaction
	State string `json:"state"`

	// Code is the authorization code, masked unless full code logging is on
	Code string `json:"code,omitempty"`

	// Error is the provider error, if the provider returned one
	Error string `json:"error,omitempty"`

	// ForwardTarget is the original loopback redirect the callback was sent to
	ForwardTarget string `json:"forward_target"`
}

// ErrorResponse is the JSON error body written by the proxy endpoints
type ErrorResponse struct {
	// Error is the error code or message
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}
