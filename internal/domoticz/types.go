package domoticz

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is used when no Domoticz URL is configured.
const DefaultBaseURL = "http://127.0.0.1:8080"

// Keys of the OpenID configuration document that are rewritten by host
// normalization.
const (
	KeyAuthorizationEndpoint = "authorization_endpoint"
	KeyTokenEndpoint         = "token_endpoint"
	KeyIssuer                = "issuer"
)

// normalizeHostPrefix marks hostnames that Domoticz advertises for itself but
// that are usually not resolvable from where this server runs.
const normalizeHostPrefix = "domoticz.local"

// OAuthConfig is the discovered .well-known/openid-configuration document.
// It is replaced wholesale on rediscovery and never mutated after publication.
type OAuthConfig struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	Issuer                string

	// Document is the full decoded document, with the normalized endpoint
	// values written back.
	Document map[string]any
}

// Endpoint returns the discovered endpoints in the form golang.org/x/oauth2 expects.
func (c *OAuthConfig) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   c.AuthorizationEndpoint,
		TokenURL:  c.TokenEndpoint,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// Sentinel errors returned by the client.
var (
	ErrDiscoveryFailed = errors.New("oauth discovery failed")
	ErrLoginFailed     = errors.New("domoticz login failed")
)

// APIError is returned when Domoticz answers with a non-200 status.
type APIError struct {
	StatusCode int
	Command    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("domoticz %s returned status %d", e.Command, e.StatusCode)
}

// Unauthorized reports whether the token was rejected.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}
