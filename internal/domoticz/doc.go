// Package domoticz is a small client for the Domoticz JSON API (json.htm)
// and for the OpenID configuration Domoticz publishes under
// /.well-known/openid-configuration.
//
// Calls are authenticated with the caller's OAuth bearer token. When no
// token is available (stdio transport), the client can fall back to the
// Domoticz form login and reuse the session cookie.
package domoticz
