// Package oauth implements the OAuth 2.1 proxy endpoints of the Domoticz
// MCP server.
//
// The server does not issue tokens. It forwards the authorization code flow
// to the authorization server Domoticz advertises in its OpenID
// configuration:
//
//   - /authorize redirects to the upstream authorization_endpoint. Loopback
//     redirect URIs (http://127.0.0.1, http://localhost) are replaced with
//     this server's /redirect_bridge so the provider only ever sees an
//     HTTPS callback.
//   - /redirect_bridge takes the stored loopback redirect for the returned
//     state (single use, TTL bound) and forwards the code to it.
//   - /token relays the token exchange and logs bodies only after
//     redaction.
//   - /last_auth_codes shows the most recent bridge callbacks.
package oauth
