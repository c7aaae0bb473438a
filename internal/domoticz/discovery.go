package domoticz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/galadril/domoticz-mcp/internal/instrumentation"
	"github.com/galadril/domoticz-mcp/internal/logging"
)

// WellKnownPath is where Domoticz publishes its OpenID configuration.
const WellKnownPath = "/.well-known/openid-configuration"

// Discover fetches the OpenID configuration from Domoticz and caches it.
// On any failure nothing is cached and ErrDiscoveryFailed is returned;
// callers retry on their next request.
func (c *Client) Discover(ctx context.Context) error {
	ctx, span := instrumentation.StartOAuthSpan(ctx, "discovery")
	defer span.End()

	cfg, err := c.fetchConfiguration(ctx)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		c.metrics.RecordDiscovery(ctx, instrumentation.DiscoveryResultFailure)
		c.logger.Error("failed to discover OAuth endpoints", logging.Err(err))
		return err
	}

	c.mu.Lock()
	c.oauth = cfg
	c.mu.Unlock()

	c.metrics.RecordDiscovery(ctx, instrumentation.DiscoveryResultSuccess)
	c.logger.Info("discovered Domoticz OAuth endpoints",
		logging.Endpoint(c.wellKnownURL()),
		"authorization_endpoint", cfg.AuthorizationEndpoint,
		"token_endpoint", cfg.TokenEndpoint)
	return nil
}

// OAuthConfig returns the cached configuration, if discovery has succeeded.
func (c *Client) OAuthConfig() (*OAuthConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.oauth, c.oauth != nil
}

// EnsureOAuthConfig returns the cached configuration, discovering it first
// when nothing is cached yet.
func (c *Client) EnsureOAuthConfig(ctx context.Context) (*OAuthConfig, error) {
	if cfg, ok := c.OAuthConfig(); ok {
		return cfg, nil
	}
	if err := c.Discover(ctx); err != nil {
		return nil, err
	}
	cfg, _ := c.OAuthConfig()
	return cfg, nil
}

func (c *Client) wellKnownURL() string {
	return c.baseURL.String() + WellKnownPath
}

func (c *Client) fetchConfiguration(ctx context.Context) (*OAuthConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, c.discoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.wellKnownURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := (&http.Client{Transport: c.transport}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDiscoveryFailed, resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrDiscoveryFailed, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", ErrDiscoveryFailed)
	}

	return c.normalize(doc), nil
}

// normalize rewrites endpoints that point at a domoticz.local* host other
// than the configured one so they use the configured host and port.
func (c *Client) normalize(doc map[string]any) *OAuthConfig {
	for _, key := range []string{KeyAuthorizationEndpoint, KeyTokenEndpoint, KeyIssuer} {
		raw, ok := doc[key].(string)
		if !ok || raw == "" {
			continue
		}
		if rewritten, changed := NormalizeEndpoint(raw, c.baseURL.Host); changed {
			doc[key] = rewritten
			c.logger.Debug("normalized discovered endpoint", "key", key, "value", rewritten)
		}
	}

	cfg := &OAuthConfig{Document: doc}
	cfg.AuthorizationEndpoint, _ = doc[KeyAuthorizationEndpoint].(string)
	cfg.TokenEndpoint, _ = doc[KeyTokenEndpoint].(string)
	cfg.Issuer, _ = doc[KeyIssuer].(string)
	return cfg
}

// NormalizeEndpoint replaces the host:port of raw with targetHost when raw
// points at a different host whose name starts with "domoticz.local".
// Scheme, path, query and fragment are kept. Unparseable values are
// returned unchanged.
func NormalizeEndpoint(raw, targetHost string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw, false
	}
	if u.Host == targetHost || !strings.HasPrefix(u.Hostname(), normalizeHostPrefix) {
		return raw, false
	}
	u.Host = targetHost
	return u.String(), true
}
