package domoticz

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/galadril/domoticz-mcp/internal/instrumentation"
	"github.com/galadril/domoticz-mcp/internal/logging"
)

const (
	// DefaultRequestTimeout bounds a single json.htm call.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultDiscoveryTimeout bounds the .well-known fetch.
	DefaultDiscoveryTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a Domoticz response is decoded.
	maxResponseBytes = 16 << 20
)

// Client talks to the Domoticz JSON API and caches the discovered OAuth
// configuration of the same instance.
type Client struct {
	baseURL   *url.URL
	transport http.RoundTripper
	logger    logging.Logger
	metrics   *instrumentation.Metrics

	requestTimeout   time.Duration
	discoveryTimeout time.Duration

	mu    sync.RWMutex
	oauth *OAuthConfig

	// Session login, used when no bearer token is available.
	username string
	password string
	session  *http.Client
	loginMu  sync.Mutex
	loggedIn bool
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the base round tripper. It is wrapped with otelhttp.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithDiscoveryTimeout overrides DefaultDiscoveryTimeout.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.discoveryTimeout = d
	}
}

// WithCredentials enables Domoticz session login for calls made without a
// bearer token.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// NewClient creates a client for the Domoticz instance at baseURL.
// An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid domoticz url %q: %w", baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid domoticz url %q: scheme must be http or https and host must be set", baseURL)
	}

	c := &Client{
		baseURL:          u,
		transport:        http.DefaultTransport,
		logger:           logging.DefaultLogger(),
		requestTimeout:   DefaultRequestTimeout,
		discoveryTimeout: DefaultDiscoveryTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transport = otelhttp.NewTransport(c.transport)
	c.logger = c.logger.With(logging.KeyService, "domoticz")

	if c.username != "" {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		c.session = &http.Client{Transport: c.transport, Jar: jar}
	}

	return c, nil
}

// BaseURL returns the configured Domoticz base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// HasCredentials reports whether session login is configured.
func (c *Client) HasCredentials() bool {
	return c.username != ""
}

// Call performs GET {base}/json.htm?type=command&<params>. A non-empty
// accessToken is sent as a bearer token; otherwise the session login is
// used when configured, and the request goes out unauthenticated when not.
//
// Non-200 responses are returned as *APIError.
func (c *Client) Call(ctx context.Context, accessToken string, params url.Values) (map[string]any, error) {
	command := params.Get("param")
	ctx, span := instrumentation.StartDomoticzSpan(ctx, command)
	defer span.End()

	start := time.Now()
	result, err := c.call(ctx, accessToken, params)
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordDomoticzOperation(ctx, command, status, time.Since(start))

	return result, err
}

func (c *Client) call(ctx context.Context, accessToken string, params url.Values) (map[string]any, error) {
	if accessToken == "" && c.session != nil {
		if err := c.ensureSession(ctx); err != nil {
			return nil, err
		}
		result, err := c.do(ctx, c.session, params)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Unauthorized() {
			// Session cookie expired; log in again once.
			c.resetSession()
			if err := c.ensureSession(ctx); err != nil {
				return nil, err
			}
			return c.do(ctx, c.session, params)
		}
		return result, err
	}

	return c.do(ctx, c.httpClient(accessToken), params)
}

func (c *Client) httpClient(accessToken string) *http.Client {
	if accessToken == "" {
		return &http.Client{Transport: c.transport}
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
			Base:   c.transport,
		},
	}
}

func (c *Client) do(ctx context.Context, hc *http.Client, params url.Values) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.commandURL(params), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &APIError{StatusCode: resp.StatusCode, Command: params.Get("param")}
	}

	var out map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid JSON from domoticz: %w", err)
	}
	return out, nil
}

// commandURL builds {base}/json.htm with type=command and the given params.
func (c *Client) commandURL(params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	if q.Get("type") == "" {
		q.Set("type", "command")
	}
	u := c.baseURL.JoinPath("json.htm")
	u.RawQuery = q.Encode()
	return u.String()
}

// Login performs the Domoticz form login (param=logincheck) with the
// configured credentials. The username is sent base64 encoded and the
// password as its hex MD5 digest, which is what the Domoticz web UI does.
func (c *Client) Login(ctx context.Context) error {
	if c.session == nil {
		return fmt.Errorf("%w: no credentials configured", ErrLoginFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	sum := md5.Sum([]byte(c.password))
	form := url.Values{
		"username":   {base64.StdEncoding.EncodeToString([]byte(c.username))},
		"password":   {hex.EncodeToString(sum[:])},
		"rememberme": {"false"},
	}

	loginURL := c.commandURL(url.Values{"param": {"logincheck"}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.session.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if body.Status != "OK" {
		return fmt.Errorf("%w: status %q", ErrLoginFailed, body.Status)
	}

	c.logger.Debug("domoticz session established")
	return nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.loggedIn {
		return nil
	}
	if err := c.Login(ctx); err != nil {
		return err
	}
	c.loggedIn = true
	return nil
}

func (c *Client) resetSession() {
	c.loginMu.Lock()
	c.loggedIn = false
	c.loginMu.Unlock()
}
