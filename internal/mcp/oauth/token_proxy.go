package oauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/galadril/domoticz-mcp/internal/instrumentation"
	"github.com/galadril/domoticz-mcp/internal/logging"
)

// ServeToken forwards a form-encoded token request to the discovered
// token_endpoint and relays the response with its status code. Upstream
// requests run under a bounded pool of slots; a request that cannot get a
// slot before its context ends gets a 503.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := instrumentation.StartOAuthSpan(r.Context(), "token")
	defer span.End()

	tokenEndpoint, err := h.tokenEndpoint(ctx)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		h.writeOAuthError(w, asOAuthError(err))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxTokenRequestBytes)
	if err := r.ParseForm(); err != nil {
		instrumentation.SetSpanError(span, err)
		h.writeOAuthError(w, ErrInvalidRequest("Invalid form body"))
		return
	}
	form := r.PostForm

	h.logger.Debug("Proxying token request",
		logging.Endpoint(tokenEndpoint),
		"grant_type", form.Get("grant_type"),
		"form", RedactForm(form))

	if err := h.tokenSlots.Acquire(ctx, 1); err != nil {
		instrumentation.SetSpanError(span, err)
		h.logger.Warn("No token proxy slot available", logging.Err(err))
		h.writeOAuthError(w, ErrTemporarilyUnavailable("Token proxy is busy, retry later"))
		return
	}
	defer h.tokenSlots.Release(1)

	start := time.Now()
	status, body, err := h.exchange(ctx, tokenEndpoint, form.Encode())
	if err != nil {
		h.metrics.RecordTokenExchange(ctx, 0, time.Since(start))
		h.audit.LogTokenExchange(form.Get(ParamClientID), h.clientIP(r), form.Get("grant_type"), 0, err.Error())
		instrumentation.SetSpanError(span, err)
		h.logger.Error("Token request to upstream failed",
			logging.Endpoint(tokenEndpoint),
			logging.Err(err))
		h.writeOAuthError(w, ErrUpstream(err.Error()))
		return
	}
	h.metrics.RecordTokenExchange(ctx, status, time.Since(start))
	h.audit.LogTokenExchange(form.Get(ParamClientID), h.clientIP(r), form.Get("grant_type"), status, http.StatusText(status))

	data, isJSON := decodeTokenResponse(body)
	if isJSON {
		h.logger.Debug("Token response from upstream",
			"status_code", status,
			"body", redactedJSONString(data))
	} else {
		h.logger.Debug("Non-JSON token response from upstream",
			"status_code", status,
			"bytes", len(body))
	}

	if status >= http.StatusBadRequest {
		span.AddEvent("upstream_error")
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	h.writeJSON(w, r, status, data)
}

// tokenEndpoint resolves the upstream token endpoint, discovering it if needed.
func (h *Handler) tokenEndpoint(ctx context.Context) (string, error) {
	cfg, err := h.source.EnsureOAuthConfig(ctx)
	if err != nil {
		return "", ErrConfiguration("OAuth discovery failed")
	}
	if cfg.TokenEndpoint == "" {
		return "", ErrConfiguration(ErrNoTokenEndpoint.Error())
	}
	return cfg.TokenEndpoint, nil
}

// exchange posts the encoded form to endpoint and returns status and body.
func (h *Handler) exchange(ctx context.Context, endpoint, encodedForm string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.TokenProxy.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encodedForm))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// decodeTokenResponse parses body as JSON, or wraps a truncated copy as
// {"raw": ...} when it is not JSON.
func decodeTokenResponse(body []byte) (any, bool) {
	var data any
	if err := json.Unmarshal(body, &data); err == nil {
		return data, true
	}

	raw := body
	if len(raw) > MaxRawBodyLength {
		raw = raw[:MaxRawBodyLength]
	}
	return map[string]any{"raw": strings.ToValidUTF8(string(raw), "")}, false
}
