package oauth

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/galadril/domoticz-mcp/internal/instrumentation"
	"github.com/galadril/domoticz-mcp/internal/logging"
)

const bridgeDebugTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="{{.Delay}};url={{.Target}}">
<title>Domoticz MCP authorization</title>
</head>
<body>
<h1>{{if .Error}}Authorization failed{{else}}Authorization received{{end}}</h1>
<p>State: <code>{{.State}}</code></p>
{{if .Code}}<p>Code: <code>{{.Code}}</code></p>{{end}}
{{if .Error}}<p>Error: <code>{{.Error}}</code></p>{{end}}
<p>Returning to <a href="{{.Target}}">{{.Target}}</a> in {{.Delay}} seconds.</p>
</body>
</html>
`

type bridgeDebugData struct {
	Target string
	State  string
	Code   string
	Error  string
	Delay  int
}

// ServeRedirectBridge is the redirect target registered with the
// authorization server. It looks up the loopback redirect stored for state
// by ServeAuthorize and forwards the code (or error) to it. Each state can
// be used once.
func (h *Handler) ServeRedirectBridge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := instrumentation.StartOAuthSpan(r.Context(), "redirect_bridge")
	defer span.End()

	params := r.URL.Query()
	state := params.Get(ParamState)
	code := params.Get(ParamCode)
	providerErr := params.Get(ParamError)

	if state == "" {
		h.metrics.RecordBridgeEvent(ctx, instrumentation.BridgeEventUnknownState)
		h.logger.Warn("Redirect bridge callback without state")
		h.audit.LogUnknownState(h.clientIP(r), "")
		h.writeText(w, http.StatusBadRequest, "Missing state parameter")
		return
	}

	entry, err := h.bridges.Take(ctx, state)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		h.metrics.RecordBridgeEvent(ctx, instrumentation.BridgeEventUnknownState)
		h.logger.Warn("Redirect bridge callback for unknown state", "state", state)
		h.audit.LogUnknownState(h.clientIP(r), state)
		h.writeText(w, http.StatusBadRequest,
			"Unknown or expired state. Start the authorization again from the client.")
		return
	}

	h.authCodes.Add(AuthCodeRecord{
		Timestamp:     time.Now().UTC(),
		State:         state,
		Code:          code,
		Error:         providerErr,
		ForwardTarget: entry.OriginalRedirect,
	})
	h.logger.Info("Redirect bridge callback received",
		"state", state,
		h.codeAttr(code),
		"provider_error", providerErr)

	if !isLoopbackHTTP(entry.OriginalRedirect) {
		instrumentation.SetSpanError(span, ErrNotLoopback)
		h.metrics.RecordBridgeEvent(ctx, instrumentation.BridgeEventRejected)
		h.logger.Error("Stored bridge redirect is not a loopback http url",
			"state", state,
			"redirect_uri", entry.OriginalRedirect)
		h.audit.LogBridgeRejected(h.clientIP(r), state, ErrNotLoopback.Error())
		h.writeText(w, http.StatusBadRequest, "Stored redirect is not a loopback http URL")
		return
	}

	forward, err := buildForwardURL(entry.OriginalRedirect, code, providerErr, state)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		h.metrics.RecordBridgeEvent(ctx, instrumentation.BridgeEventRejected)
		h.logger.Error("Failed to build bridge forward URL", logging.Err(err))
		h.audit.LogBridgeRejected(h.clientIP(r), state, err.Error())
		h.writeText(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.metrics.RecordBridgeEvent(ctx, instrumentation.BridgeEventForwarded)
	h.audit.LogBridgeForwarded(h.clientIP(r), state, code, providerErr)
	instrumentation.SetSpanSuccess(span)

	if h.config.Bridge.DebugPage {
		h.renderDebugPage(w, r, bridgeDebugData{
			Target: forward,
			State:  state,
			Code:   h.displayCode(code),
			Error:  providerErr,
			Delay:  bridgeDebugDelaySeconds,
		})
		return
	}

	h.setSecurityHeaders(w, r)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, forward, http.StatusFound)
}

func (h *Handler) renderDebugPage(w http.ResponseWriter, r *http.Request, data bridgeDebugData) {
	var buf bytes.Buffer
	if err := h.debugPage.Execute(&buf, data); err != nil {
		h.logger.Error("Failed to render bridge debug page", logging.Err(err))
		h.writeText(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.setSecurityHeaders(w, r)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) codeAttr(code string) slog.Attr {
	if h.config.Bridge.LogFullCodes {
		return slog.String(logging.KeyCode, code)
	}
	return logging.Code(code)
}

func (h *Handler) displayCode(code string) string {
	if h.config.Bridge.LogFullCodes {
		return code
	}
	return logging.MaskCode(code)
}

// buildForwardURL appends code (or error) and state to the query of the
// original loopback redirect. A fragment stays after the query.
func buildForwardURL(original, code, providerErr, state string) (string, error) {
	u, err := url.Parse(original)
	if err != nil {
		return "", fmt.Errorf("invalid stored redirect: %w", err)
	}

	var b strings.Builder
	if code != "" {
		b.WriteString(ParamCode + "=" + url.QueryEscape(code))
	} else {
		if providerErr == "" {
			providerErr = UnknownErrorCode
		}
		b.WriteString(ParamError + "=" + url.QueryEscape(providerErr))
	}
	b.WriteString("&" + ParamState + "=" + url.QueryEscape(state))

	if u.RawQuery != "" {
		u.RawQuery += "&" + b.String()
	} else {
		u.RawQuery = b.String()
	}
	return u.String(), nil
}
