package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/galadril/domoticz-mcp/internal/logging"
)

// ServiceName identifies the service in /health and /info.
const ServiceName = "domoticz-mcp"

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	Service             string          `json:"service"`
	Version             string          `json:"version"`
	Protocol            string          `json:"protocol"`
	Capabilities        map[string]bool `json:"capabilities"`
	AuthenticationModel string          `json:"authentication_model"`
	Description         string          `json:"description"`
	DomoticzURL         string          `json:"domoticz_url"`
	Uptime              string          `json:"uptime"`
	StartedAt           string          `json:"started_at"`
	Bridge              *BridgeInfo     `json:"bridge,omitempty"`
	Authorization       map[string]any  `json:"authorization,omitempty"`
}

// BridgeInfo summarizes the redirect bridge configuration.
type BridgeInfo struct {
	Enabled      bool   `json:"enabled"`
	BaseURL      string `json:"base_url,omitempty"`
	ForceHTTPS   bool   `json:"force_https"`
	TTL          string `json:"ttl"`
	PendingState int    `json:"pending_states"`
}

// InfoHandler serves GET /info. The discovered OAuth document is included
// when available; discovery is attempted once per request when nothing is
// cached yet.
type InfoHandler struct {
	sc      *ServerContext
	version string
}

// NewInfoHandler creates the /info handler.
func NewInfoHandler(sc *ServerContext, version string) *InfoHandler {
	if version == "" {
		version = DefaultServerVersion
	}
	return &InfoHandler{sc: sc, version: version}
}

// ServeHTTP implements http.Handler.
func (h *InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info := InfoResponse{
		Service:             "Domoticz MCP Server",
		Version:             h.version,
		Protocol:            "MCP " + mcp.LATEST_PROTOCOL_VERSION,
		Capabilities:        map[string]bool{"tools": true, "logging": true},
		AuthenticationModel: "oauth_2_1_passthrough",
		Description:         "MCP " + mcp.LATEST_PROTOCOL_VERSION + " compliant server for Domoticz with OAuth passthrough authentication",
		DomoticzURL:         h.sc.Domoticz().BaseURL(),
		Uptime:              h.sc.Uptime().Truncate(time.Second).String(),
		StartedAt:           humanize.Time(h.sc.StartTime()),
	}

	if oauthHandler := h.sc.OAuthHandler(); oauthHandler != nil {
		cfg := oauthHandler.GetConfig()
		info.Bridge = &BridgeInfo{
			Enabled:      cfg.Bridge.Enabled,
			BaseURL:      cfg.Bridge.BaseURL,
			ForceHTTPS:   cfg.Bridge.ForceHTTPS,
			TTL:          cfg.Bridge.TTL.String(),
			PendingState: oauthHandler.BridgeStore().Len(),
		}
	}

	cfg, err := h.sc.Domoticz().EnsureOAuthConfig(r.Context())
	if err != nil {
		h.sc.Logger().Warn("OpenID configuration unavailable for /info", logging.Err(err))
	} else {
		info.Authorization = cfg.Document
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(info)
}
