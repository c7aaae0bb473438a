package instrumentation

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Config selects how the bridge exports telemetry. The serve command fills
// it from its flags; see DefaultConfig for the values used otherwise.
type Config struct {
	// Enabled turns the OpenTelemetry pipeline on. When false every
	// recorder is a no-op and no exporter is created.
	Enabled bool

	// MetricsExporter is one of ExporterPrometheus, ExporterOTLP or
	// ExporterConsole.
	MetricsExporter string

	// TracingExporter is one of ExporterNone, ExporterOTLP or
	// ExporterConsole.
	TracingExporter string

	// OTLPEndpoint is the collector host:port used by the otlp exporters.
	OTLPEndpoint string

	// OTLPInsecure sends OTLP over plain HTTP. Only for local collectors.
	OTLPInsecure bool

	// TraceSamplingRate is the parent-based ratio of sampled traces.
	TraceSamplingRate float64

	// DetailedLabels adds the Domoticz device idx to tool metrics.
	// Leave disabled on installations with many devices.
	DetailedLabels bool

	// Audit enables the tool invocation audit log.
	Audit bool

	// ConsoleWriter receives the console exporters' output. Defaults to
	// os.Stderr because stdout carries the stdio transport.
	ConsoleWriter io.Writer

	// Deployment describes the running bridge and becomes the telemetry
	// resource.
	Deployment Deployment
}

// Deployment identifies one running bridge in exported telemetry.
type Deployment struct {
	Version       string
	InstanceID    string // defaults to the hostname
	DomoticzURL   string
	Transport     string
	BridgeEnabled bool
}

// DefaultConfig returns Prometheus metrics, no tracing and audit logging on.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MetricsExporter:   ExporterPrometheus,
		TracingExporter:   ExporterNone,
		TraceSamplingRate: DefaultTraceSamplingRate,
		Audit:             true,
		Deployment:        Deployment{Version: "unknown"},
	}
}

// Validate checks exporter names, the sampling rate and that OTLP has an
// endpoint. A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error
	switch c.MetricsExporter {
	case ExporterPrometheus, ExporterOTLP, ExporterConsole:
	default:
		errs = append(errs, fmt.Errorf("invalid metrics exporter %q (expected %s, %s or %s)",
			c.MetricsExporter, ExporterPrometheus, ExporterOTLP, ExporterConsole))
	}
	switch c.TracingExporter {
	case ExporterNone, ExporterOTLP, ExporterConsole:
	default:
		errs = append(errs, fmt.Errorf("invalid tracing exporter %q (expected %s, %s or %s)",
			c.TracingExporter, ExporterNone, ExporterOTLP, ExporterConsole))
	}
	if c.usesOTLP() && c.OTLPEndpoint == "" {
		errs = append(errs, errors.New("OTLP endpoint is required for the otlp exporter"))
	}
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0 and 1, got %g", c.TraceSamplingRate))
	}
	return errors.Join(errs...)
}

func (c Config) usesOTLP() bool {
	return c.MetricsExporter == ExporterOTLP || c.TracingExporter == ExporterOTLP
}

// Constants for metric label values.
const (
	// ServiceName is the service.name of every exported resource.
	ServiceName = "domoticz-mcp"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"
	StatusUnknown = "unknown"

	// Discovery results
	DiscoveryResultSuccess = "success"
	DiscoveryResultFailure = "failure"

	// Redirect bridge events
	BridgeEventStored       = "stored"
	BridgeEventForwarded    = "forwarded"
	BridgeEventUnknownState = "unknown_state"
	BridgeEventRejected     = "rejected"
	BridgeEventSkipped      = "skipped"

	// Exporter types
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterConsole    = "console"
	ExporterNone       = "none"

	DefaultTraceSamplingRate = 0.1

	// DefaultMetricInterval is the push interval of the otlp and console
	// metric exporters.
	DefaultMetricInterval = 10 * time.Second
)
