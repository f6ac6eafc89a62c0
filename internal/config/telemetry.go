package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
)

const DefaultServiceNamespace string = "renku"

type TelemetryConfig struct {
	// Endpoint is the base address of the collector, the signal name is appended to it
	// (i.e. https://collector.example.org/v1/ gives https://collector.example.org/v1/logs).
	Endpoint         *url.URL
	ServiceNamespace string
	Insecure         bool
	Headers          map[string]string
	// ExportTracesAndMetrics enables the trace and metric exporters. The collector we ship
	// to only accepts logs so this stays off unless explicitly enabled.
	ExportTracesAndMetrics bool
	MetricsIntervalSeconds int
	MirrorToConsole        bool
}

func (c *TelemetryConfig) Validate() error {
	if c.Endpoint == nil {
		return fmt.Errorf("%w: telemetry.endpoint", portalerrors.ErrMissingConfigSection)
	}
	if c.Endpoint.Scheme != "http" && c.Endpoint.Scheme != "https" {
		return fmt.Errorf("the telemetry endpoint must be an http(s) url, got %q", c.Endpoint.String())
	}
	if c.MetricsIntervalSeconds < 0 {
		return fmt.Errorf("the metrics interval cannot be negative")
	}
	return nil
}

// SignalURL joins the collector base address and the signal name. The base address is
// used verbatim, a missing trailing slash is added.
func (c TelemetryConfig) SignalURL(signal string) string {
	base := c.Endpoint.String()
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + signal
}

func (c TelemetryConfig) Namespace() string {
	if c.ServiceNamespace == "" {
		return DefaultServiceNamespace
	}
	return c.ServiceNamespace
}

func (c TelemetryConfig) MetricsInterval() time.Duration {
	if c.MetricsIntervalSeconds == 0 {
		return time.Minute
	}
	return time.Duration(c.MetricsIntervalSeconds) * time.Second
}
