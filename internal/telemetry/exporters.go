package telemetry

import (
	"context"
	"fmt"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	SignalLogs    string = "logs"
	SignalTraces  string = "traces"
	SignalMetrics string = "metrics"
)

// Exporters builds the exporter of each signal. The trace and metric constructors are only
// called when trace and metric export is enabled.
type Exporters struct {
	Logs    func(ctx context.Context, cfg config.TelemetryConfig) (sdklog.Exporter, error)
	Traces  func(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error)
	Metrics func(ctx context.Context, cfg config.TelemetryConfig) (sdkmetric.Reader, error)
}

// OTLPExporters ships every signal over OTLP/HTTP to {endpoint}{signal}.
func OTLPExporters() Exporters {
	return Exporters{
		Logs:    newLogExporter,
		Traces:  newSpanExporter,
		Metrics: newMetricReader,
	}
}

func buildHTTPOptions[T any](
	cfg config.TelemetryConfig,
	signal string,
	withEndpointURL func(string) T,
	withInsecure func() T,
	withHeaders func(map[string]string) T,
) []T {
	options := []T{withEndpointURL(cfg.SignalURL(signal))}
	if cfg.Insecure {
		options = append(options, withInsecure())
	}
	if len(cfg.Headers) > 0 {
		options = append(options, withHeaders(cfg.Headers))
	}
	return options
}

func newLogExporter(ctx context.Context, cfg config.TelemetryConfig) (sdklog.Exporter, error) {
	exporter, err := otlploghttp.New(ctx, buildHTTPOptions(
		cfg, SignalLogs, otlploghttp.WithEndpointURL, otlploghttp.WithInsecure, otlploghttp.WithHeaders,
	)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}
	return exporter, nil
}

func newSpanExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	exporter, err := otlptracehttp.New(ctx, buildHTTPOptions(
		cfg, SignalTraces, otlptracehttp.WithEndpointURL, otlptracehttp.WithInsecure, otlptracehttp.WithHeaders,
	)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return exporter, nil
}

func newMetricReader(ctx context.Context, cfg config.TelemetryConfig) (sdkmetric.Reader, error) {
	exporter, err := otlpmetrichttp.New(ctx, buildHTTPOptions(
		cfg, SignalMetrics, otlpmetrichttp.WithEndpointURL, otlpmetrichttp.WithInsecure, otlpmetrichttp.WithHeaders,
	)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricsInterval())), nil
}
