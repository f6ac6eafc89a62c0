// Package telemetry wires the OpenTelemetry providers of the portal: logs are always shipped
// to the collector, traces and metrics only when explicitly enabled.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/hashicorp/go-multierror"
	"github.com/labstack/echo/v4"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

type shutdownFn func(context.Context) error

type Telemetry struct {
	Resource *resource.Resource
	Logs     *sdklog.LoggerProvider
	Traces   trace.TracerProvider
	Metrics  metric.MeterProvider
	Logger   *slog.Logger

	serviceName            string
	exportTracesAndMetrics bool
	shutdownFns            []shutdownFn
}

type settings struct {
	exporters      Exporters
	level          slog.Leveler
	consoleHandler slog.Handler
}

type TelemetryOption func(*settings)

// WithExporters replaces the OTLP exporters, mostly useful in tests.
func WithExporters(exporters Exporters) TelemetryOption {
	return func(s *settings) {
		s.exporters = exporters
	}
}

// WithLevel sets the minimum level of the records passed to the exporter and the console.
func WithLevel(level slog.Leveler) TelemetryOption {
	return func(s *settings) {
		s.level = level
	}
}

// WithConsoleHandler sets the handler used when log records are mirrored to the console.
func WithConsoleHandler(handler slog.Handler) TelemetryOption {
	return func(s *settings) {
		s.consoleHandler = handler
	}
}

// New creates the providers, registers them globally and makes the OTLP log bridge the
// default slog logger.
func New(ctx context.Context, appName string, env config.RunningEnvironment, cfg config.TelemetryConfig, options ...TelemetryOption) (*Telemetry, error) {
	s := settings{exporters: OTLPExporters(), level: slog.LevelInfo}
	for _, opt := range options {
		opt(&s)
	}
	if appName == "" {
		return nil, fmt.Errorf("telemetry service name required")
	}
	if cfg.Endpoint == nil {
		return nil, fmt.Errorf("telemetry endpoint required")
	}
	res, err := NewResource(ctx, appName, env, cfg.Namespace())
	if err != nil {
		return nil, err
	}
	t := &Telemetry{
		Resource:               res,
		serviceName:            appName,
		exportTracesAndMetrics: cfg.ExportTracesAndMetrics,
	}

	logExporter, err := s.exporters.Logs(ctx, cfg)
	if err != nil {
		return nil, err
	}
	t.Logs = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	t.shutdownFns = append(t.shutdownFns, t.Logs.Shutdown)
	global.SetLoggerProvider(t.Logs)

	if cfg.ExportTracesAndMetrics {
		err = t.startTracesAndMetrics(ctx, cfg, s.exporters)
		if err != nil {
			return nil, multierror.Append(err, t.Shutdown(ctx)).ErrorOrNil()
		}
	} else {
		t.Traces = tracenoop.NewTracerProvider()
		t.Metrics = metricnoop.NewMeterProvider()
	}

	handlers := []slog.Handler{
		otelslog.NewHandler(appName, otelslog.WithLoggerProvider(t.Logs), otelslog.WithVersion(ServiceVersion())),
	}
	if cfg.MirrorToConsole {
		console := s.consoleHandler
		if console == nil {
			console = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: s.level})
		}
		handlers = append(handlers, console)
	}
	t.Logger = slog.New(slogmulti.Pipe(minLevel(s.level)).Handler(slogmulti.Fanout(handlers...)))
	slog.SetDefault(t.Logger)
	return t, nil
}

// minLevel drops records below level before they reach any of the fanned out handlers.
func minLevel(level slog.Leveler) slogmulti.Middleware {
	return slogmulti.NewEnabledInlineMiddleware(func(ctx context.Context, l slog.Level, next func(context.Context, slog.Level) bool) bool {
		return l >= level.Level() && next(ctx, l)
	})
}

func (t *Telemetry) startTracesAndMetrics(ctx context.Context, cfg config.TelemetryConfig, exporters Exporters) error {
	spanExporter, err := exporters.Traces(ctx, cfg)
	if err != nil {
		return err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(t.Resource),
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	t.shutdownFns = append(t.shutdownFns, tracerProvider.Shutdown)
	t.Traces = tracerProvider

	reader, err := exporters.Metrics(ctx, cfg)
	if err != nil {
		return err
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(t.Resource),
		sdkmetric.WithReader(reader),
	)
	t.shutdownFns = append(t.shutdownFns, meterProvider.Shutdown)
	t.Metrics = meterProvider

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// ExportsTracesAndMetrics reports whether spans and metrics leave the process.
func (t *Telemetry) ExportsTracesAndMetrics() bool {
	return t.exportTracesAndMetrics
}

// Middleware instruments incoming requests. It does nothing while trace and metric export
// is disabled.
func (t *Telemetry) Middleware() echo.MiddlewareFunc {
	if !t.exportTracesAndMetrics {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}
	return otelecho.Middleware(
		t.serviceName,
		otelecho.WithTracerProvider(t.Traces),
	)
}

// Transport instruments outgoing requests made through base.
func (t *Telemetry) Transport(base http.RoundTripper) http.RoundTripper {
	if !t.exportTracesAndMetrics {
		return base
	}
	return otelhttp.NewTransport(
		base,
		otelhttp.WithTracerProvider(t.Traces),
		otelhttp.WithMeterProvider(t.Metrics),
	)
}

// Shutdown flushes and stops all providers, the log provider last.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	for i := len(t.shutdownFns) - 1; i >= 0; i-- {
		if err := t.shutdownFns[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	t.shutdownFns = nil
	return result.ErrorOrNil()
}
