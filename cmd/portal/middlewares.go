package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/SwissDataScienceCenter/renku-portal/internal/correlation"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

var logLevel *slog.LevelVar = new(slog.LevelVar)
var jsonLogger *slog.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

// The default logger is read per request, once telemetry is wired it is the OTLP bridge.
var requestLogger echo.MiddlewareFunc = middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
	LogStatus:    true,
	LogURI:       true,
	LogError:     true,
	LogRoutePath: true, // logs the handler path in the server that matched the request path
	LogMethod:    true,
	LogUserAgent: true,
	LogLatency:   true,
	HandleError:  true, // forwards error to the global error handler, so it can decide appropriate status code
	LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
		if v.Error == nil {
			slog.Default().LogAttrs(context.Background(), slog.LevelInfo, "REQUEST",
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.String("requestID", correlation.ID(c)),
				slog.String("traceID", correlation.TraceID(c)),
				slog.String("method", v.Method),
				slog.String("handler", v.RoutePath),
				slog.String("userAgent", v.UserAgent),
				slog.Duration("latency", v.Latency),
			)
		} else {
			slog.Default().LogAttrs(context.Background(), slog.LevelError, "REQUEST_ERROR",
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.String("error", v.Error.Error()),
				slog.String("requestID", correlation.ID(c)),
				slog.String("traceID", correlation.TraceID(c)),
				slog.String("method", v.Method),
				slog.String("handler", v.RoutePath),
				slog.String("userAgent", v.UserAgent),
				slog.Duration("latency", v.Latency),
			)
		}
		return nil
	},
})

// ambientMiddlewares wrap the whole request pipeline.
func ambientMiddlewares(portalConfig config.Config) []echo.MiddlewareFunc {
	mws := []echo.MiddlewareFunc{requestLogger, middleware.RemoveTrailingSlash(), middleware.Recover()}
	if portalConfig.Monitoring.Sentry.Enabled {
		mws = append(mws, sentryecho.New(sentryecho.Options{Repanic: false}))
	}
	if portalConfig.Monitoring.Prometheus.Enabled {
		mws = append(mws, echoprometheus.NewMiddleware("portal"))
	}
	if portalConfig.Server.RateLimits.Enabled {
		mws = append(mws, middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStoreWithConfig(
				middleware.RateLimiterMemoryStoreConfig{
					Rate:      rate.Limit(portalConfig.Server.RateLimits.Rate),
					Burst:     portalConfig.Server.RateLimits.Burst,
					ExpiresIn: 3 * time.Minute,
				}),
		))
	}
	if len(portalConfig.Server.AllowOrigin) > 0 {
		mws = append(mws, middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: portalConfig.Server.AllowOrigin}))
	}
	return mws
}
