// Package correlation tags every request with an ID that is echoed back to the client,
// attached to log records and forwarded on outbound calls.
package correlation

import (
	"context"
	"net/http"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderCorrelationID string = "X-Correlation-ID"
	correlationCtxKey   string = "correlation_id"
	maxIDLength         int    = 128
)

type contextKey struct{}

// WithID returns a copy of ctx that carries the correlation ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the correlation ID stored in ctx or an empty string.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Middleware reuses the correlation ID sent by the caller (or the request ID of a proxy in
// front of the portal) and generates a new one when neither is present.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := validID(req.Header.Get(HeaderCorrelationID))
			if id == "" {
				id = validID(req.Header.Get(echo.HeaderXRequestID))
			}
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(HeaderCorrelationID, id)
			c.Set(correlationCtxKey, id)
			c.SetRequest(req.WithContext(WithID(req.Context(), id)))
			if hub := sentryecho.GetHubFromContext(c); hub != nil {
				hub.Scope().SetTag("correlation_id", id)
			}
			return next(c)
		}
	}
}

func validID(id string) string {
	if len(id) > maxIDLength {
		return ""
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return id
}

// ID returns the correlation ID of the request.
func ID(c echo.Context) string {
	if id, ok := c.Get(correlationCtxKey).(string); ok && id != "" {
		return id
	}
	return c.Response().Header().Get(HeaderCorrelationID)
}

// TraceID returns the ID of the active trace, preferring the OpenTelemetry span over the
// Sentry one.
func TraceID(c echo.Context) string {
	spanContext := trace.SpanContextFromContext(c.Request().Context())
	if spanContext.HasTraceID() {
		return spanContext.TraceID().String()
	}
	if span := sentry.TransactionFromContext(c.Request().Context()); span != nil {
		return span.TraceID.String()
	}
	return ""
}

// Transport forwards the correlation ID of the outbound request's context as a header.
type Transport struct {
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	id := FromContext(req.Context())
	if id == "" || req.Header.Get(HeaderCorrelationID) != "" {
		return base.RoundTrip(req)
	}
	outbound := req.Clone(req.Context())
	outbound.Header.Set(HeaderCorrelationID, id)
	return base.RoundTrip(outbound)
}

// NewTransport wraps base, http.DefaultTransport is used when base is nil.
func NewTransport(base http.RoundTripper) *Transport {
	return &Transport{Base: base}
}
