package telemetry

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const unknownVersion string = "unknown"

// ServiceVersion is the version of the main module, or "unknown" when the binary was built
// without module information.
func ServiceVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return unknownVersion
	}
	return info.Main.Version
}

// NewResource describes the portal process. Every exported log, span and metric carries
// these attributes.
func NewResource(ctx context.Context, appName string, env config.RunningEnvironment, namespace string) (*resource.Resource, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to read the host name: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(appName),
			semconv.ServiceNamespaceKey.String(namespace),
			semconv.ServiceVersionKey.String(ServiceVersion()),
			semconv.HostNameKey.String(hostname),
			semconv.DeploymentEnvironmentKey.String(env.Lower()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
