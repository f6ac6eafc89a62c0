package config

import (
	"fmt"
	"strings"

	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
	"github.com/hashicorp/go-multierror"
)

type Config struct {
	RunningEnvironment RunningEnvironment
	DebugMode          bool
	AppName            string
	Server             ServerConfig
	IdentityProvider   IdentityProviderConfig
	Telemetry          TelemetryConfig
	SQLServer          SQLServerConfig
	MongoDB            MongoDBConfig
	Sessions           SessionConfig
	Redis              RedisConfig
	Monitoring         MonitoringConfig
}

type RunningEnvironment string

const (
	Development RunningEnvironment = "Development"
	Staging     RunningEnvironment = "Staging"
	Production  RunningEnvironment = "Production"
)

// IsDevelopment compares case-insensitively so that "development" in an
// env variable behaves the same as the canonical spelling.
func (e RunningEnvironment) IsDevelopment() bool {
	return strings.EqualFold(string(e), string(Development))
}

func (e RunningEnvironment) Lower() string {
	return strings.ToLower(string(e))
}

// Validate checks every section and reports all problems at once. A config that
// fails validation must never reach the point where the server starts.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.RunningEnvironment == "" {
		result = multierror.Append(result, fmt.Errorf("the running environment is not set"))
	}
	if c.AppName == "" {
		result = multierror.Append(result, fmt.Errorf("%w: appName", portalerrors.ErrMissingConfigSection))
	}
	if err := c.IdentityProvider.Validate(c.RunningEnvironment); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.SQLServer.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.MongoDB.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Sessions.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Redis.Validate(c.RunningEnvironment); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
