package config

import (
	"fmt"

	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
)

type SQLServerConfig struct {
	Host         string
	Port         int
	User         string
	PasswordFile string
}

func (c *SQLServerConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: sqlServer.host", portalerrors.ErrMissingConfigSection)
	}
	if c.User == "" {
		return fmt.Errorf("%w: sqlServer.user", portalerrors.ErrMissingConfigSection)
	}
	if c.PasswordFile == "" {
		return fmt.Errorf("%w: sqlServer.passwordFile", portalerrors.ErrMissingConfigSection)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid sql server port %d", c.Port)
	}
	return nil
}

type MongoDBConfig struct {
	Host         string
	Port         int
	User         string
	PasswordFile string
}

func (c *MongoDBConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: mongoDB.host", portalerrors.ErrMissingConfigSection)
	}
	if c.User == "" {
		return fmt.Errorf("%w: mongoDB.user", portalerrors.ErrMissingConfigSection)
	}
	if c.PasswordFile == "" {
		return fmt.Errorf("%w: mongoDB.passwordFile", portalerrors.ErrMissingConfigSection)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid mongodb port %d", c.Port)
	}
	return nil
}
