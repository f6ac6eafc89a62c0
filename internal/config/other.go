package config

import "fmt"

type ServerConfig struct {
	Host        string
	Port        int
	StaticDir   string
	RateLimits  RateLimits
	AllowOrigin []string
	// HTTPSRedirect sends plain http requests to https. The scheme is taken from
	// X-Forwarded-Proto when the portal runs behind a proxy.
	HTTPSRedirect bool
}

type RateLimits struct {
	Enabled bool
	Rate    float64
	Burst   int
}

type SessionConfig struct {
	IdleSessionTTLSeconds int
	MaxSessionTTLSeconds  int
	TokenEncryption       TokenEncryptionConfig
}

type TokenEncryptionConfig struct {
	Enabled   bool
	SecretKey RedactedString
}

func (c *SessionConfig) Validate() error {
	if c.IdleSessionTTLSeconds <= 0 {
		return fmt.Errorf("the idle session TTL seconds has to be positive, got %d", c.IdleSessionTTLSeconds)
	}
	if c.MaxSessionTTLSeconds > 0 && c.IdleSessionTTLSeconds > c.MaxSessionTTLSeconds {
		return fmt.Errorf("max session TTL seconds (%d) cannot be less than idle session TTL seconds (%d)", c.MaxSessionTTLSeconds, c.IdleSessionTTLSeconds)
	}
	if c.TokenEncryption.Enabled && len(c.TokenEncryption.SecretKey) != 32 {
		return fmt.Errorf(
			"token encryption key has to be 32 bytes long, the provided one is %d long",
			len(c.TokenEncryption.SecretKey),
		)
	}
	return nil
}

type RedisConfig struct {
	Type       string
	Addresses  []string
	IsSentinel bool
	Password   RedactedString
	MasterName string
	DBIndex    int
}

const DBTypeRedis string = "redis"
const DBTypeRedisMock string = "redis-mock"

func (c RedisConfig) Validate(e RunningEnvironment) error {
	if !e.IsDevelopment() && c.Type == DBTypeRedisMock {
		return fmt.Errorf("redis type cannot be \"redis-mock\" outside of development")
	}
	if c.Type == DBTypeRedis && len(c.Addresses) == 0 {
		return fmt.Errorf("at least one redis address is required")
	}
	if c.Type != DBTypeRedis && c.Type != DBTypeRedisMock {
		return fmt.Errorf("unrecognized redis type %q", c.Type)
	}
	return nil
}

type SentryConfig struct {
	Enabled     bool
	Dsn         RedactedString
	Environment string
	SampleRate  float64
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

type MonitoringConfig struct {
	Sentry     SentryConfig
	Prometheus PrometheusConfig
}
