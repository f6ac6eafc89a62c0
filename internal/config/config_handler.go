package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix string = "PORTAL"

// Config files are looked up in this order, the first directory holding a file wins.
var defaultConfigPaths = []string{"/etc/portal", "."}

// ConfigHandler reads config.yaml and secret_config.yaml and layers them. From most to least
// preferred: PORTAL_* environment variables, the secret file, the main file. Merges replace
// arrays as a whole.
//
// The secret file should only hold keys and file paths, the store passwords and the OIDC
// client secret are read from the files those paths point to.
type ConfigHandler struct {
	main   *viper.Viper
	secret *viper.Viper
	lock   sync.Mutex
}

func newYAMLViper(name string, paths []string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName(name)
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	return v
}

// NewConfigHandler looks for the files in CONFIG_LOCATION first, then in the default paths.
func NewConfigHandler() *ConfigHandler {
	paths := defaultConfigPaths
	if location := os.Getenv("CONFIG_LOCATION"); location != "" {
		paths = append([]string{location}, paths...)
	}
	main := newYAMLViper("config", paths)
	setDefaults(main)
	return &ConfigHandler{main: main, secret: newYAMLViper("secret_config", paths)}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runningEnvironment", string(Production))
	v.SetDefault("debugMode", false)
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.staticDir", "wwwroot")
	v.SetDefault("server.httpsRedirect", true)
	v.SetDefault("sessions.idleSessionTTLSeconds", 3600)
	v.SetDefault("sessions.maxSessionTTLSeconds", 86400)
	v.SetDefault("redis.type", DBTypeRedis)
	v.SetDefault("telemetry.serviceNamespace", DefaultServiceNamespace)
	v.SetDefault("telemetry.exportTracesAndMetrics", false)
	v.SetDefault("identityProvider.usePKCE", true)
	v.SetDefault("identityProvider.mapInboundClaims", false)
	v.SetDefault("identityProvider.loginRoutesBasePath", "/auth")
	// keys that usually only come from the secret config or the env still need a default,
	// otherwise they are unknown to the main config and cannot be bound to env variables
	v.SetDefault("identityProvider.cookieHashKey", "")
	v.SetDefault("identityProvider.cookieEncodingKey", "")
	v.SetDefault("sessions.tokenEncryption.enabled", false)
	v.SetDefault("sessions.tokenEncryption.secretKey", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("monitoring.sentry.dsn", "")
	v.SetDefault("monitoring.prometheus.port", 8765)
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToURLHook(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)
}

// envKey maps identityProvider.clientID to PORTAL_IDENTITYPROVIDER_CLIENTID.
func envKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// readSecret reads the secret file. It is optional, without it only the main file and the
// environment are used.
func (c *ConfigHandler) readSecret() error {
	err := c.secret.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		slog.Info("could not find any secret config files - only the public file and environment variables will be used")
		return nil
	}
	return err
}

// bindEnv lets the env override every key the main file knows about. The bindings go on the
// secret viper so they win over the secret file as well.
func (c *ConfigHandler) bindEnv() error {
	for _, key := range c.main.AllKeys() {
		if err := c.secret.BindEnv(key, envKey(key)); err != nil {
			return fmt.Errorf("config: unable to bind env %s: %w", envKey(key), err)
		}
	}
	return nil
}

func (c *ConfigHandler) load() (Config, error) {
	if err := c.main.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("cannot read the main config file: %w", err)
	}
	if err := c.readSecret(); err != nil {
		return Config{}, err
	}
	if err := c.bindEnv(); err != nil {
		return Config{}, err
	}
	var overrides map[string]any
	if err := c.secret.Unmarshal(&overrides, decodeHook()); err != nil {
		return Config{}, err
	}
	if err := c.main.MergeConfigMap(overrides); err != nil {
		return Config{}, err
	}
	var output Config
	if err := c.main.Unmarshal(&output, decodeHook()); err != nil {
		return Config{}, err
	}
	if err := output.Validate(); err != nil {
		return Config{}, err
	}
	return output, nil
}

// Config reads, layers and validates the configuration.
func (c *ConfigHandler) Config() (Config, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.load()
}

// HandleChanges calls the callback with the freshly parsed configuration whenever one of
// the files changes. The portal does not reconfigure itself at runtime, the callback is
// only used to tell operators that a restart is needed.
func (c *ConfigHandler) HandleChanges(callback func(Config, error)) {
	for _, v := range []*viper.Viper{c.main, c.secret} {
		v.OnConfigChange(func(e fsnotify.Event) {
			slog.Info("config file changed", "path", e.Name, "operation", e.Op.String())
			callback(c.Config())
		})
	}
}

func (c *ConfigHandler) Watch() {
	c.main.WatchConfig()
	c.secret.WatchConfig()
}

var urlType = reflect.TypeOf(url.URL{})

// stringToURLHook decodes strings into url.URL fields, empty strings are rejected.
func stringToURLHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != urlType {
			return data, nil
		}
		raw, ok := data.(string)
		if !ok {
			return nil, fmt.Errorf("cannot cast URL value to string")
		}
		if raw == "" {
			return nil, fmt.Errorf("empty values are not allowed for URLs")
		}
		return url.Parse(raw)
	}
}
