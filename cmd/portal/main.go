package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/SwissDataScienceCenter/renku-portal/internal/controllers"
	"github.com/SwissDataScienceCenter/renku-portal/internal/db"
	"github.com/SwissDataScienceCenter/renku-portal/internal/host"
	"github.com/SwissDataScienceCenter/renku-portal/internal/login"
	"github.com/SwissDataScienceCenter/renku-portal/internal/oidc"
	"github.com/SwissDataScienceCenter/renku-portal/internal/secrets"
	"github.com/SwissDataScienceCenter/renku-portal/internal/sessions"
	"github.com/SwissDataScienceCenter/renku-portal/internal/storage"
	"github.com/SwissDataScienceCenter/renku-portal/internal/telemetry"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
)

// applyDebugMode raises the log level and mirrors the telemetry logs to the console.
func applyDebugMode(portalConfig *config.Config) {
	if !portalConfig.DebugMode {
		return
	}
	logLevel.Set(slog.LevelDebug)
	portalConfig.Telemetry.MirrorToConsole = true
}

func main() {
	// Logging setup, replaced by the OTLP bridge as soon as telemetry is wired
	slog.SetDefault(jsonLogger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		slog.Error("the portal stopped with an error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Load configuration
	ch := config.NewConfigHandler()
	portalConfig, err := ch.Config()
	if err != nil {
		return fmt.Errorf("loading the configuration failed: %w", err)
	}
	slog.Info("loaded config", "config", portalConfig)
	applyDebugMode(&portalConfig)
	ch.HandleChanges(func(_ config.Config, err error) {
		if err != nil {
			slog.Warn("the changed configuration is invalid", "error", err)
			return
		}
		slog.Warn("the configuration changed, restart the portal to apply it")
	})
	ch.Watch()
	// Read the secret files, a missing one aborts the startup
	resolved, err := secrets.ResolveAll(secrets.NewFileProvider(), portalConfig)
	if err != nil {
		return fmt.Errorf("reading the secret files failed: %w", err)
	}

	builder, err := host.NewBuilder(host.WithConfig(portalConfig))
	if err != nil {
		return fmt.Errorf("host initialization failed: %w", err)
	}

	// Telemetry
	tel, err := telemetry.New(
		ctx,
		portalConfig.AppName,
		portalConfig.RunningEnvironment,
		portalConfig.Telemetry,
		telemetry.WithLevel(logLevel),
		telemetry.WithConsoleHandler(jsonLogger.Handler()),
	)
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	// Once serving, the host shuts the telemetry down
	serving := false
	defer func() {
		if serving {
			return
		}
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Error("shutting down telemetry failed", "error", err)
		}
	}()
	if err := builder.AddTelemetry(tel); err != nil {
		return fmt.Errorf("wiring telemetry failed: %w", err)
	}

	// Initialize the db adapters
	dbOptions := []db.RedisAdapterOption{db.WithRedisConfig(portalConfig.Redis)}
	if portalConfig.Sessions.TokenEncryption.Enabled && portalConfig.Sessions.TokenEncryption.SecretKey != "" {
		slog.Info("redis encryption is enabled")
		dbOptions = append(dbOptions, db.WithEncryption(portalConfig.Sessions.TokenEncryption.SecretKey.Value()))
	}
	dbAdapter, err := db.NewRedisAdapter(dbOptions...)
	if err != nil {
		return fmt.Errorf("DB adapter initialization failed: %w", err)
	}
	// Create session store
	sessionStore, err := sessions.NewSessionStore(
		sessions.WithSessionRepository(dbAdapter),
		sessions.WithConfig(portalConfig.Sessions),
		sessions.WithCookieKeys(portalConfig.IdentityProvider.CookieHashKey, portalConfig.IdentityProvider.CookieEncodingKey),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize sessions: %w", err)
	}
	// OIDC client, discovery goes through the retrying and instrumented http client
	oidcClient, err := oidc.NewClient(
		oidc.WithConfig(portalConfig.IdentityProvider, resolved.OIDCClientSecret),
		oidc.WithHTTPClient(oidc.NewRetryingHTTPClient(tel.Transport)),
	)
	if err != nil {
		return fmt.Errorf("OIDC client initialization failed: %w", err)
	}
	loginServer, err := login.NewLoginServer(
		login.WithConfig(portalConfig.IdentityProvider),
		login.WithAuthFlow(oidcClient),
		login.WithSessionStore(sessionStore),
	)
	if err != nil {
		return fmt.Errorf("login handlers initialization failed: %w", err)
	}
	if err := builder.AddAuthentication(sessionStore, loginServer); err != nil {
		return fmt.Errorf("wiring authentication failed: %w", err)
	}

	// Storage, handles are only opened when a request needs them
	sqlFactory, err := storage.NewSQLFactory(
		storage.WithSQLServer(storage.NewSQLServerDescriptor(portalConfig.SQLServer, resolved.SQLServerPassword)),
	)
	if err != nil {
		return fmt.Errorf("sql server factory initialization failed: %w", err)
	}
	defer func() {
		if err := sqlFactory.Shutdown(); err != nil {
			slog.Error("closing the sql server pool failed", "error", err)
		}
	}()
	mongoFactory, err := storage.NewMongoFactory(
		storage.WithMongoDB(storage.NewMongoDescriptor(portalConfig.MongoDB, resolved.MongoDBPassword)),
		storage.WithServerSelectionTimeout(5*time.Second),
	)
	if err != nil {
		return fmt.Errorf("mongodb factory initialization failed: %w", err)
	}
	portalStorage, err := storage.NewPortalStorage(sqlFactory, mongoFactory)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	if err := builder.AddStorage(portalStorage); err != nil {
		return fmt.Errorf("wiring storage failed: %w", err)
	}

	// Controllers and pages
	api, err := controllers.NewAPI(controllers.WithSessionStore(sessionStore))
	if err != nil {
		return fmt.Errorf("controllers initialization failed: %w", err)
	}
	if err := builder.AddControllers(api.Register); err != nil {
		return fmt.Errorf("wiring controllers failed: %w", err)
	}
	pages, err := controllers.NewPages(
		portalConfig.AppName,
		portalConfig.IdentityProvider.LoginBasePath()+"/logout",
		telemetry.ServiceVersion(),
		sessionStore,
	)
	if err != nil {
		return fmt.Errorf("pages initialization failed: %w", err)
	}
	if err := builder.AddPages(pages.Register); err != nil {
		return fmt.Errorf("wiring pages failed: %w", err)
	}

	// Sentry
	if portalConfig.Monitoring.Sentry.Enabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              portalConfig.Monitoring.Sentry.Dsn.Value(),
			TracesSampleRate: portalConfig.Monitoring.Sentry.SampleRate,
			Environment:      portalConfig.Monitoring.Sentry.Environment,
		})
		if err != nil {
			slog.Error("sentry initialization failed", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
	}
	// Prometheus, a failure to serve the metrics stops the portal
	if portalConfig.Monitoring.Prometheus.Enabled {
		metrics := echo.New()
		metrics.HideBanner = true
		metrics.HidePort = true
		metrics.GET("/metrics", echoprometheus.NewHandler())
		go func() {
			err := metrics.Start(fmt.Sprintf(":%d", portalConfig.Monitoring.Prometheus.Port))
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("prometheus server failed to start", "error", err)
				cancel()
			}
		}()
		defer metrics.Close()
	}
	if err := builder.Use(ambientMiddlewares(portalConfig)...); err != nil {
		return fmt.Errorf("wiring middlewares failed: %w", err)
	}

	portal, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building the host failed: %w", err)
	}
	// Serve until SIGINT or SIGTERM, then shut down gracefully with a timeout of 10 seconds
	serving = true
	return portal.Run(ctx)
}
