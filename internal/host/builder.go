// Package host composes the portal: services are registered on a Builder which, once built,
// yields a Host with the fully assembled request pipeline.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/apidocs"
	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/SwissDataScienceCenter/renku-portal/internal/correlation"
	"github.com/SwissDataScienceCenter/renku-portal/internal/login"
	"github.com/SwissDataScienceCenter/renku-portal/internal/pipeline"
	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
	"github.com/SwissDataScienceCenter/renku-portal/internal/sessions"
	"github.com/SwissDataScienceCenter/renku-portal/internal/telemetry"
	"github.com/SwissDataScienceCenter/renku-portal/internal/views"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	HealthPath  string = "/health"
	VersionPath string = "/version"
	APIPrefix   string = "/api"
	StaticPath  string = "/static"
)

const hstsMaxAgeSeconds int = 30 * 24 * 60 * 60

// Telemetry is what the host needs from the telemetry pipeline.
type Telemetry interface {
	Middleware() echo.MiddlewareFunc
	Shutdown(ctx context.Context) error
}

// ScopedStorage opens a storage scope per request.
type ScopedStorage interface {
	Middleware() echo.MiddlewareFunc
}

// APIRegistrar adds controller routes to the /api group.
type APIRegistrar func(g *echo.Group, docs Describer)

// Describer documents API operations, in development it feeds the OpenAPI document.
type Describer interface {
	Describe(method, path, summary string)
}

type PageRegistrar func(r PageRouter)

type Builder struct {
	config          config.Config
	lock            sync.Mutex
	state           State
	history         []State
	telemetry       Telemetry
	sessions        *sessions.SessionStore
	login           *login.LoginServer
	storage         ScopedStorage
	controllers     []APIRegistrar
	pages           []PageRegistrar
	ambient         []echo.MiddlewareFunc
	shutdownTimeout time.Duration
}

type BuilderOption func(*Builder)

func WithConfig(c config.Config) BuilderOption {
	return func(b *Builder) {
		b.config = c
	}
}

func WithShutdownTimeout(timeout time.Duration) BuilderOption {
	return func(b *Builder) {
		b.shutdownTimeout = timeout
	}
}

func NewBuilder(options ...BuilderOption) (*Builder, error) {
	b := Builder{shutdownTimeout: 10 * time.Second}
	for _, opt := range options {
		opt(&b)
	}
	if b.config.RunningEnvironment == "" {
		return &Builder{}, fmt.Errorf("the running environment is not set")
	}
	if b.config.AppName == "" {
		return &Builder{}, fmt.Errorf("%w: appName", portalerrors.ErrMissingConfigSection)
	}
	b.transition(Configuring)
	return &b, nil
}

func (b *Builder) transition(to State) {
	b.state = to
	b.history = append(b.history, to)
	slog.Debug("host state changed", "state", to.String())
}

// register runs the registration unless the host was already built.
func (b *Builder) register(add func()) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.state != Configuring {
		return portalerrors.ErrHostBuilt
	}
	add()
	return nil
}

// AddTelemetry wires the telemetry pipeline, it has to happen before Build.
func (b *Builder) AddTelemetry(t Telemetry) error {
	if t == nil {
		return fmt.Errorf("telemetry is not initialized")
	}
	return b.register(func() { b.telemetry = t })
}

// AddAuthentication wires the cookie sessions and the OIDC login routes.
func (b *Builder) AddAuthentication(sessionStore *sessions.SessionStore, loginServer *login.LoginServer) error {
	if sessionStore == nil {
		return fmt.Errorf("session store not initialized")
	}
	if loginServer == nil {
		return fmt.Errorf("login server not initialized")
	}
	return b.register(func() {
		b.sessions = sessionStore
		b.login = loginServer
	})
}

func (b *Builder) AddStorage(s ScopedStorage) error {
	if s == nil {
		return fmt.Errorf("storage is not initialized")
	}
	return b.register(func() { b.storage = s })
}

func (b *Builder) AddControllers(registrars ...APIRegistrar) error {
	return b.register(func() { b.controllers = append(b.controllers, registrars...) })
}

func (b *Builder) AddPages(registrars ...PageRegistrar) error {
	return b.register(func() { b.pages = append(b.pages, registrars...) })
}

// Use adds middlewares that wrap the whole pipeline, i.e. request logging or recovery.
func (b *Builder) Use(middlewares ...echo.MiddlewareFunc) error {
	return b.register(func() { b.ambient = append(b.ambient, middlewares...) })
}

// State returns the current state of the builder.
func (b *Builder) State() State {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.state
}

// Build assembles the request pipeline. It can only run once and it fails when no
// telemetry was wired.
func (b *Builder) Build() (*Host, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.state != Configuring {
		return nil, portalerrors.ErrHostBuilt
	}
	if b.telemetry == nil {
		return nil, portalerrors.ErrTelemetryNotWired
	}
	b.transition(Building)

	e := echo.New()
	// The banner and the port do not respect our log format, the address is logged in Run.
	e.HideBanner = true
	e.HidePort = true
	tr, err := views.NewTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("template renderer initialization failed: %w", err)
	}
	tr.Register(e)
	e.Pre(b.ambient...)

	p := pipeline.New(b.config.RunningEnvironment)
	var docs Describer = noDocs{}
	if b.config.RunningEnvironment.IsDevelopment() {
		b.transition(DevPipeline)
		apiDocs := apidocs.New(b.config.AppName, telemetry.ServiceVersion())
		docs = apiDocs
		b.addDevelopmentComponents(p, apiDocs)
	}
	policy := NewAuthorizationPolicy()
	b.addComponents(p, policy, docs)
	if err := p.Assemble(e); err != nil {
		return nil, err
	}
	slog.Info("request pipeline assembled", "environment", string(b.config.RunningEnvironment), "stages", p.Stages())
	b.transition(PipelineAssembled)

	return &Host{
		echo:            e,
		address:         fmt.Sprintf("%s:%d", b.config.Server.Host, b.config.Server.Port),
		telemetry:       b.telemetry,
		shutdownTimeout: b.shutdownTimeout,
		state:           b.state,
		history:         append([]State{}, b.history...),
	}, nil
}

func (b *Builder) addDevelopmentComponents(p *pipeline.Pipeline, apiDocs *apidocs.APIDocs) {
	p.Add(pipeline.DeveloperErrorPage, pipeline.Component{
		Register: func(e *echo.Echo) error {
			e.HTTPErrorHandler = developerErrorHandler(e)
			e.GET(ErrorPagePath, errorPage)
			return nil
		},
	})
	p.Add(pipeline.HSTS, pipeline.Component{
		Middlewares: []echo.MiddlewareFunc{middleware.SecureWithConfig(middleware.SecureConfig{
			XSSProtection:         middleware.DefaultSecureConfig.XSSProtection,
			ContentTypeNosniff:    middleware.DefaultSecureConfig.ContentTypeNosniff,
			XFrameOptions:         middleware.DefaultSecureConfig.XFrameOptions,
			HSTSMaxAge:            hstsMaxAgeSeconds,
			HSTSExcludeSubdomains: false,
		})},
	})
	p.Add(pipeline.APIDocs, pipeline.Component{
		Register: func(e *echo.Echo) error {
			apiDocs.RegisterHandlers(e)
			return nil
		},
	})
}

func (b *Builder) addComponents(p *pipeline.Pipeline, policy *AuthorizationPolicy, docs Describer) {
	p.Add(pipeline.HTTPSRedirect, pipeline.Component{
		Middlewares: []echo.MiddlewareFunc{middleware.HTTPSRedirectWithConfig(middleware.RedirectConfig{
			Skipper: func(c echo.Context) bool {
				return !b.config.Server.HTTPSRedirect || c.Request().URL.Path == HealthPath
			},
			Code: http.StatusTemporaryRedirect,
		})},
	})
	if b.config.Server.StaticDir != "" {
		staticDir := b.config.Server.StaticDir
		p.Add(pipeline.StaticFiles, pipeline.Component{
			Middlewares: []echo.MiddlewareFunc{staticFiles(staticDir)},
		})
	}
	routing := []echo.MiddlewareFunc{b.telemetry.Middleware()}
	if b.storage != nil {
		routing = append(routing, b.storage.Middleware())
	}
	p.Add(pipeline.Routing, pipeline.Component{
		Middlewares: routing,
		Register: func(e *echo.Echo) error {
			e.GET(HealthPath, func(c echo.Context) error {
				return c.String(http.StatusOK, "Running")
			})
			e.GET(VersionPath, func(c echo.Context) error {
				return c.JSON(http.StatusOK, map[string]string{"version": telemetry.ServiceVersion()})
			})
			return nil
		},
	})
	if b.sessions != nil {
		sessionStore := b.sessions
		loginServer := b.login
		p.Add(pipeline.Authentication, pipeline.Component{
			Middlewares: []echo.MiddlewareFunc{sessionStore.Middleware()},
			Register: func(e *echo.Echo) error {
				loginServer.RegisterHandlers(e)
				return nil
			},
		})
		p.Add(pipeline.Authorization, pipeline.Component{
			Middlewares: []echo.MiddlewareFunc{policy.Middleware(sessionStore.RequireAuthenticated(loginServer.LoginPath()))},
		})
	}
	controllers := b.controllers
	p.Add(pipeline.Controllers, pipeline.Component{
		Register: func(e *echo.Echo) error {
			g := e.Group(APIPrefix)
			for _, register := range controllers {
				register(g, docs)
			}
			return nil
		},
	})
	pages := b.pages
	p.Add(pipeline.Pages, pipeline.Component{
		Register: func(e *echo.Echo) error {
			if len(pages) > 0 && b.sessions == nil {
				return fmt.Errorf("pages require authentication to be wired")
			}
			router := PageRouter{e: e, policy: policy}
			for _, register := range pages {
				register(router)
			}
			return nil
		},
	})
	p.Add(pipeline.CorrelationID, pipeline.Component{
		Middlewares: []echo.MiddlewareFunc{correlation.Middleware()},
	})
}

type noDocs struct{}

func (noDocs) Describe(string, string, string) {}

// staticFiles answers requests under StaticPath from root before the router runs. Paths that
// match no file continue down the pipeline unchanged.
func staticFiles(root string) echo.MiddlewareFunc {
	serve := middleware.StaticWithConfig(middleware.StaticConfig{Root: root})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requested := c.Request().URL.Path
			if !strings.HasPrefix(requested, StaticPath+"/") {
				return next(c)
			}
			c.Request().URL.Path = strings.TrimPrefix(requested, StaticPath)
			err := serve(func(c echo.Context) error {
				c.Request().URL.Path = requested
				return next(c)
			})(c)
			c.Request().URL.Path = requested
			return err
		}
	}
}
