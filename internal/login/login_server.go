package login

import (
	"fmt"
	"net/http"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
	"github.com/SwissDataScienceCenter/renku-portal/internal/oidc"
	"github.com/SwissDataScienceCenter/renku-portal/internal/sessions"
	"github.com/labstack/echo/v4"
)

// AuthFlow is the part of the OIDC client the login routes need.
type AuthFlow interface {
	AuthHandler(state string) http.HandlerFunc
	CodeExchangeHandler(tokensHandler oidc.TokensHandler) http.HandlerFunc
}

type LoginServer struct {
	basePath       string
	authFlow       AuthFlow
	sessions       *sessions.SessionStore
	stateGenerator models.IDGenerator
}

// RegisterHandlers adds the challenge, callback and logout routes under the configured base path.
func (l *LoginServer) RegisterHandlers(server *echo.Echo, commonMiddlewares ...echo.MiddlewareFunc) {
	e := server.Group(l.basePath)
	e.Use(commonMiddlewares...)
	e.GET("/login", l.GetLogin, NoCaching)
	e.GET("/callback", l.GetCallback, NoCaching)
	e.GET("/logout", l.GetLogout, NoCaching)
}

// LoginPath is where unauthenticated page requests are sent.
func (l *LoginServer) LoginPath() string {
	return l.basePath + "/login"
}

type LoginServerOption func(*LoginServer) error

func WithConfig(identityConfig config.IdentityProviderConfig) LoginServerOption {
	return func(l *LoginServer) error {
		l.basePath = identityConfig.LoginBasePath()
		return nil
	}
}

func WithAuthFlow(authFlow AuthFlow) LoginServerOption {
	return func(l *LoginServer) error {
		l.authFlow = authFlow
		return nil
	}
}

func WithSessionStore(sessions *sessions.SessionStore) LoginServerOption {
	return func(l *LoginServer) error {
		l.sessions = sessions
		return nil
	}
}

// NewLoginServer creates a new LoginServer that initiates the login flow for users and
// handles the callbacks from the identity provider.
func NewLoginServer(options ...LoginServerOption) (*LoginServer, error) {
	server := LoginServer{stateGenerator: models.OpaqueIDs(24)}
	for _, opt := range options {
		err := opt(&server)
		if err != nil {
			return &LoginServer{}, err
		}
	}
	if server.basePath == "" {
		return &LoginServer{}, fmt.Errorf("login server config not provided")
	}
	if server.authFlow == nil {
		return &LoginServer{}, fmt.Errorf("OIDC client not initialized")
	}
	if server.sessions == nil {
		return &LoginServer{}, fmt.Errorf("session store not initialized")
	}
	return &server, nil
}

// noCacheHeaders keep the login redirects, which carry a fresh state, out of browser and
// proxy caches.
var noCacheHeaders = [...][2]string{
	{"Cache-Control", "no-cache, no-store, must-revalidate, max-age=0"},
	{"Pragma", "no-cache"},
	{"Expires", "Thu, 01 Jan 1970 00:00:00 GMT"},
	{"X-Accel-Expires", "0"},
}

func NoCaching(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Response().Header()
		for _, h := range noCacheHeaders {
			header.Set(h[0], h[1])
		}
		return next(c)
	}
}
