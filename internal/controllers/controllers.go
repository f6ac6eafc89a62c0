// Package controllers holds the JSON API and the server rendered pages of the portal.
package controllers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/SwissDataScienceCenter/renku-portal/internal/correlation"
	"github.com/SwissDataScienceCenter/renku-portal/internal/host"
	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
	"github.com/SwissDataScienceCenter/renku-portal/internal/sessions"
	"github.com/SwissDataScienceCenter/renku-portal/internal/storage"
	"github.com/labstack/echo/v4"
)

// Pinger checks the stores of a request scope.
type Pinger interface {
	Ping(ctx context.Context) map[string]error
}

type ScopeLookup func(c echo.Context) (Pinger, error)

type API struct {
	sessions *sessions.SessionStore
	scopes   ScopeLookup
}

type APIOption func(*API)

func WithSessionStore(sessionStore *sessions.SessionStore) APIOption {
	return func(a *API) {
		a.sessions = sessionStore
	}
}

func WithScopeLookup(lookup ScopeLookup) APIOption {
	return func(a *API) {
		a.scopes = lookup
	}
}

func NewAPI(options ...APIOption) (*API, error) {
	a := API{scopes: portalScope}
	for _, opt := range options {
		opt(&a)
	}
	if a.sessions == nil {
		return &API{}, fmt.Errorf("session store not initialized")
	}
	return &a, nil
}

func portalScope(c echo.Context) (Pinger, error) {
	return storage.RequestScopeFromContext(c)
}

// Register adds the API routes, it is meant to be passed to host.Builder.AddControllers.
func (a *API) Register(g *echo.Group, docs host.Describer) {
	docs.Describe(http.MethodGet, host.APIPrefix+"/me", "The signed in user and their claims")
	g.GET("/me", a.GetMe)
	docs.Describe(http.MethodGet, host.APIPrefix+"/storage/health", "Reachability of the configured stores")
	g.GET("/storage/health", a.GetStorageHealth)
}

type meResponse struct {
	Subject string            `json:"subject"`
	Claims  map[string]string `json:"claims"`
}

// GetMe answers 401 instead of redirecting, API clients cannot follow a login challenge.
func (a *API) GetMe(c echo.Context) error {
	principal, err := a.sessions.Principal(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return c.JSON(http.StatusOK, meResponse{Subject: principal.Subject, Claims: principal.Claims})
}

type storeStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type storageHealthResponse struct {
	Stores []storeStatus `json:"stores"`
}

func (a *API) GetStorageHealth(c echo.Context) error {
	if _, err := a.sessions.Principal(c); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	scope, err := a.scopes(c)
	if errors.Is(err, portalerrors.ErrNoRequestScope) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage is not configured")
	}
	if err != nil {
		return err
	}
	results := scope.Ping(c.Request().Context())
	response := storageHealthResponse{Stores: make([]storeStatus, 0, len(results))}
	status := http.StatusOK
	for name, pingErr := range results {
		s := storeStatus{Name: name, OK: pingErr == nil}
		if pingErr != nil {
			status = http.StatusServiceUnavailable
			s.Error = pingErr.Error()
			slog.Warn("store is not reachable", "store", name, "error", pingErr, "requestID", correlation.ID(c))
		}
		response.Stores = append(response.Stores, s)
	}
	sort.Slice(response.Stores, func(i, j int) bool { return response.Stores[i].Name < response.Stores[j].Name })
	return c.JSON(status, response)
}

type Pages struct {
	appName   string
	logoutURL string
	version   string
	sessions  *sessions.SessionStore
}

func NewPages(appName, logoutURL, version string, sessionStore *sessions.SessionStore) (*Pages, error) {
	if sessionStore == nil {
		return &Pages{}, fmt.Errorf("session store not initialized")
	}
	return &Pages{appName: appName, logoutURL: logoutURL, version: version, sessions: sessionStore}, nil
}

// Register adds the pages, all of them need a signed in user.
func (p *Pages) Register(r host.PageRouter) {
	r.GET("/", p.GetHome)
}

func (p *Pages) GetHome(c echo.Context) error {
	principal, err := p.sessions.Principal(c)
	if err != nil {
		return err
	}
	claims := principal.Claims
	if claims == nil {
		claims = map[string]string{}
	}
	return c.Render(http.StatusOK, "index", map[string]any{
		"appName":   p.appName,
		"principal": models.Principal{Subject: principal.Subject, Claims: claims},
		"logoutURL": p.logoutURL,
		"version":   p.version,
	})
}
