package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/apidocs"
	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/SwissDataScienceCenter/renku-portal/internal/correlation"
	"github.com/SwissDataScienceCenter/renku-portal/internal/login"
	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
	"github.com/SwissDataScienceCenter/renku-portal/internal/oidc"
	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
	"github.com/SwissDataScienceCenter/renku-portal/internal/sessions"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTelemetry struct {
	requests  atomic.Int32
	shutdowns atomic.Int32
}

func (f *fakeTelemetry) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			f.requests.Add(1)
			return next(c)
		}
	}
}

func (f *fakeTelemetry) Shutdown(ctx context.Context) error {
	f.shutdowns.Add(1)
	return nil
}

type fakeAuthFlow struct{}

func (fakeAuthFlow) AuthHandler(state string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://idp.example.org/authorize?state="+url.QueryEscape(state), http.StatusFound)
	}
}

func (fakeAuthFlow) CodeExchangeHandler(tokensHandler oidc.TokensHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := models.Principal{Subject: "user-1", Claims: map[string]string{"email": "user@example.org"}}
		if err := tokensHandler(principal, models.TokenSet{ID: "token-id", AccessToken: "access"}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func testConfig(env config.RunningEnvironment) config.Config {
	return config.Config{
		RunningEnvironment: env,
		AppName:            "portal-test",
		Server:             config.ServerConfig{Host: "127.0.0.1", Port: 0},
		IdentityProvider:   config.IdentityProviderConfig{LoginRoutesBasePath: "/auth"},
	}
}

type countingSessionRepository struct {
	*sessions.InMemorySessionRepository
	loads atomic.Int32
}

func (r *countingSessionRepository) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	r.loads.Add(1)
	return r.InMemorySessionRepository.GetSession(ctx, sessionID)
}

type countingStorage struct {
	scopes atomic.Int32
}

func (s *countingStorage) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s.scopes.Add(1)
			return next(c)
		}
	}
}

func newBuilder(t *testing.T, cfg config.Config) (*Builder, *fakeTelemetry) {
	return newBuilderWithRepository(t, cfg, sessions.NewInMemorySessionRepository())
}

func newBuilderWithRepository(t *testing.T, cfg config.Config, repo models.SessionRepository) (*Builder, *fakeTelemetry) {
	b, err := NewBuilder(WithConfig(cfg), WithShutdownTimeout(2*time.Second))
	require.NoError(t, err)
	tel := &fakeTelemetry{}
	require.NoError(t, b.AddTelemetry(tel))

	sessionStore, err := sessions.NewSessionStore(
		sessions.WithSessionRepository(repo),
		sessions.WithConfig(config.SessionConfig{IdleSessionTTLSeconds: 3600, MaxSessionTTLSeconds: 86400}),
		sessions.WithCookieKeys("OHfF0iquG8TNm8pmDCsLz1Yh6JkK1oxA", ""),
	)
	require.NoError(t, err)
	loginServer, err := login.NewLoginServer(
		login.WithConfig(cfg.IdentityProvider),
		login.WithAuthFlow(fakeAuthFlow{}),
		login.WithSessionStore(sessionStore),
	)
	require.NoError(t, err)
	require.NoError(t, b.AddAuthentication(sessionStore, loginServer))

	require.NoError(t, b.AddControllers(func(g *echo.Group, docs Describer) {
		docs.Describe(http.MethodGet, APIPrefix+"/me", "The signed in user")
		g.GET("/me", func(c echo.Context) error {
			principal, err := sessionStore.Principal(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			return c.JSON(http.StatusOK, principal)
		})
		g.GET("/boom", func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusTeapot, "boom")
		})
	}))
	require.NoError(t, b.AddPages(func(r PageRouter) {
		r.GET("/", func(c echo.Context) error {
			return c.String(http.StatusOK, "home")
		})
	}))
	return b, tel
}

func build(t *testing.T, env config.RunningEnvironment) (*Host, *fakeTelemetry) {
	b, tel := newBuilder(t, testConfig(env))
	h, err := b.Build()
	require.NoError(t, err)
	return h, tel
}

func serve(h *Host, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)
	return rec
}

func get(h *Host, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set(echo.HeaderXForwardedProto, "https")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	return serve(h, req)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessions.SessionCookieName {
			return cookie
		}
	}
	require.FailNow(t, "the response has no session cookie")
	return nil
}

func TestBuildRequiresTelemetry(t *testing.T) {
	b, err := NewBuilder(WithConfig(testConfig(config.Production)))
	require.NoError(t, err)

	h, err := b.Build()

	assert.ErrorIs(t, err, portalerrors.ErrTelemetryNotWired)
	assert.Nil(t, h)
	assert.Equal(t, Configuring, b.State())
}

func TestNewBuilderValidatesConfig(t *testing.T) {
	_, err := NewBuilder()
	assert.Error(t, err)
	_, err = NewBuilder(WithConfig(config.Config{RunningEnvironment: config.Production}))
	assert.ErrorIs(t, err, portalerrors.ErrMissingConfigSection)
}

func TestRegistrationAfterBuildFails(t *testing.T) {
	b, _ := newBuilder(t, testConfig(config.Production))
	_, err := b.Build()
	require.NoError(t, err)

	assert.ErrorIs(t, b.AddTelemetry(&fakeTelemetry{}), portalerrors.ErrHostBuilt)
	assert.ErrorIs(t, b.AddControllers(), portalerrors.ErrHostBuilt)
	assert.ErrorIs(t, b.AddPages(), portalerrors.ErrHostBuilt)
	assert.ErrorIs(t, b.Use(), portalerrors.ErrHostBuilt)
	_, err = b.Build()
	assert.ErrorIs(t, err, portalerrors.ErrHostBuilt)
}

func TestStateTransitions(t *testing.T) {
	prod, _ := build(t, config.Production)
	dev, _ := build(t, config.Development)

	assert.Equal(t, []State{Configuring, Building, PipelineAssembled}, prod.History())
	assert.Equal(t, []State{Configuring, Building, DevPipeline, PipelineAssembled}, dev.History())
	assert.Equal(t, PipelineAssembled, dev.State())
}

func TestDevelopmentOnlyComponents(t *testing.T) {
	tests := []struct {
		env         config.RunningEnvironment
		development bool
	}{
		{config.Development, true},
		{"development", true},
		{config.Staging, false},
		{config.Production, false},
		{"Testing", false},
	}
	for _, test := range tests {
		t.Run(string(test.env), func(t *testing.T) {
			h, _ := build(t, test.env)

			rec := get(h, "/health")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, test.development, rec.Header().Get("Strict-Transport-Security") != "")

			errorPage := get(h, ErrorPagePath)
			swagger := get(h, apidocs.SpecPath)
			if test.development {
				assert.Equal(t, http.StatusOK, errorPage.Code)
				assert.Equal(t, http.StatusOK, swagger.Code)
				assert.Contains(t, swagger.Body.String(), "/api/me")
			} else {
				assert.Equal(t, http.StatusNotFound, errorPage.Code)
				assert.Equal(t, http.StatusNotFound, swagger.Code)
			}
		})
	}
}

func TestDeveloperErrorPageShowsDetails(t *testing.T) {
	dev, _ := build(t, config.Development)
	prod, _ := build(t, config.Production)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	req.Header.Set(echo.HeaderXForwardedProto, "https")
	req.Header.Set(echo.HeaderAccept, echo.MIMETextHTML)
	req.Header.Set(correlation.HeaderCorrelationID, "corr-1")
	rec := serve(dev, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "/does-not-exist")
	assert.Contains(t, rec.Body.String(), "corr-1")

	rec = get(dev, "/api/boom")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
	assert.Contains(t, rec.Body.String(), `"details"`)

	rec = get(prod, "/api/boom")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"details"`)
}

func TestPagesRedirectControllersDoNot(t *testing.T) {
	h, _ := build(t, config.Production)

	page := get(h, "/")
	assert.Equal(t, http.StatusFound, page.Code)
	assert.Equal(t, "/auth/login?redirect_url=%2F", page.Header().Get(echo.HeaderLocation))

	controller := get(h, "/api/me")
	assert.Equal(t, http.StatusUnauthorized, controller.Code)
	assert.Empty(t, controller.Header().Get(echo.HeaderLocation))
}

func TestLoginThenServePages(t *testing.T) {
	h, tel := build(t, config.Production)

	loginRec := get(h, "/auth/login?redirect_url=%2F")
	require.Equal(t, http.StatusFound, loginRec.Code)
	location, err := url.Parse(loginRec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)

	callback := get(h, "/auth/callback?code=abc&state="+url.QueryEscape(location.Query().Get("state")), sessionCookie(t, loginRec))
	require.Equal(t, http.StatusFound, callback.Code)
	assert.Equal(t, "/", callback.Header().Get(echo.HeaderLocation))
	cookie := sessionCookie(t, callback)

	page := get(h, "/", cookie)
	assert.Equal(t, http.StatusOK, page.Code)
	assert.Equal(t, "home", page.Body.String())
	me := get(h, "/api/me", cookie)
	assert.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), "user-1")
	assert.NotEmpty(t, me.Header().Get(correlation.HeaderCorrelationID))
	assert.Positive(t, tel.requests.Load())
}

func TestStaticFilesSkipThePipeline(t *testing.T) {
	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "app.css"), []byte("body{}"), 0o600))
	cfg := testConfig(config.Production)
	cfg.Server.StaticDir = staticDir
	repo := &countingSessionRepository{InMemorySessionRepository: sessions.NewInMemorySessionRepository()}
	b, tel := newBuilderWithRepository(t, cfg, repo)
	storage := &countingStorage{}
	require.NoError(t, b.AddStorage(storage))
	h, err := b.Build()
	require.NoError(t, err)
	cookie := sessionCookie(t, get(h, "/auth/login?redirect_url=%2F"))
	requests, scopes, loads := tel.requests.Load(), storage.scopes.Load(), repo.loads.Load()

	rec := get(h, StaticPath+"/app.css", cookie)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Empty(t, rec.Header().Get(correlation.HeaderCorrelationID))
	assert.Equal(t, requests, tel.requests.Load())
	assert.Equal(t, scopes, storage.scopes.Load())
	assert.Equal(t, loads, repo.loads.Load())

	missing := get(h, StaticPath+"/missing.css", cookie)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, scopes+1, storage.scopes.Load())
	assert.Equal(t, loads+1, repo.loads.Load())
}

func TestHTTPSRedirect(t *testing.T) {
	cfg := testConfig(config.Production)
	cfg.Server.HTTPSRedirect = true
	b, _ := newBuilder(t, cfg)
	h, err := b.Build()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Host = "portal.example.org"
	rec := serve(h, req)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://portal.example.org/api/me", rec.Header().Get(echo.HeaderLocation))

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(h, "/api/me")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAmbientMiddlewaresWrapThePipeline(t *testing.T) {
	b, _ := newBuilder(t, testConfig(config.Production))
	var seen []string
	require.NoError(t, b.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			seen = append(seen, c.Request().URL.Path)
			return next(c)
		}
	}))
	h, err := b.Build()
	require.NoError(t, err)

	get(h, "/unknown")
	get(h, "/health")

	assert.Equal(t, []string{"/unknown", "/health"}, seen)
}

func TestVersionEndpoint(t *testing.T) {
	h, _ := build(t, config.Production)

	rec := get(h, VersionPath)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)
}

func TestRunStopsOnCancel(t *testing.T) {
	h, tel := build(t, config.Production)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- h.Run(ctx) }()
	require.Eventually(t, func() bool { return h.ListenerAddr() != "" }, 5*time.Second, 10*time.Millisecond)
	res, err := http.Get("http://" + h.ListenerAddr() + HealthPath)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, Serving, h.State())
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "the host did not stop")
	}
	assert.Equal(t, Stopped, h.State())
	assert.Equal(t, int32(1), tel.shutdowns.Load())
	assert.Error(t, h.Run(context.Background()))
}

func TestPagesNeedAuthentication(t *testing.T) {
	b, err := NewBuilder(WithConfig(testConfig(config.Production)))
	require.NoError(t, err)
	require.NoError(t, b.AddTelemetry(&fakeTelemetry{}))
	require.NoError(t, b.AddPages(func(r PageRouter) {
		r.GET("/", func(c echo.Context) error { return nil })
	}))

	_, err = b.Build()

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "authentication"))
}
