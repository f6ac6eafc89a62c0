package sessions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHashKey config.RedactedString = "OHfF0iquG8TNm8pmDCsLz1Yh6JkK1oxA"

func setupSessionStore(t *testing.T, options ...SessionStoreOption) (*SessionStore, *InMemorySessionRepository) {
	repo := NewInMemorySessionRepository()
	sessionStoreOptions := []SessionStoreOption{
		WithSessionRepository(repo),
		WithConfig(config.SessionConfig{IdleSessionTTLSeconds: 3600, MaxSessionTTLSeconds: 86400}),
		WithCookieKeys(testHashKey, ""),
	}
	sessionStore, err := NewSessionStore(append(sessionStoreOptions, options...)...)
	require.NoError(t, err)
	return sessionStore, repo
}

func setupEchoContext(req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookieName {
			return cookie
		}
	}
	require.FailNow(t, "no session cookie in the response")
	return nil
}

func TestCookieIsSigned(t *testing.T) {
	sessionStore, _ := setupSessionStore(t)
	session, err := sessionStore.lifetime.NewSession()
	require.NoError(t, err)

	cookie, err := sessionStore.cookie(session)

	require.NoError(t, err)
	assert.Equal(t, SessionCookieName, cookie.Name)
	assert.NotEqual(t, session.ID, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
}

func TestCreateThenLoadFromCookie(t *testing.T) {
	sessionStore, repo := setupSessionStore(t)
	c, rec := setupEchoContext(httptest.NewRequest(http.MethodGet, "/", nil))
	session, err := sessionStore.Create(c)
	require.NoError(t, err)
	require.NoError(t, sessionStore.Save(c))
	cookie := sessionCookie(t, rec)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	c2, _ := setupEchoContext(req)
	loaded, err := sessionStore.Get(c2)

	require.NoError(t, err)
	assert.Equal(t, session.ID, loaded.ID)
	_, err = repo.GetSession(context.Background(), session.ID)
	assert.NoError(t, err)
}

func TestTamperedCookieIsIgnored(t *testing.T) {
	sessionStore, repo := setupSessionStore(t)
	require.NoError(t, repo.SetSession(context.Background(), models.Session{ID: "known", ExpiresAt: time.Now().Add(time.Hour)}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "known"})
	c, _ := setupEchoContext(req)

	_, err := sessionStore.Get(c)

	assert.ErrorIs(t, err, portalerrors.ErrSessionNotFound)
}

func TestExpiredSession(t *testing.T) {
	sessionStore, repo := setupSessionStore(t)
	session := models.Session{ID: "expired", ExpiresAt: time.Now().Add(-10 * time.Second)}
	require.NoError(t, repo.SetSession(context.Background(), session))
	cookie, err := sessionStore.cookie(session)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&cookie)
	c, _ := setupEchoContext(req)

	_, err = sessionStore.Get(c)

	assert.ErrorIs(t, err, portalerrors.ErrSessionExpired)
}

func TestRequireAuthenticatedRedirects(t *testing.T) {
	sessionStore, _ := setupSessionStore(t)
	e := echo.New()
	e.GET("/projects", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, sessionStore.Middleware(), sessionStore.RequireAuthenticated("/auth/login"))
	req := httptest.NewRequest(http.MethodGet, "/projects?page=2", nil)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?redirect_url=%2Fprojects%3Fpage%3D2", rec.Header().Get(echo.HeaderLocation))
}

func TestRequireAuthenticatedLetsAuthenticatedThrough(t *testing.T) {
	sessionStore, repo := setupSessionStore(t)
	session, err := sessionStore.lifetime.NewSession()
	require.NoError(t, err)
	session.SaveTokens(models.Principal{Subject: "user-1"}, models.TokenSet{AccessToken: "token"})
	require.NoError(t, repo.SetSession(context.Background(), session))
	cookie, err := sessionStore.cookie(session)
	require.NoError(t, err)
	e := echo.New()
	e.GET("/projects", func(c echo.Context) error {
		principal, err := sessionStore.Principal(c)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, principal.Subject)
	}, sessionStore.Middleware(), sessionStore.RequireAuthenticated("/auth/login"))
	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.AddCookie(&cookie)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Body.String())
}

func TestPrincipalWithoutSession(t *testing.T) {
	sessionStore, _ := setupSessionStore(t)
	c, _ := setupEchoContext(httptest.NewRequest(http.MethodGet, "/", nil))

	_, err := sessionStore.Principal(c)

	assert.ErrorIs(t, err, portalerrors.ErrNotAuthenticated)
}

func TestDelete(t *testing.T) {
	sessionStore, repo := setupSessionStore(t)
	c, rec := setupEchoContext(httptest.NewRequest(http.MethodGet, "/", nil))
	session, err := sessionStore.Create(c)
	require.NoError(t, err)
	require.NoError(t, sessionStore.Save(c))
	cookie := sessionCookie(t, rec)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	c2, rec2 := setupEchoContext(req)
	err = sessionStore.Delete(c2)

	require.NoError(t, err)
	_, err = repo.GetSession(context.Background(), session.ID)
	assert.ErrorIs(t, err, portalerrors.ErrSessionNotFound)
	assert.Equal(t, -1, sessionCookie(t, rec2).MaxAge)
}

func TestRenew(t *testing.T) {
	sessionStore, repo := setupSessionStore(t)
	c, rec := setupEchoContext(httptest.NewRequest(http.MethodGet, "/", nil))
	previous, err := sessionStore.Create(c)
	require.NoError(t, err)
	require.NoError(t, sessionStore.Save(c))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sessionCookie(t, rec))
	c2, rec2 := setupEchoContext(req)
	_, err = sessionStore.Get(c2)
	require.NoError(t, err)
	renewed, err := sessionStore.Renew(c2)
	require.NoError(t, err)
	require.NoError(t, sessionStore.Save(c2))

	assert.NotEqual(t, previous.ID, renewed.ID)
	_, err = repo.GetSession(context.Background(), previous.ID)
	assert.ErrorIs(t, err, portalerrors.ErrSessionNotFound)
	_, err = repo.GetSession(context.Background(), renewed.ID)
	assert.NoError(t, err)
	assert.NotEqual(t, sessionCookie(t, rec).Value, sessionCookie(t, rec2).Value)
}

func TestRenewWithoutSession(t *testing.T) {
	sessionStore, repo := setupSessionStore(t)
	c, rec := setupEchoContext(httptest.NewRequest(http.MethodGet, "/", nil))

	renewed, err := sessionStore.Renew(c)

	require.NoError(t, err)
	require.NoError(t, sessionStore.Save(c))
	assert.Equal(t, 1, repo.Len())
	assert.NotEmpty(t, sessionCookie(t, rec).Value)
	assert.NotEmpty(t, renewed.ID)
}

func TestGetOrCreate(t *testing.T) {
	sessionStore, _ := setupSessionStore(t)
	c, _ := setupEchoContext(httptest.NewRequest(http.MethodGet, "/", nil))

	first, err := sessionStore.GetOrCreate(c)
	require.NoError(t, err)
	second, err := sessionStore.GetOrCreate(c)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestNewSessionStoreRequiresCookieKeys(t *testing.T) {
	_, err := NewSessionStore(
		WithSessionRepository(NewInMemorySessionRepository()),
		WithConfig(config.SessionConfig{IdleSessionTTLSeconds: 10}),
	)

	assert.ErrorContains(t, err, "cookie handler is not initialized")
}

func TestSafeRedirectURL(t *testing.T) {
	assert.Equal(t, "/projects?a=b", SafeRedirectURL("/projects?a=b", "/"))
	assert.Equal(t, "/", SafeRedirectURL("https://evil.example.org", "/"))
	assert.Equal(t, "/", SafeRedirectURL("//evil.example.org", "/"))
	assert.Equal(t, "/", SafeRedirectURL("", "/"))
}
