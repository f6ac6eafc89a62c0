package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/SwissDataScienceCenter/renku-portal/internal/correlation"
	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
	"github.com/gorilla/securecookie"
	"github.com/labstack/echo/v4"
)

// SessionStore is the default authentication scheme of the portal: a server-side session
// whose signed ID travels in a cookie.
type SessionStore struct {
	cookieTemplate func() http.Cookie
	cookieHandler  *securecookie.SecureCookie
	lifetime       *lifetime
	sessionRepo    models.SessionRepository
}

// Middleware loads the session (if any) into the request context and saves it after the
// handler ran. It never creates a session and never rejects a request, that is left to
// RequireAuthenticated and to the login routes.
func (sessions *SessionStore) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session, loadErr := sessions.Get(c)
			if loadErr != nil && !errors.Is(loadErr, portalerrors.ErrSessionNotFound) && !errors.Is(loadErr, portalerrors.ErrSessionExpired) {
				slog.Info(
					"SESSION MIDDLEWARE",
					"message",
					"could not load session",
					"error",
					loadErr,
					"requestID",
					correlation.ID(c),
				)
			}
			if loadErr == nil {
				slog.Debug("SESSION MIDDLEWARE", "message", "session loaded", "sessionExpiresAt", session.ExpiresAt, "requestID", correlation.ID(c))
			}
			err := next(c)
			saveErr := sessions.Save(c)
			if saveErr != nil && !errors.Is(saveErr, portalerrors.ErrSessionNotFound) && !errors.Is(saveErr, portalerrors.ErrSessionExpired) {
				slog.Info(
					"SESSION MIDDLEWARE",
					"message",
					"could not save session",
					"error",
					saveErr,
					"requestID",
					correlation.ID(c),
				)
			}
			return err
		}
	}
}

// RequireAuthenticated redirects requests without an authenticated session to the login
// challenge. The original path is passed along so the user comes back to it afterwards.
func (sessions *SessionStore) RequireAuthenticated(loginPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session, err := sessions.getFromContext(c)
			if err == nil && session.IsAuthenticated() {
				return next(c)
			}
			query := url.Values{}
			query.Set("redirect_url", c.Request().URL.RequestURI())
			return c.Redirect(http.StatusFound, loginPath+"?"+query.Encode())
		}
	}
}

// Principal returns the authenticated principal of the request.
func (sessions *SessionStore) Principal(c echo.Context) (*models.Principal, error) {
	session, err := sessions.getFromContext(c)
	if err != nil {
		return nil, portalerrors.ErrNotAuthenticated
	}
	if !session.IsAuthenticated() {
		return nil, portalerrors.ErrNotAuthenticated
	}
	return session.Principal, nil
}

// getFromContext retrieves a session from the current context
func (sessions *SessionStore) getFromContext(c echo.Context) (*models.Session, error) {
	sessionRaw := c.Get(SessionCtxKey)
	if sessionRaw == nil {
		return nil, portalerrors.ErrSessionNotFound
	}
	session, ok := sessionRaw.(*models.Session)
	if !ok {
		return nil, portalerrors.ErrSessionParse
	}
	if session == nil || session.ID == "" {
		return nil, portalerrors.ErrSessionNotFound
	}
	if session.Expired() {
		return nil, portalerrors.ErrSessionExpired
	}
	return session, nil
}

func (sessions *SessionStore) sessionIDFromCookie(c echo.Context) (string, error) {
	cookie, err := c.Cookie(SessionCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", portalerrors.ErrSessionNotFound
		}
		return "", err
	}
	var sessionID string
	err = sessions.cookieHandler.Decode(SessionCookieName, cookie.Value, &sessionID)
	if err != nil {
		slog.Debug("SESSION MIDDLEWARE", "message", "invalid session cookie", "error", err, "requestID", correlation.ID(c))
		return "", portalerrors.ErrSessionNotFound
	}
	return sessionID, nil
}

// Get returns the session of the request, from the context if it was already loaded or
// from the repository otherwise. A session loaded from the repository is put in the context.
func (sessions *SessionStore) Get(c echo.Context) (*models.Session, error) {
	session, err := sessions.getFromContext(c)
	if err == nil {
		return session, nil
	}
	sessionID, err := sessions.sessionIDFromCookie(c)
	if err != nil {
		return nil, err
	}
	sessionFromStore, err := sessions.sessionRepo.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return nil, err
	}
	if sessionFromStore.Expired() {
		return nil, portalerrors.ErrSessionExpired
	}
	sessionFromStore.Touch()
	c.Set(SessionCtxKey, &sessionFromStore)
	return &sessionFromStore, nil
}

// GetOrCreate returns the current session or starts a new, anonymous one.
func (sessions *SessionStore) GetOrCreate(c echo.Context) (*models.Session, error) {
	session, err := sessions.Get(c)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, portalerrors.ErrSessionNotFound) && !errors.Is(err, portalerrors.ErrSessionExpired) {
		return nil, err
	}
	return sessions.Create(c)
}

// Create will create a new session and set its cookie.
func (sessions *SessionStore) Create(c echo.Context) (*models.Session, error) {
	session, err := sessions.lifetime.NewSession()
	if err != nil {
		return nil, err
	}
	cookie, err := sessions.cookie(session)
	if err != nil {
		return nil, err
	}
	c.SetCookie(&cookie)
	c.Set(SessionCtxKey, &session)
	return &session, nil
}

// Renew replaces the session of the request with a new, empty one under a fresh ID and
// removes the previous session from the repository.
func (sessions *SessionStore) Renew(c echo.Context) (*models.Session, error) {
	previous, err := sessions.getFromContext(c)
	if err != nil && !errors.Is(err, portalerrors.ErrSessionNotFound) && !errors.Is(err, portalerrors.ErrSessionExpired) {
		return nil, err
	}
	session, err := sessions.Create(c)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		err = sessions.sessionRepo.RemoveSession(c.Request().Context(), previous.ID)
		if err != nil {
			return nil, err
		}
	}
	return session, nil
}

func (sessions *SessionStore) Save(c echo.Context) error {
	session, err := sessions.getFromContext(c)
	if err != nil {
		return err
	}
	return sessions.sessionRepo.SetSession(c.Request().Context(), *session)
}

// Delete removes the session from the repository and clears the cookie.
func (sessions *SessionStore) Delete(c echo.Context) error {
	sessionID, err := sessions.sessionIDFromCookie(c)
	if err != nil && !errors.Is(err, portalerrors.ErrSessionNotFound) {
		return err
	}
	newCookie := sessions.cookieTemplate()
	newCookie.MaxAge = -1
	c.SetCookie(&newCookie)
	c.Set(SessionCtxKey, nil)
	if sessionID == "" {
		return nil
	}
	return sessions.sessionRepo.RemoveSession(c.Request().Context(), sessionID)
}

func (sessions *SessionStore) cookie(session models.Session) (http.Cookie, error) {
	cookie := sessions.cookieTemplate()
	value, err := sessions.cookieHandler.Encode(SessionCookieName, session.ID)
	if err != nil {
		return http.Cookie{}, err
	}
	cookie.Value = value
	cookie.Expires = session.CreatedAt.Add(session.MaxTTL())
	if session.MaxTTLSeconds <= 0 {
		cookie.Expires = session.ExpiresAt
	}
	return cookie, nil
}

// SafeRedirectURL only lets local paths through so the login flow cannot be used as an open redirect.
func SafeRedirectURL(raw string, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return fallback
	}
	return raw
}

type SessionStoreOption func(*SessionStore) error

func WithSessionRepository(repo models.SessionRepository) SessionStoreOption {
	return func(sessions *SessionStore) error {
		sessions.sessionRepo = repo
		return nil
	}
}

func WithConfig(c config.SessionConfig) SessionStoreOption {
	return func(sessions *SessionStore) error {
		sessions.lifetime = newLifetime(c)
		return nil
	}
}

// WithCookieKeys signs (and optionally encrypts) the session cookie.
func WithCookieKeys(hashKey, encodingKey config.RedactedString) SessionStoreOption {
	return func(sessions *SessionStore) error {
		if len(hashKey) == 0 {
			return fmt.Errorf("a cookie hash key is required to sign the session cookie")
		}
		var encKey []byte
		if len(encodingKey) > 0 {
			encKey = []byte(encodingKey.Value())
		}
		sessions.cookieHandler = securecookie.New([]byte(hashKey.Value()), encKey)
		return nil
	}
}

func WithCookieTemplate(template func() http.Cookie) SessionStoreOption {
	return func(sessions *SessionStore) error {
		sessions.cookieTemplate = template
		return nil
	}
}

func NewSessionStore(options ...SessionStoreOption) (*SessionStore, error) {
	sessions := SessionStore{
		cookieTemplate: func() http.Cookie {
			return http.Cookie{
				Name:     SessionCookieName,
				Path:     "/",
				Secure:   true,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode}
		},
	}
	for _, opt := range options {
		err := opt(&sessions)
		if err != nil {
			return &SessionStore{}, err
		}
	}
	if sessions.cookieTemplate == nil {
		return &SessionStore{}, fmt.Errorf("cookie template is not initialized")
	}
	if sessions.cookieHandler == nil {
		return &SessionStore{}, fmt.Errorf("cookie handler is not initialized")
	}
	if sessions.lifetime == nil {
		return &SessionStore{}, fmt.Errorf("session lifetime is not initialized")
	}
	if sessions.sessionRepo == nil {
		return &SessionStore{}, fmt.Errorf("session repository is not initialized")
	}
	return &sessions, nil
}
