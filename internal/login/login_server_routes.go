package login

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/SwissDataScienceCenter/renku-portal/internal/correlation"
	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
	"github.com/SwissDataScienceCenter/renku-portal/internal/sessions"
	"github.com/labstack/echo/v4"
)

const defaultRedirectURL string = "/"

// GetLogin starts the authorization code flow. The state and the page to return to are
// kept in the session.
func (l *LoginServer) GetLogin(c echo.Context) error {
	session, err := l.sessions.GetOrCreate(c)
	if err != nil {
		return err
	}
	state, err := l.stateGenerator.ID()
	if err != nil {
		return err
	}
	session.LoginState = state
	session.RedirectURL = sessions.SafeRedirectURL(c.QueryParam("redirect_url"), defaultRedirectURL)
	err = l.sessions.Save(c)
	if err != nil {
		return err
	}
	return echo.WrapHandler(l.authFlow.AuthHandler(state))(c)
}

// GetCallback exchanges the authorization code and stores the principal and the tokens in
// the session. Errors from the exchange itself are answered by the OIDC handler.
func (l *LoginServer) GetCallback(c echo.Context) error {
	state := c.QueryParam("state")
	if state == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "a state parameter is required")
	}
	session, err := l.sessions.Get(c)
	if err != nil {
		if errors.Is(err, portalerrors.ErrSessionNotFound) || errors.Is(err, portalerrors.ErrSessionExpired) {
			return echo.NewHTTPError(http.StatusBadRequest, "the login session is missing or expired")
		}
		return err
	}
	if session.LoginState == "" || state != session.LoginState {
		return echo.NewHTTPError(http.StatusBadRequest, "the state does not match the login session")
	}
	exchanged := false
	redirectURL := sessions.SafeRedirectURL(session.RedirectURL, defaultRedirectURL)
	tokensHandler := func(principal models.Principal, tokens models.TokenSet) error {
		authenticated, err := l.sessions.Renew(c)
		if err != nil {
			return err
		}
		authenticated.SaveTokens(principal, tokens)
		if err := l.sessions.Save(c); err != nil {
			return err
		}
		exchanged = true
		return nil
	}
	err = echo.WrapHandler(l.authFlow.CodeExchangeHandler(tokensHandler))(c)
	if err != nil {
		slog.Error("code exchange handler failed", "error", err, "requestID", correlation.ID(c))
		return err
	}
	if !exchanged {
		return nil
	}
	slog.Info("login completed", "requestID", correlation.ID(c), "appRedirectURL", redirectURL)
	return c.Redirect(http.StatusFound, redirectURL)
}

// GetLogout removes the session from the store, clears the cookie and redirects.
func (l *LoginServer) GetLogout(c echo.Context) error {
	err := l.sessions.Delete(c)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, sessions.SafeRedirectURL(c.QueryParam("redirect_url"), defaultRedirectURL))
}
