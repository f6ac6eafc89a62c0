package oidc

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/SwissDataScienceCenter/renku-portal/internal/correlation"
	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/zitadel/oidc/v2/pkg/client/rp"
	httphelper "github.com/zitadel/oidc/v2/pkg/http"
	"github.com/zitadel/oidc/v2/pkg/oidc"
)

// TokensHandler receives the principal and the tokens of a completed code exchange.
type TokensHandler func(principal models.Principal, tokens models.TokenSet) error

type Client struct {
	client       rp.RelyingParty
	config       *config.IdentityProviderConfig
	clientSecret config.RedactedString
	httpClient   *http.Client
	idGenerator  models.IDGenerator
}

func (c *Client) getCodeExchangeCallback(tokensHandler TokensHandler) func(
	w http.ResponseWriter,
	r *http.Request,
	tokens *oidc.Tokens[*oidc.IDTokenClaims],
	state string,
	client rp.RelyingParty,
) {
	return func(
		w http.ResponseWriter,
		r *http.Request,
		tokens *oidc.Tokens[*oidc.IDTokenClaims],
		state string,
		client rp.RelyingParty,
	) {
		requestID := correlation.FromContext(r.Context())
		principal, tokenSet, err := c.exchangeResult(tokens, client.OAuthConfig().Endpoint.TokenURL)
		if err != nil {
			slog.Error("processing the code exchange result failed", "error", err, "requestID", requestID)
			http.Error(w, "the login could not be completed", http.StatusInternalServerError)
			return
		}
		err = tokensHandler(principal, tokenSet)
		if err != nil {
			slog.Error("error when running tokens callback", "error", err, "requestID", requestID)
			http.Error(w, "the login could not be completed", http.StatusInternalServerError)
			return
		}
	}
}

// exchangeResult turns the tokens returned by the provider into the local principal and
// token set.
func (c *Client) exchangeResult(tokens *oidc.Tokens[*oidc.IDTokenClaims], tokenURL string) (models.Principal, models.TokenSet, error) {
	if tokens == nil || tokens.Token == nil {
		return models.Principal{}, models.TokenSet{}, fmt.Errorf("the provider did not return any tokens")
	}
	if tokens.IDTokenClaims == nil {
		return models.Principal{}, models.TokenSet{}, fmt.Errorf("the provider did not return an ID token")
	}
	principal := PrincipalFromClaims(tokens.IDTokenClaims, c.config.MapInboundClaims)
	if !principal.IsAuthenticated() {
		return models.Principal{}, models.TokenSet{}, fmt.Errorf("the ID token has no subject")
	}
	id, err := c.idGenerator.ID()
	if err != nil {
		return models.Principal{}, models.TokenSet{}, fmt.Errorf("generating token ID failed: %w", err)
	}
	expiresAt := tokens.Expiry
	if expiresAt.IsZero() {
		expiresAt = accessTokenExpiry(tokens.AccessToken)
	}
	tokenSet := models.TokenSet{
		ID:           id,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		TokenType:    tokens.TokenType,
		ExpiresAt:    expiresAt.UTC(),
		TokenURL:     tokenURL,
	}
	return principal, tokenSet, nil
}

// accessTokenExpiry reads the exp claim of a JWT access token without verifying it. The
// token was just received from the token endpoint over TLS, it is only inspected here.
func accessTokenExpiry(accessToken string) time.Time {
	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// AuthHandler returns a http handler that starts the login flow and redirects to the
// identity provider authorization page. The state value is kept in the session by the
// caller, the handler just forwards it.
func (c *Client) AuthHandler(state string) http.HandlerFunc {
	stateFunc := func() string {
		return state
	}
	return rp.AuthURLHandler(stateFunc, c.client)
}

// CodeExchangeHandler returns a http handler that receives the authorization code from the
// identity provider, swaps it for tokens and passes the result to the handler.
func (c *Client) CodeExchangeHandler(tokensHandler TokensHandler) http.HandlerFunc {
	return rp.CodeExchangeHandler(c.getCodeExchangeCallback(tokensHandler), c.client)
}

// Issuer returns the issuer announced by the provider discovery document.
func (c *Client) Issuer() string {
	return c.client.Issuer()
}

type ClientOption func(*Client) error

func WithConfig(identityConfig config.IdentityProviderConfig, clientSecret config.RedactedString) ClientOption {
	return func(c *Client) error {
		c.config = &identityConfig
		c.clientSecret = clientSecret
		return nil
	}
}

// WithHTTPClient replaces the retrying client used for discovery and the token endpoint.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		c.httpClient = httpClient
		return nil
	}
}

func WithIDGenerator(idGenerator models.IDGenerator) ClientOption {
	return func(c *Client) error {
		c.idGenerator = idGenerator
		return nil
	}
}

// NewRetryingHTTPClient returns the client used to talk to the identity provider. Discovery
// is retried so the portal can start while the provider is still coming up. instrument may
// wrap the transport, it can be nil.
func NewRetryingHTTPClient(instrument func(http.RoundTripper) http.RoundTripper) *http.Client {
	return newRetryableClient(instrument).StandardClient()
}

func newRetryableClient(instrument func(http.RoundTripper) http.RoundTripper) *retryablehttp.Client {
	retryingClient := retryablehttp.NewClient()
	retryingClient.RetryMax = 10
	retryingClient.RetryWaitMax = time.Second * 10
	retryingClient.RetryWaitMin = time.Second * 2
	retryingClient.Backoff = retryablehttp.LinearJitterBackoff
	retryingClient.Logger = slog.Default()
	var transport http.RoundTripper = correlation.NewTransport(retryingClient.HTTPClient.Transport)
	if instrument != nil {
		transport = instrument(transport)
	}
	retryingClient.HTTPClient.Transport = transport
	return retryingClient
}

func (c *Client) makeRelyingParty() (rp.RelyingParty, error) {
	cookieEncKey := []byte(c.config.CookieEncodingKey.Value())
	if len(cookieEncKey) == 0 {
		cookieEncKey = nil
	}
	cookieHandler := httphelper.NewCookieHandler([]byte(c.config.CookieHashKey.Value()), cookieEncKey)
	options := []rp.Option{
		rp.WithCookieHandler(cookieHandler),
		rp.WithHTTPClient(c.httpClient),
	}
	if c.config.UsePKCE {
		options = append(options, rp.WithPKCE(cookieHandler))
	}
	return rp.NewRelyingPartyOIDC(
		c.config.Authority.String(),
		c.config.ClientID,
		c.clientSecret.Value(),
		c.config.CallbackURL,
		c.config.AllScopes(),
		options...,
	)
}

// NewClient runs the provider discovery and returns a client for the authorization code flow.
func NewClient(options ...ClientOption) (*Client, error) {
	client := Client{idGenerator: models.TokenSetIDs}
	for _, opt := range options {
		err := opt(&client)
		if err != nil {
			return &Client{}, err
		}
	}
	if client.config == nil {
		return &Client{}, fmt.Errorf("OIDC client config is not initialized")
	}
	if client.config.Authority == nil {
		return &Client{}, fmt.Errorf("OIDC authority is not initialized")
	}
	if client.httpClient == nil {
		client.httpClient = NewRetryingHTTPClient(nil)
	}
	relyingParty, err := client.makeRelyingParty()
	if err != nil {
		return &Client{}, fmt.Errorf("OIDC discovery for %s failed: %w", client.config.Authority.String(), err)
	}
	client.client = relyingParty
	slog.Info("OIDC client ready", "issuer", relyingParty.Issuer(), "pkce", strconv.FormatBool(client.config.UsePKCE))
	return &client, nil
}
