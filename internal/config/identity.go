package config

import (
	"fmt"
	"net/url"

	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
)

// Scopes that are always requested from the identity provider. Extra scopes from the
// configuration are appended, they never replace these.
var RequiredScopes = []string{"openid", "profile", "verification"}

type IdentityProviderConfig struct {
	Authority        *url.URL
	ClientID         string
	ClientSecretFile string
	CallbackURL      string
	Scopes           []string
	UsePKCE          bool
	// MapInboundClaims renames well-known claims (sub, email, ...) to their long URI form.
	// When false the claim names stay exactly as the provider sends them.
	MapInboundClaims    bool
	CookieEncodingKey   RedactedString
	CookieHashKey       RedactedString
	LoginRoutesBasePath string
}

func (c *IdentityProviderConfig) Validate(e RunningEnvironment) error {
	if c.Authority == nil {
		return fmt.Errorf("%w: identityProvider.authority", portalerrors.ErrMissingConfigSection)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%w: identityProvider.clientID", portalerrors.ErrMissingConfigSection)
	}
	if c.ClientSecretFile == "" {
		return fmt.Errorf("%w: identityProvider.clientSecretFile", portalerrors.ErrMissingConfigSection)
	}
	if c.CallbackURL == "" {
		return fmt.Errorf("%w: identityProvider.callbackURL", portalerrors.ErrMissingConfigSection)
	}
	if !e.IsDevelopment() && c.Authority.Scheme != "https" {
		return fmt.Errorf("the identity provider authority has to use https outside of development, got %q", c.Authority.Scheme)
	}
	encKeyLen := len(c.CookieEncodingKey)
	if encKeyLen > 0 && encKeyLen != 16 && encKeyLen != 32 {
		return fmt.Errorf("the cookie encoding key has to be 16 or 32 bytes long, the provided one is %d long", encKeyLen)
	}
	if len(c.CookieHashKey) != 32 {
		return fmt.Errorf("the cookie hash key has to be 32 bytes long, the provided one is %d long", len(c.CookieHashKey))
	}
	return nil
}

// AllScopes returns the required scopes followed by any configured extras, without duplicates.
func (c IdentityProviderConfig) AllScopes() []string {
	output := append([]string{}, RequiredScopes...)
	seen := map[string]bool{}
	for _, scope := range output {
		seen[scope] = true
	}
	for _, scope := range c.Scopes {
		if scope == "" || seen[scope] {
			continue
		}
		seen[scope] = true
		output = append(output, scope)
	}
	return output
}

func (c IdentityProviderConfig) LoginBasePath() string {
	if c.LoginRoutesBasePath == "" {
		return "/auth"
	}
	return c.LoginRoutesBasePath
}
