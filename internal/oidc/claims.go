package oidc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
	"github.com/zitadel/oidc/v2/pkg/oidc"
)

const ClaimEmailVerified string = "email_verified"

// protocolClaims only matter for validating the ID token and are not copied to the principal.
var protocolClaims = map[string]struct{}{
	"iss":       {},
	"aud":       {},
	"azp":       {},
	"exp":       {},
	"iat":       {},
	"nbf":       {},
	"nonce":     {},
	"at_hash":   {},
	"c_hash":    {},
	"auth_time": {},
	"acr":       {},
	"amr":       {},
	"sid":       {},
}

// InboundClaimMap lists the short claim names that are renamed when inbound claim mapping
// is enabled.
var InboundClaimMap = map[string]string{
	"sub":         "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier",
	"email":       "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
	"name":        "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name",
	"given_name":  "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname",
	"family_name": "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname",
}

// PrincipalFromClaims builds the principal from the ID token. Claim names are kept exactly as
// the provider sends them unless mapInbound is set. email_verified is only present when the
// provider asserted it.
func PrincipalFromClaims(claims *oidc.IDTokenClaims, mapInbound bool) models.Principal {
	local := map[string]string{}
	for name, value := range claims.Claims {
		if _, isProtocol := protocolClaims[name]; isProtocol {
			continue
		}
		if str, ok := claimString(value); ok {
			local[name] = str
		}
	}
	setIfPresent(local, "sub", claims.Subject)
	setIfPresent(local, "name", claims.Name)
	setIfPresent(local, "given_name", claims.GivenName)
	setIfPresent(local, "family_name", claims.FamilyName)
	setIfPresent(local, "preferred_username", claims.PreferredUsername)
	setIfPresent(local, "email", claims.Email)
	if _, sent := local[ClaimEmailVerified]; !sent && bool(claims.EmailVerified) {
		local[ClaimEmailVerified] = "true"
	}
	if mapInbound {
		for short, long := range InboundClaimMap {
			if value, found := local[short]; found {
				delete(local, short)
				local[long] = value
			}
		}
	}
	return models.Principal{Subject: claims.Subject, Claims: local}
}

func setIfPresent(claims map[string]string, name, value string) {
	if value != "" {
		claims[name] = value
	}
}

func claimString(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v), true
		}
		return string(encoded), true
	}
}
