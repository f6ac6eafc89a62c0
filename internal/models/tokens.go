package models

import "time"

// TokenSet holds the tokens issued by the identity provider for one login.
type TokenSet struct {
	ID           string    `json:"id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenURL     string    `json:"token_url,omitempty"`
}

func (t TokenSet) Expired() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(t.ExpiresAt)
}

func (t TokenSet) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == "" && t.IDToken == ""
}
