package models

import (
	"context"
	"time"
)

// Session represents the session data that is persisted in the DB. The cookie only holds
// the (signed) session ID.
type Session struct {
	ID string `json:"id"`
	// Principal is nil until the login flow completes
	Principal *Principal `json:"principal,omitempty"`
	Tokens    TokenSet   `json:"tokens"`
	// The url to redirect to when the login flow is complete
	RedirectURL string `json:"redirect_url,omitempty"`
	// The state value of a login flow that is in progress
	LoginState string `json:"login_state,omitempty"`
	// UTC timestamp for when the session was created
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IdleTTLSeconds int       `json:"idle_ttl_seconds"`
	MaxTTLSeconds  int       `json:"max_ttl_seconds"`
}

func (s *Session) Expired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

func (s *Session) IdleTTL() time.Duration {
	return time.Duration(s.IdleTTLSeconds) * time.Second
}

func (s *Session) MaxTTL() time.Duration {
	return time.Duration(s.MaxTTLSeconds) * time.Second
}

// Touch extends the expiry by the idle TTL, without going past the max TTL.
func (s *Session) Touch() {
	if s.IdleTTLSeconds <= 0 {
		return
	}
	newExpiresAt := time.Now().UTC().Add(s.IdleTTL())
	if s.MaxTTLSeconds > 0 {
		maxExpiresAt := s.CreatedAt.Add(s.MaxTTL())
		if newExpiresAt.After(maxExpiresAt) {
			newExpiresAt = maxExpiresAt
		}
	}
	if newExpiresAt.After(s.ExpiresAt) {
		s.ExpiresAt = newExpiresAt
	}
}

func (s *Session) IsAuthenticated() bool {
	return s != nil && s.Principal.IsAuthenticated()
}

// SaveTokens stores the principal and the tokens from a completed login in the session.
func (s *Session) SaveTokens(principal Principal, tokens TokenSet) {
	s.Principal = &principal
	s.Tokens = tokens
}

// SessionRepository persists sessions. GetSession returns portalerrors.ErrSessionNotFound
// for unknown IDs.
type SessionRepository interface {
	GetSession(ctx context.Context, sessionID string) (Session, error)
	SetSession(ctx context.Context, session Session) error
	RemoveSession(ctx context.Context, sessionID string) error
}
