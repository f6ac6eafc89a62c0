package sessions

import (
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
)

const (
	// the UI reads the cookie name, renaming it signs everybody out
	SessionCookieName = "_portal_session"
	SessionCtxKey     = "portal_session"
	sessionIDBytes    = 24
)

// lifetime starts new sessions with the configured idle and absolute TTLs.
type lifetime struct {
	idleTTLSeconds int
	maxTTLSeconds  int
	ids            models.IDGenerator
}

func newLifetime(c config.SessionConfig) *lifetime {
	return &lifetime{
		idleTTLSeconds: c.IdleSessionTTLSeconds,
		maxTTLSeconds:  c.MaxSessionTTLSeconds,
		ids:            models.OpaqueIDs(sessionIDBytes),
	}
}

func (l *lifetime) NewSession() (models.Session, error) {
	id, err := l.ids.ID()
	if err != nil {
		return models.Session{}, err
	}
	now := time.Now().UTC()
	session := models.Session{
		ID:             id,
		CreatedAt:      now,
		ExpiresAt:      now,
		IdleTTLSeconds: l.idleTTLSeconds,
		MaxTTLSeconds:  l.maxTTLSeconds,
	}
	session.Touch()
	return session, nil
}
