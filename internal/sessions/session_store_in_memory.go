package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
)

// Expired sessions stay around for a minute so they are reported as expired, same as in redis.
const inMemoryExpiryLeeway time.Duration = time.Minute

// InMemorySessionRepository keeps sessions in process memory. It is used in tests and when
// redis is mocked in development.
type InMemorySessionRepository struct {
	lock     sync.Mutex
	sessions map[string]models.Session
}

func stale(session models.Session, now time.Time) bool {
	return now.After(session.ExpiresAt.Add(inMemoryExpiryLeeway))
}

func (r *InMemorySessionRepository) GetSession(ctx context.Context, id string) (models.Session, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	session, found := r.sessions[id]
	if found && stale(session, time.Now().UTC()) {
		delete(r.sessions, id)
		found = false
	}
	if !found {
		return models.Session{}, portalerrors.ErrSessionNotFound
	}
	return session, nil
}

// SetSession stores the session and drops every stale one.
func (r *InMemorySessionRepository) SetSession(ctx context.Context, session models.Session) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	now := time.Now().UTC()
	for id, existing := range r.sessions {
		if stale(existing, now) {
			delete(r.sessions, id)
		}
	}
	if !stale(session, now) {
		r.sessions[session.ID] = session
	}
	return nil
}

func (r *InMemorySessionRepository) RemoveSession(ctx context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *InMemorySessionRepository) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.sessions)
}

func NewInMemorySessionRepository() *InMemorySessionRepository {
	return &InMemorySessionRepository{sessions: map[string]models.Session{}}
}
