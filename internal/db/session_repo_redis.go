package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix string = "portal:session"
	// sessions are kept a bit longer than their expiry so that an expired session can
	// still be recognized as such instead of looking like it never existed
	sessionExpiresAtLeeway time.Duration = time.Minute
)

func (r RedisAdapter) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	raw, err := r.rdb.Get(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Session{}, portalerrors.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	var session models.Session
	err = json.Unmarshal([]byte(raw), &session)
	if err != nil {
		return models.Session{}, err
	}
	if r.sealer != nil {
		session.Tokens, err = r.sealer.Open(session.ID, session.Tokens)
		if err != nil {
			return models.Session{}, err
		}
	}
	return session, nil
}

func (r RedisAdapter) SetSession(ctx context.Context, session models.Session) error {
	if r.sealer != nil {
		sealed, err := r.sealer.Seal(session.ID, session.Tokens)
		if err != nil {
			return err
		}
		session.Tokens = sealed
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ttl := time.Until(session.ExpiresAt.Add(sessionExpiresAtLeeway))
	if ttl <= 0 {
		return r.RemoveSession(ctx, session.ID)
	}
	return r.rdb.Set(ctx, r.sessionKey(session.ID), string(raw), ttl).Err()
}

func (r RedisAdapter) RemoveSession(ctx context.Context, sessionID string) error {
	return r.rdb.Del(
		ctx,
		r.sessionKey(sessionID),
	).Err()
}

func (RedisAdapter) sessionKey(sessionID string) string {
	return sessionPrefix + ":" + sessionID
}
