package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/SwissDataScienceCenter/renku-portal/internal/models"
	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() models.Session {
	now := time.Now().UTC()
	return models.Session{
		ID:        "session-1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		Principal: &models.Principal{
			Subject: "user-1",
			Claims:  map[string]string{"sub": "user-1", "email_verified": "true"},
		},
		Tokens: models.TokenSet{
			ID:          "tokens-1",
			AccessToken: "access-token",
			IDToken:     "id-token",
			ExpiresAt:   now.Add(5 * time.Minute),
		},
		IdleTTLSeconds: 3600,
	}
}

func TestSessionRepository(t *testing.T) {
	testCases := []struct {
		Name    string
		Options []RedisAdapterOption
	}{
		{Name: "plain", Options: []RedisAdapterOption{WithRedisConfig(config.RedisConfig{Type: config.DBTypeRedisMock})}},
		{Name: "encrypted", Options: []RedisAdapterOption{
			WithRedisConfig(config.RedisConfig{Type: config.DBTypeRedisMock}),
			WithEncryption("eBfR0WfHBTrRrVdLpsTYmWtPwJfQqOEq"),
		}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			ctx := context.Background()
			adapter, err := NewRedisAdapter(testCase.Options...)
			require.NoError(t, err)
			session := newTestSession()

			err = adapter.SetSession(ctx, session)
			require.NoError(t, err)
			stored, err := adapter.GetSession(ctx, session.ID)
			require.NoError(t, err)

			assert.Equal(t, session.ID, stored.ID)
			assert.Equal(t, session.Principal, stored.Principal)
			assert.Equal(t, session.Tokens.AccessToken, stored.Tokens.AccessToken)
			assert.True(t, session.ExpiresAt.Equal(stored.ExpiresAt))

			err = adapter.RemoveSession(ctx, session.ID)
			require.NoError(t, err)
			_, err = adapter.GetSession(ctx, session.ID)
			assert.ErrorIs(t, err, portalerrors.ErrSessionNotFound)
		})
	}
}

func TestEncryptedSessionIsNotStoredInPlainText(t *testing.T) {
	ctx := context.Background()
	client := NewMockRedisClient()
	adapter, err := NewRedisAdapter(WithRedisClient(client), WithEncryption("eBfR0WfHBTrRrVdLpsTYmWtPwJfQqOEq"))
	require.NoError(t, err)
	session := newTestSession()

	err = adapter.SetSession(ctx, session)
	require.NoError(t, err)
	raw, err := client.Get(ctx, adapter.sessionKey(session.ID)).Result()
	require.NoError(t, err)

	assert.NotContains(t, raw, "access-token")
}

func TestSettingExpiredSessionRemovesIt(t *testing.T) {
	ctx := context.Background()
	adapter, err := NewRedisAdapter(WithRedisClient(NewMockRedisClient()))
	require.NoError(t, err)
	session := newTestSession()
	require.NoError(t, adapter.SetSession(ctx, session))

	session.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	err = adapter.SetSession(ctx, session)
	require.NoError(t, err)

	_, err = adapter.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, portalerrors.ErrSessionNotFound)
}

func TestAdapterRequiresClient(t *testing.T) {
	_, err := NewRedisAdapter()
	assert.Error(t, err)

	_, err = NewRedisAdapter(WithRedisConfig(config.RedisConfig{Type: "unknown"}))
	assert.Error(t, err)
}

func TestRedisConfigClients(t *testing.T) {
	_, err := NewRedisAdapter(WithRedisConfig(config.RedisConfig{Type: config.DBTypeRedis}))
	assert.Error(t, err)

	single, err := NewRedisAdapter(WithRedisConfig(config.RedisConfig{
		Type:      config.DBTypeRedis,
		Addresses: []string{"127.0.0.1:6379", "127.0.0.1:6380"},
	}))
	require.NoError(t, err)
	assert.IsType(t, &redis.Client{}, single.rdb)

	sentinel, err := NewRedisAdapter(WithRedisConfig(config.RedisConfig{
		Type:       config.DBTypeRedis,
		Addresses:  []string{"127.0.0.1:26379"},
		IsSentinel: true,
		MasterName: "primary",
	}))
	require.NoError(t, err)
	assert.NotNil(t, sentinel.rdb)
}

func TestSealedTokensAreBoundToTheSession(t *testing.T) {
	ctx := context.Background()
	client := NewMockRedisClient()
	adapter, err := NewRedisAdapter(WithRedisClient(client), WithEncryption(testSealKey))
	require.NoError(t, err)
	session := newTestSession()
	require.NoError(t, adapter.SetSession(ctx, session))

	raw, err := client.Get(ctx, adapter.sessionKey(session.ID)).Result()
	require.NoError(t, err)
	moved := strings.Replace(raw, `"id":"session-1"`, `"id":"session-2"`, 1)
	require.NotEqual(t, raw, moved)
	require.NoError(t, client.Set(ctx, adapter.sessionKey("session-2"), moved, time.Hour).Err())

	_, err = adapter.GetSession(ctx, "session-2")
	assert.Error(t, err)
}
