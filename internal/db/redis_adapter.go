// Package db persists the portal sessions in redis.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/redis/go-redis/v9"
)

// SessionClient is the part of the redis API the session repository uses. Both the real
// clients and MockRedisClient implement it.
type SessionClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type RedisAdapter struct {
	rdb    SessionClient
	sealer *TokenSealer
}

type RedisAdapterOption func(*RedisAdapter) error

// WithRedisConfig picks the client from the configuration: a sentinel failover client, a
// single node client or the in-memory mock which is only accepted in development.
func WithRedisConfig(redisConfig config.RedisConfig) RedisAdapterOption {
	return func(r *RedisAdapter) error {
		switch redisConfig.Type {
		case config.DBTypeRedisMock:
			r.rdb = NewMockRedisClient()
			return nil
		case config.DBTypeRedis:
		default:
			return fmt.Errorf("unrecognized persistence type %v", redisConfig.Type)
		}
		if len(redisConfig.Addresses) == 0 {
			return fmt.Errorf("no redis address was provided")
		}
		options := redis.UniversalOptions{
			Password: redisConfig.Password.Value(),
			DB:       redisConfig.DBIndex,
		}
		if redisConfig.IsSentinel {
			options.Addrs = redisConfig.Addresses
			options.MasterName = redisConfig.MasterName
			options.SentinelPassword = redisConfig.Password.Value()
		} else {
			// more than one address would make this a cluster client
			options.Addrs = redisConfig.Addresses[:1]
		}
		r.rdb = redis.NewUniversalClient(&options)
		return nil
	}
}

func WithRedisClient(rdb SessionClient) RedisAdapterOption {
	return func(r *RedisAdapter) error {
		r.rdb = rdb
		return nil
	}
}

// WithEncryption seals the session tokens at rest.
func WithEncryption(secretKey string) RedisAdapterOption {
	return func(r *RedisAdapter) error {
		sealer, err := NewTokenSealer(secretKey)
		if err != nil {
			return err
		}
		r.sealer = &sealer
		return nil
	}
}

func NewRedisAdapter(options ...RedisAdapterOption) (*RedisAdapter, error) {
	adapter := RedisAdapter{}
	for _, opt := range options {
		if err := opt(&adapter); err != nil {
			return &RedisAdapter{}, err
		}
	}
	if adapter.rdb == nil {
		return &RedisAdapter{}, fmt.Errorf("redis client is not initialized")
	}
	return &adapter, nil
}
