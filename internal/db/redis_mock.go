package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type mockEntry struct {
	value     string
	expiresAt time.Time
}

// MockRedisClient implements SessionClient in memory.
// Only suitable for testing and local development.
// Contexts are completely ignored.
type MockRedisClient struct {
	lock  *sync.Mutex
	store map[string]mockEntry
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{lock: &sync.Mutex{}, store: map[string]mockEntry{}}
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	m.lock.Lock()
	defer m.lock.Unlock()
	res := redis.NewStringCmd(ctx, "get", key)
	entry, found := m.store[key]
	if !found || (!entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)) {
		delete(m.store, key)
		res.SetErr(redis.Nil)
		return res
	}
	res.SetVal(entry.value)
	return res
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.lock.Lock()
	defer m.lock.Unlock()
	res := redis.NewStatusCmd(ctx, "set", key, value)
	entry := mockEntry{value: fmt.Sprint(value)}
	if expiration > 0 {
		entry.expiresAt = time.Now().Add(expiration)
	}
	m.store[key] = entry
	res.SetVal("OK")
	return res
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.lock.Lock()
	defer m.lock.Unlock()
	args := []any{"del"}
	for _, key := range keys {
		args = append(args, key)
	}
	res := redis.NewIntCmd(ctx, args...)
	var deleted int64
	for _, key := range keys {
		if _, found := m.store[key]; found {
			delete(m.store, key)
			deleted++
		}
	}
	res.SetVal(deleted)
	return res
}
