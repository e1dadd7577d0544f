package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "storefront/pkg/domain"
	"storefront/pkg/platform/sentinel"
)

const redisKeyPrefix = "storefront:session:"

// RedisStore keeps session values in Redis, one key per (session, name), with
// a sliding TTL refreshed on every write.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(sessionID id.SessionID, key string) string {
	return redisKeyPrefix + sessionID.String() + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, sessionID id.SessionID, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, redisKey(sessionID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, errors.Join(sentinel.ErrUnavailable, err))
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, sessionID id.SessionID, key string, value []byte) error {
	if err := s.client.Set(ctx, redisKey(sessionID, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID id.SessionID, key string) error {
	if err := s.client.Del(ctx, redisKey(sessionID, key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}
