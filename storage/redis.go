package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the given redis URL. A positive ttl expires room
// records that have not been written for that long.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (StateStore, func() error, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &redisStore{client: client, ttl: ttl}, client.Close, nil
}

func (s *redisStore) Get(ctx context.Context, roomID, key string) ([]byte, error) {
	blob, err := s.client.Get(ctx, objectKey(roomID, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s/%s: %w", roomID, key, err)
	}
	return blob, nil
}

func (s *redisStore) Put(ctx context.Context, roomID, key string, blob []byte) error {
	if err := s.client.Set(ctx, objectKey(roomID, key), blob, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", roomID, key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, roomID, key string) error {
	if err := s.client.Del(ctx, objectKey(roomID, key)).Err(); err != nil {
		return fmt.Errorf("redis del %s/%s: %w", roomID, key, err)
	}
	return nil
}
