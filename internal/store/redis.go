package store

import (
	"context"
	"errors"
	"time"

	pkgredis "github.com/Proton-105/pour-kiosk/pkg/redis"
)

type redisKV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisBackend keeps records in Redis without expiry; token expiry is evaluated on read.
type RedisBackend struct {
	client redisKV
}

// NewRedisBackend initializes a Redis-backed Backend.
func NewRedisBackend(client redisKV) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, pkgredis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return []byte(data), nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return b.client.Set(ctx, key, value, 0)
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Delete(ctx, key)
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
