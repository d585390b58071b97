package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"buybot/internal/settings"

	"github.com/redis/go-redis/v9"
)

// RedisSettings keeps the settings blob under a single Redis key.
type RedisSettings struct {
	client *redis.Client
	key    string
}

func NewRedisSettings(addr, password, key string) *RedisSettings {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisSettings{client: client, key: key}
}

// Ping checks connectivity so a bad address fails at startup rather than on the first save.
func (r *RedisSettings) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisSettings) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, settings.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	return data, nil
}

func (r *RedisSettings) Save(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisSettings) Close() error {
	return r.client.Close()
}
