package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-reply-bot/internal/domain"
)

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client *redis.Client
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Once выполняет функцию, если ключ ещё не задан. При ошибке fn ключ снимается, чтобы повтор был возможен.
func (c *RedisCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(context.WithoutCancel(ctx), key).Err()
		return err
	}
	return nil
}

// Set задаёт значение.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Get возвращает значение или domain.ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	return data, err
}

// Del удаляет ключ.
func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
