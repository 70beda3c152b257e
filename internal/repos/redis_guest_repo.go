package repos

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront/internal/guest"
	applog "storefront/internal/log"
)

// RedisGuestRepo keeps guest storage in redis so several BFF instances can
// share it. Entries expire after ttl without writes.
type RedisGuestRepo struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

var _ guest.Store = (*RedisGuestRepo)(nil)

func NewRedisGuestRepo(client *redis.Client) *RedisGuestRepo {
	return &RedisGuestRepo{client: client, ttl: 30 * 24 * time.Hour, timeout: 2 * time.Second}
}

func redisKey(key string) string { return "guest:" + key }

func (r *RedisGuestRepo) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *RedisGuestRepo) Get(key string) ([]byte, bool) {
	ctx, cancel := r.ctx()
	defer cancel()
	b, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		applog.Warn(nil, "guest.redis.get", err, map[string]any{"key": key})
		return nil, false
	}
	return b, true
}

func (r *RedisGuestRepo) Set(key string, value []byte) bool {
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.client.Set(ctx, redisKey(key), value, r.ttl).Err(); err != nil {
		applog.Warn(nil, "guest.redis.set", err, map[string]any{"key": key})
		return false
	}
	return true
}

func (r *RedisGuestRepo) Delete(key string) bool {
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.client.Del(ctx, redisKey(key)).Err(); err != nil {
		applog.Warn(nil, "guest.redis.delete", err, map[string]any{"key": key})
		return false
	}
	return true
}
