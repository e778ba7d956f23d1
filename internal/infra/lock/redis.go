package lock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock is a per-key advisory lock shared by all worker processes:
// SET NX with a TTL so a crashed holder cannot wedge a tenant forever.
type RedisLock struct {
	client *redis.Client
	token  string
}

var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLock(addr, password string, db int, ownerToken string) (*RedisLock, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if ownerToken == "" {
		return nil, errors.New("owner token is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLock{client: client, token: ownerToken}, nil
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, l.token, ttl).Result()
}

// Release deletes the key only if this process still owns it, so a lock
// that expired and was re-acquired elsewhere is left alone.
func (l *RedisLock) Release(ctx context.Context, key string) error {
	return redisReleaseScript.Run(ctx, l.client, []string{key}, l.token).Err()
}
