// Package lock provides named per-aggregate exclusivity, distributed via
// Redis in production and process-local for tests and single-node deploys.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/ports"
)

const keyPrefix = "csms:lock:"

// releaseScript frees the lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type RedisLockService struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisLockService(client *redis.Client, log *zap.Logger) ports.LockService {
	return &RedisLockService{client: client, log: log}
}

// Acquire takes the named lock with SET NX PX. A held lock yields (nil, nil)
// so callers can skip silently.
func (s *RedisLockService) Acquire(ctx context.Context, name string, ttl time.Duration) (ports.Lock, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, keyPrefix+name, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &redisLock{client: s.client, key: keyPrefix + name, token: token}, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
