package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/slotter-org/alexus-backend/internal/logger"
)

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease lock shared by every replica. A holder that dies
// loses the lock after ttl.
type RedisLocker struct {
	client redis.Cmdable
	log    *logger.Logger
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client redis.Cmdable, log *logger.Logger, ttl, retry time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	return &RedisLocker{
		client: client,
		log:    log.With("component", "RedisLocker"),
		ttl:    ttl,
		retry:  retry,
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must happen even if the caller's ctx is already done.
			relCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, r.client, []string{key}, token).Err(); err != nil {
				r.log.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}
