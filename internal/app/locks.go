/**
 * @description
 * Per-subscription processing locks backed by Redis. A manual process-drop
 * call, the daily sweep, and a retry job may all target the same subscription
 * at the same instant; the lock serializes them so a drop is never settled
 * twice. Release uses a Lua script so a holder can only delete its own token.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSubscriptionLocker implements Locker on a shared Redis instance.
type RedisSubscriptionLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSubscriptionLocker creates a locker with the given key prefix and
// hold TTL. The TTL bounds how long a crashed holder can wedge a subscription.
func NewRedisSubscriptionLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisSubscriptionLocker {
	if prefix == "" {
		prefix = "sublock"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSubscriptionLocker{client: client, prefix: prefix, ttl: ttl}
}

// Acquire takes the lock for one subscription or fails fast with
// ErrSubscriptionBusy.
func (l *RedisSubscriptionLocker) Acquire(ctx context.Context, subscriptionID uuid.UUID) (func(), error) {
	key := l.prefix + ":" + subscriptionID.String()
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSubscriptionBusy
	}

	release := func() {
		// Release on a fresh context so a cancelled request still unlocks.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseLockScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			log.Printf("level=warn component=sublock msg=\"lock release failed; ttl will expire it\" key=%s err=%v", key, err)
		}
	}
	return release, nil
}
