package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockTTL       = 10 * time.Second
	acquireRetry  = 25 * time.Millisecond
	acquireBudget = 5 * time.Second
)

// releaseScript deletes the lock only if this holder still owns it, so an
// expired-and-reacquired lock is never released by the previous holder.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLock implements KeyLock on Redis with SET NX and a TTL, so a crashed
// holder cannot wedge a kollab forever.
type RedisLock struct {
	client *redis.Client
	prefix string
}

// NewRedisLock connects to Redis and verifies the connection.
func NewRedisLock(redisURL string) (*RedisLock, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisLock{client: client, prefix: "kollab-lock:"}, nil
}

// NewRedisLockWithClient creates a lock from an existing Redis client.
func NewRedisLockWithClient(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, prefix: "kollab-lock:"}
}

func (l *RedisLock) key(key string) string {
	return l.prefix + key
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := l.key(key)

	deadline, cancel := context.WithTimeout(ctx, acquireBudget)
	defer cancel()

	for {
		ok, err := l.client.SetNX(deadline, redisKey, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-deadline.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, deadline.Err())
		case <-time.After(acquireRetry):
		}
	}

	release := func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer releaseCancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
	}
	return release, nil
}

// Close closes the Redis connection.
func (l *RedisLock) Close() error {
	return l.client.Close()
}

// Ping checks if Redis is reachable.
func (l *RedisLock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
