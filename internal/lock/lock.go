// Package lock provides TTL keys held by one owner at a time, across
// replicas with Redis or within one process. The expiry sweep uses them as a
// run lock.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Release gives the lock back. It is safe to call after the TTL lapsed.
type Release func(ctx context.Context) error

type Locker interface {
	// TryLock returns acquired=false without error when another holder
	// owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release Release, acquired bool, err error)
}

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// unlockScript deletes the key only while it still holds our token, so a
// holder whose TTL expired cannot release a successor's lock.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type RedisLocker struct {
	client redisClient
	prefix string
}

func NewRedisLocker(client redisClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	k := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock.RedisLocker.TryLock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, unlockScript, []string{k}, token).Err(); err != nil {
			return fmt.Errorf("lock.RedisLocker.Release: %w", err)
		}
		return nil
	}
	return release, true, nil
}

// LocalLocker serializes holders inside a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	l.held[key] = exp
	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(exp) {
			delete(l.held, key)
		}
		return nil
	}
	return release, true, nil
}
