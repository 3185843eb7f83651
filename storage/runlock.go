package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	runLockPrefix = "rental-ingest:run-lock:"
	renewTimeout  = 5 * time.Second
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisRunLocker holds one lock per source in Redis so syncs of the same
// source never overlap, even across processes. A held lock is renewed every
// ttl/3 until it is released, so the ttl only bounds how long a crashed
// holder blocks the source.
type RedisRunLocker struct {
	client     *redis.Client
	ttl        time.Duration
	renewEvery time.Duration
}

func NewRedisRunLocker(client *redis.Client, ttl time.Duration) *RedisRunLocker {
	if ttl < time.Second {
		ttl = 2 * time.Hour
	}
	return &RedisRunLocker{client: client, ttl: ttl, renewEvery: ttl / 3}
}

// TryLock acquires the lock for key without blocking. ok is false when
// another holder owns it. The returned release only deletes the lock while
// it still carries this holder's token.
func (l *RedisRunLocker) TryLock(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	redisKey := runLockPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("runlock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(redisKey, token, stop, done)

	var once sync.Once
	release := func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			return fmt.Errorf("runlock: release %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}

// renew extends the lock until stop is closed or the lock is no longer ours.
func (l *RedisRunLocker) renew(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			held, err := l.extend(redisKey, token)
			if err == nil && !held {
				return
			}
		}
	}
}

// extend resets the ttl of redisKey while it still carries token. A
// transient error leaves the lock to the next tick.
func (l *RedisRunLocker) extend(redisKey, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), renewTimeout)
	defer cancel()
	n, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("runlock: extend %s: %w", redisKey, err)
	}
	return n == 1, nil
}

// LocalRunLocker is the in-process equivalent used when no Redis is
// configured.
type LocalRunLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalRunLocker() *LocalRunLocker {
	return &LocalRunLocker{held: make(map[string]struct{})}
}

func (l *LocalRunLocker) TryLock(_ context.Context, key string) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}
	return release, true, nil
}
