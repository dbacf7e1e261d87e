// Package lock provides per-credential mutual exclusion for batch runs. Two
// concurrent batches over the same credential would race on the stored token
// expiry and on result writes, so a run must hold the lock for its duration.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrAlreadyLocked means another run currently holds the lock for this key.
var ErrAlreadyLocked = errors.New("sync already running for this credential")

// Locker acquires an exclusive lock for a key. The returned release function
// must be called when the run finishes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RedisLocker implements Locker with SET NX PX, so the exclusion holds across
// processes. The TTL bounds how long a crashed run can keep the key.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.client == nil {
		return nil, errors.New("redis client is nil")
	}

	redisKey := "sync_lock:" + key
	holder := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, holder, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyLocked
	}

	release := func() {
		// Only delete the key if this run still owns it; a TTL expiry
		// followed by another acquisition must not be clobbered.
		val, err := l.client.Get(context.Background(), redisKey).Result()
		if err != nil || val != holder {
			return
		}
		l.client.Del(context.Background(), redisKey)
	}
	return release, nil
}

// LocalLocker implements Locker within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrAlreadyLocked
	}
	l.held[key] = true

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}
	return release, nil
}

// FailoverLocker prefers Redis and degrades to the in-process lock when Redis
// is unreachable. ErrAlreadyLocked from the primary is a real conflict and is
// never retried on the fallback.
type FailoverLocker struct {
	primary  Locker
	fallback Locker
	logger   zerolog.Logger
}

func NewFailoverLocker(primary, fallback Locker, logger zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{primary: primary, fallback: fallback, logger: logger}
}

func (l *FailoverLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.primary != nil {
		release, err := l.primary.Acquire(ctx, key, ttl)
		if err == nil {
			return release, nil
		}
		if errors.Is(err, ErrAlreadyLocked) {
			return nil, err
		}
		l.logger.Error().Err(err).Msg("Primary locker failed, falling back to in-process lock")
	}
	return l.fallback.Acquire(ctx, key, ttl)
}
