package lock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"lavamon/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	keyPrefix           = "lavamon:"
	lockTTL             = 30 * time.Second // expiry so a crashed holder cannot block others forever
	lockAcquireTimeout  = 5 * time.Second
	lockExtendInterval  = 10 * time.Second
	maxLockHoldDuration = 30 * time.Minute // a monitor pass over a large cluster can take a while
)

// DistributedLock guards a periodic job so that one daemon in the cluster runs it per cycle.
// It never waits: a lock held elsewhere makes TryLock return false.
type DistributedLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	IsHeld() bool
}

// RedisDistributedLock implements DistributedLock with SET NX and a renewed TTL.
// A nil client runs in single-instance mode and always acquires.
type RedisDistributedLock struct {
	client    *redis.Client
	lockKey   string
	lockValue string // identifies this holder so it never releases another's lock
	ttl       time.Duration

	mu           sync.Mutex
	isHeld       bool
	acquiredAt   time.Time
	stopRenew    chan struct{}
	renewStopped bool
}

// NewRedisDistributedLock creates a lock on key name (namespaced under "lavamon:")
func NewRedisDistributedLock(client *redis.Client, name string) *RedisDistributedLock {
	host, _ := os.Hostname()
	return &RedisDistributedLock{
		client:       client,
		lockKey:      keyPrefix + name,
		lockValue:    fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()),
		ttl:          lockTTL,
		renewStopped: true,
	}
}

// Key returns the redis key of the lock
func (l *RedisDistributedLock) Key() string {
	return l.lockKey
}

// TryLock attempts to take the lock without waiting
func (l *RedisDistributedLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		l.mu.Lock()
		l.isHeld = true
		l.mu.Unlock()
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.lockKey, l.lockValue, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.lockKey, err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "lock %s already held by another instance", l.lockKey)
		return false, nil
	}

	l.mu.Lock()
	l.isHeld = true
	l.acquiredAt = time.Now()
	// A fresh channel per acquisition supports repeated TryLock/Unlock cycles
	l.stopRenew = make(chan struct{})
	l.renewStopped = false
	stop := l.stopRenew
	l.mu.Unlock()

	go l.renewLock(ctx, stop)

	logger.DebugCtx(ctx, "lock %s acquired", l.lockKey)
	return true, nil
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end
`

// Unlock releases the lock if this instance still holds it
func (l *RedisDistributedLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if l.client == nil {
		l.isHeld = false
		l.mu.Unlock()
		return nil
	}
	if !l.renewStopped {
		l.renewStopped = true
		close(l.stopRenew)
	}
	l.isHeld = false
	l.mu.Unlock()

	result, err := l.client.Eval(ctx, releaseScript, []string{l.lockKey}, l.lockValue).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.lockKey, err)
	}
	if result == 1 {
		logger.DebugCtx(ctx, "lock %s released", l.lockKey)
	} else {
		logger.WarnCtx(ctx, "lock %s was already released or taken over", l.lockKey)
	}
	return nil
}

// IsHeld reports whether this instance believes it holds the lock
func (l *RedisDistributedLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isHeld
}

func (l *RedisDistributedLock) renewLock(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(lockExtendInterval)
	defer ticker.Stop()

	lost := func() {
		l.mu.Lock()
		l.isHeld = false
		l.mu.Unlock()
	}

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			held := time.Since(l.acquiredAt)
			l.mu.Unlock()

			// Unlock stays with the holder's deferred call; only mark the lock lost here
			if held > maxLockHoldDuration {
				logger.WarnCtx(ctx, "lock %s held for %.0f seconds, no longer renewing", l.lockKey, held.Seconds())
				lost()
				return
			}

			result, err := l.client.Eval(ctx, renewScript, []string{l.lockKey}, l.lockValue, int(l.ttl.Seconds())).Int64()
			if err != nil {
				logger.WarnCtx(ctx, "failed to renew lock %s: %v", l.lockKey, err)
				lost()
				return
			}
			if result == 0 {
				logger.WarnCtx(ctx, "lock %s lost before renewal", l.lockKey)
				lost()
				return
			}
		}
	}
}
