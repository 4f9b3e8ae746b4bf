package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// unlockScript deletes a lock key only when its value matches the caller's
// token, so one holder can never release another holder's lock.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// lockRetryInterval is how often a blocked AcquireWait re-attempts SETNX.
const lockRetryInterval = 50 * time.Millisecond

// LockManager implements domain.LockManager over Redis: SETNX with a TTL for
// acquisition, a token-checked Lua script for release, and a polling loop for
// bounded waits. The TTL bounds how long a crashed holder can wedge a key.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Redis(),
		unlockSc: redis.NewScript(unlockScript),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire obtains the lock for key or fails immediately with
// domain.ErrLockHeld when another party owns it. The returned unlock function
// is safe to call more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return lm.unlockFunc(lk, token), nil
}

// AcquireWait obtains the lock for key, retrying a contended acquisition
// until wait elapses. Contended position mutations queue behind the current
// holder instead of failing, which keeps an already-executed venue trade
// from going unrecorded.
func (lm *LockManager) AcquireWait(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		unlock, err := lm.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, domain.ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// unlockFunc builds the idempotent release closure for one acquisition.
func (lm *LockManager) unlockFunc(lk, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// A background context lets the unlock land even when the caller's
		// context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
