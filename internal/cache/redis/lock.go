package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/driftlabs/gridbot/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's
// unique token, so one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL
// and a Lua-based conditional unlock. It guards against two live instances
// quoting the same symbol against each other.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(symbol string) string {
	return "gridbot:lock:" + symbol
}

// Acquire attempts to obtain the instance lock for the symbol with the
// given TTL. On success it returns a release function that is safe to call
// more than once. It returns domain.ErrLockHeld when another instance
// holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, symbol string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(symbol)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", symbol, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// Background context so release succeeds even after the caller's
		// context is cancelled during shutdown.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}

	return release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
