package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pben56681-png/clobarb/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// SessionLock prevents two engine instances from trading the same wallet at
// once. It is a Redis SETNX lock with a TTL and a Lua-based conditional
// unlock; the holder must re-acquire before the TTL lapses.
type SessionLock struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewSessionLock creates a SessionLock backed by the given Client.
func NewSessionLock(c *Client) *SessionLock {
	return &SessionLock{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func sessionKey(wallet string) string {
	return "clobarb:session:" + wallet
}

// Acquire attempts to claim the trading session for a wallet. On success it
// returns an unlock function that must be called on shutdown; the function is
// safe to call multiple times.
//
// It returns domain.ErrSessionHeld when another instance holds the session.
func (l *SessionLock) Acquire(ctx context.Context, wallet string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	key := sessionKey(wallet)

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire session %s: %w", wallet, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: wallet %s: %w", wallet, domain.ErrSessionHeld)
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// Use a background context so unlock succeeds even if the caller's
		// context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{key}, token).Err()
	}

	return unlock, nil
}
