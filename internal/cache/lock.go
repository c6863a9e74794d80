package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Lock is a held SETNX lock.
type Lock struct {
	client redis.Cmdable
	key    string
	value  string
}

// LockManager hands out time-limited exclusive locks on the shared store.
type LockManager struct {
	client redis.Cmdable
}

func NewLockManager(client redis.Cmdable) *LockManager {
	return &LockManager{client: client}
}

// AcquireLock sets key to value if absent, expiring after ttl.
// Only the first caller wins; everyone else gets ErrLockNotAcquired until the
// lock is released or expires.
func (m *LockManager) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (*Lock, error) {
	ok, err := m.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return &Lock{client: m.client, key: key, value: value}, nil
}

// Release deletes the lock if we still own it.
func (l *Lock) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Key returns the store key backing the lock.
func (l *Lock) Key() string {
	return l.key
}
