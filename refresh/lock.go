package refresh

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrAlreadyLocked = errors.New("lock already held")
	ErrLockNotHeld   = errors.New("lock not held by this guard")
)

// LockGuard identifies one successful acquisition.
type LockGuard struct {
	Key   string
	Token string
}

// Locker serialises refreshes of a session across server instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*LockGuard, error)
	Release(ctx context.Context, guard *LockGuard) error
}

type lockEntry struct {
	token     string
	expiresAt time.Time
}

// InMemoryLocker is a single-process Locker.
type InMemoryLocker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
}

var _ Locker = (*InMemoryLocker)(nil)

func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{locks: make(map[string]lockEntry)}
}

func (l *InMemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (*LockGuard, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.locks[key]; ok && time.Now().Before(entry.expiresAt) {
		return nil, ErrAlreadyLocked
	}
	token := lockToken()
	l.locks[key] = lockEntry{token: token, expiresAt: time.Now().Add(ttl)}
	return &LockGuard{Key: key, Token: token}, nil
}

func (l *InMemoryLocker) Release(_ context.Context, guard *LockGuard) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[guard.Key]
	if !ok || entry.token != guard.Token {
		return ErrLockNotHeld
	}
	delete(l.locks, guard.Key)
	return nil
}

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// RedisLocker acquires with SET NX PX and releases with a compare-and-delete script.
type RedisLocker struct {
	client    redis.Cmdable
	keyPrefix string
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{client: client, keyPrefix: "smart:lock"}
}

func (l *RedisLocker) lockKey(key string) string {
	return l.keyPrefix + ":" + key
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*LockGuard, error) {
	token := lockToken()
	ok, err := l.client.SetNX(ctx, l.lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyLocked
	}
	return &LockGuard{Key: key, Token: token}, nil
}

func (l *RedisLocker) Release(ctx context.Context, guard *LockGuard) error {
	result, err := l.client.Eval(ctx, releaseScript, []string{l.lockKey(guard.Key)}, guard.Token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func lockToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
