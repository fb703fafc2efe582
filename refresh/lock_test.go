package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewInMemoryLocker()

	guard, err := l.Acquire(ctx, "refresh:a", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "refresh:a", time.Minute)
	require.ErrorIs(t, err, ErrAlreadyLocked)

	require.ErrorIs(t, l.Release(ctx, &LockGuard{Key: "refresh:a", Token: "wrong"}), ErrLockNotHeld)
	require.NoError(t, l.Release(ctx, guard))

	_, err = l.Acquire(ctx, "refresh:a", time.Minute)
	require.NoError(t, err)
}

func TestInMemoryLockerExpiry(t *testing.T) {
	ctx := context.Background()
	l := NewInMemoryLocker()

	_, err := l.Acquire(ctx, "k", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client)

	guard, err := l.Acquire(ctx, "refresh:sid", 30*time.Second)
	require.NoError(t, err)
	require.True(t, mr.Exists("smart:lock:refresh:sid"))
	require.Equal(t, 30*time.Second, mr.TTL("smart:lock:refresh:sid"))

	_, err = l.Acquire(ctx, "refresh:sid", 30*time.Second)
	require.ErrorIs(t, err, ErrAlreadyLocked)

	require.ErrorIs(t, l.Release(ctx, &LockGuard{Key: "refresh:sid", Token: "other"}), ErrLockNotHeld)
	require.True(t, mr.Exists("smart:lock:refresh:sid"))

	require.NoError(t, l.Release(ctx, guard))
	require.False(t, mr.Exists("smart:lock:refresh:sid"))

	mr.FastForward(time.Minute)
	_, err = l.Acquire(ctx, "refresh:sid", 30*time.Second)
	require.NoError(t, err)
}
