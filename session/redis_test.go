package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/internal/seal"
	"github.com/jrsteele09/go-ehr-connect/session"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*session.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sealer, err := seal.New([]byte("0123456789abcdef0123456789abcdef"), "storage")
	require.NoError(t, err)
	return session.NewRedisStore(client, sealer), mr
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)

	expiresAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ts := &session.TokenSet{
		AccessToken:   "access-secret",
		RefreshToken:  "refresh-secret",
		ExpiresAt:     expiresAt,
		FHIRBase:      "https://fhir.example/R4",
		LaunchContext: session.LaunchContext{Patient: "123"},
	}
	require.NoError(t, store.Put(ctx, "sid-1", ts, time.Hour))

	raw, err := mr.Get("smart:session:sid-1")
	require.NoError(t, err)
	require.NotContains(t, raw, "access-secret")
	require.Equal(t, time.Hour, mr.TTL("smart:session:sid-1"))

	got, err := store.Get(ctx, "sid-1")
	require.NoError(t, err)
	require.Equal(t, "access-secret", got.AccessToken)
	require.Equal(t, "refresh-secret", got.RefreshToken)
	require.True(t, expiresAt.Equal(got.ExpiresAt))
	require.Equal(t, "123", got.LaunchContext.Patient)

	require.NoError(t, store.Delete(ctx, "sid-1"))
	_, err = store.Get(ctx, "sid-1")
	require.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)

	require.NoError(t, store.Put(ctx, "sid", &session.TokenSet{AccessToken: "at"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "sid")
	require.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestRedisStore_CustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	sealer, err := seal.New([]byte("0123456789abcdef0123456789abcdef"), "storage")
	require.NoError(t, err)

	store := session.NewRedisStore(client, sealer, session.WithKeyPrefix("app:sess"))
	require.NoError(t, store.Put(context.Background(), "sid", &session.TokenSet{AccessToken: "at"}, 0))
	require.True(t, mr.Exists("app:sess:sid"))
}
