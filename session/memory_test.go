package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/session"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		require.ErrorIs(t, err, errors.ErrSessionNotFound)
	})

	t.Run("put copies the record", func(t *testing.T) {
		ts := &session.TokenSet{AccessToken: "at-1", FHIRBase: "https://fhir.example/R4"}
		require.NoError(t, store.Put(ctx, "sid-1", ts, time.Hour))

		ts.AccessToken = "mutated"
		got, err := store.Get(ctx, "sid-1")
		require.NoError(t, err)
		require.Equal(t, "at-1", got.AccessToken)

		got.AccessToken = "mutated-again"
		again, err := store.Get(ctx, "sid-1")
		require.NoError(t, err)
		require.Equal(t, "at-1", again.AccessToken)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "sid-1"))
		_, err := store.Get(ctx, "sid-1")
		require.ErrorIs(t, err, errors.ErrSessionNotFound)
	})

	t.Run("required arguments", func(t *testing.T) {
		require.Error(t, store.Put(ctx, "", &session.TokenSet{}, 0))
		require.Error(t, store.Put(ctx, "sid", nil, 0))
		_, err := store.Get(ctx, "")
		require.Error(t, err)
	})
}

func TestMemoryStore_TTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	session.NowTimeFunc = func() time.Time { return now }
	defer func() { session.NowTimeFunc = time.Now }()

	ctx := context.Background()
	store := session.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "sid", &session.TokenSet{AccessToken: "at"}, time.Minute))

	_, err := store.Get(ctx, "sid")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "sid")
	require.ErrorIs(t, err, errors.ErrSessionNotFound)
}
