package smart_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/refresh"
	"github.com/jrsteele09/go-ehr-connect/session"
	"github.com/jrsteele09/go-ehr-connect/smart"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls   int
	reasons []refresh.Reason
	result  *session.TokenSet
	err     error
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string, reason refresh.Reason) (*session.TokenSet, error) {
	f.calls++
	f.reasons = append(f.reasons, reason)
	return f.result, f.err
}

func TestStatusService_LiveTokenNeverRefreshes(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "sid", &session.TokenSet{
		AccessToken: "access",
		ExpiresAt:   time.Now().Add(time.Hour),
		FHIRBase:    "https://fhir.example/R4",
	}, 0))
	refresher := &fakeRefresher{}
	svc := smart.NewStatusService(store, refresher)

	first := svc.Status(context.Background(), "sid")
	second := svc.Status(context.Background(), "sid")
	require.True(t, first.Connected)
	require.Equal(t, first.Connected, second.Connected)
	require.Equal(t, first.FHIRBase, second.FHIRBase)
	require.InDelta(t, 3600, first.ExpiresIn, 5)
	require.Zero(t, refresher.calls)
}

func TestStatusService_ExpiredRefreshes(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "sid", &session.TokenSet{
		AccessToken:  "old",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(-time.Minute),
		FHIRBase:     "https://fhir.example/R4",
	}, 0))
	refresher := &fakeRefresher{result: &session.TokenSet{
		AccessToken: "new",
		ExpiresAt:   time.Now().Add(time.Hour),
		FHIRBase:    "https://fhir.example/R4",
	}}
	svc := smart.NewStatusService(store, refresher)

	status := svc.Status(context.Background(), "sid")
	require.True(t, status.Connected)
	require.Equal(t, []refresh.Reason{refresh.ReasonStatus}, refresher.reasons)

	refresher.err = fmt.Errorf("%w: boom", errors.ErrRefreshFailed)
	require.False(t, svc.Status(context.Background(), "sid").Connected)
}

func TestStatusService_Disconnected(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "no-refresh", &session.TokenSet{
		AccessToken: "old",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}, 0))
	refresher := &fakeRefresher{}
	svc := smart.NewStatusService(store, refresher)

	require.Equal(t, smart.Status{}, svc.Status(context.Background(), ""))
	require.Equal(t, smart.Status{}, svc.Status(context.Background(), "unknown"))
	require.Equal(t, smart.Status{}, svc.Status(context.Background(), "no-refresh"))
	require.Zero(t, refresher.calls)

	_, err := svc.Tokens(context.Background(), "no-refresh", refresh.ReasonSubmit)
	require.ErrorIs(t, err, errors.ErrSessionExpired)
}
