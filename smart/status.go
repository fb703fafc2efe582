package smart

import (
	"context"
	"time"

	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/refresh"
	"github.com/jrsteele09/go-ehr-connect/session"
	"github.com/rs/zerolog/log"
)

// Refresher is the part of refresh.Manager the status service depends on.
type Refresher interface {
	Refresh(ctx context.Context, sessionID string, reason refresh.Reason) (*session.TokenSet, error)
}

// Status is the browser-facing projection of a session. It never carries
// token values.
type Status struct {
	Connected bool   `json:"connected"`
	FHIRBase  string `json:"fhirBase,omitempty"`
	ExpiresIn int64  `json:"expiresIn,omitempty"`
}

type StatusService struct {
	store     session.Store
	refresher Refresher
	now       func() time.Time
}

func NewStatusService(store session.Store, refresher Refresher) *StatusService {
	return &StatusService{store: store, refresher: refresher, now: time.Now}
}

// Tokens returns a usable TokenSet, refreshing an expired one through the
// refresher. A live token is returned as stored.
func (s *StatusService) Tokens(ctx context.Context, sessionID string, reason refresh.Reason) (*session.TokenSet, error) {
	ts, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ts.Expired(s.now()) {
		return ts, nil
	}
	if !ts.CanRefresh() {
		return nil, errors.ErrSessionExpired
	}
	return s.refresher.Refresh(ctx, sessionID, reason)
}

// Status reports whether the session is connected. Any failure, including a
// failed refresh, reads as disconnected.
func (s *StatusService) Status(ctx context.Context, sessionID string) Status {
	if sessionID == "" {
		return Status{}
	}
	ts, err := s.Tokens(ctx, sessionID, refresh.ReasonStatus)
	if err != nil {
		log.Debug().Err(err).Str("session", sessionID).Msg("[StatusService] not connected")
		return Status{}
	}
	return Status{
		Connected: true,
		FHIRBase:  ts.FHIRBase,
		ExpiresIn: int64(ts.ExpiresIn(s.now()).Seconds()),
	}
}
