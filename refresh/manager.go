// Package refresh keeps SMART sessions alive by exchanging refresh tokens
// before the access token expires.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/internal/metrics"
	"github.com/jrsteele09/go-ehr-connect/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBuffer     = 300 * time.Second
	DefaultMinDelay   = 60 * time.Second
	DefaultMaxBackoff = 15 * time.Minute
	DefaultLockTTL    = 30 * time.Second
	DefaultTimeout    = 30 * time.Second
	DefaultSessionTTL = 12 * time.Hour

	// defaultTokenLifetime applies when the IdP omits expires_in.
	defaultTokenLifetime = time.Hour
)

// State of a session's refresh cycle.
type State int

const (
	Idle State = iota
	Refreshing
	Failed
)

func (s State) String() string {
	switch s {
	case Refreshing:
		return "refreshing"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Reason records what triggered a refresh.
type Reason string

const (
	ReasonTimer      Reason = "timer"
	ReasonManual     Reason = "manual"
	ReasonVisibility Reason = "visibility"
	ReasonStatus     Reason = "status"
	ReasonSubmit     Reason = "submit"
)

// Timer is the cancellable handle returned by the scheduling primitive.
type Timer interface {
	Stop() bool
}

type Options struct {
	Buffer     time.Duration
	MinDelay   time.Duration
	MaxBackoff time.Duration
	SessionTTL time.Duration
	LockTTL    time.Duration
	Timeout    time.Duration

	// OnFailure is called once per failed exchange.
	OnFailure func(sessionID string, err error)
}

func (o Options) withDefaults() Options {
	if o.Buffer <= 0 {
		o.Buffer = DefaultBuffer
	}
	if o.MinDelay <= 0 {
		o.MinDelay = DefaultMinDelay
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

type scheduler struct {
	mu         sync.Mutex
	state      State
	timer      Timer
	generation uint64
	failures   int
	nextAt     time.Time
	cancelled  bool
}

// Manager owns one scheduler per session. Request triggers for the same
// session share a single exchange; timer triggers that arrive mid-refresh are
// dropped.
type Manager struct {
	store     session.Store
	exchanger Exchanger
	locker    Locker
	opts      Options

	group singleflight.Group

	mu         sync.Mutex
	schedulers map[string]*scheduler
	closed     bool

	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
}

// NewManager creates a Manager. A nil locker falls back to an in-process lock.
func NewManager(store session.Store, exchanger Exchanger, locker Locker, opts Options) *Manager {
	if locker == nil {
		locker = NewInMemoryLocker()
	}
	return &Manager{
		store:      store,
		exchanger:  exchanger,
		locker:     locker,
		opts:       opts.withDefaults(),
		schedulers: make(map[string]*scheduler),
		now:        time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
}

func (m *Manager) Buffer() time.Duration {
	return m.opts.Buffer
}

// NextDelay is the wait before the next refresh: the remaining lifetime less
// the buffer, never below floor.
func NextDelay(expiresIn, buffer, floor time.Duration) time.Duration {
	d := expiresIn - buffer
	if d < floor {
		return floor
	}
	return d
}

// Schedule arms (or re-arms) the refresh timer for a stored session.
func (m *Manager) Schedule(sessionID string, ts *session.TokenSet) {
	if !ts.CanRefresh() {
		m.Cancel(sessionID)
		return
	}
	m.arm(sessionID, NextDelay(ts.ExpiresIn(m.now()), m.opts.Buffer, m.opts.MinDelay))
}

// Refresh exchanges the session's refresh token and stores the new TokenSet.
// A visibility trigger only exchanges when the token is inside the buffer.
func (m *Manager) Refresh(ctx context.Context, sessionID string, reason Reason) (*session.TokenSet, error) {
	if reason == ReasonVisibility {
		ts, err := m.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if ts.ExpiresIn(m.now()) > m.opts.Buffer {
			m.Schedule(sessionID, ts)
			return ts, nil
		}
	}

	if reason == ReasonTimer && m.State(sessionID) == Refreshing {
		return nil, apperrors.ErrRefreshInProgress
	}

	// The shared exchange outlives any single caller; a caller that goes
	// away stops waiting without cancelling it for the others.
	ch := m.group.DoChan(sessionID, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.Timeout)
		defer cancel()
		return m.refresh(shared, sessionID, reason)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*session.TokenSet).Clone(), nil
	}
}

func (m *Manager) refresh(ctx context.Context, sessionID string, reason Reason) (*session.TokenSet, error) {
	sched := m.scheduler(sessionID)
	sched.mu.Lock()
	sched.state = Refreshing
	sched.mu.Unlock()

	guard, err := m.locker.Acquire(ctx, "refresh:"+sessionID, m.opts.LockTTL)
	if err != nil {
		m.setState(sched, Idle)
		if apperrors.Is(err, ErrAlreadyLocked) {
			// Another instance is refreshing; look again once it is done.
			m.arm(sessionID, m.opts.MinDelay)
			return nil, apperrors.ErrRefreshInProgress
		}
		return nil, fmt.Errorf("%w: acquire lock: %w", apperrors.ErrRefreshFailed, err)
	}
	defer func() {
		if err := m.locker.Release(context.WithoutCancel(ctx), guard); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("[Manager] release refresh lock")
		}
	}()

	ts, err := m.store.Get(ctx, sessionID)
	if err != nil {
		m.Cancel(sessionID)
		return nil, err
	}
	if !ts.CanRefresh() {
		return nil, m.fail(sessionID, sched, reason, apperrors.ErrNoRefreshToken, true)
	}

	// The session ends with its handle cookie; it is never renewed past that.
	remaining := m.remainingLifetime(ts)
	if remaining <= 0 {
		m.Cancel(sessionID)
		if err := m.store.Delete(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("[Manager] delete expired session")
		}
		log.Info().Str("session", sessionID).Msg("[Manager] session lifetime over, not refreshing")
		return nil, apperrors.ErrSessionExpired
	}

	// A peer may have refreshed while we waited for the lock.
	if reason != ReasonManual && ts.ExpiresIn(m.now()) > m.opts.Buffer {
		m.setState(sched, Idle)
		m.Schedule(sessionID, ts)
		return ts, nil
	}

	tok, err := m.exchanger.Refresh(ctx, ts)
	if m.cancelled(sched) {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		if apperrors.Is(err, context.Canceled) {
			m.setState(sched, Idle)
			return nil, err
		}
		if isInvalidGrant(err) {
			return nil, m.fail(sessionID, sched, reason, fmt.Errorf("%w: %w", apperrors.ErrInvalidGrant, err), true)
		}
		return nil, m.fail(sessionID, sched, reason, err, false)
	}

	updated := merge(ts, tok, m.now())
	if err := m.store.Put(ctx, sessionID, updated, remaining); err != nil {
		return nil, m.fail(sessionID, sched, reason, fmt.Errorf("store refreshed tokens: %w", err), false)
	}
	// A disconnect that raced the Put must still win.
	if m.cancelled(sched) {
		if err := m.store.Delete(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("[Manager] delete disconnected session")
		}
		return nil, apperrors.ErrSessionNotFound
	}

	sched.mu.Lock()
	sched.state = Idle
	sched.failures = 0
	sched.mu.Unlock()

	metrics.Refreshes.WithLabelValues(string(reason), "success").Inc()
	log.Info().Str("session", sessionID).Str("reason", string(reason)).Time("expiresAt", updated.ExpiresAt).Msg("[Manager] tokens refreshed")
	m.Schedule(sessionID, updated)
	return updated, nil
}

// fail records a failed attempt, arms the backoff timer unless terminal and
// notifies OnFailure.
func (m *Manager) fail(sessionID string, sched *scheduler, reason Reason, cause error, terminal bool) error {
	err := fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, cause)

	sched.mu.Lock()
	sched.state = Failed
	sched.failures++
	failures := sched.failures
	sched.mu.Unlock()

	metrics.Refreshes.WithLabelValues(string(reason), "failure").Inc()
	log.Err(err).Str("session", sessionID).Str("reason", string(reason)).Int("failures", failures).Bool("terminal", terminal).Msg("[Manager] refresh failed")

	if terminal {
		m.stopTimer(sessionID)
	} else if !m.cancelled(sched) {
		m.arm(sessionID, m.backoff(failures))
	}
	if m.opts.OnFailure != nil {
		m.opts.OnFailure(sessionID, err)
	}
	return err
}

func (m *Manager) backoff(failures int) time.Duration {
	d := m.opts.MinDelay
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= m.opts.MaxBackoff {
			return m.opts.MaxBackoff
		}
	}
	return d
}

func (m *Manager) arm(sessionID string, delay time.Duration) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	sched := m.schedulerLocked(sessionID)
	m.mu.Unlock()

	sched.mu.Lock()
	defer sched.mu.Unlock()

	if sched.timer != nil {
		sched.timer.Stop()
	} else {
		metrics.ScheduledSessions.Inc()
	}
	sched.generation++
	gen := sched.generation
	sched.nextAt = m.now().Add(delay)
	sched.timer = m.afterFunc(delay, func() { m.fire(sessionID, gen) })
}

func (m *Manager) fire(sessionID string, gen uint64) {
	m.mu.Lock()
	sched, ok := m.schedulers[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	sched.mu.Lock()
	if gen != sched.generation || sched.timer == nil {
		sched.mu.Unlock()
		return
	}
	sched.timer = nil
	sched.nextAt = time.Time{}
	metrics.ScheduledSessions.Dec()
	sched.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
	defer cancel()
	if _, err := m.Refresh(ctx, sessionID, ReasonTimer); err != nil && !apperrors.Is(err, apperrors.ErrRefreshInProgress) {
		log.Debug().Err(err).Str("session", sessionID).Msg("[Manager] timer refresh")
	}
}

func (m *Manager) stopTimer(sessionID string) {
	m.mu.Lock()
	sched, ok := m.schedulers[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	sched.mu.Lock()
	defer sched.mu.Unlock()
	stopLocked(sched)
}

func stopLocked(sched *scheduler) {
	if sched.timer != nil {
		sched.timer.Stop()
		sched.timer = nil
		metrics.ScheduledSessions.Dec()
	}
	sched.generation++
	sched.nextAt = time.Time{}
}

// Cancel stops the session's timer and forgets its state. A refresh already
// in flight for the session neither stores its result nor re-arms.
func (m *Manager) Cancel(sessionID string) {
	m.mu.Lock()
	sched, ok := m.schedulers[sessionID]
	delete(m.schedulers, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	sched.mu.Lock()
	sched.cancelled = true
	stopLocked(sched)
	sched.mu.Unlock()
}

func (m *Manager) cancelled(sched *scheduler) bool {
	sched.mu.Lock()
	defer sched.mu.Unlock()
	return sched.cancelled
}

// remainingLifetime is what is left of the session's absolute lifetime. A
// TokenSet without a creation time gets the full lifetime.
func (m *Manager) remainingLifetime(ts *session.TokenSet) time.Duration {
	if ts.CreatedAt.IsZero() {
		return m.opts.SessionTTL
	}
	return ts.CreatedAt.Add(m.opts.SessionTTL).Sub(m.now())
}

// Close stops every timer. Later Schedule calls are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	schedulers := m.schedulers
	m.schedulers = make(map[string]*scheduler)
	m.mu.Unlock()

	for _, sched := range schedulers {
		sched.mu.Lock()
		stopLocked(sched)
		sched.mu.Unlock()
	}
}

// State reports the refresh state of a session; unknown sessions are Idle.
func (m *Manager) State(sessionID string) State {
	m.mu.Lock()
	sched, ok := m.schedulers[sessionID]
	m.mu.Unlock()
	if !ok {
		return Idle
	}
	sched.mu.Lock()
	defer sched.mu.Unlock()
	return sched.state
}

// NextRefreshAt reports when the armed timer fires.
func (m *Manager) NextRefreshAt(sessionID string) (time.Time, bool) {
	m.mu.Lock()
	sched, ok := m.schedulers[sessionID]
	m.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	sched.mu.Lock()
	defer sched.mu.Unlock()
	return sched.nextAt, sched.timer != nil
}

func (m *Manager) scheduler(sessionID string) *scheduler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedulerLocked(sessionID)
}

func (m *Manager) schedulerLocked(sessionID string) *scheduler {
	sched, ok := m.schedulers[sessionID]
	if !ok {
		sched = &scheduler{}
		m.schedulers[sessionID] = sched
	}
	return sched
}

func (m *Manager) setState(sched *scheduler, state State) {
	sched.mu.Lock()
	sched.state = state
	sched.mu.Unlock()
}

// merge applies a token response to a copy of ts. The launch context is
// carried over untouched.
func merge(ts *session.TokenSet, tok *oauth2.Token, now time.Time) *session.TokenSet {
	updated := ts.Clone()
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		updated.TokenType = tok.TokenType
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		updated.Scope = scope
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		updated.IDToken = idToken
	}
	updated.ExpiresAt = TokenExpiry(tok, now)
	updated.UpdatedAt = now
	return updated
}

// TokenExpiry returns the token's expiry, defaulting to an hour when the IdP
// did not send expires_in.
func TokenExpiry(tok *oauth2.Token, now time.Time) time.Time {
	if tok.Expiry.IsZero() {
		return now.Add(defaultTokenLifetime)
	}
	return tok.Expiry
}

func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	return apperrors.As(err, &re) && re.ErrorCode == "invalid_grant"
}
