package session

import (
	"context"
	"time"
)

// Store persists TokenSets keyed by an opaque session ID held by the browser
// in a signed cookie. Put replaces the whole record.
type Store interface {
	Get(ctx context.Context, sessionID string) (*TokenSet, error)
	Put(ctx context.Context, sessionID string, ts *TokenSet, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}
