package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-ehr-connect/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

type memoryEntry struct {
	tokens    *TokenSet
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-memory implementation of Store
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
	}
}

// Put creates or replaces a session record
func (m *MemoryStore) Put(_ context.Context, sessionID string, ts *TokenSet, ttl time.Duration) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if ts == nil {
		return fmt.Errorf("token set is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Store a copy to prevent external modifications
	entry := memoryEntry{tokens: ts.Clone()}
	if ttl > 0 {
		entry.expiresAt = NowTimeFunc().Add(ttl)
	}
	m.sessions[sessionID] = entry
	return nil
}

// Get retrieves a session record by ID
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*TokenSet, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID is required")
	}

	m.mu.RLock()
	entry, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.ErrSessionNotFound
	}

	if !entry.expiresAt.IsZero() && NowTimeFunc().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		return nil, errors.ErrSessionNotFound
	}

	return entry.tokens.Clone(), nil
}

// Delete removes a session record
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}
