package notes

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-ehr-connect/internal/errors"
)

// MemoryStore is a thread-safe in-memory Store keyed by report ID.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]*Note
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(notes ...*Note) *MemoryStore {
	s := &MemoryStore{notes: make(map[string]*Note)}
	for _, n := range notes {
		s.Add(n)
	}
	return s
}

// Add stores n, replacing an older note for the same report.
func (s *MemoryStore) Add(n *Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.notes[n.ReportID]; ok && existing.CreatedAt.After(n.CreatedAt) {
		return
	}
	c := *n
	s.notes[n.ReportID] = &c
}

func (s *MemoryStore) Lookup(_ context.Context, reportID string) (*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[reportID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	c := *n
	return &c, nil
}
