package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-process Backend. It hands out live *Session pointers, so two lookups
// of the same token observe the same object.
//
// Lock order is always store lock, then session lock; no method takes the store lock while
// holding a session lock.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[ID]*Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[ID]*Session),
	}
}

var _ Backend = (*MemoryStore)(nil)

func (m *MemoryStore) Insert(_ context.Context, s *Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	id := s.ID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		return ErrDuplicateID
	}
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) lookup(id ID) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *MemoryStore) Load(_ context.Context, id ID, now time.Time, touch bool) (*Session, error) {
	s := m.lookup(id)
	if s == nil {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	if s.id != id {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.invalidated || s.snap.Expired(now) {
		s.mu.Unlock()
		m.removeStale(id, s, now)
		return nil, ErrNotFound
	}
	if touch {
		s.snap.Touch(now)
		s.snap.New = false
	}
	s.mu.Unlock()

	return s, nil
}

func (m *MemoryStore) Update(_ context.Context, id ID, now time.Time, fn UpdateFunc) (*Session, error) {
	s := m.lookup(id)
	if s == nil {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	if s.id != id {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.invalidated || s.snap.Expired(now) {
		s.mu.Unlock()
		m.removeStale(id, s, now)
		return nil, ErrNotFound
	}

	next := s.snap.Clone()
	if fn != nil {
		if err := fn(&next); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	next.Touch(now)
	s.snap = next
	s.mu.Unlock()

	return s, nil
}

func (m *MemoryStore) Rename(_ context.Context, from, to ID, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[from]
	if !ok {
		return nil, ErrNotFound
	}
	if _, taken := m.sessions[to]; taken {
		return nil, ErrDuplicateID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.invalidated {
		return nil, ErrNotFound
	}
	if s.snap.Expired(now) {
		delete(m.sessions, from)
		s.invalidated = true
		return nil, ErrNotFound
	}

	delete(m.sessions, from)
	s.id = to
	s.snap.Touch(now)
	m.sessions[to] = s

	return s, nil
}

func (m *MemoryStore) Delete(_ context.Context, id ID) (bool, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		s.MarkInvalidated()
	}
	return ok, nil
}

// SweepExpired evaluates timestamps without the store lock and takes the write lock only to
// remove candidates, re-checking each one so a session touched in between survives. Entries
// whose session was invalidated without being unlinked are dropped as well.
func (m *MemoryStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	type entry struct {
		id ID
		s  *Session
	}

	m.mu.RLock()
	all := make([]entry, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, entry{id: id, s: s})
	}
	m.mu.RUnlock()

	candidates := all[:0]
	for _, e := range all {
		e.s.mu.RLock()
		stale := e.s.invalidated || e.s.snap.Expired(now)
		e.s.mu.RUnlock()
		if stale {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	removed := 0
	m.mu.Lock()
	for _, e := range candidates {
		if m.sessions[e.id] != e.s {
			continue
		}
		e.s.mu.Lock()
		if e.s.invalidated || e.s.snap.Expired(now) {
			delete(m.sessions, e.id)
			e.s.invalidated = true
			removed++
		}
		e.s.mu.Unlock()
	}
	m.mu.Unlock()

	return removed, nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// Close is a no-op; sessions live as long as the store value.
func (m *MemoryStore) Close() error {
	return nil
}

// removeStale unlinks id when it still maps to s and s is expired or invalidated.
func (m *MemoryStore) removeStale(id ID, s *Session, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[id] != s {
		return
	}

	s.mu.Lock()
	if s.invalidated || s.snap.Expired(now) {
		delete(m.sessions, id)
		s.invalidated = true
	}
	s.mu.Unlock()
}
