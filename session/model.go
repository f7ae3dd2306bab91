package session

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is the plain state of a session. Durable backends persist it; update callbacks
// mutate it.
type Snapshot struct {
	Attributes     map[string]Value
	CreatedAt      time.Time
	LastAccessedAt time.Time
	// MaxInactive <= 0 means the session never expires.
	MaxInactive time.Duration
	// New stays true until the client presents the token again.
	New bool
}

// Resolution is the granularity of expiry decisions. Durable backends index deadlines in
// microseconds, so now is truncated to it before comparing and every backend draws the same
// boundary.
const Resolution = time.Microsecond

// Expired reports whether the session is past its inactivity window at now.
// The boundary is exclusive: a session idle for exactly MaxInactive is still live.
func (s *Snapshot) Expired(now time.Time) bool {
	deadline, ok := s.Deadline()
	if !ok {
		return false
	}
	return now.Truncate(Resolution).After(deadline)
}

// Deadline is the last instant at which the session is still live. ok is false for sessions
// that never expire.
func (s *Snapshot) Deadline() (deadline time.Time, ok bool) {
	if s.MaxInactive <= 0 {
		return time.Time{}, false
	}
	return s.LastAccessedAt.Add(s.MaxInactive), true
}

// Touch moves LastAccessedAt forward to now. It never moves it backwards.
func (s *Snapshot) Touch(now time.Time) {
	if now.After(s.LastAccessedAt) {
		s.LastAccessedAt = now
	}
}

// Set stores v under key. Invalid values are rejected.
func (s *Snapshot) Set(key string, v Value) error {
	if !v.IsValid() {
		return ErrInvalidValue
	}
	if s.Attributes == nil {
		s.Attributes = make(map[string]Value)
	}
	s.Attributes[key] = v
	return nil
}

// Remove deletes key and reports whether it was present.
func (s *Snapshot) Remove(key string) bool {
	if _, ok := s.Attributes[key]; !ok {
		return false
	}
	delete(s.Attributes, key)
	return true
}

// Clone returns a copy that shares no mutable state with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Attributes = make(map[string]Value, len(s.Attributes))
	for k, v := range s.Attributes {
		out.Attributes[k] = v
	}
	return out
}

// Session is a handle on one client's server-side state.
//
// Reads on a Session are safe for concurrent use. Mutation goes through a Backend (usually via
// the Manager), which serializes writers per session.
type Session struct {
	mu          sync.RWMutex
	id          ID
	snap        Snapshot
	invalidated bool
}

// NewSession builds a fresh session created and last accessed at now.
func NewSession(id ID, now time.Time, maxInactive time.Duration) *Session {
	return &Session{
		id: id,
		snap: Snapshot{
			Attributes:     make(map[string]Value),
			CreatedAt:      now,
			LastAccessedAt: now,
			MaxInactive:    maxInactive,
			New:            true,
		},
	}
}

// FromSnapshot wraps a decoded snapshot in a Session handle.
func FromSnapshot(id ID, snap Snapshot) *Session {
	if snap.Attributes == nil {
		snap.Attributes = make(map[string]Value)
	}
	return &Session{id: id, snap: snap}
}

func (s *Session) ID() ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Token is the string form of ID, the value handed to clients.
func (s *Session) Token() string {
	return s.ID().String()
}

func (s *Session) Attribute(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snap.Attributes[key]
	return v, ok
}

// AttributeNames returns the attribute keys in sorted order.
func (s *Session) AttributeNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.snap.Attributes))
	for k := range s.snap.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snap.Attributes)
}

func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.CreatedAt
}

func (s *Session) LastAccessedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.LastAccessedAt
}

func (s *Session) MaxInactiveInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.MaxInactive
}

// IsNew reports whether the client has not yet presented this session's token back.
func (s *Session) IsNew() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.New
}

// Invalidated reports whether the session was removed from its store through this handle's
// backend. Only the memory backend tracks this on live handles.
func (s *Session) Invalidated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invalidated
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// CompareAndRefresh replaces the state of s with the state of other, but only while s still
// carries id; a result computed against an ID that s has since moved away from is dropped.
// It keeps a caller's handle in step with a copy returned by a durable backend. An
// invalidated handle stays invalidated.
func (s *Session) CompareAndRefresh(id ID, other *Session) bool {
	if other == nil {
		return false
	}
	if other == s {
		return s.ID() == id
	}
	other.mu.RLock()
	next := other.id
	snap := other.snap.Clone()
	invalidated := other.invalidated
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != id {
		return false
	}
	s.id = next
	s.snap = snap
	s.invalidated = s.invalidated || invalidated
	return true
}

// MarkInvalidated flags a handle whose session no longer exists in its backend.
func (s *Session) MarkInvalidated() {
	s.mu.Lock()
	s.invalidated = true
	s.mu.Unlock()
}
