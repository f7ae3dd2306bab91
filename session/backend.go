package session

import (
	"context"
	"time"
)

// UpdateFunc mutates a session snapshot inside a backend's per-session critical section.
// Returning an error aborts the update and leaves the stored session unchanged.
type UpdateFunc func(*Snapshot) error

// Backend owns the mapping from ID to session state.
//
// Implementations must serialize Insert, Delete, Rename and the removal step of SweepExpired
// against each other, and serialize Update calls per session. All expiry decisions use the
// now argument.
type Backend interface {
	// Insert stores a new session. It returns ErrDuplicateID when the ID is already live.
	Insert(ctx context.Context, s *Session) error
	// Load returns the session for id. Unknown or expired sessions yield ErrNotFound; an
	// expired session is removed on the way out. When touch is true, LastAccessedAt is moved
	// to now and the New flag is cleared.
	Load(ctx context.Context, id ID, now time.Time, touch bool) (*Session, error)
	// Update applies fn to the session and then touches it at now.
	Update(ctx context.Context, id ID, now time.Time, fn UpdateFunc) (*Session, error)
	// Rename moves a live session from one ID to another and touches it at now.
	Rename(ctx context.Context, from, to ID, now time.Time) (*Session, error)
	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, id ID) (bool, error)
	// SweepExpired removes every session expired at now and returns how many were removed.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	// Count returns the number of stored sessions, including expired ones not yet swept.
	Count(ctx context.Context) (int, error)
	Close() error
}
