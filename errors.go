package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/session"
)

var (
	// ErrNotFound is returned by Lookup when the token is unknown, expired or invalidated.
	ErrNotFound = session.ErrNotFound
	// ErrInvalidToken is returned by Lookup when the token is malformed.
	ErrInvalidToken = session.ErrInvalidID
	// ErrTypeMismatch is returned when an attribute is read as a type it does not hold.
	ErrTypeMismatch = session.ErrTypeMismatch
	// ErrInvalidValue is returned when a zero session.Value is stored.
	ErrInvalidValue = session.ErrInvalidValue
	// ErrBackendUnavailable wraps infrastructure failures of the configured backend.
	ErrBackendUnavailable = session.ErrBackendUnavailable
	// ErrDuplicateID is returned by backends when an ID is already live.
	ErrDuplicateID = session.ErrDuplicateID
	// ErrCorrupt is returned when a stored session cannot be decoded.
	ErrCorrupt = session.ErrCorrupt

	// ErrIDCollision is returned when every freshly generated ID was already taken.
	ErrIDCollision = errors.New("session id collision")
	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("session manager closed")
	// ErrNilSession is returned when a nil *session.Session is passed in.
	ErrNilSession = errors.New("nil session")
	// ErrInvalidKey is returned for empty or oversized attribute keys.
	ErrInvalidKey = errors.New("invalid attribute key")
	// ErrTooManyAttributes is returned when a session would exceed Session.MaxAttributes.
	ErrTooManyAttributes = errors.New("too many session attributes")
	// ErrSweeperRunning is returned by StartSweeper when a sweeper is already active.
	ErrSweeperRunning = errors.New("sweeper already running")
)
