package session

import "errors"

var (
	// ErrNotFound is returned when a session is unknown, expired or invalidated.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidID is returned when a token is malformed (wrong length or charset).
	ErrInvalidID = errors.New("invalid session token")
	// ErrDuplicateID is returned by Insert and Rename when the target ID is already live.
	ErrDuplicateID = errors.New("duplicate session id")
	// ErrBackendUnavailable wraps infrastructure failures of durable backends.
	ErrBackendUnavailable = errors.New("session backend unavailable")
	// ErrTypeMismatch is returned when an attribute is read as a type it does not hold.
	ErrTypeMismatch = errors.New("attribute type mismatch")
	// ErrInvalidValue is returned when a zero Value is stored.
	ErrInvalidValue = errors.New("invalid attribute value")
	// ErrCorrupt is returned when a stored session blob cannot be decoded.
	ErrCorrupt = errors.New("session blob corrupt")
)
