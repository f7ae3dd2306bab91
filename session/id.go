package session

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// IDSize is the number of random bytes in a session token (256 bits).
const IDSize = 32

// encodedIDLen is the length of a base64url (unpadded) encoded ID.
var encodedIDLen = base64.RawURLEncoding.EncodedLen(IDSize)

// ID is the opaque session identifier. Its String form is the token handed to clients.
type ID [IDSize]byte

// NewID reads a fresh identifier from r, or from crypto/rand when r is nil.
func NewID(r io.Reader) (ID, error) {
	if r == nil {
		r = rand.Reader
	}
	var id ID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return ID{}, fmt.Errorf("session: generate id: %w", err)
	}
	return id, nil
}

// ParseID decodes a client-presented token. Any token that is not exactly the canonical
// base64url encoding of IDSize bytes yields ErrInvalidID.
func ParseID(token string) (ID, error) {
	var id ID
	if len(token) != encodedIDLen {
		return id, ErrInvalidID
	}

	raw, err := base64.RawURLEncoding.Strict().DecodeString(token)
	if err != nil || len(raw) != IDSize {
		return id, ErrInvalidID
	}

	copy(id[:], raw)
	return id, nil
}

func (id ID) String() string {
	// base64url, no padding
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// IsZero reports whether id was never assigned.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Digest returns the blake2b-256 hash of the identifier. Durable backends key sessions by
// digest so the stored data never contains live tokens.
func (id ID) Digest() [32]byte {
	return blake2b.Sum256(id[:])
}

// DigestHex is the hex form of Digest, used in storage keys.
func (id ID) DigestHex() string {
	d := id.Digest()
	return hex.EncodeToString(d[:])
}

// ShortDigest is a log-safe prefix of DigestHex.
func (id ID) ShortDigest() string {
	return id.DigestHex()[:12]
}
