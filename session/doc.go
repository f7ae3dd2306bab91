// Package session provides the session model, the typed attribute variant, token generation,
// the versioned session codec and the storage backends that own session state.
//
// # Backends
//
// Every backend implements [Backend]. [MemoryStore] keeps live [Session] pointers in process
// and is the default. [RedisStore] persists sessions in Redis; the boltstore and pgstore
// sub-packages persist them in bbolt and PostgreSQL. All backends evaluate expiry against the
// caller-supplied time, never the wall clock, so behavior is identical across them.
//
// # Binary encoding
//
// Durable backends store a [Snapshot] encoded by [Encode]: one version byte followed by a CBOR
// body. The decoder rejects unknown versions.
//
// # Architecture boundaries
//
// This package owns session state. It does NOT read HTTP requests, set cookies, or decide what
// a missing session means for the caller; those responsibilities belong to the Manager and the
// request-handling layer.
//
// # What this package must NOT do
//
//   - Import goSession or cookie (no upward imports).
//   - Persist raw tokens: durable keys are derived from [ID.Digest].
//   - Return an error for an unknown, expired or invalidated session other than [ErrNotFound].
package session
