// Package goSession provides an in-process HTTP session store: opaque high-entropy tokens
// mapped to typed attribute bags that expire after a period of inactivity.
//
// The package is designed for concurrent server workloads: Manager methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Manager], [Builder], [Config] and the audit
// and metrics types. Sessions are [session.Session] handles that callers pass explicitly to
// every operation; nothing is kept in a context or a package-level variable.
//
// Storage lives behind [session.Backend]. The memory backend is the default; Redis, bbolt
// and Postgres backends share the same expiry and concurrency rules and the same
// conformance suite.
//
// # Expiry
//
// A session is expired once the time since its last access exceeds its max inactive
// interval. Expired sessions are invisible to lookups immediately and are physically
// removed by [Manager.SweepExpired], which [Manager.StartSweeper] runs on a timer.
//
// # Cookies
//
// Transporting the token is left to the caller. The cookie sub-package writes and reads
// hardened session cookies and can optionally sign the token as a JWT.
package goSession
