package goSession

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/session"
)

// maxIDAttempts bounds how many fresh IDs GetOrCreate and Rotate draw before giving up.
const maxIDAttempts = 3

// Manager is the session store API. It owns a session.Backend and layers token parsing,
// attribute rules, metrics, audit events and the background sweeper on top of it.
//
// A Manager is safe for concurrent use. Sessions are always passed explicitly; nothing is
// stored in contexts or globals.
type Manager struct {
	config  Config
	backend session.Backend
	log     logrus.FieldLogger
	audit   *audit.Dispatcher
	metrics *Metrics
	now     func() time.Time
	random  io.Reader

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	sweeperMu   sync.Mutex
	sweeperStop context.CancelFunc
	sweeperDone chan struct{}

	// rotating maps a handle to a channel closed when its in-flight Rotate returns.
	rotating sync.Map
}

// Close stops the sweeper, flushes pending audit events and closes the backend. Later calls
// return the first call's result.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.StopSweeper()
		m.audit.Close()
		m.closeErr = m.backend.Close()
	})
	return m.closeErr
}

// Backend returns the backend the Manager was built with.
func (m *Manager) Backend() session.Backend {
	return m.backend
}

// Config returns a copy of the Manager's configuration.
func (m *Manager) Config() Config {
	return m.config
}

// AuditDropped reports how many audit events were dropped because the buffer was full.
func (m *Manager) AuditDropped() uint64 {
	if m == nil {
		return 0
	}
	return m.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return m.metrics.Snapshot()
}

func (m *Manager) metricInc(id MetricID) {
	m.metrics.Inc(id)
}

func (m *Manager) checkOpen() error {
	if m == nil || m.closed.Load() {
		return ErrManagerClosed
	}
	return nil
}

// GetOrCreate returns the live session for token, refreshing its last-accessed time, or
// creates a new one when token is empty, malformed, unknown, expired or invalidated. The
// returned string is the token the client should present next time; it differs from token
// whenever a session was created.
func (m *Manager) GetOrCreate(ctx context.Context, token string) (*session.Session, string, error) {
	if err := m.checkOpen(); err != nil {
		return nil, "", err
	}

	if token != "" {
		s, err := m.Lookup(ctx, token)
		switch {
		case err == nil:
			return s, token, nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidToken):
		default:
			return nil, "", err
		}
	}

	return m.create(ctx)
}

func (m *Manager) create(ctx context.Context) (*session.Session, string, error) {
	now := m.now()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := session.NewID(m.random)
		if err != nil {
			return nil, "", err
		}

		s := session.NewSession(id, now, m.config.Session.DefaultMaxInactiveInterval)
		err = m.backend.Insert(ctx, s)
		if errors.Is(err, session.ErrDuplicateID) {
			m.metricInc(MetricIDCollision)
			m.log.WithFields(logrus.Fields{
				"session_digest": id.ShortDigest(),
				"attempt":        attempt + 1,
			}).Warn("generated session id already live, retrying")
			m.emitAudit(ctx, audit.EventSessionCollision, id.ShortDigest(), false, nil)
			continue
		}
		if err != nil {
			return nil, "", m.backendErr("insert", err)
		}

		m.metricInc(MetricSessionCreated)
		m.emitAudit(ctx, audit.EventSessionCreated, id.ShortDigest(), true, nil)
		return s, id.String(), nil
	}

	return nil, "", ErrIDCollision
}

// GetIfExists returns the live session for token and refreshes its last-accessed time.
// Unknown, expired, invalidated and malformed tokens all yield ok == false with a nil
// error; only backend failures are returned as errors.
func (m *Manager) GetIfExists(ctx context.Context, token string) (*session.Session, bool, error) {
	return absentOnMiss(m.Lookup(ctx, token))
}

// Peek is GetIfExists without the last-accessed refresh, for admin views and diagnostics.
func (m *Manager) Peek(ctx context.Context, token string) (*session.Session, bool, error) {
	return absentOnMiss(m.load(ctx, token, false))
}

func absentOnMiss(s *session.Session, err error) (*session.Session, bool, error) {
	switch {
	case err == nil:
		return s, true, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidToken):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Lookup is GetIfExists for callers that need to tell garbage input (ErrInvalidToken) from
// a well-formed token with no live session (ErrNotFound).
func (m *Manager) Lookup(ctx context.Context, token string) (*session.Session, error) {
	return m.load(ctx, token, true)
}

func (m *Manager) load(ctx context.Context, token string, touch bool) (*session.Session, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if m.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			m.metrics.Observe(MetricLookupLatency, time.Since(start))
		}()
	}

	id, err := session.ParseID(token)
	if err != nil {
		m.metricInc(MetricInvalidToken)
		return nil, ErrInvalidToken
	}

	s, err := m.backend.Load(ctx, id, m.now(), touch)
	switch {
	case err == nil:
		m.metricInc(MetricSessionLoaded)
		return s, nil
	case errors.Is(err, session.ErrNotFound):
		m.metricInc(MetricSessionMiss)
		return nil, ErrNotFound
	case errors.Is(err, session.ErrCorrupt):
		// An undecodable session is unusable; drop it so the client gets a fresh one.
		m.log.WithFields(logrus.Fields{
			"session_digest": id.ShortDigest(),
			"error":          err,
		}).Error("discarding corrupt session")
		if _, delErr := m.backend.Delete(ctx, id); delErr != nil {
			return nil, m.backendErr("delete corrupt", delErr)
		}
		m.metricInc(MetricSessionMiss)
		return nil, ErrNotFound
	default:
		return nil, m.backendErr("load", err)
	}
}

// SetAttribute stores v under key and refreshes the session's last-accessed time.
func (m *Manager) SetAttribute(ctx context.Context, s *session.Session, key string, v session.Value) error {
	if err := m.checkMutation(s); err != nil {
		return err
	}
	if err := m.validateKey(key); err != nil {
		return err
	}
	if !v.IsValid() {
		return ErrInvalidValue
	}

	maxAttrs := m.config.Session.MaxAttributes
	err := m.update(ctx, "set attribute", s, func(snap *session.Snapshot) error {
		if maxAttrs > 0 {
			if _, exists := snap.Attributes[key]; !exists && len(snap.Attributes) >= maxAttrs {
				return ErrTooManyAttributes
			}
		}
		return snap.Set(key, v)
	})
	if err != nil {
		return err
	}

	m.metricInc(MetricAttributeSet)
	return nil
}

// GetAttribute reads key from the handle. It does not contact the backend and does not
// refresh last-accessed. Invalidated handles hold no attributes.
func (m *Manager) GetAttribute(s *session.Session, key string) (session.Value, bool) {
	if s == nil || s.Invalidated() {
		return session.Value{}, false
	}
	return s.Attribute(key)
}

// RemoveAttribute deletes key and refreshes the session's last-accessed time. Removing a
// key that is not set is not an error.
func (m *Manager) RemoveAttribute(ctx context.Context, s *session.Session, key string) error {
	if err := m.checkMutation(s); err != nil {
		return err
	}

	var removed bool
	err := m.update(ctx, "remove attribute", s, func(snap *session.Snapshot) error {
		removed = snap.Remove(key)
		return nil
	})
	if err != nil {
		return err
	}

	if removed {
		m.metricInc(MetricAttributeRemoved)
	}
	return nil
}

// SetMaxInactiveInterval overrides the inactivity timeout of one session. d <= 0 makes the
// session immune to expiry; it then lives until invalidated.
func (m *Manager) SetMaxInactiveInterval(ctx context.Context, s *session.Session, d time.Duration) error {
	if err := m.checkMutation(s); err != nil {
		return err
	}

	return m.update(ctx, "set max inactive interval", s, func(snap *session.Snapshot) error {
		snap.MaxInactive = d
		return nil
	})
}

// Invalidate removes the session immediately. Later lookups of its token are absent and
// GetOrCreate with it yields a new session under a different token. Invalidating a session
// that is already gone is not an error.
func (m *Manager) Invalidate(ctx context.Context, s *session.Session) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if s == nil {
		return ErrNilSession
	}

	var (
		id      session.ID
		existed bool
		err     error
	)
	for {
		id = s.ID()
		existed, err = m.backend.Delete(ctx, id)
		if err != nil {
			return m.backendErr("delete", err)
		}
		if existed || !m.followRotation(ctx, s, id) {
			break
		}
	}
	s.MarkInvalidated()

	if existed {
		m.metricInc(MetricSessionInvalidated)
		m.emitAudit(ctx, audit.EventSessionInvalidated, id.ShortDigest(), true, nil)
	}
	return nil
}

// Rotate moves the session to a freshly generated token and returns it. Attributes and
// timestamps carry over; the old token is absent from then on. Call it when a session's
// privilege changes (for example right after login) to defeat session fixation.
func (m *Manager) Rotate(ctx context.Context, s *session.Session) (string, error) {
	if err := m.checkMutation(s); err != nil {
		return "", err
	}
	release, err := m.beginRotation(ctx, s)
	if err != nil {
		return "", err
	}
	defer release()
	if s.Invalidated() {
		return "", ErrNotFound
	}

	from := s.ID()
	now := m.now()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		to, err := session.NewID(m.random)
		if err != nil {
			return "", err
		}

		moved, err := m.backend.Rename(ctx, from, to, now)
		if errors.Is(err, session.ErrDuplicateID) {
			m.metricInc(MetricIDCollision)
			m.emitAudit(ctx, audit.EventSessionCollision, to.ShortDigest(), false, nil)
			continue
		}
		if err != nil {
			return "", m.mutationErr("rotate", s, err)
		}

		s.CompareAndRefresh(from, moved)
		m.metricInc(MetricSessionRotated)
		m.emitAudit(ctx, audit.EventSessionRotated, from.ShortDigest(), true, map[string]string{
			"new_digest": to.ShortDigest(),
		})
		return to.String(), nil
	}

	return "", ErrIDCollision
}

// SweepExpired removes every session expired at now and returns how many were removed.
// The StartSweeper goroutine calls it on a timer; tests and custom schedulers may call it
// directly with any instant.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	removed, err := m.backend.SweepExpired(ctx, now)
	m.metricInc(MetricSweepRun)
	if removed > 0 {
		m.metrics.Add(MetricSessionExpired, uint64(removed))
		m.emitAudit(ctx, audit.EventSessionExpired, "", true, map[string]string{
			"removed": strconv.Itoa(removed),
		})
	}
	if err != nil {
		return removed, m.backendErr("sweep", err)
	}
	return removed, nil
}

// Count returns the number of stored sessions, including expired ones not yet swept.
func (m *Manager) Count(ctx context.Context) (int, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	n, err := m.backend.Count(ctx)
	if err != nil {
		return 0, m.backendErr("count", err)
	}
	return n, nil
}

// update applies fn to the session behind s and syncs s with the result. A miss caused by a
// concurrent Rotate of the same handle is retried against the new ID.
func (m *Manager) update(ctx context.Context, op string, s *session.Session, fn session.UpdateFunc) error {
	for {
		id := s.ID()
		updated, err := m.backend.Update(ctx, id, m.now(), fn)
		if err == nil {
			s.CompareAndRefresh(id, updated)
			return nil
		}
		if errors.Is(err, session.ErrNotFound) && m.followRotation(ctx, s, id) {
			continue
		}
		return m.mutationErr(op, s, err)
	}
}

// beginRotation claims s for one Rotate, waiting out any Rotate already running on it. The
// returned func releases the claim.
func (m *Manager) beginRotation(ctx context.Context, s *session.Session) (func(), error) {
	done := make(chan struct{})
	for {
		prev, running := m.rotating.LoadOrStore(s, done)
		if !running {
			break
		}
		select {
		case <-prev.(chan struct{}):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return func() {
		m.rotating.Delete(s)
		close(done)
	}, nil
}

// followRotation reports whether a miss on id happened because s moved to another ID. It
// waits for a Rotate still running on s before looking.
func (m *Manager) followRotation(ctx context.Context, s *session.Session, id session.ID) bool {
	if v, ok := m.rotating.Load(s); ok {
		select {
		case <-v.(chan struct{}):
		case <-ctx.Done():
			return false
		}
	}
	return !s.Invalidated() && s.ID() != id
}

func (m *Manager) checkMutation(s *session.Session) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if s == nil {
		return ErrNilSession
	}
	if s.Invalidated() {
		return ErrNotFound
	}
	return nil
}

func (m *Manager) validateKey(key string) error {
	if key == "" || len(key) > m.config.Session.MaxKeyLength {
		return ErrInvalidKey
	}
	return nil
}

// mutationErr maps a failed backend mutation to the caller-facing error. A session that
// vanished underneath the handle marks the handle invalidated.
func (m *Manager) mutationErr(op string, s *session.Session, err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		s.MarkInvalidated()
		return ErrNotFound
	case errors.Is(err, session.ErrBackendUnavailable), errors.Is(err, session.ErrCorrupt):
		return m.backendErr(op, err)
	default:
		return err
	}
}

func (m *Manager) backendErr(op string, err error) error {
	m.metricInc(MetricBackendError)
	m.log.WithFields(logrus.Fields{
		"op":    op,
		"error": err,
	}).Warn("session backend failure")
	return err
}

func (m *Manager) emitAudit(ctx context.Context, eventType, digest string, success bool, meta map[string]string) {
	if m.audit == nil {
		return
	}
	m.audit.Emit(ctx, audit.Event{
		Timestamp:     m.now().UTC(),
		EventType:     eventType,
		SessionDigest: digest,
		Success:       success,
		Metadata:      meta,
	})
}
