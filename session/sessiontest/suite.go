// Package sessiontest holds a conformance suite every session.Backend must pass.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/session"
)

// Factory returns a fresh, empty backend and a cleanup func.
type Factory func(t *testing.T) (session.Backend, func())

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newID(t *testing.T) session.ID {
	t.Helper()
	id, err := session.NewID(nil)
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	return id
}

func insert(t *testing.T, b session.Backend, now time.Time, maxInactive time.Duration) session.ID {
	t.Helper()
	id := newID(t)
	if err := b.Insert(context.Background(), session.NewSession(id, now, maxInactive)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

// Run executes the suite against backends built by f.
func Run(t *testing.T, f Factory) {
	t.Run("LoadUnknownIsNotFound", func(t *testing.T) {
		b, done := f(t)
		defer done()

		_, err := b.Load(context.Background(), newID(t), base, true)
		if !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InsertDuplicateRejected", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		id := insert(t, b, base, time.Hour)
		err := b.Insert(ctx, session.NewSession(id, base, time.Hour))
		if !errors.Is(err, session.ErrDuplicateID) {
			t.Fatalf("expected ErrDuplicateID, got %v", err)
		}
	})

	t.Run("UpdateRoundTripsAttributes", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		id := insert(t, b, base, time.Hour)
		later := base.Add(time.Minute)
		_, err := b.Update(ctx, id, later, func(s *session.Snapshot) error {
			return s.Set("username", session.String("admin"))
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}

		got, err := b.Load(ctx, id, later, false)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		v, ok := got.Attribute("username")
		if !ok {
			t.Fatal("expected username attribute")
		}
		if name, _ := v.AsString(); name != "admin" {
			t.Fatalf("expected admin, got %q", name)
		}
		if !got.LastAccessedAt().Equal(later) {
			t.Fatalf("expected last access %v, got %v", later, got.LastAccessedAt())
		}
	})

	t.Run("FailedUpdateLeavesSessionUnchanged", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		id := insert(t, b, base, time.Hour)
		boom := errors.New("boom")
		_, err := b.Update(ctx, id, base.Add(time.Minute), func(s *session.Snapshot) error {
			_ = s.Set("k", session.Int(1))
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected callback error, got %v", err)
		}

		got, err := b.Load(ctx, id, base, false)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if _, ok := got.Attribute("k"); ok {
			t.Fatal("failed update must not be persisted")
		}
		if !got.LastAccessedAt().Equal(base) {
			t.Fatalf("failed update must not touch, got %v", got.LastAccessedAt())
		}
	})

	t.Run("TouchingLoadClearsNew", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		id := insert(t, b, base, time.Hour)
		first, err := b.Load(ctx, id, base, false)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if !first.IsNew() {
			t.Fatal("expected fresh session to be new")
		}

		second, err := b.Load(ctx, id, base.Add(time.Second), true)
		if err != nil {
			t.Fatalf("touching load: %v", err)
		}
		if second.IsNew() {
			t.Fatal("expected touched session to no longer be new")
		}
		if !second.LastAccessedAt().Equal(base.Add(time.Second)) {
			t.Fatalf("expected touch to move last access, got %v", second.LastAccessedAt())
		}
	})

	t.Run("ExpiryBoundary", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		const d = 10 * time.Minute
		id := insert(t, b, base, d)

		n, err := b.SweepExpired(ctx, base.Add(d-time.Second))
		if err != nil {
			t.Fatalf("sweep before deadline: %v", err)
		}
		if n != 0 {
			t.Fatalf("expected nothing swept before deadline, got %d", n)
		}
		if _, err := b.Load(ctx, id, base.Add(d-time.Second), false); err != nil {
			t.Fatalf("expected session live before deadline: %v", err)
		}

		n, err = b.SweepExpired(ctx, base.Add(d+time.Second))
		if err != nil {
			t.Fatalf("sweep after deadline: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected one session swept, got %d", n)
		}
		if _, err := b.Load(ctx, id, base, false); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("expected swept session to be gone, got %v", err)
		}
	})

	t.Run("ExpiredLoadIsNotFound", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		id := insert(t, b, base, time.Minute)
		_, err := b.Load(ctx, id, base.Add(2*time.Minute), true)
		if !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for expired session, got %v", err)
		}
		count, err := b.Count(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 0 {
			t.Fatalf("expected expired session removed on load, count=%d", count)
		}
	})

	t.Run("SweepKeepsTouchedAndImmortalSessions", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		const d = time.Minute
		stale := insert(t, b, base, d)
		touched := insert(t, b, base, d)
		immortal := insert(t, b, base, 0)

		if _, err := b.Update(ctx, touched, base.Add(50*time.Second), nil); err != nil {
			t.Fatalf("touch: %v", err)
		}

		n, err := b.SweepExpired(ctx, base.Add(90*time.Second))
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected exactly the stale session swept, got %d", n)
		}
		if _, err := b.Load(ctx, stale, base, false); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("stale session should be gone, got %v", err)
		}
		if _, err := b.Load(ctx, touched, base.Add(90*time.Second), false); err != nil {
			t.Fatalf("touched session should survive: %v", err)
		}
		if _, err := b.Load(ctx, immortal, base.Add(24*time.Hour), false); err != nil {
			t.Fatalf("session without timeout should survive: %v", err)
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		id := insert(t, b, base, time.Hour)
		existed, err := b.Delete(ctx, id)
		if err != nil || !existed {
			t.Fatalf("first delete: existed=%v err=%v", existed, err)
		}
		existed, err = b.Delete(ctx, id)
		if err != nil || existed {
			t.Fatalf("second delete: existed=%v err=%v", existed, err)
		}
		if _, err := b.Update(ctx, id, base, nil); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("update after delete must not resurrect, got %v", err)
		}
		if _, err := b.Load(ctx, id, base, true); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("load after delete: %v", err)
		}
	})

	t.Run("RenameMovesSession", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		from := insert(t, b, base, time.Hour)
		if _, err := b.Update(ctx, from, base, func(s *session.Snapshot) error {
			return s.Set("cart", session.Strings([]string{"apple"}))
		}); err != nil {
			t.Fatalf("update: %v", err)
		}

		to := newID(t)
		moved, err := b.Rename(ctx, from, to, base.Add(time.Second))
		if err != nil {
			t.Fatalf("rename: %v", err)
		}
		if moved.ID() != to {
			t.Fatal("renamed session must carry the new id")
		}
		if _, err := b.Load(ctx, from, base, false); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("old id must be dead, got %v", err)
		}
		got, err := b.Load(ctx, to, base.Add(time.Second), false)
		if err != nil {
			t.Fatalf("load new id: %v", err)
		}
		if _, ok := got.Attribute("cart"); !ok {
			t.Fatal("attributes must follow the rename")
		}

		other := insert(t, b, base, time.Hour)
		if _, err := b.Rename(ctx, other, to, base); !errors.Is(err, session.ErrDuplicateID) {
			t.Fatalf("rename onto live id: expected ErrDuplicateID, got %v", err)
		}
	})

	t.Run("ConcurrentInsertsAreAllKept", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		const n = 64
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := session.NewID(nil)
				if err != nil {
					errs <- err
					return
				}
				if err := b.Insert(ctx, session.NewSession(id, base, time.Hour)); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent insert: %v", err)
		}

		count, err := b.Count(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != n {
			t.Fatalf("expected %d sessions, got %d", n, count)
		}
	})

	t.Run("ConcurrentUpdatesAreSerialized", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		id := insert(t, b, base, time.Hour)
		const writers = 16
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := b.Update(ctx, id, base.Add(time.Second), func(s *session.Snapshot) error {
					var n int64
					if v, ok := s.Attributes["hits"]; ok {
						n, _ = v.AsInt()
					}
					if err := s.Set("hits", session.Int(n+1)); err != nil {
						return err
					}
					return s.Set(fmt.Sprintf("writer-%d", i), session.Bool(true))
				})
				if err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent update: %v", err)
		}

		got, err := b.Load(ctx, id, base.Add(time.Second), false)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		v, _ := got.Attribute("hits")
		if hits, _ := v.AsInt(); hits != writers {
			t.Fatalf("expected %d hits (no lost updates), got %d", writers, hits)
		}
		if got.Len() != writers+1 {
			t.Fatalf("expected %d attributes, got %d", writers+1, got.Len())
		}
	})

	t.Run("RenameStrandsNothingUnderOldID", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		from := insert(t, b, base, time.Hour)
		to := newID(t)
		if _, err := b.Rename(ctx, from, to, base); err != nil {
			t.Fatalf("rename: %v", err)
		}

		// A writer that read the old id before the rename.
		if _, err := b.Update(ctx, from, base, func(s *session.Snapshot) error {
			return s.Set("late", session.Bool(true))
		}); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("update of old id: expected ErrNotFound, got %v", err)
		}
		existed, err := b.Delete(ctx, from)
		if err != nil || existed {
			t.Fatalf("delete of old id: existed=%v err=%v", existed, err)
		}

		if _, err := b.Update(ctx, to, base, func(s *session.Snapshot) error {
			return s.Set("late", session.Bool(true))
		}); err != nil {
			t.Fatalf("update of new id: %v", err)
		}
		got, err := b.Load(ctx, to, base, false)
		if err != nil {
			t.Fatalf("load new id: %v", err)
		}
		if _, ok := got.Attribute("late"); !ok {
			t.Fatal("retried write must land on the renamed session")
		}

		removed, err := b.SweepExpired(ctx, base.Add(2*time.Hour))
		if err != nil || removed != 1 {
			t.Fatalf("sweep: removed=%d err=%v", removed, err)
		}
		if count, _ := b.Count(ctx); count != 0 {
			t.Fatalf("expected empty store after sweep, got %d", count)
		}
	})

	t.Run("SubMicrosecondOvershootIsLive", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		insert(t, b, base, time.Hour)
		deadline := base.Add(time.Hour)

		removed, err := b.SweepExpired(ctx, deadline.Add(session.Resolution-time.Nanosecond))
		if err != nil || removed != 0 {
			t.Fatalf("sweep inside the deadline microsecond: removed=%d err=%v", removed, err)
		}
		removed, err = b.SweepExpired(ctx, deadline.Add(session.Resolution))
		if err != nil || removed != 1 {
			t.Fatalf("sweep one microsecond past: removed=%d err=%v", removed, err)
		}
	})

	t.Run("ConcurrentRenamesAndUpdates", func(t *testing.T) {
		b, done := f(t)
		defer done()
		ctx := context.Background()

		// cur is the session's current id. The renamer holds mu across Rename and the
		// assignment, so a writer that misses can tell a rename from a lost session.
		var mu sync.Mutex
		cur := insert(t, b, base, time.Hour)
		current := func() session.ID {
			mu.Lock()
			defer mu.Unlock()
			return cur
		}

		const (
			writers = 4
			writes  = 8
			renames = 8
		)
		var wg sync.WaitGroup
		errs := make(chan error, writers+1)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < renames; i++ {
				to, err := session.NewID(nil)
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				_, err = b.Rename(ctx, cur, to, base)
				if err == nil {
					cur = to
				}
				mu.Unlock()
				if err != nil {
					errs <- fmt.Errorf("rename %d: %w", i, err)
					return
				}
			}
		}()

		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < writes; i++ {
					key := fmt.Sprintf("w%d-%d", w, i)
					for {
						id := current()
						_, err := b.Update(ctx, id, base, func(s *session.Snapshot) error {
							return s.Set(key, session.Int(int64(i)))
						})
						if err == nil {
							break
						}
						if errors.Is(err, session.ErrNotFound) && current() != id {
							continue
						}
						errs <- fmt.Errorf("writer %d update %d: %w", w, i, err)
						return
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatal(err)
		}

		got, err := b.Load(ctx, current(), base, false)
		if err != nil {
			t.Fatalf("load final id: %v", err)
		}
		if got.Len() != writers*writes {
			t.Fatalf("expected %d attributes, got %d", writers*writes, got.Len())
		}
		if count, _ := b.Count(ctx); count != 1 {
			t.Fatalf("expected exactly one stored session, got %d", count)
		}
		removed, err := b.SweepExpired(ctx, base.Add(2*time.Hour))
		if err != nil || removed != 1 {
			t.Fatalf("sweep: removed=%d err=%v", removed, err)
		}
	})
}
