package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/session/sessiontest"
)

func TestMemoryStoreConformance(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) (session.Backend, func()) {
		return session.NewMemoryStore(), func() {}
	})
}

func TestMemoryStoreReturnsSameObject(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	id, _ := session.NewID(nil)
	created := session.NewSession(id, now, time.Hour)
	if err := store.Insert(ctx, created); err != nil {
		t.Fatalf("insert: %v", err)
	}

	a, err := store.Load(ctx, id, now, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b, err := store.Load(ctx, id, now, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if a != created || b != created {
		t.Fatal("memory store must hand out the stored session object")
	}
}

func TestMemoryStoreDeleteMarksHandleInvalidated(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	id, _ := session.NewID(nil)
	s := session.NewSession(id, now, time.Hour)
	if err := store.Insert(ctx, s); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !s.Invalidated() {
		t.Fatal("deleted session handle must report invalidated")
	}

	if _, err := store.Update(ctx, id, now, func(snap *session.Snapshot) error {
		return snap.Set("k", session.Int(1))
	}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreSweepRacesWithTouch(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	const d = time.Minute

	ids := make([]session.ID, 200)
	for i := range ids {
		id, _ := session.NewID(nil)
		ids[i] = id
		if err := store.Insert(ctx, session.NewSession(id, start, d)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	sweepAt := start.Add(2 * d)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := store.SweepExpired(ctx, sweepAt); err != nil {
			t.Errorf("sweep: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		for _, id := range ids {
			// Touching at the sweep instant never rescues an already-expired session.
			_, _ = store.Load(ctx, id, sweepAt, true)
		}
	}()
	wg.Wait()

	count, _ := store.Count(ctx)
	if count != 0 {
		t.Fatalf("expected every expired session gone, %d left", count)
	}
}

func TestMemoryStoreDropsInvalidatedEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("sweep", func(t *testing.T) {
		store := session.NewMemoryStore()
		id, _ := session.NewID(nil)
		s := session.NewSession(id, now, 0)
		if err := store.Insert(ctx, s); err != nil {
			t.Fatalf("insert: %v", err)
		}

		// The handle is flagged while its entry is still linked.
		s.MarkInvalidated()
		removed, err := store.SweepExpired(ctx, now)
		if err != nil || removed != 1 {
			t.Fatalf("sweep: removed=%d err=%v", removed, err)
		}
		if count, _ := store.Count(ctx); count != 0 {
			t.Fatalf("expected empty store, got %d", count)
		}
	})

	t.Run("load", func(t *testing.T) {
		store := session.NewMemoryStore()
		id, _ := session.NewID(nil)
		s := session.NewSession(id, now, time.Hour)
		if err := store.Insert(ctx, s); err != nil {
			t.Fatalf("insert: %v", err)
		}

		s.MarkInvalidated()
		if _, err := store.Load(ctx, id, now, true); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if count, _ := store.Count(ctx); count != 0 {
			t.Fatalf("load must unlink the invalidated entry, count=%d", count)
		}
	})
}
