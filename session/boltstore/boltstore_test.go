package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/session/sessiontest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return store
}

func TestStoreConformance(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) (session.Backend, func()) {
		store := openTestStore(t)
		return store, func() { _ = store.Close() }
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()
	now := time.Now()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, _ := session.NewID(nil)
	s := session.NewSession(id, now, time.Hour)
	if err := store.Insert(ctx, s); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Update(ctx, id, now, func(snap *session.Snapshot) error {
		return snap.Set("username", session.String("admin"))
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load(ctx, id, now, false)
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if v, ok := got.Attribute("username"); !ok || !v.Equal(session.String("admin")) {
		t.Fatalf("expected username to survive reopen, got %v", v)
	}
}

func TestStoreSweepSkipsCorruptEntries(t *testing.T) {
	store := openTestStore(t)
	defer store.Close()
	ctx := context.Background()

	id, _ := session.NewID(nil)
	key := digestKey(id)
	if err := store.update(func(b *bolt.Bucket) error { return b.Put(key, []byte{42}) }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	n, err := store.SweepExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("corrupt entries must not be swept, got %d", n)
	}
	if _, err := store.Load(ctx, id, time.Now(), false); !errors.Is(err, session.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}
