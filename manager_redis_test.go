package goSession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/MrEthical07/goSession/session"
)

func newRedisManager(t *testing.T) (*Manager, *fakeClock, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.Redis.Addr = mr.Addr()
	rdb := NewRedisClient(cfg.Redis)

	m, clock := newTestManager(t, func(b *Builder) {
		b.WithConfig(cfg).WithBackend(NewRedisStore(rdb, cfg.Redis))
	})
	return m, clock, mr
}

func TestRedisManagerLifecycle(t *testing.T) {
	m, clock, _ := newRedisManager(t)
	ctx := context.Background()

	s, token, err := m.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := m.SetAttribute(ctx, s, "user", session.String("admin")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	clock.Advance(time.Minute)
	loaded, ok, err := m.GetIfExists(ctx, token)
	if err != nil || !ok {
		t.Fatalf("lookup failed: ok=%v err=%v", ok, err)
	}
	if loaded == s {
		t.Fatal("redis backend must hand out copies")
	}
	if user, _, _ := Attribute[string](m, loaded, "user"); user != "admin" {
		t.Fatalf("expected admin, got %q", user)
	}
	if loaded.IsNew() {
		t.Fatal("second request must see an established session")
	}

	// the stale handle is brought up to date by the next mutation
	if err := m.SetAttribute(ctx, s, "theme", session.String("dark")); err != nil {
		t.Fatalf("set on stale handle failed: %v", err)
	}
	if !s.LastAccessedAt().Equal(clock.Now()) {
		t.Fatal("handle must reflect the stored last access")
	}

	if err := m.Invalidate(ctx, loaded); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, ok, _ := m.GetIfExists(ctx, token); ok {
		t.Fatal("invalidated session must be absent")
	}
	if err := m.SetAttribute(ctx, s, "theme", session.String("light")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a session invalidated elsewhere, got %v", err)
	}
	if !s.Invalidated() {
		t.Fatal("handle must be marked invalidated once its session is gone")
	}
}

func TestRedisManagerSweepAndRotate(t *testing.T) {
	m, clock, _ := newRedisManager(t)
	ctx := context.Background()

	start := clock.Now()
	_, idleToken, err := m.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	busy, busyToken, err := m.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	d := m.Config().Session.DefaultMaxInactiveInterval
	clock.Advance(d - time.Minute)
	rotated, err := m.Rotate(ctx, busy)
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if _, ok, _ := m.Peek(ctx, busyToken); ok {
		t.Fatal("old token must be gone after rotation")
	}

	removed, err := m.SweepExpired(ctx, start.Add(d+time.Second))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected only the idle session swept, got %d", removed)
	}
	if _, ok, _ := m.Peek(ctx, idleToken); ok {
		t.Fatal("idle session must be swept")
	}
	if _, ok, _ := m.Peek(ctx, rotated); !ok {
		t.Fatal("rotated session must survive the sweep")
	}
}

func TestRedisManagerDiscardsCorruptSession(t *testing.T) {
	m, _, mr := newRedisManager(t)
	ctx := context.Background()

	_, token, err := m.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	id, err := session.ParseID(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	key := m.Config().Redis.Prefix + ":s:" + id.DigestHex()
	if err := mr.Set(key, "not a session"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	s, ok, err := m.GetIfExists(ctx, token)
	if err != nil || ok || s != nil {
		t.Fatalf("corrupt session must read as absent, ok=%v err=%v", ok, err)
	}
	if mr.Exists(key) {
		t.Fatal("corrupt session must be deleted")
	}

	_, fresh, err := m.GetOrCreate(ctx, token)
	if err != nil {
		t.Fatalf("get-or-create failed: %v", err)
	}
	if fresh == token {
		t.Fatal("expected a replacement session")
	}
}

func TestRedisManagerSurfacesOutage(t *testing.T) {
	m, _, mr := newRedisManager(t)
	ctx := context.Background()

	_, token, err := m.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	mr.Close()

	if _, _, err := m.GetIfExists(ctx, token); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if _, _, err := m.GetOrCreate(ctx, ""); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
