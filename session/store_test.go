package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/session/sessiontest"
)

func newSessionStoreTest(t *testing.T) (*session.RedisStore, *redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	// Generous retry budget: the conformance suite hammers one key from many goroutines.
	store := session.NewRedisStore(rdb, "gs", time.Minute, 512)
	return store, rdb, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRedisStoreConformance(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) (session.Backend, func()) {
		store, _, _, done := newSessionStoreTest(t)
		return store, done
	})
}

func TestRedisStoreKeysByDigest(t *testing.T) {
	store, rdb, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	id, _ := session.NewID(nil)
	if err := store.Insert(ctx, session.NewSession(id, now, time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if n, _ := rdb.Exists(ctx, "gs:s:"+id.DigestHex()).Result(); n != 1 {
		t.Fatal("expected session blob under its digest key")
	}
	keys, err := rdb.Keys(ctx, "*"+id.String()+"*").Result()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("raw token must never appear in key names, found %v", keys)
	}

	score, err := rdb.ZScore(ctx, "gs:deadlines", id.DigestHex()).Result()
	if err != nil {
		t.Fatalf("zscore: %v", err)
	}
	if want := float64(now.Add(time.Hour).UnixMicro()); score != want {
		t.Fatalf("expected deadline score %v, got %v", want, score)
	}
}

func TestRedisStoreImmortalSessionHasNoTTL(t *testing.T) {
	store, rdb, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	id, _ := session.NewID(nil)
	if err := store.Insert(ctx, session.NewSession(id, time.Now(), 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ttl, err := rdb.PTTL(ctx, "gs:s:"+id.DigestHex()).Result()
	if err != nil {
		t.Fatalf("pttl: %v", err)
	}
	if ttl > 0 {
		t.Fatalf("session without timeout must not carry a TTL, got %v", ttl)
	}
	if _, err := rdb.ZScore(ctx, "gs:deadlines", id.DigestHex()).Result(); !errors.Is(err, redis.Nil) {
		t.Fatalf("session without timeout must not be in the deadline index, err=%v", err)
	}
}

func TestRedisStoreTTLBackstop(t *testing.T) {
	store, _, mr, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	id, _ := session.NewID(nil)
	if err := store.Insert(ctx, session.NewSession(id, now, time.Minute)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	mr.FastForward(3 * time.Minute)
	if _, err := store.Load(ctx, id, now, false); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected key to expire past deadline plus grace, got %v", err)
	}
}

func TestRedisStoreCorruptBlob(t *testing.T) {
	store, rdb, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	id, _ := session.NewID(nil)
	if err := rdb.Set(ctx, "gs:s:"+id.DigestHex(), []byte{99, 1, 2}, 0).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Load(ctx, id, time.Now(), false); !errors.Is(err, session.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, _, mr, done := newSessionStoreTest(t)
	defer done()
	mr.Close()

	ctx := context.Background()
	id, _ := session.NewID(nil)
	if _, err := store.Load(ctx, id, time.Now(), false); !errors.Is(err, session.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := store.Ping(ctx); !errors.Is(err, session.ErrBackendUnavailable) {
		t.Fatalf("ping: expected ErrBackendUnavailable, got %v", err)
	}
}

func TestRedisStoreSweepSpansBatches(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	const n = 600
	for i := 0; i < n; i++ {
		id, _ := session.NewID(nil)
		if err := store.Insert(ctx, session.NewSession(id, start, time.Minute)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	removed, err := store.SweepExpired(ctx, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != n {
		t.Fatalf("expected %d removed, got %d", n, removed)
	}
	if count, _ := store.Count(ctx); count != 0 {
		t.Fatalf("expected empty store, got %d", count)
	}
}
