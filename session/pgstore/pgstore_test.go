package pgstore

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/session/sessiontest"
)

var tableSeq atomic.Int64

// newTestStore connects to GOSESSION_TEST_PG_DSN and creates a throwaway table.
func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("GOSESSION_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("GOSESSION_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	table := fmt.Sprintf("gosession_test_%d_%d", time.Now().UnixNano(), tableSeq.Add(1))
	store := NewFromPool(pool, table)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		t.Fatalf("ensure schema: %v", err)
	}

	return store, func() {
		_, _ = pool.Exec(ctx, `DROP TABLE IF EXISTS `+store.table)
		_ = store.Close()
	}
}

func TestStoreConformance(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) (session.Backend, func()) {
		return newTestStore(t)
	})
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second ensure schema: %v", err)
	}
}

func TestTableNameIsQuoted(t *testing.T) {
	s := NewFromPool(nil, `odd"name`)
	if s.table != `"odd""name"` {
		t.Fatalf("expected sanitized identifier, got %s", s.table)
	}
	if NewFromPool(nil, "").table != `"`+DefaultTable+`"` {
		t.Fatal("empty table must fall back to the default")
	}
}
