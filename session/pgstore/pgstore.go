// Package pgstore provides a session.Backend on PostgreSQL through pgx.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goSession/session"
)

// DefaultTable is the table used when New is given an empty name.
const DefaultTable = "gosession_sessions"

//go:embed schema.sql
var schemaScriptTpl string

// Store is a PostgreSQL-backed session.Backend. Per-session updates lock the row with
// SELECT ... FOR UPDATE; the sweep is a single DELETE on the deadline index.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

var _ session.Backend = (*Store)(nil)

// New connects a pool to dsn. table may be empty to use DefaultTable.
func New(ctx context.Context, dsn, table string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", session.ErrBackendUnavailable, err)
	}
	return NewFromPool(pool, table), nil
}

// NewFromPool wraps an existing pool. Close closes the pool.
func NewFromPool(pool *pgxpool.Pool, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
	}
}

// EnsureSchema creates the sessions table and its deadline index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	index := strings.Trim(s.table, `"`) + "_deadline_idx"
	script := strings.ReplaceAll(schemaScriptTpl, "${table}", s.table)
	script = strings.ReplaceAll(script, "${index}", pgx.Identifier{index}.Sanitize())

	if _, err := s.pool.Exec(ctx, script); err != nil {
		return wrap(err)
	}
	return nil
}

func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrDuplicateID),
		errors.Is(err, session.ErrCorrupt),
		errors.Is(err, session.ErrBackendUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", session.ErrBackendUnavailable, err)
	}
}

func digest(id session.ID) []byte {
	d := id.Digest()
	return d[:]
}

// deadline returns nil for sessions that never expire so the column stays NULL.
func deadline(snap *session.Snapshot) any {
	d, ok := snap.Deadline()
	if !ok {
		return nil
	}
	return d
}

func (s *Store) Insert(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	snap := sess.Snapshot()
	payload, err := session.Encode(&snap)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (digest, payload, deadline)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (digest) DO NOTHING`,
		digest(sess.ID()), payload, deadline(&snap),
	)
	if err != nil {
		return wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrDuplicateID
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id session.ID, now time.Time, touch bool) (*session.Session, error) {
	if touch {
		return s.Update(ctx, id, now, func(snap *session.Snapshot) error {
			snap.New = false
			return nil
		})
	}

	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM `+s.table+` WHERE digest = $1`,
		digest(id),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, wrap(err)
	}

	snap, err := session.Decode(payload)
	if err != nil {
		return nil, err
	}
	if snap.Expired(now) {
		if _, err := s.pool.Exec(ctx,
			`DELETE FROM `+s.table+` WHERE digest = $1 AND deadline < $2`,
			digest(id), now,
		); err != nil {
			return nil, wrap(err)
		}
		return nil, session.ErrNotFound
	}

	return session.FromSnapshot(id, *snap), nil
}

func (s *Store) Update(ctx context.Context, id session.ID, now time.Time, fn session.UpdateFunc) (*session.Session, error) {
	var (
		out     *session.Session
		expired bool
		fnErr   error
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		snap, err := s.lockRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if snap.Expired(now) {
			expired = true
			_, err := tx.Exec(ctx, `DELETE FROM `+s.table+` WHERE digest = $1`, digest(id))
			return err
		}

		if fn != nil {
			if err := fn(snap); err != nil {
				fnErr = err
				return err
			}
		}
		snap.Touch(now)

		payload, err := session.Encode(snap)
		if err != nil {
			fnErr = err
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE `+s.table+` SET payload = $2, deadline = $3, updated_at = now() WHERE digest = $1`,
			digest(id), payload, deadline(snap),
		); err != nil {
			return err
		}

		out = session.FromSnapshot(id, *snap)
		return nil
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, wrap(err)
	}
	if expired {
		return nil, session.ErrNotFound
	}
	return out, nil
}

func (s *Store) Rename(ctx context.Context, from, to session.ID, now time.Time) (*session.Session, error) {
	var (
		out     *session.Session
		expired bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		snap, err := s.lockRow(ctx, tx, from)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+s.table+` WHERE digest = $1`, digest(from)); err != nil {
			return err
		}
		if snap.Expired(now) {
			expired = true
			return nil
		}

		snap.Touch(now)
		payload, err := session.Encode(snap)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO `+s.table+` (digest, payload, deadline)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (digest) DO NOTHING`,
			digest(to), payload, deadline(snap),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return session.ErrDuplicateID
		}

		out = session.FromSnapshot(to, *snap)
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	if expired {
		return nil, session.ErrNotFound
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id session.ID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE digest = $1`, digest(id))
	if err != nil {
		return false, wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// SweepExpired deletes through the partial deadline index; rows locked by a concurrent
// update are re-evaluated by PostgreSQL after that update commits.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table+` WHERE deadline IS NOT NULL AND deadline < $1`,
		now,
	)
	if err != nil {
		return 0, wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.table).Scan(&n); err != nil {
		return 0, wrap(err)
	}
	return int(n), nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) lockRow(ctx context.Context, tx pgx.Tx, id session.ID) (*session.Snapshot, error) {
	var payload []byte
	err := tx.QueryRow(ctx,
		`SELECT payload FROM `+s.table+` WHERE digest = $1 FOR UPDATE`,
		digest(id),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	return session.Decode(payload)
}
