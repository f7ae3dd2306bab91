// Package boltstore provides a session.Backend that keeps sessions in a single-file bbolt
// database, so they survive process restarts.
package boltstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/MrEthical07/goSession/session"
)

const (
	connectTimeout = 5 * time.Second
	bucketName     = "sessions"
)

// Store is a bbolt-backed session.Backend. Keys are session ID digests; values are
// session.Encode blobs.
type Store struct {
	db *bolt.DB
}

var _ session.Backend = (*Store)(nil)

// Open opens (creating if needed) the database at path and its sessions bucket.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: connectTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", session.ErrBackendUnavailable, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create bucket: %v", session.ErrBackendUnavailable, err)
	}

	return &Store{db: db}, nil
}

func digestKey(id session.ID) []byte {
	d := id.Digest()
	return d[:]
}

func bucket(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket([]byte(bucketName))
}

func readSnapshot(b *bolt.Bucket, key []byte) (*session.Snapshot, error) {
	data := b.Get(key)
	if data == nil {
		return nil, session.ErrNotFound
	}
	// bbolt values are only valid for the life of the transaction; Decode copies.
	return session.Decode(data)
}

func writeSnapshot(b *bolt.Bucket, key []byte, snap *session.Snapshot) error {
	data, err := session.Encode(snap)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func (s *Store) update(fn func(*bolt.Bucket) error) error {
	var fnErr error
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := fn(bucket(tx)); err != nil {
			fnErr = err
			return err
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *Store) Insert(_ context.Context, sess *session.Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	key := digestKey(sess.ID())
	snap := sess.Snapshot()

	return s.update(func(b *bolt.Bucket) error {
		if b.Get(key) != nil {
			return session.ErrDuplicateID
		}
		return writeSnapshot(b, key, &snap)
	})
}

func (s *Store) Load(ctx context.Context, id session.ID, now time.Time, touch bool) (*session.Session, error) {
	if touch {
		return s.Update(ctx, id, now, func(snap *session.Snapshot) error {
			snap.New = false
			return nil
		})
	}

	key := digestKey(id)
	var (
		snap    *session.Snapshot
		expired bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		snap, err = readSnapshot(bucket(tx), key)
		if err != nil {
			return err
		}
		expired = snap.Expired(now)
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrCorrupt) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", session.ErrBackendUnavailable, err)
	}
	if expired {
		if err := s.deleteIfExpired(key, now); err != nil {
			return nil, err
		}
		return nil, session.ErrNotFound
	}

	return session.FromSnapshot(id, *snap), nil
}

func (s *Store) Update(_ context.Context, id session.ID, now time.Time, fn session.UpdateFunc) (*session.Session, error) {
	key := digestKey(id)

	var (
		out     *session.Session
		expired bool
	)
	err := s.update(func(b *bolt.Bucket) error {
		snap, err := readSnapshot(b, key)
		if err != nil {
			return err
		}
		if snap.Expired(now) {
			expired = true
			return b.Delete(key)
		}
		if fn != nil {
			if err := fn(snap); err != nil {
				return err
			}
		}
		snap.Touch(now)
		if err := writeSnapshot(b, key, snap); err != nil {
			return err
		}
		out = session.FromSnapshot(id, *snap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, session.ErrNotFound
	}
	return out, nil
}

func (s *Store) Rename(_ context.Context, from, to session.ID, now time.Time) (*session.Session, error) {
	fromKey := digestKey(from)
	toKey := digestKey(to)

	var (
		out     *session.Session
		expired bool
	)
	err := s.update(func(b *bolt.Bucket) error {
		if b.Get(toKey) != nil {
			return session.ErrDuplicateID
		}
		snap, err := readSnapshot(b, fromKey)
		if err != nil {
			return err
		}
		if err := b.Delete(fromKey); err != nil {
			return err
		}
		if snap.Expired(now) {
			expired = true
			return nil
		}
		snap.Touch(now)
		if err := writeSnapshot(b, toKey, snap); err != nil {
			return err
		}
		out = session.FromSnapshot(to, *snap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, session.ErrNotFound
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, id session.ID) (bool, error) {
	key := digestKey(id)
	var existed bool
	err := s.update(func(b *bolt.Bucket) error {
		existed = b.Get(key) != nil
		if !existed {
			return nil
		}
		return b.Delete(key)
	})
	return existed, err
}

// SweepExpired decodes every session in a read transaction and removes the expired ones in a
// single write transaction, re-checking each against now.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var candidates [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		return bucket(tx).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, err := session.Decode(v)
			if err != nil {
				// leave corrupt entries for an operator to inspect
				return nil
			}
			if snap.Expired(now) {
				candidates = append(candidates, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("%w: %v", session.ErrBackendUnavailable, err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	removed := 0
	err = s.update(func(b *bolt.Bucket) error {
		for _, key := range candidates {
			snap, err := readSnapshot(b, key)
			if err != nil {
				continue
			}
			if !snap.Expired(now) {
				continue
			}
			if err := b.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) Count(context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = bucket(tx).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", session.ErrBackendUnavailable, err)
	}
	return n, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) deleteIfExpired(key []byte, now time.Time) error {
	return s.update(func(b *bolt.Bucket) error {
		snap, err := readSnapshot(b, key)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return nil
			}
			return err
		}
		if !snap.Expired(now) {
			return nil
		}
		return b.Delete(key)
	})
}
