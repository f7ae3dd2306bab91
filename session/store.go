package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTLGrace   = time.Minute
	defaultMaxRetries = 16
	sweepBatchSize    = 256
	minKeyTTL         = time.Millisecond
)

const insertSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[1])
end
if ARGV[3] ~= "" then
  redis.call("ZADD", KEYS[2], ARGV[3], ARGV[4])
else
  redis.call("ZREM", KEYS[2], ARGV[4])
end
return 1
`

var insertSessionLua = redis.NewScript(insertSessionScript)

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// The deadline index is re-read inside the script, so a session touched after the caller
// chose now keeps its newer score and is not selected.
const sweepExpiredScript = `
local members = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1], "LIMIT", 0, tonumber(ARGV[3]))
local removed = 0
for _, member in ipairs(members) do
  redis.call("ZREM", KEYS[1], member)
  removed = removed + redis.call("DEL", ARGV[2] .. member)
end
return {removed, #members}
`

var sweepExpiredLua = redis.NewScript(sweepExpiredScript)

// RedisStore is a Redis-backed Backend.
//
// Each session is one blob at "<prefix>:s:<digest>". A sorted set at "<prefix>:deadlines"
// scores every expiring session by its deadline in unix microseconds; SweepExpired walks it.
// Key TTLs are only a backstop (deadline plus a grace period) for sessions nobody sweeps.
//
// Deadlines in the index have microsecond resolution.
type RedisStore struct {
	redis      redis.UniversalClient
	prefix     string
	ttlGrace   time.Duration
	maxRetries int
}

var _ Backend = (*RedisStore)(nil)

// NewRedisStore creates a [RedisStore] on the given client. prefix sets the key namespace,
// ttlGrace the backstop margin past a session's deadline and maxRetries the number of
// optimistic transaction attempts under contention. Zero values pick defaults.
func NewRedisStore(client redis.UniversalClient, prefix string, ttlGrace time.Duration, maxRetries int) *RedisStore {
	if ttlGrace <= 0 {
		ttlGrace = defaultTTLGrace
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &RedisStore{
		redis:      client,
		prefix:     prefix,
		ttlGrace:   ttlGrace,
		maxRetries: maxRetries,
	}
}

func (r *RedisStore) sessionPrefix() string {
	return r.prefix + ":s:"
}

func (r *RedisStore) key(id ID) string {
	return r.sessionPrefix() + id.DigestHex()
}

func (r *RedisStore) deadlineKey() string {
	return r.prefix + ":deadlines"
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicateID),
		errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrCorrupt):
		return err
	default:
		return unavailable(err)
	}
}

func (r *RedisStore) keyTTL(snap *Snapshot, now time.Time) time.Duration {
	deadline, ok := snap.Deadline()
	if !ok {
		return 0
	}
	ttl := deadline.Sub(now) + r.ttlGrace
	if ttl < minKeyTTL {
		ttl = minKeyTTL
	}
	return ttl
}

func deadlineMicros(snap *Snapshot) (int64, bool) {
	deadline, ok := snap.Deadline()
	if !ok {
		return 0, false
	}
	return deadline.UnixMicro(), true
}

// Insert stores s with SET-if-absent semantics.
//
//	Performance: 1 Lua EVALSHA.
func (r *RedisStore) Insert(ctx context.Context, s *Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	id := s.ID()
	snap := s.Snapshot()

	data, err := Encode(&snap)
	if err != nil {
		return err
	}

	score := ""
	if micros, ok := deadlineMicros(&snap); ok {
		score = strconv.FormatInt(micros, 10)
	}
	ttl := r.keyTTL(&snap, snap.LastAccessedAt)

	inserted, err := insertSessionLua.Run(
		ctx,
		r.redis,
		[]string{r.key(id), r.deadlineKey()},
		data,
		ttl.Milliseconds(),
		score,
		id.DigestHex(),
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	if inserted == 0 {
		return ErrDuplicateID
	}
	return nil
}

// Load fetches the session for id. A touching load runs as an optimistic transaction.
//
//	Performance: 1 GET (read-only) or WATCH/GET/MULTI (touch).
func (r *RedisStore) Load(ctx context.Context, id ID, now time.Time, touch bool) (*Session, error) {
	if touch {
		return r.mutate(ctx, id, now, func(snap *Snapshot) error {
			snap.New = false
			return nil
		})
	}

	data, err := r.redis.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}

	snap, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if snap.Expired(now) {
		if _, err := r.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	return FromSnapshot(id, *snap), nil
}

// Update applies fn under WATCH and writes the result back in one MULTI.
func (r *RedisStore) Update(ctx context.Context, id ID, now time.Time, fn UpdateFunc) (*Session, error) {
	return r.mutate(ctx, id, now, fn)
}

func (r *RedisStore) mutate(ctx context.Context, id ID, now time.Time, fn UpdateFunc) (*Session, error) {
	key := r.key(id)

	var (
		out   *Session
		fnErr error
	)
	txf := func(tx *redis.Tx) error {
		snap, err := r.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if snap.Expired(now) {
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, r.deadlineKey(), id.DigestHex())
				return nil
			}); err != nil {
				return err
			}
			return ErrNotFound
		}

		if fn != nil {
			if err := fn(snap); err != nil {
				fnErr = err
				return err
			}
		}
		snap.Touch(now)

		encoded, err := Encode(snap)
		if err != nil {
			fnErr = err
			return err
		}

		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.write(ctx, pipe, id, snap, encoded, now)
			return nil
		}); err != nil {
			return err
		}

		out = FromSnapshot(id, *snap)
		return nil
	}

	if err := r.watch(ctx, txf, key); err != nil {
		if fnErr != nil {
			return nil, fnErr
		}
		return nil, err
	}
	return out, nil
}

// Rename moves the blob and its deadline entry from one digest to another.
func (r *RedisStore) Rename(ctx context.Context, from, to ID, now time.Time) (*Session, error) {
	fromKey := r.key(from)
	toKey := r.key(to)

	var out *Session
	txf := func(tx *redis.Tx) error {
		taken, err := tx.Exists(ctx, toKey).Result()
		if err != nil {
			return unavailable(err)
		}
		if taken > 0 {
			return ErrDuplicateID
		}

		snap, err := r.read(ctx, tx, fromKey)
		if err != nil {
			return err
		}
		expired := snap.Expired(now)
		if !expired {
			snap.Touch(now)
		}

		encoded, err := Encode(snap)
		if err != nil {
			return err
		}

		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, fromKey)
			pipe.ZRem(ctx, r.deadlineKey(), from.DigestHex())
			if !expired {
				r.write(ctx, pipe, to, snap, encoded, now)
			}
			return nil
		}); err != nil {
			return err
		}

		if expired {
			return ErrNotFound
		}
		out = FromSnapshot(to, *snap)
		return nil
	}

	if err := r.watch(ctx, txf, fromKey, toKey); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the blob and its deadline entry atomically.
//
//	Performance: 1 Lua EVALSHA.
func (r *RedisStore) Delete(ctx context.Context, id ID) (bool, error) {
	existed, err := deleteSessionLua.Run(
		ctx,
		r.redis,
		[]string{r.key(id), r.deadlineKey()},
		id.DigestHex(),
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return existed == 1, nil
}

// SweepExpired removes sessions whose deadline precedes now in batches. Each batch is one
// atomic script, so Redis is never blocked for longer than one batch of deletions.
func (r *RedisStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	nowScore := strconv.FormatInt(now.UnixMicro(), 10)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		res, err := sweepExpiredLua.Run(
			ctx,
			r.redis,
			[]string{r.deadlineKey()},
			nowScore,
			r.sessionPrefix(),
			sweepBatchSize,
		).Int64Slice()
		if err != nil {
			return total, unavailable(err)
		}
		if len(res) != 2 {
			return total, fmt.Errorf("%w: invalid sweep script response", ErrBackendUnavailable)
		}

		total += int(res[0])
		if res[1] < sweepBatchSize {
			return total, nil
		}
	}
}

// Count scans the session namespace. This is an admin-only O(n) operation and must not be
// used in request hot paths.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	pattern := r.sessionPrefix() + "*"
	var (
		cursor uint64
		total  int
	)

	for {
		keys, next, err := r.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return 0, unavailable(err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return total, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (r *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

// Close leaves the client open; its owner closes it.
func (r *RedisStore) Close() error {
	return nil
}

func (r *RedisStore) read(ctx context.Context, tx *redis.Tx, key string) (*Snapshot, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return Decode(data)
}

func (r *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, id ID, snap *Snapshot, encoded []byte, now time.Time) {
	pipe.Set(ctx, r.key(id), encoded, r.keyTTL(snap, now))
	if micros, ok := deadlineMicros(snap); ok {
		pipe.ZAdd(ctx, r.deadlineKey(), redis.Z{Score: float64(micros), Member: id.DigestHex()})
	} else {
		pipe.ZRem(ctx, r.deadlineKey(), id.DigestHex())
	}
}

// watch runs fn as an optimistic transaction, retrying when a watched key changes.
func (r *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < r.maxRetries; i++ {
		err := r.redis.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return classify(err)
	}
	return fmt.Errorf("%w: transaction contention on %v", ErrBackendUnavailable, keys)
}
