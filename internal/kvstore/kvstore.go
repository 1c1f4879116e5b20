// Package kvstore is the "shared KV store with atomic script evaluation"
// named throughout §4 and §6: replay reservations, idempotency keys, the
// screening cache, and the durable proof-job queue's list/zset/hash
// primitives. Grounded in github.com/redis/go-redis/v9 (jordigilh-kubernaut,
// Mindburn-Labs-helm both depend on it) rather than the teacher's own stack,
// since the teacher has no KV/queue layer of its own — see DESIGN.md.
package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func Connect(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// reserveTwoKeysScript implements the atomic replay-reservation pattern used
// by IntentGateway (§4.2) and ComplianceAttestor (§4.3 step 7):
// [exists(key1)? -> 1 ; exists(key2)? -> 2 ; set both (with TTL, if any) -> 0].
var reserveTwoKeysScript = redis.NewScript(`
local key1 = KEYS[1]
local key2 = KEYS[2]
local ttl = tonumber(ARGV[1])
if redis.call('EXISTS', key1) == 1 then return 1 end
if redis.call('EXISTS', key2) == 1 then return 2 end
if ttl > 0 then
	redis.call('SET', key1, '1', 'EX', ttl)
	redis.call('SET', key2, '1', 'EX', ttl)
else
	redis.call('SET', key1, '1')
	redis.call('SET', key2, '1')
end
return 0
`)

// ReserveStatus mirrors the spec's literal return codes: 0 success, 1 first
// key already reserved, 2 second key already reserved.
type ReserveStatus int

const (
	ReserveOK        ReserveStatus = 0
	ReserveKey1Taken ReserveStatus = 1
	ReserveKey2Taken ReserveStatus = 2
)

// ReserveTwoKeys atomically reserves key1 and key2 together, with ttl==0
// meaning the reservation never expires (used by ProofCoordinator's
// (workflow_run_id,proof_type) and receipt_hash single-use guarantees, which
// are not time-windowed).
func (s *Store) ReserveTwoKeys(ctx context.Context, key1, key2 string, ttl time.Duration) (ReserveStatus, error) {
	res, err := reserveTwoKeysScript.Run(ctx, s.rdb, []string{key1, key2}, int64(ttl/time.Second)).Int()
	if err != nil {
		return 0, err
	}
	return ReserveStatus(res), nil
}

// reserveOneKeyScript is ReserveTwoKeys' single-key counterpart, used when a
// reservation covers one key only (e.g. ProofCoordinator's
// (workflow_run_id, proof_type) guarantee when no receipt hash is supplied,
// §4.4).
var reserveOneKeyScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])
if redis.call('EXISTS', key) == 1 then return 1 end
if ttl > 0 then
	redis.call('SET', key, '1', 'EX', ttl)
else
	redis.call('SET', key, '1')
end
return 0
`)

// ReserveOneKey atomically reserves key for ttl (0 meaning no expiry).
func (s *Store) ReserveOneKey(ctx context.Context, key string, ttl time.Duration) (ReserveStatus, error) {
	res, err := reserveOneKeyScript.Run(ctx, s.rdb, []string{key}, int64(ttl/time.Second)).Int()
	if err != nil {
		return 0, err
	}
	return ReserveStatus(res), nil
}

// getOrSetScript implements the idempotency-key pattern: return the
// existing value if present, else set it and report absence.
var getOrSetScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v then return v end
redis.call('SET', KEYS[1], ARGV[1])
return false
`)

// GetOrSet returns (existingValue, true) if key was already set, or sets key
// to value and returns ("", false) otherwise. Atomic.
func (s *Store) GetOrSet(ctx context.Context, key, value string) (existing string, found bool, err error) {
	res, err := getOrSetScript.Run(ctx, s.rdb, []string{key}, value).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if res == nil || res == false {
		return "", false, nil
	}
	s2, ok := res.(string)
	if !ok {
		return "", false, errors.New("unexpected getOrSet result type")
	}
	return s2, true, nil
}

// CacheGet/CacheSet back the §4.1 policy snapshot cache and the §4.3
// screening cache: simple TTL'd string values, safe to treat as a
// write-through cache warmed from persistence on miss.
func (s *Store) CacheGet(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	return s.rdb.Del(ctx, keys...).Err()
}

// --- Durable queue primitives (§4.4) ---

func (s *Store) LPush(ctx context.Context, key, value string) error {
	return s.rdb.LPush(ctx, key, value).Err()
}

// BRPopLPush pops from src's tail and pushes it onto dst's head, blocking up
// to timeout. It returns ("", nil) if nothing arrived within timeout.
func (s *Store) BRPopLPush(ctx context.Context, src, dst string, timeout time.Duration) (string, error) {
	v, err := s.rdb.BRPopLPush(ctx, src, dst, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) LRem(ctx context.Context, key, value string, count int64) error {
	return s.rdb.LRem(ctx, key, count, value).Err()
}

func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	return s.rdb.LLen(ctx, key).Result()
}

// AcquireLock implements the per-job lease: SET NX EX lease_seconds.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

// promoteDueRetriesScript atomically moves every member of the retry zset
// whose score is <= now onto the tail of the queue list (ZRANGEBYSCORE +
// ZREM + RPUSH). Fresh work is LPUSHed onto the head and the worker pops with
// BRPOPLPUSH from the tail, so promoted retries are popped ahead of older
// fresh work — see SPEC_FULL.md §9, Open Question 3.
var promoteDueRetriesScript = redis.NewScript(`
local retryKey = KEYS[1]
local queueKey = KEYS[2]
local now = ARGV[1]
local limit = tonumber(ARGV[2])
local due = redis.call('ZRANGEBYSCORE', retryKey, '-inf', now, 'LIMIT', 0, limit)
for _, member in ipairs(due) do
	redis.call('ZREM', retryKey, member)
	redis.call('RPUSH', queueKey, member)
end
return due
`)

func (s *Store) PromoteDueRetries(ctx context.Context, retryKey, queueKey string, now time.Time, limit int64) ([]string, error) {
	res, err := promoteDueRetriesScript.Run(ctx, s.rdb, []string{retryKey, queueKey}, now.Unix(), limit).Result()
	if err != nil {
		return nil, err
	}
	items, _ := res.([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s2, ok := it.(string); ok {
			out = append(out, s2)
		}
	}
	return out, nil
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return s.rdb.HIncrBy(ctx, key, field, incr).Result()
}

func (s *Store) HDel(ctx context.Context, key, field string) error {
	return s.rdb.HDel(ctx, key, field).Err()
}
