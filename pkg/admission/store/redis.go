package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript performs the window increment and TTL set as one atomic
// operation. Concurrent callers on separate instances never lose updates and
// the key always carries an expiry.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// casScript swaps the escalation hash only when the stored version matches
// the expected one. A missing key has version "0".
var casScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "version")
if cur == false then
	cur = "0"
end
if cur ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1],
	"tier", ARGV[2],
	"entered_at", ARGV[3],
	"last_violation_at", ARGV[4],
	"version", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[6])
return 1
`)

// RedisBackend implements Backend on Redis. It is the backend to use when
// request handlers run as independent instances: all coordination happens
// through atomic Redis operations and expiry is native TTL, so Cleanup is a
// no-op.
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
	opTimeout time.Duration

	// nowFunc is swapped in tests to control window boundaries.
	nowFunc func() time.Time
}

// RedisBackendConfig configures the Redis backend.
type RedisBackendConfig struct {
	// KeyPrefix namespaces all keys written by this backend.
	// Default: "gatekeeper:"
	KeyPrefix string

	// OpTimeout bounds every store operation. The admission check sits on
	// the request path, so this must stay short.
	// Default: 2 seconds
	OpTimeout time.Duration
}

// NewRedisBackend creates a Redis backend and verifies connectivity.
func NewRedisBackend(client *redis.Client, cfg RedisBackendConfig) (*RedisBackend, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gatekeeper:"
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, wrapUnavailable("redis ping", err)
	}

	return &RedisBackend{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		opTimeout: cfg.OpTimeout,
		nowFunc:   time.Now,
	}, nil
}

// opCtx derives a context bounded by the backend's operation timeout.
func (r *RedisBackend) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// IncrementAndCheck atomically adds one to the window counter and returns the
// post-increment count.
func (r *RedisBackend) IncrementAndCheck(ctx context.Context, identifier, routeKey string, window time.Duration) (WindowCount, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	now := r.nowFunc()
	start := windowStart(now, window)
	end := start.Add(window)
	key := fmt.Sprintf("%scnt:%s:%s:%d", r.keyPrefix, identifier, routeKey, start.UnixMilli())

	count, err := incrementScript.Run(ctx, r.client,
		[]string{key},
		counterTTL(end, now).Milliseconds(),
	).Int64()
	if err != nil {
		return WindowCount{}, wrapUnavailable("redis increment", err)
	}

	return WindowCount{
		Count:       count,
		WindowStart: start,
		Remaining:   end.Sub(now),
	}, nil
}

// AppendViolation records a denial in a per-identifier sorted set scored by
// timestamp. The dedupe key is the member, so replays are absorbed by ZADD.
func (r *RedisBackend) AppendViolation(ctx context.Context, v Violation) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	key := r.keyPrefix + "vio:" + v.Identifier
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(v.Timestamp.UnixMilli()),
		Member: v.DedupeKey(),
	})
	pipe.PExpireAt(ctx, key, v.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapUnavailable("redis append violation", err)
	}
	return nil
}

// WeightedViolations sums violation weights for an identifier since the given
// time, pruning members that have left the horizon.
func (r *RedisBackend) WeightedViolations(ctx context.Context, identifier string, since time.Time) (float64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	key := r.keyPrefix + "vio:" + identifier
	sinceMs := since.UnixMilli()

	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", sinceMs)).Err(); err != nil {
		return 0, wrapUnavailable("redis prune violations", err)
	}

	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMs, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, wrapUnavailable("redis weighted violations", err)
	}

	var sum float64
	for _, member := range members {
		// member layout: "<ts_ms>|<route>|<weight>"
		idx := strings.LastIndexByte(member, '|')
		if idx < 0 {
			continue
		}
		w, err := strconv.ParseFloat(member[idx+1:], 64)
		if err != nil {
			continue
		}
		sum += w
	}
	return sum, nil
}

// LoadEscalation returns the escalation state, or nil if none exists.
func (r *RedisBackend) LoadEscalation(ctx context.Context, identifier string) (*EscalationRecord, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	key := r.keyPrefix + "esc:" + identifier
	pipe := r.client.Pipeline()
	getAll := pipe.HGetAll(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrapUnavailable("redis load escalation", err)
	}

	fields := getAll.Val()
	if len(fields) == 0 {
		return nil, nil
	}

	enteredAt, _ := strconv.ParseInt(fields["entered_at"], 10, 64)
	lastViolationAt, _ := strconv.ParseInt(fields["last_violation_at"], 10, 64)
	version, _ := strconv.ParseInt(fields["version"], 10, 64)

	rec := &EscalationRecord{
		Identifier:      identifier,
		Tier:            fields["tier"],
		EnteredAt:       time.UnixMilli(enteredAt),
		LastViolationAt: time.UnixMilli(lastViolationAt),
		Version:         version,
	}
	// Expiry is native TTL here; surface it so callers can report how long
	// a hard block has left.
	if ttl := pttl.Val(); ttl > 0 {
		rec.ExpiresAt = r.nowFunc().Add(ttl)
	}
	return rec, nil
}

// SaveEscalation performs a compare-and-swap on the escalation hash.
func (r *RedisBackend) SaveEscalation(ctx context.Context, prev *EscalationRecord, next EscalationRecord) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	var expected, version int64
	if prev != nil {
		expected = prev.Version
		version = prev.Version + 1
	} else {
		version = 1
	}

	ttl := next.ExpiresAt.Sub(r.nowFunc())
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	key := r.keyPrefix + "esc:" + next.Identifier
	swapped, err := casScript.Run(ctx, r.client,
		[]string{key},
		strconv.FormatInt(expected, 10),
		next.Tier,
		next.EnteredAt.UnixMilli(),
		next.LastViolationAt.UnixMilli(),
		version,
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, wrapUnavailable("redis save escalation", err)
	}
	return swapped == 1, nil
}

// MarkNotified records a notification for identifier+tier using SET NX with
// the dedupe interval as TTL; a live key means a recent notification.
func (r *RedisBackend) MarkNotified(ctx context.Context, identifier, tier string, interval time.Duration) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	key := r.keyPrefix + "sup:" + identifier + ":" + tier
	ok, err := r.client.SetNX(ctx, key, r.nowFunc().UnixMilli(), interval).Result()
	if err != nil {
		return false, wrapUnavailable("redis mark notified", err)
	}
	return ok, nil
}

// Cleanup is a no-op: every key written by this backend carries a TTL.
func (r *RedisBackend) Cleanup(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Close closes the underlying Redis client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
