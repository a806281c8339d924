package booking

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-booking/internal/apperr"
)

// Script status codes shared by the ledger Lua scripts.
const (
	ledgerOK       = 1
	ledgerFull     = 0
	ledgerMissing  = -1
	ledgerUnder    = -2
	ledgerConflict = -3
)

// Each event is a hash {capacity, reserved}. Scripts run atomically on the
// Redis server, which gives the per-event total order across every app
// instance sharing the same Redis.
var (
	reserveScript = redis.NewScript(`
        local cap = redis.call('HGET', KEYS[1], 'capacity')
        if not cap then return { -1, 0 } end
        cap = tonumber(cap)
        local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
        if reserved >= cap then return { 0, cap - reserved } end
        reserved = redis.call('HINCRBY', KEYS[1], 'reserved', 1)
        return { 1, cap - reserved }
    `)

	releaseScript = redis.NewScript(`
        local cap = redis.call('HGET', KEYS[1], 'capacity')
        if not cap then return { -1, 0 } end
        cap = tonumber(cap)
        local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
        if reserved <= 0 then return { -2, cap - reserved } end
        reserved = redis.call('HINCRBY', KEYS[1], 'reserved', -1)
        return { 1, cap - reserved }
    `)

	resizeScript = redis.NewScript(`
        local cap = redis.call('HGET', KEYS[1], 'capacity')
        if not cap then return { -1, 0 } end
        local want = tonumber(ARGV[1])
        local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
        if want < reserved then return { -3, tonumber(cap) - reserved } end
        redis.call('HSET', KEYS[1], 'capacity', want)
        return { 1, want - reserved }
    `)

	// rebuildScript sets the capacity and raises reserved to ARGV[2] when it
	// is lower. It never lowers: a slot another instance has taken but not
	// yet recorded is not part of the caller's count.
	rebuildScript = redis.NewScript(`
        local counted = tonumber(ARGV[2])
        local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '-1')
        if reserved < counted then reserved = counted end
        redis.call('HSET', KEYS[1], 'capacity', ARGV[1], 'reserved', reserved)
        return reserved
    `)

	ensureScript = redis.NewScript(`
        if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
        redis.call('HSET', KEYS[1], 'capacity', ARGV[1], 'reserved', ARGV[2])
        return 1
    `)
)

// RedisLedger stores counters in Redis so several app instances share one
// ledger.
type RedisLedger struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisLedger returns a ledger keyed as "<prefix>:event:<id>".
func NewRedisLedger(rdb *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "ledger"
	}
	return &RedisLedger{rdb: rdb, prefix: prefix}
}

func (l *RedisLedger) key(eventID uint64) string {
	return l.prefix + ":event:" + strconv.FormatUint(eventID, 10)
}

func (l *RedisLedger) run(ctx context.Context, s *redis.Script, eventID uint64, args ...interface{}) (int64, int, error) {
	vals, err := s.Run(ctx, l.rdb, []string{l.key(eventID)}, args...).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("ledger script: %w", err)
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("ledger script: unexpected reply %v", vals)
	}
	return vals[0], remaining(int(vals[1]), 0), nil
}

func (l *RedisLedger) TryReserve(ctx context.Context, eventID uint64) (int, error) {
	code, left, err := l.run(ctx, reserveScript, eventID)
	if err != nil {
		return 0, err
	}
	switch code {
	case ledgerOK:
		return left, nil
	case ledgerFull:
		return 0, apperr.ErrFull
	default:
		return 0, fmt.Errorf("ledger entry %d: %w", eventID, apperr.ErrNotFound)
	}
}

func (l *RedisLedger) Release(ctx context.Context, eventID uint64) (int, error) {
	code, left, err := l.run(ctx, releaseScript, eventID)
	if err != nil {
		return 0, err
	}
	switch code {
	case ledgerOK:
		return left, nil
	case ledgerUnder:
		return left, fmt.Errorf("event %d: %w", eventID, apperr.ErrUnderflow)
	default:
		return 0, fmt.Errorf("ledger entry %d: %w", eventID, apperr.ErrNotFound)
	}
}

func (l *RedisLedger) Resize(ctx context.Context, eventID uint64, capacity int) (int, error) {
	code, left, err := l.run(ctx, resizeScript, eventID, capacity)
	if err != nil {
		return 0, err
	}
	switch code {
	case ledgerOK:
		return left, nil
	case ledgerConflict:
		return left, fmt.Errorf("capacity %d below reserved: %w", capacity, apperr.ErrConflict)
	default:
		return 0, fmt.Errorf("ledger entry %d: %w", eventID, apperr.ErrNotFound)
	}
}

func (l *RedisLedger) Load(ctx context.Context, eventID uint64, capacity, reserved int) error {
	return l.rdb.HSet(ctx, l.key(eventID), "capacity", capacity, "reserved", reserved).Err()
}

func (l *RedisLedger) Rebuild(ctx context.Context, eventID uint64, capacity, counted int) (int, error) {
	n, err := rebuildScript.Run(ctx, l.rdb, []string{l.key(eventID)}, capacity, counted).Int()
	if err != nil {
		return 0, fmt.Errorf("ledger script: %w", err)
	}
	return n, nil
}

func (l *RedisLedger) Ensure(ctx context.Context, eventID uint64, capacity, reserved int) error {
	return ensureScript.Run(ctx, l.rdb, []string{l.key(eventID)}, capacity, reserved).Err()
}

func (l *RedisLedger) Forget(ctx context.Context, eventID uint64) error {
	return l.rdb.Del(ctx, l.key(eventID)).Err()
}
