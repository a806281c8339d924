package booking

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-booking/internal/apperr"
)

func newRedisLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLedger(rdb, "test"), mr
}

func TestRedisLedgerConcurrentReserve(t *testing.T) {
	l, _ := newRedisLedger(t)
	exerciseConcurrentReserve(t, l, 40, 7)
}

func TestRedisLedgerReserveRelease(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLedger(t)
	require.NoError(t, l.Load(ctx, 5, 2, 0))

	left, err := l.TryReserve(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, left)
	left, err = l.TryReserve(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, left)
	_, err = l.TryReserve(ctx, 5)
	assert.ErrorIs(t, err, apperr.ErrFull)

	assert.Equal(t, "2", mr.HGet("test:event:5", "reserved"))

	left, err = l.Release(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, left)
	_, err = l.Release(ctx, 5)
	require.NoError(t, err)
	_, err = l.Release(ctx, 5)
	assert.ErrorIs(t, err, apperr.ErrUnderflow)
	assert.Equal(t, "0", mr.HGet("test:event:5", "reserved"))
}

func TestRedisLedgerResizeAndEnsure(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLedger(t)

	_, err := l.TryReserve(ctx, 8)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = l.Resize(ctx, 8, 3)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, l.Ensure(ctx, 8, 3, 2))
	require.NoError(t, l.Ensure(ctx, 8, 100, 0))
	assert.Equal(t, "3", mr.HGet("test:event:8", "capacity"))

	_, err = l.Resize(ctx, 8, 1)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	left, err := l.Resize(ctx, 8, 6)
	require.NoError(t, err)
	assert.Equal(t, 4, left)

	require.NoError(t, l.Forget(ctx, 8))
	assert.False(t, mr.Exists("test:event:8"))
}

func TestRedisLedgerRebuildOnlyRaises(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLedger(t)

	n, err := l.Rebuild(ctx, 9, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "4", mr.HGet("test:event:9", "capacity"))

	_, err = l.TryReserve(ctx, 9)
	require.NoError(t, err)

	// a slot without its record yet must survive a stale count
	n, err = l.Rebuild(ctx, 9, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "3", mr.HGet("test:event:9", "reserved"))
	assert.Equal(t, "5", mr.HGet("test:event:9", "capacity"))

	n, err = l.Rebuild(ctx, 9, 5, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
