package booking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-booking/internal/apperr"
)

// exerciseConcurrentReserve fires n concurrent TryReserve calls at an event
// of capacity k and checks exactly k succeed.
func exerciseConcurrentReserve(t *testing.T, l Ledger, n, k int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.Load(ctx, 1, k, 0))

	var ok, full int64
	seen := make([]int64, k)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			left, err := l.TryReserve(ctx, 1)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
				atomic.AddInt64(&seen[left], 1)
			case assert.ErrorIs(t, err, apperr.ErrFull):
				atomic.AddInt64(&full, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, k, ok)
	assert.EqualValues(t, n-k, full)
	for left, c := range seen {
		assert.EqualValues(t, 1, c, "remaining=%d returned %d times", left, c)
	}
}

func TestMemoryLedgerConcurrentReserve(t *testing.T) {
	exerciseConcurrentReserve(t, NewMemoryLedger(), 200, 17)
}

func TestMemoryLedgerReleaseUnderflow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Load(ctx, 1, 2, 0))

	_, err := l.Release(ctx, 1)
	assert.ErrorIs(t, err, apperr.ErrUnderflow)

	left, err := l.TryReserve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	left, err = l.Release(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	_, reserved, _ := l.Snapshot(1)
	assert.Equal(t, 0, reserved)
}

func TestMemoryLedgerResize(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Load(ctx, 1, 5, 3))

	_, err := l.Resize(ctx, 1, 2)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	capacity, _, _ := l.Snapshot(1)
	assert.Equal(t, 5, capacity)

	left, err := l.Resize(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	_, err = l.TryReserve(ctx, 1)
	assert.ErrorIs(t, err, apperr.ErrFull)
}

func TestMemoryLedgerUnknownEvent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	_, err := l.TryReserve(ctx, 9)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = l.Release(ctx, 9)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = l.Resize(ctx, 9, 3)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemoryLedgerEnsureAndForget(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	require.NoError(t, l.Ensure(ctx, 1, 4, 1))
	require.NoError(t, l.Ensure(ctx, 1, 10, 0))
	capacity, reserved, ok := l.Snapshot(1)
	require.True(t, ok)
	assert.Equal(t, 4, capacity)
	assert.Equal(t, 1, reserved)

	require.NoError(t, l.Forget(ctx, 1))
	_, _, ok = l.Snapshot(1)
	assert.False(t, ok)
}

func TestMemoryLedgerRebuildOnlyRaises(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	n, err := l.Rebuild(ctx, 1, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, l.Load(ctx, 1, 3, 2))
	n, err = l.Rebuild(ctx, 1, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	capacity, reserved, _ := l.Snapshot(1)
	assert.Equal(t, 4, capacity)
	assert.Equal(t, 2, reserved)
}
