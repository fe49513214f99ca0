package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), 2, nil)
	require.NoError(t, err)

	stats := pool.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 2, stats.Available)

	ctx := context.Background()
	w, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Stats().InUse)

	got, err := w.RunScript(ctx, "pool.js", "40 + 2")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	require.NoError(t, pool.Release(w))
	_, err = w.RunScript(ctx, "released.js", "1")
	assert.ErrorIs(t, err, ErrWindowClosed)

	require.Eventually(t, func() bool {
		return pool.Stats().Available == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pool.Close())
	assert.True(t, pool.Stats().Closed)

	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolAcquireHonoursContext(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), 1, nil)
	require.NoError(t, err)
	defer pool.Close()

	w, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
