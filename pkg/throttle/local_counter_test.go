package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCounter_IncrWithinWindow(t *testing.T) {
	c := NewLocalCounter()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, remaining, err := c.Incr(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
		assert.Greater(t, remaining, time.Duration(0))
	}

	count, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestLocalCounter_HardResetAtBoundary(t *testing.T) {
	c := NewLocalCounter()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		c.Incr(ctx, "k", time.Minute)
	}

	now = now.Add(time.Minute)

	// The window resets completely: the first request after the boundary
	// counts exactly 1, not 10 minus some decay.
	count, _, err := c.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLocalCounter_KeysAreIndependent(t *testing.T) {
	c := NewLocalCounter()
	ctx := context.Background()

	c.Incr(ctx, "a", time.Minute)
	c.Incr(ctx, "a", time.Minute)
	count, _, _ := c.Incr(ctx, "b", time.Minute)
	assert.Equal(t, int64(1), count)
}

func TestLocalCounter_Reset(t *testing.T) {
	c := NewLocalCounter()
	ctx := context.Background()

	c.Incr(ctx, "k", time.Minute)
	require.NoError(t, c.Reset(ctx, "k"))

	count, _ := c.Get(ctx, "k")
	assert.Equal(t, int64(0), count)
}

func TestLocalCounter_Cleanup(t *testing.T) {
	c := NewLocalCounter()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Incr(ctx, "old", time.Minute)
	c.Incr(ctx, "fresh", time.Hour)

	now = now.Add(5 * time.Minute)
	c.Cleanup()

	assert.Len(t, c.windows, 1)
	count, _ := c.Get(ctx, "fresh")
	assert.Equal(t, int64(1), count)
}

func TestLocalCounter_ConcurrentIncrements(t *testing.T) {
	c := NewLocalCounter()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Incr(ctx, "k", time.Minute)
		}()
	}
	wg.Wait()

	count, _ := c.Get(ctx, "k")
	assert.Equal(t, int64(100), count)
}
