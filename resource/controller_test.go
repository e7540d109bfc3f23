package resource

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})
	ctx := context.Background()

	require.NoError(t, c.AcquireMemory(ctx, 50))
	require.NoError(t, c.AcquireMemory(ctx, 40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	assert.False(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(90), c.MemoryUsage())

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireMemory(tctx, 20), context.DeadlineExceeded)

	c.ReleaseMemory(50)
	assert.Equal(t, int64(40), c.MemoryUsage())
	assert.True(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
}

func TestController_MemoryAboveLimit(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	// Fails immediately, without waiting on ctx.
	err := c.AcquireMemory(context.Background(), 101)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.False(t, c.TryAcquireMemory(101))
	assert.Zero(t, c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(context.Background(), 100))
	assert.Equal(t, int64(100), c.MemoryUsage())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{})
	assert.True(t, c.TryAcquireMemory(1<<40))
	assert.Equal(t, int64(1<<40), c.MemoryUsage())
	c.ReleaseMemory(1 << 40)
	assert.Zero(t, c.MemoryUsage())
}

func TestController_Background(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 1})
	require.NoError(t, c.AcquireBackground(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireBackground(ctx))

	c.ReleaseBackground()
	require.NoError(t, c.AcquireBackground(context.Background()))
	c.ReleaseBackground()
}

func TestController_WaitTick(t *testing.T) {
	c := NewController(Config{TickRate: 20})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.WaitTick(ctx))
	}
	// First tick is immediate, the next two are 50ms apart.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	unlimited := NewController(Config{})
	require.NoError(t, unlimited.WaitTick(ctx))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, unlimited.WaitTick(cctx))
}

func TestController_NilSafe(t *testing.T) {
	var c *Controller
	ctx := context.Background()
	assert.NoError(t, c.AcquireMemory(ctx, 10))
	assert.True(t, c.TryAcquireMemory(10))
	c.ReleaseMemory(10)
	assert.Zero(t, c.MemoryUsage())
	assert.NoError(t, c.AcquireBackground(ctx))
	c.ReleaseBackground()
	assert.NoError(t, c.WaitTick(ctx))
	assert.NoError(t, c.AcquireIO(ctx, 1<<20))
	assert.Equal(t, Config{}, c.Config())
}

func TestRateLimitedReader(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	src := bytes.Repeat([]byte("x"), 1<<20+1<<18)

	r := NewRateLimitedReader(context.Background(), bytes.NewReader(src), c)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, len(src), len(got))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewRateLimitedReader(ctx, bytes.NewReader(src), c).Read(make([]byte, 8))
	assert.ErrorIs(t, err, context.Canceled)
}
