package resources_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evoliptic/ufo/resources"
)

func TestAllocBufferZeroesMemory(t *testing.T) {
	ctx := resources.NewSoftware(nil)
	h, err := ctx.AllocBuffer(16)
	require.NoError(t, err)
	assert.Equal(t, 16, h.Size())

	q, err := ctx.NewQueue()
	require.NoError(t, err)
	got := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	require.NoError(t, q.EnqueueRead(context.Background(), h, 0, got))
	assert.Equal(t, make([]byte, 16), got)
}

func TestAllocBufferRejectsNegativeSize(t *testing.T) {
	ctx := resources.NewSoftware(nil)
	_, err := ctx.AllocBuffer(-1)
	assert.Error(t, err)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	ctx := resources.NewSoftware(nil)
	h, err := ctx.AllocBuffer(8)
	require.NoError(t, err)
	q, err := ctx.NewQueue()
	require.NoError(t, err)

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, q.EnqueueWrite(context.Background(), h, 0, want))

	got := make([]byte, 8)
	require.NoError(t, q.EnqueueRead(context.Background(), h, 0, got))
	assert.Equal(t, want, got)
}

func TestReadWriteOutOfBounds(t *testing.T) {
	ctx := resources.NewSoftware(nil)
	h, err := ctx.AllocBuffer(4)
	require.NoError(t, err)
	q, err := ctx.NewQueue()
	require.NoError(t, err)

	assert.Error(t, q.EnqueueRead(context.Background(), h, 0, make([]byte, 8)))
	assert.Error(t, q.EnqueueWrite(context.Background(), h, 2, make([]byte, 8)))
}

func TestEnqueueCopyBetweenHandles(t *testing.T) {
	ctx := resources.NewSoftware(nil)
	src, err := ctx.AllocBuffer(4)
	require.NoError(t, err)
	dst, err := ctx.AllocBuffer(4)
	require.NoError(t, err)
	q, err := ctx.NewQueue()
	require.NoError(t, err)

	require.NoError(t, q.EnqueueWrite(context.Background(), src, 0, []byte{9, 9, 9, 9}))
	require.NoError(t, q.EnqueueCopy(context.Background(), dst, 0, src, 0, 4))

	got := make([]byte, 4)
	require.NoError(t, q.EnqueueRead(context.Background(), dst, 0, got))
	assert.Equal(t, []byte{9, 9, 9, 9}, got)
}

func TestReleaseBufferRejectsForeignHandle(t *testing.T) {
	ctx := resources.NewSoftware(nil)
	assert.Error(t, ctx.ReleaseBuffer(nil))
}

func TestQueueIDsAreDistinct(t *testing.T) {
	ctx := resources.NewSoftware(nil)
	q1, err := ctx.NewQueue()
	require.NoError(t, err)
	q2, err := ctx.NewQueue()
	require.NoError(t, err)
	assert.NotEqual(t, q1.ID(), q2.ID())
}

func TestPoolRoundRobin(t *testing.T) {
	ctx := resources.NewSoftware(nil)
	pool, err := resources.NewPool(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 3, pool.Len())

	first := pool.Next()
	second := pool.Next()
	third := pool.Next()
	fourth := pool.Next()
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, first.ID(), fourth.ID())
	assert.NotEqual(t, second.ID(), third.ID())
}
