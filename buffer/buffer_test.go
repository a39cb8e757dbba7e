package buffer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evoliptic/ufo/requisition"
	"github.com/evoliptic/ufo/resources"
)

func newSoftwareCtx(t *testing.T) (resources.Context, resources.Queue) {
	t.Helper()
	ctx := resources.NewSoftware(nil)
	q, err := ctx.NewQueue()
	require.NoError(t, err)
	return ctx, q
}

func TestNewAllocatesHostAndDevice(t *testing.T) {
	t.Parallel()
	ctx, _ := newSoftwareCtx(t)
	req := requisition.MustNew(4, 4)
	b, err := New(req, ctx)
	require.NoError(t, err)
	require.Equal(t, Host, b.Location())
	require.Equal(t, req.Bytes(), len(b.host))
}

func TestGetHostGetDeviceRoundTrip(t *testing.T) {
	t.Parallel()
	ctx, q := newSoftwareCtx(t)
	req := requisition.MustNew(3)
	b, err := New(req, ctx)
	require.NoError(t, err)

	require.NoError(t, b.PutHostFloats([]float32{1, 2, 3}))

	bg := context.Background()
	dev, err := b.GetDevice(bg, q)
	require.NoError(t, err)
	require.NotNil(t, dev)
	require.Equal(t, Device, b.Location())

	b.host[0] = 0xFF // corrupt the stale host copy directly to prove resync happens
	vals, err := b.GetHost(bg, q)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, vals)
	require.Equal(t, Host, b.Location())
}

// TestGetHostReturnsMutableAlias pins the contract buffer.go documents:
// GetHost's returned slice aliases the host array directly, so a write
// through it persists without going through PutHostFloats.
func TestGetHostReturnsMutableAlias(t *testing.T) {
	t.Parallel()
	ctx, _ := newSoftwareCtx(t)
	b, err := New(requisition.MustNew(3), ctx)
	require.NoError(t, err)

	vals, err := b.GetHost(context.Background(), nil)
	require.NoError(t, err)
	vals[1] = 42

	again, err := b.GetHost(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 42, 0}, again)
}

func TestCopyHostToHost(t *testing.T) {
	t.Parallel()
	ctx, _ := newSoftwareCtx(t)
	req := requisition.MustNew(2, 2)
	src, err := New(req, ctx)
	require.NoError(t, err)
	dst, err := New(req, ctx)
	require.NoError(t, err)

	require.NoError(t, src.PutHostFloats([]float32{1, 2, 3, 4}))

	bg := context.Background()
	require.NoError(t, Copy(bg, src, dst))
	vals, err := dst.GetHost(bg, nil)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4}, vals)
}

func TestCopyDeviceToDeviceWhenBothResident(t *testing.T) {
	t.Parallel()
	ctx, q := newSoftwareCtx(t)
	req := requisition.MustNew(2)
	src, err := New(req, ctx)
	require.NoError(t, err)
	dst, err := New(req, ctx)
	require.NoError(t, err)

	bg := context.Background()
	require.NoError(t, src.PutHostFloats([]float32{5, 6}))
	_, err = src.GetDevice(bg, q)
	require.NoError(t, err)
	_, err = dst.GetDevice(bg, q)
	require.NoError(t, err)

	require.NoError(t, Copy(bg, src, dst))
	require.Equal(t, Device, dst.Location())

	vals, err := dst.GetHost(bg, q)
	require.NoError(t, err)
	require.Equal(t, []float32{5, 6}, vals)
}

func TestCopySizeMismatch(t *testing.T) {
	t.Parallel()
	ctx, _ := newSoftwareCtx(t)
	src, err := New(requisition.MustNew(2), ctx)
	require.NoError(t, err)
	dst, err := New(requisition.MustNew(3), ctx)
	require.NoError(t, err)

	err = Copy(context.Background(), src, dst)
	require.Error(t, err)
}

func TestResizeResetsResidency(t *testing.T) {
	t.Parallel()
	ctx, q := newSoftwareCtx(t)
	b, err := New(requisition.MustNew(2), ctx)
	require.NoError(t, err)

	bg := context.Background()
	_, err = b.GetDevice(bg, q)
	require.NoError(t, err)
	require.Equal(t, Device, b.Location())

	require.NoError(t, b.Resize(requisition.MustNew(4)))
	require.Equal(t, Host, b.Location())
	require.Equal(t, 16, b.Requisition().Bytes())
}

func TestDuplicateIsIndependentStorage(t *testing.T) {
	t.Parallel()
	ctx, _ := newSoftwareCtx(t)
	b, err := New(requisition.MustNew(2), ctx)
	require.NoError(t, err)
	require.NoError(t, b.PutHostFloats([]float32{9, 9}))

	dup, err := b.Duplicate()
	require.NoError(t, err)
	vals, err := dup.GetHost(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0}, vals)
}

func TestConvert8Bit(t *testing.T) {
	t.Parallel()
	ctx, _ := newSoftwareCtx(t)
	req := requisition.MustNew(4)
	b, err := New(req, ctx)
	require.NoError(t, err)
	copy(b.host, []byte{10, 20, 30, 40})

	require.NoError(t, b.Convert(8))
	vals, err := b.GetHost(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []float32{10, 20, 30, 40}, vals)
}

func TestConvert16Bit(t *testing.T) {
	t.Parallel()
	ctx, _ := newSoftwareCtx(t)
	req := requisition.MustNew(2)
	b, err := New(req, ctx)
	require.NoError(t, err)
	// two little-endian uint16 samples: 300 and 1000
	copy(b.host, []byte{44, 1, 232, 3})

	require.NoError(t, b.Convert(16))
	vals, err := b.GetHost(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []float32{300, 1000}, vals)
}

func TestCmpDimensions(t *testing.T) {
	t.Parallel()
	ctx, _ := newSoftwareCtx(t)
	b, err := New(requisition.MustNew(4, 4), ctx)
	require.NoError(t, err)
	require.Equal(t, 0, b.CmpDimensions(requisition.MustNew(4, 4)))
	require.Positive(t, b.CmpDimensions(requisition.MustNew(2, 2)))
}
