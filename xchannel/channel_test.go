package xchannel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evoliptic/ufo/buffer"
	"github.com/evoliptic/ufo/requisition"
	"github.com/evoliptic/ufo/resources"
)

func newTestBuffer(t *testing.T) *buffer.Buffer {
	t.Helper()
	ctx := resources.NewSoftware(nil)
	b, err := buffer.New(requisition.MustNew(2), ctx)
	require.NoError(t, err)
	return b
}

func TestInsertFetchInput(t *testing.T) {
	t.Parallel()
	c := New(2)
	c.Ref()

	b := newTestBuffer(t)
	c.Insert(b)

	got, ok := c.FetchInput()
	require.True(t, ok)
	require.Same(t, b, got)
}

func TestFinishSingleProducerClosesQueue(t *testing.T) {
	t.Parallel()
	c := New(2)
	c.Ref()

	require.NoError(t, c.Finish())

	_, ok := c.FetchInput()
	require.False(t, ok)
}

// TestFinishPushesOnePoisonPerRegisteredProducer pins the literal
// testable property: for a channel with refcount k, a single Finish call
// makes every one of k consecutive FetchInput calls observe a poison
// marker — not just the last one, and not requiring k separate Finish
// calls.
func TestFinishPushesOnePoisonPerRegisteredProducer(t *testing.T) {
	t.Parallel()
	c := New(4)
	c.Ref()
	c.Ref()
	c.Ref()

	require.NoError(t, c.Finish())

	for i := 0; i < 3; i++ {
		_, ok := c.FetchInput()
		require.False(t, ok)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	t.Parallel()
	c := New(2)
	c.Ref()

	require.NoError(t, c.Finish())
	require.NoError(t, c.Finish())

	_, ok := c.FetchInput()
	require.False(t, ok)
}

func TestFinishWithoutRefIsError(t *testing.T) {
	t.Parallel()
	c := New(2)
	err := c.Finish()
	require.Error(t, err)
}

func TestPrefillOutputAndFetchOutput(t *testing.T) {
	t.Parallel()
	c := New(2)
	b1 := newTestBuffer(t)
	b2 := newTestBuffer(t)
	c.PrefillOutput([]*buffer.Buffer{b1, b2})

	got1, ok := c.FetchOutput()
	require.True(t, ok)
	require.Same(t, b1, got1)

	got2, ok := c.FetchOutput()
	require.True(t, ok)
	require.Same(t, b2, got2)
}

func TestFinishOutputUnblocksConsumer(t *testing.T) {
	t.Parallel()
	c := New(1)
	done := make(chan bool, 1)
	go func() {
		_, ok := c.FetchOutput()
		done <- ok
	}()
	c.FinishOutput()
	require.False(t, <-done)
}
