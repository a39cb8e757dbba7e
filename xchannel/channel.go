// Package xchannel implements the bounded two-queue buffer exchange that
// connects filters along a graph edge: an input queue carrying filled
// buffers to the consuming filter and an output queue returning emptied
// buffers to the producing filter, both backed by buffered Go channels, with
// poison-marker termination and reference counting so several producers can
// share one consumer's input queue.
package xchannel

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evoliptic/ufo/buffer"
	"github.com/evoliptic/ufo/ufoerr"
)

var inFlightBuffers = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "ufo",
	Subsystem: "xchannel",
	Name:      "buffers_in_flight",
	Help:      "Number of buffers currently queued across all channels.",
})

func init() {
	prometheus.MustRegister(inFlightBuffers)
}

// item travels through a channel's queues. A poison item carries done=true
// and a nil Buf; it marks one producer's worth of termination.
type item struct {
	buf  *buffer.Buffer
	done bool
}

// Channel is the bounded, dual-queue connection the scheduler wires between
// two adjacent nodes along a graph edge. The producer FetchOutputs an empty
// buffer, fills it, and Inserts it into the input queue; the consumer
// FetchInputs it, reads it, and ReleaseOutputs it back onto the output
// queue, where the producer FetchOutputs it again for reuse.
type Channel struct {
	input  chan item
	output chan item

	refs       atomic.Int32
	finishOnce sync.Once
}

// New creates a Channel with the given per-queue capacity. capacity must be
// at least 1; values below that are clamped up to 1. The scheduler passes
// its QueueDepth, which defaults to 2 (double buffering).
func New(capacity int) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	c := &Channel{
		input:  make(chan item, capacity),
		output: make(chan item, capacity),
	}
	return c
}

// Ref registers one producer against this channel. The count is used
// purely to size Finish's poison-marker push — Ref does not by itself
// change when the channel terminates; that is whenever Finish is called.
func (c *Channel) Ref() {
	c.refs.Add(1)
}

// Unref is the mirror of Ref, used when a producer is torn down before
// ever running (e.g. a graph edge that turned out unreachable).
func (c *Channel) Unref() {
	c.refs.Add(-1)
}

// Insert pushes a filled buffer onto the input queue, blocking while it is
// full.
func (c *Channel) Insert(buf *buffer.Buffer) {
	c.input <- item{buf: buf}
	inFlightBuffers.Inc()
}

// FetchInput blocks until a buffer or a poison marker is available on the
// input queue. ok is false once every producer has finished and the queue
// has drained, matching the original engine's "ufo_buffer NULL means
// source exhausted" contract.
func (c *Channel) FetchInput() (buf *buffer.Buffer, ok bool) {
	it, open := <-c.input
	if !open {
		return nil, false
	}
	if it.done {
		return nil, false
	}
	inFlightBuffers.Dec()
	return it.buf, true
}

// ReleaseOutput pushes buf onto this channel's output queue for whichever
// node consumes it next, blocking while the queue is full.
func (c *Channel) ReleaseOutput(buf *buffer.Buffer) {
	c.output <- item{buf: buf}
}

// FetchOutput blocks until a buffer or poison marker is available on the
// output queue.
func (c *Channel) FetchOutput() (buf *buffer.Buffer, ok bool) {
	it, open := <-c.output
	if !open {
		return nil, false
	}
	if it.done {
		return nil, false
	}
	return it.buf, true
}

// PrefillOutput seeds the output queue with the caller-allocated empty
// buffers in bufs, so the producer's first len(bufs) FetchOutput calls have
// somewhere to write without waiting for the downstream consumer to
// release a buffer, matching the scheduler's double-buffering setup.
func (c *Channel) PrefillOutput(bufs []*buffer.Buffer) {
	for _, b := range bufs {
		c.output <- item{buf: b}
	}
}

// Finish pushes one poison marker per registered producer onto the input
// queue in this single call, then closes it, so every one of the k
// FetchInput calls a channel with refcount k owes its consumer returns
// ok=false — matching the original engine's ufo_channel_finish, which
// loops ref_count times pushing one marker per iteration from a single
// call. Finish is idempotent: only the first call has any effect, so a
// caller coordinating several producers sharing one channel (a fan-in
// point from Expand'd device clones) calls it exactly once, when the last
// producer exits, rather than once per producer. Calling it with no
// registered producers is a programmer error and returns
// ufoerr.GraphInvalid.
func (c *Channel) Finish() error {
	n := c.refs.Load()
	if n <= 0 {
		return ufoerr.New(ufoerr.GraphInvalid, "xchannel: Finish called with no registered producers")
	}
	c.finishOnce.Do(func() {
		for i := int32(0); i < n; i++ {
			c.input <- item{done: true}
		}
		close(c.input)
	})
	return nil
}

// FinishOutput closes the output queue once the node owning it has pushed
// its final result (or none at all), unblocking pending FetchOutput calls
// (the producer side of this channel) with ok=false.
func (c *Channel) FinishOutput() {
	c.output <- item{done: true}
	close(c.output)
}

// Drain discards all remaining buffered items without processing them,
// used when the scheduler is tearing down after an error and wants to
// unblock any producer stuck on a full queue.
func (c *Channel) Drain() {
	for {
		select {
		case it, open := <-c.input:
			if !open {
				return
			}
			if it.buf != nil {
				inFlightBuffers.Dec()
			}
		default:
			return
		}
	}
}
