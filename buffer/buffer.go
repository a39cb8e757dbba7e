// Package buffer implements the n-dimensional float32 buffer with dual
// host/device residency and lazy synchronization described in the design's
// data model: a buffer owns one host allocation and, lazily, one device
// allocation of equal size, and tracks which side is authoritative.
package buffer

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"unsafe"

	"github.com/evoliptic/ufo/requisition"
	"github.com/evoliptic/ufo/resources"
	"github.com/evoliptic/ufo/ufoerr"
)

// Location names which side of a Buffer is authoritative.
type Location int

const (
	// Host means the host array holds the correct data; the device side
	// (if allocated) may be stale.
	Host Location = iota
	// Device means the device allocation holds the correct data.
	Device
	// Both means host and device are known to agree.
	Both
)

func (l Location) String() string {
	switch l {
	case Host:
		return "host"
	case Device:
		return "device"
	case Both:
		return "both"
	default:
		return "unknown"
	}
}

// Buffer is an n-dimensional float32 array with dual host/device
// residency. Buffers are not safe for concurrent use: ownership is
// exclusive and circulates between scheduler, channel, and filter worker,
// exactly one holder at a time.
type Buffer struct {
	mu sync.Mutex

	req requisition.Requisition
	ctx resources.Context

	host   []byte
	device resources.DeviceHandle

	location  Location
	lastQueue resources.Queue
}

// New allocates a host array (zero-initialized) of the size the
// requisition implies, and a same-sized device allocation against ctx.
// Residency starts at Host.
func New(req requisition.Requisition, ctx resources.Context) (*Buffer, error) {
	b := &Buffer{req: req, ctx: ctx}
	if err := b.allocate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Buffer) allocate() error {
	size := b.req.Bytes()
	b.host = make([]byte, size)
	if b.ctx != nil {
		dev, err := b.ctx.AllocBuffer(size)
		if err != nil {
			return ufoerr.Wrap(ufoerr.DeviceAllocation, err, "allocate device buffer")
		}
		b.device = dev
	}
	b.location = Host
	return nil
}

func (b *Buffer) release() {
	if b.ctx != nil && b.device != nil {
		_ = b.ctx.ReleaseBuffer(b.device)
	}
	b.host = nil
	b.device = nil
}

// Requisition returns the buffer's current shape.
func (b *Buffer) Requisition() requisition.Requisition {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.req
}

// Location reports which side is currently authoritative.
func (b *Buffer) Location() Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.location
}

// LastQueue returns the most recently used command queue, or nil if the
// buffer has never been synchronized against a device.
func (b *Buffer) LastQueue() resources.Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastQueue
}

// Resize releases the existing host and device allocations and reallocates
// per the new requisition. Residency is reset to Host.
func (b *Buffer) Resize(req requisition.Requisition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release()
	b.req = req
	return b.allocate()
}

// Destroy releases both the host memory and the device handle.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release()
}

// CmpDimensions returns the signed sum of per-dimension differences between
// this buffer's requisition and req, used by callers deciding whether a
// recycled buffer needs a resize.
func (b *Buffer) CmpDimensions(req requisition.Requisition) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.req.CmpDimensions(req)
}

// Duplicate returns a fresh buffer with the same requisition and context;
// its contents are undefined (freshly allocated, zeroed) and it shares no
// storage with the original.
func (b *Buffer) Duplicate() (*Buffer, error) {
	b.mu.Lock()
	req, ctx := b.req, b.ctx
	b.mu.Unlock()
	return New(req, ctx)
}

// DiscardLocation marks loc authoritative without copying — used when a
// filter is about to overwrite all data and the prior contents are
// worthless.
func (b *Buffer) DiscardLocation(loc Location) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.location = loc
}

// GetHost synchronizes the host side if the device is authoritative (using
// queue if non-nil), then returns a []float32 view aliasing the host
// array directly and marks Host authoritative. Writes through the
// returned slice land in the buffer's storage immediately — there is no
// separate copy to flush back.
func (b *Buffer) GetHost(ctx context.Context, queue resources.Queue) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.location == Device {
		if err := b.syncToHostLocked(ctx, queue); err != nil {
			return nil, err
		}
	}
	b.location = Host
	return asFloat32(b.host), nil
}

// GetDevice synchronizes the device side if the host is authoritative
// (using queue), then returns the device handle and marks Device
// authoritative.
func (b *Buffer) GetDevice(ctx context.Context, queue resources.Queue) (resources.DeviceHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device == nil {
		return nil, ufoerr.New(ufoerr.DeviceAllocation, "buffer has no device context")
	}
	if b.location == Host {
		if queue == nil {
			return nil, ufoerr.New(ufoerr.DeviceTransfer, "get_device requires a queue to synchronize from host")
		}
		if err := queue.EnqueueWrite(ctx, b.device, 0, b.host); err != nil {
			return nil, ufoerr.Wrap(ufoerr.DeviceTransfer, err, "host->device sync")
		}
		b.lastQueue = queue
	}
	if queue != nil {
		b.lastQueue = queue
	}
	b.location = Device
	return b.device, nil
}

// syncToHostLocked pulls device data into the host array. Caller holds mu.
func (b *Buffer) syncToHostLocked(ctx context.Context, queue resources.Queue) error {
	q := queue
	if q == nil {
		q = b.lastQueue
	}
	if q == nil || b.device == nil {
		// No queue/device available: host is the only copy of record.
		return nil
	}
	if err := q.EnqueueRead(ctx, b.device, 0, b.host); err != nil {
		return ufoerr.Wrap(ufoerr.DeviceTransfer, err, "device->host sync")
	}
	b.lastQueue = q
	return nil
}

// Copy performs the buffer-to-buffer transfer algorithm from the design:
// it chooses the cheapest path based on current residency, preferring a
// same-side copy, and otherwise synchronizes src toward dst's side. src
// and dst must have equal byte size. After completion dst is authoritative
// on whichever side received the copy.
func Copy(ctx context.Context, src, dst *Buffer) error {
	src.mu.Lock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	defer src.mu.Unlock()

	if src.req.Bytes() != dst.req.Bytes() {
		return ufoerr.New(ufoerr.DeviceTransfer, "copy: size mismatch %d != %d", src.req.Bytes(), dst.req.Bytes())
	}

	q := src.lastQueue
	if q == nil {
		q = dst.lastQueue
	}

	if q == nil || dst.location != Device {
		// Pull src to host, then host->host memcpy.
		if src.location == Device {
			if err := src.syncToHostLocked(ctx, q); err != nil {
				return err
			}
			src.location = Host
		}
		copy(dst.host, src.host)
		dst.location = Host
		return nil
	}

	// Pull src to device, then device->device copy.
	if src.location == Host {
		if src.device == nil {
			return ufoerr.New(ufoerr.DeviceAllocation, "copy: src has no device allocation")
		}
		if err := q.EnqueueWrite(ctx, src.device, 0, src.host); err != nil {
			return ufoerr.Wrap(ufoerr.DeviceTransfer, err, "copy: src host->device")
		}
		src.location = Device
		src.lastQueue = q
	}
	if dst.device == nil {
		return ufoerr.New(ufoerr.DeviceAllocation, "copy: dst has no device allocation")
	}
	if err := q.EnqueueCopy(ctx, dst.device, 0, src.device, 0, src.req.Bytes()); err != nil {
		return ufoerr.Wrap(ufoerr.DeviceTransfer, err, "copy: device->device")
	}
	dst.location = Device
	dst.lastQueue = q
	return nil
}

// Convert widens the low bytes of the host array from 8-bit or 16-bit
// unsigned integer samples into float32 samples, in place. depth must be 8
// or 16. The buffer's requisition must already reflect the final float32
// size; Convert processes back-to-front so the narrower source bytes and
// the wider float32 destination may alias the same backing array.
func (b *Buffer) Convert(depth int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if depth != 8 && depth != 16 {
		return ufoerr.New(ufoerr.FilterProcess, "convert: unsupported depth %d", depth)
	}

	count := b.req.Count()
	srcBytesPerSample := depth / 8
	needed := count * srcBytesPerSample
	if needed > len(b.host) {
		return ufoerr.New(ufoerr.FilterProcess, "convert: source region %d exceeds buffer size %d", needed, len(b.host))
	}

	for i := count - 1; i >= 0; i-- {
		var v uint32
		if depth == 8 {
			v = uint32(b.host[i])
		} else {
			v = uint32(binary.LittleEndian.Uint16(b.host[i*2 : i*2+2]))
		}
		f := float32(v)
		binary.LittleEndian.PutUint32(b.host[i*4:i*4+4], math.Float32bits(f))
	}
	b.location = Host
	return nil
}

// asFloat32 reinterprets b as a []float32 aliasing the same backing array,
// matching the teacher's AsFloat32Prev/AsUint32Prev reinterpret-cast
// pattern: no copy, no endianness conversion, just a pointer and length
// reinterpreted for the native (little-endian) float32 layout the rest of
// this package assumes.
func asFloat32(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// PutHostFloats writes vals into the host array (as little-endian float32
// bytes) and marks Host authoritative. It is a convenience for filters that
// already hold a []float32 built elsewhere rather than writing through the
// slice GetHost returns.
func (b *Buffer) PutHostFloats(vals []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(vals)*4 > len(b.host) {
		return ufoerr.New(ufoerr.FilterProcess, "put_host_floats: %d floats exceed buffer capacity", len(vals))
	}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b.host[i*4:i*4+4], math.Float32bits(v))
	}
	b.location = Host
	return nil
}
