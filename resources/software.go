package resources

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/evoliptic/ufo/ufoerr"
)

// Software is an in-process Context implementation: "device" memory is
// ordinary host byte slices, and every queue operation runs synchronously
// under a mutex. It exists so the buffer and scheduler layers can be
// fully exercised — allocated, copied, resized, raced under -race — without
// a real accelerator binding, treating the OpenCL resource manager as an
// external collaborator we only consume an interface from.
type Software struct {
	mu  sync.Mutex
	log *zap.Logger
}

// NewSoftware creates a software-backed device context. A nil logger falls
// back to zap.NewNop().
func NewSoftware(log *zap.Logger) *Software {
	if log == nil {
		log = zap.NewNop()
	}
	return &Software{log: log}
}

type softwareHandle struct {
	mu   *sync.Mutex
	data []byte
}

func (h *softwareHandle) Size() int { return len(h.data) }

// AllocBuffer implements Context.
func (s *Software) AllocBuffer(size int) (DeviceHandle, error) {
	if size < 0 {
		s.log.Warn("device allocation failed", zap.Int("size", size))
		return nil, ufoerr.New(ufoerr.DeviceAllocation, "negative allocation size %d", size)
	}
	return &softwareHandle{mu: &s.mu, data: make([]byte, size)}, nil
}

// ReleaseBuffer implements Context.
func (s *Software) ReleaseBuffer(h DeviceHandle) error {
	sh, ok := h.(*softwareHandle)
	if !ok || sh == nil {
		return ufoerr.New(ufoerr.DeviceAllocation, "release: not a software handle")
	}
	sh.data = nil
	return nil
}

// NewQueue implements Context.
func (s *Software) NewQueue() (Queue, error) {
	return &softwareQueue{ctx: s, id: newQueueID()}, nil
}

var queueIDCounter int
var queueIDMu sync.Mutex

func newQueueID() string {
	queueIDMu.Lock()
	defer queueIDMu.Unlock()
	queueIDCounter++
	return "sw-queue-" + strconv.Itoa(queueIDCounter)
}

type softwareEvent struct{ err error }

func (e *softwareEvent) Wait(ctx context.Context) error { return e.err }
func (e *softwareEvent) Release()                       {}

type softwareQueue struct {
	ctx *Software
	id  string
}

func (q *softwareQueue) ID() string { return q.id }

func (q *softwareQueue) EnqueueRead(ctx context.Context, h DeviceHandle, offset int, dst []byte) error {
	sh, ok := h.(*softwareHandle)
	if !ok {
		return ufoerr.New(ufoerr.DeviceTransfer, "read: not a software handle")
	}
	q.ctx.mu.Lock()
	defer q.ctx.mu.Unlock()
	if offset < 0 || offset+len(dst) > len(sh.data) {
		return ufoerr.New(ufoerr.DeviceTransfer, "read out of bounds: offset=%d len=%d size=%d", offset, len(dst), len(sh.data))
	}
	copy(dst, sh.data[offset:offset+len(dst)])
	return nil
}

func (q *softwareQueue) EnqueueWrite(ctx context.Context, h DeviceHandle, offset int, src []byte) error {
	sh, ok := h.(*softwareHandle)
	if !ok {
		return ufoerr.New(ufoerr.DeviceTransfer, "write: not a software handle")
	}
	q.ctx.mu.Lock()
	defer q.ctx.mu.Unlock()
	if offset < 0 || offset+len(src) > len(sh.data) {
		return ufoerr.New(ufoerr.DeviceTransfer, "write out of bounds: offset=%d len=%d size=%d", offset, len(src), len(sh.data))
	}
	copy(sh.data[offset:offset+len(src)], src)
	return nil
}

func (q *softwareQueue) EnqueueCopy(ctx context.Context, dst DeviceHandle, dstOffset int, src DeviceHandle, srcOffset int, length int) error {
	dsh, ok := dst.(*softwareHandle)
	if !ok {
		return ufoerr.New(ufoerr.DeviceTransfer, "copy: dst not a software handle")
	}
	ssh, ok := src.(*softwareHandle)
	if !ok {
		return ufoerr.New(ufoerr.DeviceTransfer, "copy: src not a software handle")
	}
	q.ctx.mu.Lock()
	defer q.ctx.mu.Unlock()
	if srcOffset < 0 || srcOffset+length > len(ssh.data) {
		return ufoerr.New(ufoerr.DeviceTransfer, "copy src out of bounds")
	}
	if dstOffset < 0 || dstOffset+length > len(dsh.data) {
		return ufoerr.New(ufoerr.DeviceTransfer, "copy dst out of bounds")
	}
	copy(dsh.data[dstOffset:dstOffset+length], ssh.data[srcOffset:srcOffset+length])
	return nil
}
