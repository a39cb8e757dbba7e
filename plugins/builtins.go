package plugins

import (
	"context"
	"sync/atomic"

	"github.com/evoliptic/ufo/buffer"
	"github.com/evoliptic/ufo/filter"
	"github.com/evoliptic/ufo/requisition"
	"github.com/evoliptic/ufo/ufoerr"
)

// Generate is a source that emits count buffers of float32 data shaped by
// its width/height properties, every sample set to its fill property (zero
// when unset), then reports exhaustion. With
// count<=0 it never terminates on its own and relies on the scheduler
// shutting the pipeline down.
type Generate struct {
	req       requisition.Requisition
	count     int64
	emitted   int64
	fillValue float64
}

func (g *Generate) Initialize(props filter.PropertyBag) error {
	w, err := props.Int64("width")
	if err != nil {
		return err
	}
	h, err := props.Int64("height")
	if err != nil {
		return err
	}
	req, err := requisition.New(int(w), int(h))
	if err != nil {
		return ufoerr.Wrap(ufoerr.GraphInvalid, err, "generate: invalid shape")
	}
	g.req = req

	if props.Has("count") {
		c, err := props.Int64("count")
		if err != nil {
			return err
		}
		g.count = c
	}
	if props.Has("fill") {
		f, err := props.Float64("fill")
		if err != nil {
			return err
		}
		g.fillValue = f
	}
	return nil
}

func (g *Generate) Requisition() (requisition.Requisition, error) { return g.req, nil }

// Clone returns a fresh Generate with the same configuration and its own
// emitted counter starting at zero, for Expand'ing this source across
// several devices.
func (g *Generate) Clone() (filter.Filter, error) {
	return &Generate{req: g.req, count: g.count, fillValue: g.fillValue}, nil
}

func (g *Generate) Generate(ctx context.Context, env filter.Env, out *buffer.Buffer) (bool, error) {
	if g.count > 0 && atomic.LoadInt64(&g.emitted) >= g.count {
		return false, nil
	}
	atomic.AddInt64(&g.emitted, 1)

	vals := make([]float32, g.req.Count())
	for i := range vals {
		vals[i] = float32(g.fillValue)
	}
	if err := out.PutHostFloats(vals); err != nil {
		return false, ufoerr.Wrap(ufoerr.FilterProcess, err, "generate: fill output")
	}
	return true, nil
}

// Identity copies its input to its output unchanged. It exists mainly as
// the minimal Transform reference implementation and for pipeline tests
// that need a structural no-op stage.
type Identity struct {
	req requisition.Requisition
}

func (id *Identity) Initialize(props filter.PropertyBag) error {
	w, err := props.Int64("width")
	if err != nil {
		return err
	}
	h, err := props.Int64("height")
	if err != nil {
		return err
	}
	req, err := requisition.New(int(w), int(h))
	if err != nil {
		return ufoerr.Wrap(ufoerr.GraphInvalid, err, "identity: invalid shape")
	}
	id.req = req
	return nil
}

func (id *Identity) Requisition() (requisition.Requisition, error) { return id.req, nil }

// Clone returns a fresh Identity with the same configured shape.
func (id *Identity) Clone() (filter.Filter, error) {
	return &Identity{req: id.req}, nil
}

func (id *Identity) Process(ctx context.Context, env filter.Env, ins map[string]*buffer.Buffer, out *buffer.Buffer) error {
	in, err := filter.Single(ins)
	if err != nil {
		return err
	}
	if err := buffer.Copy(ctx, in, out); err != nil {
		return ufoerr.Wrap(ufoerr.FilterProcess, err, "identity: copy")
	}
	return nil
}

// Scale multiplies every sample by its "factor" property, the canonical
// illustrative per-element kernel (replacing the original engine's
// sqr_plus_x/relu opcode catalog with a single configurable transform
// suitable for image gain adjustment).
type Scale struct {
	req    requisition.Requisition
	factor float64
}

func (s *Scale) Initialize(props filter.PropertyBag) error {
	w, err := props.Int64("width")
	if err != nil {
		return err
	}
	h, err := props.Int64("height")
	if err != nil {
		return err
	}
	req, err := requisition.New(int(w), int(h))
	if err != nil {
		return ufoerr.Wrap(ufoerr.GraphInvalid, err, "scale: invalid shape")
	}
	s.req = req

	s.factor = 1.0
	if props.Has("factor") {
		f, err := props.Float64("factor")
		if err != nil {
			return err
		}
		s.factor = f
	}
	return nil
}

func (s *Scale) Requisition() (requisition.Requisition, error) { return s.req, nil }

// Clone returns a fresh Scale with the same configured shape and factor.
func (s *Scale) Clone() (filter.Filter, error) {
	return &Scale{req: s.req, factor: s.factor}, nil
}

func (s *Scale) Process(ctx context.Context, env filter.Env, ins map[string]*buffer.Buffer, out *buffer.Buffer) error {
	in, err := filter.Single(ins)
	if err != nil {
		return err
	}
	vals, err := in.GetHost(ctx, env.Queue)
	if err != nil {
		return ufoerr.Wrap(ufoerr.FilterProcess, err, "scale: read input")
	}
	scaled := make([]float32, len(vals))
	factor := float32(s.factor)
	for i, v := range vals {
		scaled[i] = v * factor
	}
	if err := out.PutHostFloats(scaled); err != nil {
		return ufoerr.Wrap(ufoerr.FilterProcess, err, "scale: write output")
	}
	return nil
}

// Count is a sink that tallies how many buffers and samples it has
// consumed; tests read these back via Total/Samples after the pipeline
// drains.
type Count struct {
	total   int64
	samples int64
}

func (c *Count) Initialize(props filter.PropertyBag) error { return nil }

func (c *Count) Requisition() (requisition.Requisition, error) {
	return requisition.Requisition{}, ufoerr.New(ufoerr.GraphInvalid, "count: sinks have no output requisition")
}

// Clone returns a fresh Count with its own tallies starting at zero.
func (c *Count) Clone() (filter.Filter, error) {
	return &Count{}, nil
}

func (c *Count) Consume(ctx context.Context, env filter.Env, ins map[string]*buffer.Buffer) error {
	for _, in := range ins {
		atomic.AddInt64(&c.total, 1)
		atomic.AddInt64(&c.samples, int64(in.Requisition().Count()))
	}
	return nil
}

// Total reports how many buffers have been consumed so far.
func (c *Count) Total() int64 { return atomic.LoadInt64(&c.total) }

// Samples reports how many float32 samples have been consumed so far.
func (c *Count) Samples() int64 { return atomic.LoadInt64(&c.samples) }
