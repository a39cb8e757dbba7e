// Package scheduler turns a wired graph.Graph of filter stages into a
// running pipeline: one goroutine per node, a xchannel.Channel fanning
// into every consumer, and first-error/termination propagation via
// golang.org/x/sync/errgroup and poison markers, replacing the original
// engine's dependency-level task-group scheduler (which scheduled whole
// "ready" levels against a shared arena) with a per-node worker model
// suited to filters that run until their upstream exhausts rather than
// once per invocation.
package scheduler

import (
	"context"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/evoliptic/ufo/buffer"
	"github.com/evoliptic/ufo/filter"
	"github.com/evoliptic/ufo/graph"
	"github.com/evoliptic/ufo/plugins"
	"github.com/evoliptic/ufo/requisition"
	"github.com/evoliptic/ufo/resources"
	"github.com/evoliptic/ufo/ufoerr"
	"github.com/evoliptic/ufo/xchannel"
)

// DefaultQueueDepth is the per-edge channel capacity and prefill count
// used when Options.QueueDepth is zero, giving every edge the
// double-buffering the scheduler description calls for.
const DefaultQueueDepth = 2

var nodeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "ufo",
	Subsystem: "scheduler",
	Name:      "node_seconds",
	Help:      "Time spent inside one filter invocation.",
	Buckets:   prometheus.DefBuckets,
}, []string{"node"})

func init() {
	prometheus.MustRegister(nodeLatency)
}

// Options configures a Scheduler run.
type Options struct {
	// Context is the device context every filter and channel transfer
	// runs against. A nil Context defaults to an in-process software
	// backend.
	Context resources.Context
	// QueueDepth is the per-edge channel capacity. Zero uses
	// DefaultQueueDepth.
	QueueDepth int
	// Log receives structured progress and error events. A nil Log
	// defaults to zap.NewNop().
	Log *zap.Logger
	// Trace enables per-node latency histograms when true.
	Trace bool
	// Devices is the number of local and named devices to spread the
	// pipeline's expandable nodes across. Values of 0 or 1 disable the
	// Setup-phase Partition step entirely, so every node runs as exactly
	// one worker.
	Devices int
}

// Scheduler validates a pipeline graph, wires a channel per node input port
// (edges into the same port share it), and runs
// one worker goroutine per node until every source is exhausted or a
// filter returns an error.
type Scheduler struct {
	g      *graph.Graph
	stages map[graph.NodeID]*plugins.Stage
	opts   Options
	ctx    resources.Context
	pool   *resources.Pool
	log    *zap.Logger
}

// New validates g (acyclic, every node has a resolvable Stage) and
// prepares a Scheduler ready to Run.
func New(g *graph.Graph, stages []*plugins.Stage, opts Options) (*Scheduler, error) {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.Context == nil {
		opts.Context = resources.NewSoftware(opts.Log)
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	byID := make(map[graph.NodeID]*plugins.Stage, len(stages))
	for _, s := range stages {
		byID[s.Node().ID()] = s
	}
	for _, n := range g.Nodes() {
		if _, ok := byID[n.ID()]; !ok {
			return nil, ufoerr.New(ufoerr.GraphInvalid, "scheduler: node %s has no associated filter stage", n)
		}
	}

	if _, err := g.FindLongestPath(g.Nodes()); err != nil {
		return nil, ufoerr.Wrap(ufoerr.GraphInvalid, err, "scheduler: pipeline graph must be acyclic")
	}

	return &Scheduler{g: g, stages: byID, opts: opts, ctx: opts.Context, log: opts.Log}, nil
}

// Run executes the pipeline to completion: every source runs until
// exhausted, poison markers propagate downstream through every channel,
// and Run returns the first error any worker encountered (subsequent
// workers still drain to shutdown cleanly).
//
// Setup runs two steps before any worker goroutine starts: Partition
// duplicates each interior node (every node but the head and tail) of the
// longest path of filter.Cloneable-implementing nodes into opts.Devices
// parallel copies, then every node (original or cloned) is assigned a
// command queue round-robin from a resources.Pool sized to opts.Devices,
// so nodes share queues when there are more nodes than devices.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.partition(); err != nil {
		return err
	}

	poolSize := s.opts.Devices
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := resources.NewPool(s.ctx, poolSize)
	if err != nil {
		return ufoerr.Wrap(ufoerr.DeviceAllocation, err, "scheduler: build queue pool")
	}
	s.pool = pool

	channels, err := s.wireChannels()
	if err != nil {
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)

	for _, n := range s.g.Nodes() {
		node := n
		stg := s.stages[node.ID()]
		env := filter.Env{Context: s.ctx, Queue: s.pool.Next()}
		in := channels.inputsOf(node)
		out := channels.outputsOf(node)

		grp.Go(func() error {
			return s.runNode(gctx, channels, stg, env, in, out)
		})
	}

	return grp.Wait()
}

// partition implements the Setup phase's Partition step: when more than one
// device is configured, it finds the longest path through the nodes whose
// filter implements filter.Cloneable (the "expandable" predicate) and,
// following the design's interior-node framing for expand (the head and
// tail of a path stay singular; only interior nodes are duplicated),
// Expands each interior node into opts.Devices parallel per-device copies.
// A path with no interior node (a direct head-to-tail edge) leaves the
// graph untouched.
func (s *Scheduler) partition() error {
	if s.opts.Devices <= 1 {
		return nil
	}

	var expandable []*graph.Node
	for _, n := range s.g.Nodes() {
		if _, ok := s.stages[n.ID()].Filter().(filter.Cloneable); ok {
			expandable = append(expandable, n)
		}
	}
	if len(expandable) == 0 {
		return nil
	}

	path, err := s.g.FindLongestPath(expandable)
	if err != nil {
		return ufoerr.Wrap(ufoerr.GraphInvalid, err, "scheduler: partition longest path")
	}
	if len(path) < 3 {
		return nil
	}

	for _, n := range path[1 : len(path)-1] {
		stg, ok := s.stages[n.ID()]
		if !ok {
			continue
		}
		clones, err := s.g.Expand(n, s.opts.Devices)
		if err != nil {
			return ufoerr.Wrap(ufoerr.GraphInvalid, err, "scheduler: expand node %s", n)
		}
		delete(s.stages, n.ID())
		for _, clone := range clones {
			cloneStage, err := stg.CloneFor(clone)
			if err != nil {
				return err
			}
			s.stages[clone.ID()] = cloneStage
		}
	}
	return nil
}

// runNode drives one filter to completion according to its role: a source
// generates until exhausted, a transform pulls-processes-pushes until its
// inputs close, and a sink consumes until its inputs close. In every case
// the node finishes every downstream channel exactly once per producer it
// represents, so poison markers propagate regardless of which role
// produced them and a multi-producer fan-in point only terminates once
// every producer sharing it has exited.
func (s *Scheduler) runNode(ctx context.Context, channels *channelSet, stg *plugins.Stage, env filter.Env, in map[string]*xchannel.Channel, out []*xchannel.Channel) error {
	defer func() {
		for _, c := range out {
			if err := channels.finishProducer(c); err != nil {
				s.log.Warn("finish downstream channel", zap.Error(err))
			}
		}
	}()

	switch f := stg.Filter().(type) {
	case filter.Source:
		return s.runSource(ctx, stg, f, env, out)
	case filter.Transform:
		return s.runTransform(ctx, stg, f, env, in, out)
	case filter.Sink:
		return s.runSink(ctx, stg, f, env, in)
	default:
		return ufoerr.New(ufoerr.GraphInvalid, "scheduler: node %s implements no known filter role", stg.Node())
	}
}

func (s *Scheduler) runSource(ctx context.Context, stg *plugins.Stage, f filter.Source, env filter.Env, out []*xchannel.Channel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		bufs, err := s.claimOutputs(stg, out)
		if err != nil {
			return err
		}
		if len(bufs) == 0 {
			return nil
		}

		ok, err := s.timed(stg, func() (bool, error) { return f.Generate(ctx, env, bufs[0]) })
		if err != nil {
			s.recycleAll(out, bufs)
			return ufoerr.Wrap(ufoerr.FilterProcess, err, "source "+stg.Node().String())
		}
		if !ok {
			s.recycleAll(out, bufs)
			return nil
		}
		s.duplicateAndRelease(ctx, out, bufs)
	}
}

// runTransform pulls one buffer from every input port each tick. Per the
// design's execution-phase semantics, a Transform exits as soon as any one
// port reports exhaustion (poison), releasing whatever other ports already
// yielded a buffer this tick back to their channels first.
func (s *Scheduler) runTransform(ctx context.Context, stg *plugins.Stage, f filter.Transform, env filter.Env, in map[string]*xchannel.Channel, out []*xchannel.Channel) error {
	ports := sortedPorts(in)
	for {
		ins := make(map[string]*buffer.Buffer, len(ports))
		exhausted := false
		for _, label := range ports {
			buf, ok := in[label].FetchInput()
			if !ok {
				exhausted = true
				break
			}
			ins[label] = buf
		}
		if exhausted {
			for label, buf := range ins {
				in[label].ReleaseOutput(buf)
			}
			return nil
		}

		if len(out) == 0 {
			// A transform with no downstream edge at all (a non-reconnected
			// Expand clone left as a parallel dead-end branch) has nothing
			// to write into; drain and discard instead of exiting after one
			// tick, which would leave its producer blocked pushing into a
			// channel nobody ever empties again.
			releaseAll(in, ins)
			continue
		}

		bufs, err := s.claimOutputs(stg, out)
		if err != nil {
			releaseAll(in, ins)
			return err
		}
		if len(bufs) == 0 {
			releaseAll(in, ins)
			return nil
		}

		_, err = s.timed(stg, func() (bool, error) {
			return true, f.Process(ctx, env, ins, bufs[0])
		})
		releaseAll(in, ins)
		if err != nil {
			s.recycleAll(out, bufs)
			return ufoerr.Wrap(ufoerr.FilterProcess, err, "transform "+stg.Node().String())
		}
		s.duplicateAndRelease(ctx, out, bufs)
	}
}

// runSink consumes whichever input ports still have buffers each tick,
// looping until every port has reported exhaustion — distinct from
// runTransform, which exits as soon as any single port exhausts, because a
// sink has nowhere downstream to propagate an early exit to and must drain
// every producer feeding it.
func (s *Scheduler) runSink(ctx context.Context, stg *plugins.Stage, f filter.Sink, env filter.Env, in map[string]*xchannel.Channel) error {
	active := make(map[string]*xchannel.Channel, len(in))
	for label, c := range in {
		active[label] = c
	}

	for len(active) > 0 {
		ports := sortedPorts(active)
		ins := make(map[string]*buffer.Buffer, len(ports))
		for _, label := range ports {
			buf, ok := active[label].FetchInput()
			if !ok {
				delete(active, label)
				continue
			}
			ins[label] = buf
		}
		if len(ins) == 0 {
			continue
		}

		_, err := s.timed(stg, func() (bool, error) {
			return true, f.Consume(ctx, env, ins)
		})
		releaseAll(in, ins)
		if err != nil {
			return ufoerr.Wrap(ufoerr.FilterProcess, err, "sink "+stg.Node().String())
		}
	}
	return nil
}

func sortedPorts(ports map[string]*xchannel.Channel) []string {
	labels := make([]string, 0, len(ports))
	for l := range ports {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func releaseAll(in map[string]*xchannel.Channel, bufs map[string]*buffer.Buffer) {
	for label, buf := range bufs {
		in[label].ReleaseOutput(buf)
	}
}

// claimOutputs fetches one recycled buffer per downstream channel so a
// fan-out producer never hands the same *buffer.Buffer to two consumers —
// buffers are exclusively owned, circulating to exactly one holder at a
// time (§4.2). bufs[i] corresponds to out[i]; a nil return means every
// out channel was already torn down (only possible once an error
// elsewhere has started shutting the pipeline down).
func (s *Scheduler) claimOutputs(stg *plugins.Stage, out []*xchannel.Channel) ([]*buffer.Buffer, error) {
	req, err := outputsReq(stg)
	if err != nil {
		return nil, err
	}
	bufs := make([]*buffer.Buffer, 0, len(out))
	for _, c := range out {
		buf, ok := c.FetchOutput()
		if !ok {
			return nil, nil
		}
		if buf.CmpDimensions(req) != 0 {
			if err := buf.Resize(req); err != nil {
				return nil, err
			}
		}
		bufs = append(bufs, buf)
	}
	return bufs, nil
}

// duplicateAndRelease pushes bufs[0]'s contents downstream: out[0] gets
// bufs[0] directly, and every additional fan-out branch gets its own
// recycled buffer with the same contents copied in, so each downstream
// consumer holds an independent buffer instance.
func (s *Scheduler) duplicateAndRelease(ctx context.Context, out []*xchannel.Channel, bufs []*buffer.Buffer) {
	for i, c := range out {
		if i > 0 {
			if err := buffer.Copy(ctx, bufs[0], bufs[i]); err != nil {
				s.log.Warn("fan-out duplicate failed", zap.Error(err))
			}
		}
		c.Insert(bufs[i])
	}
}

// recycleAll returns claimed-but-unused buffers to their channels' output
// pools so a mid-tick error or exhaustion never leaks a buffer out of
// circulation.
func (s *Scheduler) recycleAll(out []*xchannel.Channel, bufs []*buffer.Buffer) {
	for i, c := range out {
		if i < len(bufs) {
			c.ReleaseOutput(bufs[i])
		}
	}
}

// outputsReq returns the shape every downstream buffer for stg should
// currently have.
func outputsReq(stg *plugins.Stage) (requisition.Requisition, error) {
	return stg.Filter().Requisition()
}

func (s *Scheduler) timed(stg *plugins.Stage, fn func() (bool, error)) (bool, error) {
	if !s.opts.Trace {
		return fn()
	}
	timer := prometheus.NewTimer(nodeLatency.WithLabelValues(stg.Node().String()))
	defer timer.ObserveDuration()
	return fn()
}
