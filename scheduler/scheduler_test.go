package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evoliptic/ufo/buffer"
	"github.com/evoliptic/ufo/filter"
	"github.com/evoliptic/ufo/graph"
	"github.com/evoliptic/ufo/plugins"
	"github.com/evoliptic/ufo/requisition"
	"github.com/evoliptic/ufo/resources"
	"github.com/evoliptic/ufo/ufoerr"
)

func TestSchedulerRunsLinearPipelineToCompletion(t *testing.T) {
	t.Parallel()
	r := plugins.NewRegistry()
	plugins.RegisterBuiltins(r)

	g, stages, err := plugins.ParsePipeline(
		"generate width=2 height=1 fill=3 count=5 ! scale factor=2 width=2 height=1 ! count",
		r,
	)
	require.NoError(t, err)

	sched, err := New(g, stages, Options{Context: resources.NewSoftware(nil)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Run(ctx))

	sink := stages[2].Filter().(*plugins.Count)
	require.Equal(t, int64(5), sink.Total())
	require.Equal(t, int64(10), sink.Samples())
}

func TestSchedulerRejectsMissingStage(t *testing.T) {
	t.Parallel()
	r := plugins.NewRegistry()
	plugins.RegisterBuiltins(r)

	g, stages, err := plugins.ParsePipeline("generate width=1 height=1 ! count", r)
	require.NoError(t, err)

	_, err = New(g, stages[:1], Options{})
	require.Error(t, err)
}

func TestParsePipelineRejectsInvalidFilterShape(t *testing.T) {
	t.Parallel()
	r := plugins.NewRegistry()
	plugins.RegisterBuiltins(r)

	// width=0 fails requisition.New validation inside Generate.Initialize,
	// so the pipeline never even parses; assert that surfaces here too.
	_, _, err := plugins.ParsePipeline("generate width=0 height=1 ! count", r)
	require.Error(t, err)
}

// TestSchedulerFanOutBothSinksReceiveEveryBuffer builds one source feeding
// two independent sinks directly (scenario 2 of the design's testable
// properties): both must observe the same buffer count and terminate
// cleanly, and — since buffers circulate by exclusive ownership — each
// sink must hold its own buffer instance rather than share the source's.
func TestSchedulerFanOutBothSinksReceiveEveryBuffer(t *testing.T) {
	t.Parallel()

	src := &plugins.Generate{}
	require.NoError(t, src.Initialize(filter.NewPropertyBag(map[string]string{
		"width": "2", "height": "1", "count": "4", "fill": "7",
	})))
	sinkA := &plugins.Count{}
	require.NoError(t, sinkA.Initialize(filter.NewPropertyBag(nil)))
	sinkB := &plugins.Count{}
	require.NoError(t, sinkB.Initialize(filter.NewPropertyBag(nil)))

	g := graph.New()
	srcNode := graph.NewNode("generate", nil)
	sinkANode := graph.NewNode("count", nil)
	sinkBNode := graph.NewNode("count", nil)
	require.NoError(t, g.ConnectNodes(srcNode, sinkANode, "default"))
	require.NoError(t, g.ConnectNodes(srcNode, sinkBNode, "default"))

	stages := []*plugins.Stage{
		plugins.NewStage(srcNode, src, filter.RoleSource),
		plugins.NewStage(sinkANode, sinkA, filter.RoleSink),
		plugins.NewStage(sinkBNode, sinkB, filter.RoleSink),
	}

	sched, err := New(g, stages, Options{Context: resources.NewSoftware(nil)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Run(ctx))

	require.Equal(t, int64(4), sinkA.Total())
	require.Equal(t, int64(4), sinkB.Total())
}

// TestSchedulerPartitionsExpandableInteriorNode exercises the Setup-phase
// Partition step: with Devices>1, the interior node of the longest
// cloneable path (the scale transform here, since generate and count are
// the path's head and tail) gets Expand'd into that many device-bound
// clones before wiring, yet every buffer the source emits still reaches
// the sink exactly once, since only the last clone reconnects onward.
func TestSchedulerPartitionsExpandableInteriorNode(t *testing.T) {
	t.Parallel()
	r := plugins.NewRegistry()
	plugins.RegisterBuiltins(r)

	g, stages, err := plugins.ParsePipeline(
		"generate width=2 height=1 fill=1 count=6 ! scale factor=3 width=2 height=1 ! count",
		r,
	)
	require.NoError(t, err)

	sched, err := New(g, stages, Options{Context: resources.NewSoftware(nil), Devices: 3})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Run(ctx))

	require.Equal(t, 5, sched.g.NumNodes(), "generate + 3 scale clones + count")

	sink := stages[2].Filter().(*plugins.Count)
	require.Equal(t, int64(6), sink.Total())
	require.Equal(t, int64(12), sink.Samples())
}

// TestSchedulerRunAssignsDistinctQueuesRoundRobin pins Comment 3's fix:
// Run builds a resources.Pool sized to Devices and hands out queues
// round-robin, one per node, rather than sharing a single queue across
// every worker.
func TestSchedulerRunAssignsDistinctQueuesRoundRobin(t *testing.T) {
	t.Parallel()
	r := plugins.NewRegistry()
	plugins.RegisterBuiltins(r)

	g, stages, err := plugins.ParsePipeline("generate width=1 height=1 count=1 ! count", r)
	require.NoError(t, err)

	sched, err := New(g, stages, Options{Context: resources.NewSoftware(nil), Devices: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Run(ctx))

	require.Equal(t, 2, sched.pool.Len())
	first, second := sched.pool.Next(), sched.pool.Next()
	require.NotEqual(t, first.ID(), second.ID())
}

type sumTransform struct {
	req requisition.Requisition
}

func (s *sumTransform) Initialize(filter.PropertyBag) error { return nil }
func (s *sumTransform) Requisition() (requisition.Requisition, error) {
	return s.req, nil
}

// Process reads two distinct input ports and writes their elementwise sum,
// pinning Comment 2's multi-input routing: a Transform whose node has more
// than one input port receives one buffer per port, keyed by
// graph.Edge.Label, instead of every predecessor collapsing onto one
// shared channel.
func (s *sumTransform) Process(ctx context.Context, env filter.Env, ins map[string]*buffer.Buffer, out *buffer.Buffer) error {
	a, ok := ins["a"]
	if !ok {
		return ufoerr.New(ufoerr.GraphInvalid, "sumTransform: missing port a")
	}
	b, ok := ins["b"]
	if !ok {
		return ufoerr.New(ufoerr.GraphInvalid, "sumTransform: missing port b")
	}
	av, err := a.GetHost(ctx, env.Queue)
	if err != nil {
		return err
	}
	bv, err := b.GetHost(ctx, env.Queue)
	if err != nil {
		return err
	}
	sum := make([]float32, len(av))
	for i := range av {
		sum[i] = av[i] + bv[i]
	}
	return out.PutHostFloats(sum)
}

func TestSchedulerMultiInputTransformRoutesByEdgeLabel(t *testing.T) {
	t.Parallel()
	r := plugins.NewRegistry()
	plugins.RegisterBuiltins(r)

	srcA := &plugins.Generate{}
	require.NoError(t, srcA.Initialize(filter.NewPropertyBag(map[string]string{
		"width": "2", "height": "1", "count": "3", "fill": "1",
	})))
	srcB := &plugins.Generate{}
	require.NoError(t, srcB.Initialize(filter.NewPropertyBag(map[string]string{
		"width": "2", "height": "1", "count": "3", "fill": "10",
	})))
	req, err := requisition.New(2, 1)
	require.NoError(t, err)
	sum := &sumTransform{req: req}
	sink := &plugins.Count{}
	require.NoError(t, sink.Initialize(filter.NewPropertyBag(nil)))

	g := graph.New()
	aNode := graph.NewNode("generate", nil)
	bNode := graph.NewNode("generate", nil)
	sumNode := graph.NewNode("sum", nil)
	sinkNode := graph.NewNode("count", nil)
	require.NoError(t, g.ConnectNodes(aNode, sumNode, "a"))
	require.NoError(t, g.ConnectNodes(bNode, sumNode, "b"))
	require.NoError(t, g.ConnectNodes(sumNode, sinkNode, "default"))

	stages := []*plugins.Stage{
		plugins.NewStage(aNode, srcA, filter.RoleSource),
		plugins.NewStage(bNode, srcB, filter.RoleSource),
		plugins.NewStage(sumNode, sum, filter.RoleTransform),
		plugins.NewStage(sinkNode, sink, filter.RoleSink),
	}

	sched, err := New(g, stages, Options{Context: resources.NewSoftware(nil)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Run(ctx))

	require.Equal(t, int64(3), sink.Total())
	require.Equal(t, int64(6), sink.Samples())
}
