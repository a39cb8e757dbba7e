package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evoliptic/ufo/buffer"
	"github.com/evoliptic/ufo/filter"
	"github.com/evoliptic/ufo/resources"
)

func TestParsePipelineWiresLinearChain(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	RegisterBuiltins(r)

	g, stages, err := ParsePipeline("generate width=2 height=2 fill=3 ! scale factor=2 width=2 height=2 ! count", r)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	require.Equal(t, 3, g.NumNodes())

	require.Equal(t, filter.RoleSource, stages[0].Role())
	require.Equal(t, filter.RoleTransform, stages[1].Role())
	require.Equal(t, filter.RoleSink, stages[2].Role())

	require.True(t, g.IsConnected(stages[0].Node(), stages[1].Node()))
	require.True(t, g.IsConnected(stages[1].Node(), stages[2].Node()))
}

func TestParsePipelineUnknownTask(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	RegisterBuiltins(r)

	_, _, err := ParsePipeline("nonexistent", r)
	require.Error(t, err)
}

func TestParsePipelineMalformedProperty(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	RegisterBuiltins(r)

	_, _, err := ParsePipeline("generate widthonly", r)
	require.Error(t, err)
}

func TestScaleFilterMultipliesSamples(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	RegisterBuiltins(r)

	_, stages, err := ParsePipeline("generate width=2 height=1 fill=4 ! scale factor=0.5 width=2 height=1 ! count", r)
	require.NoError(t, err)

	ctx := resources.NewSoftware(nil)
	q, err := ctx.NewQueue()
	require.NoError(t, err)
	env := filter.Env{Context: ctx, Queue: q}

	src := stages[0].Filter().(filter.Source)
	srcReq, err := src.Requisition()
	require.NoError(t, err)
	out, err := buffer.New(srcReq, ctx)
	require.NoError(t, err)

	bg := context.Background()
	ok, err := src.Generate(bg, env, out)
	require.NoError(t, err)
	require.True(t, ok)

	vals, err := out.GetHost(bg, nil)
	require.NoError(t, err)
	require.Equal(t, []float32{4, 4}, vals)

	xf := stages[1].Filter().(filter.Transform)
	xfReq, err := xf.Requisition()
	require.NoError(t, err)
	scaled, err := buffer.New(xfReq, ctx)
	require.NoError(t, err)

	require.NoError(t, xf.Process(bg, env, map[string]*buffer.Buffer{filter.DefaultPort: out}, scaled))
	scaledVals, err := scaled.GetHost(bg, nil)
	require.NoError(t, err)
	require.Equal(t, []float32{2, 2}, scaledVals)
}

func TestCountSinkTallies(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	RegisterBuiltins(r)

	_, stages, err := ParsePipeline("generate width=2 height=1 ! count", r)
	require.NoError(t, err)

	ctx := resources.NewSoftware(nil)
	sink := stages[1].Filter().(filter.Sink)
	src := stages[0].Filter().(filter.Source)

	req, err := src.Requisition()
	require.NoError(t, err)
	b, err := buffer.New(req, ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), filter.Env{Context: ctx}, map[string]*buffer.Buffer{filter.DefaultPort: b}))
	require.Equal(t, int64(1), stages[1].Filter().(*Count).Total())
}
