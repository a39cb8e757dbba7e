// Package filter defines the closed set of pipeline stage roles — Source,
// Transform, Sink — and the typed configuration properties every filter
// instance is constructed with, replacing the original engine's dynamic
// per-filter dispatch table with three fixed Go interfaces the scheduler
// can call directly.
package filter

import (
	"context"

	"github.com/evoliptic/ufo/buffer"
	"github.com/evoliptic/ufo/requisition"
	"github.com/evoliptic/ufo/resources"
	"github.com/evoliptic/ufo/ufoerr"
)

// Role names which of the three fixed pipeline stage contracts a filter
// implements.
type Role int

const (
	// RoleSource produces buffers with no upstream input.
	RoleSource Role = iota
	// RoleTransform consumes one buffer per input port and produces one
	// buffer.
	RoleTransform
	// RoleSink consumes buffers and produces no further output.
	RoleSink
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleTransform:
		return "transform"
	case RoleSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Env is the per-worker environment a filter's lifecycle methods run
// against: the device context and the single command queue the scheduler
// assigned this node at setup.
type Env struct {
	Context resources.Context
	Queue   resources.Queue
}

// Filter is the lifecycle every role shares: construct from properties,
// then run until the scheduler tears it down.
type Filter interface {
	// Initialize is called once, before the first buffer crosses the
	// filter, with the node's configured properties. It is the hook for
	// validating properties and allocating any internal state sized from
	// them (e.g. a requisition derived from width/height properties).
	Initialize(props PropertyBag) error
	// Requisition reports the shape of buffers this filter produces (for
	// a Source or Transform) so the scheduler can pre-fill double-buffered
	// output queues before the first Process/Generate call.
	Requisition() (requisition.Requisition, error)
}

// Source is a pipeline root: it has no input queue and produces buffers
// until it reports it is exhausted.
type Source interface {
	Filter
	// Generate fills out (allocated by the scheduler to this filter's
	// Requisition) with the next chunk of data. ok is false once the
	// source is exhausted; out's contents are then ignored.
	Generate(ctx context.Context, env Env, out *buffer.Buffer) (ok bool, err error)
}

// DefaultPort is the input/output port label ParsePipeline assigns every
// edge in a linear "!"-separated pipeline. A multi-input filter wired by
// hand (rather than through ParsePipeline) names its own port labels via
// graph.Edge.Label, one per distinct input it expects.
const DefaultPort = "default"

// Single extracts the lone buffer a single-input filter expects under
// DefaultPort, the common case for Transform/Sink implementations that
// don't care about multi-input routing.
func Single(ins map[string]*buffer.Buffer) (*buffer.Buffer, error) {
	b, ok := ins[DefaultPort]
	if !ok {
		return nil, ufoerr.New(ufoerr.GraphInvalid, "filter: expected input port %q not connected", DefaultPort)
	}
	return b, nil
}

// Transform consumes one or more input buffers, one per distinct input
// port (graph.Edge.Label) wired to its node, and produces one output
// buffer.
type Transform interface {
	Filter
	// Process reads ins, keyed by input port label, and writes its
	// result into out. A single-input filter reads ins[DefaultPort] (or
	// calls Single). out is always distinct from every buffer in ins; a
	// filter that wants to mutate in place should copy contents into out
	// itself.
	Process(ctx context.Context, env Env, ins map[string]*buffer.Buffer, out *buffer.Buffer) error
}

// Sink is a pipeline leaf: it consumes buffers from one or more input
// ports and returns nothing downstream.
type Sink interface {
	Filter
	// Consume receives whichever input ports have a buffer ready this
	// tick, keyed by port label (a single-input sink reads
	// ins[DefaultPort] or calls Single). The sink owns every buffer in
	// ins for the duration of the call and must not retain any of them
	// afterward.
	Consume(ctx context.Context, env Env, ins map[string]*buffer.Buffer) error
}

// Cloneable is implemented by filters that can be duplicated when the
// scheduler's Partition step Expands their node across several devices.
// A filter that doesn't implement it refuses duplication outright —
// sharing one mutable instance across concurrent device workers would
// corrupt whatever state it tracks between calls.
type Cloneable interface {
	// Clone returns an independent filter instance carrying the same
	// configuration (but none of the running instance's accumulated
	// state), or an error if duplication must be refused.
	Clone() (Filter, error)
}
