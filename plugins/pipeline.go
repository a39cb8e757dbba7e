package plugins

import (
	"strings"

	"github.com/evoliptic/ufo/filter"
	"github.com/evoliptic/ufo/graph"
	"github.com/evoliptic/ufo/ufoerr"
)

// ParsePipeline parses a single-line pipeline description of the form
//
//	task prop=val prop2=val2 ! task2 ! task3 prop=val
//
// into a linear graph.Graph, resolving each "task" name against r. Each
// "!" introduces the next stage, connected to the previous one by an edge
// labelled "default". This is the adapted successor of the original
// engine's multi-line node/payload DSL, narrowed to describe pipeline
// topology rather than a compute graph's opcodes and weights.
func ParsePipeline(desc string, r *Registry) (*graph.Graph, []*Stage, error) {
	stages := strings.Split(desc, "!")
	if len(stages) == 0 {
		return nil, nil, ufoerr.New(ufoerr.GraphInvalid, "pipeline: empty description")
	}

	g := graph.New()
	var built []*Stage
	var prev *graph.Node

	for i, raw := range stages {
		fields := strings.Fields(strings.TrimSpace(raw))
		if len(fields) == 0 {
			return nil, nil, ufoerr.New(ufoerr.GraphInvalid, "pipeline: empty stage at position %d", i)
		}
		taskName := fields[0]

		props := make(map[string]string, len(fields)-1)
		for _, f := range fields[1:] {
			k, v, ok := splitProperty(f)
			if !ok {
				return nil, nil, ufoerr.New(ufoerr.GraphInvalid, "pipeline: malformed property %q in stage %q", f, taskName)
			}
			props[k] = v
		}

		inst, role, err := r.New(taskName)
		if err != nil {
			return nil, nil, err
		}
		if err := inst.Initialize(filter.NewPropertyBag(props)); err != nil {
			return nil, nil, ufoerr.Wrap(ufoerr.GraphInvalid, err, "pipeline: initialize "+taskName)
		}

		node := graph.NewNode(taskName, props)
		g.AddNode(node)
		if prev != nil {
			if err := g.ConnectNodes(prev, node, "default"); err != nil {
				return nil, nil, err
			}
		}
		prev = node

		built = append(built, &Stage{node: node, filter: inst, role: role, Props: props})
	}

	return g, built, nil
}

// Stage pairs a graph.Node with its instantiated filter and declared
// role, the unit the scheduler consumes after parsing.
type Stage struct {
	node   *graph.Node
	filter filter.Filter
	role   filter.Role
	Props  map[string]string
}

// NewStage pairs an already-constructed graph node and filter instance
// into a Stage, for callers (tests, or a plugin manager wiring a non-linear
// topology) that build a graph.Graph directly rather than through
// ParsePipeline's "!"-separated grammar.
func NewStage(node *graph.Node, f filter.Filter, role filter.Role) *Stage {
	return &Stage{node: node, filter: f, role: role, Props: node.Props}
}

// CloneFor pairs node (already created by graph.Graph.Expand, duplicating
// this stage's own node) with an independent filter instance duplicated
// from this stage's, for the scheduler's Setup-phase Partition step. It
// refuses — returning an error rather than silently sharing the one
// instance across device workers — if the filter doesn't implement
// filter.Cloneable.
func (s *Stage) CloneFor(node *graph.Node) (*Stage, error) {
	cloneable, ok := s.filter.(filter.Cloneable)
	if !ok {
		return nil, ufoerr.New(ufoerr.GraphInvalid, "stage %s: filter does not support duplication across devices", s.node)
	}
	f, err := cloneable.Clone()
	if err != nil {
		return nil, ufoerr.Wrap(ufoerr.GraphInvalid, err, "stage %s: clone refused", s.node)
	}
	return &Stage{node: node, filter: f, role: s.role, Props: node.Props}, nil
}

// Node returns the stage's graph node.
func (s *Stage) Node() *graph.Node { return s.node }

// Filter returns the stage's instantiated filter.
func (s *Stage) Filter() filter.Filter { return s.filter }

// Role returns the stage's declared role.
func (s *Stage) Role() filter.Role { return s.role }

func splitProperty(f string) (key, value string, ok bool) {
	idx := strings.IndexByte(f, '=')
	if idx <= 0 {
		return "", "", false
	}
	return f[:idx], f[idx+1:], true
}
