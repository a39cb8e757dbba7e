package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/evoliptic/ufo/ufoerr"
)

// Graph is a directed graph of pipeline nodes connected by labelled edges.
// It permits cycles at construction time; callers that require acyclicity
// (the scheduler) check for it explicitly before planning execution.
type Graph struct {
	nodes map[NodeID]*Node
	edges []*Edge

	out map[NodeID][]*Edge
	in  map[NodeID][]*Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[NodeID]*Node),
		out:   make(map[NodeID][]*Edge),
		in:    make(map[NodeID][]*Edge),
	}
}

// AddNode registers n with the graph. It is a no-op if n is already
// present.
func (g *Graph) AddNode(n *Node) {
	if _, ok := g.nodes[n.ID()]; ok {
		return
	}
	g.nodes[n.ID()] = n
}

// Nodes returns every node in the graph, in an unspecified order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// NumNodes reports the node count.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// ConnectNodes adds both nodes (if new) and an edge between them carrying
// label. Parallel edges between the same pair with different labels are
// permitted; a duplicate (source, target, label) triple is not.
func (g *Graph) ConnectNodes(source, target *Node, label string) error {
	if source == nil || target == nil {
		return ufoerr.New(ufoerr.GraphInvalid, "connect_nodes: source and target must be non-nil")
	}
	for _, e := range g.out[source.ID()] {
		if e.Target.ID() == target.ID() && e.Label == label {
			return ufoerr.New(ufoerr.GraphInvalid, "connect_nodes: duplicate edge %s -[%s]-> %s", source, label, target)
		}
	}
	g.AddNode(source)
	g.AddNode(target)
	e := &Edge{Source: source, Target: target, Label: label}
	g.edges = append(g.edges, e)
	g.out[source.ID()] = append(g.out[source.ID()], e)
	g.in[target.ID()] = append(g.in[target.ID()], e)
	return nil
}

// RemoveEdge removes the edge matching (source, target, label), if any.
// Per the decided handling of the node-set reference question: a node is
// only dropped from the graph's node set when the edge removed was its
// last incident edge (no remaining in- or out-edges); a node with other
// surviving edges stays registered even though this particular connection
// is gone.
func (g *Graph) RemoveEdge(source, target *Node, label string) error {
	idx := -1
	for i, e := range g.edges {
		if e.Source.ID() == source.ID() && e.Target.ID() == target.ID() && e.Label == label {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ufoerr.New(ufoerr.GraphInvalid, "remove_edge: no edge %s -[%s]-> %s", source, label, target)
	}
	g.edges = append(g.edges[:idx], g.edges[idx+1:]...)
	g.out[source.ID()] = removeEdge(g.out[source.ID()], source, target, label)
	g.in[target.ID()] = removeEdge(g.in[target.ID()], source, target, label)

	if len(g.out[source.ID()]) == 0 && len(g.in[source.ID()]) == 0 {
		delete(g.nodes, source.ID())
		delete(g.out, source.ID())
		delete(g.in, source.ID())
	}
	if len(g.out[target.ID()]) == 0 && len(g.in[target.ID()]) == 0 {
		delete(g.nodes, target.ID())
		delete(g.out, target.ID())
		delete(g.in, target.ID())
	}
	return nil
}

func removeEdge(edges []*Edge, source, target *Node, label string) []*Edge {
	out := edges[:0]
	for _, e := range edges {
		if e.Source.ID() == source.ID() && e.Target.ID() == target.ID() && e.Label == label {
			continue
		}
		out = append(out, e)
	}
	return out
}

// IsConnected reports whether any edge runs from source to target.
func (g *Graph) IsConnected(source, target *Node) bool {
	for _, e := range g.out[source.ID()] {
		if e.Target.ID() == target.ID() {
			return true
		}
	}
	return false
}

// EdgeLabel returns the label of the first edge from source to target.
func (g *Graph) EdgeLabel(source, target *Node) (string, bool) {
	for _, e := range g.out[source.ID()] {
		if e.Target.ID() == target.ID() {
			return e.Label, true
		}
	}
	return "", false
}

// InEdges returns every edge into n, including parallel edges carrying
// distinct labels (the multi-input-port case), in an unspecified order.
func (g *Graph) InEdges(n *Node) []*Edge {
	return append([]*Edge(nil), g.in[n.ID()]...)
}

// OutEdges returns every edge out of n, including parallel edges carrying
// distinct labels, in an unspecified order.
func (g *Graph) OutEdges(n *Node) []*Edge {
	return append([]*Edge(nil), g.out[n.ID()]...)
}

// Predecessors returns the distinct nodes with an edge into n.
func (g *Graph) Predecessors(n *Node) []*Node {
	seen := make(map[NodeID]bool)
	var out []*Node
	for _, e := range g.in[n.ID()] {
		if !seen[e.Source.ID()] {
			seen[e.Source.ID()] = true
			out = append(out, e.Source)
		}
	}
	return out
}

// Successors returns the distinct nodes n has an edge into.
func (g *Graph) Successors(n *Node) []*Node {
	seen := make(map[NodeID]bool)
	var out []*Node
	for _, e := range g.out[n.ID()] {
		if !seen[e.Target.ID()] {
			seen[e.Target.ID()] = true
			out = append(out, e.Target)
		}
	}
	return out
}

// NumPredecessors counts n's distinct predecessors.
func (g *Graph) NumPredecessors(n *Node) int { return len(g.Predecessors(n)) }

// NumSuccessors counts n's distinct successors.
func (g *Graph) NumSuccessors(n *Node) int { return len(g.Successors(n)) }

// Roots returns nodes with no incoming edges.
func (g *Graph) Roots() []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if len(g.in[n.ID()]) == 0 {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// Leaves returns nodes with no outgoing edges.
func (g *Graph) Leaves() []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if len(g.out[n.ID()]) == 0 {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
}

// ShallowCopy returns a new Graph referencing the same Node pointers, with
// its own independent edge list. Mutating the copy's topology (adding or
// removing edges) never affects the original.
func (g *Graph) ShallowCopy() *Graph {
	cp := New()
	for _, n := range g.nodes {
		cp.AddNode(n)
	}
	for _, e := range g.edges {
		_ = cp.ConnectNodes(e.Source, e.Target, e.Label)
	}
	return cp
}

// ShallowSubgraph returns a new Graph containing exactly the given nodes
// (by pointer identity) and every edge of the original graph whose both
// endpoints are among them.
func (g *Graph) ShallowSubgraph(nodes []*Node) *Graph {
	keep := make(map[NodeID]bool, len(nodes))
	for _, n := range nodes {
		keep[n.ID()] = true
	}
	sub := New()
	for _, n := range nodes {
		sub.AddNode(n)
	}
	for _, e := range g.edges {
		if keep[e.Source.ID()] && keep[e.Target.ID()] {
			_ = sub.ConnectNodes(e.Source, e.Target, e.Label)
		}
	}
	return sub
}

// Copy performs a deep copy: every node is duplicated with Node.Copy (a new
// ID, same label and properties), and every edge is recreated between the
// corresponding duplicates. It fails if any node.Copy fails.
func (g *Graph) Copy() (*Graph, error) {
	cp := New()
	mapping := make(map[NodeID]*Node, len(g.nodes))
	for _, n := range g.nodes {
		c, err := n.Copy()
		if err != nil {
			return nil, ufoerr.Wrap(ufoerr.GraphInvalid, err, "copy: node %s", n)
		}
		mapping[n.ID()] = c
	}
	for _, n := range g.nodes {
		cp.AddNode(mapping[n.ID()])
	}
	for _, e := range g.edges {
		if err := cp.ConnectNodes(mapping[e.Source.ID()], mapping[e.Target.ID()], e.Label); err != nil {
			return nil, err
		}
	}
	return cp, nil
}

// Expand replaces node with count independent clones, each wired to every
// one of node's predecessors and, per the decided non-T-junction handling,
// only the LAST clone reconnects onward to node's original successors
// (the other clones become parallel dead-end branches downstream of the
// fan-out). count must be at least 1; Expand with count==1 is a no-op that
// still clones node so callers always receive fresh nodes to configure
// per-device.
func (g *Graph) Expand(node *Node, count int) ([]*Node, error) {
	if count < 1 {
		return nil, ufoerr.New(ufoerr.GraphInvalid, "expand: count must be >= 1, got %d", count)
	}
	predEdges := append([]*Edge(nil), g.in[node.ID()]...)
	succEdges := append([]*Edge(nil), g.out[node.ID()]...)

	clones := make([]*Node, count)
	for i := range clones {
		c, err := node.Copy()
		if err != nil {
			return nil, ufoerr.Wrap(ufoerr.GraphInvalid, err, "expand: node %s", node)
		}
		clones[i] = c
		g.AddNode(clones[i])
	}

	for _, clone := range clones {
		for _, pe := range predEdges {
			if err := g.ConnectNodes(pe.Source, clone, pe.Label); err != nil {
				return nil, err
			}
		}
	}

	last := clones[count-1]
	for _, se := range succEdges {
		if err := g.ConnectNodes(last, se.Target, se.Label); err != nil {
			return nil, err
		}
	}

	if err := g.removeNodeEdges(node, predEdges, succEdges); err != nil {
		return nil, err
	}
	return clones, nil
}

func (g *Graph) removeNodeEdges(node *Node, predEdges, succEdges []*Edge) error {
	for _, pe := range predEdges {
		if err := g.RemoveEdge(pe.Source, pe.Target, pe.Label); err != nil {
			return err
		}
	}
	for _, se := range succEdges {
		if err := g.RemoveEdge(se.Source, se.Target, se.Label); err != nil {
			return err
		}
	}
	delete(g.nodes, node.ID())
	delete(g.out, node.ID())
	delete(g.in, node.ID())
	return nil
}

// Flatten groups nodes into BFS layers: layer 0 is the roots, layer k+1 is
// every node all of whose predecessors lie in layers <= k and at least one
// of which lies in layer k.
func (g *Graph) Flatten() [][]*Node {
	layer := make(map[NodeID]int)
	var layers [][]*Node

	remaining := make(map[NodeID]int, len(g.nodes))
	for _, n := range g.nodes {
		remaining[n.ID()] = len(g.Predecessors(n))
	}

	current := g.Roots()
	depth := 0
	for len(current) > 0 {
		layers = append(layers, current)
		var next []*Node
		seen := make(map[NodeID]bool)
		for _, n := range current {
			layer[n.ID()] = depth
			for _, succ := range g.Successors(n) {
				remaining[succ.ID()]--
				if remaining[succ.ID()] <= 0 && !seen[succ.ID()] {
					if _, placed := layer[succ.ID()]; !placed {
						seen[succ.ID()] = true
						next = append(next, succ)
					}
				}
			}
		}
		sortNodes(next)
		current = next
		depth++
	}
	return layers
}

// FindLongestPath returns the longest path (by edge count) through the
// subgraph induced by nodes, computed via Kahn's topological sort followed
// by a forward longest-distance pass and a backward walk to recover the
// path. It returns an error if the induced subgraph contains a cycle.
func (g *Graph) FindLongestPath(nodes []*Node) ([]*Node, error) {
	sub := g.ShallowSubgraph(nodes)
	order, err := sub.topologicalSort()
	if err != nil {
		return nil, err
	}

	dist := make(map[NodeID]int, len(order))
	prev := make(map[NodeID]*Node, len(order))
	for _, n := range order {
		dist[n.ID()] = 0
	}
	for _, n := range order {
		for _, succ := range sub.Successors(n) {
			if dist[n.ID()]+1 > dist[succ.ID()] {
				dist[succ.ID()] = dist[n.ID()] + 1
				prev[succ.ID()] = n
			}
		}
	}

	var best *Node
	for _, n := range order {
		if best == nil || dist[n.ID()] > dist[best.ID()] {
			best = n
		}
	}
	if best == nil {
		return nil, nil
	}

	var path []*Node
	for cur := best; cur != nil; cur = prev[cur.ID()] {
		path = append([]*Node{cur}, path...)
	}
	return path, nil
}

// topologicalSort implements Kahn's algorithm over the whole graph,
// returning ufoerr.GraphInvalid if a cycle is present.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[NodeID]int, len(g.nodes))
	for _, n := range g.nodes {
		inDegree[n.ID()] = len(g.Predecessors(n))
	}

	var queue []*Node
	for _, n := range g.nodes {
		if inDegree[n.ID()] == 0 {
			queue = append(queue, n)
		}
	}
	sortNodes(queue)

	var order []*Node
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		var freed []*Node
		for _, succ := range g.Successors(n) {
			inDegree[succ.ID()]--
			if inDegree[succ.ID()] == 0 {
				freed = append(freed, succ)
			}
		}
		sortNodes(freed)
		queue = append(queue, freed...)
	}

	if len(order) != len(g.nodes) {
		return nil, ufoerr.New(ufoerr.GraphInvalid, "topological_sort: graph contains a cycle")
	}
	return order, nil
}

// DumpDot renders the graph as Graphviz dot source, for diagnostic
// dumping (e.g. the ufo-dump command).
func (g *Graph) DumpDot() string {
	var b strings.Builder
	b.WriteString("digraph ufo {\n")
	order := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		order = append(order, n)
	}
	sortNodes(order)
	for _, n := range order {
		fmt.Fprintf(&b, "  n%d [label=%q];\n", n.ID(), n.Label)
	}
	for _, e := range g.edges {
		fmt.Fprintf(&b, "  n%d -> n%d [label=%q];\n", e.Source.ID(), e.Target.ID(), e.Label)
	}
	b.WriteString("}\n")
	return b.String()
}
