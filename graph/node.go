// Package graph is the pipeline topology layer: nodes, labelled edges, and
// the structural operations (connect, copy, expand, flatten, longest-path)
// the scheduler partitions and walks before wiring channels.
package graph

import "sync/atomic"

var nextNodeID uint64

// NodeID is a process-wide unique, stable identifier assigned at Node
// construction time. IDs are never reused, even across a Copy.
type NodeID uint64

func allocNodeID() NodeID {
	return NodeID(atomic.AddUint64(&nextNodeID, 1))
}

// Node is one pipeline stage: a named filter instance with its
// configuration properties. Label is the registered filter type name (e.g.
// "generate", "scale", "count"); Props carries its construction-time
// configuration.
type Node struct {
	id    NodeID
	Label string
	Props map[string]string
}

// NewNode allocates a node with a fresh, process-wide unique ID.
func NewNode(label string, props map[string]string) *Node {
	if props == nil {
		props = map[string]string{}
	}
	return &Node{id: allocNodeID(), Label: label, Props: props}
}

// ID returns the node's stable identifier.
func (n *Node) ID() NodeID { return n.id }

// Copy returns a node with a brand-new ID but the same label and a
// deep-copied property map, matching the original graph's "duplicate
// node" semantics used when expanding a node across multiple devices. It
// returns an error so a refusal surfacing from a stage's filter (a
// stateful filter that cannot be safely shared across device workers,
// checked one layer up in plugins.Stage.CloneFor) propagates the same way
// a topology-level failure would; Node itself never refuses.
func (n *Node) Copy() (*Node, error) {
	props := make(map[string]string, len(n.Props))
	for k, v := range n.Props {
		props[k] = v
	}
	return &Node{id: allocNodeID(), Label: n.Label, Props: props}, nil
}

func (n *Node) String() string {
	return n.Label
}
