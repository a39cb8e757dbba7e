package graph

// Edge connects two nodes with a label naming which of the target's input
// ports (or source's output ports) the connection occupies, matching the
// original engine's named-pad linking.
type Edge struct {
	Source *Node
	Target *Node
	Label  string
}
