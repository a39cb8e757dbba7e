// Package plugins is the built-in filter registry and the pipeline
// description parser that turns a "task prop=val ! task" string into a
// wired graph.Graph, adapted from the original engine's DSL-to-graph
// compiler into a single-line pipeline grammar.
package plugins

import (
	"sync"

	"github.com/evoliptic/ufo/filter"
	"github.com/evoliptic/ufo/ufoerr"
)

// Factory constructs a fresh filter instance of a registered type. A
// factory never shares state across calls: each pipeline instantiation of
// "scale" gets its own Filter.
type Factory func() filter.Filter

// Registry maps filter type names to constructors and their declared
// role, mirroring the original engine's opcode-indexed kernel catalog but
// keyed by name instead of a fixed 256-entry opcode table.
type Registry struct {
	mu      sync.RWMutex
	factory map[string]Factory
	role    map[string]filter.Role
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factory: make(map[string]Factory),
		role:    make(map[string]filter.Role),
	}
}

// Register adds a named filter type. Registering the same name twice is a
// programmer error and panics, matching the original catalog's
// fixed-at-init-time population.
func (r *Registry) Register(name string, role filter.Role, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factory[name]; exists {
		panic("plugins: filter " + name + " already registered")
	}
	r.factory[name] = f
	r.role[name] = role
}

// New instantiates a fresh filter of the named type.
func (r *Registry) New(name string) (filter.Filter, filter.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factory[name]
	if !ok {
		return nil, 0, ufoerr.New(ufoerr.PluginNotFound, "no filter registered for %q", name)
	}
	return f(), r.role[name], nil
}

// Names returns every registered filter type name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factory))
	for n := range r.factory {
		out = append(out, n)
	}
	return out
}

// Default is the process-wide registry pre-populated with the built-in
// filters (generate, identity, scale, count), used by the cmd/ufo-launch,
// cmd/ufo-dump and cmd/ufo-bench tools.
var Default = func() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}()

// RegisterBuiltins adds every filter defined in this package to r. It is
// exposed separately from Default so tests can build a clean registry.
func RegisterBuiltins(r *Registry) {
	r.Register("generate", filter.RoleSource, func() filter.Filter { return &Generate{} })
	r.Register("identity", filter.RoleTransform, func() filter.Filter { return &Identity{} })
	r.Register("scale", filter.RoleTransform, func() filter.Filter { return &Scale{} })
	r.Register("count", filter.RoleSink, func() filter.Filter { return &Count{} })
}
