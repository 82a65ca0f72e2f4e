package graph

import (
	"context"
	"fmt"
)

// End is the reserved edge target that terminates a path.
const End = "__end__"

// NodeFunc executes one node against an immutable state snapshot and
// returns a partial update. An error aborts the whole workflow; expected
// task failures belong in the update's Errors instead.
type NodeFunc func(ctx context.Context, s State) (Update, error)

// Route is a routing decision from a conditional edge.
type Route struct {
	Terminal bool
	To       string
	Sends    []string
}

// Stop terminates the current path.
func Stop() Route { return Route{Terminal: true} }

// Goto continues to a single node.
func Goto(node string) Route { return Route{To: node} }

// Send fans out to several nodes executing in the same superstep.
func Send(nodes ...string) Route { return Route{Sends: nodes} }

// RouteFunc decides where execution goes after a node, given the state with
// every update of the finished superstep already merged.
type RouteFunc func(s State) Route

// Builder accumulates nodes and edges, then Compile validates the topology.
type Builder struct {
	nodes        map[string]NodeFunc
	edges        map[string]string
	conditionals map[string]RouteFunc
	entry        string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes:        make(map[string]NodeFunc),
		edges:        make(map[string]string),
		conditionals: make(map[string]RouteFunc),
	}
}

// AddNode registers a uniquely named node.
func (b *Builder) AddNode(name string, fn NodeFunc) error {
	if name == "" {
		return fmt.Errorf("node name cannot be empty")
	}
	if name == End {
		return fmt.Errorf("node name %q is reserved", End)
	}
	if fn == nil {
		return fmt.Errorf("node %q: func cannot be nil", name)
	}
	if _, exists := b.nodes[name]; exists {
		return fmt.Errorf("duplicate node %q", name)
	}
	b.nodes[name] = fn
	return nil
}

// AddEdge connects from → to unconditionally. Each node has at most one
// static edge; fan-out goes through a conditional returning Send.
func (b *Builder) AddEdge(from, to string) error {
	if _, exists := b.edges[from]; exists {
		return fmt.Errorf("node %q already has an outgoing edge", from)
	}
	if _, exists := b.conditionals[from]; exists {
		return fmt.Errorf("node %q already has a conditional edge", from)
	}
	b.edges[from] = to
	return nil
}

// AddConditional attaches a routing function evaluated after from finishes.
func (b *Builder) AddConditional(from string, route RouteFunc) error {
	if route == nil {
		return fmt.Errorf("node %q: route func cannot be nil", from)
	}
	if _, exists := b.edges[from]; exists {
		return fmt.Errorf("node %q already has an outgoing edge", from)
	}
	if _, exists := b.conditionals[from]; exists {
		return fmt.Errorf("node %q already has a conditional edge", from)
	}
	b.conditionals[from] = route
	return nil
}

// SetEntry declares the node executed first.
func (b *Builder) SetEntry(name string) error {
	if name == "" {
		return fmt.Errorf("entry node cannot be empty")
	}
	b.entry = name
	return nil
}

// Compile validates the topology and returns an immutable Graph.
func (b *Builder) Compile() (*Graph, error) {
	if b.entry == "" {
		return nil, fmt.Errorf("entry node not set")
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("entry node %q does not exist", b.entry)
	}
	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("edge source %q does not exist", from)
		}
		if to != End {
			if _, ok := b.nodes[to]; !ok {
				return nil, fmt.Errorf("edge target %q does not exist", to)
			}
		}
	}
	for from := range b.conditionals {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("conditional source %q does not exist", from)
		}
	}

	g := &Graph{
		nodes:        make(map[string]NodeFunc, len(b.nodes)),
		edges:        make(map[string]string, len(b.edges)),
		conditionals: make(map[string]RouteFunc, len(b.conditionals)),
		entry:        b.entry,
	}
	for k, v := range b.nodes {
		g.nodes[k] = v
	}
	for k, v := range b.edges {
		g.edges[k] = v
	}
	for k, v := range b.conditionals {
		g.conditionals[k] = v
	}
	return g, nil
}

// Graph is a compiled, immutable workflow topology.
type Graph struct {
	nodes        map[string]NodeFunc
	edges        map[string]string
	conditionals map[string]RouteFunc
	entry        string
}

// Entry returns the entry node name.
func (g *Graph) Entry() string { return g.entry }

// HasNode reports whether the named node exists.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// route resolves the outgoing route of a finished node. Conditionals take
// precedence over static edges; a node with neither is a wiring error.
func (g *Graph) route(from string, s State) (Route, error) {
	if fn, ok := g.conditionals[from]; ok {
		return fn(s), nil
	}
	if to, ok := g.edges[from]; ok {
		if to == End {
			return Stop(), nil
		}
		return Goto(to), nil
	}
	return Route{}, fmt.Errorf("no route from node %q", from)
}
