// Package graph provides the durable workflow execution engine.
package graph

// END is the terminal sink of every graph. Routing to END completes the
// turn. It is a reserved identifier: no node may be registered under it.
const END = "__end__"

// Edge represents an unconditional or predicate-guarded connection between
// two nodes. Edges are evaluated in registration order after a node
// completes without an explicit route; the first match wins.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID, or END.
	To string

	// When is an optional predicate that determines if this edge should be
	// traversed. If nil, the edge is unconditional (always traverse).
	When Predicate[S]
}

// Predicate is a function that evaluates state to determine if an edge
// should be traversed. Predicates must be pure: deterministic and free of
// side effects.
type Predicate[S any] func(state S) bool

// Selector maps the post-node state to an edge key. The engine looks the
// key up in the fixed edge map registered with ConnectConditional; an
// unknown key is a routing error and fatal for the turn.
//
// Selectors receive a deep copy of the state, so writes inside a selector
// never persist. Selectors must not attempt to mutate state.
type Selector[S any] func(state S) string

// conditional is a selector plus its fixed edge map, keyed by source node.
type conditional[S any] struct {
	selector Selector[S]
	targets  map[string]string
}
