package graph

import "context"

// Node represents a processing unit in the workflow graph.
// It receives state of type S, performs computation, and returns a NodeResult.
//
// Nodes are the fundamental building blocks of a workflow. Each node can:
//   - Access the current state
//   - Perform computation (classifier calls, downstream HTTP, custom logic)
//   - Return the post-execution state via Delta
//   - Control routing via Route
//
// Node functions do not raise domain failures across the engine boundary:
// a downstream or classifier error is recorded inside the state and the
// node returns normally. NodeResult.Err is reserved for failures that must
// abort the turn (the engine treats it as fatal).
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult represents the output of a node execution.
type NodeResult[S any] struct {
	// Delta is the state update produced by this node. It is merged with
	// the current state by the configured reducer before routing.
	Delta S

	// Route specifies the next step in workflow execution. Use Stop() for
	// terminal nodes, Goto(id) for explicit routing, or leave zero to fall
	// back to the edges registered on the engine.
	Route Next

	// Err aborts the turn. The engine does not checkpoint the failed step.
	Err error
}

// Next specifies the next step in workflow execution after a node completes.
type Next struct {
	// To specifies the next node to execute. Mutually exclusive with Terminal.
	To string

	// Terminal indicates workflow execution should stop.
	Terminal bool
}

// Stop returns a Next that terminates workflow execution.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc is a function adapter that implements the Node interface.
// It allows using plain functions as nodes without creating custom types.
//
// Example:
//
//	fallback := NodeFunc[State](func(ctx context.Context, s State) NodeResult[State] {
//	    s.Response = cannedHint()
//	    return NodeResult[State]{Delta: s, Route: Stop()}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}
