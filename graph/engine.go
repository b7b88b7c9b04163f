package graph

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/bankflow/graph/emit"
	"github.com/dshills/bankflow/graph/store"
)

// Engine executes a workflow graph over a shared mutable state, writing a
// checkpoint at every node boundary.
//
// The Engine:
//   - Manages graph topology (nodes, edges, conditional routers)
//   - Executes nodes in sequence from the configured start node
//   - Merges node deltas via the reducer
//   - Persists a start and end checkpoint around each node
//   - Stops without error when the halt predicate fires (end checkpoint
//     skipped, so the pause record stays latest)
//   - Emits observability events and Prometheus metrics
//
// Type parameter S is the state type shared across the workflow.
//
// Example:
//
//	eng := graph.New(reducer, store.NewMemStore(), emit.NewNullEmitter(),
//	    graph.Options{MaxSteps: 25},
//	    graph.WithHalt(isHalted),
//	)
//	eng.Add("classify", classifyNode)
//	eng.StartAt("classify")
//	eng.Connect("classify", graph.END, nil)
//
//	final, err := eng.Run(ctx, "sess-001", initial)
type Engine[S any] struct {
	mu sync.RWMutex

	reducer      Reducer[S]
	nodes        map[string]Node[S]
	edges        []Edge[S]
	conditionals map[string]conditional[S]
	startNode    string

	store   store.Store
	emitter emit.Emitter
	opts    Options

	halt        Predicate[S]
	history     HistoryFunc[S]
	resumeGuard func(state S) error
	metrics     *Metrics
}

// New creates an Engine.
//
// reducer and st are required; validation is deferred to Run so graphs can
// be assembled incrementally. emitter may be nil to discard events.
func New[S any](reducer Reducer[S], st store.Store, emitter emit.Emitter, opts Options, options ...Option[S]) *Engine[S] {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	e := &Engine[S]{
		reducer:      reducer,
		nodes:        make(map[string]Node[S]),
		conditionals: make(map[string]conditional[S]),
		store:        st,
		emitter:      emitter,
		opts:         opts,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Add registers a node under nodeID. IDs must be unique and must not be the
// reserved END identifier.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Code: CodeConfig, Message: "node ID cannot be empty"}
	}
	if nodeID == END {
		return &EngineError{Code: CodeConfig, Message: "node ID " + END + " is reserved"}
	}
	if node == nil {
		return &EngineError{Code: CodeConfig, Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Code: CodeConfig, Message: "duplicate node ID: " + nodeID}
	}
	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry node for Run. The node must already be registered.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Code: CodeConfig, Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Code: CodeNodeNotFound, Message: "start node does not exist: " + nodeID}
	}
	e.startNode = nodeID
	return nil
}

// Connect adds an edge from one node to another (or to END). A nil
// predicate makes the edge unconditional. Edges are evaluated in
// registration order; first match wins. Explicit NodeResult routing takes
// precedence over edges.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Code: CodeConfig, Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Code: CodeConfig, Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// ConnectConditional installs a selector-driven router on from. After the
// node completes, the selector maps the merged state to a key and the key
// is looked up in targets; a key absent from targets is a routing error.
//
// The selector runs on a deep copy of the state, so it cannot leak writes
// into the turn. A conditional router replaces edge evaluation for its
// source node.
func (e *Engine[S]) ConnectConditional(from string, selector Selector[S], targets map[string]string) error {
	if from == "" {
		return &EngineError{Code: CodeConfig, Message: "from node ID cannot be empty"}
	}
	if selector == nil {
		return &EngineError{Code: CodeConfig, Message: "selector cannot be nil"}
	}
	if len(targets) == 0 {
		return &EngineError{Code: CodeConfig, Message: "conditional targets cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.conditionals[from]; exists {
		return &EngineError{Code: CodeConfig, Message: "duplicate conditional router on node: " + from}
	}

	copied := make(map[string]string, len(targets))
	for k, v := range targets {
		copied[k] = v
	}
	e.conditionals[from] = conditional[S]{selector: selector, targets: copied}
	return nil
}

// Run executes one turn from the start node until END, a terminal route, or
// a halt. Returns the final merged state.
func (e *Engine[S]) Run(ctx context.Context, sessionID string, initial S) (S, error) {
	var zero S
	if err := e.validate(); err != nil {
		return zero, err
	}

	e.emitter.Emit(emit.Event{SessionID: sessionID, Msg: emit.MsgRunStart, Meta: map[string]any{"start_node": e.startNode}})
	return e.execute(ctx, sessionID, e.startNode, initial)
}

// Resume continues a previously halted turn from the given node with a
// state restored from a checkpoint. The resume guard, if configured, may
// deny the resume; the denial carries CodeResumeDenied.
func (e *Engine[S]) Resume(ctx context.Context, sessionID, fromNode string, state S) (S, error) {
	var zero S
	if err := e.validate(); err != nil {
		return zero, err
	}

	e.mu.RLock()
	_, exists := e.nodes[fromNode]
	e.mu.RUnlock()
	if !exists {
		return zero, &EngineError{Code: CodeNodeNotFound, Message: "resume node does not exist: " + fromNode}
	}

	if e.resumeGuard != nil {
		if err := e.resumeGuard(state); err != nil {
			return zero, &EngineError{Code: CodeResumeDenied, Message: "resume denied: " + err.Error(), Cause: err}
		}
	}

	e.emitter.Emit(emit.Event{SessionID: sessionID, Msg: emit.MsgResumeStart, Meta: map[string]any{"resume_node": fromNode}})
	return e.execute(ctx, sessionID, fromNode, state)
}

func (e *Engine[S]) validate() error {
	if e.reducer == nil {
		return &EngineError{Code: CodeConfig, Message: "reducer is required"}
	}
	if e.store == nil {
		return &EngineError{Code: CodeConfig, Message: "store is required"}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.startNode == "" {
		return &EngineError{Code: CodeConfig, Message: "start node not set (call StartAt before Run)"}
	}
	if _, exists := e.nodes[e.startNode]; !exists {
		return &EngineError{Code: CodeNodeNotFound, Message: "start node does not exist: " + e.startNode}
	}
	return nil
}

// execute is the shared loop behind Run and Resume.
func (e *Engine[S]) execute(ctx context.Context, sessionID, startNode string, initial S) (S, error) {
	var zero S

	current := initial
	nodeID := startNode
	step := 0

	fail := func(err error) (S, error) {
		e.emitter.Emit(emit.Event{SessionID: sessionID, Step: step, NodeID: nodeID, Msg: emit.MsgRunError, Meta: map[string]any{"error": err.Error()}})
		if e.metrics != nil {
			e.metrics.IncTurns("error")
		}
		return zero, err
	}

	for {
		if nodeID == END {
			e.emitter.Emit(emit.Event{SessionID: sessionID, Step: step, Msg: emit.MsgRunEnd})
			if e.metrics != nil {
				e.metrics.IncTurns("completed")
			}
			return current, nil
		}

		step++
		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return fail(&EngineError{Code: CodeMaxSteps, Message: "turn exceeded MaxSteps limit"})
		}

		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		default:
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[nodeID]
		e.mu.RUnlock()
		if !exists {
			return fail(&EngineError{Code: CodeNodeNotFound, Message: "node not found during execution: " + nodeID})
		}

		// A halted state never executes another node. Run and Resume
		// both pass through here, so a paused turn restored verbatim
		// is returned untouched.
		if e.halt != nil && e.halt(current) {
			e.emitter.Emit(emit.Event{SessionID: sessionID, Step: step, NodeID: nodeID, Msg: emit.MsgRunEnd, Meta: map[string]any{"halted": true}})
			if e.metrics != nil {
				e.metrics.IncTurns("halted")
			}
			return current, nil
		}

		if err := e.saveCheckpoint(ctx, sessionID, nodeID, current, store.PhaseStart, step); err != nil {
			return fail(err)
		}

		e.emitter.Emit(emit.Event{SessionID: sessionID, Step: step, NodeID: nodeID, Msg: emit.MsgNodeStart})

		started := time.Now()
		result := nodeImpl.Run(ctx, current)
		elapsed := time.Since(started)

		if result.Err != nil {
			if e.metrics != nil {
				e.metrics.RecordNodeLatency(nodeID, elapsed, "error")
			}
			return fail(result.Err)
		}

		current = e.reducer(current, result.Delta)
		if e.history != nil {
			current = e.history(current, nodeID)
		}

		if e.metrics != nil {
			e.metrics.RecordNodeLatency(nodeID, elapsed, "success")
		}

		// When the node raised the halt flag, its end checkpoint is
		// skipped: the node's own pause record must remain the latest
		// so a later resume restores the paused snapshot.
		if e.halt != nil && e.halt(current) {
			e.emitter.Emit(emit.Event{SessionID: sessionID, Step: step, NodeID: nodeID, Msg: emit.MsgNodeHalt, Meta: map[string]any{"duration_ms": elapsed.Milliseconds()}})
			if e.metrics != nil {
				e.metrics.IncHalts()
				e.metrics.IncTurns("halted")
			}
			return current, nil
		}

		if err := e.saveCheckpoint(ctx, sessionID, nodeID, current, store.PhaseEnd, step); err != nil {
			return fail(err)
		}

		e.emitter.Emit(emit.Event{SessionID: sessionID, Step: step, NodeID: nodeID, Msg: emit.MsgNodeEnd, Meta: map[string]any{"duration_ms": elapsed.Milliseconds()}})

		if result.Route.Terminal {
			e.emitter.Emit(emit.Event{SessionID: sessionID, Step: step, Msg: emit.MsgRunEnd})
			if e.metrics != nil {
				e.metrics.IncTurns("completed")
			}
			return current, nil
		}
		if result.Route.To != "" {
			nodeID = result.Route.To
			continue
		}

		next, err := e.route(nodeID, current)
		if err != nil {
			return fail(err)
		}
		nodeID = next
	}
}

// route picks the next node after nodeID: a conditional router if one is
// registered, otherwise the first matching edge.
func (e *Engine[S]) route(nodeID string, state S) (string, error) {
	e.mu.RLock()
	cond, hasCond := e.conditionals[nodeID]
	e.mu.RUnlock()

	if hasCond {
		isolated, err := deepCopy(state)
		if err != nil {
			return "", &EngineError{Code: CodeBadState, Message: "failed to copy state for routing", Cause: err}
		}
		key := cond.selector(isolated)
		target, ok := cond.targets[key]
		if !ok {
			return "", &EngineError{Code: CodeNoRoute, Message: "no conditional target for key " + key + " from node: " + nodeID}
		}
		return target, nil
	}

	next := e.evaluateEdges(nodeID, state)
	if next == "" {
		return "", &EngineError{Code: CodeNoRoute, Message: "no valid route from node: " + nodeID}
	}
	return next, nil
}

// evaluateEdges finds the first matching edge from nodeID. A nil predicate
// always matches. Returns "" when nothing matches.
func (e *Engine[S]) evaluateEdges(nodeID string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != nodeID {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

func (e *Engine[S]) saveCheckpoint(ctx context.Context, sessionID, nodeID string, state S, phase string, step int) error {
	id, err := e.store.Save(ctx, sessionID, nodeID, state, map[string]any{
		store.MetaPhase: phase,
		"step":          step,
	})
	if err != nil {
		return &EngineError{Code: CodeStoreError, Message: "failed to save checkpoint: " + err.Error(), Cause: err}
	}

	e.emitter.Emit(emit.Event{
		SessionID: sessionID,
		Step:      step,
		NodeID:    nodeID,
		Msg:       emit.MsgCheckpoint,
		Meta:      map[string]any{"checkpoint_id": id, "phase": phase},
	})
	if e.metrics != nil {
		e.metrics.IncCheckpoints(phase)
	}
	return nil
}

// Store exposes the engine's checkpoint store for callers that need to
// read or write checkpoints outside the execution loop (the approval gate
// writes pause and decision records through it).
func (e *Engine[S]) Store() store.Store {
	return e.store
}
