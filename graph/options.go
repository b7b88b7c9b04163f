package graph

// Options configures Engine execution limits.
//
// Zero values are valid; MaxSteps of 0 disables the step limit.
type Options struct {
	// MaxSteps limits the number of node executions per turn to prevent
	// infinite routing loops. If 0, no limit is enforced.
	MaxSteps int
}

// HistoryFunc records a node visit into the state. When configured, the
// engine calls it after each reducer merge, so the state itself carries the
// execution path across checkpoints.
type HistoryFunc[S any] func(state S, nodeID string) S

// Option customizes Engine behavior beyond the basic Options limits.
type Option[S any] func(*Engine[S])

// WithHalt installs the halt predicate. When the predicate reports true on
// the merged state after a node, the engine stops the turn without error and
// without writing that node's end checkpoint. The engine also refuses to
// execute any node while the predicate holds, so a halted state loaded from
// a checkpoint stays halted until something clears the flag.
func WithHalt[S any](p Predicate[S]) Option[S] {
	return func(e *Engine[S]) { e.halt = p }
}

// WithHistory installs the history recorder called after each node.
func WithHistory[S any](h HistoryFunc[S]) Option[S] {
	return func(e *Engine[S]) { e.history = h }
}

// WithResumeGuard installs a validation hook for Resume. The guard sees the
// restored state before any node executes; a non-nil error denies the
// resume with CodeResumeDenied.
func WithResumeGuard[S any](guard func(state S) error) Option[S] {
	return func(e *Engine[S]) { e.resumeGuard = guard }
}

// WithMetrics installs a Prometheus metrics collector.
func WithMetrics[S any](m *Metrics) Option[S] {
	return func(e *Engine[S]) { e.metrics = m }
}
