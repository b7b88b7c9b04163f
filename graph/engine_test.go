package graph_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/bankflow/graph"
	"github.com/dshills/bankflow/graph/emit"
	"github.com/dshills/bankflow/graph/store"
)

type flowState struct {
	Message string   `json:"message"`
	Intent  string   `json:"intent"`
	Steps   []string `json:"steps"`
	Halt    bool     `json:"_halt"`
	Err     string   `json:"error,omitempty"`
}

func replaceReducer(_, delta flowState) flowState { return delta }

func appendHistory(s flowState, nodeID string) flowState {
	s.Steps = append(s.Steps, nodeID)
	return s
}

func isHalted(s flowState) bool { return s.Halt }

func newTestEngine(t *testing.T, st store.Store, opts ...graph.Option[flowState]) *graph.Engine[flowState] {
	t.Helper()
	base := []graph.Option[flowState]{
		graph.WithHalt[flowState](isHalted),
		graph.WithHistory[flowState](appendHistory),
	}
	return graph.New(replaceReducer, st, emit.NewNullEmitter(), graph.Options{MaxSteps: 25}, append(base, opts...)...)
}

func passthrough(route graph.Next) graph.Node[flowState] {
	return graph.NodeFunc[flowState](func(_ context.Context, s flowState) graph.NodeResult[flowState] {
		return graph.NodeResult[flowState]{Delta: s, Route: route}
	})
}

func TestEngineLinearRun(t *testing.T) {
	st := store.NewMemStore()
	eng := newTestEngine(t, st)

	classify := graph.NodeFunc[flowState](func(_ context.Context, s flowState) graph.NodeResult[flowState] {
		s.Intent = "balance_inquiry"
		return graph.NodeResult[flowState]{Delta: s}
	})
	respond := graph.NodeFunc[flowState](func(_ context.Context, s flowState) graph.NodeResult[flowState] {
		s.Message = "your balance is $500"
		return graph.NodeResult[flowState]{Delta: s}
	})

	mustAdd(t, eng, "classify", classify)
	mustAdd(t, eng, "respond", respond)
	mustStartAt(t, eng, "classify")
	mustConnect(t, eng, "classify", "respond", nil)
	mustConnect(t, eng, "respond", graph.END, nil)

	final, err := eng.Run(context.Background(), "sess-1", flowState{Message: "balance?"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final.Intent != "balance_inquiry" {
		t.Errorf("intent: got %q", final.Intent)
	}
	if len(final.Steps) != 2 || final.Steps[0] != "classify" || final.Steps[1] != "respond" {
		t.Errorf("history: got %v", final.Steps)
	}

	// Two nodes, start+end checkpoints each.
	log, err := st.List(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(log) != 4 {
		t.Fatalf("checkpoints: got %d, want 4", len(log))
	}
	wantPhases := []string{store.PhaseStart, store.PhaseEnd, store.PhaseStart, store.PhaseEnd}
	wantNodes := []string{"classify", "classify", "respond", "respond"}
	for i, cp := range log {
		if cp.Phase() != wantPhases[i] {
			t.Errorf("checkpoint %d phase: got %q, want %q", i, cp.Phase(), wantPhases[i])
		}
		if cp.NodeID != wantNodes[i] {
			t.Errorf("checkpoint %d node: got %q, want %q", i, cp.NodeID, wantNodes[i])
		}
	}
}

func TestEngineStartCheckpointPrecedesNodeEffects(t *testing.T) {
	st := store.NewMemStore()
	eng := newTestEngine(t, st)

	mutate := graph.NodeFunc[flowState](func(_ context.Context, s flowState) graph.NodeResult[flowState] {
		s.Intent = "money_transfer"
		return graph.NodeResult[flowState]{Delta: s, Route: graph.Stop()}
	})
	mustAdd(t, eng, "mutate", mutate)
	mustStartAt(t, eng, "mutate")

	if _, err := eng.Run(context.Background(), "sess-pre", flowState{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	log, _ := st.List(context.Background(), "sess-pre")
	if len(log) != 2 {
		t.Fatalf("checkpoints: got %d, want 2", len(log))
	}

	var before, after flowState
	if err := store.UnmarshalState(log[0].State, &before); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if err := store.UnmarshalState(log[1].State, &after); err != nil {
		t.Fatalf("decode end: %v", err)
	}
	if before.Intent != "" {
		t.Errorf("start checkpoint carries node effects: %+v", before)
	}
	if after.Intent != "money_transfer" {
		t.Errorf("end checkpoint missing node effects: %+v", after)
	}
}

func TestEngineConditionalRouting(t *testing.T) {
	st := store.NewMemStore()
	eng := newTestEngine(t, st)

	classify := graph.NodeFunc[flowState](func(_ context.Context, s flowState) graph.NodeResult[flowState] {
		if strings.Contains(s.Message, "send") {
			s.Intent = "money_transfer"
		} else {
			s.Intent = "fallback"
		}
		return graph.NodeResult[flowState]{Delta: s}
	})

	mustAdd(t, eng, "classify", classify)
	mustAdd(t, eng, "transfer", passthrough(graph.Stop()))
	mustAdd(t, eng, "fallback", passthrough(graph.Stop()))
	mustStartAt(t, eng, "classify")

	selector := func(s flowState) string { return s.Intent }
	if err := eng.ConnectConditional("classify", selector, map[string]string{
		"money_transfer": "transfer",
		"fallback":       "fallback",
	}); err != nil {
		t.Fatalf("ConnectConditional failed: %v", err)
	}

	final, err := eng.Run(context.Background(), "sess-cond", flowState{Message: "send $100 to alice"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := final.Steps[len(final.Steps)-1]; got != "transfer" {
		t.Errorf("routed to %q, want transfer", got)
	}
}

func TestEngineConditionalUnknownKey(t *testing.T) {
	st := store.NewMemStore()
	eng := newTestEngine(t, st)

	classify := graph.NodeFunc[flowState](func(_ context.Context, s flowState) graph.NodeResult[flowState] {
		s.Intent = "loan_inquiry"
		return graph.NodeResult[flowState]{Delta: s}
	})
	mustAdd(t, eng, "classify", classify)
	mustAdd(t, eng, "transfer", passthrough(graph.Stop()))
	mustStartAt(t, eng, "classify")

	if err := eng.ConnectConditional("classify", func(s flowState) string { return s.Intent },
		map[string]string{"money_transfer": "transfer"}); err != nil {
		t.Fatalf("ConnectConditional failed: %v", err)
	}

	_, err := eng.Run(context.Background(), "sess-badkey", flowState{})
	if graph.Code(err) != graph.CodeNoRoute {
		t.Fatalf("got %v, want code %s", err, graph.CodeNoRoute)
	}
}

func TestEngineSelectorMutationDiscarded(t *testing.T) {
	st := store.NewMemStore()
	eng := newTestEngine(t, st)

	classify := graph.NodeFunc[flowState](func(_ context.Context, s flowState) graph.NodeResult[flowState] {
		s.Intent = "fallback"
		return graph.NodeResult[flowState]{Delta: s}
	})
	mustAdd(t, eng, "classify", classify)
	mustAdd(t, eng, "fallback", passthrough(graph.Stop()))
	mustStartAt(t, eng, "classify")

	selector := func(s flowState) string {
		s.Message = "selector wrote this"
		return s.Intent
	}
	if err := eng.ConnectConditional("classify", selector, map[string]string{"fallback": "fallback"}); err != nil {
		t.Fatalf("ConnectConditional failed: %v", err)
	}

	final, err := eng.Run(context.Background(), "sess-iso", flowState{Message: "original"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final.Message != "original" {
		t.Errorf("selector write leaked into state: %q", final.Message)
	}
}

func TestEngineHaltSkipsEndCheckpoint(t *testing.T) {
	st := store.NewMemStore()
	eng := newTestEngine(t, st)

	gate := graph.NodeFunc[flowState](func(_ context.Context, s flowState) graph.NodeResult[flowState] {
		s.Halt = true
		return graph.NodeResult[flowState]{Delta: s, Route: graph.Goto("execute")}
	})
	mustAdd(t, eng, "gate", gate)
	mustAdd(t, eng, "execute", passthrough(graph.Stop()))
	mustStartAt(t, eng, "gate")

	final, err := eng.Run(context.Background(), "sess-halt", flowState{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !final.Halt {
		t.Error("halt flag not set on returned state")
	}
	if len(final.Steps) != 1 || final.Steps[0] != "gate" {
		t.Errorf("execute ran despite halt: %v", final.Steps)
	}

	// Only the gate's start checkpoint; its end checkpoint is skipped so
	// whatever the node wrote during execution stays latest.
	log, _ := st.List(context.Background(), "sess-halt")
	if len(log) != 1 {
		t.Fatalf("checkpoints: got %d, want 1", len(log))
	}
	if log[0].Phase() != store.PhaseStart {
		t.Errorf("phase: got %q, want %q", log[0].Phase(), store.PhaseStart)
	}
}

func TestEngineHaltedStateShortCircuits(t *testing.T) {
	st := store.NewMemStore()
	eng := newTestEngine(t, st)

	executed := false
	node := graph.NodeFunc[flowState](func(_ context.Context, s flowState) graph.NodeResult[flowState] {
		executed = true
		return graph.NodeResult[flowState]{Delta: s, Route: graph.Stop()}
	})
	mustAdd(t, eng, "execute", node)
	mustStartAt(t, eng, "execute")

	final, err := eng.Run(context.Background(), "sess-frozen", flowState{Halt: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if executed {
		t.Error("node executed on a halted state")
	}
	if !final.Halt {
		t.Error("halt flag cleared")
	}
	log, _ := st.List(context.Background(), "sess-frozen")
	if len(log) != 0 {
		t.Errorf("checkpoints written for halted state: %d", len(log))
	}
}

func TestEngineResume(t *testing.T) {
	st := store.NewMemStore()
	eng := newTestEngine(t, st)

	execute := graph.NodeFunc[flowState](func(_ context.Context, s flowState) graph.NodeResult[flowState] {
		s.Message = "transfer executed"
		return graph.NodeResult[flowState]{Delta: s, Route: graph.Stop()}
	})
	mustAdd(t, eng, "gate", passthrough(graph.Goto("execute")))
	mustAdd(t, eng, "execute", execute)
	mustStartAt(t, eng, "gate")

	restored := flowState{Intent: "money_transfer"}
	final, err := eng.Resume(context.Background(), "sess-resume", "execute", restored)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if final.Message != "transfer executed" {
		t.Errorf("resume did not run target node: %+v", final)
	}
	if len(final.Steps) != 1 || final.Steps[0] != "execute" {
		t.Errorf("resume history: %v", final.Steps)
	}
}

func TestEngineResumeGuardDenies(t *testing.T) {
	st := store.NewMemStore()
	guardErr := errors.New("transfer is not approved")
	eng := newTestEngine(t, st, graph.WithResumeGuard[flowState](func(s flowState) error {
		if s.Intent != "approved" {
			return guardErr
		}
		return nil
	}))

	mustAdd(t, eng, "execute", passthrough(graph.Stop()))
	mustStartAt(t, eng, "execute")

	_, err := eng.Resume(context.Background(), "sess-deny", "execute", flowState{Intent: "pending"})
	if graph.Code(err) != graph.CodeResumeDenied {
		t.Fatalf("got %v, want code %s", err, graph.CodeResumeDenied)
	}
	if !errors.Is(err, guardErr) {
		t.Error("denial does not wrap the guard error")
	}
}

func TestEngineResumeUnknownNode(t *testing.T) {
	st := store.NewMemStore()
	eng := newTestEngine(t, st)
	mustAdd(t, eng, "execute", passthrough(graph.Stop()))
	mustStartAt(t, eng, "execute")

	_, err := eng.Resume(context.Background(), "sess-x", "missing", flowState{})
	if graph.Code(err) != graph.CodeNodeNotFound {
		t.Fatalf("got %v, want code %s", err, graph.CodeNodeNotFound)
	}
}

func TestEngineMaxSteps(t *testing.T) {
	st := store.NewMemStore()
	eng := graph.New(replaceReducer, st, emit.NewNullEmitter(), graph.Options{MaxSteps: 3})

	mustAdd(t, eng, "a", passthrough(graph.Goto("b")))
	mustAdd(t, eng, "b", passthrough(graph.Goto("a")))
	mustStartAt(t, eng, "a")

	_, err := eng.Run(context.Background(), "sess-loop", flowState{})
	if graph.Code(err) != graph.CodeMaxSteps {
		t.Fatalf("got %v, want code %s", err, graph.CodeMaxSteps)
	}
}

func TestEngineNodeErrorAborts(t *testing.T) {
	st := store.NewMemStore()
	eng := newTestEngine(t, st)

	nodeErr := errors.New("boom")
	failing := graph.NodeFunc[flowState](func(_ context.Context, s flowState) graph.NodeResult[flowState] {
		return graph.NodeResult[flowState]{Err: nodeErr}
	})
	mustAdd(t, eng, "failing", failing)
	mustStartAt(t, eng, "failing")

	_, err := eng.Run(context.Background(), "sess-err", flowState{})
	if !errors.Is(err, nodeErr) {
		t.Fatalf("got %v, want node error", err)
	}

	// The start checkpoint exists; no end checkpoint for the failed node.
	log, _ := st.List(context.Background(), "sess-err")
	if len(log) != 1 || log[0].Phase() != store.PhaseStart {
		t.Errorf("unexpected checkpoint log: %d records", len(log))
	}
}

func TestEngineNoRoute(t *testing.T) {
	st := store.NewMemStore()
	eng := newTestEngine(t, st)
	mustAdd(t, eng, "orphan", passthrough(graph.Next{}))
	mustStartAt(t, eng, "orphan")

	_, err := eng.Run(context.Background(), "sess-orphan", flowState{})
	if graph.Code(err) != graph.CodeNoRoute {
		t.Fatalf("got %v, want code %s", err, graph.CodeNoRoute)
	}
}

func TestEngineConfigErrors(t *testing.T) {
	st := store.NewMemStore()

	t.Run("missing reducer", func(t *testing.T) {
		eng := graph.New[flowState](nil, st, nil, graph.Options{})
		mustAdd(t, eng, "a", passthrough(graph.Stop()))
		mustStartAt(t, eng, "a")
		if _, err := eng.Run(context.Background(), "s", flowState{}); graph.Code(err) != graph.CodeConfig {
			t.Errorf("got %v, want code %s", err, graph.CodeConfig)
		}
	})

	t.Run("missing start node", func(t *testing.T) {
		eng := graph.New(replaceReducer, st, nil, graph.Options{})
		mustAdd(t, eng, "a", passthrough(graph.Stop()))
		if _, err := eng.Run(context.Background(), "s", flowState{}); graph.Code(err) != graph.CodeConfig {
			t.Errorf("got %v, want code %s", err, graph.CodeConfig)
		}
	})

	t.Run("reserved node id", func(t *testing.T) {
		eng := graph.New(replaceReducer, st, nil, graph.Options{})
		if err := eng.Add(graph.END, passthrough(graph.Stop())); graph.Code(err) != graph.CodeConfig {
			t.Errorf("got %v, want code %s", err, graph.CodeConfig)
		}
	})

	t.Run("duplicate node id", func(t *testing.T) {
		eng := graph.New(replaceReducer, st, nil, graph.Options{})
		mustAdd(t, eng, "a", passthrough(graph.Stop()))
		if err := eng.Add("a", passthrough(graph.Stop())); graph.Code(err) != graph.CodeConfig {
			t.Errorf("got %v, want code %s", err, graph.CodeConfig)
		}
	})
}

func TestEngineEmitsEvents(t *testing.T) {
	st := store.NewMemStore()
	var msgs []string
	emitter := emit.EmitterFunc(func(e emit.Event) { msgs = append(msgs, e.Msg) })

	eng := graph.New(replaceReducer, st, emitter, graph.Options{MaxSteps: 10})
	mustAdd(t, eng, "only", passthrough(graph.Stop()))
	mustStartAt(t, eng, "only")

	if _, err := eng.Run(context.Background(), "sess-events", flowState{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{
		emit.MsgRunStart,
		emit.MsgCheckpoint,
		emit.MsgNodeStart,
		emit.MsgCheckpoint,
		emit.MsgNodeEnd,
		emit.MsgRunEnd,
	}
	if len(msgs) != len(want) {
		t.Fatalf("events: got %v, want %v", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("event %d: got %q, want %q", i, msgs[i], want[i])
		}
	}
}

func mustAdd(t *testing.T, e *graph.Engine[flowState], id string, n graph.Node[flowState]) {
	t.Helper()
	if err := e.Add(id, n); err != nil {
		t.Fatalf("Add(%s) failed: %v", id, err)
	}
}

func mustStartAt(t *testing.T, e *graph.Engine[flowState], id string) {
	t.Helper()
	if err := e.StartAt(id); err != nil {
		t.Fatalf("StartAt(%s) failed: %v", id, err)
	}
}

func mustConnect(t *testing.T, e *graph.Engine[flowState], from, to string, p graph.Predicate[flowState]) {
	t.Helper()
	if err := e.Connect(from, to, p); err != nil {
		t.Fatalf("Connect(%s->%s) failed: %v", from, to, err)
	}
}
