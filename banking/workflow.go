package banking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dshills/bankflow/approval"
	"github.com/dshills/bankflow/banking/classify"
	"github.com/dshills/bankflow/graph"
	"github.com/dshills/bankflow/graph/emit"
	"github.com/dshills/bankflow/graph/store"
	"github.com/dshills/bankflow/hil"
	"github.com/dshills/bankflow/session"
)

// WorkflowType stamps sessions and approval requests created by this
// graph.
const WorkflowType = "banking"

// Options tunes the workflow's gates and limits. Zero values take the
// documented defaults.
type Options struct {
	// HILThreshold is the transfer amount (inclusive) that requires human
	// approval. Default 5000.
	HILThreshold float64

	// AutoApprove disables the gate entirely. Default false.
	AutoApprove bool

	// HILTimeoutSeconds is stamped on approval requests for external
	// sweepers. Default 3600.
	HILTimeoutSeconds int

	// ConfidenceThreshold is the classifier confidence below which a turn
	// needs approval. Default 0.80.
	ConfidenceThreshold float64

	// MaxSteps bounds node executions per turn. Default 25.
	MaxSteps int
}

func (o Options) withDefaults() Options {
	if o.HILThreshold == 0 {
		o.HILThreshold = 5000
	}
	if o.HILTimeoutSeconds == 0 {
		o.HILTimeoutSeconds = 3600
	}
	if o.ConfidenceThreshold == 0 {
		o.ConfidenceThreshold = 0.80
	}
	if o.MaxSteps == 0 {
		o.MaxSteps = 25
	}
	return o
}

// Deps are the collaborators a Workflow is built from.
type Deps struct {
	Classifier  classify.Classifier
	Bank        *BankClient
	Checkpoints store.Store
	Sessions    session.Store
	Approvals   approval.Store

	// Emitter may be nil to discard events; Metrics may be nil to skip
	// collection.
	Emitter emit.Emitter
	Metrics *graph.Metrics
}

// Workflow is the assembled banking graph plus its approval gate.
type Workflow struct {
	engine *graph.Engine[State]
	gate   *hil.Gate[State]
}

// NewWorkflow builds the banking graph:
//
//	validate_input → confidence_check → (route_intent)
//	    ├─ balance_inquiry → END
//	    ├─ money_transfer_prepare → money_transfer_hil → money_transfer_execute → END
//	    ├─ account_statement → END
//	    ├─ loan_inquiry → END
//	    └─ fallback → END
//
// with a clarification terminal for incomplete transfers.
func NewWorkflow(opts Options, deps Deps) (*Workflow, error) {
	opts = opts.withDefaults()

	if deps.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if deps.Bank == nil {
		return nil, errors.New("bank client is required")
	}
	if deps.Checkpoints == nil || deps.Sessions == nil || deps.Approvals == nil {
		return nil, errors.New("checkpoint, session, and approval stores are required")
	}

	gate := &hil.Gate[State]{
		NodeID:         NodeTransferHIL,
		Message:        "Transfer requires approval",
		WorkflowType:   WorkflowType,
		AutoApprove:    opts.AutoApprove,
		TimeoutSeconds: opts.HILTimeoutSeconds,
		Threshold: func(s State) bool {
			return s.Amount >= opts.HILThreshold || s.NeedsApproval
		},
		Describe: func(s State) approval.Request {
			var requestData json.RawMessage
			if s.RequestData != nil {
				requestData, _ = json.Marshal(s.RequestData)
			}
			return approval.Request{
				RequestData: requestData,
				Amount:      s.Amount,
				Recipient:   s.Recipient,
			}
		},
		Decide: func(s State, d hil.Decision) State {
			s.HILDecision = &d
			return s
		},
		Halt: func(s State) State {
			s.Halt = true
			return s
		},
		Checkpoints: deps.Checkpoints,
		Sessions:    deps.Sessions,
		Approvals:   deps.Approvals,
	}

	n := &nodes{
		classifier:          deps.Classifier,
		bank:                deps.Bank,
		hilThreshold:        opts.HILThreshold,
		confidenceThreshold: opts.ConfidenceThreshold,
	}

	eng := graph.New(reduce, deps.Checkpoints, deps.Emitter,
		graph.Options{MaxSteps: opts.MaxSteps},
		graph.WithHalt[State](halted),
		graph.WithHistory[State](recordNode),
		graph.WithResumeGuard[State](func(s State) error {
			if !s.Approved() {
				return errors.New("resume requires an approved decision")
			}
			return nil
		}),
		graph.WithMetrics[State](deps.Metrics),
	)

	hilNode := func(ctx context.Context, s State) graph.NodeResult[State] {
		out, res, err := gate.Execute(ctx, s, s.SessionID)
		if err != nil {
			return graph.NodeResult[State]{Err: err}
		}
		if res.Status == hil.StatusPendingApproval {
			out.Response = &Response{
				Intent:     out.Intent,
				Status:     hil.StatusPendingApproval,
				Message:    approvalMessage(out.Intent),
				ApprovalID: res.ApprovalID,
				Amount:     res.Amount,
				Recipient:  res.Recipient,
			}
		}
		return graph.NodeResult[State]{Delta: out}
	}

	for nodeID, fn := range map[string]graph.NodeFunc[State]{
		NodeValidateInput:   n.validateInput,
		NodeConfidenceCheck: n.confidenceCheck,
		NodeClarify:         n.clarify,
		NodeBalanceInquiry:  n.balanceInquiry,
		NodeTransferPrepare: n.transferPrepare,
		NodeTransferHIL:     hilNode,
		NodeTransferExecute: n.transferExecute,
		NodeStatement:       n.accountStatement,
		NodeLoanInquiry:     n.loanInquiry,
		NodeFallback:        n.fallback,
	} {
		if err := eng.Add(nodeID, fn); err != nil {
			return nil, fmt.Errorf("failed to add node %s: %w", nodeID, err)
		}
	}

	if err := eng.StartAt(NodeValidateInput); err != nil {
		return nil, err
	}

	if err := eng.Connect(NodeValidateInput, NodeConfidenceCheck, nil); err != nil {
		return nil, err
	}
	if err := eng.ConnectConditional(NodeConfidenceCheck, routeIntent, map[string]string{
		classify.IntentBalance:   NodeBalanceInquiry,
		classify.IntentTransfer:  NodeTransferPrepare,
		classify.IntentStatement: NodeStatement,
		classify.IntentLoan:      NodeLoanInquiry,
		classify.IntentFallback:  NodeFallback,
		routeApproval:            NodeTransferHIL,
	}); err != nil {
		return nil, err
	}
	// After the gate the turn continues into the intent branch: execute for
	// approved transfers, the inquiry node for everything else.
	if err := eng.ConnectConditional(NodeTransferHIL, intentKey, map[string]string{
		classify.IntentTransfer:  NodeTransferExecute,
		classify.IntentBalance:   NodeBalanceInquiry,
		classify.IntentStatement: NodeStatement,
		classify.IntentLoan:      NodeLoanInquiry,
		classify.IntentFallback:  NodeFallback,
	}); err != nil {
		return nil, err
	}
	for _, edge := range []struct{ from, to string }{
		{NodeTransferPrepare, NodeTransferHIL},
		{NodeTransferExecute, graph.END},
		{NodeBalanceInquiry, graph.END},
		{NodeStatement, graph.END},
		{NodeLoanInquiry, graph.END},
		{NodeFallback, graph.END},
		{NodeClarify, graph.END},
	} {
		if err := eng.Connect(edge.from, edge.to, nil); err != nil {
			return nil, err
		}
	}

	return &Workflow{engine: eng, gate: gate}, nil
}

// Run executes one chat turn for the session.
func (w *Workflow) Run(ctx context.Context, sessionID string, s State) (State, error) {
	s.SessionID = sessionID
	return w.engine.Run(ctx, sessionID, s)
}

// Approve records a human approval for the session's pending request and
// resumes the workflow into the paused turn's intent branch. Returns the
// final state and the decided approval record.
func (w *Workflow) Approve(ctx context.Context, sessionID, approverID, reason string) (State, approval.Request, error) {
	state, decided, err := w.gate.Approve(ctx, sessionID, approverID, reason)
	if err != nil {
		return State{}, approval.Request{}, err
	}

	final, err := w.engine.Resume(ctx, sessionID, resumeNode(state), state)
	if err != nil {
		return State{}, decided, err
	}
	return final, decided, nil
}

// resumeNode maps an approved state to the node that carries out its
// intent.
func resumeNode(s State) string {
	switch s.Intent {
	case classify.IntentTransfer:
		return NodeTransferExecute
	case classify.IntentBalance:
		return NodeBalanceInquiry
	case classify.IntentStatement:
		return NodeStatement
	case classify.IntentLoan:
		return NodeLoanInquiry
	}
	return NodeFallback
}

// approvalMessage is the human-readable pause notice.
func approvalMessage(intent string) string {
	if intent == classify.IntentTransfer {
		return "Transfer requires approval"
	}
	return "Request requires approval"
}

// Reject records a human rejection. Nothing resumes; the decided record
// is returned for the caller's envelope.
func (w *Workflow) Reject(ctx context.Context, sessionID, approverID, reason string) (approval.Request, error) {
	return w.gate.Reject(ctx, sessionID, approverID, reason)
}

// Checkpoints exposes the engine's checkpoint store for introspection
// endpoints.
func (w *Workflow) Checkpoints() store.Store {
	return w.engine.Store()
}
