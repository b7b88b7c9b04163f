// Package banking implements the conversational banking workflow: a graph
// of intent classification, downstream account operations, and a
// human-in-the-loop gate on high-value transfers.
package banking

import (
	"encoding/json"
	"time"

	"github.com/dshills/bankflow/banking/classify"
	"github.com/dshills/bankflow/hil"
)

// DefaultAccount is the account used when a message names none.
const DefaultAccount = classify.DefaultAccount

// Response statuses.
const (
	StatusSuccess      = "success"
	StatusError        = "error"
	StatusAwaitingInfo = "awaiting_info"
)

// State is the banking workflow state. It rides through the engine as the
// node delta type and serializes into every checkpoint.
//
// Halt is the engine's stop sentinel: the gate raises it when a transfer
// pauses for approval, and the engine refuses to execute further nodes
// while it is set.
type State struct {
	Message    string            `json:"message,omitempty"`
	Intent     string            `json:"intent,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Entities   classify.Entities `json:"entities,omitempty"`

	UserID      string `json:"user_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	FromAccount string `json:"from_account,omitempty"`

	Amount      float64          `json:"amount,omitempty"`
	Recipient   string           `json:"recipient,omitempty"`
	RequestData *TransferRequest `json:"request_data,omitempty"`

	// Carry-forward slots for multi-turn transfer completion. The facade
	// seeds them from the previous turn's state when that turn ended
	// awaiting completion.
	ContextAmount      float64 `json:"context_amount,omitempty"`
	ContextRecipient   string  `json:"context_recipient,omitempty"`
	AwaitingCompletion bool    `json:"awaiting_completion,omitempty"`

	NeedsApproval  bool          `json:"needs_approval,omitempty"`
	ApprovalReason string        `json:"approval_reason,omitempty"`
	HILDecision    *hil.Decision `json:"hil_decision,omitempty"`

	Response         *Response `json:"response,omitempty"`
	Error            string    `json:"error,omitempty"`
	ExecutionHistory []string  `json:"execution_history,omitempty"`

	Halt bool `json:"_halt,omitempty"`
}

// TransferRequest is the downstream transfer payload. Field names follow
// the banking collaborator's wire contract.
type TransferRequest struct {
	FromAccount string  `json:"fromAccount"`
	ToAccount   string  `json:"toAccount"`
	Amount      float64 `json:"amount"`
}

// Response is the terminal result record a turn produces.
type Response struct {
	Intent  string          `json:"intent,omitempty"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`

	// Set on executed transfers.
	ApprovedBy string `json:"approved_by,omitempty"`

	// Set on pending-approval pauses.
	ApprovalID string  `json:"approval_id,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Recipient  string  `json:"recipient,omitempty"`
}

// Approved reports whether a positive approval decision is on the state.
func (s State) Approved() bool {
	return s.HILDecision != nil && s.HILDecision.Approved
}

// autoDecision is the approval stamped on transfers below the gate
// threshold.
func autoDecision() *hil.Decision {
	return &hil.Decision{Approved: true, Auto: true, DecidedAt: time.Now().UTC()}
}

// halted is the engine halt predicate.
func halted(s State) bool { return s.Halt }

// reduce replaces the previous state with the node's delta. Nodes receive
// the full state and return the full state, so last-write-wins is the
// merge.
func reduce(_, delta State) State { return delta }

// recordNode appends the executed node to the state's history.
func recordNode(s State, nodeID string) State {
	s.ExecutionHistory = append(s.ExecutionHistory, nodeID)
	return s
}
