package banking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/bankflow/banking/classify"
	"github.com/dshills/bankflow/graph"
)

// Node identifiers. The facade and the approval path reference these when
// resuming and when reporting current_node.
const (
	NodeValidateInput   = "validate_input"
	NodeConfidenceCheck = "confidence_check"
	NodeClarify         = "clarify"
	NodeBalanceInquiry  = "balance_inquiry"
	NodeTransferPrepare = "money_transfer_prepare"
	NodeTransferHIL     = "money_transfer_hil"
	NodeTransferExecute = "money_transfer_execute"
	NodeStatement       = "account_statement"
	NodeLoanInquiry     = "loan_inquiry"
	NodeFallback        = "fallback"
)

// nodes holds the collaborators the workflow nodes call into.
type nodes struct {
	classifier          classify.Classifier
	bank                *BankClient
	hilThreshold        float64
	confidenceThreshold float64
}

// validateInput classifies the message and merges entities plus any
// carried-over conversational context into the state.
func (n *nodes) validateInput(ctx context.Context, s State) graph.NodeResult[State] {
	if s.FromAccount == "" {
		s.FromAccount = DefaultAccount
	}

	if strings.TrimSpace(s.Message) == "" {
		s.Error = "empty message"
		s.Intent = classify.IntentFallback
		return graph.NodeResult[State]{Delta: s}
	}

	res, err := n.classifier.Classify(ctx, s.Message)
	if err != nil {
		// Only reachable with a bare LLM classifier; FallbackChain
		// degrades to rules instead of erroring.
		var rules classify.RuleClassifier
		res, _ = rules.Classify(ctx, s.Message)
		res.Confidence = classify.FallbackConfidence
	}

	s.Intent = res.Intent
	s.Confidence = res.Confidence
	s.Entities = res.Entities

	if res.Entities.Amount != nil {
		s.Amount = *res.Entities.Amount
	}
	if res.Entities.Recipient != "" {
		s.Recipient = res.Entities.Recipient
	}

	// A turn completing a partial transfer rarely looks like a transfer on
	// its own ("6000", "kiran"); carried context decides the intent.
	if s.ContextAmount > 0 || s.ContextRecipient != "" {
		s.Intent = classify.IntentTransfer
	}

	// A transfer message that omits a slot inherits it from the previous
	// turn's partial request.
	if s.Intent == classify.IntentTransfer {
		if s.Amount == 0 && s.ContextAmount > 0 {
			s.Amount = s.ContextAmount
		}
		if s.Recipient == "" && s.ContextRecipient != "" {
			s.Recipient = s.ContextRecipient
		}

		details := ExtractTransferDetails(s.Message)
		if s.Amount == 0 && details.Amount > 0 {
			s.Amount = details.Amount
		}
		if s.Recipient == "" {
			if details.Recipient != "" {
				s.Recipient = details.Recipient
			} else if words := strings.Fields(s.Message); len(words) == 1 && !strings.ContainsAny(words[0], "0123456789") {
				// A one-word reply to "Who would you like to send to?"
				// is the recipient.
				s.Recipient = strings.Trim(words[0], ".,!?")
			}
		}
	}

	return graph.NodeResult[State]{Delta: s}
}

// confidenceCheck flags low-confidence turns for approval and routes
// incomplete transfers to clarification.
func (n *nodes) confidenceCheck(_ context.Context, s State) graph.NodeResult[State] {
	if s.Confidence < n.confidenceThreshold && s.Error == "" {
		s.NeedsApproval = true
		s.ApprovalReason = "low confidence"
	}

	if s.Intent == classify.IntentTransfer {
		if s.Amount <= 0 || s.Recipient == "" {
			s.ContextAmount = s.Amount
			s.ContextRecipient = s.Recipient
			s.AwaitingCompletion = true
			return graph.NodeResult[State]{Delta: s, Route: graph.Goto(NodeClarify)}
		}
		if s.ContextAmount > 0 || s.ContextRecipient != "" {
			// A slot was filled from conversational context; the composed
			// request never appeared in one message, so a human checks it.
			s.NeedsApproval = true
			s.ApprovalReason = "conversational completion"
		}
		s.AwaitingCompletion = false
	}

	return graph.NodeResult[State]{Delta: s}
}

// clarify ends the turn with a question asking for the missing transfer
// slot. The partial request stays in the context fields for the next turn.
func (n *nodes) clarify(_ context.Context, s State) graph.NodeResult[State] {
	var question string
	switch {
	case s.Amount <= 0 && s.Recipient != "":
		question = fmt.Sprintf("How much would you like to send to %s?", s.Recipient)
	case s.Amount > 0 && s.Recipient == "":
		question = fmt.Sprintf("Who would you like to send %.2f to?", s.Amount)
	default:
		question = "Who would you like to send money to, and how much?"
	}

	s.Response = &Response{
		Intent:  classify.IntentTransfer,
		Status:  StatusAwaitingInfo,
		Message: question,
	}
	return graph.NodeResult[State]{Delta: s, Route: graph.Stop()}
}

// routeApproval is the routing key sending a flagged turn straight to the
// approval gate.
const routeApproval = "human_approval"

// routeIntent selects the branch for the classified intent. Any state
// flagged for approval routes to the gate first; transfers reach it
// through their prepare node, everything else goes directly.
func routeIntent(s State) string {
	if s.NeedsApproval && s.Intent != classify.IntentTransfer {
		return routeApproval
	}
	return intentKey(s)
}

// intentKey normalizes the classified intent to a routing key.
func intentKey(s State) string {
	switch s.Intent {
	case classify.IntentBalance, classify.IntentTransfer,
		classify.IntentStatement, classify.IntentLoan:
		return s.Intent
	}
	return classify.IntentFallback
}

// balanceInquiry fetches the balance from the downstream bank.
func (n *nodes) balanceInquiry(ctx context.Context, s State) graph.NodeResult[State] {
	data, err := n.bank.Balance(ctx, s.FromAccount)
	if err != nil {
		return graph.NodeResult[State]{Delta: downstreamFailure(s, classify.IntentBalance, err)}
	}

	s.Response = &Response{Intent: classify.IntentBalance, Status: StatusSuccess, Data: data}
	return graph.NodeResult[State]{Delta: s}
}

// transferPrepare assembles the downstream payload and stamps the
// auto-approval for transfers the gate will wave through. The decision is
// made here, in a checkpointed node, never in a routing selector: selector
// writes are discarded.
func (n *nodes) transferPrepare(_ context.Context, s State) graph.NodeResult[State] {
	details := ExtractTransferDetails(s.Message)
	if details.Amount > 0 {
		s.Amount = details.Amount
	}
	if details.Recipient != "" {
		s.Recipient = details.Recipient
	}

	if s.Amount <= 0 || s.Recipient == "" {
		s.Error = "could not parse transfer details"
		return graph.NodeResult[State]{Delta: s, Route: graph.Stop()}
	}

	s.RequestData = &TransferRequest{
		FromAccount: s.FromAccount,
		ToAccount:   strings.ToLower(s.Recipient),
		Amount:      s.Amount,
	}

	if s.Amount < n.hilThreshold && !s.NeedsApproval {
		s.HILDecision = autoDecision()
	}

	return graph.NodeResult[State]{Delta: s}
}

// transferExecute posts the approved transfer downstream.
//
// The approval assertion is defense in depth: the resume guard already
// refuses to run without a positive decision.
func (n *nodes) transferExecute(ctx context.Context, s State) graph.NodeResult[State] {
	if !s.Approved() {
		s.Error = "transfer not approved"
		s.Response = &Response{Intent: classify.IntentTransfer, Status: StatusError, Message: s.Error}
		return graph.NodeResult[State]{Delta: s, Route: graph.Stop()}
	}

	// A state restored from a pause checkpoint may predate the payload;
	// rebuild it from the individual slots.
	if s.RequestData == nil {
		if s.Amount <= 0 || s.Recipient == "" {
			s.Error = "transfer request data missing"
			s.Response = &Response{Intent: classify.IntentTransfer, Status: StatusError, Message: s.Error}
			return graph.NodeResult[State]{Delta: s, Route: graph.Stop()}
		}
		if s.FromAccount == "" {
			s.FromAccount = DefaultAccount
		}
		s.RequestData = &TransferRequest{
			FromAccount: s.FromAccount,
			ToAccount:   strings.ToLower(s.Recipient),
			Amount:      s.Amount,
		}
	}

	data, err := n.bank.Transfer(ctx, *s.RequestData)
	if err != nil {
		return graph.NodeResult[State]{Delta: downstreamFailure(s, classify.IntentTransfer, err)}
	}

	approvedBy := "auto"
	if s.HILDecision.ApproverID != "" {
		approvedBy = s.HILDecision.ApproverID
	}
	s.Response = &Response{
		Intent:     classify.IntentTransfer,
		Status:     StatusSuccess,
		Data:       data,
		ApprovedBy: approvedBy,
	}
	return graph.NodeResult[State]{Delta: s}
}

// accountStatement fetches the statement text.
func (n *nodes) accountStatement(ctx context.Context, s State) graph.NodeResult[State] {
	text, err := n.bank.Statement(ctx, s.FromAccount)
	if err != nil {
		return graph.NodeResult[State]{Delta: downstreamFailure(s, classify.IntentStatement, err)}
	}

	s.Response = &Response{
		Intent: classify.IntentStatement,
		Status: StatusSuccess,
		Data:   mustJSON(map[string]string{"statement": text}),
	}
	return graph.NodeResult[State]{Delta: s}
}

// loanInquiry fetches the loan information text.
func (n *nodes) loanInquiry(ctx context.Context, s State) graph.NodeResult[State] {
	text, err := n.bank.Loan(ctx, s.FromAccount)
	if err != nil {
		return graph.NodeResult[State]{Delta: downstreamFailure(s, classify.IntentLoan, err)}
	}

	s.Response = &Response{
		Intent: classify.IntentLoan,
		Status: StatusSuccess,
		Data:   mustJSON(map[string]string{"loan_info": text}),
	}
	return graph.NodeResult[State]{Delta: s}
}

// fallback answers unrecognized messages with a usage hint.
func (n *nodes) fallback(_ context.Context, s State) graph.NodeResult[State] {
	s.Response = &Response{
		Intent:  classify.IntentFallback,
		Message: "I didn't understand that. Try: 'What's my balance?' or 'Transfer 1000 to Kiran'",
	}
	return graph.NodeResult[State]{Delta: s}
}

// downstreamFailure records a collaborator error in the state. The turn
// still completes; the failure rides in the response payload.
func downstreamFailure(s State, intent string, err error) State {
	s.Error = err.Error()
	s.Response = &Response{Intent: intent, Status: StatusError, Message: s.Error}
	return s
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
