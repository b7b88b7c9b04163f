// Package hil implements the human-in-the-loop approval gate.
//
// The gate sits inside a workflow as a node. When its threshold predicate
// fires, it records an approval request, writes a pause checkpoint, moves
// the session to pending_approval, and halts the turn. A later human
// decision is merged into the checkpointed state and written back as an
// approved or rejected checkpoint; an approved state is what the engine
// resumes from.
package hil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/bankflow/approval"
	"github.com/dshills/bankflow/graph"
	"github.com/dshills/bankflow/graph/store"
	"github.com/dshills/bankflow/session"
)

// Gate statuses returned from Execute.
const (
	StatusContinue        = "CONTINUE"
	StatusPendingApproval = "PENDING_APPROVAL"
)

// ErrNoPauseCheckpoint is returned when a decision arrives but the latest
// checkpoint for the session is not a pause record.
var ErrNoPauseCheckpoint = errors.New("latest checkpoint is not a pause record")

// Decision is the approval outcome merged into workflow state.
type Decision struct {
	Approved   bool      `json:"approved"`
	ApproverID string    `json:"approver_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Auto       bool      `json:"auto"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Result describes the outcome of Execute.
type Result struct {
	// Status is StatusContinue or StatusPendingApproval.
	Status string

	// The remaining fields are set only on pause.
	ApprovalID   string
	CheckpointID string
	Amount       float64
	Recipient    string
	PausedAt     time.Time
}

// Gate pauses workflows for human approval.
//
// The state-specific behavior is injected through three accessor
// functions, keeping the gate independent of any particular state type:
//
//   - Threshold decides whether the state needs approval.
//   - Describe extracts the approval request (amount, recipient, payload)
//     from the state.
//   - Decide merges a Decision into the state.
type Gate[S any] struct {
	// NodeID names the gate in checkpoint records.
	NodeID string

	// Message is the human-readable default shown to approvers.
	Message string

	// WorkflowType is stamped on approval requests.
	WorkflowType string

	// Threshold reports whether the state requires human approval.
	// Must be pure.
	Threshold graph.Predicate[S]

	// AutoApprove short-circuits the gate: it never pauses.
	AutoApprove bool

	// TimeoutSeconds is stored on approval records for external
	// sweepers. Never enforced here.
	TimeoutSeconds int

	// Describe extracts the approval request from the state.
	Describe func(state S) approval.Request

	// Decide merges the decision into the state.
	Decide func(state S, d Decision) S

	// Halt marks the state so the engine stops the turn.
	Halt func(state S) S

	Checkpoints store.Store
	Sessions    session.Store
	Approvals   approval.Store
}

// Execute evaluates the gate for one turn.
//
// Below the threshold (or with AutoApprove) it stamps an automatic
// approval into the state and continues. Otherwise it creates the
// approval request, writes the pause checkpoint, moves the session to
// pending_approval, and returns the halted state.
func (g *Gate[S]) Execute(ctx context.Context, state S, sessionID string) (S, Result, error) {
	var zero S

	if g.AutoApprove || !g.Threshold(state) {
		state = g.Decide(state, Decision{Approved: true, Auto: true, DecidedAt: time.Now().UTC()})
		return state, Result{Status: StatusContinue}, nil
	}

	req := g.Describe(state)
	req.SessionID = sessionID
	req.WorkflowType = g.WorkflowType
	req.TimeoutSeconds = g.TimeoutSeconds

	created, err := g.Approvals.Create(ctx, req)
	if err != nil {
		return zero, Result{}, fmt.Errorf("failed to create approval request: %w", err)
	}

	pausedAt := time.Now().UTC()
	checkpointID, err := g.Checkpoints.Save(ctx, sessionID, g.NodeID, state, map[string]any{
		store.MetaPhase: store.PhasePause,
		"approval_id":   created.ID,
		"paused_at":     pausedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return zero, Result{}, fmt.Errorf("failed to save pause checkpoint: %w", err)
	}

	if err := g.Sessions.UpdateStatus(ctx, sessionID, session.StatusPendingApproval); err != nil {
		return zero, Result{}, fmt.Errorf("failed to update session status: %w", err)
	}

	state = g.Halt(state)
	return state, Result{
		Status:       StatusPendingApproval,
		ApprovalID:   created.ID,
		CheckpointID: checkpointID,
		Amount:       created.Amount,
		Recipient:    created.Recipient,
		PausedAt:     pausedAt,
	}, nil
}

// Approve records a human approval for the session's pending request and
// returns the restored state with the decision merged, ready for resume.
//
// The state comes from the latest checkpoint, which must be the pause
// record; the merged state is written back as an approved checkpoint
// before returning.
func (g *Gate[S]) Approve(ctx context.Context, sessionID, approverID, reason string) (S, approval.Request, error) {
	var zero S

	pending, err := g.Approvals.PendingForSession(ctx, sessionID)
	if err != nil {
		return zero, approval.Request{}, err
	}

	decided, err := g.Approvals.Approve(ctx, pending.ID, approverID, reason)
	if err != nil {
		return zero, approval.Request{}, err
	}

	state, err := g.restorePaused(ctx, sessionID)
	if err != nil {
		return zero, approval.Request{}, err
	}

	state = g.Decide(state, Decision{
		Approved:   true,
		ApproverID: approverID,
		Reason:     reason,
		DecidedAt:  time.Now().UTC(),
	})

	if _, err := g.Checkpoints.Save(ctx, sessionID, g.NodeID, state, map[string]any{
		store.MetaPhase: store.PhaseApproved,
		"approval_id":   decided.ID,
	}); err != nil {
		return zero, approval.Request{}, fmt.Errorf("failed to save approved checkpoint: %w", err)
	}

	if err := g.Sessions.UpdateStatus(ctx, sessionID, session.StatusApproved); err != nil {
		return zero, approval.Request{}, fmt.Errorf("failed to update session status: %w", err)
	}
	return state, decided, nil
}

// Reject records a human rejection. The rejected checkpoint is written for
// the audit trail; no resume follows.
func (g *Gate[S]) Reject(ctx context.Context, sessionID, approverID, reason string) (approval.Request, error) {
	pending, err := g.Approvals.PendingForSession(ctx, sessionID)
	if err != nil {
		return approval.Request{}, err
	}

	decided, err := g.Approvals.Reject(ctx, pending.ID, approverID, reason)
	if err != nil {
		return approval.Request{}, err
	}

	state, err := g.restorePaused(ctx, sessionID)
	if err != nil {
		return approval.Request{}, err
	}

	state = g.Decide(state, Decision{
		Approved:   false,
		ApproverID: approverID,
		Reason:     reason,
		DecidedAt:  time.Now().UTC(),
	})

	if _, err := g.Checkpoints.Save(ctx, sessionID, g.NodeID, state, map[string]any{
		store.MetaPhase: store.PhaseRejected,
		"approval_id":   decided.ID,
	}); err != nil {
		return approval.Request{}, fmt.Errorf("failed to save rejected checkpoint: %w", err)
	}

	if err := g.Sessions.UpdateStatus(ctx, sessionID, session.StatusRejected); err != nil {
		return approval.Request{}, fmt.Errorf("failed to update session status: %w", err)
	}
	return decided, nil
}

// restorePaused loads and decodes the pause checkpoint state.
func (g *Gate[S]) restorePaused(ctx context.Context, sessionID string) (S, error) {
	var state S

	cp, err := g.Checkpoints.LoadLatest(ctx, sessionID)
	if err != nil {
		return state, fmt.Errorf("failed to load pause checkpoint: %w", err)
	}
	if cp.Phase() != store.PhasePause {
		return state, fmt.Errorf("%w: phase is %q", ErrNoPauseCheckpoint, cp.Phase())
	}
	if err := store.UnmarshalState(cp.State, &state); err != nil {
		return state, err
	}
	return state, nil
}
