// Package approval persists human approval requests and their decisions.
//
// A request is created when the approval gate pauses a workflow and is
// decided exactly once: pending is the only mutable status, and every
// transition out of it is terminal.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the approval request state.
type Status string

// Approval status values. Pending is the only non-terminal status.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimeout  Status = "timeout"
)

// Store errors.
var (
	// ErrNotFound is returned when an approval request does not exist.
	ErrNotFound = errors.New("approval request not found")

	// ErrConflict is returned when a transition targets a request that
	// is no longer pending.
	ErrConflict = errors.New("approval request already decided")
)

// Request is an approval record with its audit fields.
type Request struct {
	ID           string `json:"approval_id"`
	SessionID    string `json:"session_id"`
	WorkflowType string `json:"workflow_type"`

	// RequestData is the prepared operation payload at pause time, kept
	// for audit and display.
	RequestData json.RawMessage `json:"request_data,omitempty"`

	Status    Status  `json:"status"`
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`

	// TimeoutSeconds is advisory; an external sweeper may use it to move
	// stale requests to timeout. The store never enforces it.
	TimeoutSeconds int `json:"timeout_seconds"`

	RequestedAt time.Time `json:"requested_at"`

	// ApprovedAt is stamped on every decision, approve or reject.
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApproverID      string     `json:"approver_id,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// Decided reports whether the request has left pending.
func (r Request) Decided() bool {
	return r.Status != StatusPending
}

// Store persists approval requests.
//
// Implementations must be safe for concurrent use and must keep at most
// one pending request per session at a time.
type Store interface {
	// Create registers a pending request with a server-assigned id and
	// requested_at. Fails with ErrConflict when the session already has
	// a pending request.
	Create(ctx context.Context, req Request) (Request, error)

	// Get returns the request, or ErrNotFound.
	Get(ctx context.Context, approvalID string) (Request, error)

	// Approve moves a pending request to approved. Replaying approve on
	// an already-approved record returns it unchanged; any other decided
	// status fails with ErrConflict.
	Approve(ctx context.Context, approvalID, approverID, reason string) (Request, error)

	// Reject moves a pending request to rejected, recording the reason.
	// Any already-decided status fails with ErrConflict.
	Reject(ctx context.Context, approvalID, approverID, reason string) (Request, error)

	// ListPending returns all pending requests, oldest first.
	ListPending(ctx context.Context) ([]Request, error)

	// PendingForSession returns the session's pending request, or
	// ErrNotFound.
	PendingForSession(ctx context.Context, sessionID string) (Request, error)

	// LatestForSession returns the session's most recent request in any
	// status, or ErrNotFound. Used for idempotent decision replay.
	LatestForSession(ctx context.Context, sessionID string) (Request, error)

	// Close releases backend resources.
	Close() error
}
