package session

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidTransition is returned when UpdateStatus would violate
	// the lifecycle machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPendingApproval is returned when a new turn arrives while the
	// session awaits an approval decision.
	ErrPendingApproval = errors.New("session is awaiting approval")
)

// Store persists session records.
//
// Implementations must be safe for concurrent use. Provided backends:
//   - MemStore: in-process, for tests
//   - SQLiteStore: embedded single-file database
type Store interface {
	// Create registers a new session with a server-assigned id, status
	// active, and timestamps set.
	Create(ctx context.Context, userID, workflowType string) (Session, error)

	// Get returns the session, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (Session, error)

	// Update writes the full record and stamps UpdatedAt. The session
	// must exist. Status is written as given; use UpdateStatus when the
	// transition must be validated.
	Update(ctx context.Context, s Session) error

	// UpdateStatus moves the session through the lifecycle machine,
	// returning ErrInvalidTransition when the move is not permitted.
	UpdateStatus(ctx context.Context, sessionID string, status Status) error

	// AppendMessage adds one history entry and stamps UpdatedAt.
	AppendMessage(ctx context.Context, sessionID string, msg Message) error

	// ListByUser returns all sessions for the user, newest first.
	ListByUser(ctx context.Context, userID string) ([]Session, error)

	// Delete removes the session record. Admin tooling only.
	Delete(ctx context.Context, sessionID string) error

	// Close releases backend resources.
	Close() error
}
