// Package store provides the durable per-session checkpoint log.
//
// A checkpoint is an immutable snapshot of workflow state taken at a node
// boundary. Records are append-only: Save never overwrites, and within a
// session created_at is strictly increasing, so LoadLatest is well defined.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a session has no checkpoints.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint metadata phases. The engine writes start/end around each node;
// the approval gate writes pause, approved, and rejected records.
const (
	PhaseStart    = "start"
	PhaseEnd      = "end"
	PhasePause    = "pause"
	PhaseApproved = "approved"
	PhaseRejected = "rejected"
)

// MetaPhase is the metadata key carrying the checkpoint phase.
const MetaPhase = "phase"

// Checkpoint is a single record in a session's checkpoint log.
type Checkpoint struct {
	// ID uniquely identifies this record (UUID).
	ID string `json:"checkpoint_id"`

	// SessionID identifies the session this record belongs to.
	SessionID string `json:"session_id"`

	// NodeID is the node at whose boundary the snapshot was taken.
	NodeID string `json:"node_id"`

	// State is the serialized workflow state. New records store the raw
	// state object; UnmarshalState also accepts the historical session
	// envelope whose workflow_state field holds the raw state.
	State json.RawMessage `json:"state"`

	// Metadata is free-form; MetaPhase is the one recognized key.
	Metadata map[string]any `json:"metadata"`

	// CreatedAt is server-assigned and strictly increasing per session.
	CreatedAt time.Time `json:"created_at"`
}

// Phase returns the checkpoint's phase metadata, or "" if absent.
func (c Checkpoint) Phase() string {
	if p, ok := c.Metadata[MetaPhase].(string); ok {
		return p
	}
	return ""
}

// Store persists per-session checkpoint logs.
//
// Implementations must be safe for concurrent use. Provided backends:
//   - MemStore: in-process, for tests
//   - SQLiteStore: embedded single-file database
//   - MySQLStore: shared relational database
//   - RedisStore: shared cache for multi-replica deployments
type Store interface {
	// Save appends a new checkpoint with a server-assigned id and
	// created_at. The state is serialized as JSON. Never overwrites.
	Save(ctx context.Context, sessionID, nodeID string, state any, metadata map[string]any) (string, error)

	// LoadLatest returns the record with the largest created_at for the
	// session, or ErrNotFound if the session has none.
	LoadLatest(ctx context.Context, sessionID string) (Checkpoint, error)

	// List returns all records for the session in chronological order.
	List(ctx context.Context, sessionID string) ([]Checkpoint, error)

	// Clear removes all records for a session. Admin tooling only; the
	// engine never calls it.
	Clear(ctx context.Context, sessionID string) error

	// Close releases backend resources.
	Close() error
}

// UnmarshalState decodes a checkpointed state into out, handling both the
// raw workflow state layout and the historical session envelope layout
// where the raw state sits under a workflow_state field.
func UnmarshalState(raw json.RawMessage, out any) error {
	var envelope struct {
		WorkflowState json.RawMessage `json:"workflow_state"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.WorkflowState) > 0 && string(envelope.WorkflowState) != "null" {
		raw = envelope.WorkflowState
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode checkpoint state: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the SQL backends.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCheckpoint reads one (checkpoint_id, node_id, state, metadata,
// created_at) row. timeLayout matches the backend's created_at encoding.
func scanCheckpoint(row rowScanner, sessionID, timeLayout string) (Checkpoint, error) {
	var (
		cp        Checkpoint
		stateStr  string
		metaStr   string
		createdAt string
	)
	if err := row.Scan(&cp.ID, &cp.NodeID, &stateStr, &metaStr, &createdAt); err != nil {
		return Checkpoint{}, err
	}
	cp.SessionID = sessionID
	cp.State = json.RawMessage(stateStr)
	if err := json.Unmarshal([]byte(metaStr), &cp.Metadata); err != nil {
		return Checkpoint{}, fmt.Errorf("corrupt checkpoint metadata: %w", err)
	}
	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("corrupt checkpoint timestamp: %w", err)
	}
	cp.CreatedAt = ts
	return cp, nil
}

// marshalState serializes state and metadata for persistence. Shared by all
// backends so every backend stores the same self-describing encoding.
func marshalState(state any, metadata map[string]any) (stateJSON, metaJSON []byte, err error) {
	stateJSON, err = json.Marshal(state)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err = json.Marshal(metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return stateJSON, metaJSON, nil
}
