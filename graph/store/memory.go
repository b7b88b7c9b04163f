package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for:
//   - Unit tests (no setup, no teardown)
//   - Prototyping workflows before choosing a durable backend
//
// All data is lost when the process exits. Safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string][]Checkpoint
	lastTime time.Time
}

// NewMemStore creates a new in-memory checkpoint store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string][]Checkpoint),
	}
}

// Save appends a checkpoint for the session.
func (m *MemStore) Save(_ context.Context, sessionID, nodeID string, state any, metadata map[string]any) (string, error) {
	stateJSON, _, err := marshalState(state, metadata)
	if err != nil {
		return "", err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := Checkpoint{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		NodeID:    nodeID,
		State:     stateJSON,
		Metadata:  metadata,
		CreatedAt: m.nextTimestamp(),
	}
	m.sessions[sessionID] = append(m.sessions[sessionID], cp)
	return cp.ID, nil
}

// nextTimestamp returns a timestamp strictly greater than any previously
// issued one. Callers must hold m.mu.
func (m *MemStore) nextTimestamp() time.Time {
	now := time.Now().UTC()
	if !now.After(m.lastTime) {
		now = m.lastTime.Add(time.Nanosecond)
	}
	m.lastTime = now
	return now
}

// LoadLatest returns the most recent checkpoint for the session.
func (m *MemStore) LoadLatest(_ context.Context, sessionID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.sessions[sessionID]
	if len(log) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	return log[len(log)-1], nil
}

// List returns all checkpoints for the session in chronological order.
func (m *MemStore) List(_ context.Context, sessionID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.sessions[sessionID]
	out := make([]Checkpoint, len(log))
	copy(out, log)
	return out, nil
}

// Clear removes all checkpoints for the session.
func (m *MemStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
