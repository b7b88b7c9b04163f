package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory implementation of Store. All data is lost when
// the process exits. Safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemStore creates a new in-memory session store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]Session)}
}

// Create registers a new active session.
func (m *MemStore) Create(_ context.Context, userID, workflowType string) (Session, error) {
	now := time.Now().UTC()
	s := Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		WorkflowType: workflowType,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return copySession(s), nil
}

// Get returns the session, or ErrNotFound.
func (m *MemStore) Get(_ context.Context, sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return copySession(s), nil
}

// Update writes the full record.
func (m *MemStore) Update(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	s.CreatedAt = stored.CreatedAt
	s.UpdatedAt = time.Now().UTC()
	m.sessions[s.ID] = copySession(s)
	return nil
}

// UpdateStatus validates and applies a lifecycle transition.
func (m *MemStore) UpdateStatus(_ context.Context, sessionID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(s.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, status)
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	m.sessions[sessionID] = s
	return nil
}

// AppendMessage adds one history entry.
func (m *MemStore) AppendMessage(_ context.Context, sessionID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.ConversationHistory = append(s.ConversationHistory, msg)
	s.UpdatedAt = time.Now().UTC()
	m.sessions[sessionID] = s
	return nil
}

// ListByUser returns the user's sessions, newest first.
func (m *MemStore) ListByUser(_ context.Context, userID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the session record.
func (m *MemStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }

// copySession detaches the slices so callers cannot mutate stored records.
func copySession(s Session) Session {
	if s.ConversationHistory != nil {
		history := make([]Message, len(s.ConversationHistory))
		copy(history, s.ConversationHistory)
		s.ConversationHistory = history
	}
	if s.LastResponse != nil {
		s.LastResponse = append(json.RawMessage(nil), s.LastResponse...)
	}
	return s
}
