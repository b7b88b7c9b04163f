package approval

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
	requests map[string]Request
	// order preserves creation sequence for per-session latest lookup.
	order []string
}

// NewMemStore creates a new in-memory approval store.
func NewMemStore() *MemStore {
	return &MemStore{requests: make(map[string]Request)}
}

// Create registers a pending request.
func (m *MemStore) Create(_ context.Context, req Request) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		existing := m.requests[id]
		if existing.SessionID == req.SessionID && existing.Status == StatusPending {
			return Request{}, fmt.Errorf("%w: session %s has a pending request", ErrConflict, req.SessionID)
		}
	}

	req.ID = uuid.NewString()
	req.Status = StatusPending
	req.RequestedAt = time.Now().UTC()
	req.ApprovedAt = nil

	m.requests[req.ID] = copyRequest(req)
	m.order = append(m.order, req.ID)
	return copyRequest(req), nil
}

// Get returns the request, or ErrNotFound.
func (m *MemStore) Get(_ context.Context, approvalID string) (Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[approvalID]
	if !ok {
		return Request{}, ErrNotFound
	}
	return copyRequest(req), nil
}

// Approve moves a pending request to approved. The reason travels with
// the workflow decision, not the audit record; RejectionReason is set
// only on reject.
func (m *MemStore) Approve(_ context.Context, approvalID, approverID, _ string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[approvalID]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.Status == StatusApproved {
		return copyRequest(req), nil
	}
	if req.Decided() {
		return Request{}, fmt.Errorf("%w: status is %s", ErrConflict, req.Status)
	}

	now := time.Now().UTC()
	req.Status = StatusApproved
	req.ApproverID = approverID
	req.ApprovedAt = &now
	m.requests[approvalID] = copyRequest(req)
	return copyRequest(req), nil
}

// Reject moves a pending request to rejected.
func (m *MemStore) Reject(_ context.Context, approvalID, approverID, reason string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[approvalID]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.Decided() {
		return Request{}, fmt.Errorf("%w: status is %s", ErrConflict, req.Status)
	}

	now := time.Now().UTC()
	req.Status = StatusRejected
	req.ApproverID = approverID
	req.RejectionReason = reason
	req.ApprovedAt = &now
	m.requests[approvalID] = copyRequest(req)
	return copyRequest(req), nil
}

// ListPending returns all pending requests, oldest first.
func (m *MemStore) ListPending(_ context.Context) ([]Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Request
	for _, id := range m.order {
		if req := m.requests[id]; req.Status == StatusPending {
			out = append(out, copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

// PendingForSession returns the session's pending request.
func (m *MemStore) PendingForSession(_ context.Context, sessionID string) (Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		req := m.requests[id]
		if req.SessionID == sessionID && req.Status == StatusPending {
			return copyRequest(req), nil
		}
	}
	return Request{}, ErrNotFound
}

// LatestForSession returns the session's most recent request.
func (m *MemStore) LatestForSession(_ context.Context, sessionID string) (Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		if req := m.requests[m.order[i]]; req.SessionID == sessionID {
			return copyRequest(req), nil
		}
	}
	return Request{}, ErrNotFound
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }

func copyRequest(req Request) Request {
	if req.RequestData != nil {
		req.RequestData = append(json.RawMessage(nil), req.RequestData...)
	}
	if req.ApprovedAt != nil {
		t := *req.ApprovedAt
		req.ApprovedAt = &t
	}
	return req
}
