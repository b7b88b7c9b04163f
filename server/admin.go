package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	checkpoints, err := s.workflow.Checkpoints().List(ctx, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list checkpoints")
		return
	}

	var workflowState json.RawMessage
	if n := len(checkpoints); n > 0 {
		workflowState = checkpoints[n-1].State
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":           sess.ID,
		"user_id":              sess.UserID,
		"status":               sess.Status,
		"current_node":         sess.CurrentNode,
		"execution_count":      sess.ExecutionCount,
		"checkpoints":          len(checkpoints),
		"conversation_history": sess.ConversationHistory,
		"workflow_state":       workflowState,
	})
}

// checkpointSummary is the introspection view of one record; the state
// itself stays out of the listing.
type checkpointSummary struct {
	CheckpointID string    `json:"checkpoint_id"`
	NodeID       string    `json:"node_id"`
	Phase        string    `json:"phase"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	checkpoints, err := s.workflow.Checkpoints().List(ctx, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list checkpoints")
		return
	}

	summaries := make([]checkpointSummary, 0, len(checkpoints))
	for _, cp := range checkpoints {
		summaries = append(summaries, checkpointSummary{
			CheckpointID: cp.ID,
			NodeID:       cp.NodeID,
			Phase:        cp.Phase(),
			CreatedAt:    cp.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID,
		"checkpoints": summaries,
		"count":       len(summaries),
	})
}

// handleDelete removes the session record and clears its checkpoint log.
// Admin tooling only; nothing in the engine deletes state.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	lock := s.lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := s.workflow.Checkpoints().Clear(ctx, sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear checkpoints")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "deleted",
		"session_id": sessionID,
	})
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.approvals.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list approvals")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"count":   len(pending),
	})
}

// sessionSummary is the listing view; history and last response stay out.
type sessionSummary struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	WorkflowType   string    `json:"workflow_type"`
	Status         string    `json:"status"`
	ExecutionCount int       `json:"execution_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	sessions, err := s.sessions.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, sessionSummary{
			SessionID:      sess.ID,
			UserID:         sess.UserID,
			WorkflowType:   sess.WorkflowType,
			Status:         string(sess.Status),
			ExecutionCount: sess.ExecutionCount,
			CreatedAt:      sess.CreatedAt,
			UpdatedAt:      sess.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": summaries,
		"count":    len(summaries),
	})
}
