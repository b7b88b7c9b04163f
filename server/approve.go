package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dshills/bankflow/approval"
	"github.com/dshills/bankflow/session"
)

type approveRequest struct {
	ApproverID string `json:"approver_id"`
	Approved   *bool  `json:"approved"`
	Reason     string `json:"reason"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Approved == nil {
		writeError(w, http.StatusBadRequest, "approved is required")
		return
	}
	if req.ApproverID == "" {
		writeError(w, http.StatusBadRequest, "approver_id is required")
		return
	}

	ctx := r.Context()

	lock := s.lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.Status != session.StatusPendingApproval {
		writeError(w, http.StatusConflict, "session is not awaiting approval")
		return
	}

	if !*req.Approved {
		decided, err := s.workflow.Reject(ctx, sessionID, req.ApproverID, req.Reason)
		if err != nil {
			writeDecisionError(w, err)
			return
		}
		s.recordDecision(ctx, sessionID, "rejected", req.ApproverID, req.Reason)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "rejected",
			"session_id":  sessionID,
			"reason":      decided.RejectionReason,
			"rejected_by": decided.ApproverID,
		})
		return
	}

	final, decided, err := s.workflow.Approve(ctx, sessionID, req.ApproverID, req.Reason)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) || errors.Is(err, approval.ErrConflict) {
			writeDecisionError(w, err)
			return
		}
		// Resume failed after the approval was recorded.
		_ = s.sessions.UpdateStatus(ctx, sessionID, session.StatusFailed)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.recordDecision(ctx, sessionID, "approved", req.ApproverID, req.Reason)
	s.finishTurn(ctx, sessionID, final, chatEnvelope{Reply: final.Response, SessionID: sessionID})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "approved",
		"session_id":  sessionID,
		"result":      final.Response,
		"approved_by": decided.ApproverID,
	})
}

func writeDecisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		writeError(w, http.StatusNotFound, "no pending approval for session")
	case errors.Is(err, approval.ErrConflict):
		writeError(w, http.StatusConflict, "approval request already decided")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// recordDecision appends the audit entry to the conversation history.
func (s *Server) recordDecision(ctx context.Context, sessionID, verdict, approverID, reason string) {
	meta := map[string]any{"approver_id": approverID}
	if reason != "" {
		meta["reason"] = reason
	}
	_ = s.sessions.AppendMessage(ctx, sessionID, session.Message{
		Role:      session.RoleSystem,
		Content:   "transfer " + verdict + " by " + approverID,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	})
}
