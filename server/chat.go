package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dshills/bankflow/banking"
	"github.com/dshills/bankflow/graph/store"
	"github.com/dshills/bankflow/hil"
	"github.com/dshills/bankflow/session"
)

type chatRequest struct {
	// Message is a pointer so an absent field can be told apart from an
	// empty message; the empty string is a valid (fallback) turn.
	Message   *string `json:"message"`
	SessionID string  `json:"session_id"`
	UserID    string  `json:"user_id"`
}

// chatEnvelope is the /chat response. Status is set only on pause.
type chatEnvelope struct {
	Reply            *banking.Response `json:"reply"`
	SessionID        string            `json:"session_id"`
	Status           string            `json:"status,omitempty"`
	ExecutionHistory []string          `json:"execution_history,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == nil {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.UserID == "" {
		req.UserID = defaultUser
	}

	ctx := r.Context()

	var sess session.Session
	if req.SessionID == "" {
		created, err := s.sessions.Create(ctx, req.UserID, banking.WorkflowType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		sess = created
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = sess.ID
	}

	lock := s.lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	// A repeated identical message inside the dedup window is a client
	// retry; replay the stored envelope so the downstream side effect
	// happens at most once. Rejected, failed, and timed-out sessions
	// re-execute: the stored envelope no longer reflects the outcome.
	if last, ok := sess.LastUserMessage(); ok &&
		last.Content == *req.Message &&
		time.Since(last.Timestamp) < s.dedup &&
		len(sess.LastResponse) > 0 &&
		replayable(sess.Status) {
		writeRaw(w, http.StatusOK, sess.LastResponse)
		return
	}

	if err := sess.BeginTurn(); err != nil {
		if errors.Is(err, session.ErrPendingApproval) {
			writeError(w, http.StatusConflict, "session is awaiting approval")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.sessions.Update(ctx, sess); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update session")
		return
	}

	if err := s.sessions.AppendMessage(ctx, sessionID, session.Message{
		Role:      session.RoleUser,
		Content:   *req.Message,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record message")
		return
	}

	state := s.seedState(ctx, sessionID, *req.Message, sess.UserID)

	final, err := s.workflow.Run(ctx, sessionID, state)
	if err != nil {
		_ = s.sessions.UpdateStatus(ctx, sessionID, session.StatusFailed)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	env := chatEnvelope{Reply: final.Response, SessionID: sessionID}
	if final.Response != nil && final.Response.Status == hil.StatusPendingApproval {
		env.Status = hil.StatusPendingApproval
	} else {
		env.ExecutionHistory = final.ExecutionHistory
	}

	s.finishTurn(ctx, sessionID, final, env)
	writeJSON(w, http.StatusOK, env)
}

func replayable(status session.Status) bool {
	switch status {
	case session.StatusActive, session.StatusPendingApproval, session.StatusCompleted:
		return true
	}
	return false
}

// seedState builds the state for a new turn. When the previous turn ended
// waiting for a missing transfer slot, its partial request is carried
// forward from the latest checkpoint.
func (s *Server) seedState(ctx context.Context, sessionID, message, userID string) banking.State {
	state := banking.State{Message: message, UserID: userID}

	cp, err := s.workflow.Checkpoints().LoadLatest(ctx, sessionID)
	if err != nil {
		return state
	}
	var prev banking.State
	if err := store.UnmarshalState(cp.State, &prev); err != nil {
		return state
	}
	if prev.AwaitingCompletion {
		state.ContextAmount = prev.ContextAmount
		state.ContextRecipient = prev.ContextRecipient
		state.FromAccount = prev.FromAccount
	}
	return state
}

// finishTurn records the turn outcome on the session: last response,
// current node, assistant history entry, and the terminal status. Pause
// turns keep pending_approval (the gate already moved the session);
// clarification turns stay active.
func (s *Server) finishTurn(ctx context.Context, sessionID string, final banking.State, env chatEnvelope) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return
	}

	if raw, err := json.Marshal(env); err == nil {
		sess.LastResponse = raw
	}
	if n := len(final.ExecutionHistory); n > 0 {
		sess.CurrentNode = final.ExecutionHistory[n-1]
	}
	_ = s.sessions.Update(ctx, sess)

	if final.Response != nil {
		_ = s.sessions.AppendMessage(ctx, sessionID, session.Message{
			Role:      session.RoleAssistant,
			Content:   assistantContent(final.Response),
			Timestamp: time.Now().UTC(),
		})
	}

	if final.Response == nil || (final.Response.Status != hil.StatusPendingApproval &&
		final.Response.Status != banking.StatusAwaitingInfo) {
		_ = s.sessions.UpdateStatus(ctx, sessionID, session.StatusCompleted)
	}
}

// assistantContent flattens a response into a history line.
func assistantContent(resp *banking.Response) string {
	if resp.Message != "" {
		return resp.Message
	}
	if len(resp.Data) > 0 {
		return string(resp.Data)
	}
	return resp.Status
}
