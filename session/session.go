// Package session provides the per-conversation container: lifecycle
// status, conversation history, and idempotency counters.
package session

import (
	"encoding/json"
	"time"
)

// Status is the session lifecycle state.
type Status string

// Session status values.
const (
	StatusActive          Status = "active"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusTimeout         Status = "timeout"
)

// transitions is the lifecycle machine. Absent keys are terminal.
var transitions = map[Status][]Status{
	StatusActive:          {StatusPendingApproval, StatusCompleted, StatusFailed},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusTimeout},
	StatusApproved:        {StatusCompleted, StatusFailed},
}

// CanTransition reports whether the lifecycle machine permits moving from
// one status to another within a turn.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the current exchange. Terminal
// sessions still accept new chat turns (the conversation continues); only
// pending_approval blocks new turns.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Conversation message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry in a session's conversation history.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session is the per-conversation record. It is created on the first chat
// turn, mutated by the facade and the approval gate, and never deleted by
// the engine (admin cleanup only).
type Session struct {
	ID           string `json:"session_id"`
	UserID       string `json:"user_id"`
	WorkflowType string `json:"workflow_type"`
	Status       Status `json:"status"`

	// CurrentNode is the most recently entered graph node.
	CurrentNode string `json:"current_node"`

	// ExecutionCount increments on each accepted chat turn (not on
	// resume). It anchors duplicate-message detection.
	ExecutionCount int `json:"execution_count"`

	ConversationHistory []Message `json:"conversation_history"`

	// LastResponse is the envelope returned by the most recent turn,
	// replayed verbatim when a duplicate message is detected.
	LastResponse json.RawMessage `json:"last_response,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeginTurn prepares the session for a new chat turn: a pending approval
// blocks the turn, any other status re-activates the conversation.
func (s *Session) BeginTurn() error {
	if s.Status == StatusPendingApproval {
		return ErrPendingApproval
	}
	s.Status = StatusActive
	s.ExecutionCount++
	return nil
}

// LastUserMessage returns the most recent user-role history entry, or
// false if there is none.
func (s *Session) LastUserMessage() (Message, bool) {
	for i := len(s.ConversationHistory) - 1; i >= 0; i-- {
		if s.ConversationHistory[i].Role == RoleUser {
			return s.ConversationHistory[i], true
		}
	}
	return Message{}, false
}
