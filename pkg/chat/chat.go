package chat

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	ChatRoleUser   = "user"      // Player or engine prompt
	ChatRoleAgent  = "assistant" // Model output
	ChatRoleSystem = "system"    // Instructions and context notes
)

// ChatMessage represents a single role-tagged message in an agent's context.
// This is the shape every LLM provider receives.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatResponse is the text produced by one generation call.
type ChatResponse struct {
	Message string `json:"message"`
}

// TurnRequest is a player's action submitted to a session.
type TurnRequest struct {
	SessionID uuid.UUID `json:"session_id"`
	Message   string    `json:"message"`
	Async     bool      `json:"async,omitempty"` // queue for a worker instead of running inline
}

// TurnResponse is returned to the player once a turn has been committed.
type TurnResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Sequence  int       `json:"sequence,omitempty"`
	Message   string    `json:"message,omitempty"`
	Ended     bool      `json:"ended,omitempty"`
	RequestID string    `json:"request_id,omitempty"` // set when the turn was queued
	Error     string    `json:"error,omitempty"`
}

func (tr *TurnRequest) Validate() error {
	if tr.SessionID == uuid.Nil {
		return fmt.Errorf("session_id is required")
	}
	if strings.TrimSpace(tr.Message) == "" {
		return fmt.Errorf("message cannot be empty")
	}
	return nil
}

// IsValidRole reports whether role is one of the three chat roles.
func IsValidRole(role string) bool {
	switch role {
	case ChatRoleUser, ChatRoleAgent, ChatRoleSystem:
		return true
	}
	return false
}
