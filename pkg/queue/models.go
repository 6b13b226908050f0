package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestType identifies the type of request in the queue
type RequestType string

const (
	// RequestTypeTurn is a player action to run through the game master
	RequestTypeTurn RequestType = "turn"

	// RequestTypeSegments asks for speaker segmentation of a committed turn
	RequestTypeSegments RequestType = "segments"
)

// Request represents a unified request in the queue
type Request struct {
	RequestID string      `json:"request_id"`
	Type      RequestType `json:"type"`
	SessionID uuid.UUID   `json:"session_id"`

	// Turn-specific fields
	Message string `json:"message,omitempty"`

	// Segmentation-specific fields
	Sequence int `json:"sequence,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTurnRequest builds a queued turn with a fresh request id.
func NewTurnRequest(sessionID uuid.UUID, message string) *Request {
	return &Request{
		RequestID:  uuid.New().String(),
		Type:       RequestTypeTurn,
		SessionID:  sessionID,
		Message:    message,
		EnqueuedAt: time.Now().UTC(),
	}
}

// NewSegmentsRequest builds a queued segmentation request with a fresh request id.
func NewSegmentsRequest(sessionID uuid.UUID, sequence int) *Request {
	return &Request{
		RequestID:  uuid.New().String(),
		Type:       RequestTypeSegments,
		SessionID:  sessionID,
		Sequence:   sequence,
		EnqueuedAt: time.Now().UTC(),
	}
}

func (r *Request) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if r.SessionID == uuid.Nil {
		return fmt.Errorf("session_id is required")
	}
	switch r.Type {
	case RequestTypeTurn:
		if r.Message == "" {
			return fmt.Errorf("message is required for turn requests")
		}
	case RequestTypeSegments:
		if r.Sequence < 1 {
			return fmt.Errorf("sequence must be positive for segments requests")
		}
	default:
		return fmt.Errorf("unknown request type %q", r.Type)
	}
	return nil
}

// ToJSON converts the request to JSON bytes for Redis
func (r *Request) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a request from JSON bytes
func FromJSON(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
