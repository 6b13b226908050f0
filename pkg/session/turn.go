package session

import (
	"fmt"
	"time"
)

// Turn is one committed cycle from player input to rendered output.
type Turn struct {
	Sequence           int       `json:"sequence"` // 1-based, contiguous per session
	UserInput          string    `json:"user_input"`
	MasterOutput       string    `json:"master_output"` // raw command batch from the game master
	Narrative          string    `json:"narrative"`     // renderer output as generated, markup included
	Display            string    `json:"display"`       // what the player saw
	ActiveCharacterIDs []int64   `json:"active_character_ids,omitempty"`
	Ended              bool      `json:"ended,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// TurnCommit bundles everything a successful turn writes. Stores apply it
// atomically so a failed turn leaves no partial state behind.
type TurnCommit struct {
	Turn Turn
	// NewCharacters are created in order before the turn is written; the
	// store assigns their IDs.
	NewCharacters []Character
	// ActiveNames are resolved to character IDs under Turn.Sequence.
	ActiveNames []string
}

// ArtifactKey derives the name of any per-turn artifact (audio, images)
// from the authoritative turn sequence.
func ArtifactKey(sequence int) string {
	return fmt.Sprintf("turn-%04d", sequence)
}
