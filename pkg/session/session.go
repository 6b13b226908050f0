package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/pkg/chat"
)

// Session is one game: an immutable world and player description plus
// the append-only history owned by the store.
type Session struct {
	ID                uuid.UUID  `json:"id"`
	WorldDescription  string     `json:"world_description"`
	PlayerDescription string     `json:"player_description"`
	Language          string     `json:"language"`
	InitialMessage    string     `json:"initial_message,omitempty"` // shown to the player before the first turn
	CreatedAt         time.Time  `json:"created_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
}

// New builds a session with a fresh ID.
func New(world, player, lang, initialMessage string) *Session {
	return &Session{
		ID:                uuid.New(),
		WorldDescription:  world,
		PlayerDescription: player,
		Language:          lang,
		InitialMessage:    initialMessage,
		CreatedAt:         time.Now().UTC(),
	}
}

func (s *Session) Validate() error {
	if s.ID == uuid.Nil {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(s.WorldDescription) == "" {
		return fmt.Errorf("world description is required")
	}
	if strings.TrimSpace(s.PlayerDescription) == "" {
		return fmt.Errorf("player description is required")
	}
	return nil
}

// IsEnded reports whether the player character has died.
func (s *Session) IsEnded() bool {
	return s.EndedAt != nil
}

// AgentKind names one of the cooperating generators. Each kind has its own
// audit stream.
type AgentKind string

const (
	AgentGameMaster AgentKind = "game_master"
	AgentNarrator   AgentKind = "narrator"
	AgentDialogue   AgentKind = "dialogue"
)

func (k AgentKind) Valid() bool {
	switch k {
	case AgentGameMaster, AgentNarrator, AgentDialogue:
		return true
	}
	return false
}

// Purpose labels why an audit record was written.
type Purpose string

const (
	PurposeRules        Purpose = "rules"
	PurposeWorld        Purpose = "world"
	PurposePlayer       Purpose = "player"
	PurposeInstruction  Purpose = "instruction"
	PurposeCorrection   Purpose = "correction"
	PurposeNote         Purpose = "note"
	PurposeStyle        Purpose = "style"
	PurposeNarration    Purpose = "narration"
	PurposeSegmentation Purpose = "segmentation"
)

// AuditRecord is one request/response pair exactly as it entered an agent's
// context. Notes appended without a generation call have no Response.
type AuditRecord struct {
	ID        int64             `json:"id,omitempty"`
	Agent     AgentKind         `json:"agent"`
	Purpose   Purpose           `json:"purpose"`
	Sequence  int               `json:"sequence"` // 0 for bootstrap records
	Request   chat.ChatMessage  `json:"request"`
	Response  *chat.ChatMessage `json:"response,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Messages returns the context messages this record contributes, in order.
func (r AuditRecord) Messages() []chat.ChatMessage {
	msgs := []chat.ChatMessage{r.Request}
	if r.Response != nil {
		msgs = append(msgs, *r.Response)
	}
	return msgs
}
