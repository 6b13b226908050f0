package services

import (
	"context"
	"strings"

	"github.com/jwebster45206/gm-engine/pkg/chat"
)

// LLMService defines the interface for interacting with a text completion API.
// Implementations are stateless: the caller passes the whole context on
// every call.
type LLMService interface {
	// InitModel prepares the model on startup
	InitModel(ctx context.Context, modelName string) error

	// Chat generates the next assistant message for the given context
	Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error)
}

// splitSystemPrompt turns an agent context into the system-prompt plus
// conversation shape most chat APIs expect. The leading run of system
// messages becomes the system prompt, except that a system message answered
// directly by the assistant stays in the conversation as a user turn. Later
// system notes are sent as user turns and consecutive turns of the same role
// are merged.
func splitSystemPrompt(messages []chat.ChatMessage) (string, []chat.ChatMessage) {
	lead := 0
	for lead < len(messages) && messages[lead].Role == chat.ChatRoleSystem {
		lead++
	}
	if lead > 0 && lead < len(messages) && messages[lead].Role == chat.ChatRoleAgent {
		lead--
	}

	var systemParts []string
	for _, msg := range messages[:lead] {
		systemParts = append(systemParts, msg.Content)
	}

	var conversation []chat.ChatMessage
	for _, msg := range messages[lead:] {
		role := msg.Role
		if role == chat.ChatRoleSystem {
			role = chat.ChatRoleUser
		}
		if n := len(conversation); n > 0 && conversation[n-1].Role == role {
			conversation[n-1].Content += "\n\n" + msg.Content
			continue
		}
		conversation = append(conversation, chat.ChatMessage{Role: role, Content: msg.Content})
	}

	return strings.Join(systemParts, "\n\n"), conversation
}
