// Package agent keeps the running context of one generator within a
// session and journals every message that enters it.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/services"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/session"
)

// Journal receives one audit record per context change.
type Journal interface {
	AppendAudit(ctx context.Context, id uuid.UUID, rec *session.AuditRecord) error
}

// Agent is a stateful conversation with a stateless LLMService. Its
// context is only ever extended, and only after the journal accepted the
// matching record.
type Agent struct {
	kind      session.AgentKind
	sessionID uuid.UUID
	llm       services.LLMService
	journal   Journal
	logger    *slog.Logger

	mu      sync.Mutex
	history []chat.ChatMessage
}

func New(kind session.AgentKind, sessionID uuid.UUID, llm services.LLMService, journal Journal, logger *slog.Logger) *Agent {
	return &Agent{
		kind:      kind,
		sessionID: sessionID,
		llm:       llm,
		journal:   journal,
		logger:    logger.With("agent", string(kind), "session_id", sessionID.String()),
	}
}

func (a *Agent) Kind() session.AgentKind {
	return a.kind
}

// Generate sends msg on top of the current context and returns the reply.
// On any failure the context and journal are left as they were.
func (a *Agent) Generate(ctx context.Context, sequence int, purpose session.Purpose, msg chat.ChatMessage) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	messages := make([]chat.ChatMessage, len(a.history), len(a.history)+1)
	copy(messages, a.history)
	messages = append(messages, msg)

	a.logger.Debug("Generating", "sequence", sequence, "purpose", purpose, "context_size", len(messages))
	resp, err := a.llm.Chat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%s generation failed: %w", a.kind, err)
	}

	reply := chat.ChatMessage{Role: chat.ChatRoleAgent, Content: resp.Message}
	if err := a.record(ctx, sequence, purpose, msg, &reply); err != nil {
		return "", err
	}
	a.history = append(a.history, msg, reply)
	return resp.Message, nil
}

// Exchange appends msg and a fixed reply without calling the model. It
// primes the context with instructions the model is expected to accept.
func (a *Agent) Exchange(ctx context.Context, sequence int, purpose session.Purpose, msg chat.ChatMessage, reply string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	resp := chat.ChatMessage{Role: chat.ChatRoleAgent, Content: reply}
	if err := a.record(ctx, sequence, purpose, msg, &resp); err != nil {
		return err
	}
	a.history = append(a.history, msg, resp)
	return nil
}

// AddSystem appends a system note without generation.
func (a *Agent) AddSystem(ctx context.Context, sequence int, purpose session.Purpose, content string) error {
	return a.add(ctx, sequence, purpose, chat.ChatMessage{Role: chat.ChatRoleSystem, Content: content})
}

// AddUser appends a user message without generation.
func (a *Agent) AddUser(ctx context.Context, sequence int, purpose session.Purpose, content string) error {
	return a.add(ctx, sequence, purpose, chat.ChatMessage{Role: chat.ChatRoleUser, Content: content})
}

// AddAI appends an assistant message without generation.
func (a *Agent) AddAI(ctx context.Context, sequence int, purpose session.Purpose, content string) error {
	return a.add(ctx, sequence, purpose, chat.ChatMessage{Role: chat.ChatRoleAgent, Content: content})
}

func (a *Agent) add(ctx context.Context, sequence int, purpose session.Purpose, msg chat.ChatMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(ctx, sequence, purpose, msg, nil); err != nil {
		return err
	}
	a.history = append(a.history, msg)
	return nil
}

func (a *Agent) record(ctx context.Context, sequence int, purpose session.Purpose, req chat.ChatMessage, resp *chat.ChatMessage) error {
	rec := &session.AuditRecord{
		Agent:    a.kind,
		Purpose:  purpose,
		Sequence: sequence,
		Request:  req,
		Response: resp,
	}
	if err := a.journal.AppendAudit(ctx, a.sessionID, rec); err != nil {
		a.logger.Error("Failed to journal agent message", "sequence", sequence, "purpose", purpose, "error", err)
		return fmt.Errorf("failed to journal %s message: %w", a.kind, err)
	}
	return nil
}

// Replay rebuilds the context from persisted audit records, in order,
// without calling the model or the journal.
func (a *Agent) Replay(records []session.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rec := range records {
		if rec.Agent != a.kind {
			return fmt.Errorf("cannot replay %s record %d into %s agent", rec.Agent, rec.ID, a.kind)
		}
		a.history = append(a.history, rec.Messages()...)
	}
	a.logger.Debug("Context replayed", "records", len(records), "context_size", len(a.history))
	return nil
}

// History returns a copy of the current context.
func (a *Agent) History() []chat.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]chat.ChatMessage, len(a.history))
	copy(out, a.history)
	return out
}

// Primed reports whether the context holds anything yet.
func (a *Agent) Primed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history) > 0
}
