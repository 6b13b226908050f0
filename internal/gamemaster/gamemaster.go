// Package gamemaster drives the command-emitting agent: it primes the
// session rules, turns player input into a validated command batch and
// keeps the agent informed of what the player saw.
package gamemaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/gm-engine/internal/agent"
	"github.com/jwebster45206/gm-engine/internal/retry"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/command"
	"github.com/jwebster45206/gm-engine/pkg/prompts"
	"github.com/jwebster45206/gm-engine/pkg/session"
)

// TooManyFormattingErrors labels the error of an exhausted correction loop.
const TooManyFormattingErrors = "too many formatting errors"

type GameMaster struct {
	agent  *agent.Agent
	policy retry.Policy
	logger *slog.Logger
}

// New wraps a game master agent. The first generation plus maxCorrections
// resubmissions are attempted, waiting delay before each resubmission.
func New(a *agent.Agent, maxCorrections int, delay time.Duration, logger *slog.Logger) *GameMaster {
	return &GameMaster{
		agent: a,
		policy: retry.Policy{
			MaxAttempts: maxCorrections + 1,
			Delay:       delay,
			Label:       TooManyFormattingErrors,
		},
		logger: logger,
	}
}

// WithSleep replaces the pause between corrections.
func (g *GameMaster) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *GameMaster {
	g.policy.Sleep = sleep
	return g
}

// Bootstrap primes a new session: the command rules, the world and the
// player character, each acknowledged.
func (g *GameMaster) Bootstrap(ctx context.Context, s *session.Session) error {
	steps := []struct {
		purpose session.Purpose
		msg     chat.ChatMessage
	}{
		{session.PurposeRules, chat.ChatMessage{Role: chat.ChatRoleSystem, Content: prompts.GameMasterStart}},
		{session.PurposeWorld, chat.ChatMessage{Role: chat.ChatRoleUser, Content: prompts.WorldPrompt(s.WorldDescription)}},
		{session.PurposePlayer, chat.ChatMessage{Role: chat.ChatRoleUser, Content: prompts.PlayerPrompt(s.PlayerDescription)}},
	}
	for _, step := range steps {
		if err := g.agent.Exchange(ctx, 0, step.purpose, step.msg, prompts.Acknowledged); err != nil {
			return fmt.Errorf("game master bootstrap (%s): %w", step.purpose, err)
		}
	}
	return nil
}

// Replay restores the agent context after a restart.
func (g *GameMaster) Replay(records []session.AuditRecord) error {
	return g.agent.Replay(records)
}

// Instruct asks for the command batch answering userInput and resubmits
// with the parse error until the batch is valid. Failed attempts stay in
// the context. It returns the parsed batch and the accepted raw text.
func (g *GameMaster) Instruct(ctx context.Context, sequence int, userInput string, existing command.Names) ([]command.Command, string, error) {
	var (
		cmds []command.Command
		raw  string
	)
	msg := chat.ChatMessage{Role: chat.ChatRoleUser, Content: prompts.TurnInstruction(userInput)}
	purpose := session.PurposeInstruction

	err := g.policy.Do(ctx, func(attempt int) error {
		out, err := g.agent.Generate(ctx, sequence, purpose, msg)
		if err != nil {
			return retry.Permanent(err)
		}
		parsed, err := command.Parse(out, existing)
		if err != nil {
			g.logger.Info("Game master output rejected", "sequence", sequence, "attempt", attempt, "error", err)
			g.logger.Debug("Rejected output", "output", out)
			msg = chat.ChatMessage{Role: chat.ChatRoleUser, Content: prompts.Correction(err)}
			purpose = session.PurposeCorrection
			return err
		}
		cmds, raw = parsed, out
		return nil
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			g.logger.Warn("Game master correction loop exhausted", "sequence", sequence, "attempts", exhausted.Attempts)
		}
		return nil, "", err
	}
	return cmds, raw, nil
}

// Note tells the agent what the player saw for this turn.
func (g *GameMaster) Note(ctx context.Context, sequence int, display string) error {
	return g.agent.AddSystem(ctx, sequence, session.PurposeNote, prompts.MasterNote(display))
}
