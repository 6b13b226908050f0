// Package narrator turns a command summary into the prose the player reads.
package narrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/gm-engine/internal/agent"
	"github.com/jwebster45206/gm-engine/internal/retry"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/prompts"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/jwebster45206/gm-engine/pkg/speech"
)

// Rendition is one rendered turn. Narrative is stored; Display is shown.
// They differ only when speech tags are on.
type Rendition struct {
	Narrative string
	Display   string
}

// Renderer produces the narrative for a turn.
type Renderer interface {
	// Bootstrap primes the style instructions of a new session.
	Bootstrap(ctx context.Context, s *session.Session) error
	// Replay restores the context after a restart.
	Replay(records []session.AuditRecord) error
	Render(ctx context.Context, sequence int, summary, userInput string, roster session.Roster) (*Rendition, error)
}

// New returns the tagged renderer when tagged is set, otherwise the plain one.
func New(a *agent.Agent, s *session.Session, tagged bool, maxAttempts int, logger *slog.Logger) Renderer {
	b := base{
		agent:    a,
		language: session.MatchLanguage(s.Tag()),
		tagged:   tagged,
		logger:   logger,
	}
	if tagged {
		return &TaggedRenderer{base: b, policy: retry.Policy{
			MaxAttempts: maxAttempts,
			Label:       "failed to generate valid speech tags",
		}}
	}
	return &PlainRenderer{base: b}
}

type base struct {
	agent    *agent.Agent
	language int
	tagged   bool
	logger   *slog.Logger
}

func (b *base) Bootstrap(ctx context.Context, s *session.Session) error {
	start := prompts.NarratorStart(s.WorldDescription, session.LanguageName(s.Tag()), b.tagged)
	msg := chat.ChatMessage{Role: chat.ChatRoleSystem, Content: start}
	if err := b.agent.Exchange(ctx, 0, session.PurposeStyle, msg, prompts.NarratorReady); err != nil {
		return fmt.Errorf("narrator bootstrap: %w", err)
	}
	return nil
}

func (b *base) Replay(records []session.AuditRecord) error {
	return b.agent.Replay(records)
}

// offTopic answers the off-topic sentinel with the canned sentence for the
// session language. The exchange is journaled but not generated.
func (b *base) offTopic(ctx context.Context, sequence int, summary string) (*Rendition, bool, error) {
	if summary != prompts.OffTopicSentinel {
		return nil, false, nil
	}
	reply := prompts.OffTopicReply(b.language)
	msg := chat.ChatMessage{Role: chat.ChatRoleUser, Content: summary}
	if err := b.agent.Exchange(ctx, sequence, session.PurposeNarration, msg, reply); err != nil {
		return nil, true, err
	}
	return &Rendition{Narrative: reply, Display: reply}, true, nil
}

// PlainRenderer makes a single generation per turn.
type PlainRenderer struct {
	base
}

func (r *PlainRenderer) Render(ctx context.Context, sequence int, summary, userInput string, roster session.Roster) (*Rendition, error) {
	if rend, handled, err := r.offTopic(ctx, sequence, summary); handled {
		return rend, err
	}

	prompt, err := prompts.NewNarration().
		WithRoster(roster).
		WithUserInput(userInput).
		WithSummary(summary).
		Build()
	if err != nil {
		return nil, err
	}
	out, err := r.agent.Generate(ctx, sequence, session.PurposeNarration, chat.ChatMessage{Role: chat.ChatRoleUser, Content: prompt})
	if err != nil {
		return nil, err
	}
	return &Rendition{Narrative: out, Display: out}, nil
}

// TaggedRenderer requires spoken lines in speech tags naming characters of
// the roster, and retries with the rejected names listed in the request.
type TaggedRenderer struct {
	base
	policy retry.Policy
}

func (r *TaggedRenderer) Render(ctx context.Context, sequence int, summary, userInput string, roster session.Roster) (*Rendition, error) {
	if rend, handled, err := r.offTopic(ctx, sequence, summary); handled {
		return rend, err
	}

	builder := prompts.NewNarration().
		WithRoster(roster).
		WithUserInput(userInput).
		WithSummary(summary).
		WithSpeechTags(true)

	var narrative string
	err := r.policy.Do(ctx, func(attempt int) error {
		prompt, err := builder.Build()
		if err != nil {
			return retry.Permanent(err)
		}
		out, err := r.agent.Generate(ctx, sequence, session.PurposeNarration, chat.ChatMessage{Role: chat.ChatRoleUser, Content: prompt})
		if err != nil {
			return retry.Permanent(err)
		}
		if err := speech.Validate(out, roster); err != nil {
			var invalid *speech.InvalidSpeakersError
			if errors.As(err, &invalid) {
				builder.WithInvalidNames(invalid.Names)
			}
			r.logger.Info("Narration rejected", "sequence", sequence, "attempt", attempt, "error", err)
			return err
		}
		narrative = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Rendition{Narrative: narrative, Display: speech.Strip(narrative)}, nil
}
