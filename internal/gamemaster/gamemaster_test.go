package gamemaster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jwebster45206/gm-engine/internal/agent"
	"github.com/jwebster45206/gm-engine/internal/retry"
	"github.com/jwebster45206/gm-engine/internal/services"
	"github.com/jwebster45206/gm-engine/internal/storage"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/command"
	"github.com/jwebster45206/gm-engine/pkg/prompts"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *storage.MemoryStore
	session *session.Session
	llm     *services.MockLLMAPI
	gm      *GameMaster
	sleeps  []time.Duration
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	f := &fixture{
		store:   storage.NewMemoryStore(),
		session: session.New("A city of knights.", "Roderick, an exiled knight.", "English", ""),
		llm:     services.NewMockLLMAPI(replies...),
	}
	require.NoError(t, f.store.CreateSession(context.Background(), f.session))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := agent.New(session.AgentGameMaster, f.session.ID, f.llm, f.store, logger)
	f.gm = New(a, 3, time.Second, logger).WithSleep(func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	})
	return f
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.gm.Bootstrap(ctx, f.session))

	records, err := f.store.ListAudit(ctx, f.session.ID, session.AgentGameMaster)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, session.PurposeRules, records[0].Purpose)
	assert.Equal(t, chat.ChatRoleSystem, records[0].Request.Role)
	assert.Contains(t, records[0].Request.Content, "Create character command")

	assert.Equal(t, chat.ChatRoleUser, records[1].Request.Role)
	assert.Contains(t, records[1].Request.Content, "A city of knights.")
	assert.Contains(t, records[2].Request.Content, "Description: Roderick, an exiled knight.")

	for _, rec := range records {
		require.NotNil(t, rec.Response)
		assert.Equal(t, prompts.Acknowledged, rec.Response.Content)
		assert.Equal(t, 0, rec.Sequence)
	}
	assert.Zero(t, f.llm.ChatCallCount(), "bootstrap must not call the model")
}

func TestInstruct_Valid(t *testing.T) {
	f := newFixture(t, "Create character command\nAda\nfemale\nA blacksmith.\nSelect character command\nAda\ngreets the player")
	cmds, raw, err := f.gm.Instruct(context.Background(), 1, "Hello?", session.Cast{})
	require.NoError(t, err)
	assert.Len(t, cmds, 2)
	assert.True(t, strings.HasPrefix(raw, "Create character command"))
	assert.Empty(t, f.sleeps)

	last, _ := f.llm.LastChatCall()
	sent := last.Messages[len(last.Messages)-1]
	assert.Equal(t, chat.ChatRoleUser, sent.Role)
	assert.True(t, strings.HasPrefix(sent.Content, "Hello?\n"))
	assert.Contains(t, sent.Content, "Never create a player character.")
}

func TestInstruct_CorrectsFormatting(t *testing.T) {
	f := newFixture(t,
		"The blacksmith waves",
		"Select character command\nGhost\nwaves",
		"Describe environment command\nSparks fly from the forge.",
	)
	ctx := context.Background()

	cmds, raw, err := f.gm.Instruct(ctx, 1, "I look around.", session.Cast{})
	require.NoError(t, err)
	assert.Equal(t, []command.Command{command.EnvironmentDescription{Description: "Sparks fly from the forge."}}, cmds)
	assert.Equal(t, "Describe environment command\nSparks fly from the forge.", raw)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, f.sleeps)

	_, calls := f.llm.GetCalls()
	require.Len(t, calls, 3)
	second := calls[1].Messages[len(calls[1].Messages)-1]
	assert.Contains(t, second.Content, "Incorrect formatting. Error: Unrecognized command 'The blacksmith waves'. Repeat using the correct format.")
	third := calls[2].Messages[len(calls[2].Messages)-1]
	assert.Contains(t, third.Content, "Character name 'Ghost' does not exist")

	// Failed attempts remain in the journal with their purpose.
	records, err := f.store.ListAudit(ctx, f.session.ID, session.AgentGameMaster)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, session.PurposeInstruction, records[0].Purpose)
	assert.Equal(t, session.PurposeCorrection, records[1].Purpose)
	assert.Equal(t, session.PurposeCorrection, records[2].Purpose)
}

func TestInstruct_TooManyFormattingErrors(t *testing.T) {
	f := newFixture(t, "bad one", "bad two", "bad three", "bad four", "Off-topic input command")
	_, _, err := f.gm.Instruct(context.Background(), 1, "hm", session.Cast{})
	require.Error(t, err)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Contains(t, err.Error(), TooManyFormattingErrors)

	var parseErr *command.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, command.ErrUnrecognizedLine, parseErr.Kind)

	assert.Equal(t, 4, f.llm.ChatCallCount())
	assert.Equal(t, 1, f.llm.Pending())
}

func TestInstruct_ModelFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.llm.QueueError(errors.New("upstream down"))
	_, _, err := f.gm.Instruct(context.Background(), 1, "hm", session.Cast{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, 1, f.llm.ChatCallCount())
	assert.Empty(t, f.sleeps)
}

func TestNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.gm.Note(ctx, 2, "The forge is warm."))

	records, err := f.store.ListAudit(ctx, f.session.ID, session.AgentGameMaster)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, chat.ChatRoleSystem, records[0].Request.Role)
	assert.Equal(t, "Narrator's output (What the user will see):\nThe forge is warm.", records[0].Request.Content)
	assert.Nil(t, records[0].Response)
	assert.Equal(t, 2, records[0].Sequence)
}
