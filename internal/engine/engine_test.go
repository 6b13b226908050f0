package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/gamemaster"
	"github.com/jwebster45206/gm-engine/internal/retry"
	"github.com/jwebster45206/gm-engine/internal/services"
	"github.com/jwebster45206/gm-engine/internal/storage"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/command"
	"github.com/jwebster45206/gm-engine/pkg/preset"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/jwebster45206/gm-engine/pkg/speech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	createAda = "Create character command\nAda\nfemale\nA blacksmith with soot on her hands.\nSelect character command\nAda\ngreets the player"
	selectAda = "Select character command\nAda\nhands over a horseshoe"
)

type fixture struct {
	store    *storage.MemoryStore
	gm       *services.MockLLMAPI
	narrator *services.MockLLMAPI
	dialogue *services.MockLLMAPI
	manager  *Manager
}

func newFixture(t *testing.T, tagged bool) *fixture {
	t.Helper()
	f := &fixture{
		store:    storage.NewMemoryStore(),
		gm:       services.NewMockLLMAPI(),
		narrator: services.NewMockLLMAPI(),
		dialogue: services.NewMockLLMAPI(),
	}
	svcs := services.AgentServices{
		session.AgentGameMaster: f.gm,
		session.AgentNarrator:   f.narrator,
		session.AgentDialogue:   f.dialogue,
	}
	opts := Options{
		Tagged:              tagged,
		GMMaxCorrections:    3,
		NarratorMaxAttempts: 3,
		DialogueMaxAttempts: 5,
		Sleep:               retry.NoSleep,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.manager = NewManager(f.store, svcs, nil, opts, logger)
	return f
}

func (f *fixture) create(t *testing.T) *Game {
	t.Helper()
	g, err := f.manager.Create(context.Background(), session.New("A village at the edge of a forest.", "Wren, a wandering bard.", "English", "You arrive at dusk."))
	require.NoError(t, err)
	return g
}

func lastMessages(t *testing.T, llm *services.MockLLMAPI) []chat.ChatMessage {
	t.Helper()
	call, ok := llm.LastChatCall()
	require.True(t, ok)
	return call.Messages
}

func TestCreate_PrimesAgentsWithoutGeneration(t *testing.T) {
	f := newFixture(t, false)
	g := f.create(t)
	ctx := context.Background()

	gmRecords, err := f.store.ListAudit(ctx, g.Session().ID, session.AgentGameMaster)
	require.NoError(t, err)
	assert.Len(t, gmRecords, 3)
	narratorRecords, err := f.store.ListAudit(ctx, g.Session().ID, session.AgentNarrator)
	require.NoError(t, err)
	assert.Len(t, narratorRecords, 1)

	assert.Zero(t, f.gm.ChatCallCount())
	assert.Zero(t, f.narrator.ChatCallCount())
	assert.Equal(t, 1, g.NextSequence())
	assert.Equal(t, StateAwaitingInput, g.State())
}

func TestCreate_InvalidSession(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.manager.Create(context.Background(), session.New("", "Wren", "English", ""))
	assert.Error(t, err)
}

func TestTurn_CommitsCharactersAndTurn(t *testing.T) {
	f := newFixture(t, false)
	g := f.create(t)
	ctx := context.Background()
	id := g.Session().ID

	f.gm.QueueResponses(createAda)
	f.narrator.QueueResponses("A woman with sooty hands looks up from the anvil and nods at you.")

	out, err := f.manager.Turn(ctx, id, "I walk into the smithy.")
	require.NoError(t, err)
	assert.Equal(t, &Outcome{
		Sequence:    1,
		Message:     "A woman with sooty hands looks up from the anvil and nods at you.",
		Status:      StatusContinuing,
		ArtifactKey: "turn-0001",
	}, out)

	chars, err := f.store.ListCharacters(ctx, id)
	require.NoError(t, err)
	require.Len(t, chars, 1)
	assert.Equal(t, "Ada", chars[0].Name)
	assert.Equal(t, session.GenderFemale, chars[0].Gender)

	active, err := f.store.ActiveCharacters(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, chars, active)

	turn, err := f.store.LoadTurn(ctx, id, 1)
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, createAda, turn.MasterOutput)
	assert.Equal(t, "I walk into the smithy.", turn.UserInput)
	assert.False(t, turn.Ended)

	// The narrator sees the summary and the active roster.
	prompt := lastMessages(t, f.narrator)
	narration := prompt[len(prompt)-1].Content
	assert.Contains(t, narration, "Ada: A blacksmith with soot on her hands.")
	assert.Contains(t, narration, "Game Master's output: A new character appears: Ada.")

	// The game master is told what the player saw.
	gmRecords, err := f.store.ListAudit(ctx, id, session.AgentGameMaster)
	require.NoError(t, err)
	note := gmRecords[len(gmRecords)-1]
	assert.Equal(t, session.PurposeNote, note.Purpose)
	assert.Nil(t, note.Response)
	assert.Contains(t, note.Request.Content, out.Message)
}

func TestTurn_SecondTurnSeesExistingCharacters(t *testing.T) {
	f := newFixture(t, false)
	g := f.create(t)
	ctx := context.Background()

	f.gm.QueueResponses(createAda, selectAda)
	f.narrator.QueueResponses("Ada nods.", "Ada hands you a horseshoe.")

	_, err := f.manager.Turn(ctx, g.Session().ID, "Hello.")
	require.NoError(t, err)
	out, err := f.manager.Turn(ctx, g.Session().ID, "Do you have anything for luck?")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Sequence)

	active, err := f.store.ActiveCharacters(ctx, g.Session().ID, 2)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].ID)
}

// play runs two turns. With reload set, the second turn runs on a game
// rebuilt from the store instead of the live one.
func play(t *testing.T, reload bool) (gm, narrator []chat.ChatMessage) {
	t.Helper()
	f := newFixture(t, false)
	g := f.create(t)
	ctx := context.Background()

	f.gm.QueueResponses("this is not a command", createAda, selectAda)
	f.narrator.QueueResponses("Ada nods.", "Ada hands you a horseshoe.")

	_, err := g.Turn(ctx, "Hello.")
	require.NoError(t, err)
	if reload {
		g, err = f.manager.Load(ctx, g.Session().ID)
		require.NoError(t, err)
	}
	_, err = g.Turn(ctx, "Anything for luck?")
	require.NoError(t, err)
	return lastMessages(t, f.gm), lastMessages(t, f.narrator)
}

func TestReplay_MatchesLiveContext(t *testing.T) {
	liveGM, liveNarrator := play(t, false)
	replayGM, replayNarrator := play(t, true)

	assert.Equal(t, liveGM, replayGM)
	assert.Equal(t, liveNarrator, replayNarrator)

	// rules, world, player, bad output + correction, note, next request
	assert.Len(t, liveGM, 3*2+2*2+1+1)
	assert.Equal(t, chat.ChatRoleSystem, liveGM[0].Role)
}

func TestTurn_CorrectionExhaustedCommitsNothing(t *testing.T) {
	f := newFixture(t, false)
	g := f.create(t)
	ctx := context.Background()
	f.gm.QueueResponses("hello", "hello", "hello", "hello")

	_, err := f.manager.Turn(ctx, g.Session().ID, "I sing.")
	require.Error(t, err)
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, gamemaster.TooManyFormattingErrors, exhausted.Label)
	var perr *command.ParseError
	assert.ErrorAs(t, err, &perr)

	assert.Equal(t, 4, f.gm.ChatCallCount())
	assert.Zero(t, f.narrator.ChatCallCount())
	turns, err := f.store.ListTurns(ctx, g.Session().ID)
	require.NoError(t, err)
	assert.Empty(t, turns)

	f.gm.QueueResponses("Describe environment command\nThe fire crackles.")
	f.narrator.QueueResponses("The fire crackles.")
	out, err := f.manager.Turn(ctx, g.Session().ID, "I sing again.")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sequence)
}

func TestTurn_RenderFailureCommitsNothing(t *testing.T) {
	f := newFixture(t, false)
	g := f.create(t)
	ctx := context.Background()
	f.gm.QueueResponses("Describe environment command\nRain.")
	f.narrator.QueueError(errors.New("upstream unavailable"))

	_, err := g.Turn(ctx, "I wait.")
	require.Error(t, err)
	assert.Equal(t, StateAwaitingInput, g.State())
	turns, err := f.store.ListTurns(ctx, g.Session().ID)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestTurn_CommitFailureJournalsNoNote(t *testing.T) {
	f := newFixture(t, false)
	g := f.create(t)
	ctx := context.Background()
	id := g.Session().ID

	// Another writer takes sequence 1 first.
	_, err := f.store.CommitTurn(ctx, id, &session.TurnCommit{
		Turn: session.Turn{Sequence: 1, UserInput: "elsewhere", Display: "elsewhere"},
	})
	require.NoError(t, err)

	f.gm.QueueResponses("Describe environment command\nRain.")
	f.narrator.QueueResponses("Rain falls on the square.")

	_, err = g.Turn(ctx, "I wait.")
	require.ErrorIs(t, err, storage.ErrSequenceConflict)

	gmRecords, err := f.store.ListAudit(ctx, id, session.AgentGameMaster)
	require.NoError(t, err)
	for _, rec := range gmRecords {
		assert.NotEqual(t, session.PurposeNote, rec.Purpose)
	}
}

func TestTurn_OffTopic(t *testing.T) {
	f := newFixture(t, false)
	g := f.create(t)
	f.gm.QueueResponses("Off-topic input command")

	out, err := f.manager.Turn(context.Background(), g.Session().ID, "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Input is off-topic", out.Message)
	assert.Equal(t, StatusContinuing, out.Status)
	assert.Zero(t, f.narrator.ChatCallCount())
}

func TestTurn_PlayerDeathEndsSession(t *testing.T) {
	f := newFixture(t, false)
	g := f.create(t)
	ctx := context.Background()
	id := g.Session().ID

	f.gm.QueueResponses("Describe environment command\nThe bridge gives way.\nPlayer death command")
	f.narrator.QueueResponses("The bridge gives way beneath you. Darkness.")

	out, err := f.manager.Turn(ctx, id, "I cross the bridge.")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, out.Status)
	narration := lastMessages(t, f.narrator)
	assert.Contains(t, narration[len(narration)-1].Content, "The player character has died. The session has ended.")

	s, err := f.store.LoadSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, s.IsEnded())

	gmCalls, narratorCalls := f.gm.ChatCallCount(), f.narrator.ChatCallCount()
	_, err = f.manager.Turn(ctx, id, "I get up.")
	assert.ErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, gmCalls, f.gm.ChatCallCount())
	assert.Equal(t, narratorCalls, f.narrator.ChatCallCount())
}

func TestTurn_UnknownSession(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.manager.Turn(context.Background(), uuid.New(), "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.manager.Segments(context.Background(), uuid.New(), 1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTurn_SerialisedPerSession(t *testing.T) {
	f := newFixture(t, false)
	g := f.create(t)
	f.gm.DefaultMessage = "Describe environment command\nWind in the trees."

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs []int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.manager.Turn(context.Background(), g.Session().ID, "I listen.")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seqs = append(seqs, out.Sequence)
			mu.Unlock()
		}()
	}
	wg.Wait()
	sort.Ints(seqs)
	assert.Equal(t, []int{1, 2, 3, 4}, seqs)
}

func TestSegments_Tagged(t *testing.T) {
	f := newFixture(t, true)
	g := f.create(t)
	ctx := context.Background()

	f.gm.QueueResponses(createAda)
	f.narrator.QueueResponses(`Ada wipes her hands { [Ada]; "Welcome, traveller." } and turns back to the forge.`)

	out, err := f.manager.Turn(ctx, g.Session().ID, "Hello.")
	require.NoError(t, err)
	assert.Equal(t, `Ada wipes her hands "Welcome, traveller." and turns back to the forge.`, out.Message)

	segs, err := f.manager.Segments(ctx, g.Session().ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []speech.Segment{
		{Speaker: speech.Narrator, Text: "Ada wipes her hands"},
		{Speaker: "Ada", Text: `"Welcome, traveller."`},
		{Speaker: speech.Narrator, Text: "and turns back to the forge."},
	}, segs)
	assert.Zero(t, f.dialogue.ChatCallCount())
}

func TestSegments_Plain(t *testing.T) {
	f := newFixture(t, false)
	g := f.create(t)
	ctx := context.Background()

	f.gm.QueueResponses(createAda)
	f.narrator.QueueResponses(`Ada looks up. "Welcome, traveller." She returns to the forge.`)
	f.dialogue.QueueResponses("Speaker==Ada\nText==\"Welcome, traveller.\"")

	_, err := f.manager.Turn(ctx, g.Session().ID, "Hello.")
	require.NoError(t, err)

	segs, err := f.manager.Segments(ctx, g.Session().ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []speech.Segment{
		{Speaker: speech.Narrator, Text: "Ada looks up."},
		{Speaker: "Ada", Text: `"Welcome, traveller."`},
		{Speaker: speech.Narrator, Text: "She returns to the forge."},
	}, segs)

	records, err := f.store.ListAudit(ctx, g.Session().ID, session.AgentDialogue)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Sequence)

	_, err = f.manager.Segments(ctx, g.Session().ID, 7)
	assert.ErrorIs(t, err, ErrTurnNotFound)
}

func TestCreateFromPreset(t *testing.T) {
	f := newFixture(t, false)
	catalog := preset.NewCatalog()
	require.NoError(t, catalog.Add(&preset.File{
		Worlds: []preset.World{{ID: "harbor", Name: "Harbor", Description: "A smuggler's harbor.", Characters: []string{"mara"}}},
		Characters: []preset.Character{{
			ID: "mara", Name: "Mara", Description: "Mara, a dock worker.",
			InitialMessages: map[string]string{"English": "Gulls scream overhead.", "Russian": "Над головой кричат чайки."},
		}},
	}))
	f.manager.presets = catalog

	g, err := f.manager.CreateFromPreset(context.Background(), "harbor", "mara", "ru")
	require.NoError(t, err)
	assert.Equal(t, "Russian", g.Session().Language)
	assert.Equal(t, "Над головой кричат чайки.", g.Session().InitialMessage)
	assert.Equal(t, "A smuggler's harbor.", g.Session().WorldDescription)

	_, err = f.manager.CreateFromPreset(context.Background(), "harbor", "nobody", "en")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, false)
	g := f.create(t)
	ctx := context.Background()
	require.NoError(t, f.manager.Delete(ctx, g.Session().ID))
	_, err := f.manager.Load(ctx, g.Session().ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
