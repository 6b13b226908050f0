package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// storeFactories builds every Store implementation against fresh backing state.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"redis": func() Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return NewRedisStoreWithClient(client, testLogger())
		},
		"sqlite": func() Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "gm.db"), testLogger())
			require.NoError(t, err)
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, st Store)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			st := factory()
			defer func() { _ = st.Close() }()
			fn(t, st)
		})
	}
}

func newTestSession(t *testing.T, st Store) *session.Session {
	t.Helper()
	s := session.New("A city of knights.", "An exiled knight.", "English", "You arrive.")
	require.NoError(t, st.CreateSession(context.Background(), s))
	return s
}

func TestStore_Sessions(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.Ping(ctx))

		s := newTestSession(t, st)
		assert.Error(t, st.CreateSession(ctx, s), "duplicate session id")
		assert.Error(t, st.CreateSession(ctx, &session.Session{ID: uuid.New()}), "invalid session")

		loaded, err := st.LoadSession(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, s.WorldDescription, loaded.WorldDescription)
		assert.Equal(t, "You arrive.", loaded.InitialMessage)
		assert.False(t, loaded.IsEnded())

		missing, err := st.LoadSession(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, missing)

		other := newTestSession(t, st)
		all, err := st.ListSessions(ctx)
		require.NoError(t, err)
		ids := []uuid.UUID{}
		for _, sess := range all {
			ids = append(ids, sess.ID)
		}
		assert.ElementsMatch(t, []uuid.UUID{s.ID, other.ID}, ids)
	})
}

func TestStore_CommitTurn(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := newTestSession(t, st)

		out, err := st.CommitTurn(ctx, s.ID, &session.TurnCommit{
			Turn: session.Turn{Sequence: 1, UserInput: "I greet the smith.", MasterOutput: "raw", Narrative: "n", Display: "d"},
			NewCharacters: []session.Character{
				{Name: "Ada", Gender: session.GenderFemale, Description: "A blacksmith."},
				{Name: "Bram", Gender: session.GenderMale, Description: "Her apprentice."},
			},
			ActiveNames: []string{"Bram", "Ada", "Bram"},
		})
		require.NoError(t, err)
		require.Len(t, out.Characters, 2)
		ada, bram := out.Characters[0], out.Characters[1]
		assert.NotZero(t, ada.ID)
		assert.NotEqual(t, ada.ID, bram.ID)
		assert.Equal(t, []int64{bram.ID, ada.ID}, out.Turn.ActiveCharacterIDs)

		chars, err := st.ListCharacters(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, chars, 2)
		assert.Equal(t, "Ada", chars[0].Name)
		assert.Equal(t, session.GenderFemale, chars[0].Gender)

		active, err := st.ActiveCharacters(ctx, s.ID, 1)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, "Bram", active[0].Name)
		assert.Equal(t, "Ada", active[1].Name)

		// Sequence must be count(turns)+1.
		_, err = st.CommitTurn(ctx, s.ID, &session.TurnCommit{Turn: session.Turn{Sequence: 1}})
		assert.ErrorIs(t, err, ErrSequenceConflict)
		_, err = st.CommitTurn(ctx, s.ID, &session.TurnCommit{Turn: session.Turn{Sequence: 3}})
		assert.ErrorIs(t, err, ErrSequenceConflict)

		// A rejected commit writes nothing.
		_, err = st.CommitTurn(ctx, s.ID, &session.TurnCommit{
			Turn:          session.Turn{Sequence: 2},
			NewCharacters: []session.Character{{Name: "Cora", Gender: session.GenderFemale}},
			ActiveNames:   []string{"Nobody"},
		})
		assert.ErrorIs(t, err, ErrUnknownCharacter)
		_, err = st.CommitTurn(ctx, s.ID, &session.TurnCommit{
			Turn:          session.Turn{Sequence: 2},
			NewCharacters: []session.Character{{Name: "Ada", Gender: session.GenderFemale}},
		})
		assert.ErrorIs(t, err, ErrDuplicateCharacter)
		chars, err = st.ListCharacters(ctx, s.ID)
		require.NoError(t, err)
		assert.Len(t, chars, 2)

		// A final turn ends the session.
		_, err = st.CommitTurn(ctx, s.ID, &session.TurnCommit{
			Turn:        session.Turn{Sequence: 2, UserInput: "I jump.", Display: "You fall.", Ended: true},
			ActiveNames: []string{"Ada"},
		})
		require.NoError(t, err)

		turns, err := st.ListTurns(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, 1, turns[0].Sequence)
		assert.Equal(t, "I greet the smith.", turns[0].UserInput)
		assert.Equal(t, []int64{ada.ID}, turns[1].ActiveCharacterIDs)
		assert.True(t, turns[1].Ended)

		turn, err := st.LoadTurn(ctx, s.ID, 2)
		require.NoError(t, err)
		require.NotNil(t, turn)
		assert.Equal(t, "You fall.", turn.Display)

		none, err := st.LoadTurn(ctx, s.ID, 3)
		require.NoError(t, err)
		assert.Nil(t, none)

		loaded, err := st.LoadSession(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, loaded.IsEnded())

		_, err = st.CommitTurn(ctx, uuid.New(), &session.TurnCommit{Turn: session.Turn{Sequence: 1}})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestStore_Audit(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := newTestSession(t, st)

		records := []session.AuditRecord{
			{Agent: session.AgentGameMaster, Purpose: session.PurposeRules,
				Request:  chat.ChatMessage{Role: chat.ChatRoleSystem, Content: "rules"},
				Response: &chat.ChatMessage{Role: chat.ChatRoleAgent, Content: "Understood"}},
			{Agent: session.AgentNarrator, Purpose: session.PurposeStyle,
				Request:  chat.ChatMessage{Role: chat.ChatRoleSystem, Content: "style"},
				Response: &chat.ChatMessage{Role: chat.ChatRoleAgent, Content: "Ready"}},
			{Agent: session.AgentGameMaster, Purpose: session.PurposeNote, Sequence: 1,
				Request: chat.ChatMessage{Role: chat.ChatRoleSystem, Content: "note"}},
		}
		for i := range records {
			require.NoError(t, st.AppendAudit(ctx, s.ID, &records[i]))
			assert.NotZero(t, records[i].ID)
		}

		gm, err := st.ListAudit(ctx, s.ID, session.AgentGameMaster)
		require.NoError(t, err)
		require.Len(t, gm, 2)
		assert.Equal(t, "rules", gm[0].Request.Content)
		require.NotNil(t, gm[0].Response)
		assert.Equal(t, "Understood", gm[0].Response.Content)
		assert.Equal(t, session.PurposeNote, gm[1].Purpose)
		assert.Equal(t, 1, gm[1].Sequence)
		assert.Nil(t, gm[1].Response)
		assert.Less(t, gm[0].ID, gm[1].ID)

		dialogue, err := st.ListAudit(ctx, s.ID, session.AgentDialogue)
		require.NoError(t, err)
		assert.Empty(t, dialogue)

		err = st.AppendAudit(ctx, uuid.New(), &session.AuditRecord{Agent: session.AgentNarrator})
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.Error(t, st.AppendAudit(ctx, s.ID, &session.AuditRecord{Agent: "bard"}))
	})
}

func TestStore_DeleteSessionCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := newTestSession(t, st)
		_, err := st.CommitTurn(ctx, s.ID, &session.TurnCommit{
			Turn:          session.Turn{Sequence: 1},
			NewCharacters: []session.Character{{Name: "Ada", Gender: session.GenderFemale}},
			ActiveNames:   []string{"Ada"},
		})
		require.NoError(t, err)
		require.NoError(t, st.AppendAudit(ctx, s.ID, &session.AuditRecord{
			Agent: session.AgentGameMaster, Request: chat.ChatMessage{Role: chat.ChatRoleUser, Content: "hi"},
		}))

		require.NoError(t, st.DeleteSession(ctx, s.ID))

		loaded, err := st.LoadSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Nil(t, loaded)
		chars, err := st.ListCharacters(ctx, s.ID)
		require.NoError(t, err)
		assert.Empty(t, chars)
		turns, err := st.ListTurns(ctx, s.ID)
		require.NoError(t, err)
		assert.Empty(t, turns)
		audit, err := st.ListAudit(ctx, s.ID, session.AgentGameMaster)
		require.NoError(t, err)
		assert.Empty(t, audit)
	})
}

func TestMemoryStore_PingError(t *testing.T) {
	st := NewMemoryStore()
	st.SetPingError(assert.AnError)
	assert.ErrorIs(t, st.Ping(context.Background()), assert.AnError)
	st.SetPingError(nil)
	assert.NoError(t, st.Ping(context.Background()))
}
