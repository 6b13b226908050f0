package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/engine"
	"github.com/jwebster45206/gm-engine/internal/retry"
	"github.com/jwebster45206/gm-engine/internal/services"
	"github.com/jwebster45206/gm-engine/internal/services/events"
	"github.com/jwebster45206/gm-engine/internal/services/queue"
	"github.com/jwebster45206/gm-engine/internal/storage"
	"github.com/jwebster45206/gm-engine/internal/worker"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/preset"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const createAda = "Create character command\nAda\nfemale\nA blacksmith with soot on her hands.\nSelect character command\nAda\ngreets the player"

type fixture struct {
	store    *storage.MemoryStore
	gm       *services.MockLLMAPI
	narrator *services.MockLLMAPI
	dialogue *services.MockLLMAPI
	manager  *engine.Manager
	async    *Async
	mr       *miniredis.Miniredis
	handler  *SessionHandler
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, withQueue bool) *fixture {
	t.Helper()
	logger := testLogger()
	f := &fixture{
		store:    storage.NewMemoryStore(),
		gm:       services.NewMockLLMAPI(),
		narrator: services.NewMockLLMAPI(),
		dialogue: services.NewMockLLMAPI(),
	}
	catalog := preset.NewCatalog()
	require.NoError(t, catalog.Add(&preset.File{
		Worlds: []preset.World{{ID: "harbor", Name: "Harbor", Description: "A smuggler's harbor.", Characters: []string{"mara"}}},
		Characters: []preset.Character{{
			ID: "mara", Name: "Mara", Description: "Mara, a dock worker.",
			InitialMessages: map[string]string{"English": "Gulls scream overhead."},
		}},
	}))
	f.manager = engine.NewManager(f.store, services.AgentServices{
		session.AgentGameMaster: f.gm,
		session.AgentNarrator:   f.narrator,
		session.AgentDialogue:   f.dialogue,
	}, catalog, engine.Options{GMMaxCorrections: 3, NarratorMaxAttempts: 3, DialogueMaxAttempts: 5, Sleep: retry.NoSleep}, logger)

	processor := worker.NewTurnProcessor(f.manager, logger)
	if withQueue {
		f.mr = miniredis.RunT(t)
		client, err := queue.NewClient(context.Background(), f.mr.Addr(), logger)
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })
		f.async = &Async{
			Queue:       queue.NewTurnQueue(client),
			Results:     queue.NewResults(client),
			Broadcaster: events.NewBroadcaster(client.GetRedisClient(), logger),
		}
		processor.WithSessionLocks(queue.NewSessionLocks(client, queue.DefaultLockTTL))
	}

	turns := NewTurnHandler(processor, f.store, f.async, logger)
	f.handler = NewSessionHandler(f.manager, f.store, turns, logger)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) create(t *testing.T) uuid.UUID {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{
		WorldDescription:  "A village at the edge of a forest.",
		PlayerDescription: "Wren, a wandering bard.",
		Language:          "en",
		InitialMessage:    "You arrive at dusk.",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestSessions_Create(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{
		WorldDescription:  "A village at the edge of a forest.",
		PlayerDescription: "Wren, a wandering bard.",
		Language:          "ru",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var view SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.NotEqual(t, uuid.Nil, view.ID)
	assert.Equal(t, "Russian", view.Language)
	assert.Equal(t, 1, view.NextSequence)
	assert.Empty(t, view.Characters)
	assert.Zero(t, f.gm.ChatCallCount())
}

func TestSessions_CreateRejectsBadInput(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{PlayerDescription: "Wren"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeError(t, rec))

	rec = f.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{PresetWorld: "harbor", PresetCharacter: "nobody"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessions_CreateFromPreset(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{PresetWorld: "harbor", PresetCharacter: "mara"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "A smuggler's harbor.", view.WorldDescription)
	assert.Equal(t, "Gulls scream overhead.", view.InitialMessage)
	assert.Equal(t, "English", view.Language)
}

func TestSessions_ReadListDelete(t *testing.T) {
	f := newFixture(t, false)
	id := f.create(t)

	rec := f.do(t, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	rec = f.do(t, http.MethodGet, "/v1/sessions/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "You arrive at dusk.", view.InitialMessage)
	assert.Zero(t, view.Turns)

	rec = f.do(t, http.MethodDelete, "/v1/sessions/"+id.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/sessions/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessions_BadPaths(t *testing.T) {
	f := newFixture(t, false)
	id := f.create(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"bad id", http.MethodGet, "/v1/sessions/not-a-uuid", http.StatusBadRequest},
		{"unknown subresource", http.MethodGet, "/v1/sessions/" + id.String() + "/inventory", http.StatusNotFound},
		{"bad sequence", http.MethodGet, "/v1/sessions/" + id.String() + "/turns/zero/segments", http.StatusBadRequest},
		{"put session", http.MethodPut, "/v1/sessions/" + id.String(), http.StatusMethodNotAllowed},
		{"patch collection", http.MethodPatch, "/v1/sessions", http.StatusMethodNotAllowed},
		{"unknown session", http.MethodGet, "/v1/sessions/" + uuid.NewString() + "/characters", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestTurns_PlaySync(t *testing.T) {
	f := newFixture(t, false)
	id := f.create(t)
	f.gm.QueueResponses(createAda)
	f.narrator.QueueResponses("A woman with sooty hands looks up from the anvil.")

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/turns", chat.TurnRequest{Message: "I walk into the smithy."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp chat.TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, chat.TurnResponse{
		SessionID: id,
		Sequence:  1,
		Message:   "A woman with sooty hands looks up from the anvil.",
	}, resp)

	rec = f.do(t, http.MethodGet, "/v1/sessions/"+id.String()+"/turns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var turns []session.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turns))
	require.Len(t, turns, 1)
	assert.Equal(t, createAda, turns[0].MasterOutput)

	rec = f.do(t, http.MethodGet, "/v1/sessions/"+id.String()+"/characters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chars []session.Character
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chars))
	require.Len(t, chars, 1)
	assert.Equal(t, "Ada", chars[0].Name)

	rec = f.do(t, http.MethodGet, "/v1/sessions/"+id.String(), nil)
	var view SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 1, view.Turns)
	assert.Equal(t, 2, view.NextSequence)
}

func TestTurns_PlayErrors(t *testing.T) {
	f := newFixture(t, false)
	id := f.create(t)

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/turns", chat.TurnRequest{Message: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/sessions/"+uuid.NewString()+"/turns", chat.TurnRequest{Message: "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.gm.QueueResponses("hello", "hello", "hello", "hello")
	rec = f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/turns", chat.TurnRequest{Message: "I sing."})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	f.gm.QueueResponses("Describe environment command\nThe bridge gives way.\nPlayer death command")
	f.narrator.QueueResponses("The bridge gives way beneath you.")
	rec = f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/turns", chat.TurnRequest{Message: "I cross the bridge."})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp chat.TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Ended)

	rec = f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/turns", chat.TurnRequest{Message: "I get up."})
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.gm.SetChatError(assert.AnError)
	other := f.create(t)
	rec = f.do(t, http.MethodPost, "/v1/sessions/"+other.String()+"/turns", chat.TurnRequest{Message: "hello"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decodeError(t, rec))
}

func TestTurns_PlaySyncRejectedWhileLocked(t *testing.T) {
	f := newFixture(t, true)
	id := f.create(t)
	require.NoError(t, f.mr.Set(queue.LockKey(id), "worker-1"))

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/turns", chat.TurnRequest{Message: "I walk into the smithy."})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeError(t, rec), "busy")
	assert.Zero(t, f.gm.ChatCallCount())

	f.mr.Del(queue.LockKey(id))
	f.gm.QueueResponses(createAda)
	f.narrator.QueueResponses("A woman with sooty hands looks up from the anvil.")
	rec = f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/turns", chat.TurnRequest{Message: "I walk into the smithy."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, f.mr.Exists(queue.LockKey(id)))
}

func TestTurns_AsyncRequiresQueue(t *testing.T) {
	f := newFixture(t, false)
	id := f.create(t)
	rec := f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/turns", chat.TurnRequest{Message: "hello", Async: true})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTurns_PlayAsync(t *testing.T) {
	f := newFixture(t, true)
	id := f.create(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/turns", chat.TurnRequest{Message: "hello", Async: true})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp chat.TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RequestID)
	assert.Zero(t, f.gm.ChatCallCount())

	depth, err := f.async.Queue.RequestQueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	queued, err := f.async.Queue.DequeueRequest(ctx)
	require.NoError(t, err)
	require.NotNil(t, queued)
	assert.Equal(t, resp.RequestID, queued.RequestID)
	assert.Equal(t, "hello", queued.Message)

	res, err := f.async.Results.Load(ctx, resp.RequestID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, queue.ResultQueued, res.Status)

	requests := NewRequestHandler(f.async.Results, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/requests/"+resp.RequestID, nil)
	poll := httptest.NewRecorder()
	requests.ServeHTTP(poll, req)
	require.Equal(t, http.StatusOK, poll.Code)
	var polled queue.Result
	require.NoError(t, json.Unmarshal(poll.Body.Bytes(), &polled))
	assert.Equal(t, id, polled.SessionID)

	req = httptest.NewRequest(http.MethodGet, "/v1/requests/missing", nil)
	poll = httptest.NewRecorder()
	requests.ServeHTTP(poll, req)
	assert.Equal(t, http.StatusNotFound, poll.Code)
}

func TestTurns_Segments(t *testing.T) {
	f := newFixture(t, false)
	id := f.create(t)
	f.gm.QueueResponses(createAda)
	f.narrator.QueueResponses(`Ada looks up. "Welcome, traveller." She returns to the forge.`)
	f.dialogue.QueueResponses("Speaker==Ada\nText==\"Welcome, traveller.\"")

	rec := f.do(t, http.MethodPost, "/v1/sessions/"+id.String()+"/turns", chat.TurnRequest{Message: "Hello."})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/sessions/"+id.String()+"/turns/1/segments", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SegmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Sequence)
	require.Len(t, resp.Segments, 3)
	assert.Equal(t, "Ada", resp.Segments[1].Speaker)
	assert.Equal(t, `"Welcome, traveller."`, resp.Segments[1].Text)

	rec = f.do(t, http.MethodGet, "/v1/sessions/"+id.String()+"/turns/9/segments", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTurns_SegmentsAsync(t *testing.T) {
	f := newFixture(t, true)
	id := f.create(t)

	rec := f.do(t, http.MethodGet, "/v1/sessions/"+id.String()+"/turns/1/segments?async=true", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	queued, err := f.async.Queue.DequeueRequest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, queued)
	assert.Equal(t, 1, queued.Sequence)
	assert.Zero(t, f.dialogue.ChatCallCount())
}
