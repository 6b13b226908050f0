package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/services/events"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readEvent reads one SSE frame and returns its event name and data line.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && name != "":
			return name, data
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEventsHandler_StreamsSessionEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	b := events.NewBroadcaster(rdb, testLogger())

	srv := httptest.NewServer(NewEventsHandler(b, testLogger()))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessionID := uuid.New()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/sessions/"+sessionID.String(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	name, _ := readEvent(t, r)
	require.Equal(t, "connected", name)

	require.NoError(t, b.PublishSessionEnded(ctx, uuid.New(), 1))
	require.NoError(t, b.PublishTurnQueued(ctx, sessionID, "req-1", "turn"))

	name, data := readEvent(t, r)
	assert.Equal(t, string(events.EventTypeTurnQueued), name)
	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, sessionID.String(), ev.SessionID)
}

func TestEventsHandler_BadRequests(t *testing.T) {
	handler := NewEventsHandler(nil, testLogger())

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"post", http.MethodPost, "/v1/events/sessions/" + uuid.NewString(), http.StatusMethodNotAllowed},
		{"wrong collection", http.MethodGet, "/v1/events/games/" + uuid.NewString(), http.StatusBadRequest},
		{"bad id", http.MethodGet, "/v1/events/sessions/nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
