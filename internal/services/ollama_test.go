package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaChat(t *testing.T) {
	var got ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Off-topic input command"}}`))
	}))
	defer server.Close()

	svc := NewOllamaService(server.URL, "llama3", slog.New(slog.NewTextHandler(io.Discard, nil)))
	resp, err := svc.Chat(context.Background(), []chat.ChatMessage{
		{Role: chat.ChatRoleSystem, Content: "rules"},
		{Role: chat.ChatRoleUser, Content: "what's the weather in Paris?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Off-topic input command", resp.Message)
	assert.Equal(t, "llama3", got.Model)
	assert.False(t, got.Stream)
	assert.Len(t, got.Messages, 2)
}

func TestOllamaChat_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := NewOllamaService(server.URL, "llama3", slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := svc.Chat(context.Background(), []chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestOllamaInitModel_PullsMissingModel(t *testing.T) {
	pulled := ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"mistral"}]}`))
		case "/api/pull":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			pulled = body["name"]
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	svc := NewOllamaService(server.URL, "llama3", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, svc.InitModel(context.Background(), "llama3"))
	assert.Equal(t, "llama3", pulled)
}

func TestOllamaInitModel_AlreadyAvailable(t *testing.T) {
	pullCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/pull" {
			pullCalled = true
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
	}))
	defer server.Close()

	svc := NewOllamaService(server.URL, "llama3", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, svc.InitModel(context.Background(), "llama3"))
	assert.False(t, pullCalled)
}
