package services

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jwebster45206/gm-engine/internal/config"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(cfg *config.Config) *Registry {
	return NewRegistry(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistryNew(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(&config.Config{
		AnthropicAPIKey: "sk-ant",
		OpenAIAPIKey:    "sk-oai",
		OpenAIBaseURL:   "https://api.openai.com/v1",
		OllamaURL:       "http://localhost:11434",
	})

	svc, err := reg.New(ctx, "anthropic", "claude")
	require.NoError(t, err)
	assert.IsType(t, &AnthropicService{}, svc)

	svc, err = reg.New(ctx, "openai", "gpt")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIService{}, svc)

	svc, err = reg.New(ctx, "ollama", "llama3")
	require.NoError(t, err)
	assert.IsType(t, &OllamaService{}, svc)

	_, err = reg.New(ctx, "venice", "llama")
	assert.ErrorContains(t, err, "venice API key")

	_, err = reg.New(ctx, "gemini", "gemini-2.5-flash")
	assert.ErrorContains(t, err, "gemini API key")

	_, err = reg.New(ctx, "carrier-pigeon", "")
	assert.ErrorContains(t, err, "invalid LLM provider")
}

func TestRegistryInit(t *testing.T) {
	t.Run("mock agents get kind specific defaults", func(t *testing.T) {
		reg := testRegistry(&config.Config{LLMProvider: "mock"})
		agents, err := reg.Init(context.Background())
		require.NoError(t, err)
		require.Len(t, agents, 3)

		gm, ok := agents[session.AgentGameMaster].(*MockLLMAPI)
		require.True(t, ok)
		resp, err := gm.Chat(context.Background(), nil)
		require.NoError(t, err)
		assert.Contains(t, resp.Message, "Describe environment command")
		assert.NotSame(t, agents[session.AgentGameMaster], agents[session.AgentNarrator])
	})

	t.Run("agents sharing provider and model share a service", func(t *testing.T) {
		reg := testRegistry(&config.Config{
			LLMProvider:     "anthropic",
			ModelName:       "claude",
			AnthropicAPIKey: "sk-ant",
			DialogueModel:   "claude-small",
		})
		agents, err := reg.Init(context.Background())
		require.NoError(t, err)
		assert.Same(t, agents[session.AgentGameMaster], agents[session.AgentNarrator])
		assert.NotSame(t, agents[session.AgentGameMaster], agents[session.AgentDialogue])
	})

	t.Run("missing key names the agent", func(t *testing.T) {
		reg := testRegistry(&config.Config{LLMProvider: "mock", NarratorProvider: "openai"})
		_, err := reg.Init(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "narrator")
	})
}
