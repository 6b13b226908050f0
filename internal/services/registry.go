package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/gm-engine/internal/config"
	"github.com/jwebster45206/gm-engine/pkg/session"
)

const veniceBaseURL = "https://api.venice.ai/api/v1"

// SupportedProviders lists the values accepted for LLM_PROVIDER and the
// per-agent provider overrides.
var SupportedProviders = []string{"anthropic", "openai", "venice", "gemini", "ollama", "mock"}

// mockDefaults keeps the mock provider usable end to end: the game master
// answers with a valid command and the narrator with plain prose.
var mockDefaults = map[session.AgentKind]string{
	session.AgentGameMaster: "Describe environment command\nNothing stirs. The road ahead is empty.",
	session.AgentNarrator:   "Nothing stirs. The road ahead is empty.",
	session.AgentDialogue:   "",
}

// AgentServices maps each agent kind to the service it talks to.
type AgentServices map[session.AgentKind]LLMService

// Registry builds LLM services from configuration. Agents that resolve to
// the same provider and model share one service.
type Registry struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	return &Registry{cfg: cfg, logger: logger}
}

// New creates a service for a provider and model.
func (r *Registry) New(ctx context.Context, provider, model string) (LLMService, error) {
	switch provider {
	case "anthropic":
		if r.cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required when using anthropic provider")
		}
		return NewAnthropicService(r.cfg.AnthropicAPIKey, model, r.logger), nil
	case "openai":
		if r.cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai API key is required when using openai provider")
		}
		return NewOpenAIService(r.cfg.OpenAIAPIKey, model, r.logger, WithBaseURL(r.cfg.OpenAIBaseURL)), nil
	case "venice":
		if r.cfg.VeniceAPIKey == "" {
			return nil, fmt.Errorf("venice API key is required when using venice provider")
		}
		return NewOpenAIService(r.cfg.VeniceAPIKey, model, r.logger, WithBaseURL(veniceBaseURL)), nil
	case "gemini":
		return NewGeminiService(ctx, r.cfg.GeminiAPIKey, model, r.logger)
	case "ollama":
		return NewOllamaService(r.cfg.OllamaURL, model, r.logger), nil
	case "mock":
		return NewMockLLMAPI(), nil
	default:
		return nil, fmt.Errorf("invalid LLM provider %q (supported: %v)", provider, SupportedProviders)
	}
}

// Init builds and initializes the services of all three agents.
func (r *Registry) Init(ctx context.Context) (AgentServices, error) {
	kinds := []session.AgentKind{session.AgentGameMaster, session.AgentNarrator, session.AgentDialogue}
	built := make(map[config.AgentModel]LLMService)
	out := make(AgentServices, len(kinds))

	for _, kind := range kinds {
		am := r.cfg.Agent(kind)
		if am.Provider == "mock" {
			mock := NewMockLLMAPI()
			mock.DefaultMessage = mockDefaults[kind]
			out[kind] = mock
			continue
		}
		if svc, ok := built[am]; ok {
			out[kind] = svc
			continue
		}

		svc, err := r.New(ctx, am.Provider, am.Model)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		if err := svc.InitModel(ctx, am.Model); err != nil {
			return nil, fmt.Errorf("failed to initialize %s model %q: %w", kind, am.Model, err)
		}
		r.logger.Info("LLM service initialized", "agent", kind, "provider", am.Provider, "model", am.Model)
		built[am] = svc
		out[kind] = svc
	}
	return out, nil
}
