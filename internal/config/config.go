package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jwebster45206/gm-engine/pkg/session"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"

	NarrativePlain  = "plain"
	NarrativeTagged = "tagged"
)

type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	Environment  string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevelName string `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel     slog.Level
	WorkerID     string `env:"WORKER_ID"`

	// Storage
	RedisURL     string `env:"REDIS_URL" envDefault:"localhost:6379"` // host:port
	StoreDriver  string `env:"STORE_DRIVER" envDefault:"redis"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"gm-engine.db"`
	DataDir      string `env:"DATA_DIR" envDefault:"./data"`
	QueueEnabled bool   `env:"QUEUE_ENABLED" envDefault:"false"` // accept async turns through the Redis queue

	// LLM defaults, overridable per agent
	LLMProvider      string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	ModelName        string `env:"MODEL_NAME"`
	GMProvider       string `env:"GM_PROVIDER"`
	GMModel          string `env:"GM_MODEL"`
	NarratorProvider string `env:"NARRATOR_PROVIDER"`
	NarratorModel    string `env:"NARRATOR_MODEL"`
	DialogueProvider string `env:"DIALOGUE_PROVIDER"`
	DialogueModel    string `env:"DIALOGUE_MODEL"`

	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	VeniceAPIKey    string `env:"VENICE_API_KEY"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY"`
	OllamaURL       string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`

	// Turn pipeline
	NarrativeMode       string        `env:"NARRATIVE_MODE" envDefault:"plain"`
	GMMaxCorrections    int           `env:"GM_MAX_CORRECTIONS" envDefault:"3"`
	GMRetryDelay        time.Duration `env:"GM_RETRY_DELAY" envDefault:"1s"`
	NarratorMaxAttempts int           `env:"NARRATOR_MAX_ATTEMPTS" envDefault:"3"`
	DialogueMaxAttempts int           `env:"DIALOGUE_MAX_ATTEMPTS" envDefault:"5"`
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	cfg.NarrativeMode = strings.ToLower(cfg.NarrativeMode)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q (supported: memory, redis, sqlite)", c.StoreDriver)
	}
	switch c.NarrativeMode {
	case NarrativePlain, NarrativeTagged:
	default:
		return fmt.Errorf("invalid NARRATIVE_MODE %q (supported: plain, tagged)", c.NarrativeMode)
	}
	if c.GMMaxCorrections < 0 {
		return fmt.Errorf("GM_MAX_CORRECTIONS cannot be negative")
	}
	if c.NarratorMaxAttempts < 1 || c.DialogueMaxAttempts < 1 {
		return fmt.Errorf("NARRATOR_MAX_ATTEMPTS and DIALOGUE_MAX_ATTEMPTS must be at least 1")
	}
	if c.GMRetryDelay < 0 {
		return fmt.Errorf("GM_RETRY_DELAY cannot be negative")
	}
	return nil
}

// AgentModel is the provider and model one agent talks to.
type AgentModel struct {
	Provider string
	Model    string
}

// Agent resolves the provider and model for an agent kind, falling back
// to LLM_PROVIDER and MODEL_NAME.
func (c *Config) Agent(kind session.AgentKind) AgentModel {
	m := AgentModel{Provider: c.LLMProvider, Model: c.ModelName}
	var provider, model string
	switch kind {
	case session.AgentGameMaster:
		provider, model = c.GMProvider, c.GMModel
	case session.AgentNarrator:
		provider, model = c.NarratorProvider, c.NarratorModel
	case session.AgentDialogue:
		provider, model = c.DialogueProvider, c.DialogueModel
	}
	if provider != "" {
		m.Provider = provider
	}
	if model != "" {
		m.Model = model
	}
	m.Provider = strings.ToLower(m.Provider)
	return m
}

// TaggedNarrative reports whether the narrator should emit speech tags.
func (c *Config) TaggedNarrative() bool {
	return c.NarrativeMode == NarrativeTagged
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
