package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jwebster45206/gm-engine/pkg/chat"
	"google.golang.org/genai"
)

const defaultGeminiTemperature = 0.7

// contentGenerator is the part of the genai client the service uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiService implements LLMService on the Gemini API.
type GeminiService struct {
	models      contentGenerator
	modelName   string
	temperature float32
	logger      *slog.Logger
}

// NewGeminiService creates a Gemini-backed service.
func NewGeminiService(ctx context.Context, apiKey, modelName string, logger *slog.Logger) (*GeminiService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiService{
		models:      client.Models,
		modelName:   modelName,
		temperature: defaultGeminiTemperature,
		logger:      logger,
	}, nil
}

// InitModel is a no-op for Gemini.
func (g *GeminiService) InitModel(ctx context.Context, modelName string) error {
	if modelName != "" {
		g.modelName = modelName
	}
	return nil
}

// Chat generates the next assistant message.
func (g *GeminiService) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	system, contents := toGeminiContents(messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no conversation messages to send")
	}

	temperature := g.temperature
	config := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	g.logger.Debug("Sending request to Gemini", "model", g.modelName, "message_count", len(contents))
	res, err := g.models.GenerateContent(ctx, g.modelName, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	text := geminiText(res)
	if text == "" {
		return nil, fmt.Errorf("no content in gemini response")
	}
	return &chat.ChatResponse{Message: text}, nil
}

// toGeminiContents maps an agent context onto a system instruction and
// user/model contents.
func toGeminiContents(messages []chat.ChatMessage) (string, []*genai.Content) {
	system, conversation := splitSystemPrompt(messages)
	contents := make([]*genai.Content, 0, len(conversation))
	for _, msg := range conversation {
		role := genai.Role(genai.RoleUser)
		if msg.Role == chat.ChatRoleAgent {
			role = genai.Role(genai.RoleModel)
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return system, contents
}

func geminiText(res *genai.GenerateContentResponse) string {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
