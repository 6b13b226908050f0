package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/gm-engine/pkg/chat"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIService implements LLMService for any OpenAI-compatible chat
// completions endpoint (OpenAI, Venice, OpenRouter, Groq).
type OpenAIService struct {
	apiKey      string
	modelName   string
	baseURL     string
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

type OpenAIOption func(*OpenAIService)

func WithBaseURL(baseURL string) OpenAIOption {
	return func(s *OpenAIService) {
		if u := strings.TrimSpace(baseURL); u != "" {
			s.baseURL = u
		}
	}
}

func WithHTTPClient(httpClient *http.Client) OpenAIOption {
	return func(s *OpenAIService) {
		s.httpClient = httpClient
	}
}

func WithTemperature(t float64) OpenAIOption {
	return func(s *OpenAIService) {
		s.temperature = t
	}
}

type openAIChatRequest struct {
	Model       string             `json:"model"`
	Messages    []chat.ChatMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int              `json:"index"`
		Message      chat.ChatMessage `json:"message"`
		FinishReason string           `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func NewOpenAIService(apiKey, modelName string, logger *slog.Logger, opts ...OpenAIOption) *OpenAIService {
	s := &OpenAIService{
		apiKey:      apiKey,
		modelName:   modelName,
		baseURL:     defaultOpenAIBaseURL,
		temperature: 0.7,
		httpClient:  &http.Client{Timeout: 90 * time.Second},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitModel is a no-op; hosted models need no preparation.
func (s *OpenAIService) InitModel(ctx context.Context, modelName string) error {
	return nil
}

func (s *OpenAIService) chatURL() string {
	base := strings.TrimRight(s.baseURL, "/")
	if strings.HasSuffix(base, "/v1") || strings.HasSuffix(base, "/api/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

func (s *OpenAIService) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	reqBody, err := json.Marshal(openAIChatRequest{
		Model:       s.modelName,
		Messages:    messages,
		Temperature: s.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := s.chatURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: url, Body: string(body)}
	}

	var payload openAIChatResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("API error: %s", payload.Error.Message)
	}
	if len(payload.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	s.logger.Debug("OpenAI-compatible completion", "model", payload.Model, "finish_reason", payload.Choices[0].FinishReason)

	return &chat.ChatResponse{
		Message: payload.Choices[0].Message.Content,
	}, nil
}
