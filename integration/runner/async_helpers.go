package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/jwebster45206/gm-engine/pkg/speech"
)

const (
	// PollInterval is how often to check a queued request
	PollInterval = 1 * time.Second
	// TurnTimeout is max time to wait for a queued turn to complete
	TurnTimeout = 60 * time.Second
)

// SessionState is the API view of a session.
type SessionState struct {
	session.Session
	Characters   []session.Character `json:"characters"`
	Turns        int                 `json:"turns"`
	NextSequence int                 `json:"next_sequence,omitempty"`
}

// requestResult mirrors the queue's request result.
type requestResult struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// HTTPError is a non-success reply from the API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.Status, e.Body)
}

func doJSON(ctx context.Context, client *http.Client, method, url string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		data, _ := io.ReadAll(resp.Body)
		return &HTTPError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CreateSession starts a session for a suite.
func CreateSession(ctx context.Context, client *http.Client, baseURL string, suite TestSuite) (*SessionState, error) {
	body := map[string]string{
		"preset_world":       suite.PresetWorld,
		"preset_character":   suite.PresetCharacter,
		"world_description":  suite.World,
		"player_description": suite.Player,
		"initial_message":    suite.InitialMessage,
		"language":           suite.Language,
	}
	var s SessionState
	if err := doJSON(ctx, client, http.MethodPost, baseURL+"/v1/sessions", body, http.StatusCreated, &s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &s, nil
}

// GetSession retrieves the current session with its characters
func GetSession(ctx context.Context, client *http.Client, baseURL string, id uuid.UUID) (*SessionState, error) {
	var s SessionState
	if err := doJSON(ctx, client, http.MethodGet, fmt.Sprintf("%s/v1/sessions/%s", baseURL, id), nil, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// PostTurn plays a turn synchronously.
func PostTurn(ctx context.Context, client *http.Client, baseURL string, id uuid.UUID, message string) (*chat.TurnResponse, error) {
	var resp chat.TurnResponse
	url := fmt.Sprintf("%s/v1/sessions/%s/turns", baseURL, id)
	if err := doJSON(ctx, client, http.MethodPost, url, chat.TurnRequest{Message: message}, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostTurnAsync queues a turn and returns the request_id
func PostTurnAsync(ctx context.Context, client *http.Client, baseURL string, id uuid.UUID, message string) (string, error) {
	var resp chat.TurnResponse
	url := fmt.Sprintf("%s/v1/sessions/%s/turns", baseURL, id)
	if err := doJSON(ctx, client, http.MethodPost, url, chat.TurnRequest{Message: message, Async: true}, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

// PollForTurn waits until a queued turn completes or fails.
func PollForTurn(ctx context.Context, client *http.Client, baseURL, requestID string) (*chat.TurnResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, TurnTimeout)
	defer cancel()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		var res requestResult
		if err := doJSON(ctx, client, http.MethodGet, baseURL+"/v1/requests/"+requestID, nil, http.StatusOK, &res); err != nil {
			return nil, err
		}
		switch res.Status {
		case "completed":
			var resp chat.TurnResponse
			if err := json.Unmarshal(res.Data, &resp); err != nil {
				return nil, fmt.Errorf("failed to decode turn result: %w", err)
			}
			return &resp, nil
		case "failed":
			return nil, fmt.Errorf("queued turn failed: %s", res.Error)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for queued turn %s", requestID)
		case <-ticker.C:
		}
	}
}

// GetSegments fetches the speaker segments of a turn.
func GetSegments(ctx context.Context, client *http.Client, baseURL string, id uuid.UUID, sequence int) ([]speech.Segment, error) {
	var resp struct {
		Segments []speech.Segment `json:"segments"`
	}
	url := fmt.Sprintf("%s/v1/sessions/%s/turns/%d/segments", baseURL, id, sequence)
	if err := doJSON(ctx, client, http.MethodGet, url, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Segments, nil
}
