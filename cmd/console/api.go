package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/preset"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/jwebster45206/gm-engine/pkg/speech"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// sessionView mirrors the API's session representation.
type sessionView struct {
	session.Session
	Characters   []session.Character `json:"characters"`
	Turns        int                 `json:"turns"`
	NextSequence int                 `json:"next_sequence,omitempty"`
}

type createSessionRequest struct {
	PresetWorld     string `json:"preset_world"`
	PresetCharacter string `json:"preset_character"`
	Language        string `json:"language,omitempty"`
}

type segmentsResponse struct {
	Segments []speech.Segment `json:"segments"`
}

func testConnection(client *http.Client, baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

// call sends a request and decodes a JSON reply into out when the status
// matches want.
func call(client *http.Client, method, url string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
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
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != want {
		var errorResp ErrorResponse
		if err := json.Unmarshal(data, &errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(data))
		}
		return fmt.Errorf("%s", errorResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func listWorlds(client *http.Client, baseURL string) ([]preset.World, error) {
	var worlds []preset.World
	err := call(client, http.MethodGet, baseURL+"/v1/presets", nil, http.StatusOK, &worlds)
	return worlds, err
}

func listCharacters(client *http.Client, baseURL, worldID string) ([]preset.Character, error) {
	var chars []preset.Character
	err := call(client, http.MethodGet, fmt.Sprintf("%s/v1/presets/%s/characters", baseURL, worldID), nil, http.StatusOK, &chars)
	return chars, err
}

func createSession(client *http.Client, baseURL, worldID, characterID, lang string) (*sessionView, error) {
	var view sessionView
	req := createSessionRequest{PresetWorld: worldID, PresetCharacter: characterID, Language: lang}
	if err := call(client, http.MethodPost, baseURL+"/v1/sessions", req, http.StatusCreated, &view); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &view, nil
}

func getSession(client *http.Client, baseURL string, id uuid.UUID) (*sessionView, error) {
	var view sessionView
	if err := call(client, http.MethodGet, fmt.Sprintf("%s/v1/sessions/%s", baseURL, id), nil, http.StatusOK, &view); err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &view, nil
}

func playTurn(client *http.Client, baseURL string, id uuid.UUID, message string) (*chat.TurnResponse, error) {
	var resp chat.TurnResponse
	url := fmt.Sprintf("%s/v1/sessions/%s/turns", baseURL, id)
	if err := call(client, http.MethodPost, url, chat.TurnRequest{Message: message}, http.StatusOK, &resp); err != nil {
		return nil, fmt.Errorf("turn failed: %w", err)
	}
	return &resp, nil
}

func getSegments(client *http.Client, baseURL string, id uuid.UUID, sequence int) ([]speech.Segment, error) {
	var resp segmentsResponse
	url := fmt.Sprintf("%s/v1/sessions/%s/turns/%d/segments", baseURL, id, sequence)
	if err := call(client, http.MethodGet, url, nil, http.StatusOK, &resp); err != nil {
		return nil, fmt.Errorf("failed to get segments: %w", err)
	}
	return resp.Segments, nil
}
