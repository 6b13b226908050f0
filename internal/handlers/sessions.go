package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/engine"
	"github.com/jwebster45206/gm-engine/internal/storage"
	"github.com/jwebster45206/gm-engine/pkg/session"
)

// Sessions creates and deletes games. engine.Manager implements it.
type Sessions interface {
	Create(ctx context.Context, s *session.Session) (*engine.Game, error)
	CreateFromPreset(ctx context.Context, worldID, characterID, lang string) (*engine.Game, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// CreateSessionRequest starts a session either from free descriptions or
// from a preset world and character.
type CreateSessionRequest struct {
	WorldDescription  string `json:"world_description,omitempty"`
	PlayerDescription string `json:"player_description,omitempty"`
	InitialMessage    string `json:"initial_message,omitempty"`
	Language          string `json:"language,omitempty"`

	PresetWorld     string `json:"preset_world,omitempty"`
	PresetCharacter string `json:"preset_character,omitempty"`
}

// SessionView is a session with its cast and history size.
type SessionView struct {
	*session.Session
	Characters   []session.Character `json:"characters"`
	Turns        int                 `json:"turns"`
	NextSequence int                 `json:"next_sequence,omitempty"`
}

// SessionHandler serves everything under /v1/sessions.
type SessionHandler struct {
	sessions Sessions
	store    storage.Store
	turns    *TurnHandler
	logger   *slog.Logger
}

func NewSessionHandler(sessions Sessions, store storage.Store, turns *TurnHandler, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		store:    store,
		turns:    turns,
		logger:   logger,
	}
}

// ServeHTTP routes:
// GET    /v1/sessions                             - list sessions
// POST   /v1/sessions                             - create a session
// GET    /v1/sessions/{id}                        - session with characters
// DELETE /v1/sessions/{id}                        - delete a session
// GET    /v1/sessions/{id}/characters             - characters in creation order
// GET    /v1/sessions/{id}/turns                  - committed turns
// POST   /v1/sessions/{id}/turns                  - play a turn
// GET    /v1/sessions/{id}/turns/{seq}/segments   - speaker segments of a turn
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions"), "/")
	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: GET, POST")
		}
		return
	}

	parts := strings.Split(path, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		h.logger.Warn("Invalid session ID", "id", parts[0], "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid session ID format")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.handleRead(w, r, id)
		case http.MethodDelete:
			h.handleDelete(w, r, id)
		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: GET, DELETE")
		}
	case len(parts) == 2 && parts[1] == "characters":
		if r.Method != http.MethodGet {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
			return
		}
		h.handleCharacters(w, r, id)
	case len(parts) == 2 && parts[1] == "turns":
		switch r.Method {
		case http.MethodGet:
			h.turns.List(w, r, id)
		case http.MethodPost:
			h.turns.Play(w, r, id)
		default:
			writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: GET, POST")
		}
	case len(parts) == 4 && parts[1] == "turns" && parts[3] == "segments":
		seq, err := strconv.Atoi(parts[2])
		if err != nil || seq < 1 {
			writeError(w, h.logger, http.StatusBadRequest, "Turn sequence must be a positive integer")
			return
		}
		if r.Method != http.MethodGet {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
			return
		}
		h.turns.Segments(w, r, id, seq)
	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found")
	}
}

func (h *SessionHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListSessions(r.Context())
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []*session.Session{}
	}
	writeJSON(w, h.logger, http.StatusOK, list)
}

func (h *SessionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}

	var (
		g   *engine.Game
		err error
	)
	if req.PresetWorld != "" || req.PresetCharacter != "" {
		g, err = h.sessions.CreateFromPreset(r.Context(), req.PresetWorld, req.PresetCharacter, req.Language)
	} else {
		s := session.New(req.WorldDescription, req.PlayerDescription, req.Language, req.InitialMessage)
		if verr := s.Validate(); verr != nil {
			writeError(w, h.logger, http.StatusBadRequest, verr.Error())
			return
		}
		g, err = h.sessions.Create(r.Context(), s)
	}
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}

	h.logger.Info("Session created", "session_id", g.Session().ID.String())
	writeJSON(w, h.logger, http.StatusCreated, SessionView{
		Session:      g.Session(),
		Characters:   []session.Character{},
		NextSequence: 1,
	})
}

func (h *SessionHandler) handleRead(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	s, err := h.store.LoadSession(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if s == nil {
		writeError(w, h.logger, http.StatusNotFound, "Session not found")
		return
	}
	chars, err := h.store.ListCharacters(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	turns, err := h.store.ListTurns(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if chars == nil {
		chars = []session.Character{}
	}
	view := SessionView{Session: s, Characters: chars, Turns: len(turns)}
	if !s.IsEnded() {
		view.NextSequence = len(turns) + 1
	}
	writeJSON(w, h.logger, http.StatusOK, view)
}

func (h *SessionHandler) handleDelete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.sessions.Delete(r.Context(), id); err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) handleCharacters(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	s, err := h.store.LoadSession(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if s == nil {
		writeError(w, h.logger, http.StatusNotFound, "Session not found")
		return
	}
	chars, err := h.store.ListCharacters(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if chars == nil {
		chars = []session.Character{}
	}
	writeJSON(w, h.logger, http.StatusOK, chars)
}
