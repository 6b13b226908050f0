package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/agent"
	"github.com/jwebster45206/gm-engine/internal/config"
	"github.com/jwebster45206/gm-engine/internal/dialogue"
	"github.com/jwebster45206/gm-engine/internal/gamemaster"
	"github.com/jwebster45206/gm-engine/internal/narrator"
	"github.com/jwebster45206/gm-engine/internal/services"
	"github.com/jwebster45206/gm-engine/internal/storage"
	"github.com/jwebster45206/gm-engine/pkg/preset"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/jwebster45206/gm-engine/pkg/speech"
)

// Options tune the turn pipeline.
type Options struct {
	Tagged              bool
	GMMaxCorrections    int
	GMRetryDelay        time.Duration
	NarratorMaxAttempts int
	DialogueMaxAttempts int
	// Sleep replaces the pause between game master corrections.
	Sleep func(ctx context.Context, d time.Duration) error
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Tagged:              cfg.TaggedNarrative(),
		GMMaxCorrections:    cfg.GMMaxCorrections,
		GMRetryDelay:        cfg.GMRetryDelay,
		NarratorMaxAttempts: cfg.NarratorMaxAttempts,
		DialogueMaxAttempts: cfg.DialogueMaxAttempts,
	}
}

// Manager creates and loads games. Agent contexts are rebuilt from the
// audit journal for every operation, so any process sharing the store
// sees the same session. Operations on one session are serialised.
type Manager struct {
	store    storage.Store
	services services.AgentServices
	presets  *preset.Catalog
	opts     Options
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewManager(store storage.Store, svcs services.AgentServices, presets *preset.Catalog, opts Options, logger *slog.Logger) *Manager {
	if presets == nil {
		presets = preset.NewCatalog()
	}
	return &Manager{
		store:    store,
		services: svcs,
		presets:  presets,
		opts:     opts,
		logger:   logger,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *Manager) Presets() *preset.Catalog {
	return m.presets
}

func (m *Manager) lock(id uuid.UUID) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// newGame wires the agents of a session without touching their context.
func (m *Manager) newGame(s *session.Session, characters []session.Character, turns int) (*Game, error) {
	llm := func(kind session.AgentKind) (services.LLMService, error) {
		svc, ok := m.services[kind]
		if !ok || svc == nil {
			return nil, fmt.Errorf("no LLM service configured for %s", kind)
		}
		return svc, nil
	}
	gmLLM, err := llm(session.AgentGameMaster)
	if err != nil {
		return nil, err
	}
	narratorLLM, err := llm(session.AgentNarrator)
	if err != nil {
		return nil, err
	}
	dialogueLLM, err := llm(session.AgentDialogue)
	if err != nil {
		return nil, err
	}

	logger := m.logger.With("session_id", s.ID.String())
	master := gamemaster.New(agent.New(session.AgentGameMaster, s.ID, gmLLM, m.store, m.logger),
		m.opts.GMMaxCorrections, m.opts.GMRetryDelay, logger)
	if m.opts.Sleep != nil {
		master.WithSleep(m.opts.Sleep)
	}

	g := &Game{
		session:    s,
		store:      m.store,
		master:     master,
		renderer:   narrator.New(agent.New(session.AgentNarrator, s.ID, narratorLLM, m.store, m.logger), s, m.opts.Tagged, m.opts.NarratorMaxAttempts, logger),
		segmenter:  dialogue.NewSegmenter(agent.New(session.AgentDialogue, s.ID, dialogueLLM, m.store, m.logger), m.opts.DialogueMaxAttempts, logger),
		logger:     logger,
		state:      StateAwaitingInput,
		cast:       session.NewCast(characters),
		characters: characters,
		turns:      turns,
	}
	if s.IsEnded() {
		g.state = StateSessionEnded
	}
	return g, nil
}

// Create stores a new session and primes the game master and narrator.
func (m *Manager) Create(ctx context.Context, s *session.Session) (*Game, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	g, err := m.newGame(s, nil, 0)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		m.logger.Error("Failed to create session", "session_id", s.ID.String(), "error", err)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := m.prime(ctx, g); err != nil {
		m.logger.Error("Failed to prime session", "session_id", s.ID.String(), "error", err)
		m.discard(s.ID)
		return nil, fmt.Errorf("failed to prime session: %w", err)
	}
	m.logger.Info("Session created", "session_id", s.ID.String(), "language", s.Language)
	return g, nil
}

func (m *Manager) prime(ctx context.Context, g *Game) error {
	if err := g.master.Bootstrap(ctx, g.session); err != nil {
		return err
	}
	return g.renderer.Bootstrap(ctx, g.session)
}

// discard removes a session whose bootstrap did not complete.
func (m *Manager) discard(id uuid.UUID) {
	if err := m.store.DeleteSession(context.Background(), id); err != nil {
		m.logger.Warn("Failed to remove unprimed session", "session_id", id.String(), "error", err)
	}
}

// CreateFromPreset starts a session from a preset world and character.
func (m *Manager) CreateFromPreset(ctx context.Context, worldID, characterID, lang string) (*Game, error) {
	sel, err := m.presets.Select(worldID, characterID, lang)
	if err != nil {
		return nil, err
	}
	return m.Create(ctx, session.New(sel.World, sel.Player, sel.Language, sel.InitialMessage))
}

// Load rebuilds a game from the store, replaying each agent's journal.
func (m *Manager) Load(ctx context.Context, id uuid.UUID) (*Game, error) {
	s, err := m.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	characters, err := m.store.ListCharacters(ctx, id)
	if err != nil {
		return nil, err
	}
	turns, err := m.store.ListTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := m.newGame(s, characters, len(turns))
	if err != nil {
		return nil, err
	}

	replays := []struct {
		kind   session.AgentKind
		replay func([]session.AuditRecord) error
	}{
		{session.AgentGameMaster, g.master.Replay},
		{session.AgentNarrator, g.renderer.Replay},
		{session.AgentDialogue, g.segmenter.Replay},
	}
	for _, r := range replays {
		records, err := m.store.ListAudit(ctx, id, r.kind)
		if err != nil {
			return nil, err
		}
		if err := r.replay(records); err != nil {
			return nil, fmt.Errorf("failed to replay %s: %w", r.kind, err)
		}
	}
	return g, nil
}

// Turn runs one player input against a session.
func (m *Manager) Turn(ctx context.Context, id uuid.UUID, userInput string) (*Outcome, error) {
	unlock := m.lock(id)
	defer unlock()

	g, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.State() == StateSessionEnded {
		return nil, ErrSessionEnded
	}
	return g.Turn(ctx, userInput)
}

// Segments attributes a committed turn's narrative to speakers.
func (m *Manager) Segments(ctx context.Context, id uuid.UUID, sequence int) ([]speech.Segment, error) {
	unlock := m.lock(id)
	defer unlock()

	g, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.Segments(ctx, sequence)
}

// Delete removes a session and all it owns.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	unlock := m.lock(id)
	defer unlock()

	if err := m.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
	m.logger.Info("Session deleted", "session_id", id.String())
	return nil
}
