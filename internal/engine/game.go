// Package engine runs turns: it takes player input through the game
// master, applies the resulting commands, renders the narrative and
// commits the turn.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jwebster45206/gm-engine/internal/dialogue"
	"github.com/jwebster45206/gm-engine/internal/gamemaster"
	"github.com/jwebster45206/gm-engine/internal/narrator"
	"github.com/jwebster45206/gm-engine/internal/storage"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/jwebster45206/gm-engine/pkg/speech"
)

var (
	ErrSessionNotFound = storage.ErrSessionNotFound
	// ErrSessionEnded is returned for any turn after the player character died.
	ErrSessionEnded = errors.New("session has ended")
	ErrTurnNotFound = errors.New("turn not found")
)

// Status tells the caller whether the session accepts further turns.
type Status string

const (
	StatusContinuing Status = "continuing"
	StatusEnded      Status = "ended"
)

// Outcome is the result of a committed turn.
type Outcome struct {
	Sequence int    `json:"sequence"`
	Message  string `json:"message"`
	Status   Status `json:"status"`
	// ArtifactKey names any media derived from this turn.
	ArtifactKey string `json:"artifact_key"`
}

// State is a step of the turn pipeline.
type State string

const (
	StateAwaitingInput         State = "awaiting_input"
	StateGeneratingInstruction State = "generating_instruction"
	StateApplyingCommands      State = "applying_commands"
	StateRendering             State = "rendering"
	StatePersisting            State = "persisting"
	StateSessionEnded          State = "session_ended"
)

// Game is one loaded session with its agents. It owns the authoritative
// cast; every collaborator receives a snapshot.
type Game struct {
	session   *session.Session
	store     storage.Store
	master    *gamemaster.GameMaster
	renderer  narrator.Renderer
	segmenter *dialogue.Segmenter
	logger    *slog.Logger

	mu         sync.Mutex
	state      State
	cast       session.Cast
	characters []session.Character // creation order
	turns      int
}

func (g *Game) Session() *session.Session {
	return g.session
}

func (g *Game) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// NextSequence is the sequence the next turn will be committed under.
func (g *Game) NextSequence() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turns + 1
}

// Characters returns the session's characters in creation order.
func (g *Game) Characters() []session.Character {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]session.Character, len(g.characters))
	copy(out, g.characters)
	return out
}

func (g *Game) transition(to State) {
	if g.state != to {
		g.logger.Debug("Turn state", "from", g.state, "to", to)
	}
	g.state = to
}

// Turn runs one player input to a committed turn. Nothing is committed
// when any step fails; the session then waits for input again.
func (g *Game) Turn(ctx context.Context, userInput string) (*Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateSessionEnded {
		return nil, ErrSessionEnded
	}
	seq := g.turns + 1
	logger := g.logger.With("sequence", seq)
	defer func() {
		if g.state != StateSessionEnded {
			g.transition(StateAwaitingInput)
		}
	}()

	g.transition(StateGeneratingInstruction)
	cmds, raw, err := g.master.Instruct(ctx, seq, userInput, g.cast)
	if err != nil {
		logger.Error("Failed to get game master instruction", "error", err)
		return nil, fmt.Errorf("turn %d: %w", seq, err)
	}

	g.transition(StateApplyingCommands)
	res := gamemaster.Resolve(cmds, g.cast)
	roster := res.Cast.Roster(res.Touched)
	logger.Debug("Commands applied", "commands", len(cmds), "created", len(res.Created),
		"active", len(roster), "off_topic", res.OffTopic, "ended", res.Ended)

	g.transition(StateRendering)
	rend, err := g.renderer.Render(ctx, seq, res.Summary, userInput, roster)
	if err != nil {
		logger.Error("Failed to render narrative", "error", err)
		return nil, fmt.Errorf("turn %d: %w", seq, err)
	}

	g.transition(StatePersisting)
	committed, err := g.store.CommitTurn(ctx, g.session.ID, &session.TurnCommit{
		Turn: session.Turn{
			Sequence:     seq,
			UserInput:    userInput,
			MasterOutput: raw,
			Narrative:    rend.Narrative,
			Display:      rend.Display,
			Ended:        res.Ended,
		},
		NewCharacters: res.Created,
		ActiveNames:   res.Touched,
	})
	if err != nil {
		logger.Error("Failed to commit turn", "error", err)
		return nil, fmt.Errorf("turn %d: %w", seq, err)
	}

	for _, ch := range committed.Characters {
		g.cast[ch.Name] = ch
		g.characters = append(g.characters, ch)
	}
	g.turns = seq

	// A failed commit must leave no note in the journal.
	if err := g.master.Note(ctx, seq, rend.Display); err != nil {
		logger.Error("Failed to journal game master note", "error", err)
	}

	out := &Outcome{
		Sequence:    seq,
		Message:     rend.Display,
		Status:      StatusContinuing,
		ArtifactKey: session.ArtifactKey(seq),
	}
	if res.Ended {
		out.Status = StatusEnded
		g.transition(StateSessionEnded)
		logger.Info("Session ended")
	}
	logger.Info("Turn committed", "status", out.Status)
	return out, nil
}

// Segments attributes the narrative of a committed turn to speakers.
// Tagged narrative is split directly; plain narrative goes through the
// dialogue segmenter with the session's full cast.
func (g *Game) Segments(ctx context.Context, sequence int) ([]speech.Segment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	turn, err := g.store.LoadTurn(ctx, g.session.ID, sequence)
	if err != nil {
		return nil, err
	}
	if turn == nil {
		return nil, fmt.Errorf("%w: %d", ErrTurnNotFound, sequence)
	}
	if speech.HasMarkup(turn.Narrative) {
		return speech.Split(turn.Narrative), nil
	}
	cast := make(session.Roster, len(g.characters))
	copy(cast, g.characters)
	return g.segmenter.Segment(ctx, sequence, turn.Narrative, cast)
}
