package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/engine"
	"github.com/jwebster45206/gm-engine/internal/services/queue"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/speech"
)

// Turns runs turns and segmentation for a session. engine.Manager
// implements it.
type Turns interface {
	Turn(ctx context.Context, id uuid.UUID, userInput string) (*engine.Outcome, error)
	Segments(ctx context.Context, id uuid.UUID, sequence int) ([]speech.Segment, error)
}

// TurnProcessor handles the core turn logic.
// It's used by both the HTTP handler (synchronously) and the worker (asynchronously)
type TurnProcessor struct {
	turns  Turns
	locks  *queue.SessionLocks
	logger *slog.Logger
}

func NewTurnProcessor(turns Turns, logger *slog.Logger) *TurnProcessor {
	return &TurnProcessor{turns: turns, logger: logger}
}

// WithSessionLocks makes ProcessTurn and ProcessSegments hold the shared
// Redis session lock, the one queue workers take.
func (p *TurnProcessor) WithSessionLocks(locks *queue.SessionLocks) *TurnProcessor {
	p.locks = locks
	return p
}

// lock returns the release func for a session, or queue.ErrSessionBusy.
func (p *TurnProcessor) lock(ctx context.Context, sessionID uuid.UUID) (func(), error) {
	if p.locks == nil {
		return func() {}, nil
	}
	release, ok, err := p.locks.Acquire(ctx, sessionID, "api-"+uuid.New().String())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !ok {
		return nil, queue.ErrSessionBusy
	}
	return release, nil
}

// ProcessTurn runs one player message and returns the committed result.
func (p *TurnProcessor) ProcessTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	release, err := p.lock(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	return p.runTurn(ctx, req)
}

// runTurn is ProcessTurn for callers already holding the session lock.
func (p *TurnProcessor) runTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	out, err := p.turns.Turn(ctx, req.SessionID, req.Message)
	if err != nil {
		p.logger.Error("Turn failed", "session_id", req.SessionID.String(), "error", err)
		return nil, err
	}
	return &chat.TurnResponse{
		SessionID: req.SessionID,
		Sequence:  out.Sequence,
		Message:   out.Message,
		Ended:     out.Status == engine.StatusEnded,
	}, nil
}

// ProcessSegments attributes a committed turn to speakers.
func (p *TurnProcessor) ProcessSegments(ctx context.Context, sessionID uuid.UUID, sequence int) ([]speech.Segment, error) {
	release, err := p.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	return p.runSegments(ctx, sessionID, sequence)
}

func (p *TurnProcessor) runSegments(ctx context.Context, sessionID uuid.UUID, sequence int) ([]speech.Segment, error) {
	if sequence < 1 {
		return nil, fmt.Errorf("sequence must be positive")
	}
	segs, err := p.turns.Segments(ctx, sessionID, sequence)
	if err != nil {
		p.logger.Error("Segmentation failed", "session_id", sessionID.String(), "sequence", sequence, "error", err)
		return nil, err
	}
	return segs, nil
}
