// Package storage persists sessions, their cast, the committed turns and
// the per-agent audit journals.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/config"
	"github.com/jwebster45206/gm-engine/pkg/session"
)

var (
	// ErrSessionNotFound is returned by writes against a missing session.
	// Reads return nil, nil instead.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSequenceConflict means the turn is not the next in the session.
	ErrSequenceConflict = errors.New("turn sequence conflict")
	// ErrDuplicateCharacter means a new character reuses an existing name.
	ErrDuplicateCharacter = errors.New("character already exists")
	// ErrUnknownCharacter means an active name matches no character.
	ErrUnknownCharacter = errors.New("unknown character")
)

// Store defines the persistence contract of the engine. Lists are returned
// in insertion order.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	CreateSession(ctx context.Context, s *session.Session) error
	LoadSession(ctx context.Context, id uuid.UUID) (*session.Session, error)
	ListSessions(ctx context.Context) ([]*session.Session, error)
	// DeleteSession removes a session and everything it owns.
	DeleteSession(ctx context.Context, id uuid.UUID) error

	ListCharacters(ctx context.Context, id uuid.UUID) ([]session.Character, error)

	// CommitTurn atomically writes the new characters, the turn with its
	// active character IDs and, for a final turn, the session end marker.
	CommitTurn(ctx context.Context, id uuid.UUID, commit *session.TurnCommit) (*Committed, error)
	ListTurns(ctx context.Context, id uuid.UUID) ([]session.Turn, error)
	LoadTurn(ctx context.Context, id uuid.UUID, sequence int) (*session.Turn, error)
	// ActiveCharacters returns the characters active in the given turn.
	ActiveCharacters(ctx context.Context, id uuid.UUID, sequence int) ([]session.Character, error)

	AppendAudit(ctx context.Context, id uuid.UUID, rec *session.AuditRecord) error
	ListAudit(ctx context.Context, id uuid.UUID, agent session.AgentKind) ([]session.AuditRecord, error)
}

// Committed is what CommitTurn wrote, with store-assigned IDs filled in.
type Committed struct {
	Turn       session.Turn
	Characters []session.Character
}

// New opens the store selected by STORE_DRIVER.
func New(cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreRedis:
		return NewRedisStore(cfg.RedisURL, logger), nil
	case config.StoreSQLite:
		return OpenSQLite(cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// prepareCommit validates a commit against the current history. New
// characters get IDs from nextID upward; the returned turn carries the
// resolved active IDs.
func prepareCommit(existing []session.Character, turnCount int, nextID int64, c *session.TurnCommit) (*Committed, error) {
	if c == nil {
		return nil, fmt.Errorf("commit is required")
	}
	if c.Turn.Sequence != turnCount+1 {
		return nil, fmt.Errorf("%w: expected sequence %d, got %d", ErrSequenceConflict, turnCount+1, c.Turn.Sequence)
	}

	byName := make(map[string]int64, len(existing)+len(c.NewCharacters))
	for _, ch := range existing {
		byName[ch.Name] = ch.ID
	}

	out := &Committed{Turn: c.Turn}
	for _, ch := range c.NewCharacters {
		if _, ok := byName[ch.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCharacter, ch.Name)
		}
		ch.ID = nextID
		nextID++
		byName[ch.Name] = ch.ID
		out.Characters = append(out.Characters, ch)
	}

	seen := make(map[int64]bool, len(c.ActiveNames))
	ids := make([]int64, 0, len(c.ActiveNames))
	for _, name := range c.ActiveNames {
		id, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCharacter, name)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	out.Turn.ActiveCharacterIDs = ids
	if out.Turn.CreatedAt.IsZero() {
		out.Turn.CreatedAt = time.Now().UTC()
	}
	return out, nil
}

// pickCharacters returns the characters with the given IDs, in ids order.
func pickCharacters(chars []session.Character, ids []int64) []session.Character {
	out := make([]session.Character, 0, len(ids))
	for _, id := range ids {
		for _, ch := range chars {
			if ch.ID == id {
				out = append(out, ch)
				break
			}
		}
	}
	return out
}

func maxCharacterID(chars []session.Character) int64 {
	var max int64
	for _, ch := range chars {
		if ch.ID > max {
			max = ch.ID
		}
	}
	return max
}

func prepareAudit(rec *session.AuditRecord, id int64) error {
	if rec == nil {
		return fmt.Errorf("audit record is required")
	}
	if !rec.Agent.Valid() {
		return fmt.Errorf("invalid agent %q", rec.Agent)
	}
	rec.ID = id
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return nil
}

// endedAt is the session end marker a final turn sets.
func endedAt(t session.Turn) *time.Time {
	if !t.Ended {
		return nil
	}
	at := t.CreatedAt
	return &at
}
