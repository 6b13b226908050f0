package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/pkg/session"
)

type memorySession struct {
	session    session.Session
	characters []session.Character
	turns      []session.Turn
	audit      []session.AuditRecord
}

// MemoryStore keeps everything in process. It backs tests and single
// process development runs.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*memorySession
	pingError error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*memorySession)}
}

// SetPingError configures Ping to fail with err; nil restores success.
func (m *MemoryStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, s *session.Session) error {
	if s == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = &memorySession{session: *s}
	return nil
}

func (m *MemoryStore) LoadSession(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	s := ms.session
	return &s, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session.Session, 0, len(m.sessions))
	for _, ms := range m.sessions {
		s := ms.session
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) ListCharacters(ctx context.Context, id uuid.UUID) ([]session.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return append([]session.Character(nil), ms.characters...), nil
}

func (m *MemoryStore) CommitTurn(ctx context.Context, id uuid.UUID, commit *session.TurnCommit) (*Committed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	out, err := prepareCommit(ms.characters, len(ms.turns), maxCharacterID(ms.characters)+1, commit)
	if err != nil {
		return nil, err
	}
	ms.characters = append(ms.characters, out.Characters...)
	ms.turns = append(ms.turns, out.Turn)
	if at := endedAt(out.Turn); at != nil {
		ms.session.EndedAt = at
	}
	return out, nil
}

func (m *MemoryStore) ListTurns(ctx context.Context, id uuid.UUID) ([]session.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return append([]session.Turn(nil), ms.turns...), nil
}

func (m *MemoryStore) LoadTurn(ctx context.Context, id uuid.UUID, sequence int) (*session.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[id]
	if !ok || sequence < 1 || sequence > len(ms.turns) {
		return nil, nil
	}
	t := ms.turns[sequence-1]
	return &t, nil
}

func (m *MemoryStore) ActiveCharacters(ctx context.Context, id uuid.UUID, sequence int) ([]session.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[id]
	if !ok || sequence < 1 || sequence > len(ms.turns) {
		return nil, nil
	}
	return pickCharacters(ms.characters, ms.turns[sequence-1].ActiveCharacterIDs), nil
}

func (m *MemoryStore) AppendAudit(ctx context.Context, id uuid.UUID, rec *session.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if err := prepareAudit(rec, int64(len(ms.audit)+1)); err != nil {
		return err
	}
	ms.audit = append(ms.audit, *rec)
	return nil
}

func (m *MemoryStore) ListAudit(ctx context.Context, id uuid.UUID, agent session.AgentKind) ([]session.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	var out []session.AuditRecord
	for _, rec := range ms.audit {
		if rec.Agent == agent {
			out = append(out, rec)
		}
	}
	return out, nil
}
