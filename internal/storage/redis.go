package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/gm-engine/internal/retry"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/redis/go-redis/v9"
)

const (
	sessionsIndexKey = "sessions"
	commitRetries    = 3
)

var agentKinds = []session.AgentKind{session.AgentGameMaster, session.AgentNarrator, session.AgentDialogue}

// RedisStore implements Store on Redis. A session is a JSON value plus
// JSON lists for its characters, turns and per-agent audit streams.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis store; redisURL is host:port.
func NewRedisStore(redisURL string, logger *slog.Logger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})
	return NewRedisStoreWithClient(rdb, logger)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func sessionKey(id uuid.UUID) string    { return "session:" + id.String() }
func charactersKey(id uuid.UUID) string { return sessionKey(id) + ":characters" }
func turnsKey(id uuid.UUID) string      { return sessionKey(id) + ":turns" }
func auditSeqKey(id uuid.UUID) string   { return sessionKey(id) + ":audit_seq" }
func auditKey(id uuid.UUID, agent session.AgentKind) string {
	return sessionKey(id) + ":audit:" + string(agent)
}

// Health and lifecycle methods

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStore) WaitForConnection(ctx context.Context) error {
	policy := retry.Policy{
		MaxAttempts: 30,
		Delay:       2 * time.Second,
		Label:       "redis did not become available",
	}
	return policy.Do(ctx, func(attempt int) error {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", attempt)
			return err
		}
		r.logger.Info("Redis connection established")
		return nil
	})
}

// Session operations

func (r *RedisStore) CreateSession(ctx context.Context, s *session.Session) error {
	if s == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := r.client.SetNX(ctx, sessionKey(s.ID), data, 0).Result()
	if err != nil {
		r.logger.Error("Failed to save session", "session_id", s.ID, "error", err)
		return fmt.Errorf("failed to save session: %w", err)
	}
	if !created {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	member := redis.Z{Score: float64(s.CreatedAt.UnixNano()), Member: s.ID.String()}
	if err := r.client.ZAdd(ctx, sessionsIndexKey, member).Err(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadSession(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	return loadSession(ctx, r.client, id)
}

// redisReader is satisfied by both the client and a watching transaction.
type redisReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

func loadSession(ctx context.Context, c redisReader, id uuid.UUID) (*session.Session, error) {
	data, err := c.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) ListSessions(ctx context.Context) ([]*session.Session, error) {
	ids, err := r.client.ZRange(ctx, sessionsIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]*session.Session, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			r.logger.Warn("Skipping malformed session id in index", "id", raw)
			continue
		}
		s, err := r.LoadSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	keys := []string{sessionKey(id), charactersKey(id), turnsKey(id), auditSeqKey(id)}
	for _, agent := range agentKinds {
		keys = append(keys, auditKey(id, agent))
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, sessionsIndexKey, id.String())
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to delete session", "session_id", id, "error", err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Cast and turn operations

func (r *RedisStore) ListCharacters(ctx context.Context, id uuid.UUID) ([]session.Character, error) {
	return listJSON[session.Character](ctx, r.client, charactersKey(id))
}

func (r *RedisStore) CommitTurn(ctx context.Context, id uuid.UUID, commit *session.TurnCommit) (*Committed, error) {
	var out *Committed
	txf := func(tx *redis.Tx) error {
		s, err := loadSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if s == nil {
			return ErrSessionNotFound
		}
		chars, err := listJSON[session.Character](ctx, tx, charactersKey(id))
		if err != nil {
			return err
		}
		turnCount, err := tx.LLen(ctx, turnsKey(id)).Result()
		if err != nil {
			return fmt.Errorf("failed to count turns: %w", err)
		}

		out, err = prepareCommit(chars, int(turnCount), maxCharacterID(chars)+1, commit)
		if err != nil {
			return err
		}

		newChars := make([]interface{}, 0, len(out.Characters))
		for _, ch := range out.Characters {
			data, err := json.Marshal(ch)
			if err != nil {
				return fmt.Errorf("failed to marshal character: %w", err)
			}
			newChars = append(newChars, data)
		}
		turnData, err := json.Marshal(out.Turn)
		if err != nil {
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		var sessionData []byte
		if at := endedAt(out.Turn); at != nil {
			s.EndedAt = at
			if sessionData, err = json.Marshal(s); err != nil {
				return fmt.Errorf("failed to marshal session: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(newChars) > 0 {
				pipe.RPush(ctx, charactersKey(id), newChars...)
			}
			pipe.RPush(ctx, turnsKey(id), turnData)
			if sessionData != nil {
				pipe.Set(ctx, sessionKey(id), sessionData, 0)
			}
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= commitRetries; attempt++ {
		err := r.client.Watch(ctx, txf, sessionKey(id), charactersKey(id), turnsKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Warn("Turn commit raced, retrying", "session_id", id, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: concurrent writers on session %s", ErrSequenceConflict, id)
}

func (r *RedisStore) ListTurns(ctx context.Context, id uuid.UUID) ([]session.Turn, error) {
	return listJSON[session.Turn](ctx, r.client, turnsKey(id))
}

func (r *RedisStore) LoadTurn(ctx context.Context, id uuid.UUID, sequence int) (*session.Turn, error) {
	if sequence < 1 {
		return nil, nil
	}
	data, err := r.client.LIndex(ctx, turnsKey(id), int64(sequence-1)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load turn: %w", err)
	}
	var t session.Turn
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
	}
	return &t, nil
}

func (r *RedisStore) ActiveCharacters(ctx context.Context, id uuid.UUID, sequence int) ([]session.Character, error) {
	t, err := r.LoadTurn(ctx, id, sequence)
	if err != nil || t == nil {
		return nil, err
	}
	chars, err := r.ListCharacters(ctx, id)
	if err != nil {
		return nil, err
	}
	return pickCharacters(chars, t.ActiveCharacterIDs), nil
}

// Audit operations

func (r *RedisStore) AppendAudit(ctx context.Context, id uuid.UUID, rec *session.AuditRecord) error {
	exists, err := r.client.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}
	if rec == nil {
		return fmt.Errorf("audit record is required")
	}
	if !rec.Agent.Valid() {
		return fmt.Errorf("invalid agent %q", rec.Agent)
	}

	seq, err := r.client.Incr(ctx, auditSeqKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate audit id: %w", err)
	}
	if err := prepareAudit(rec, seq); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if err := r.client.RPush(ctx, auditKey(id, rec.Agent), data).Err(); err != nil {
		r.logger.Error("Failed to append audit record", "session_id", id, "agent", rec.Agent, "error", err)
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (r *RedisStore) ListAudit(ctx context.Context, id uuid.UUID, agent session.AgentKind) ([]session.AuditRecord, error) {
	return listJSON[session.AuditRecord](ctx, r.client, auditKey(id, agent))
}

func listJSON[T any](ctx context.Context, c redisReader, key string) ([]T, error) {
	raw, err := c.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		var v T
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s entry: %w", key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
