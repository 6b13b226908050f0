package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL is how long a session lock survives its holder. Holders
// extend it every third of the TTL while a request runs.
const DefaultLockTTL = time.Minute

// ErrSessionBusy is returned when another process holds the session lock.
var ErrSessionBusy = errors.New("session is busy with another turn")

var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// SessionLocks serializes work on a session across API and worker
// processes.
type SessionLocks struct {
	client *Client
	ttl    time.Duration
}

func NewSessionLocks(client *Client, ttl time.Duration) *SessionLocks {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &SessionLocks{client: client, ttl: ttl}
}

func LockKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("session-lock:%s", sessionID.String())
}

// Acquire takes the lock for owner and keeps extending it until release is
// called. ok is false when someone else holds it.
func (l *SessionLocks) Acquire(ctx context.Context, sessionID uuid.UUID, owner string) (release func(), ok bool, err error) {
	key := LockKey(sessionID)
	ok, err = l.client.rdb.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil || !ok {
		return nil, ok, err
	}

	keepCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-keepCtx.Done():
				return
			case <-ticker.C:
				n, err := extendLockScript.Run(keepCtx, l.client.rdb, []string{key}, owner, l.ttl.Milliseconds()).Int()
				if err != nil && keepCtx.Err() == nil {
					l.client.logger.Error("Failed to extend session lock", "error", err, "session_id", sessionID.String())
				} else if err == nil && n == 0 {
					l.client.logger.Warn("Session lock lost", "session_id", sessionID.String(), "owner", owner)
					return
				}
			}
		}
	}()

	release = func() {
		stop()
		<-done
		// fresh context so a cancelled request does not leave the lock behind
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseLockScript.Run(ctx, l.client.rdb, []string{key}, owner).Err(); err != nil {
			l.client.logger.Error("Failed to release session lock", "error", err, "session_id", sessionID.String())
		}
	}
	return release, true, nil
}
