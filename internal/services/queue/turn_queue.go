package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwebster45206/gm-engine/pkg/queue"
	"github.com/redis/go-redis/v9"
)

const requestsKey = "requests"

// TurnQueue is the global FIFO of turn and segmentation requests shared
// by all workers.
type TurnQueue struct {
	client *Client
}

func NewTurnQueue(client *Client) *TurnQueue {
	return &TurnQueue{client: client}
}

// EnqueueRequest validates a request and appends it to the queue.
func (q *TurnQueue) EnqueueRequest(ctx context.Context, req *queue.Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}
	if err := q.client.rdb.RPush(ctx, requestsKey, data).Err(); err != nil {
		q.client.logger.Error("Failed to enqueue request", "error", err, "request_id", req.RequestID)
		return fmt.Errorf("failed to enqueue request: %w", err)
	}
	q.client.logger.Debug("Enqueued request", "request_id", req.RequestID, "type", req.Type, "session_id", req.SessionID.String())
	return nil
}

// DequeueRequest removes and returns the next request.
// Returns nil if queue is empty
func (q *TurnQueue) DequeueRequest(ctx context.Context) (*queue.Request, error) {
	result, err := q.client.rdb.LPop(ctx, requestsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}
	req, err := queue.FromJSON([]byte(result))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// BlockingDequeueRequest waits up to timeout for a request. It returns nil
// when the timeout passes or ctx is done.
func (q *TurnQueue) BlockingDequeueRequest(ctx context.Context, timeout time.Duration) (*queue.Request, error) {
	result, err := q.client.rdb.BLPop(ctx, timeout, requestsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPop result: %v", result)
	}
	req, err := queue.FromJSON([]byte(result[1]))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// Peek returns up to limit queued requests without removing them; limit
// <= 0 returns all.
func (q *TurnQueue) Peek(ctx context.Context, limit int) ([]*queue.Request, error) {
	end := int64(limit - 1)
	if limit <= 0 {
		end = -1
	}
	items, err := q.client.rdb.LRange(ctx, requestsKey, 0, end).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to peek requests: %w", err)
	}
	out := make([]*queue.Request, 0, len(items))
	for _, item := range items {
		req, err := queue.FromJSON([]byte(item))
		if err != nil {
			q.client.logger.Warn("Skipping malformed queued request", "error", err)
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// RequestQueueDepth returns the number of requests in the global queue
func (q *TurnQueue) RequestQueueDepth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, requestsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get request queue depth: %w", err)
	}
	return int(count), nil
}
